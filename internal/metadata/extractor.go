// Package metadata extracts normalized capture metadata from camera-trap
// photographs. It shells out to exiftool once per batch rather than once per
// file, which keeps large uploads fast on slow storage.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/errors"
	"github.com/tracewild/camtrap-go/internal/logging"
)

// UnknownSerial is recorded when an image carries no camera serial number.
const UnknownSerial = "UNKNOWN"

// Capture is the normalized metadata of one photograph.
type Capture struct {
	SourceFile       string     // path as handed to exiftool
	OriginalFileName string     // basename of the uploaded file
	CapturedAt       time.Time  // UTC, millisecond precision
	CameraSerial     string     // camera serial number, UnknownSerial if absent
	Latitude         *float64   // decimal degrees, south negative
	Longitude        *float64   // decimal degrees, west negative
	FileName         string     // canonical filename derived from CapturedAt
	SourcePath       string     // canonical storage path
	ThumbnailPath    string     // canonical thumbnail path
}

// commandRunner abstracts the exiftool invocation for testing.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Extractor invokes exiftool and normalizes its per-file records.
type Extractor struct {
	settings *conf.IngestSettings
	logger   *slog.Logger
	run      commandRunner
	clock    func() time.Time
}

// NewExtractor creates an extractor using the given ingest settings.
func NewExtractor(settings *conf.IngestSettings) *Extractor {
	return &Extractor{
		settings: settings,
		logger:   logging.ForService("metadata"),
		run:      execRunner,
		clock:    time.Now,
	}
}

// rawRecord mirrors the subset of exiftool's JSON output we consume.
type rawRecord struct {
	SourceFile       string `json:"SourceFile"`
	DateTimeOriginal string `json:"DateTimeOriginal"`
	SerialNumber     any    `json:"SerialNumber"`
	GPSLatitude      any    `json:"GPSLatitude"`
	GPSLatitudeRef   string `json:"GPSLatitudeRef"`
	GPSLongitude     any    `json:"GPSLongitude"`
	GPSLongitudeRef  string `json:"GPSLongitudeRef"`
}

// ExtractBatch runs one exiftool invocation over the given paths and returns
// one Capture per input file, in input order. seq must be shared across all
// batches of one ingest run so canonical filenames never collide between
// batches.
//
// The invocation is bounded by the configured timeout. On timeout, non-zero
// exit or unparseable output the whole batch fails: callers get a nil slice
// and an error, never a silently empty result. Per-file problems (missing or
// malformed date, missing serial) degrade to fallbacks instead of failing
// the batch.
func (e *Extractor) ExtractBatch(ctx context.Context, projectID uint, analysisFolder string, seq *Sequencer, paths []string) ([]Capture, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.settings.ExifTool.Timeout)
	defer cancel()

	args := make([]string, 0, len(paths)+8)
	args = append(args,
		"-json",
		"-DateTimeOriginal",
		"-SerialNumber",
		"-GPSLatitude", "-GPSLatitudeRef",
		"-GPSLongitude", "-GPSLongitudeRef",
	)
	args = append(args, paths...)

	started := time.Now()
	output, err := e.run(ctx, e.settings.ExifTool.Path, args...)
	if err != nil {
		category := errors.CategoryExternalTool
		if ctx.Err() != nil {
			category = errors.CategoryTimeout
		}
		return nil, errors.New(fmt.Errorf("exiftool batch failed: %w", err)).
			Component("metadata").
			Category(category).
			Context("batch_size", len(paths)).
			Timing("exiftool-batch", time.Since(started)).
			Build()
	}

	var records []rawRecord
	if err := json.Unmarshal(output, &records); err != nil {
		return nil, errors.New(fmt.Errorf("exiftool output unparseable: %w", err)).
			Component("metadata").
			Category(errors.CategoryExternalTool).
			Context("batch_size", len(paths)).
			Build()
	}
	if len(records) != len(paths) {
		// Partial output means exiftool choked mid-batch, treat the whole
		// batch as failed rather than guessing which files made it.
		return nil, errors.Newf("exiftool returned %d records for %d files", len(records), len(paths)).
			Component("metadata").
			Category(errors.CategoryExternalTool).
			Build()
	}

	// exiftool emits records in argument order, but align by SourceFile when
	// it reports one, so a reordered record cannot attach to the wrong file.
	byFile := make(map[string]*rawRecord, len(records))
	for i := range records {
		if records[i].SourceFile != "" {
			byFile[records[i].SourceFile] = &records[i]
		}
	}

	captures := make([]Capture, 0, len(paths))
	for i, path := range paths {
		rec := &records[i]
		if matched, ok := byFile[path]; ok {
			rec = matched
		}
		captures = append(captures, e.normalize(projectID, analysisFolder, path, rec, seq))
	}

	return captures, nil
}

// normalize turns one raw exiftool record into a Capture, applying the
// fallback policy for missing fields.
func (e *Extractor) normalize(projectID uint, analysisFolder, path string, rec *rawRecord, seq *Sequencer) Capture {
	capturedAt, err := parseExifTimestamp(rec.DateTimeOriginal)
	if err != nil {
		capturedAt = e.clock().UTC().Truncate(time.Millisecond)
		e.logger.Warn("missing or unparseable capture timestamp, falling back to now",
			"file", path, "raw", rec.DateTimeOriginal, "error", err)
	}

	serial := normalizeSerial(rec.SerialNumber)

	lat := parseCoordinate(rec.GPSLatitude, rec.GPSLatitudeRef)
	lon := parseCoordinate(rec.GPSLongitude, rec.GPSLongitudeRef)

	fileName := canonicalFileName(capturedAt, seq.Next(capturedAt))
	sourcePath, thumbnailPath := StoragePaths(e.settings.MediaRoot, projectID, analysisFolder, fileName)

	return Capture{
		SourceFile:       path,
		OriginalFileName: baseName(path),
		CapturedAt:       capturedAt,
		CameraSerial:     serial,
		Latitude:         lat,
		Longitude:        lon,
		FileName:         fileName,
		SourcePath:       sourcePath,
		ThumbnailPath:    thumbnailPath,
	}
}

// normalizeSerial stringifies the serial field, which exiftool may report as
// a string or a bare number.
func normalizeSerial(raw any) string {
	switch v := raw.(type) {
	case nil:
		return UnknownSerial
	case string:
		if strings.TrimSpace(v) == "" {
			return UnknownSerial
		}
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// exifTimeLayouts are tried in order when parsing DateTimeOriginal.
var exifTimeLayouts = []string{
	"2006:01:02 15:04:05.000-07:00",
	"2006:01:02 15:04:05-07:00",
	"2006:01:02 15:04:05.000",
	"2006:01:02 15:04:05",
}

// parseExifTimestamp parses exiftool's DateTimeOriginal representation into
// a UTC time with millisecond precision.
func parseExifTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, layout := range exifTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Truncate(time.Millisecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", raw)
}
