// Package ingest runs the upload pipeline: metadata extraction, canonical
// storage, capture event clustering and thumbnail generation.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/errors"
	"github.com/tracewild/camtrap-go/internal/events"
	"github.com/tracewild/camtrap-go/internal/logging"
	"github.com/tracewild/camtrap-go/internal/metadata"
	"github.com/tracewild/camtrap-go/internal/observability"
)

// Result summarizes one ingest run.
type Result struct {
	Ingested          int   // images persisted
	Events            int   // distinct capture events touched
	ThumbnailFailures int   // thumbnails that could not be generated
	ImageIDs          []uint // IDs of the persisted images, in input order
}

// extractor abstracts the metadata extraction step so tests can script
// exiftool's output without a subprocess.
type extractor interface {
	ExtractBatch(ctx context.Context, projectID uint, analysisFolder string, seq *metadata.Sequencer, paths []string) ([]metadata.Capture, error)
}

// Pipeline ingests a batch of uploaded photographs end to end.
type Pipeline struct {
	settings  *conf.IngestSettings
	store     datastore.Interface
	extractor extractor
	clusterer *events.Clusterer
	metrics   *observability.IngestMetrics
	logger    *slog.Logger
}

// New creates an ingest pipeline.
func New(settings *conf.IngestSettings, store datastore.Interface, metrics *observability.IngestMetrics) *Pipeline {
	allocator := events.NewAllocator(store)
	return &Pipeline{
		settings:  settings,
		store:     store,
		extractor: metadata.NewExtractor(settings),
		clusterer: events.NewClusterer(store, allocator, settings),
		metrics:   metrics,
		logger:    logging.ForService("ingest"),
	}
}

// Ingest processes the given uploaded files for one project. Files are read
// from their upload location, metadata is extracted in batches, each file is
// copied to its canonical path, and the resulting images are clustered into
// capture events. Thumbnail generation runs last and is best effort: a
// failed thumbnail is logged and counted but never fails the ingest.
func (p *Pipeline) Ingest(ctx context.Context, projectID uint, analysisFolder string, paths []string) (*Result, error) {
	if len(paths) == 0 {
		return nil, errors.ValidationError("no files to ingest")
	}
	if analysisFolder == "" {
		analysisFolder = time.Now().UTC().Format("20060102-150405")
	}

	started := time.Now()
	result := &Result{}
	var allImages []datastore.Image

	// One sequencer spans every batch of this run, so burst shots that share
	// a capture second never collide on their canonical filename even when
	// they land in different batches.
	seq := metadata.NewSequencer()

	for start := 0; start < len(paths); start += p.settings.BatchSize {
		end := min(start+p.settings.BatchSize, len(paths))

		captures, err := p.extractor.ExtractBatch(ctx, projectID, analysisFolder, seq, paths[start:end])
		if err != nil {
			p.metrics.RecordBatchFailure()
			return nil, err
		}

		images, err := p.persistBatch(ctx, projectID, analysisFolder, captures)
		if err != nil {
			return nil, err
		}
		allImages = append(allImages, images...)
	}

	assignments, err := p.clusterer.AssignEvents(ctx, projectID, allImages)
	if err != nil {
		return nil, err
	}

	result.Ingested = len(allImages)
	result.Events = distinctEvents(assignments)
	for _, img := range allImages {
		result.ImageIDs = append(result.ImageIDs, img.ID)
	}

	if p.settings.Thumbnail.Enabled {
		result.ThumbnailFailures = p.generateThumbnails(ctx, allImages)
	}

	p.metrics.RecordIngest(result.Ingested, time.Since(started))
	p.logger.Info("ingest completed",
		"project_id", projectID,
		"analysis_folder", analysisFolder,
		"images", result.Ingested,
		"events", result.Events,
		"thumbnail_failures", result.ThumbnailFailures,
		"duration_ms", time.Since(started).Milliseconds())

	return result, nil
}

// persistBatch copies each file to its canonical location and saves the
// image rows in one transaction.
func (p *Pipeline) persistBatch(ctx context.Context, projectID uint, analysisFolder string, captures []metadata.Capture) ([]datastore.Image, error) {
	images := make([]*datastore.Image, 0, len(captures))
	for i := range captures {
		c := &captures[i]
		if err := copyFile(c.SourceFile, c.SourcePath); err != nil {
			return nil, err
		}
		images = append(images, &datastore.Image{
			ProjectID:        projectID,
			CameraSerial:     c.CameraSerial,
			CapturedAt:       c.CapturedAt,
			Latitude:         c.Latitude,
			Longitude:        c.Longitude,
			OriginalFileName: c.OriginalFileName,
			FileName:         c.FileName,
			SourcePath:       c.SourcePath,
			ThumbnailPath:    c.ThumbnailPath,
			AnalysisFolder:   analysisFolder,
		})
	}

	if err := p.store.SaveImages(ctx, images); err != nil {
		return nil, err
	}

	saved := make([]datastore.Image, len(images))
	for i, img := range images {
		saved[i] = *img
	}
	return saved, nil
}

// generateThumbnails scales thumbnails for the saved images in parallel and
// returns the number of failures.
func (p *Pipeline) generateThumbnails(ctx context.Context, images []datastore.Image) int {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	failures := make(chan struct{}, len(images))
	for i := range images {
		img := images[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return nil
			}
			if err := metadata.GenerateThumbnail(img.SourcePath, img.ThumbnailPath, p.settings.Thumbnail.MaxPx); err != nil {
				p.logger.Warn("thumbnail generation failed",
					"image_id", img.ID, "source", img.SourcePath, "error", err)
				failures <- struct{}{}
			}
			return nil
		})
	}
	_ = g.Wait()
	close(failures)

	return len(failures)
}

// copyFile copies src to dst, creating parent directories. A plain copy is
// used instead of rename because uploads often sit on a different filesystem
// than the media root.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.New(fmt.Errorf("opening uploaded file: %w", err)).
			Component("ingest").
			Category(errors.CategoryFileIO).
			Context("path", src).
			Build()
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.New(fmt.Errorf("creating media directory: %w", err)).
			Component("ingest").
			Category(errors.CategoryFileIO).
			Build()
	}

	out, err := os.Create(dst)
	if err != nil {
		return errors.New(fmt.Errorf("creating media file: %w", err)).
			Component("ingest").
			Category(errors.CategoryFileIO).
			Context("path", dst).
			Build()
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.New(fmt.Errorf("copying media file: %w", err)).
			Component("ingest").
			Category(errors.CategoryFileIO).
			Context("path", dst).
			Build()
	}
	return out.Close()
}

func distinctEvents(assignments map[uint]int64) int {
	seen := make(map[int64]struct{}, len(assignments))
	for _, event := range assignments {
		seen[event] = struct{}{}
	}
	return len(seen)
}
