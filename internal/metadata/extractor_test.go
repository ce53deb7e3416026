package metadata

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/errors"
)

func testIngestSettings() *conf.IngestSettings {
	s := &conf.IngestSettings{
		MediaRoot: "mnt",
		BatchSize: 100,
	}
	s.ExifTool.Path = "exiftool"
	s.ExifTool.Timeout = 30 * time.Second
	return s
}

func newTestExtractor(run commandRunner) *Extractor {
	e := NewExtractor(testIngestSettings())
	e.run = run
	e.clock = func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return e
}

func TestExtractBatch(t *testing.T) {
	t.Parallel()

	output := []byte(`[
		{
			"SourceFile": "/up/IMG_0001.JPG",
			"DateTimeOriginal": "2024:05:12 09:00:00",
			"SerialNumber": "H600HG01234567",
			"GPSLatitude": "35 deg 24' 23.40\"",
			"GPSLatitudeRef": "North",
			"GPSLongitude": "128 deg 52' 51.60\"",
			"GPSLongitudeRef": "East"
		},
		{
			"SourceFile": "/up/IMG_0002.JPG",
			"DateTimeOriginal": "2024:05:12 09:02:00",
			"SerialNumber": 4567
		}
	]`)

	e := newTestExtractor(func(_ context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "exiftool", name)
		assert.Contains(t, args, "-json")
		assert.Contains(t, args, "/up/IMG_0001.JPG")
		return output, nil
	})

	captures, err := e.ExtractBatch(context.Background(), 7, "batch-01", NewSequencer(), []string{"/up/IMG_0001.JPG", "/up/IMG_0002.JPG"})
	require.NoError(t, err)
	require.Len(t, captures, 2)

	first := captures[0]
	assert.Equal(t, "IMG_0001.JPG", first.OriginalFileName)
	assert.Equal(t, time.Date(2024, 5, 12, 9, 0, 0, 0, time.UTC), first.CapturedAt)
	assert.Equal(t, "H600HG01234567", first.CameraSerial)
	require.NotNil(t, first.Latitude)
	require.NotNil(t, first.Longitude)
	assert.InDelta(t, 35.4065, *first.Latitude, 0.0001)
	assert.InDelta(t, 128.881, *first.Longitude, 0.0001)
	assert.Equal(t, "20240512-090000s1.jpg", first.FileName)
	assert.Contains(t, first.SourcePath, "source")
	assert.Contains(t, first.ThumbnailPath, "thum_20240512-090000s1.jpg")

	second := captures[1]
	assert.Equal(t, "4567", second.CameraSerial)
	assert.Nil(t, second.Latitude)
	assert.Nil(t, second.Longitude)
}

func TestExtractBatchFallbacks(t *testing.T) {
	t.Parallel()

	output := []byte(`[{"SourceFile": "/up/IMG_0003.JPG"}]`)

	e := newTestExtractor(func(context.Context, string, ...string) ([]byte, error) {
		return output, nil
	})

	captures, err := e.ExtractBatch(context.Background(), 1, "b", NewSequencer(), []string{"/up/IMG_0003.JPG"})
	require.NoError(t, err)
	require.Len(t, captures, 1)

	// Missing timestamp falls back to the clock, missing serial to UNKNOWN.
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), captures[0].CapturedAt)
	assert.Equal(t, UnknownSerial, captures[0].CameraSerial)
}

func TestExtractBatchToolFailure(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(func(context.Context, string, ...string) ([]byte, error) {
		return nil, fmt.Errorf("exit status 1")
	})

	captures, err := e.ExtractBatch(context.Background(), 1, "b", NewSequencer(), []string{"/up/a.jpg", "/up/b.jpg"})
	require.Error(t, err)
	assert.Nil(t, captures)
	assert.True(t, errors.IsCategory(err, errors.CategoryExternalTool))
}

func TestExtractBatchTimeout(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e.settings.ExifTool.Timeout = 10 * time.Millisecond

	captures, err := e.ExtractBatch(context.Background(), 1, "b", NewSequencer(), []string{"/up/a.jpg"})
	require.Error(t, err)
	assert.Nil(t, captures)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
}

func TestExtractBatchGarbledOutput(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("not json at all"), nil
	})

	_, err := e.ExtractBatch(context.Background(), 1, "b", NewSequencer(), []string{"/up/a.jpg"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryExternalTool))
}

func TestExtractBatchRecordCountMismatch(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(func(context.Context, string, ...string) ([]byte, error) {
		return []byte(`[{"SourceFile": "/up/a.jpg"}]`), nil
	})

	_, err := e.ExtractBatch(context.Background(), 1, "b", NewSequencer(), []string{"/up/a.jpg", "/up/b.jpg"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryExternalTool))
}

func TestExtractBatchSharedSequencerAcrossBatches(t *testing.T) {
	t.Parallel()

	// A burst split across two batches of one ingest run: both shots carry
	// the same capture second. With the sequencer owned by the caller the
	// second batch continues the numbering instead of restarting at s1 and
	// overwriting the first file's media.
	record := func(file string) []byte {
		return []byte(`[{"SourceFile": "` + file + `", "DateTimeOriginal": "2024:05:12 09:00:00", "SerialNumber": "CAM-A"}]`)
	}

	var call int
	e := newTestExtractor(func(_ context.Context, _ string, args ...string) ([]byte, error) {
		call++
		return record(args[len(args)-1]), nil
	})

	seq := NewSequencer()
	first, err := e.ExtractBatch(context.Background(), 1, "b", seq, []string{"/up/a.jpg"})
	require.NoError(t, err)
	second, err := e.ExtractBatch(context.Background(), 1, "b", seq, []string{"/up/b.jpg"})
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "20240512-090000s1.jpg", first[0].FileName)
	assert.Equal(t, "20240512-090000s2.jpg", second[0].FileName)
	assert.NotEqual(t, first[0].SourcePath, second[0].SourcePath)
}

func TestExtractBatchEmptyInput(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("exiftool must not run for an empty batch")
		return nil, nil
	})

	captures, err := e.ExtractBatch(context.Background(), 1, "b", NewSequencer(), nil)
	require.NoError(t, err)
	assert.Empty(t, captures)
}

func TestParseExifTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    time.Time
		wantErr bool
	}{
		{
			name: "plain local form",
			raw:  "2024:05:12 09:00:00",
			want: time.Date(2024, 5, 12, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "with offset",
			raw:  "2024:05:12 09:00:00+09:00",
			want: time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "with subseconds",
			raw:  "2024:05:12 09:00:00.250",
			want: time.Date(2024, 5, 12, 9, 0, 0, 250_000_000, time.UTC),
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "garbage", raw: "yesterday-ish", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseExifTimestamp(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestNormalizeSerial(t *testing.T) {
	t.Parallel()

	assert.Equal(t, UnknownSerial, normalizeSerial(nil))
	assert.Equal(t, UnknownSerial, normalizeSerial("   "))
	assert.Equal(t, "ABC123", normalizeSerial(" ABC123 "))
	assert.Equal(t, "4567", normalizeSerial(float64(4567)))
}
