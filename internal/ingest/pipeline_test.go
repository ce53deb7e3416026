package ingest

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/errors"
	"github.com/tracewild/camtrap-go/internal/metadata"
	"github.com/tracewild/camtrap-go/internal/observability"
)

// fakeStore implements the slice of datastore.Interface the pipeline needs.
// Unused methods panic via the embedded nil interface.
type fakeStore struct {
	datastore.Interface

	nextID   uint
	saved    []datastore.Image
	counter  int64
	assigned map[uint]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{assigned: make(map[uint]int64)}
}

func (f *fakeStore) SaveImages(_ context.Context, images []*datastore.Image) error {
	for _, img := range images {
		f.nextID++
		img.ID = f.nextID
		f.saved = append(f.saved, *img)
	}
	return nil
}

func (f *fakeStore) EventAnchors(context.Context, uint, string) ([]datastore.EventAnchor, error) {
	return nil, nil
}

func (f *fakeStore) NextEventNumber(context.Context, uint) (int64, error) {
	f.counter++
	return f.counter, nil
}

func (f *fakeStore) AssignEventNumbers(_ context.Context, assignments map[uint]int64) error {
	for id, event := range assignments {
		f.assigned[id] = event
	}
	return nil
}

// scriptedExtractor fabricates captures from a fixed upload-path schedule,
// standing in for exiftool. It consumes the caller's sequencer the way the
// real extractor does, so filename collisions across batches stay observable.
type scriptedExtractor struct {
	settings *conf.IngestSettings
	schedule map[string]time.Time
	calls    int
}

func (s *scriptedExtractor) ExtractBatch(_ context.Context, projectID uint, analysisFolder string, seq *metadata.Sequencer, paths []string) ([]metadata.Capture, error) {
	s.calls++
	captures := make([]metadata.Capture, 0, len(paths))
	for _, path := range paths {
		at := s.schedule[path]
		name := fmt.Sprintf("%ss%d.jpg", at.Format("20060102-150405"), seq.Next(at))
		sourcePath, thumbnailPath := metadata.StoragePaths(s.settings.MediaRoot, projectID, analysisFolder, name)
		captures = append(captures, metadata.Capture{
			SourceFile:       path,
			OriginalFileName: filepath.Base(path),
			CapturedAt:       at,
			CameraSerial:     "CAM-A",
			FileName:         name,
			SourcePath:       sourcePath,
			ThumbnailPath:    thumbnailPath,
		})
	}
	return captures, nil
}

type failingExtractor struct{}

func (failingExtractor) ExtractBatch(context.Context, uint, string, *metadata.Sequencer, []string) ([]metadata.Capture, error) {
	return nil, errors.Newf("exiftool batch failed").Category(errors.CategoryExternalTool).Build()
}

// writeUploadJPEG writes a decodable JPEG whose pixel width encodes its
// identity, so overwritten media is detectable by content.
func writeUploadJPEG(t *testing.T, dir, name string, width int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, image.NewRGBA(image.Rect(0, 0, width, 16)), nil))
	return path
}

func testPipelineSettings(t *testing.T, batchSize int) *conf.IngestSettings {
	t.Helper()
	settings := &conf.IngestSettings{
		MediaRoot: filepath.Join(t.TempDir(), "media"),
		BatchSize: batchSize,
	}
	settings.Clustering.GapThreshold = 5 * time.Minute
	settings.Thumbnail.Enabled = true
	settings.Thumbnail.MaxPx = 32
	return settings
}

func TestIngestEndToEnd(t *testing.T) {
	t.Parallel()

	uploads := t.TempDir()
	burstAt := time.Date(2024, 5, 12, 9, 0, 0, 0, time.UTC)
	paths := []string{
		writeUploadJPEG(t, uploads, "IMG_0001.JPG", 40),
		writeUploadJPEG(t, uploads, "IMG_0002.JPG", 48),
		writeUploadJPEG(t, uploads, "IMG_0003.JPG", 56),
	}

	// Batch size 1 puts every file into its own exiftool batch, so the
	// same-second burst pair below straddles a batch boundary.
	settings := testPipelineSettings(t, 1)
	store := newFakeStore()
	ext := &scriptedExtractor{
		settings: settings,
		schedule: map[string]time.Time{
			paths[0]: burstAt,
			paths[1]: burstAt,
			paths[2]: burstAt.Add(20 * time.Minute),
		},
	}

	p := New(settings, store, observability.NewMetrics().Ingest)
	p.extractor = ext

	result, err := p.Ingest(context.Background(), 7, "batch-01", paths)
	require.NoError(t, err)

	assert.Equal(t, 3, ext.calls)
	assert.Equal(t, 3, result.Ingested)
	assert.Len(t, result.ImageIDs, 3)
	assert.Zero(t, result.ThumbnailFailures)

	// Same-second shots from different batches keep distinct canonical names
	// and neither overwrites the other's media.
	require.Len(t, store.saved, 3)
	first, second := store.saved[0], store.saved[1]
	assert.Equal(t, "20240512-090000s1.jpg", first.FileName)
	assert.Equal(t, "20240512-090000s2.jpg", second.FileName)
	require.NotEqual(t, first.SourcePath, second.SourcePath)

	firstMedia, err := os.ReadFile(first.SourcePath)
	require.NoError(t, err)
	secondMedia, err := os.ReadFile(second.SourcePath)
	require.NoError(t, err)
	firstUpload, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	secondUpload, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, firstUpload, firstMedia)
	assert.Equal(t, secondUpload, secondMedia)

	// The burst pair clusters into one event, the late shot into another.
	assert.Equal(t, 2, result.Events)
	assert.Equal(t, store.assigned[first.ID], store.assigned[second.ID])
	assert.NotEqual(t, store.assigned[first.ID], store.assigned[store.saved[2].ID])

	// Thumbnails were generated next to the sources.
	for _, img := range store.saved {
		_, err := os.Stat(img.ThumbnailPath)
		assert.NoError(t, err, "thumbnail for %s", img.FileName)
	}
}

func TestIngestExtractionFailureAbortsRun(t *testing.T) {
	t.Parallel()

	settings := testPipelineSettings(t, 100)
	store := newFakeStore()

	p := New(settings, store, observability.NewMetrics().Ingest)
	p.extractor = failingExtractor{}

	_, err := p.Ingest(context.Background(), 1, "batch-01", []string{"/up/a.jpg"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryExternalTool))
	assert.Empty(t, store.saved)
}

func TestIngestRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	settings := &conf.IngestSettings{MediaRoot: t.TempDir(), BatchSize: 100}
	p := New(settings, nil, observability.NewMetrics().Ingest)

	_, err := p.Ingest(context.Background(), 1, "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestCopyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "upload.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg bytes"), 0o644))

	// Destination directories are created on demand.
	dst := filepath.Join(dir, "media", "7", "batch", "source", "upload.jpg")
	require.NoError(t, copyFile(src, dst))

	copied, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), copied)

	err = copyFile(filepath.Join(dir, "missing.jpg"), filepath.Join(dir, "out.jpg"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestDistinctEvents(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, distinctEvents(nil))
	assert.Equal(t, 2, distinctEvents(map[uint]int64{1: 5, 2: 5, 3: 6}))
}
