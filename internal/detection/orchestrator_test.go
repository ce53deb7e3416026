package detection

import (
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/errors"
	"github.com/tracewild/camtrap-go/internal/observability"
)

// fakeStore implements the slice of datastore.Interface the orchestrator
// needs. Unused methods panic via the embedded nil interface.
type fakeStore struct {
	datastore.Interface

	mu      sync.Mutex
	images  map[uint]datastore.Image
	updates map[uint]*datastore.ImageUpdate
	jobs    map[string]datastore.DetectionJob
	history []int // every progress value persisted, in order
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		images:  make(map[uint]datastore.Image),
		updates: make(map[uint]*datastore.ImageUpdate),
		jobs:    make(map[string]datastore.DetectionJob),
	}
}

func (f *fakeStore) GetImage(_ context.Context, id uint) (datastore.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if !ok {
		return datastore.Image{}, errors.NotFoundError("image %d not found", id)
	}
	return img, nil
}

func (f *fakeStore) UpdateImageDetection(_ context.Context, id uint, update *datastore.ImageUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = update
	return nil
}

func (f *fakeStore) CreateJob(_ context.Context, job *datastore.DetectionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeStore) UpdateJobProgress(_ context.Context, jobID string, processed, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	if progress >= job.Progress {
		job.ProcessedImages = processed
		job.Progress = progress
		f.jobs[jobID] = job
	}
	f.history = append(f.history, progress)
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, jobID string) (datastore.DetectionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return datastore.DetectionJob{}, errors.NotFoundError("detection job %s not found", jobID)
	}
	return job, nil
}

func (f *fakeStore) update(id uint) *datastore.ImageUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[id]
}

func (f *fakeStore) job(id string) datastore.DetectionJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

// scriptedDetector pops one canned response per Detect call.
type scriptedDetector struct {
	mu        sync.Mutex
	responses [][]RawDetection
	block     chan struct{} // when set, Detect waits for ctx or release
}

func (d *scriptedDetector) Detect(ctx context.Context, _ image.Image) ([]RawDetection, error) {
	if d.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.block:
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.responses) == 0 {
		return nil, nil
	}
	resp := d.responses[0]
	d.responses = d.responses[1:]
	return resp, nil
}

func (d *scriptedDetector) Close() error { return nil }

func testDetectionSettings() *conf.DetectionSettings {
	return &conf.DetectionSettings{
		Threshold:    0.8,
		ClosedSet:    true,
		JobRetention: time.Minute,
	}
}

func writeTestJPEG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, image.NewRGBA(image.Rect(0, 0, 32, 24)), nil))
	return path
}

func newTestOrchestrator(t *testing.T, store *fakeStore, detector Detector) *Orchestrator {
	t.Helper()
	labels, err := LoadLabels("")
	require.NoError(t, err)

	settings := testDetectionSettings()
	tracker := NewTracker(store, settings.JobRetention)
	metrics := observability.NewMetrics()

	o := NewOrchestrator(settings, store, detector, labels, tracker, metrics.Detection, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, o.Shutdown(ctx))
	})
	return o
}

// verifyNoLeaks checks for leaked goroutines, ignoring the go-cache janitor
// which is stopped by a finalizer rather than an explicit close.
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

func waitForProgress(t *testing.T, store *fakeStore, jobID string, progress int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return store.job(jobID).Progress >= progress
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartJobRejectsEmptyInput(t *testing.T) {
	defer verifyNoLeaks(t)

	o := newTestOrchestrator(t, newFakeStore(), &scriptedDetector{})

	_, err := o.StartJob(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestJobMixedOutcomes(t *testing.T) {
	defer verifyNoLeaks(t)

	dir := t.TempDir()
	store := newFakeStore()
	store.images[1] = datastore.Image{ID: 1, SourcePath: writeTestJPEG(t, dir, "a.jpg")}
	store.images[2] = datastore.Image{ID: 2, SourcePath: writeTestJPEG(t, dir, "b.jpg")}
	store.images[3] = datastore.Image{ID: 3, SourcePath: filepath.Join(dir, "gone.jpg")}

	detector := &scriptedDetector{responses: [][]RawDetection{
		{{Class: "deer", Confidence: 0.92, X1: 1, Y1: 1, X2: 20, Y2: 20}},
		{{Class: "deer", Confidence: 0.55}, {Class: "pig", Confidence: 0.79}},
	}}

	o := newTestOrchestrator(t, store, detector)

	jobID, err := o.StartJob(context.Background(), []uint{1, 2, 3})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	// Acceptance state is visible immediately.
	assert.Equal(t, acceptedProgress, store.job(jobID).Progress)

	waitForProgress(t, store, jobID, 100)

	job := store.job(jobID)
	assert.Equal(t, 3, job.ProcessedImages)
	assert.Equal(t, 100, job.Progress)

	// Image 1: confident deer detection with annotation.
	first := store.update(1)
	require.NotNil(t, first)
	assert.Equal(t, "deer", first.BestClass)
	assert.InDelta(t, 0.92, first.Accuracy, 0.001)
	assert.Equal(t, 1, first.ObjectCount)
	assert.True(t, first.Processed)
	assert.NotEmpty(t, first.AnnotatedImage)
	assert.Empty(t, first.FailureReason)

	// Image 2: everything under threshold.
	second := store.update(2)
	require.NotNil(t, second)
	assert.True(t, second.Processed)
	assert.Equal(t, ReasonNoValidDetections, second.FailureReason)
	assert.Empty(t, second.BestClass)

	// Image 3: missing file.
	third := store.update(3)
	require.NotNil(t, third)
	assert.True(t, third.Processed)
	assert.Equal(t, ReasonFileNotFound, third.FailureReason)
}

func TestJobProgressNeverDecreases(t *testing.T) {
	defer verifyNoLeaks(t)

	dir := t.TempDir()
	store := newFakeStore()
	var ids []uint
	for i := uint(1); i <= 7; i++ {
		store.images[i] = datastore.Image{ID: i, SourcePath: writeTestJPEG(t, dir, "x.jpg")}
		ids = append(ids, i)
	}

	o := newTestOrchestrator(t, store, &scriptedDetector{})

	jobID, err := o.StartJob(context.Background(), ids)
	require.NoError(t, err)
	waitForProgress(t, store, jobID, 100)

	store.mu.Lock()
	history := append([]int(nil), store.history...)
	store.mu.Unlock()

	require.NotEmpty(t, history)
	prev := acceptedProgress
	for _, p := range history {
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
	assert.Equal(t, 100, history[len(history)-1])

	// The terminal value is written exactly once.
	terminal := 0
	for _, p := range history {
		if p == 100 {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestCancelJobStopsProcessing(t *testing.T) {
	defer verifyNoLeaks(t)

	dir := t.TempDir()
	store := newFakeStore()
	var ids []uint
	for i := uint(1); i <= 5; i++ {
		store.images[i] = datastore.Image{ID: i, SourcePath: writeTestJPEG(t, dir, "x.jpg")}
		ids = append(ids, i)
	}

	detector := &scriptedDetector{block: make(chan struct{})}
	o := newTestOrchestrator(t, store, detector)

	jobID, err := o.StartJob(context.Background(), ids)
	require.NoError(t, err)

	require.NoError(t, o.CancelJob(jobID))

	// The worker exits without reaching the terminal progress.
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.running) == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Less(t, store.job(jobID).Progress, 100)
}

func TestCancelUnknownJob(t *testing.T) {
	defer verifyNoLeaks(t)

	o := newTestOrchestrator(t, newFakeStore(), &scriptedDetector{})
	err := o.CancelJob("no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryJobState))
}

func TestTrackerServesCachedAndPersistedJobs(t *testing.T) {
	defer verifyNoLeaks(t)

	store := newFakeStore()
	store.jobs["persisted"] = datastore.DetectionJob{ID: "persisted", TotalImages: 4, Progress: 75}

	tracker := NewTracker(store, time.Minute)

	// Cache miss falls through to the store.
	job, err := tracker.Get(context.Background(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, 75, job.Progress)

	// Put overrides what the store would report.
	tracker.Put(datastore.DetectionJob{ID: "persisted", TotalImages: 4, Progress: 88})
	job, err = tracker.Get(context.Background(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, 88, job.Progress)

	_, err = tracker.Get(context.Background(), "unknown")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
