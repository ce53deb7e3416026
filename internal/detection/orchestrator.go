package detection

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for camera uploads
	_ "image/png"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/errors"
	"github.com/tracewild/camtrap-go/internal/logging"
	"github.com/tracewild/camtrap-go/internal/observability"
)

// Failure reasons recorded on images that could not produce detections.
const (
	ReasonFileNotFound      = "file not found"
	ReasonDecodeFailed      = "image decode failed"
	ReasonInferenceFailed   = "inference failed"
	ReasonNoValidDetections = "no valid detections"
)

// acceptedProgress is the progress value written when a job is accepted,
// before any inference has run. The remaining half of the scale tracks
// per-image completion.
const acceptedProgress = 50

// EventPublisher receives detection pipeline events. Implementations must
// tolerate being called from the job worker goroutine.
type EventPublisher interface {
	PublishDetection(ctx context.Context, img *datastore.Image, result *Result) error
	PublishJobCompleted(ctx context.Context, job *datastore.DetectionJob) error
}

// Orchestrator runs asynchronous detection jobs. A job is accepted
// synchronously, assigned an ID and then processed in the background, one
// image at a time. Per-image failures are recorded on the image and never
// abort the job: a job always attempts every image it was given.
type Orchestrator struct {
	settings  *conf.DetectionSettings
	store     datastore.Interface
	detector  Detector
	labels    *LabelSet
	tracker   *Tracker
	metrics   *observability.DetectionMetrics
	publisher EventPublisher
	logger    *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates a detection orchestrator. publisher may be nil
// when eventing is disabled.
func NewOrchestrator(settings *conf.DetectionSettings, store datastore.Interface, detector Detector, labels *LabelSet, tracker *Tracker, metrics *observability.DetectionMetrics, publisher EventPublisher) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		settings:   settings,
		store:      store,
		detector:   detector,
		labels:     labels,
		tracker:    tracker,
		metrics:    metrics,
		publisher:  publisher,
		logger:     logging.ForService("detection"),
		baseCtx:    ctx,
		baseCancel: cancel,
		running:    make(map[string]context.CancelFunc),
	}
}

// StartJob validates and accepts a detection job over the given image IDs,
// returning the job ID for progress polling. The actual processing happens
// asynchronously, acceptance only persists the job record at its initial
// progress.
func (o *Orchestrator) StartJob(ctx context.Context, imageIDs []uint) (string, error) {
	if len(imageIDs) == 0 {
		return "", errors.ValidationError("image id list is empty")
	}

	job := &datastore.DetectionJob{
		ID:          uuid.New().String(),
		TotalImages: len(imageIDs),
		Progress:    acceptedProgress,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return "", err
	}
	o.tracker.Put(*job)
	o.metrics.RecordJobStarted()

	jobCtx, cancel := context.WithCancel(o.baseCtx)
	o.mu.Lock()
	o.running[job.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(jobCtx, job, imageIDs)

	o.logger.Info("detection job accepted", "job_id", job.ID, "total_images", len(imageIDs))
	return job.ID, nil
}

// CancelJob stops a running job. The job's progress freezes at its current
// value, images already processed keep their results.
func (o *Orchestrator) CancelJob(jobID string) error {
	o.mu.Lock()
	cancel, ok := o.running[jobID]
	o.mu.Unlock()

	if !ok {
		return errors.Newf("detection job %s is not running", jobID).
			Component("detection").
			Category(errors.CategoryJobState).
			Build()
	}
	cancel()
	return nil
}

// Shutdown cancels all running jobs and waits for their workers to exit,
// bounded by the context.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New(fmt.Errorf("waiting for detection workers: %w", ctx.Err())).
			Component("detection").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// run is the job worker. It attempts every image, updates progress after
// each one and writes the terminal progress exactly once when all images
// have been attempted.
func (o *Orchestrator) run(ctx context.Context, job *datastore.DetectionJob, imageIDs []uint) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.running, job.ID)
		o.mu.Unlock()
	}()

	total := len(imageIDs)
	processed := 0

	// Progress writes survive cancellation so the final observed state
	// matches what was actually processed.
	persistCtx := context.WithoutCancel(ctx)

	for _, imageID := range imageIDs {
		if ctx.Err() != nil {
			o.metrics.RecordJobCancelled()
			o.logger.Info("detection job cancelled",
				"job_id", job.ID, "processed", processed, "total", total)
			return
		}

		o.processImage(ctx, job.ID, imageID)

		processed++
		progress := acceptedProgress + processed*(100-acceptedProgress)/total

		job.ProcessedImages = processed
		job.Progress = progress
		o.tracker.Put(*job)
		if err := o.store.UpdateJobProgress(persistCtx, job.ID, processed, progress); err != nil {
			o.logger.Error("failed to persist job progress",
				"job_id", job.ID, "progress", progress, "error", err)
		}
	}

	o.metrics.RecordJobCompleted()
	o.logger.Info("detection job completed", "job_id", job.ID, "total_images", total)

	if o.publisher != nil {
		if err := o.publisher.PublishJobCompleted(ctx, job); err != nil {
			o.logger.Warn("failed to publish job completion", "job_id", job.ID, "error", err)
		}
	}
}

// processImage attempts detection on one image. All failure modes are
// absorbed here: the image is marked processed with a failure reason and
// the job carries on.
func (o *Orchestrator) processImage(ctx context.Context, jobID string, imageID uint) {
	img, err := o.store.GetImage(ctx, imageID)
	if err != nil {
		o.metrics.RecordImageProcessed("file_not_found")
		o.logger.Warn("image not found for detection",
			"job_id", jobID, "image_id", imageID, "error", err)
		return
	}

	decoded, failureReason := o.loadImage(img.SourcePath)
	if failureReason != "" {
		o.recordFailure(ctx, &img, failureReason)
		return
	}

	started := time.Now()
	raw, err := o.detector.Detect(ctx, decoded)
	o.metrics.ObserveInference(time.Since(started))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.logger.Error("inference failed",
			"job_id", jobID, "image_id", imageID, "error", err)
		o.recordFailure(ctx, &img, ReasonInferenceFailed)
		return
	}

	result := shapeResult(raw, float64(o.settings.Threshold), o.labels, o.settings.ClosedSet)
	if result.ObjectCount == 0 {
		o.recordFailure(ctx, &img, ReasonNoValidDetections)
		return
	}

	annotated, err := annotateImage(decoded, result.Detections)
	if err != nil {
		// Detections are still worth keeping when only the overlay failed.
		o.logger.Warn("annotation failed, storing detections without overlay",
			"job_id", jobID, "image_id", imageID, "error", err)
	}

	update := &datastore.ImageUpdate{
		BestClass:      result.BestClass,
		Accuracy:       result.Accuracy,
		ObjectCount:    result.ObjectCount,
		Detections:     result.Detections,
		AnnotatedImage: annotated,
		Processed:      true,
		ProcessedAt:    time.Now().UTC(),
	}
	if err := o.store.UpdateImageDetection(ctx, imageID, update); err != nil {
		o.logger.Error("failed to store detection result",
			"job_id", jobID, "image_id", imageID, "error", err)
		return
	}

	o.metrics.RecordImageProcessed("detected")

	if o.publisher != nil {
		if err := o.publisher.PublishDetection(ctx, &img, &result); err != nil {
			o.logger.Warn("failed to publish detection",
				"job_id", jobID, "image_id", imageID, "error", err)
		}
	}
}

// loadImage opens and decodes the image file, returning a failure reason
// instead of an error so the caller can record it directly.
func (o *Orchestrator) loadImage(path string) (image.Image, string) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReasonFileNotFound
	}
	defer f.Close()

	decoded, _, err := image.Decode(f)
	if err != nil {
		return nil, ReasonDecodeFailed
	}
	return decoded, ""
}

// recordFailure marks an image as attempted with the given reason.
func (o *Orchestrator) recordFailure(ctx context.Context, img *datastore.Image, reason string) {
	switch reason {
	case ReasonFileNotFound:
		o.metrics.RecordImageProcessed("file_not_found")
	case ReasonDecodeFailed:
		o.metrics.RecordImageProcessed("decode_failed")
	case ReasonInferenceFailed:
		o.metrics.RecordImageProcessed("inference_failed")
	default:
		o.metrics.RecordImageProcessed("no_valid_detections")
	}

	update := &datastore.ImageUpdate{
		Processed:     true,
		ProcessedAt:   time.Now().UTC(),
		FailureReason: reason,
	}
	if err := o.store.UpdateImageDetection(ctx, img.ID, update); err != nil {
		o.logger.Error("failed to record image failure",
			"image_id", img.ID, "reason", reason, "error", err)
	}
}
