// jobs.go detection job progress records
package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tracewild/camtrap-go/internal/errors"
)

// CreateJob persists a new detection job record.
func (ds *DataStore) CreateJob(ctx context.Context, job *DetectionJob) error {
	if err := ds.DB.WithContext(ctx).Create(job).Error; err != nil {
		return errors.New(fmt.Errorf("creating detection job: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			JobContext(job.ID, job.TotalImages).
			Build()
	}
	return nil
}

// UpdateJobProgress advances a job's counters. Progress is guarded in SQL so
// it can never move backwards, even if two updates race: the row is only
// written when the new progress is at least the stored one.
func (ds *DataStore) UpdateJobProgress(ctx context.Context, jobID string, processed, progress int) error {
	updates := map[string]any{
		"processed_images": processed,
		"progress":         progress,
	}
	if progress >= 100 {
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}

	result := ds.DB.WithContext(ctx).Model(&DetectionJob{}).
		Where("id = ? AND progress <= ?", jobID, progress).
		Updates(updates)
	if result.Error != nil {
		return errors.New(fmt.Errorf("updating job progress: %w", result.Error)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			JobContext(jobID, 0).
			Build()
	}
	if result.RowsAffected == 0 {
		// Either the job does not exist or a newer update already landed.
		var count int64
		if err := ds.DB.WithContext(ctx).Model(&DetectionJob{}).Where("id = ?", jobID).Count(&count).Error; err == nil && count == 0 {
			return errors.Newf("detection job %s not found", jobID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
	}
	return nil
}

// MarkInterruptedJobs flags every job a process restart cut short: anything
// still below terminal progress with no completion timestamp has no worker
// anymore and would otherwise look in-flight to pollers forever. Returns the
// number of jobs flagged. Intended to run once at startup, before the
// orchestrator accepts new jobs.
func (ds *DataStore) MarkInterruptedJobs(ctx context.Context) (int64, error) {
	result := ds.DB.WithContext(ctx).Model(&DetectionJob{}).
		Where("progress < ? AND completed_at IS NULL AND interrupted = ?", 100, false).
		Update("interrupted", true)
	if result.Error != nil {
		return 0, errors.New(fmt.Errorf("marking interrupted jobs: %w", result.Error)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return result.RowsAffected, nil
}

// GetJob retrieves a detection job by its ID.
func (ds *DataStore) GetJob(ctx context.Context, jobID string) (DetectionJob, error) {
	var job DetectionJob
	err := ds.DB.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DetectionJob{}, errors.Newf("detection job %s not found", jobID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return DetectionJob{}, errors.New(fmt.Errorf("getting detection job %s: %w", jobID, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return job, nil
}

// LatestJob returns the most recently created job. This backs the legacy
// single-slot progress endpoint for clients that do not track job IDs.
func (ds *DataStore) LatestJob(ctx context.Context) (DetectionJob, error) {
	var job DetectionJob
	err := ds.DB.WithContext(ctx).Order("created_at DESC").First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DetectionJob{}, errors.NotFoundError("no detection job has run yet")
		}
		return DetectionJob{}, errors.New(fmt.Errorf("getting latest detection job: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return job, nil
}
