package detection

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tracewild/camtrap-go/internal/datastore"
)

// Tracker is the polling read model for detection job progress. In-flight
// jobs are served from an in-memory cache updated by the orchestrator on
// every image, so pollers never hit the database between writes. Cache
// misses (after a restart, or once a completed job ages out) fall back to
// the persisted job record.
type Tracker struct {
	store datastore.Interface
	cache *cache.Cache
}

// NewTracker creates a tracker. Completed jobs stay cached for the given
// retention window.
func NewTracker(store datastore.Interface, retention time.Duration) *Tracker {
	return &Tracker{
		store: store,
		cache: cache.New(retention, retention/2),
	}
}

// Put records the current state of a job.
func (t *Tracker) Put(job datastore.DetectionJob) {
	t.cache.Set(job.ID, job, cache.DefaultExpiration)
}

// Get returns the current state of a job by ID.
func (t *Tracker) Get(ctx context.Context, jobID string) (datastore.DetectionJob, error) {
	if cached, ok := t.cache.Get(jobID); ok {
		return cached.(datastore.DetectionJob), nil
	}

	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return datastore.DetectionJob{}, err
	}
	t.cache.Set(job.ID, job, cache.DefaultExpiration)
	return job, nil
}

// Latest returns the most recently created job, for clients that poll a
// single progress slot instead of tracking job IDs.
func (t *Tracker) Latest(ctx context.Context) (datastore.DetectionJob, error) {
	return t.store.LatestJob(ctx)
}
