package mqtt

import (
	"context"
	"time"

	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/detection"
)

// detectionMessage is the wire format for one image's detection outcome.
type detectionMessage struct {
	ImageID     uint           `json:"image_id"`
	ProjectID   uint           `json:"project_id"`
	EventNumber *int64         `json:"event_number,omitempty"`
	BestClass   string         `json:"best_class"`
	Accuracy    float64        `json:"accuracy"`
	ObjectCount int            `json:"object_count"`
	Counts      map[string]int `json:"counts"`
	CapturedAt  time.Time      `json:"captured_at"`
	PublishedAt time.Time      `json:"published_at"`
}

// jobMessage is the wire format for a completed detection job.
type jobMessage struct {
	JobID           string    `json:"job_id"`
	TotalImages     int       `json:"total_images"`
	ProcessedImages int       `json:"processed_images"`
	PublishedAt     time.Time `json:"published_at"`
}

// PublishDetection publishes one image's detection result.
func (c *Client) PublishDetection(ctx context.Context, img *datastore.Image, result *detection.Result) error {
	return c.publish(ctx, "detection", detectionMessage{
		ImageID:     img.ID,
		ProjectID:   img.ProjectID,
		EventNumber: img.EventNumber,
		BestClass:   result.BestClass,
		Accuracy:    result.Accuracy,
		ObjectCount: result.ObjectCount,
		Counts:      result.Counts,
		CapturedAt:  img.CapturedAt,
		PublishedAt: time.Now().UTC(),
	})
}

// PublishJobCompleted publishes a job completion notice.
func (c *Client) PublishJobCompleted(ctx context.Context, job *datastore.DetectionJob) error {
	return c.publish(ctx, "job/completed", jobMessage{
		JobID:           job.ID,
		TotalImages:     job.TotalImages,
		ProcessedImages: job.ProcessedImages,
		PublishedAt:     time.Now().UTC(),
	})
}
