// model.go this code defines the data model for the application
package datastore

import "time"

// Project scopes images and the event numbering space.
type Project struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

// Image represents a single camera-trap photograph.
//
// An Image row is created at ingestion with most fields empty, then filled in
// by the metadata extractor (timestamp, serial, GPS, event number) and later
// by the detection pipeline (classification fields).
type Image struct {
	ID        uint `gorm:"primaryKey"`
	ProjectID uint `gorm:"index:idx_images_project;index:idx_images_project_camera,priority:1"`

	// Capture metadata
	CameraSerial string    `gorm:"index:idx_images_project_camera,priority:2"`
	CapturedAt   time.Time `gorm:"index:idx_images_captured_at"` // UTC, millisecond precision
	Latitude     *float64  // decimal degrees, south negative
	Longitude    *float64  // decimal degrees, west negative

	// Storage locations
	OriginalFileName string
	FileName         string // canonical name derived from the capture timestamp
	SourcePath       string
	ThumbnailPath    string
	AnalysisFolder   string

	// Capture event assignment, nil until clustering has run
	EventNumber *int64 `gorm:"index:idx_images_event"`

	// Detection results
	BestClass      string
	Accuracy       float64 // confidence of the best detection, 0..1
	ObjectCount    int
	Detections     []Detection `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
	AnnotatedImage []byte      // JPEG with bounding boxes drawn
	Processed      bool        `gorm:"index:idx_images_processed"`
	ProcessedAt    *time.Time
	FailureReason  string // "file not found", "image decode failed", "no valid detections"

	InspectionStatus string `gorm:"type:varchar(20);default:'pending'"` // pending, approved, rejected

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Detection is one model detection kept after threshold filtering, linked to an Image.
type Detection struct {
	ID         uint `gorm:"primaryKey"`
	ImageID    uint `gorm:"index;not null;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;foreignKey:ImageID;references:ID"`
	Class      string
	Confidence float64
	X1         float64
	Y1         float64
	X2         float64
	Y2         float64
}

// Copy creates a deep copy of the Detection struct
func (d Detection) Copy() Detection {
	return Detection{
		ID:         d.ID,
		ImageID:    d.ImageID,
		Class:      d.Class,
		Confidence: d.Confidence,
		X1:         d.X1,
		Y1:         d.Y1,
		X2:         d.X2,
		Y2:         d.Y2,
	}
}

// EventCounter holds the last allocated capture event number per project.
// The counter is advanced inside a transaction so two concurrent callers can
// never observe the same value.
type EventCounter struct {
	ProjectID  uint `gorm:"primaryKey"`
	LastNumber int64
	UpdatedAt  time.Time
}

// DetectionJob is the progress record for one asynchronous detection run.
//
// Progress semantics: 50 is written at acceptance before any inference has
// happened, 50..100 tracks completion fraction, and 100 is written exactly
// once after every image has been attempted.
type DetectionJob struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"` // UUID
	TotalImages     int
	ProcessedImages int
	Progress        int
	Interrupted     bool // set at startup for jobs a process restart cut short
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// EventAnchor is the earliest-captured image of one persisted capture event,
// used by the clustering engine to decide whether a new image continues an
// existing event.
type EventAnchor struct {
	EventNumber int64
	CapturedAt  time.Time
}

// ImageUpdate carries the detection result fields written back onto an Image
// after one inference attempt.
type ImageUpdate struct {
	BestClass      string
	Accuracy       float64
	ObjectCount    int
	Detections     []Detection
	AnnotatedImage []byte
	Processed      bool
	ProcessedAt    time.Time
	FailureReason  string
}

// ProjectStatusSummary aggregates per-project processing counts for the
// status read model.
type ProjectStatusSummary struct {
	ProjectID         uint
	TotalImages       int64
	ProcessedImages   int64
	UnprocessedImages int64
	EventCount        int64
}
