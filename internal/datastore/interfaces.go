// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/logging"
)

// Interface abstracts the underlying database implementation and defines the
// operations the rest of the application needs.
type Interface interface {
	Open() error
	Close() error

	// Images
	SaveImages(ctx context.Context, images []*Image) error
	GetImage(ctx context.Context, id uint) (Image, error)
	GetImagesByIDs(ctx context.Context, ids []uint) ([]Image, error)
	UpdateImageDetection(ctx context.Context, id uint, update *ImageUpdate) error
	SetInspectionStatus(ctx context.Context, id uint, status string) error
	DeleteImage(ctx context.Context, id uint) error

	// Capture events
	MaxEventNumber(ctx context.Context, projectID uint) (int64, error)
	NextEventNumber(ctx context.Context, projectID uint) (int64, error)
	EventAnchors(ctx context.Context, projectID uint, cameraSerial string) ([]EventAnchor, error)
	AssignEventNumbers(ctx context.Context, assignments map[uint]int64) error

	// Detection jobs
	CreateJob(ctx context.Context, job *DetectionJob) error
	UpdateJobProgress(ctx context.Context, jobID string, processed, progress int) error
	GetJob(ctx context.Context, jobID string) (DetectionJob, error)
	LatestJob(ctx context.Context) (DetectionJob, error)
	MarkInterruptedJobs(ctx context.Context) (int64, error)

	// Projects
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id uint) (Project, error)
	ProjectStatusSummary(ctx context.Context, projectID uint) (ProjectStatusSummary, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB     *gorm.DB
	logger *slog.Logger
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			DataStore: DataStore{logger: logging.ForService("datastore")},
			Settings:  settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			DataStore: DataStore{logger: logging.ForService("datastore")},
			Settings:  settings,
		}
	default:
		// conf validation rejects this combination before we get here
		return nil
	}
}

// createGormLogger returns a gorm logger that stays quiet except for slow
// queries and errors, matching the application's structured logging.
func createGormLogger() gormlogger.Interface {
	return gormlogger.New(
		slogWriter{logger: logging.ForService("gorm")},
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// slogWriter adapts slog to gorm's logger.Writer interface.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.logger.Warn(fmt.Sprintf(format, args...))
}

// performAutoMigration creates or updates the schema for all model types.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&Project{},
		&Image{},
		&Detection{},
		&EventCounter{},
		&DetectionJob{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		logging.ForService("datastore").Debug("database connection initialized",
			"type", dbType, "connection", connectionInfo)
	}

	return nil
}

// Close closes the underlying database connection.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying database handle: %w", err)
	}
	return sqlDB.Close()
}
