// events.go capture event numbering queries
package datastore

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tracewild/camtrap-go/internal/errors"
)

// MaxEventNumber returns the highest event number persisted for a project,
// or 0 when the project has no clustered images yet. The numbering space is
// shared across all cameras in the project.
func (ds *DataStore) MaxEventNumber(ctx context.Context, projectID uint) (int64, error) {
	var maxNumber int64
	err := ds.DB.WithContext(ctx).Model(&Image{}).
		Where("project_id = ? AND event_number IS NOT NULL", projectID).
		Select("COALESCE(MAX(event_number), 0)").
		Scan(&maxNumber).Error
	if err != nil {
		return 0, errors.New(fmt.Errorf("querying max event number: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("project_id", projectID).
			Build()
	}
	return maxNumber, nil
}

// NextEventNumber atomically advances the per-project event counter and
// returns the new value. The counter row is locked for the duration of the
// transaction so two concurrent callers can never receive the same number.
// On first use the counter is seeded from the highest persisted event number.
func (ds *DataStore) NextEventNumber(ctx context.Context, projectID uint) (int64, error) {
	var next int64

	// A cold counter can race on its initial insert, the loser retries once
	// and finds the freshly created row.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		lastErr = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var counter EventCounter
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&counter, "project_id = ?", projectID).Error

			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				seed, seedErr := maxEventNumberTx(tx, projectID)
				if seedErr != nil {
					return seedErr
				}
				counter = EventCounter{ProjectID: projectID, LastNumber: seed}
				if err := tx.Create(&counter).Error; err != nil {
					return fmt.Errorf("creating event counter: %w", err)
				}
			case err != nil:
				return fmt.Errorf("locking event counter: %w", err)
			}

			counter.LastNumber++
			next = counter.LastNumber
			return tx.Save(&counter).Error
		})
		if lastErr == nil {
			return next, nil
		}
	}

	return 0, errors.New(lastErr).
		Component("datastore").
		Category(errors.CategoryEventNumber).
		Context("project_id", projectID).
		Build()
}

func maxEventNumberTx(tx *gorm.DB, projectID uint) (int64, error) {
	var maxNumber int64
	err := tx.Model(&Image{}).
		Where("project_id = ? AND event_number IS NOT NULL", projectID).
		Select("COALESCE(MAX(event_number), 0)").
		Scan(&maxNumber).Error
	if err != nil {
		return 0, fmt.Errorf("seeding event counter: %w", err)
	}
	return maxNumber, nil
}

// EventAnchors returns the earliest capture timestamp of every event already
// persisted for a camera, ordered by event number. These anchors let the
// clustering engine reattach a re-uploaded burst to its existing event.
func (ds *DataStore) EventAnchors(ctx context.Context, projectID uint, cameraSerial string) ([]EventAnchor, error) {
	// Aggregating MIN(captured_at) in SQL loses the column's declared type
	// on sqlite, so the earliest timestamp per event is picked out here.
	var rows []Image
	err := ds.DB.WithContext(ctx).Model(&Image{}).
		Select("event_number", "captured_at").
		Where("project_id = ? AND camera_serial = ? AND event_number IS NOT NULL", projectID, cameraSerial).
		Order("event_number, captured_at").
		Find(&rows).Error
	if err != nil {
		return nil, errors.New(fmt.Errorf("querying event anchors: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("project_id", projectID).
			Context("camera_serial", cameraSerial).
			Build()
	}

	var anchors []EventAnchor
	for _, row := range rows {
		n := len(anchors)
		if n == 0 || anchors[n-1].EventNumber != *row.EventNumber {
			anchors = append(anchors, EventAnchor{
				EventNumber: *row.EventNumber,
				CapturedAt:  row.CapturedAt,
			})
		}
	}
	return anchors, nil
}

// AssignEventNumbers writes resolved event numbers onto image rows in one
// transaction.
func (ds *DataStore) AssignEventNumbers(ctx context.Context, assignments map[uint]int64) error {
	if len(assignments) == 0 {
		return nil
	}

	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for imageID, eventNumber := range assignments {
			result := tx.Model(&Image{}).
				Where("id = ?", imageID).
				Update("event_number", eventNumber)
			if result.Error != nil {
				return fmt.Errorf("assigning event %d to image %d: %w", eventNumber, imageID, result.Error)
			}
		}
		return nil
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("assignments", len(assignments)).
			Build()
	}
	return nil
}
