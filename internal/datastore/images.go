// images.go image record operations
package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tracewild/camtrap-go/internal/errors"
)

// SaveImages stores a batch of image records in a single transaction.
func (ds *DataStore) SaveImages(ctx context.Context, images []*Image) error {
	if len(images) == 0 {
		return nil
	}

	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, img := range images {
			if err := tx.Create(img).Error; err != nil {
				return fmt.Errorf("saving image %q: %w", img.FileName, err)
			}
		}
		return nil
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("batch_size", len(images)).
			Build()
	}
	return nil
}

// GetImage retrieves an image by its ID, including its detections.
func (ds *DataStore) GetImage(ctx context.Context, id uint) (Image, error) {
	var img Image
	err := ds.DB.WithContext(ctx).Preload("Detections").First(&img, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Image{}, errors.Newf("image %d not found", id).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return Image{}, errors.New(fmt.Errorf("getting image %d: %w", id, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return img, nil
}

// GetImagesByIDs fetches the given images, returned in the order the IDs were
// requested. IDs that do not exist are simply absent from the result, callers
// detect them by comparing lengths or by map lookup.
func (ds *DataStore) GetImagesByIDs(ctx context.Context, ids []uint) ([]Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var fetched []Image
	if err := ds.DB.WithContext(ctx).Where("id IN ?", ids).Find(&fetched).Error; err != nil {
		return nil, errors.New(fmt.Errorf("getting images by ids: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("requested", len(ids)).
			Build()
	}

	byID := make(map[uint]Image, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = fetched[i]
	}

	ordered := make([]Image, 0, len(fetched))
	for _, id := range ids {
		if img, ok := byID[id]; ok {
			ordered = append(ordered, img)
		}
	}
	return ordered, nil
}

// UpdateImageDetection writes the result of one inference attempt onto an
// image row. Detections are replaced, not appended, so re-running a job over
// an image does not duplicate its detections.
func (ds *DataStore) UpdateImageDetection(ctx context.Context, id uint, update *ImageUpdate) error {
	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_id = ?", id).Delete(&Detection{}).Error; err != nil {
			return fmt.Errorf("clearing detections for image %d: %w", id, err)
		}

		for i := range update.Detections {
			update.Detections[i].ImageID = id
			if err := tx.Create(&update.Detections[i]).Error; err != nil {
				return fmt.Errorf("saving detection for image %d: %w", id, err)
			}
		}

		processedAt := update.ProcessedAt
		if processedAt.IsZero() {
			processedAt = time.Now().UTC()
		}

		result := tx.Model(&Image{}).Where("id = ?", id).Updates(map[string]any{
			"best_class":      update.BestClass,
			"accuracy":        update.Accuracy,
			"object_count":    update.ObjectCount,
			"annotated_image": update.AnnotatedImage,
			"processed":       update.Processed,
			"processed_at":    processedAt,
			"failure_reason":  update.FailureReason,
		})
		if result.Error != nil {
			return fmt.Errorf("updating image %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Newf("image %d not found", id).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// SetInspectionStatus updates the manual inspection state of an image.
func (ds *DataStore) SetInspectionStatus(ctx context.Context, id uint, status string) error {
	result := ds.DB.WithContext(ctx).Model(&Image{}).
		Where("id = ?", id).
		Update("inspection_status", status)
	if result.Error != nil {
		return errors.New(fmt.Errorf("updating inspection status for image %d: %w", id, result.Error)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("image %d not found", id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	return nil
}

// DeleteImage removes an image and its detections.
func (ds *DataStore) DeleteImage(ctx context.Context, id uint) error {
	return ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_id = ?", id).Delete(&Detection{}).Error; err != nil {
			return fmt.Errorf("deleting detections for image %d: %w", id, err)
		}
		if err := tx.Delete(&Image{}, id).Error; err != nil {
			return fmt.Errorf("deleting image %d: %w", id, err)
		}
		return nil
	})
}
