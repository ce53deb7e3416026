// projects.go project records and status aggregation
package datastore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tracewild/camtrap-go/internal/errors"
)

// CreateProject persists a new project.
func (ds *DataStore) CreateProject(ctx context.Context, project *Project) error {
	if err := ds.DB.WithContext(ctx).Create(project).Error; err != nil {
		return errors.New(fmt.Errorf("creating project %q: %w", project.Name, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// GetProject retrieves a project by its ID.
func (ds *DataStore) GetProject(ctx context.Context, id uint) (Project, error) {
	var project Project
	err := ds.DB.WithContext(ctx).First(&project, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Project{}, errors.Newf("project %d not found", id).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return Project{}, errors.New(fmt.Errorf("getting project %d: %w", id, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return project, nil
}

// ProjectStatusSummary aggregates processing counts for one project.
func (ds *DataStore) ProjectStatusSummary(ctx context.Context, projectID uint) (ProjectStatusSummary, error) {
	summary := ProjectStatusSummary{ProjectID: projectID}
	db := ds.DB.WithContext(ctx)

	if err := db.Model(&Image{}).Where("project_id = ?", projectID).
		Count(&summary.TotalImages).Error; err != nil {
		return summary, statusQueryError(err, projectID)
	}
	if err := db.Model(&Image{}).Where("project_id = ? AND processed = ?", projectID, true).
		Count(&summary.ProcessedImages).Error; err != nil {
		return summary, statusQueryError(err, projectID)
	}
	summary.UnprocessedImages = summary.TotalImages - summary.ProcessedImages

	if err := db.Model(&Image{}).
		Where("project_id = ? AND event_number IS NOT NULL", projectID).
		Distinct("event_number").
		Count(&summary.EventCount).Error; err != nil {
		return summary, statusQueryError(err, projectID)
	}

	return summary, nil
}

func statusQueryError(err error, projectID uint) error {
	return errors.New(fmt.Errorf("querying project status: %w", err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("project_id", projectID).
		Build()
}
