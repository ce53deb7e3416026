package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/errors"
)

type createProjectRequest struct {
	Name string `json:"name"`
}

func (s *Server) createProject(c echo.Context) error {
	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, errors.ValidationError("invalid request body"))
	}
	if req.Name == "" {
		return httpError(c, errors.ValidationError("project name is required"))
	}

	project := &datastore.Project{Name: req.Name}
	if err := s.store.CreateProject(c.Request().Context(), project); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, project)
}

func (s *Server) projectStatus(c echo.Context) error {
	projectID, err := paramUint(c, "id")
	if err != nil {
		return httpError(c, err)
	}

	if _, err := s.store.GetProject(c.Request().Context(), projectID); err != nil {
		return httpError(c, err)
	}

	summary, err := s.store.ProjectStatusSummary(c.Request().Context(), projectID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

type ingestRequest struct {
	AnalysisFolder string   `json:"analysis_folder"`
	Paths          []string `json:"paths"`
}

func (s *Server) ingestUpload(c echo.Context) error {
	projectID, err := paramUint(c, "id")
	if err != nil {
		return httpError(c, err)
	}

	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, errors.ValidationError("invalid request body"))
	}

	result, err := s.pipeline.Ingest(c.Request().Context(), projectID, req.AnalysisFolder, req.Paths)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type detectRequest struct {
	ImageIDs []uint `json:"image_ids"`
}

type detectResponse struct {
	JobID    string `json:"job_id"`
	Progress int    `json:"progress"`
}

func (s *Server) startDetection(c echo.Context) error {
	var req detectRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, errors.ValidationError("invalid request body"))
	}

	jobID, err := s.orchestrator.StartJob(c.Request().Context(), req.ImageIDs)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, detectResponse{JobID: jobID, Progress: 50})
}

func (s *Server) detectionStatus(c echo.Context) error {
	job, err := s.tracker.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) latestDetectionStatus(c echo.Context) error {
	job, err := s.tracker.Latest(c.Request().Context())
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) cancelDetection(c echo.Context) error {
	if err := s.orchestrator.CancelJob(c.Param("id")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getImage(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return httpError(c, err)
	}

	img, err := s.store.GetImage(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}

	// The annotated JPEG can be megabytes, it has its own endpoint.
	img.AnnotatedImage = nil
	return c.JSON(http.StatusOK, img)
}

func (s *Server) getAnnotatedImage(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return httpError(c, err)
	}

	img, err := s.store.GetImage(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	if len(img.AnnotatedImage) == 0 {
		return httpError(c, errors.NotFoundError("image %d has no annotated version", id))
	}
	return c.Blob(http.StatusOK, "image/jpeg", img.AnnotatedImage)
}

type inspectionRequest struct {
	Status string `json:"status"`
}

var validInspectionStatuses = map[string]bool{
	"pending":  true,
	"approved": true,
	"rejected": true,
}

func (s *Server) setInspectionStatus(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return httpError(c, err)
	}

	var req inspectionRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, errors.ValidationError("invalid request body"))
	}
	if !validInspectionStatuses[req.Status] {
		return httpError(c, errors.ValidationError("inspection status must be pending, approved or rejected"))
	}

	if err := s.store.SetInspectionStatus(c.Request().Context(), id, req.Status); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteImage(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return httpError(c, err)
	}

	if err := s.store.DeleteImage(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func paramUint(c echo.Context, name string) (uint, error) {
	value, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, errors.ValidationError("invalid " + name + " parameter")
	}
	return uint(value), nil
}
