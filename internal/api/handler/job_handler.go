package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pantheonhq/pantheon/internal/api/dto"
	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
	"github.com/pantheonhq/pantheon/internal/pipeline/runner"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger   *slog.Logger
	storage  Storage
	runner   JobStarter
	exporter Exporter
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:   deps.Logger,
		storage:  deps.Storage,
		runner:   deps.Runner,
		exporter: deps.Exporter,
	}
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs, err := h.storage.FetchJobs(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.storage.FetchJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrInvalidID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Failed to get job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	resp := dto.JobResponse{Job: *job}
	if job.Status == domain.JobStatusError {
		jobErrors, err := h.storage.FetchJobErrors(c.Request.Context(), jobID)
		if err != nil {
			h.logger.Error("Failed to fetch job errors", slog.Any("error", err))
		} else {
			resp.Errors = jobErrors
		}
	}

	c.JSON(http.StatusOK, resp)
}

// UndoExport handles POST /api/v1/jobs/:job_id/undo
//
// The undo runs as its own tracked undo_export job against the same
// view as the original export.
func (h *JobHandler) UndoExport(c *gin.Context) {
	exportJobID := c.Param("job_id")

	var req dto.StartJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	job, err := h.storage.FetchJob(c.Request.Context(), exportJobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrInvalidID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Failed to get job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to undo export"})
		return
	}

	if job.Kind != domain.JobKindExportData {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only export jobs can be undone"})
		return
	}
	if job.Status == domain.JobStatusPending {
		c.JSON(http.StatusConflict, gin.H{"error": "Export job is still running"})
		return
	}

	var meta struct {
		ViewID string `json:"datasource_view_id"`
	}
	if len(job.Metadata) > 0 {
		if err := json.Unmarshal(job.Metadata, &meta); err != nil {
			h.logger.Error("Failed to parse job metadata", slog.Any("error", err))
		}
	}
	if meta.ViewID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "Export job is not associated with a datasource view"})
		return
	}

	jobID, err := h.runner.StartJob(c.Request.Context(), runner.StartParams{
		Kind:   domain.JobKindUndoExport,
		ViewID: meta.ViewID,
		Actor:  actorFromRequest(req.Actor),
		Metadata: map[string]interface{}{
			"export_job_id": exportJobID,
		},
	}, func(ctx context.Context, _ string) error {
		return h.exporter.Undo(ctx, exportJobID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrPendingJobExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Datasource view already has a pending job"})
			return
		}
		h.logger.Error("Failed to start undo job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to undo export"})
		return
	}

	h.logger.Info("Undo job started",
		slog.String("job_id", jobID),
		slog.String("export_job_id", exportJobID),
	)

	c.JSON(http.StatusAccepted, dto.StartJobResponse{JobID: jobID})
}
