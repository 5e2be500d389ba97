package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pantheonhq/pantheon/internal/api/dto"
	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
	"github.com/pantheonhq/pantheon/internal/pipeline/export"
	"github.com/pantheonhq/pantheon/internal/pipeline/runner"
)

const defaultPasswordLength = 16

// ExportHandler handles directory export HTTP requests
type ExportHandler struct {
	logger   *slog.Logger
	storage  Storage
	runner   JobStarter
	exporter Exporter
}

// NewExportHandler creates a new ExportHandler instance
func NewExportHandler(deps *Dependencies) *ExportHandler {
	return &ExportHandler{
		logger:   deps.Logger,
		storage:  deps.Storage,
		runner:   deps.Runner,
		exporter: deps.Exporter,
	}
}

// ExportUsers handles POST /api/v1/datasources/:datasource_id/export
//
// Conflicts are resolved synchronously: under the reject policy a
// request with any already-exported candidate fails here, before a job
// exists. The provisioning itself runs as a detached export_data job.
func (h *ExportHandler) ExportUsers(c *gin.Context) {
	viewID := c.Param("datasource_id")

	var req dto.ExportUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	policy := export.ConflictPolicy(req.ConflictPolicy)
	if policy == "" {
		policy = export.ConflictPolicyExportDifference
	}
	if policy != export.ConflictPolicyExportDifference && policy != export.ConflictPolicyReject {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown conflict policy"})
		return
	}

	if _, err := h.storage.FetchDatasourceView(c.Request.Context(), viewID); err != nil {
		if errors.Is(err, domain.ErrViewNotFound) || errors.Is(err, domain.ErrInvalidID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Datasource view not found"})
			return
		}
		h.logger.Error("Failed to get datasource view", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export users"})
		return
	}

	candidates := make([]export.Candidate, 0, len(req.Users))
	for _, u := range req.Users {
		candidates = append(candidates, export.Candidate{
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
		})
	}

	remaining, err := h.exporter.Plan(c.Request.Context(), candidates, policy)
	if err != nil {
		if errors.Is(err, domain.ErrExportConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "One or more users have already been exported"})
			return
		}
		h.logger.Error("Failed to plan export", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export users"})
		return
	}

	if len(remaining) == 0 {
		c.JSON(http.StatusOK, gin.H{"message": "All users have already been exported"})
		return
	}

	emailPolicy := export.EmailPolicy{
		Separator:              req.EmailPolicy.Separator,
		AddUniqueNumericSuffix: req.EmailPolicy.AddUniqueNumericSuffix,
	}
	passwordPolicy := export.PasswordPolicy{
		Length:                    req.PasswordPolicy.Length,
		ChangePasswordAtNextLogin: req.PasswordPolicy.ChangePasswordAtNextLogin,
	}
	if passwordPolicy.Length <= 0 {
		passwordPolicy.Length = defaultPasswordLength
	}

	jobID, err := h.runner.StartJob(c.Request.Context(), runner.StartParams{
		Kind:   domain.JobKindExportData,
		ViewID: viewID,
		Actor:  actorFromRequest(req.Actor),
		Metadata: map[string]interface{}{
			"conflict_policy": string(policy),
			"user_count":      len(remaining),
		},
	}, func(ctx context.Context, jobID string) error {
		return h.exporter.Export(ctx, jobID, remaining, emailPolicy, passwordPolicy)
	})
	if err != nil {
		if errors.Is(err, domain.ErrPendingJobExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Datasource view already has a pending job"})
			return
		}
		h.logger.Error("Failed to start export job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export users"})
		return
	}

	h.logger.Info("Export job started",
		slog.String("job_id", jobID),
		slog.String("datasource_view_id", viewID),
		slog.Int("user_count", len(remaining)),
	)

	c.JSON(http.StatusAccepted, dto.StartJobResponse{JobID: jobID})
}
