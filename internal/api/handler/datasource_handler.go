package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pantheonhq/pantheon/internal/airtable"
	"github.com/pantheonhq/pantheon/internal/api/dto"
	"github.com/pantheonhq/pantheon/internal/pipeline/cache"
	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
	"github.com/pantheonhq/pantheon/internal/pipeline/runner"
)

// DatasourceHandler handles datasource-view HTTP requests
type DatasourceHandler struct {
	logger      *slog.Logger
	storage     Storage
	cache       RecordCache
	runner      JobStarter
	importer    ViewImporter
	systemActor domain.CreateUser
}

// NewDatasourceHandler creates a new DatasourceHandler instance
func NewDatasourceHandler(deps *Dependencies) *DatasourceHandler {
	return &DatasourceHandler{
		logger:      deps.Logger,
		storage:     deps.Storage,
		cache:       deps.Cache,
		runner:      deps.Runner,
		importer:    deps.Importer,
		systemActor: deps.SystemActor,
	}
}

// CreateDatasourceView handles POST /api/v1/datasources
func (h *DatasourceHandler) CreateDatasourceView(c *gin.Context) {
	var req dto.CreateDatasourceViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	datasource := domain.Datasource(req.Datasource)
	if datasource != domain.DatasourceAirtable && datasource != domain.DatasourceGoogleWorkspaceAdminDirectory {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown datasource"})
		return
	}

	if datasource == domain.DatasourceAirtable {
		var meta domain.AirtableViewMetadata
		if err := json.Unmarshal(req.Metadata, &meta); err != nil || meta.Base == "" || meta.Table == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Airtable view metadata must name a base and a table"})
			return
		}
	}

	userID, err := h.storage.CreateOrFetchUser(c.Request.Context(), actorFromRequest(req.Actor))
	if err != nil {
		h.logger.Error("Failed to resolve acting user", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create datasource view"})
		return
	}

	viewID, err := h.storage.CreateDatasourceView(c.Request.Context(), domain.CreateDatasourceView{
		UserID:      userID,
		Name:        req.Name,
		Datasource:  datasource,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.logger.Error("Failed to create datasource view", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create datasource view"})
		return
	}

	h.logger.Info("Datasource view created",
		slog.String("datasource_view_id", viewID),
		slog.String("datasource", req.Datasource),
	)

	c.JSON(http.StatusCreated, gin.H{"datasource_view_id": viewID})
}

// ListDatasourceViews handles GET /api/v1/datasources
func (h *DatasourceHandler) ListDatasourceViews(c *gin.Context) {
	views, err := h.storage.FetchDatasourceViews(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list datasource views", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list datasource views"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"datasource_views": views})
}

// GetDatasourceView handles GET /api/v1/datasources/:datasource_id
func (h *DatasourceHandler) GetDatasourceView(c *gin.Context) {
	viewID := c.Param("datasource_id")

	view, err := h.storage.FetchDatasourceView(c.Request.Context(), viewID)
	if err != nil {
		if errors.Is(err, domain.ErrViewNotFound) || errors.Is(err, domain.ErrInvalidID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Datasource view not found"})
			return
		}
		h.logger.Error("Failed to get datasource view", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get datasource view"})
		return
	}

	c.JSON(http.StatusOK, view)
}

// EditDatasourceView handles PUT /api/v1/datasources/:datasource_id
func (h *DatasourceHandler) EditDatasourceView(c *gin.Context) {
	viewID := c.Param("datasource_id")

	var req dto.EditDatasourceViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	err := h.storage.EditDatasourceView(c.Request.Context(), viewID, domain.EditDatasourceView{
		Name:        req.Name,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		if errors.Is(err, domain.ErrViewNotFound) || errors.Is(err, domain.ErrInvalidID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Datasource view not found"})
			return
		}
		h.logger.Error("Failed to edit datasource view", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to edit datasource view"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"datasource_view_id": viewID})
}

// DeleteDatasourceView handles DELETE /api/v1/datasources/:datasource_id
func (h *DatasourceHandler) DeleteDatasourceView(c *gin.Context) {
	viewID := c.Param("datasource_id")

	err := h.storage.DeleteDatasourceView(c.Request.Context(), viewID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrViewNotFound), errors.Is(err, domain.ErrInvalidID):
			c.JSON(http.StatusNotFound, gin.H{"error": "Datasource view not found"})
		case errors.Is(err, domain.ErrViewHasPendingJob):
			c.JSON(http.StatusConflict, gin.H{"error": "Datasource view has a pending job"})
		default:
			h.logger.Error("Failed to delete datasource view", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete datasource view"})
		}
		return
	}

	if err := h.cache.Evict(c.Request.Context(), viewID); err != nil {
		h.logger.Warn("Failed to evict cached records for deleted view",
			slog.String("datasource_view_id", viewID),
			slog.Any("error", err),
		)
	}

	c.Status(http.StatusNoContent)
}

// GetViewData handles GET /api/v1/datasources/:datasource_id/data
//
// A cache hit returns the records directly. A miss starts a background
// fetch job and returns its id with an empty record set. A corrupt
// entry is evicted and reported as a server error so the next read
// starts from a clean miss.
func (h *DatasourceHandler) GetViewData(c *gin.Context) {
	viewID := c.Param("datasource_id")

	view, err := h.storage.FetchDatasourceView(c.Request.Context(), viewID)
	if err != nil {
		if errors.Is(err, domain.ErrViewNotFound) || errors.Is(err, domain.ErrInvalidID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Datasource view not found"})
			return
		}
		h.logger.Error("Failed to get datasource view", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get view data"})
		return
	}

	records, found, err := h.cache.GetRecords(c.Request.Context(), viewID)
	if err != nil {
		if errors.Is(err, cache.ErrCorruptEntry) {
			if evictErr := h.cache.Evict(c.Request.Context(), viewID); evictErr != nil {
				h.logger.Error("Failed to evict corrupt cache entry",
					slog.String("datasource_view_id", viewID),
					slog.Any("error", evictErr),
				)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Cached records were corrupt and have been evicted"})
			return
		}
		h.logger.Error("Failed to read record cache", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get view data"})
		return
	}

	if found {
		c.JSON(http.StatusOK, dto.ViewDataResponse{Records: records})
		return
	}

	jobID, err := h.startImportJob(c, view, actorFromHeaders(c, h.systemActor))
	if err != nil {
		if errors.Is(err, domain.ErrPendingJobExists) {
			// A fetch is already underway; point the caller at it.
			if pending := h.pendingJobForView(c, viewID); pending != "" {
				c.JSON(http.StatusAccepted, dto.ViewDataResponse{Records: []airtable.Record{}, JobID: pending})
				return
			}
		}
		h.logger.Error("Failed to start fetch job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get view data"})
		return
	}

	c.JSON(http.StatusAccepted, dto.ViewDataResponse{Records: []airtable.Record{}, JobID: jobID})
}

// RefreshViewData handles POST /api/v1/datasources/:datasource_id/refresh
func (h *DatasourceHandler) RefreshViewData(c *gin.Context) {
	viewID := c.Param("datasource_id")

	var req dto.StartJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	view, err := h.storage.FetchDatasourceView(c.Request.Context(), viewID)
	if err != nil {
		if errors.Is(err, domain.ErrViewNotFound) || errors.Is(err, domain.ErrInvalidID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Datasource view not found"})
			return
		}
		h.logger.Error("Failed to get datasource view", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh view data"})
		return
	}

	jobID, err := h.startImportJob(c, view, actorFromRequest(req.Actor))
	if err != nil {
		if errors.Is(err, domain.ErrPendingJobExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Datasource view already has a pending job"})
			return
		}
		h.logger.Error("Failed to start fetch job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh view data"})
		return
	}

	c.JSON(http.StatusAccepted, dto.StartJobResponse{JobID: jobID})
}

// ListViewJobs handles GET /api/v1/datasources/:datasource_id/jobs
func (h *DatasourceHandler) ListViewJobs(c *gin.Context) {
	viewID := c.Param("datasource_id")

	if _, err := h.storage.FetchDatasourceView(c.Request.Context(), viewID); err != nil {
		if errors.Is(err, domain.ErrViewNotFound) || errors.Is(err, domain.ErrInvalidID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Datasource view not found"})
			return
		}
		h.logger.Error("Failed to get datasource view", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	jobs, err := h.storage.FetchJobsForView(c.Request.Context(), viewID)
	if err != nil {
		h.logger.Error("Failed to list jobs for view", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *DatasourceHandler) startImportJob(c *gin.Context, view *domain.DatasourceView, actor domain.CreateUser) (string, error) {
	var meta domain.AirtableViewMetadata
	if err := json.Unmarshal(view.Metadata, &meta); err != nil {
		return "", err
	}

	viewID := view.ID

	return h.runner.StartJob(c.Request.Context(), runner.StartParams{
		Kind:   domain.JobKindImportData,
		ViewID: viewID,
		Actor:  actor,
	}, func(ctx context.Context, _ string) error {
		return h.importer.Run(ctx, viewID, meta)
	})
}

func (h *DatasourceHandler) pendingJobForView(c *gin.Context, viewID string) string {
	jobs, err := h.storage.FetchJobsForView(c.Request.Context(), viewID)
	if err != nil {
		return ""
	}
	for _, job := range jobs {
		if job.Status == domain.JobStatusPending {
			return job.ID
		}
	}

	return ""
}
