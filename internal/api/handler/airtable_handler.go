package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AirtableHandler proxies upstream catalog lookups used when
// configuring datasource views.
type AirtableHandler struct {
	logger  *slog.Logger
	catalog Catalog
}

// NewAirtableHandler creates a new AirtableHandler instance
func NewAirtableHandler(deps *Dependencies) *AirtableHandler {
	return &AirtableHandler{
		logger:  deps.Logger,
		catalog: deps.Catalog,
	}
}

// ListBases handles GET /api/v1/airtable/bases
func (h *AirtableHandler) ListBases(c *gin.Context) {
	bases, err := h.catalog.ListBases(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list bases", slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list bases"})
		return
	}

	c.JSON(http.StatusOK, bases)
}

// GetBaseSchema handles GET /api/v1/airtable/bases/:base_id/schema
func (h *AirtableHandler) GetBaseSchema(c *gin.Context) {
	schema, err := h.catalog.FetchSchema(c.Request.Context(), c.Param("base_id"))
	if err != nil {
		h.logger.Error("Failed to fetch base schema",
			slog.String("base_id", c.Param("base_id")),
			slog.Any("error", err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch base schema"})
		return
	}

	c.JSON(http.StatusOK, schema)
}
