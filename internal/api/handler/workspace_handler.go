package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WorkspaceHandler proxies directory lookups used to inspect the export
// target.
type WorkspaceHandler struct {
	logger     *slog.Logger
	directory  Directory
	adminEmail string
}

// NewWorkspaceHandler creates a new WorkspaceHandler instance
func NewWorkspaceHandler(deps *Dependencies) *WorkspaceHandler {
	return &WorkspaceHandler{
		logger:     deps.Logger,
		directory:  deps.Directory,
		adminEmail: deps.AdminEmail,
	}
}

// ListDirectoryUsers handles GET /api/v1/workspace/users
func (h *WorkspaceHandler) ListDirectoryUsers(c *gin.Context) {
	users, err := h.directory.ListUsers(c.Request.Context(), h.adminEmail)
	if err != nil {
		h.logger.Error("Failed to list directory users", slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list directory users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}
