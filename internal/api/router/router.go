package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pantheonhq/pantheon/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "pantheon-api",
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "pantheon-api",
		})
	})

	datasourceHandler := handler.NewDatasourceHandler(deps)
	jobHandler := handler.NewJobHandler(deps)
	exportHandler := handler.NewExportHandler(deps)
	airtableHandler := handler.NewAirtableHandler(deps)
	workspaceHandler := handler.NewWorkspaceHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		airtableGroup := v1.Group("/airtable")
		{
			airtableGroup.GET("/bases", airtableHandler.ListBases)
			airtableGroup.GET("/bases/:base_id/schema", airtableHandler.GetBaseSchema)
		}

		workspaceGroup := v1.Group("/workspace")
		{
			workspaceGroup.GET("/users", workspaceHandler.ListDirectoryUsers)
		}

		datasources := v1.Group("/datasources")
		{
			datasources.POST("", datasourceHandler.CreateDatasourceView)
			datasources.GET("", datasourceHandler.ListDatasourceViews)
			datasources.GET("/:datasource_id", datasourceHandler.GetDatasourceView)
			datasources.PUT("/:datasource_id", datasourceHandler.EditDatasourceView)
			datasources.DELETE("/:datasource_id", datasourceHandler.DeleteDatasourceView)

			datasources.GET("/:datasource_id/data", datasourceHandler.GetViewData)
			datasources.POST("/:datasource_id/refresh", datasourceHandler.RefreshViewData)
			datasources.GET("/:datasource_id/jobs", datasourceHandler.ListViewJobs)
			datasources.POST("/:datasource_id/export", exportHandler.ExportUsers)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/undo", jobHandler.UndoExport)
		}
	}

	return r
}
