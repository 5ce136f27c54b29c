package router

import (
	"github.com/gin-gonic/gin"

	"github.com/finsightlab/finsight/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	analysisHandler := handler.NewAnalysisHandler(deps)

	// Flat surface, matching the paths clients already use
	r.POST("/analyze", analysisHandler.Analyze)
	r.GET("/status/:job_id", analysisHandler.GetStatus)
	r.GET("/result/:job_id", analysisHandler.GetResult)
	r.GET("/health", analysisHandler.Health)
	r.GET("/stats", analysisHandler.Stats)

	// Versioned surface
	v1 := r.Group("/api/v1")
	{
		v1.POST("/analyze", analysisHandler.Analyze)
		v1.GET("/status/:job_id", analysisHandler.GetStatus)
		v1.GET("/result/:job_id", analysisHandler.GetResult)

		// GET /api/v1/jobs - List jobs with filtering and pagination
		v1.GET("/jobs", analysisHandler.ListJobs)
	}

	return r
}
