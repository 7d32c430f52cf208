package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/docjob-queue/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestLogger(deps.Logger))
	r.Use(CORS())

	jobHandler := handler.NewJobHandler(deps)

	r.GET("/health", jobHandler.HealthCheck)

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/uploads - Store an input file
		v1.POST("/uploads", jobHandler.UploadFile)

		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Enqueue a conversion job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/status - Get job status
			jobs.GET("/:job_id/status", jobHandler.GetJobStatus)

			// GET /api/v1/jobs/:job_id/output - Download the converted file
			jobs.GET("/:job_id/output", jobHandler.DownloadOutput)
		}
	}

	return r
}
