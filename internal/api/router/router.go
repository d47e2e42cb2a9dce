package router

import (
	"github.com/gin-gonic/gin"

	"github.com/toolforge/toolforge-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/healthz", healthHandler.Healthz)

	jobHandler := handler.NewJobHandler(deps)
	creditHandler := handler.NewCreditHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/tool-jobs")
		{
			jobs.POST("", jobHandler.CreateToolJob)
			jobs.GET("", jobHandler.ListToolJobs)
			jobs.GET("/:job_id", jobHandler.GetToolJob)
			jobs.POST("/:job_id/cancel", jobHandler.CancelToolJob)
		}

		orgs := v1.Group("/organizations/:org_id")
		{
			orgs.GET("/credits", creditHandler.GetCreditBalance)
			orgs.GET("/credits/transactions", creditHandler.ListCreditTransactions)
		}
	}

	// Operator-facing endpoints, not part of the public surface
	internal := r.Group("/internal")
	{
		maintenanceHandler := handler.NewMaintenanceHandler(deps)
		internal.POST("/maintenance/run", maintenanceHandler.RunMaintenance)

		internal.POST("/credits/grant", creditHandler.GrantCredits)
		internal.POST("/credits/reset", creditHandler.ResetCredits)
	}

	return r
}
