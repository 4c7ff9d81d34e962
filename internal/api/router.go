package api

import (
	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/migrateq/internal/telemetry"
	"github.com/joshu-sajeev/migrateq/middleware"
)

// Router wires every handler onto a gin engine.
type Router struct {
	Migrations *MigrationHandler
	Jobs       *JobHandler
	Publish    *PublishHandler
	Queues     *QueueHandler
	Metrics    *telemetry.Metrics
}

func (r *Router) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.ErrorHandler())
	if r.Metrics != nil {
		engine.Use(r.Metrics.HTTPMiddleware())
		engine.GET("/metrics", r.Metrics.Handler())
	}

	engine.GET("/healthz", r.Queues.Health)

	api := engine.Group("/api")
	{
		api.POST("/migrations", r.Migrations.Start)
		api.POST("/migrations/archive", r.Migrations.StartArchive)
		api.POST("/migrations/retry", r.Migrations.RetryFailed)
		api.POST("/migrations/complete-processing", r.Migrations.CompleteProcessing)
		api.POST("/migrations/process-all", r.Migrations.ProcessAll)
		api.POST("/migrations/:id/cancel", r.Migrations.Cancel)
		api.GET("/summary", r.Migrations.Summary)
		api.POST("/seed", r.Migrations.Seed)

		api.GET("/jobs", r.Jobs.List)
		api.GET("/jobs/:id", r.Jobs.Get)
		api.GET("/jobs/:id/batches", r.Jobs.Batches)

		api.POST("/publish", r.Publish.Publish)

		api.GET("/queues/stats", r.Queues.Stats)
		api.POST("/queues/:name/purge", r.Queues.Purge)
	}

	return engine
}
