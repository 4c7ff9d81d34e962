package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/joshu-sajeev/migrateq/internal/telemetry"
	"github.com/joshu-sajeev/migrateq/middleware"
)

// SupervisorInterface is the slice of the consumer supervisor the admin
// endpoints need.
type SupervisorInterface interface {
	Start(queue string) error
	Stop(queue string) error
	Restart(queue string) error
	Health() map[string]bool
	Stats() map[string]broker.QueueInfo
}

// ConsumerAdminHandler exposes start/stop/restart and status endpoints for
// the worker process.
type ConsumerAdminHandler struct {
	supervisor SupervisorInterface
}

func NewConsumerAdminHandler(s SupervisorInterface) *ConsumerAdminHandler {
	return &ConsumerAdminHandler{supervisor: s}
}

func (h *ConsumerAdminHandler) Start(c *gin.Context) {
	queue := c.Param("queue")
	if err := h.supervisor.Start(queue); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": queue, "status": "started"})
}

func (h *ConsumerAdminHandler) Stop(c *gin.Context) {
	queue := c.Param("queue")
	if err := h.supervisor.Stop(queue); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": queue, "status": "stopped"})
}

func (h *ConsumerAdminHandler) Restart(c *gin.Context) {
	queue := c.Param("queue")
	if err := h.supervisor.Restart(queue); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": queue, "status": "restarted"})
}

// Health reports per-consumer liveness. Any dead consumer degrades the
// whole response to 503 so orchestrators restart the process.
func (h *ConsumerAdminHandler) Health(c *gin.Context) {
	health := h.supervisor.Health()
	status := http.StatusOK
	for _, ok := range health {
		if !ok {
			status = http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(status, gin.H{"consumers": health})
}

func (h *ConsumerAdminHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queues": h.supervisor.Stats()})
}

// WorkerRouter wires the consumer admin endpoints onto a gin engine for the
// worker process.
type WorkerRouter struct {
	Consumers *ConsumerAdminHandler
	Metrics   *telemetry.Metrics
}

func (r *WorkerRouter) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.ErrorHandler())
	if r.Metrics != nil {
		engine.Use(r.Metrics.HTTPMiddleware())
		engine.GET("/metrics", r.Metrics.Handler())
	}

	engine.GET("/healthz", r.Consumers.Health)

	api := engine.Group("/api")
	{
		api.GET("/consumers/health", r.Consumers.Health)
		api.GET("/consumers/stats", r.Consumers.Stats)
		api.POST("/consumers/:queue/start", r.Consumers.Start)
		api.POST("/consumers/:queue/stop", r.Consumers.Stop)
		api.POST("/consumers/:queue/restart", r.Consumers.Restart)
	}

	return engine
}
