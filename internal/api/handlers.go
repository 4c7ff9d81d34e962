// Package api exposes the migration engine over HTTP.
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/joshu-sajeev/migrateq/internal/dto"
	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"github.com/joshu-sajeev/migrateq/internal/migration"
	"github.com/joshu-sajeev/migrateq/internal/publisher"
	"github.com/joshu-sajeev/migrateq/middleware"
)

// QueueInspector is the slice of the broker client the HTTP layer reads
// from.
type QueueInspector interface {
	QueueInfo(name string) (broker.QueueInfo, error)
	ListKnownQueues() []string
	PurgeQueue(name string) (int, error)
	IsConnected() bool
}

// MigrationHandler serves migration lifecycle requests.
type MigrationHandler struct {
	service migration.ServiceInterface
}

func NewMigrationHandler(s migration.ServiceInterface) *MigrationHandler {
	return &MigrationHandler{service: s}
}

// Start kicks off a bulk-update migration over all pending documents.
// Returns HTTP 202 because the work continues after the response.
func (h *MigrationHandler) Start(c *gin.Context) {
	var req dto.MigrationStartDTO
	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.StartMigration(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// StartArchive kicks off an archive migration over processed documents.
func (h *MigrationHandler) StartArchive(c *gin.Context) {
	var req dto.MigrationStartDTO
	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.StartArchiveMigration(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// RetryFailed resets failed documents to pending and migrates them again.
func (h *MigrationHandler) RetryFailed(c *gin.Context) {
	resp, err := h.service.RetryFailed(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// ProcessAll starts a migration over every pending document with defaults.
func (h *MigrationHandler) ProcessAll(c *gin.Context) {
	resp, err := h.service.ProcessAllPending(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// CompleteProcessing re-pools documents left in processing and migrates them.
func (h *MigrationHandler) CompleteProcessing(c *gin.Context) {
	resp, err := h.service.CompleteProcessing(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// Cancel marks a running migration as cancelled.
func (h *MigrationHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if strings.TrimSpace(id) == "" {
		c.Error(common.ValidationErrf("migration id is required"))
		c.Abort()
		return
	}

	if err := h.service.CancelMigration(c.Request.Context(), id); err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.Status(http.StatusNoContent)
}

// Seed inserts synthetic documents for load testing.
func (h *MigrationHandler) Seed(c *gin.Context) {
	var req dto.SeedRequestDTO
	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	if err := h.service.SeedDocuments(c.Request.Context(), req.Count); err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, gin.H{"seeded": req.Count})
}

// Summary returns per-status counts for jobs and documents.
func (h *MigrationHandler) Summary(c *gin.Context) {
	resp, err := h.service.Summary(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, resp)
}

// JobHandler serves job ledger queries.
type JobHandler struct {
	service ledger.ServiceInterface
}

func NewJobHandler(s ledger.ServiceInterface) *JobHandler {
	return &JobHandler{service: s}
}

// Get returns one ledger record by correlation id.
func (h *JobHandler) Get(c *gin.Context) {
	resp, err := h.service.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, resp)
}

// List returns ledger records matching the query filter.
func (h *JobHandler) List(c *gin.Context) {
	var q dto.JobListQueryDTO
	if !middleware.BindQuery(c, &q) {
		c.Abort()
		return
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), ledger.JobFilter{
		Status:      q.Status,
		JobType:     q.JobType,
		ParentJobID: q.ParentJobID,
		Limit:       q.Limit,
	})
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// Batches returns every batch record belonging to a migration.
func (h *JobHandler) Batches(c *gin.Context) {
	batches, err := h.service.ListBatchJobs(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, gin.H{"batches": batches, "count": len(batches)})
}

// PublishHandler serves direct batch publish requests.
type PublishHandler struct {
	service publisher.ServiceInterface
}

func NewPublishHandler(s publisher.ServiceInterface) *PublishHandler {
	return &PublishHandler{service: s}
}

// Publish validates a batch and hands it to the broker. Batches published
// here have no parent migration.
func (h *PublishHandler) Publish(c *gin.Context) {
	var req dto.PublishBatchDTO
	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.PublishBatch(c.Request.Context(), req, "")
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// QueueHandler serves queue inspection requests.
type QueueHandler struct {
	inspector QueueInspector
}

func NewQueueHandler(i QueueInspector) *QueueHandler {
	return &QueueHandler{inspector: i}
}

// Stats returns depth and consumer count for every declared queue.
func (h *QueueHandler) Stats(c *gin.Context) {
	stats := map[string]broker.QueueInfo{}
	for _, name := range h.inspector.ListKnownQueues() {
		info, err := h.inspector.QueueInfo(name)
		if err != nil {
			continue
		}
		stats[name] = info
	}

	c.JSON(http.StatusOK, stats)
}

// Purge drops every ready message from one queue.
func (h *QueueHandler) Purge(c *gin.Context) {
	name := c.Param("name")
	if !broker.IsValidQueueName(name) {
		c.Error(common.NotFoundErrf("unknown queue %q", name))
		c.Abort()
		return
	}

	purged, err := h.inspector.PurgeQueue(name)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, gin.H{"queue": name, "purged": purged})
}

// Health reports broker connectivity.
func (h *QueueHandler) Health(c *gin.Context) {
	status := http.StatusOK
	connected := h.inspector.IsConnected()
	if !connected {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{"broker": connected})
}
