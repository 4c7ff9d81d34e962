package telemetry

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_BrokerEventHook(t *testing.T) {
	m := New()
	hook := m.BrokerEventHook()

	hook(broker.Event{Type: broker.EventConnected})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.brokerConnected))

	hook(broker.Event{Type: broker.EventConnectionLost})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.brokerConnected))

	hook(broker.Event{Type: broker.EventReconnected, Attempt: 2})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.brokerConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.brokerReconnects))

	hook(broker.Event{Type: broker.EventMessageProcessed, Queue: broker.QueueProcessing})
	hook(broker.Event{Type: broker.EventMessageProcessed, Queue: broker.QueueProcessing})
	hook(broker.Event{Type: broker.EventMessageDeadLetter, Queue: broker.QueueProcessing})

	assert.Equal(t, 2.0, testutil.ToFloat64(
		m.messagesTotal.WithLabelValues(broker.QueueProcessing, "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.messagesTotal.WithLabelValues(broker.QueueProcessing, "dead_lettered")))
}

func TestMetrics_BatchCounters(t *testing.T) {
	m := New()

	m.BatchPublished("processing")
	m.BatchPublished("processing")
	m.BatchPublished("archive")
	m.ObserveBatch(broker.QueueProcessing, 250*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.batchesPublished.WithLabelValues("processing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesPublished.WithLabelValues("archive")))
}

func TestMetrics_HTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	r := gin.New()
	r.Use(m.HTTPMiddleware())
	r.GET("/api/jobs/:id", func(c *gin.Context) { c.Status(200) })
	r.GET("/metrics", m.Handler())

	req := httptest.NewRequest("GET", "/api/jobs/batch-001", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.httpRequests.WithLabelValues("GET", "/api/jobs/:id", "200")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "migrateq_http_requests_total")
}
