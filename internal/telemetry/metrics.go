package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	brokerConnected  prometheus.Gauge
	brokerReconnects prometheus.Counter
	messagesTotal    *prometheus.CounterVec

	batchesPublished *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "migrateq_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migrateq_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		brokerConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "migrateq_broker_connected",
			Help: "Whether the broker connection is up (1) or down (0).",
		}),
		brokerReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "migrateq_broker_reconnects_total",
			Help: "Successful broker reconnections.",
		}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "migrateq_messages_total",
			Help: "Consumed messages by queue and outcome.",
		}, []string{"queue", "outcome"}),
		batchesPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "migrateq_batches_published_total",
			Help: "Published batches by queue type.",
		}, []string{"queue_type"}),
		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migrateq_batch_processing_duration_seconds",
			Help:    "Batch processing time by queue.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"queue"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// HTTPMiddleware records request counts and latency per route.
func (m *Metrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).
			Observe(time.Since(start).Seconds())
	}
}

// BrokerEventHook adapts the broker's event stream onto the counters.
// Pass it to broker.WithEventHook.
func (m *Metrics) BrokerEventHook() func(broker.Event) {
	return func(e broker.Event) {
		switch e.Type {
		case broker.EventConnected:
			m.brokerConnected.Set(1)
		case broker.EventConnectionLost, broker.EventReconnectExhausted:
			m.brokerConnected.Set(0)
		case broker.EventReconnected:
			m.brokerConnected.Set(1)
			m.brokerReconnects.Inc()
		case broker.EventMessageProcessed:
			m.messagesTotal.WithLabelValues(e.Queue, "processed").Inc()
		case broker.EventMessageRetried:
			m.messagesTotal.WithLabelValues(e.Queue, "retried").Inc()
		case broker.EventMessageDeadLetter:
			m.messagesTotal.WithLabelValues(e.Queue, "dead_lettered").Inc()
		case broker.EventMessageDropped:
			m.messagesTotal.WithLabelValues(e.Queue, "dropped").Inc()
		}
	}
}

// BatchPublished counts one published batch.
func (m *Metrics) BatchPublished(queueType string) {
	m.batchesPublished.WithLabelValues(queueType).Inc()
}

// ObserveBatch records how long one batch took to process.
func (m *Metrics) ObserveBatch(queue string, took time.Duration) {
	m.batchDuration.WithLabelValues(queue).Observe(took.Seconds())
}
