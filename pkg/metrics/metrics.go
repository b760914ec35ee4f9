// Package metrics holds the Prometheus instrumentation shared by the
// ingestion layer, the execution engine and the HTTP adapter.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Connection metrics
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	connectionsOpen   prometheus.Gauge
	bytesFed          prometheus.Counter
	recordsForwarded  prometheus.Counter

	// Pipeline metrics
	batchesEmitted *prometheus.CounterVec
	sinkWrites     *prometheus.CounterVec
	engineTasks    *prometheus.CounterVec
	engineQueued   *prometheus.GaugeVec

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec
}

// New creates and registers all metrics on reg. Passing nil registers on the
// Prometheus default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		connectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "bulkline_connections_opened_total",
			Help: "Total number of opened ingestion connections",
		}),
		connectionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bulkline_connections_closed_total",
			Help: "Total number of closed ingestion connections",
		}),
		connectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bulkline_connections_open",
			Help: "Number of currently open ingestion connections",
		}),
		bytesFed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bulkline_bytes_fed_total",
			Help: "Total number of bytes fed into connections",
		}),
		recordsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "bulkline_records_forwarded_total",
			Help: "Total number of records forwarded to batchers",
		}),

		batchesEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkline_batches_emitted_total",
				Help: "Total number of emitted batches",
			},
			[]string{"kind"},
		),
		sinkWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkline_sink_writes_total",
				Help: "Total number of batch writes per sink",
			},
			[]string{"sink", "status"},
		),
		engineTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkline_engine_tasks_total",
				Help: "Total number of tasks run by the execution engine",
			},
			[]string{"lane", "status"},
		),
		engineQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bulkline_engine_queued_tasks",
				Help: "Number of tasks waiting in an engine lane",
			},
			[]string{"lane"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkline_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bulkline_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bulkline_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
			[]string{"method", "endpoint"},
		),
	}
}

// ConnectionOpened records a new connection
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsOpened.Inc()
	m.connectionsOpen.Inc()
}

// ConnectionClosed records a closed connection
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
	m.connectionsOpen.Dec()
}

// Fed records a fed chunk and the records it produced
func (m *Metrics) Fed(bytes, records int) {
	if m == nil {
		return
	}
	m.bytesFed.Add(float64(bytes))
	m.recordsForwarded.Add(float64(records))
}

// BatchEmitted records an emitted batch. Final batches come from Finish.
func (m *Metrics) BatchEmitted(final bool) {
	if m == nil {
		return
	}
	kind := "full"
	if final {
		kind = "final"
	}
	m.batchesEmitted.WithLabelValues(kind).Inc()
}

// SinkWrite records a batch write on a sink
func (m *Metrics) SinkWrite(sink string, success bool) {
	if m == nil {
		return
	}
	m.sinkWrites.WithLabelValues(sink, status(success)).Inc()
}

// EngineTask records a finished engine task
func (m *Metrics) EngineTask(lane string, success bool) {
	if m == nil {
		return
	}
	m.engineTasks.WithLabelValues(lane, status(success)).Inc()
}

// EngineQueued adjusts the queued-task gauge of a lane
func (m *Metrics) EngineQueued(lane string, delta float64) {
	if m == nil {
		return
	}
	m.engineQueued.WithLabelValues(lane).Add(delta)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	statusCodeStr := strconv.Itoa(statusCode)

	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCodeStr).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// InstrumentHandler instruments an HTTP handler with metrics
func (m *Metrics) InstrumentHandler(method, endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return handler
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		gauge := m.httpRequestsInFlight.WithLabelValues(method, endpoint)
		gauge.Inc()
		defer gauge.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(rw, r)

		m.RecordHTTPRequest(method, endpoint, rw.statusCode, time.Since(start))
	}
}

func status(success bool) string {
	if success {
		return statusSuccess
	}
	return statusError
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
