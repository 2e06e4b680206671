// Package metrics holds the Prometheus instrumentation shared by the
// platform services.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every metric series exposed by the platform.
type Registry struct {
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	dbConnectionsActive prometheus.Gauge
	dbQueryDuration     *prometheus.HistogramVec
	mqttIngest          *prometheus.CounterVec
	mqttDLQ             *prometheus.CounterVec
	mqttEventLatency    prometheus.Histogram
	authAttempts        *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	pluginViolations    *prometheus.CounterVec
	pluginSecurityScore *prometheus.GaugeVec
	sinkDropped         prometheus.Counter
}

var (
	registryInstance *Registry
	registryOnce     sync.Once
)

// Get returns the process-wide metrics registry, initializing it on first use.
func Get() *Registry {
	registryOnce.Do(func() {
		registryInstance = newRegistry(prometheus.DefaultRegisterer)
	})
	return registryInstance
}

func newRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests handled by the API.",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration observed at the API layer.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint"},
		),
		dbConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_active",
				Help: "Connections currently acquired from the database pool.",
			},
		),
		dbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration partitioned by operation and table.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation", "table"},
		),
		mqttIngest: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqtt_ingest_total",
				Help: "Bus messages mirrored successfully, partitioned by topic and kind.",
			},
			[]string{"topic", "kind"},
		),
		mqttDLQ: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqtt_dlq_total",
				Help: "Bus messages routed to the dead-letter queue.",
			},
			[]string{"topic", "reason"},
		),
		mqttEventLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mqtt_event_latency_seconds",
				Help:    "Latency from bus delivery to mirror persistence.",
				Buckets: prometheus.DefBuckets,
			},
		),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_attempts_total",
				Help: "Authentication attempts partitioned by result and method.",
			},
			[]string{"result", "method"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_sessions",
				Help: "Sessions currently active.",
			},
		),
		pluginViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_security_violations_total",
				Help: "Security violations recorded against plugins.",
			},
			[]string{"plugin_id", "violation_type", "severity"},
		),
		pluginSecurityScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "plugin_security_score",
				Help: "Current 0-100 security score per plugin.",
			},
			[]string{"plugin_id"},
		),
		sinkDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "logging_sink_dropped_total",
				Help: "Log records dropped because the sink queue was full.",
			},
		),
	}

	reg.MustRegister(
		r.httpRequests,
		r.httpDuration,
		r.dbConnectionsActive,
		r.dbQueryDuration,
		r.mqttIngest,
		r.mqttDLQ,
		r.mqttEventLatency,
		r.authAttempts,
		r.activeSessions,
		r.pluginViolations,
		r.pluginSecurityScore,
		r.sinkDropped,
	)

	return r
}

// Handler returns the Prometheus text exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest observes one completed HTTP request.
func (r *Registry) RecordHTTPRequest(method, endpoint string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	r.httpRequests.WithLabelValues(method, endpoint, code).Inc()
	r.httpDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}

// SetDBConnectionsActive updates the active pool connection gauge.
func (r *Registry) SetDBConnectionsActive(n int32) {
	r.dbConnectionsActive.Set(float64(n))
}

// ObserveDBQuery records a database query duration.
func (r *Registry) ObserveDBQuery(operation, table string, elapsed time.Duration) {
	r.dbQueryDuration.WithLabelValues(operation, table).Observe(elapsed.Seconds())
}

// RecordIngest counts one successfully mirrored bus message.
func (r *Registry) RecordIngest(topic, kind string) {
	r.mqttIngest.WithLabelValues(topic, kind).Inc()
}

// RecordDLQ counts one message routed to the dead-letter queue.
func (r *Registry) RecordDLQ(topic, reason string) {
	r.mqttDLQ.WithLabelValues(topic, reason).Inc()
}

// ObserveEventLatency records delivery-to-persistence latency.
func (r *Registry) ObserveEventLatency(elapsed time.Duration) {
	r.mqttEventLatency.Observe(elapsed.Seconds())
}

// RecordAuthAttempt counts one authentication attempt.
func (r *Registry) RecordAuthAttempt(result, method string) {
	r.authAttempts.WithLabelValues(result, method).Inc()
}

// SetActiveSessions updates the active session gauge.
func (r *Registry) SetActiveSessions(n int) {
	r.activeSessions.Set(float64(n))
}

// IncActiveSessions bumps the active session gauge.
func (r *Registry) IncActiveSessions() {
	r.activeSessions.Inc()
}

// DecActiveSessions lowers the active session gauge.
func (r *Registry) DecActiveSessions() {
	r.activeSessions.Dec()
}

// RecordPluginViolation counts one security violation.
func (r *Registry) RecordPluginViolation(pluginID, violationType, severity string) {
	r.pluginViolations.WithLabelValues(pluginID, violationType, severity).Inc()
}

// SetPluginSecurityScore updates a plugin's score gauge.
func (r *Registry) SetPluginSecurityScore(pluginID string, score int) {
	r.pluginSecurityScore.WithLabelValues(pluginID).Set(float64(score))
}

// RecordSinkDrop counts one dropped log record.
func (r *Registry) RecordSinkDrop() {
	r.sinkDropped.Inc()
}
