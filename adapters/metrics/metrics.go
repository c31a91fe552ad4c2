// Package metrics provides Prometheus metrics collection for Kalita.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/kalita/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kalita"

// Collector holds all Prometheus metrics for Kalita.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Record metrics
	RecordMutations     *prometheus.CounterVec
	VersionConflicts    *prometheus.CounterVec
	IntegrityRejections *prometheus.CounterVec
	BulkItems           *prometheus.CounterVec

	// Schema metrics
	SchemaReloads      prometheus.Counter
	SchemaReloadErrors prometheus.Counter
	SchemaLastReload   prometheus.Gauge

	// Config metrics
	ConfigReloads prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates a collector registered with the default Prometheus registry.
func New() *Collector {
	return newCollector(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	return newCollector(reg, reg)
}

func newCollector(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		RecordMutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_mutations_total",
				Help:      "Committed record mutations by entity and operation",
			},
			[]string{"entity", "op"},
		),
		VersionConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_conflicts_total",
				Help:      "Mutations rejected for a missing or stale version",
			},
			[]string{"entity"},
		),
		IntegrityRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integrity_rejections_total",
				Help:      "Mutations rejected with a field error, by code",
			},
			[]string{"entity", "code"},
		),
		BulkItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bulk_items_total",
				Help:      "Bulk items processed by operation and outcome",
			},
			[]string{"op", "outcome"},
		),

		SchemaReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schema_reloads_total",
				Help:      "Total number of successful schema reloads",
			},
		),
		SchemaReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schema_reload_errors_total",
				Help:      "Total number of rejected schema reloads",
			},
		),
		SchemaLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "schema_last_reload_timestamp",
				Help:      "Unix timestamp of last successful schema reload",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),

		gatherer: gatherer,
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	c.RequestsTotal.WithLabelValues(method, route, code).Inc()
	c.RequestDuration.WithLabelValues(method, route, StatusClass(status)).Observe(d.Seconds())
}

// RecordMutation implements ports.Metrics.
func (c *Collector) RecordMutation(entity, op string) {
	c.RecordMutations.WithLabelValues(entity, op).Inc()
}

// RecordVersionConflict implements ports.Metrics.
func (c *Collector) RecordVersionConflict(entity string) {
	c.VersionConflicts.WithLabelValues(entity).Inc()
}

// RecordIntegrityRejection implements ports.Metrics.
func (c *Collector) RecordIntegrityRejection(entity, code string) {
	c.IntegrityRejections.WithLabelValues(entity, code).Inc()
}

// RecordBulkItem implements ports.Metrics.
func (c *Collector) RecordBulkItem(op, outcome string) {
	c.BulkItems.WithLabelValues(op, outcome).Inc()
}

// RecordSchemaReload implements ports.Metrics.
func (c *Collector) RecordSchemaReload(ok bool, at time.Time) {
	if !ok {
		c.SchemaReloadErrors.Inc()
		return
	}
	c.SchemaReloads.Inc()
	c.SchemaLastReload.Set(float64(at.Unix()))
}

// StatusClass returns a string label for the status code.
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

var _ ports.Metrics = (*Collector)(nil)
