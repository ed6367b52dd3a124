// Package metrics owns the Prometheus collectors for one server instance.
package metrics

import (
	"database/sql"
	"net/http"

	"github.com/jjudge-oj/userservice/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	LabelMethod = "method"
	LabelRoute  = "route"
	LabelStatus = "status"
	LabelType   = "type"
	LabelResult = "result"

	ResultOK    = "ok"
	ResultError = "error"

	// RouteUnmatched labels requests no route pattern matched, keeping
	// scanner noise out of the route label's cardinality.
	RouteUnmatched = "unmatched"
)

var httpLatencyBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// Metrics holds collectors registered on a private registry, so several
// servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	EventsPublished      *prometheus.CounterVec
}

// New registers the service collectors. When db is non-nil its pool
// statistics are exported under the "userservice" db_name label.
func New(db *sql.DB) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{LabelMethod, LabelRoute, LabelStatus},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: httpLatencyBuckets,
			},
			[]string{LabelMethod, LabelRoute},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being served",
			},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "users_events_published_total",
				Help: "User lifecycle events handed to the message broker",
			},
			[]string{LabelType, LabelResult},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if db != nil {
		reg.MustRegister(collectors.NewDBStatsCollector(db, "userservice"))
	}
	return m
}

// ObservePublish records one event publish attempt.
func (m *Metrics) ObservePublish(eventType types.EventType, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.EventsPublished.WithLabelValues(string(eventType), result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
