// Package metrics provides Prometheus collectors for the telemetry API (RED metrics for
// HTTP, store query latency, dependency health and connection pool stats).
package metrics

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "telemetry_api"

// Metrics groups every collector the service exports
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	StoreQueriesTotal   *prometheus.CounterVec
	StoreQueryDuration  prometheus.Histogram
	DependencyUp        *prometheus.GaugeVec
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		}, []string{"method", "route"}),
		StoreQueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_queries_total",
			Help:      "Store queries by outcome.",
		}, []string{"outcome"}),
		StoreQueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_duration_seconds",
			Help:      "Round-trip duration of store queries.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		DependencyUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_up",
			Help:      "Result of the last health probe per dependency (1 healthy, 0 unhealthy).",
		}, []string{"dependency"}),
	}
}

// RegisterDBStats exports sql.DB pool statistics
func RegisterDBStats(reg prometheus.Registerer, db *sql.DB, dbName string) error {
	return reg.Register(collectors.NewDBStatsCollector(db, dbName))
}

// ObserveRequest records one completed HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveQuery records one store round trip
func (m *Metrics) ObserveQuery(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StoreQueriesTotal.WithLabelValues(outcome).Inc()
	m.StoreQueryDuration.Observe(d.Seconds())
}

// SetDependency records the latest probe verdict for a dependency
func (m *Metrics) SetDependency(name string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	m.DependencyUp.WithLabelValues(name).Set(v)
}
