// Package metrics holds the Prometheus collectors exported by hydranamed.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Configuration metrics
	ReconfigurationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydranamed_reconfigurations_total",
			Help: "Configuration loads by result (success, failure)",
		},
		[]string{"result"},
	)

	ReconfigurationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hydranamed_reconfiguration_duration_seconds",
			Help:    "Time taken to build and publish a configuration",
			Buckets: prometheus.DefBuckets,
		},
	)

	LastReconfiguration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hydranamed_last_reconfiguration_timestamp_seconds",
			Help: "Unix time of the last successful configuration publish",
		},
	)

	ZonesReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydranamed_zones_reconciled_total",
			Help: "Zone statements processed by outcome (reused, created)",
		},
		[]string{"outcome"},
	)

	ZoneLoadFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hydranamed_zone_load_failures_total",
			Help: "Zone data loads that failed",
		},
	)

	ViewsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hydranamed_views",
			Help: "Views in the production configuration",
		},
	)

	ZonesManaged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hydranamed_zones_managed",
			Help: "Zones registered with the zone manager",
		},
	)

	ZoneRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydranamed_zone_refreshes_total",
			Help: "Zone refresh attempts by result",
		},
		[]string{"result"},
	)

	// Query metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydranamed_queries_total",
			Help: "Queries answered by response code",
		},
		[]string{"rcode"},
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hydranamed_query_duration_seconds",
			Help:    "Query processing latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	QuotaRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydranamed_quota_rejections_total",
			Help: "Operations rejected because a quota was exhausted",
		},
		[]string{"quota"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydranamed_api_requests_total",
			Help: "Management API requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(ReconfigurationsTotal)
	prometheus.MustRegister(ReconfigurationDuration)
	prometheus.MustRegister(LastReconfiguration)
	prometheus.MustRegister(ZonesReconciled)
	prometheus.MustRegister(ZoneLoadFailures)
	prometheus.MustRegister(ViewsActive)
	prometheus.MustRegister(ZonesManaged)
	prometheus.MustRegister(ZoneRefreshes)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QuotaRejections)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on o.
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
