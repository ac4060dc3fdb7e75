// Package metrics exposes cachettl's operational counters and
// histograms via github.com/prometheus/client_golang, matching the
// teacher's registered-vars-plus-Timer-helper shape.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	KeysTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cachettl_keys_total",
			Help: "Total number of live keys in the store",
		},
	)

	WorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cachettl_workers_active",
			Help: "Total number of currently supervised Workers",
		},
	)

	WorkerRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cachettl_worker_restarts_total",
			Help: "Total number of times a Worker was restarted after a panic",
		},
	)

	KeyExpirationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cachettl_key_expirations_total",
			Help: "Total number of keys reclaimed by TTL expiry",
		},
	)

	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachettl_store_operations_total",
			Help: "Total Store() calls by result",
		},
		[]string{"result"},
	)

	RecipeOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachettl_recipe_outcomes_total",
			Help: "Total recipe invocations by outcome",
		},
		[]string{"outcome"},
	)

	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cachettl_refresh_duration_seconds",
			Help:    "Time taken to invoke a recipe on a refresh tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cachettl_install_duration_seconds",
			Help:    "Time taken for the Manager's task pool to install a recipe",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		KeysTotal,
		WorkersActive,
		WorkerRestartsTotal,
		KeyExpirationsTotal,
		StoreOperationsTotal,
		RecipeOutcomesTotal,
		RefreshDuration,
		InstallDuration,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
