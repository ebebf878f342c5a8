package monitoring

import (
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	recalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "membership_chain_recalculations_total",
		Help: "Number of chain recalculations, partitioned by run mode.",
	}, []string{"mode"})

	cascadeDeletionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "membership_chain_cascade_deletions_total",
		Help: "Number of transitions cascade-deleted by recalculations.",
	})

	cascadeRestorationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "membership_chain_cascade_restorations_total",
		Help: "Number of stale cascade deletions undone by recalculations.",
	})

	workerRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "membership_cancellation_worker_runs_total",
		Help: "Number of cancellation worker sweeps, partitioned by outcome.",
	}, []string{"outcome"})
)

// Enabled reports whether metrics collection is on. Disable via
// ENABLE_OBSERVABILITY=false.
func Enabled() bool {
	v := os.Getenv("ENABLE_OBSERVABILITY")
	if v == "" {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return enabled
}

func ensureRegistered() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			recalculationsTotal,
			cascadeDeletionsTotal,
			cascadeRestorationsTotal,
			workerRunsTotal,
		)
	})
}

// Handler returns the HTTP handler serving the /metrics endpoint
func Handler() http.Handler {
	ensureRegistered()
	return promhttp.Handler()
}

// RecordRecalculation counts one recalculation and its cascade effects
func RecordRecalculation(removed, restored int, dryRun bool) {
	if !Enabled() {
		return
	}
	ensureRegistered()
	mode := "commit"
	if dryRun {
		mode = "dry_run"
	}
	recalculationsTotal.WithLabelValues(mode).Inc()
	cascadeDeletionsTotal.Add(float64(removed))
	cascadeRestorationsTotal.Add(float64(restored))
}

// RecordWorkerRun counts one cancellation worker sweep
func RecordWorkerRun(outcome string) {
	if !Enabled() {
		return
	}
	ensureRegistered()
	workerRunsTotal.WithLabelValues(outcome).Inc()
}
