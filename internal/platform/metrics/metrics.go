package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, path and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// TravelTimeLookups counts cache lookups by outcome (hit or miss).
	TravelTimeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "travel_time_lookups_total", Help: "Travel time cache lookups by outcome."},
		[]string{"outcome"},
	)
	// BackfillCalls counts mapping-service backfill calls by result.
	BackfillCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "travel_time_backfill_calls_total", Help: "Mapping backfill calls by result."},
		[]string{"result"},
	)
	// BackfillPairs tracks how many ordered pairs each backfill covers.
	BackfillPairs = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "travel_time_backfill_pairs", Help: "Ordered pairs covered per backfill call.", Buckets: []float64{1, 5, 10, 25, 50, 100, 250}},
	)
	// RunTransitions counts run status transitions.
	RunTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "run_transitions_total", Help: "Optimization run status transitions."},
		[]string{"from", "to"},
	)
	// SolveDuration records end-to-end solver call durations.
	SolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "solve_duration_seconds", Help: "Solver call duration in seconds.", Buckets: []float64{1, 5, 10, 20, 30, 45, 60}},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(TravelTimeLookups)
		Registry.MustRegister(BackfillCalls)
		Registry.MustRegister(BackfillPairs)
		Registry.MustRegister(RunTransitions)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
