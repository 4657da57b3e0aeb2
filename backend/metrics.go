package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// setupTotal counts setups by solver type
	setupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosles_backend_setup_total",
		Help: "Backend solver setups by solver type",
	}, []string{"solver"})

	// solveTotal counts solves by solver type
	solveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosles_backend_solve_total",
		Help: "Backend solves by solver type",
	}, []string{"solver"})

	solveIterations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gosles_backend_solve_iterations",
		Help:    "Iterations per backend solve",
		Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1 to 1024
	}, []string{"solver"})

	setupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gosles_backend_setup_duration_seconds",
		Help:    "Backend setup duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 0.1ms to ~26s
	}, []string{"solver"})

	solveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gosles_backend_solve_duration_seconds",
		Help:    "Backend solve duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"solver"})

	// failureTotal counts solves classified as diverged or broken down
	failureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosles_backend_failure_total",
		Help: "Backend solves ending in divergence or breakdown",
	}, []string{"solver", "state"})
)
