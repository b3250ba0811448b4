// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 守卫链与变更服务的运行指标，经 bootstrap 的 /metrics 暴露。
var (
	LockWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stocknexus",
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting for the distributed lock, per operation.",
		Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30},
	}, []string{"operation"})

	GuardOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stocknexus",
		Name:      "guard_operations_total",
		Help:      "Guarded operation outcomes: ok, error, lock_failed.",
	}, []string{"operation", "outcome"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stocknexus",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions, labelled by target state.",
	}, []string{"breaker", "state"})

	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stocknexus",
		Name:      "reservations_expired_total",
		Help:      "Reservations released by the expiry sweeper.",
	})
)
