// Package metrics exposes Prometheus counters/gauges/histograms for the
// scan-orchestration pipeline: task outcomes by pool, queue/DLQ depth,
// per-pool active-scan count, idempotency outcomes, and circuit breaker
// state.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scanorch/scanorch/internal/breaker"
	"github.com/scanorch/scanorch/internal/idempotency"
	"github.com/scanorch/scanorch/internal/lifecycle"
	"github.com/scanorch/scanorch/internal/queue"
	"github.com/scanorch/scanorch/internal/registry"
)

const namespace = "scanorch"

var (
	registerOnce sync.Once

	tasksSubmitted *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	tasksFailed    *prometheus.CounterVec
	tasksTimeout   *prometheus.CounterVec
	tasksCancelled *prometheus.CounterVec

	taskDuration *prometheus.HistogramVec

	idempotencyOutcomes *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec
	circuitBreakerTrips *prometheus.CounterVec

	ttlDeletionsTotal *prometheus.CounterVec
)

// Register wires the collectors into the default Prometheus registry and
// starts background pollers for queue/DLQ depth and the active-scan count
// across a pool's instances, one set per configured pool. Safe to call multiple
// times; only the first call takes effect.
func Register(q *queue.Queue, reg *registry.Registry, pools []string) {
	registerOnce.Do(func() {
		tasksSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Number of scan tasks submitted, by pool.",
		}, []string{"pool"})
		tasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Number of scan tasks that reached completed.",
		}, []string{"pool"})
		tasksFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Number of scan tasks that reached failed.",
		}, []string{"pool"})
		tasksTimeout = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_timeout_total",
			Help:      "Number of scan tasks that reached timeout.",
		}, []string{"pool"})
		tasksCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_cancelled_total",
			Help:      "Number of scan tasks that reached cancelled.",
		}, []string{"pool"})

		taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock duration from queued to a terminal state.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 12),
		}, []string{"pool", "status"})

		idempotencyOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_outcomes_total",
			Help:      "Idempotency reservation/check outcomes by kind.",
		}, []string{"outcome"})

		circuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per scanner instance key (0=closed, 1=open, 2=half_open).",
		}, []string{"instance_key"})
		circuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Number of times a circuit breaker opened, per scanner instance key.",
		}, []string{"instance_key"})

		ttlDeletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ttl_deletions_total",
			Help:      "Number of task directories removed by the housekeeping sweep, by status.",
		}, []string{"status"})

		collectors := []prometheus.Collector{
			tasksSubmitted, tasksCompleted, tasksFailed, tasksTimeout, tasksCancelled,
			taskDuration, idempotencyOutcomes, circuitBreakerState, circuitBreakerTrips,
			ttlDeletionsTotal,
		}

		for _, pool := range pools {
			pool := pool
			collectors = append(collectors,
				prometheus.NewGaugeFunc(prometheus.GaugeOpts{
					Namespace:   namespace,
					Name:        "queue_depth",
					Help:        "Pending task count in a pool's queue.",
					ConstLabels: prometheus.Labels{"pool": pool},
				}, func() float64 {
					ctx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					depth, err := q.Depth(ctx, pool)
					if err != nil {
						return 0
					}
					return float64(depth)
				}),
				prometheus.NewGaugeFunc(prometheus.GaugeOpts{
					Namespace:   namespace,
					Name:        "dlq_depth",
					Help:        "Number of entries in a pool's dead letter queue.",
					ConstLabels: prometheus.Labels{"pool": pool},
				}, func() float64 {
					ctx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					depth, err := q.DLQDepth(ctx, pool)
					if err != nil {
						return 0
					}
					return float64(depth)
				}),
				prometheus.NewGaugeFunc(prometheus.GaugeOpts{
					Namespace:   namespace,
					Name:        "active_scans",
					Help:        "Active scan count across a pool's scanner instances.",
					ConstLabels: prometheus.Labels{"pool": pool},
				}, func() float64 {
					status, err := reg.GetPoolStatus(pool)
					if err != nil {
						return 0
					}
					return float64(status.TotalActive)
				}),
			)
		}

		prometheus.MustRegister(collectors...)
	})
}

// RecordSubmitted increments the submitted counter for a pool.
func RecordSubmitted(pool string) {
	if tasksSubmitted == nil {
		return
	}
	tasksSubmitted.WithLabelValues(pool).Inc()
}

// ObserveTerminal records a task's terminal status and total duration.
func ObserveTerminal(pool string, status lifecycle.Status, duration time.Duration) {
	if tasksCompleted == nil {
		return
	}
	switch status {
	case lifecycle.StatusCompleted:
		tasksCompleted.WithLabelValues(pool).Inc()
	case lifecycle.StatusFailed:
		tasksFailed.WithLabelValues(pool).Inc()
	case lifecycle.StatusTimeout:
		tasksTimeout.WithLabelValues(pool).Inc()
	case lifecycle.StatusCancelled:
		tasksCancelled.WithLabelValues(pool).Inc()
	default:
		return
	}
	taskDuration.WithLabelValues(pool, string(status)).Observe(duration.Seconds())
}

// ObserveIdempotency records a Reserve/Check outcome.
func ObserveIdempotency(outcome idempotency.Outcome) {
	if idempotencyOutcomes == nil {
		return
	}
	idempotencyOutcomes.WithLabelValues(string(outcome)).Inc()
}

// SetCircuitBreakerState publishes a breaker's current state for an
// instance key (pool:instance_id, matching the registry's acquire key).
func SetCircuitBreakerState(instanceKey string, state breaker.State) {
	if circuitBreakerState == nil {
		return
	}
	circuitBreakerState.WithLabelValues(instanceKey).Set(float64(state))
}

// RecordCircuitBreakerTrip increments the trip counter when a breaker opens.
func RecordCircuitBreakerTrip(instanceKey string) {
	if circuitBreakerTrips == nil {
		return
	}
	circuitBreakerTrips.WithLabelValues(instanceKey).Inc()
}

// RecordTTLDeletions increments the housekeeping deletion counter for a
// terminal status by n.
func RecordTTLDeletions(status lifecycle.Status, n int) {
	if ttlDeletionsTotal == nil || n == 0 {
		return
	}
	ttlDeletionsTotal.WithLabelValues(string(status)).Add(float64(n))
}
