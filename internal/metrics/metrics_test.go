package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/scanorch/scanorch/internal/breaker"
	"github.com/scanorch/scanorch/internal/idempotency"
	"github.com/scanorch/scanorch/internal/lifecycle"
)

func resetCollectors() {
	tasksSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tasks_submitted_total"}, []string{"pool"})
	tasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tasks_completed_total"}, []string{"pool"})
	tasksFailed = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tasks_failed_total"}, []string{"pool"})
	tasksTimeout = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tasks_timeout_total"}, []string{"pool"})
	tasksCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tasks_cancelled_total"}, []string{"pool"})
	taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "task_duration_seconds"}, []string{"pool", "status"})
	idempotencyOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "idempotency_outcomes_total"}, []string{"outcome"})
	circuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "circuit_breaker_state"}, []string{"instance_key"})
	circuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "circuit_breaker_trips_total"}, []string{"instance_key"})
}

func TestRecordSubmittedAndObserveTerminal(t *testing.T) {
	resetCollectors()

	RecordSubmitted("default")
	RecordSubmitted("default")
	if got := testutil.ToFloat64(tasksSubmitted.WithLabelValues("default")); got != 2 {
		t.Fatalf("tasks_submitted: got %v, want 2", got)
	}

	ObserveTerminal("default", lifecycle.StatusCompleted, 5*time.Second)
	if got := testutil.ToFloat64(tasksCompleted.WithLabelValues("default")); got != 1 {
		t.Fatalf("tasks_completed: got %v, want 1", got)
	}
	if count := testutil.CollectAndCount(taskDuration); count == 0 {
		t.Fatalf("expected task_duration_seconds to have been observed")
	}

	ObserveTerminal("default", lifecycle.StatusFailed, time.Second)
	if got := testutil.ToFloat64(tasksFailed.WithLabelValues("default")); got != 1 {
		t.Fatalf("tasks_failed: got %v, want 1", got)
	}

	ObserveTerminal("default", lifecycle.StatusTimeout, time.Second)
	if got := testutil.ToFloat64(tasksTimeout.WithLabelValues("default")); got != 1 {
		t.Fatalf("tasks_timeout: got %v, want 1", got)
	}

	ObserveTerminal("default", lifecycle.StatusCancelled, time.Second)
	if got := testutil.ToFloat64(tasksCancelled.WithLabelValues("default")); got != 1 {
		t.Fatalf("tasks_cancelled: got %v, want 1", got)
	}

	ObserveTerminal("default", lifecycle.StatusRunning, time.Second)
	if got := testutil.ToFloat64(tasksCompleted.WithLabelValues("default")); got != 1 {
		t.Fatalf("expected a non-terminal status to be ignored, tasks_completed changed to %v", got)
	}
}

func TestObserveIdempotency(t *testing.T) {
	resetCollectors()
	ObserveIdempotency(idempotency.Stored)
	ObserveIdempotency(idempotency.Conflict)
	ObserveIdempotency(idempotency.Conflict)

	if got := testutil.ToFloat64(idempotencyOutcomes.WithLabelValues(string(idempotency.Stored))); got != 1 {
		t.Fatalf("stored outcome: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(idempotencyOutcomes.WithLabelValues(string(idempotency.Conflict))); got != 2 {
		t.Fatalf("conflict outcome: got %v, want 2", got)
	}
}

func TestCircuitBreakerGaugeAndTripCounter(t *testing.T) {
	resetCollectors()
	SetCircuitBreakerState("default:nessus-1", breaker.StateClosed)
	if got := testutil.ToFloat64(circuitBreakerState.WithLabelValues("default:nessus-1")); got != float64(breaker.StateClosed) {
		t.Fatalf("expected gauge to report StateClosed, got %v", got)
	}

	SetCircuitBreakerState("default:nessus-1", breaker.StateOpen)
	RecordCircuitBreakerTrip("default:nessus-1")
	if got := testutil.ToFloat64(circuitBreakerState.WithLabelValues("default:nessus-1")); got != float64(breaker.StateOpen) {
		t.Fatalf("expected gauge to report StateOpen, got %v", got)
	}
	if got := testutil.ToFloat64(circuitBreakerTrips.WithLabelValues("default:nessus-1")); got != 1 {
		t.Fatalf("trip counter: got %v, want 1", got)
	}
}

func TestRecordFunctionsAreNoOpsBeforeRegister(t *testing.T) {
	tasksSubmitted = nil
	tasksCompleted = nil
	idempotencyOutcomes = nil
	circuitBreakerState = nil
	circuitBreakerTrips = nil

	// Must not panic when Register hasn't been called yet.
	RecordSubmitted("default")
	ObserveTerminal("default", lifecycle.StatusCompleted, time.Second)
	ObserveIdempotency(idempotency.Hit)
	SetCircuitBreakerState("k", breaker.StateClosed)
	RecordCircuitBreakerTrip("k")
}
