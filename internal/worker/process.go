package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/scanorch/scanorch/internal/breaker"
	"github.com/scanorch/scanorch/internal/lifecycle"
	"github.com/scanorch/scanorch/internal/metrics"
	"github.com/scanorch/scanorch/internal/queue"
	"github.com/scanorch/scanorch/internal/scanner"
	"github.com/scanorch/scanorch/internal/taskstore"
	"github.com/scanorch/scanorch/internal/validator"
)

// processEntry runs the full per-task sequence (§4.8 steps 1-9) for one
// dequeued entry. It never panics the dispatch loop: any failure along the
// way is captured, the task transitioned to failed, and the entry written
// to its pool's dead-letter queue. If the initial queued->running
// transition fails, the entry is dead-lettered and the task is left as is.
func (w *Worker) processEntry(entry *queue.Entry) {
	log.Printf("worker %s: processing task %s (pool=%s)", w.id, entry.TaskID, entry.Pool)

	task, err := w.store.UpdateStatus(entry.TaskID, lifecycle.StatusRunning, nil)
	if err != nil {
		log.Printf("worker %s: task %s queued->running failed: %v", w.id, entry.TaskID, err)
		w.deadLetter(entry, fmt.Sprintf("transition to running failed: %v", err))
		return
	}

	sc, instanceKey, err := w.registry.AcquireScanner(entry.Pool, entry.ScannerInstanceID)
	if err != nil {
		w.failTask(entry, task, fmt.Sprintf("acquire scanner: %v", err))
		return
	}
	defer func() {
		if releaseErr := w.registry.ReleaseScanner(instanceKey); releaseErr != nil {
			log.Printf("worker %s: release scanner %s: %v", w.id, instanceKey, releaseErr)
		}
	}()

	cb := w.breakers.Get(instanceKey)

	upstreamID, err := w.createScan(sc, cb, instanceKey, entry)
	if err != nil {
		w.failTask(entry, task, fmt.Sprintf("create scan: %v", err))
		return
	}
	task, err = w.store.Patch(task.TaskID, func(t *taskstore.Task) { t.UpstreamScanID = upstreamID })
	if err != nil {
		w.failTask(entry, task, fmt.Sprintf("record upstream_scan_id: %v", err))
		return
	}

	if _, err := w.launchScan(sc, cb, instanceKey, upstreamID); err != nil {
		w.failTask(entry, task, fmt.Sprintf("launch scan: %v", err))
		return
	}

	task, terminal, err := w.pollUntilDone(sc, cb, instanceKey, task, upstreamID)
	if err != nil {
		w.failTask(entry, task, fmt.Sprintf("poll scan: %v", err))
		return
	}
	if !terminal {
		// pollUntilDone already transitioned the task (failed/timeout) and
		// recorded the outcome; nothing further to do here.
		return
	}

	artifact, err := w.exportResults(sc, cb, instanceKey, upstreamID)
	if err != nil {
		w.failTask(entry, task, fmt.Sprintf("export results: %v", err))
		return
	}
	if err := w.store.WriteArtifact(task.TaskID, artifact); err != nil {
		w.failTask(entry, task, fmt.Sprintf("write artifact: %v", err))
		return
	}

	w.finalize(task, artifact)
}

// createScan builds the upstream scan request from the task's payload and
// gates the call through the instance's circuit breaker. The request is
// built entirely from the queue entry, never the task store: the entry
// already carries everything needed to reconstruct the work (§4.4).
func (w *Worker) createScan(sc scanner.Scanner, cb *breaker.CircuitBreaker, instanceKey string, entry *queue.Entry) (int, error) {
	var upstreamID int
	err := w.guard(cb, instanceKey, func() error {
		id, err := sc.CreateScan(w.ctx, scanner.ScanRequest{
			Targets:       entry.Payload.Targets,
			Name:          entry.Payload.Name,
			ScanType:      entry.ScanType,
			Description:   entry.Payload.Description,
			Credentials:   toScannerCredentials(entry.Payload.Credentials),
			SchemaProfile: entry.Payload.SchemaProfile,
		})
		upstreamID = id
		return err
	})
	return upstreamID, err
}

func (w *Worker) launchScan(sc scanner.Scanner, cb *breaker.CircuitBreaker, instanceKey string, upstreamID int) (string, error) {
	var uuid string
	err := w.guard(cb, instanceKey, func() error {
		u, err := sc.LaunchScan(w.ctx, upstreamID)
		uuid = u
		return err
	})
	return uuid, err
}

func (w *Worker) exportResults(sc scanner.Scanner, cb *breaker.CircuitBreaker, instanceKey string, upstreamID int) ([]byte, error) {
	var data []byte
	err := w.guard(cb, instanceKey, func() error {
		d, err := sc.ExportResults(w.ctx, upstreamID)
		data = d
		return err
	})
	return data, err
}

// guard gates a scanner call through its circuit breaker and publishes the
// breaker's resulting state to metrics.
func (w *Worker) guard(cb *breaker.CircuitBreaker, instanceKey string, fn func() error) error {
	if err := cb.AllowRequest(); err != nil {
		metrics.SetCircuitBreakerState(instanceKey, cb.State())
		return err
	}

	err := fn()
	if err != nil {
		cb.RecordFailure()
		if cb.State() == breaker.StateOpen {
			metrics.RecordCircuitBreakerTrip(instanceKey)
		}
	} else {
		cb.RecordSuccess()
	}
	metrics.SetCircuitBreakerState(instanceKey, cb.State())
	return err
}

// finalize invokes the validator on the exported artifact and transitions
// the task to completed or failed accordingly (§4.10).
func (w *Worker) finalize(task *taskstore.Task, artifact []byte) {
	result := validator.Validate(artifact, validator.ScanType(task.ScanType), 0)

	statsPtr := &taskstore.ValidationStats{
		FileSizeBytes:    int64(result.Stats.FileSizeBytes),
		HostsScanned:     result.Stats.HostsScanned,
		TotalPlugins:     result.Stats.TotalPlugins,
		AuthPluginsFound: result.Stats.AuthPluginsFound,
		SeverityCounts: map[string]int{
			"critical": result.Stats.SeverityCounts.Critical,
			"high":     result.Stats.SeverityCounts.High,
			"medium":   result.Stats.SeverityCounts.Medium,
			"low":      result.Stats.SeverityCounts.Low,
			"info":     result.Stats.SeverityCounts.Info,
		},
		TotalVulnerabilities: result.Stats.TotalVulnerabilities,
	}

	trustedAuthFailed := task.ScanType != taskstore.ScanTypeUntrusted && result.AuthenticationStatus == validator.AuthFailed

	if !result.Valid || trustedAuthFailed {
		errMsg := result.Error
		if errMsg == "" {
			errMsg = "scan did not authenticate to its targets"
		}
		final, err := w.store.UpdateStatus(task.TaskID, lifecycle.StatusFailed, func(t *taskstore.Task) {
			t.ErrorMessage = errMsg
			t.ValidationStats = statsPtr
			t.ValidationWarnings = result.Warnings
			t.AuthenticationStatus = string(result.AuthenticationStatus)
		})
		if err != nil {
			log.Printf("worker %s: task %s running->failed (validation) failed: %v", w.id, task.TaskID, err)
			return
		}
		w.observeTerminal(final)
		return
	}

	final, err := w.store.UpdateStatus(task.TaskID, lifecycle.StatusCompleted, func(t *taskstore.Task) {
		t.ValidationStats = statsPtr
		t.ValidationWarnings = result.Warnings
		t.AuthenticationStatus = string(result.AuthenticationStatus)
	})
	if err != nil {
		log.Printf("worker %s: task %s running->completed failed: %v", w.id, task.TaskID, err)
		return
	}
	w.observeTerminal(final)
}

func (w *Worker) observeTerminal(task *taskstore.Task) {
	var duration time.Duration
	if task.StartedAt != nil && task.CompletedAt != nil {
		duration = task.CompletedAt.Sub(*task.StartedAt)
	}
	metrics.ObserveTerminal(task.ScannerPool, task.Status, duration)
}

// failTask transitions a task to failed with errMsg and dead-letters the
// original queue entry, per step 9's "uncaught exception" handling.
func (w *Worker) failTask(entry *queue.Entry, task *taskstore.Task, errMsg string) {
	log.Printf("worker %s: task %s failed: %s", w.id, entry.TaskID, errMsg)

	final, err := w.store.UpdateStatus(task.TaskID, lifecycle.StatusFailed, func(t *taskstore.Task) {
		t.ErrorMessage = errMsg
	})
	if err != nil {
		log.Printf("worker %s: task %s running->failed failed: %v", w.id, task.TaskID, err)
	} else {
		w.observeTerminal(final)
	}
	w.deadLetter(entry, errMsg)
}

func (w *Worker) deadLetter(entry *queue.Entry, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.MoveToDLQ(ctx, *entry, reason, entry.Pool); err != nil {
		log.Printf("worker %s: move task %s to dlq: %v", w.id, entry.TaskID, err)
	}
}

func toScannerCredentials(c *taskstore.CredentialDescriptor) *scanner.CredentialDescriptor {
	if c == nil {
		return nil
	}
	return &scanner.CredentialDescriptor{
		Username:         c.Username,
		Password:         c.Password,
		EscalationMethod: c.EscalationMethod,
	}
}
