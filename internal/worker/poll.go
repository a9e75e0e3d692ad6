package worker

import (
	"fmt"
	"log"
	"time"

	"github.com/scanorch/scanorch/internal/breaker"
	"github.com/scanorch/scanorch/internal/lifecycle"
	"github.com/scanorch/scanorch/internal/scanner"
	"github.com/scanorch/scanorch/internal/taskstore"
)

// pollUntilDone implements step 6: sleep poll_interval, call GetStatus,
// update progress, and react to completed/failed/timeout. terminal==true
// means the scan reached completed and the caller should proceed to
// export; terminal==false means pollUntilDone already finalized the task
// itself (failed or timeout) and the caller has nothing further to do.
func (w *Worker) pollUntilDone(sc scanner.Scanner, cb *breaker.CircuitBreaker, instanceKey string, task *taskstore.Task, upstreamID int) (*taskstore.Task, bool, error) {
	for {
		select {
		case <-w.ctx.Done():
			return task, false, fmt.Errorf("worker shutting down")
		case <-time.After(w.cfg.PollInterval):
		}

		var report scanner.StatusReport
		err := w.guard(cb, instanceKey, func() error {
			r, err := sc.GetStatus(w.ctx, upstreamID)
			report = r
			return err
		})
		if err != nil {
			return task, false, fmt.Errorf("get status: %w", err)
		}

		task, err = w.store.Patch(task.TaskID, func(t *taskstore.Task) { t.Progress = report.Progress })
		if err != nil {
			return task, false, fmt.Errorf("record progress: %w", err)
		}

		if task.StartedAt != nil && time.Since(*task.StartedAt) >= w.cfg.ScanTimeout {
			return w.timeoutScan(sc, cb, instanceKey, task, upstreamID)
		}

		switch report.Status {
		case scanner.StatusCompleted:
			return task, true, nil
		case scanner.StatusFailed:
			final, err := w.store.UpdateStatus(task.TaskID, lifecycle.StatusFailed, func(t *taskstore.Task) {
				t.ErrorMessage = fmt.Sprintf("scan failed (native status: %s)", report.NativeStatus)
			})
			if err != nil {
				return task, false, fmt.Errorf("running->failed: %w", err)
			}
			w.observeTerminal(final)
			return final, false, nil
		}
	}
}

func (w *Worker) timeoutScan(sc scanner.Scanner, cb *breaker.CircuitBreaker, instanceKey string, task *taskstore.Task, upstreamID int) (*taskstore.Task, bool, error) {
	if err := w.guard(cb, instanceKey, func() error { return sc.StopScan(w.ctx, upstreamID) }); err != nil {
		log.Printf("worker %s: stop scan %d after timeout: %v", w.id, upstreamID, err)
	}
	final, err := w.store.UpdateStatus(task.TaskID, lifecycle.StatusTimeout, func(t *taskstore.Task) {
		t.ErrorMessage = fmt.Sprintf("scan exceeded timeout of %s", w.cfg.ScanTimeout)
	})
	if err != nil {
		return task, false, fmt.Errorf("running->timeout: %w", err)
	}
	w.observeTerminal(final)
	return final, false, nil
}
