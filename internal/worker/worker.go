// Package worker drives submitted scan tasks end to end: acquire a scanner
// from the registry, create and launch the upstream scan, poll it to
// completion, export and validate the results, and finalize the task's
// status (§4.8). A single dispatch loop gates how many tasks may be
// in flight at once; each admitted task runs in its own goroutine with a
// bounded lifetime.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scanorch/scanorch/internal/breaker"
	"github.com/scanorch/scanorch/internal/config"
	"github.com/scanorch/scanorch/internal/lifecycle"
	"github.com/scanorch/scanorch/internal/metrics"
	"github.com/scanorch/scanorch/internal/queue"
	"github.com/scanorch/scanorch/internal/registry"
	"github.com/scanorch/scanorch/internal/taskstore"
)

// reapInterval is how long the dispatch loop sleeps before re-checking
// in-flight capacity once it's at the max_concurrent_scans ceiling.
const reapInterval = 200 * time.Millisecond

// Worker is the long-lived per-process task processor.
type Worker struct {
	id       string
	queue    *queue.Queue
	store    *taskstore.Store
	registry *registry.Registry
	breakers *breaker.Manager
	cfg      config.WorkerConfig
	pools    []string

	inFlight atomic.Int32

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Worker. pools, when empty, defaults to every pool the
// registry currently knows about.
func New(q *queue.Queue, store *taskstore.Store, reg *registry.Registry, breakers *breaker.Manager, cfg config.WorkerConfig) *Worker {
	pools := cfg.Pools
	if len(pools) == 0 {
		pools = reg.ListPools()
	}

	ctx, cancel := context.WithCancel(context.Background())
	hostname, _ := os.Hostname()

	return &Worker{
		id:       fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		queue:    q,
		store:    store,
		registry: reg,
		breakers: breakers,
		cfg:      cfg,
		pools:    pools,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start recovers any tasks left running by a prior process and launches the
// dispatch loop in the background.
func (w *Worker) Start() {
	log.Printf("worker %s: starting, pools=%v max_concurrent_scans=%d", w.id, w.pools, w.cfg.MaxConcurrentScans)
	w.recoverOrphans()
	w.wg.Add(1)
	go w.dispatchLoop()
}

// recoverOrphans fails out tasks that were left in running by a process that
// exited without reaching a terminal status. A task in running with no
// in-memory owner in this process is assumed orphaned; there is no lease to
// check, so every running task found at startup is treated as one.
func (w *Worker) recoverOrphans() {
	orphans, err := w.store.List(taskstore.Filter{Status: lifecycle.StatusRunning}, 0)
	if err != nil {
		log.Printf("worker %s: recover orphans: list running tasks: %v", w.id, err)
		return
	}
	for _, task := range orphans {
		_, err := w.store.UpdateStatus(task.TaskID, lifecycle.StatusFailed, func(t *taskstore.Task) {
			t.ErrorMessage = "worker restart"
		})
		if err != nil {
			log.Printf("worker %s: recover orphans: task %s: %v", w.id, task.TaskID, err)
			continue
		}
		metrics.ObserveTerminal(task.ScannerPool, lifecycle.StatusFailed, 0)
		log.Printf("worker %s: recovered orphaned task %s -> failed (worker restart)", w.id, task.TaskID)
	}
}

// Stop signals shutdown, stops admitting new tasks, and waits up to
// shutdown_timeout for in-flight processors. Tasks still running past the
// deadline are left running in storage; recovering them is not this
// process's job.
func (w *Worker) Stop() {
	log.Printf("worker %s: stopping", w.id)
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("worker %s: stopped cleanly", w.id)
	case <-time.After(w.cfg.ShutdownTimeout):
		log.Printf("worker %s: shutdown timeout exceeded, in-flight tasks left running", w.id)
	}
}

func (w *Worker) dispatchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if int(w.inFlight.Load()) >= w.cfg.MaxConcurrentScans {
			time.Sleep(reapInterval)
			continue
		}

		entry, err := w.queue.DequeueAny(w.ctx, w.pools, w.cfg.DequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("worker %s: dequeue error: %v", w.id, err)
			time.Sleep(time.Second)
			continue
		}
		if entry == nil {
			continue
		}

		w.inFlight.Add(1)
		w.wg.Add(1)
		go func(e *queue.Entry) {
			defer w.wg.Done()
			defer w.inFlight.Add(-1)
			w.processEntry(e)
		}(entry)
	}
}
