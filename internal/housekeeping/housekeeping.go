// Package housekeeping runs the periodic retention sweep over completed and
// failed scan tasks: once a task has sat in a terminal state longer than its
// status's TTL, its entire directory (record and native result artifact) is
// removed. Queued and running tasks are never touched.
package housekeeping

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scanorch/scanorch/internal/config"
	"github.com/scanorch/scanorch/internal/lifecycle"
	"github.com/scanorch/scanorch/internal/metrics"
	"github.com/scanorch/scanorch/internal/taskstore"
)

// Summary reports the outcome of a single sweep.
type Summary struct {
	Deleted    int
	FreedBytes int64
	Skipped    int
	Errors     int
}

func (s Summary) String() string {
	return fmt.Sprintf("deleted=%d freed_bytes=%d skipped=%d errors=%d", s.Deleted, s.FreedBytes, s.Skipped, s.Errors)
}

// Sweeper runs Sweep on cfg.Schedule until Stop is called.
type Sweeper struct {
	store *taskstore.Store
	cfg   config.HousekeepingConfig
	cron  *cron.Cron

	mu   sync.Mutex
	last Summary
}

func New(store *taskstore.Store, cfg config.HousekeepingConfig) *Sweeper {
	return &Sweeper{store: store, cfg: cfg, cron: cron.New()}
}

// Start schedules the sweep per cfg.Schedule. A no-op if housekeeping is
// disabled in config.
func (s *Sweeper) Start() error {
	if !s.cfg.Enabled {
		log.Printf("housekeeping: disabled, skipping schedule")
		return nil
	}
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		summary := s.Sweep(time.Now())
		log.Printf("housekeeping: sweep complete: %s", summary)
	})
	if err != nil {
		return fmt.Errorf("schedule housekeeping sweep %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	log.Printf("housekeeping: scheduled %q (completed_ttl=%s failed_ttl=%s)", s.cfg.Schedule, s.cfg.CompletedTTL, s.cfg.FailedTTL)
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// LastSummary returns the result of the most recent completed sweep.
func (s *Sweeper) LastSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// terminalTTL pairs a terminal lifecycle status with the TTL that applies to
// it. Cancelled and timeout tasks share the failed TTL; only completed gets
// its own, shorter window.
func (s *Sweeper) terminalTTL(status lifecycle.Status) (time.Duration, bool) {
	switch status {
	case lifecycle.StatusCompleted:
		return s.cfg.CompletedTTL, true
	case lifecycle.StatusFailed, lifecycle.StatusTimeout, lifecycle.StatusCancelled:
		return s.cfg.FailedTTL, true
	default:
		return 0, false
	}
}

// Sweep scans every task directory once and deletes those whose
// completed_at is older than now minus the status's TTL. It is safe to call
// directly outside the cron schedule.
func (s *Sweeper) Sweep(now time.Time) Summary {
	var summary Summary

	for _, status := range []lifecycle.Status{lifecycle.StatusCompleted, lifecycle.StatusFailed, lifecycle.StatusTimeout, lifecycle.StatusCancelled} {
		ttl, ok := s.terminalTTL(status)
		if !ok {
			continue
		}
		tasks, err := s.store.List(taskstore.Filter{Status: status}, 0)
		if err != nil {
			log.Printf("housekeeping: list %s tasks: %v", status, err)
			summary.Errors++
			continue
		}

		var deletedForStatus int
		for _, task := range tasks {
			if task.CompletedAt == nil {
				summary.Skipped++
				continue
			}
			if now.Sub(*task.CompletedAt) < ttl {
				summary.Skipped++
				continue
			}
			freed, err := s.store.DeleteTask(task.TaskID)
			if err != nil {
				log.Printf("housekeeping: delete task %s: %v", task.TaskID, err)
				summary.Errors++
				continue
			}
			summary.Deleted++
			deletedForStatus++
			summary.FreedBytes += freed
		}
		metrics.RecordTTLDeletions(status, deletedForStatus)
	}

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()
	return summary
}
