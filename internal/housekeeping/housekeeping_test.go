package housekeeping

import (
	"os"
	"testing"
	"time"

	"github.com/scanorch/scanorch/internal/config"
	"github.com/scanorch/scanorch/internal/lifecycle"
	"github.com/scanorch/scanorch/internal/taskstore"
)

func seedTerminalTask(t *testing.T, store *taskstore.Store, id string, status lifecycle.Status, completedAt time.Time) {
	t.Helper()
	task := &taskstore.Task{
		TaskID:      id,
		ScannerPool: "default",
		Payload:     taskstore.Payload{Targets: "10.0.0.1", Name: "sweep test"},
	}
	if err := store.Create(task); err != nil {
		t.Fatalf("create task %s: %v", id, err)
	}
	if _, err := store.UpdateStatus(id, lifecycle.StatusRunning, nil); err != nil {
		t.Fatalf("queued->running: %v", err)
	}
	mutate := func(tk *taskstore.Task) {
		if status.Failure() {
			tk.ErrorMessage = "seeded failure"
		}
	}
	final, err := store.UpdateStatus(id, status, mutate)
	if err != nil {
		t.Fatalf("running->%s: %v", status, err)
	}
	final.CompletedAt = &completedAt
	if _, err := store.Patch(id, func(tk *taskstore.Task) { tk.CompletedAt = &completedAt }); err != nil {
		t.Fatalf("patch completed_at: %v", err)
	}
	if err := os.WriteFile(store.ArtifactPath(id), []byte("<NessusClientData_v2/>"), 0o640); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func TestSweepDeletesExpiredTerminalTasks(t *testing.T) {
	store := taskstore.New(t.TempDir())
	now := time.Now()

	seedTerminalTask(t, store, "old-completed", lifecycle.StatusCompleted, now.Add(-8*24*time.Hour))
	seedTerminalTask(t, store, "fresh-completed", lifecycle.StatusCompleted, now.Add(-1*time.Hour))
	seedTerminalTask(t, store, "old-failed", lifecycle.StatusFailed, now.Add(-31*24*time.Hour))
	seedTerminalTask(t, store, "fresh-failed", lifecycle.StatusFailed, now.Add(-1*time.Hour))

	cfg := config.HousekeepingConfig{
		Enabled:      true,
		CompletedTTL: 7 * 24 * time.Hour,
		FailedTTL:    30 * 24 * time.Hour,
	}
	sweeper := New(store, cfg)
	summary := sweeper.Sweep(now)

	if summary.Deleted != 2 {
		t.Errorf("expected 2 deletions, got %d (%s)", summary.Deleted, summary)
	}
	if summary.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d (%s)", summary.Skipped, summary)
	}

	if _, err := store.Get("old-completed"); err != taskstore.ErrTaskNotFound {
		t.Errorf("expected old-completed to be gone, got err=%v", err)
	}
	if _, err := store.Get("old-failed"); err != taskstore.ErrTaskNotFound {
		t.Errorf("expected old-failed to be gone, got err=%v", err)
	}
	if _, err := store.Get("fresh-completed"); err != nil {
		t.Errorf("expected fresh-completed to survive, got err=%v", err)
	}
	if _, err := store.Get("fresh-failed"); err != nil {
		t.Errorf("expected fresh-failed to survive, got err=%v", err)
	}
}

func TestSweepLeavesQueuedAndRunningAlone(t *testing.T) {
	store := taskstore.New(t.TempDir())
	task := &taskstore.Task{
		TaskID:      "still-queued",
		ScannerPool: "default",
		Payload:     taskstore.Payload{Targets: "10.0.0.9", Name: "in flight"},
	}
	if err := store.Create(task); err != nil {
		t.Fatalf("create: %v", err)
	}

	cfg := config.HousekeepingConfig{Enabled: true, CompletedTTL: time.Nanosecond, FailedTTL: time.Nanosecond}
	sweeper := New(store, cfg)
	summary := sweeper.Sweep(time.Now().Add(365 * 24 * time.Hour))

	if summary.Deleted != 0 {
		t.Errorf("expected no deletions of a queued task, got %d", summary.Deleted)
	}
	if _, err := store.Get("still-queued"); err != nil {
		t.Errorf("expected still-queued to survive, got err=%v", err)
	}
}
