package taskstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scanorch/scanorch/internal/lifecycle"
	"github.com/scanorch/scanorch/internal/secrets"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir())
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	task := &Task{
		TaskID:      "task-1",
		ScannerPool: "default",
		Payload:     Payload{Targets: "10.0.0.5", Name: "smoke"},
	}
	if err := s.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get("task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != lifecycle.StatusQueued {
		t.Errorf("expected queued, got %s", got.Status)
	}
	if got.CreatedAt.IsZero() {
		t.Errorf("expected created_at to be stamped")
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	s := newTestStore(t)
	task := &Task{TaskID: "task-1", Payload: Payload{Targets: "10.0.0.5"}}
	if err := s.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(task); err != ErrTaskExists {
		t.Fatalf("expected ErrTaskExists, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("nope"); err != ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestUpdateStatusValidTransition(t *testing.T) {
	s := newTestStore(t)
	task := &Task{TaskID: "task-1", Payload: Payload{Targets: "10.0.0.5"}}
	if err := s.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := s.UpdateStatus("task-1", lifecycle.StatusRunning, func(tk *Task) {
		tk.ScannerInstanceID = "nessus-1"
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.StartedAt == nil {
		t.Errorf("expected started_at to be stamped")
	}
	if updated.ScannerInstanceID != "nessus-1" {
		t.Errorf("expected mutate callback to apply")
	}

	completed, err := s.UpdateStatus("task-1", lifecycle.StatusCompleted, nil)
	if err != nil {
		t.Fatalf("UpdateStatus to completed: %v", err)
	}
	if completed.CompletedAt == nil {
		t.Errorf("expected completed_at to be stamped")
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	s := newTestStore(t)
	task := &Task{TaskID: "task-1", Payload: Payload{Targets: "10.0.0.5"}}
	if err := s.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.UpdateStatus("task-1", lifecycle.StatusCompleted, nil); err == nil {
		t.Fatalf("expected queued -> completed to be rejected")
	}
	reloaded, err := s.Get("task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if reloaded.Status != lifecycle.StatusQueued {
		t.Errorf("rejected transition must not have been persisted, got %s", reloaded.Status)
	}
}

func TestUpdateStatusFailureRequiresErrorMessage(t *testing.T) {
	s := newTestStore(t)
	task := &Task{TaskID: "task-1", Payload: Payload{Targets: "10.0.0.5"}}
	if err := s.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.UpdateStatus("task-1", lifecycle.StatusRunning, nil); err != nil {
		t.Fatalf("UpdateStatus to running: %v", err)
	}
	if _, err := s.UpdateStatus("task-1", lifecycle.StatusFailed, nil); err == nil {
		t.Fatalf("expected failure transition without error_message to be rejected")
	}
	if _, err := s.UpdateStatus("task-1", lifecycle.StatusFailed, func(tk *Task) {
		tk.ErrorMessage = "connection refused"
	}); err != nil {
		t.Fatalf("UpdateStatus with error_message: %v", err)
	}
}

func TestArtifactWrittenOnce(t *testing.T) {
	s := newTestStore(t)
	task := &Task{TaskID: "task-1", Payload: Payload{Targets: "10.0.0.5"}}
	if err := s.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.WriteArtifact("task-1", []byte("<NessusClientData_v2/>")); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	if err := s.WriteArtifact("task-1", []byte("again")); err != ErrArtifactExists {
		t.Fatalf("expected ErrArtifactExists, got %v", err)
	}
	data, err := s.ReadArtifact("task-1")
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if string(data) != "<NessusClientData_v2/>" {
		t.Errorf("unexpected artifact contents: %s", data)
	}
}

func TestListFiltersByStatusAndPool(t *testing.T) {
	s := newTestStore(t)
	must := func(task *Task) {
		t.Helper()
		if err := s.Create(task); err != nil {
			t.Fatalf("Create %s: %v", task.TaskID, err)
		}
	}
	must(&Task{TaskID: "t1", ScannerPool: "east", Payload: Payload{Targets: "10.0.0.5"}})
	must(&Task{TaskID: "t2", ScannerPool: "west", Payload: Payload{Targets: "10.0.0.6"}})
	t3 := &Task{TaskID: "t3", ScannerPool: "east", Payload: Payload{Targets: "10.0.0.7"}}
	must(t3)
	if _, err := s.UpdateStatus("t3", lifecycle.StatusRunning, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	results, err := s.List(Filter{Pool: "east"}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results for pool east, got %d", len(results))
	}

	results, err = s.List(Filter{Status: lifecycle.StatusRunning}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(results) != 1 || results[0].TaskID != "t3" {
		t.Fatalf("expected only t3 running, got %+v", results)
	}
}

func TestListMatchesTargetByCIDR(t *testing.T) {
	s := newTestStore(t)
	must := func(task *Task) {
		t.Helper()
		if err := s.Create(task); err != nil {
			t.Fatalf("Create %s: %v", task.TaskID, err)
		}
	}
	must(&Task{TaskID: "t1", Payload: Payload{Targets: "192.168.1.10"}})
	must(&Task{TaskID: "t2", Payload: Payload{Targets: "192.168.1.0/24"}})
	must(&Task{TaskID: "t3", Payload: Payload{Targets: "10.0.0.1"}})

	byIP, err := s.List(Filter{Target: "192.168.1.10"}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byIP) != 2 {
		t.Fatalf("expected host and its containing network to match, got %d", len(byIP))
	}

	byNet, err := s.List(Filter{Target: "192.168.1.0/24"}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byNet) != 2 {
		t.Fatalf("expected query network to match the host it contains, got %d", len(byNet))
	}

	byHostname, err := s.List(Filter{Target: "10.0.0.1"}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byHostname) != 1 || byHostname[0].TaskID != "t3" {
		t.Fatalf("expected only t3, got %+v", byHostname)
	}
}

func TestCredentialPasswordEncryptedAtRest(t *testing.T) {
	key, err := secrets.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	enc, err := secrets.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	dataDir := t.TempDir()
	s := New(dataDir).WithEncryptor(enc)

	task := &Task{
		TaskID:   "task-1",
		ScanType: ScanTypeAuthenticated,
		Payload: Payload{
			Targets:     "10.0.0.5",
			Credentials: &CredentialDescriptor{Username: "root", Password: "hunter2"},
		},
	}
	if err := s.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dataDir, "task-1", taskFileName))
	if err != nil {
		t.Fatalf("read raw task file: %v", err)
	}
	if strings.Contains(string(raw), "hunter2") {
		t.Fatalf("expected the password to be encrypted on disk, found plaintext: %s", raw)
	}

	got, err := s.Get("task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Payload.Credentials.Password != "hunter2" {
		t.Fatalf("expected Get to transparently decrypt the password, got %q", got.Payload.Credentials.Password)
	}

	updated, err := s.UpdateStatus("task-1", lifecycle.StatusRunning, nil)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Payload.Credentials.Password != "hunter2" {
		t.Fatalf("expected password to survive an update round trip, got %q", updated.Payload.Credentials.Password)
	}
}

func TestListLimit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if err := s.Create(&Task{TaskID: id, Payload: Payload{Targets: "10.0.0.1"}}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	results, err := s.List(Filter{}, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected limit to cap results at 3, got %d", len(results))
	}
}
