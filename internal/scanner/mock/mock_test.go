package mock

import (
	"context"
	"testing"
	"time"

	"github.com/scanorch/scanorch/internal/scanner"
)

func TestCreateLaunchAndPoll(t *testing.T) {
	s := New(40*time.Millisecond, nil)
	ctx := context.Background()

	id, err := s.CreateScan(ctx, scanner.ScanRequest{Name: "smoke", Targets: "10.0.0.1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	status, err := s.GetStatus(ctx, id)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != scanner.StatusQueued {
		t.Fatalf("expected queued before launch, got %s", status.Status)
	}

	if _, err := s.LaunchScan(ctx, id); err != nil {
		t.Fatalf("launch: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		status, err = s.GetStatus(ctx, id)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if status.Status == scanner.StatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.Status != scanner.StatusCompleted {
		t.Fatalf("expected scan to complete, last status %s", status.Status)
	}

	data, err := s.ExportResults(ctx, id)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty fixture data")
	}
}

func TestUnknownScanErrors(t *testing.T) {
	s := New(time.Millisecond, nil)
	ctx := context.Background()
	if _, err := s.GetStatus(ctx, 9999); err == nil {
		t.Fatalf("expected error for unknown scan id")
	}
}

func TestStopAndDelete(t *testing.T) {
	s := New(time.Millisecond, nil)
	ctx := context.Background()
	id, _ := s.CreateScan(ctx, scanner.ScanRequest{Name: "x"})
	if err := s.StopScan(ctx, id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.DeleteScan(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteScan(ctx, id); err == nil {
		t.Fatalf("expected second delete to error")
	}
}
