package queue

import (
	"time"

	"github.com/scanorch/scanorch/internal/taskstore"
)

// Entry is the durable queue payload: sufficient to reconstruct the work
// without rereading the task store (§4.4).
type Entry struct {
	TaskID            string            `json:"task_id"`
	TraceID           string            `json:"trace_id"`
	Pool              string            `json:"scanner_pool"`
	ScannerType       string            `json:"scanner_type"`
	ScanType          string            `json:"scan_type"`
	ScannerInstanceID string            `json:"scanner_instance_id,omitempty"`
	Payload           taskstore.Payload `json:"payload"`
}

// DeadEntry wraps an Entry with the reason and time it was moved to the
// dead-letter set.
type DeadEntry struct {
	Entry    Entry     `json:"entry"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}
