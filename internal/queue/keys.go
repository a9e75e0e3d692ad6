// Package queue is the pool-partitioned durable task queue: one FIFO list
// and one failure-time-ordered dead-letter set per scanner pool.
package queue

import "errors"

func queueKey(pool string) string {
	return pool + ":queue"
}

func dlqKey(pool string) string {
	return pool + ":queue:dead"
}

var (
	ErrEntryNotFound = errors.New("dead-letter entry not found")
)
