package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// MoveToDLQ writes entry to pool's dead-letter set, scored by the current
// time so ListDLQ can return newest-failure-first.
func (q *Queue) MoveToDLQ(ctx context.Context, entry Entry, reason, pool string) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	return q.moveRawToDLQ(ctx, pool, string(data), reason)
}

func (q *Queue) moveRawToDLQ(ctx context.Context, pool, rawEntry, reason string) error {
	dead := struct {
		Entry    json.RawMessage `json:"entry"`
		Reason   string          `json:"reason"`
		FailedAt time.Time       `json:"failed_at"`
	}{
		Entry:    json.RawMessage(rawEntry),
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(dead)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}
	return q.client.ZAdd(ctx, dlqKey(pool), redis.Z{
		Score:  float64(dead.FailedAt.Unix()),
		Member: data,
	}).Err()
}

// DLQDepth returns the size of pool's dead-letter set.
func (q *Queue) DLQDepth(ctx context.Context, pool string) (int64, error) {
	return q.client.ZCard(ctx, dlqKey(pool)).Result()
}

// ListDLQ returns dead-letter entries for pool ordered newest-failure-first,
// using a zero-based [start, stop] rank range exactly as ZREVRANGE takes it.
func (q *Queue) ListDLQ(ctx context.Context, pool string, start, stop int64) ([]DeadEntry, error) {
	raw, err := q.client.ZRevRange(ctx, dlqKey(pool), start, stop).Result()
	if err != nil {
		return nil, err
	}
	return decodeDeadEntries(raw), nil
}

// GetDLQ finds the dead-letter entry for taskID within pool's dead-letter
// set, if any.
func (q *Queue) GetDLQ(ctx context.Context, pool, taskID string) (*DeadEntry, error) {
	raw, err := q.client.ZRange(ctx, dlqKey(pool), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	for _, r := range raw {
		var d DeadEntry
		if err := json.Unmarshal([]byte(r), &d); err != nil {
			continue
		}
		if d.Entry.TaskID == taskID {
			return &d, nil
		}
	}
	return nil, ErrEntryNotFound
}

// RetryDLQ moves a dead-lettered task back onto its pool's main queue.
func (q *Queue) RetryDLQ(ctx context.Context, pool, taskID string) error {
	raw, err := q.client.ZRange(ctx, dlqKey(pool), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, r := range raw {
		var d DeadEntry
		if err := json.Unmarshal([]byte(r), &d); err != nil {
			continue
		}
		if d.Entry.TaskID != taskID {
			continue
		}
		if err := q.client.ZRem(ctx, dlqKey(pool), r).Err(); err != nil {
			return err
		}
		_, err := q.Enqueue(ctx, d.Entry)
		return err
	}
	return ErrEntryNotFound
}

// ClearDLQ removes entries from pool's dead-letter set. If before is nil the
// whole set is cleared; otherwise only entries that failed at or before that
// time are removed.
func (q *Queue) ClearDLQ(ctx context.Context, pool string, before *time.Time) error {
	if before == nil {
		return q.client.Del(ctx, dlqKey(pool)).Err()
	}
	return q.client.ZRemRangeByScore(ctx, dlqKey(pool), "-inf", fmt.Sprintf("%d", before.Unix())).Err()
}

func decodeDeadEntries(raw []string) []DeadEntry {
	entries := make([]DeadEntry, 0, len(raw))
	for _, r := range raw {
		var d DeadEntry
		if err := json.Unmarshal([]byte(r), &d); err != nil {
			continue
		}
		entries = append(entries, d)
	}
	return entries
}
