package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is the Redis-backed, pool-partitioned queue described in §4.4: one
// FIFO list plus one dead-letter sorted set per pool.
type Queue struct {
	client *redis.Client
}

func New(addr, password string, db int) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Queue{client: client}, nil
}

// NewWithClient wraps an already-constructed client, used by tests against
// miniredis.
func NewWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Client returns the underlying Redis client, for components (idempotency)
// that share the same connection rather than opening their own.
func (q *Queue) Client() *redis.Client {
	return q.client
}

// Enqueue appends entry to its pool's list and returns the resulting depth.
func (q *Queue) Enqueue(ctx context.Context, entry Entry) (int64, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("marshal queue entry: %w", err)
	}
	return q.client.LPush(ctx, queueKey(entry.Pool), data).Result()
}

// Dequeue blocks (up to timeout) for an entry on pool's list. A malformed
// entry is moved to the pool's dead-letter set with reason
// "corrupted_payload" and nil is returned so the caller re-polls.
func (q *Queue) Dequeue(ctx context.Context, pool string, timeout time.Duration) (*Entry, error) {
	result, err := q.client.BRPop(ctx, timeout, queueKey(pool)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return q.decodeOrDeadLetter(ctx, pool, result[1])
}

// DequeueAny blocks across several pools' lists at once using Redis's
// native multi-key BRPOP: the first pool with an available entry wins.
// Fairness within a pool is strict FIFO; fairness across pools is whatever
// BRPOP's key-order scan offers, which is best-effort only.
func (q *Queue) DequeueAny(ctx context.Context, pools []string, timeout time.Duration) (*Entry, error) {
	if len(pools) == 0 {
		return nil, nil
	}
	keys := make([]string, len(pools))
	for i, pool := range pools {
		keys[i] = queueKey(pool)
	}
	result, err := q.client.BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	pool := poolFromQueueKey(result[0])
	return q.decodeOrDeadLetter(ctx, pool, result[1])
}

func (q *Queue) decodeOrDeadLetter(ctx context.Context, pool, raw string) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		_ = q.moveRawToDLQ(ctx, pool, raw, "corrupted_payload")
		return nil, nil
	}
	return &entry, nil
}

func poolFromQueueKey(key string) string {
	const suffix = ":queue"
	if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
		return key[:len(key)-len(suffix)]
	}
	return key
}

// Depth returns the current length of pool's FIFO list.
func (q *Queue) Depth(ctx context.Context, pool string) (int64, error) {
	return q.client.LLen(ctx, queueKey(pool)).Result()
}

// Peek returns up to n entries from the front of pool's list without
// removing them.
func (q *Queue) Peek(ctx context.Context, pool string, n int64) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := q.client.LRange(ctx, queueKey(pool), -n, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
