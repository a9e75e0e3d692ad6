package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idemp:"

type Outcome string

const (
	Stored           Outcome = "stored"
	AlreadyExistsSame Outcome = "already_exists_same"
	Conflict         Outcome = "conflict"
	Miss             Outcome = "miss"
	Hit              Outcome = "hit"
)

// Result is the outcome of a Reserve or Check call.
type Result struct {
	Outcome Outcome
	TaskID  string
}

type record struct {
	TaskID    string `json:"task_id"`
	ParamHash string `json:"param_hash"`
}

// Index is the Redis-backed idempotency map.
type Index struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Index {
	return &Index{client: client, ttl: ttl}
}

// reserveScript performs the atomic compare-and-set: write if absent,
// compare param_hash if present.
var reserveScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if not existing then
  redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
  return {'stored', ''}
end
local decoded = cjson.decode(existing)
if decoded['param_hash'] == ARGV[3] then
  return {'already_exists_same', decoded['task_id']}
end
return {'conflict', decoded['task_id']}
`)

// Reserve atomically compares-and-sets idemp:{key}. See §4.2 for the exact
// outcome semantics.
func (idx *Index) Reserve(ctx context.Context, key, taskID string, params map[string]any) (Result, error) {
	paramHash := CanonicalHash(params)
	data, err := json.Marshal(record{TaskID: taskID, ParamHash: paramHash})
	if err != nil {
		return Result{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	raw, err := reserveScript.Run(ctx, idx.client, []string{keyPrefix + key}, string(data), int64(idx.ttl/time.Second), paramHash).Result()
	if err != nil {
		return Result{}, err
	}

	pair, ok := raw.([]any)
	if !ok || len(pair) != 2 {
		return Result{}, fmt.Errorf("unexpected reserve script result: %v", raw)
	}
	outcome := Outcome(fmt.Sprintf("%v", pair[0]))
	existingTaskID := fmt.Sprintf("%v", pair[1])

	switch outcome {
	case Stored:
		return Result{Outcome: Stored, TaskID: taskID}, nil
	case AlreadyExistsSame:
		return Result{Outcome: AlreadyExistsSame, TaskID: existingTaskID}, nil
	case Conflict:
		return Result{Outcome: Conflict, TaskID: existingTaskID}, nil
	default:
		return Result{}, fmt.Errorf("unexpected reserve outcome: %s", outcome)
	}
}

// Check performs a non-mutating lookup against the same canonicalization
// rule Reserve uses.
func (idx *Index) Check(ctx context.Context, key string, params map[string]any) (Result, error) {
	raw, err := idx.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return Result{Outcome: Miss}, nil
		}
		return Result{}, err
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Result{}, fmt.Errorf("decode idempotency record: %w", err)
	}
	if rec.ParamHash == CanonicalHash(params) {
		return Result{Outcome: Hit, TaskID: rec.TaskID}, nil
	}
	return Result{Outcome: Conflict, TaskID: rec.TaskID}, nil
}
