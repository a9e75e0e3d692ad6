// Package idempotency implements the idemp:{client_key} -> {task_id,
// param_hash} index: a Redis-backed atomic compare-and-set so a retried
// client request with the same key and parameters reuses the original task
// instead of creating a duplicate.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// nullSentinel is the canonical rendering of a missing or nil value. It must
// never collide with a legitimate string value, so it carries a NUL byte.
const nullSentinel = "\x00null\x00"

// CanonicalHash renders params deterministically (keys sorted
// lexicographically at every level, nil/missing as a single sentinel,
// booleans as true/false) and returns the hex-encoded SHA-256 of the UTF-8
// byte stream.
func CanonicalHash(params map[string]any) string {
	sum := sha256.Sum256([]byte(canonicalize(params)))
	return hex.EncodeToString(sum[:])
}

func canonicalize(v any) string {
	switch val := v.(type) {
	case nil:
		return nullSentinel
	case bool:
		if val {
			return "true"
		}
		return "false"
	case string:
		return strconv.Quote(val)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += strconv.Quote(k) + ":" + canonicalize(val[k])
		}
		return out + "}"
	case []any:
		out := "["
		for i, item := range val {
			if i > 0 {
				out += ","
			}
			out += canonicalize(item)
		}
		return out + "]"
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
