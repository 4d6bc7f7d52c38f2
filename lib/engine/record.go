package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Record is a structured value stored in a store. Its primary key is found at the
// key path of the store, e.g. "key" or "meta.id".
type Record map[string]any

// Lookup returns the value at a dotted key path.
func (r Record) Lookup(keyPath string) (any, bool) {
	if r == nil || keyPath == "" {
		return nil, false
	}
	var current any = map[string]any(r)
	for _, part := range strings.Split(keyPath, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		if current, ok = m[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

// Clone returns a deep copy of the record.
// Nested maps and slices are copied, other values are shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case Record:
		return Record(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Record:
		return t, true
	default:
		return nil, false
	}
}

// KeyOf extracts the primary key of a record. Only non-empty strings are valid keys.
func KeyOf(r Record, keyPath string) (string, error) {
	v, ok := r.Lookup(keyPath)
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidKey, keyPath)
	}
	key, ok := v.(string)
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %q is not a non-empty string", ErrInvalidKey, keyPath)
	}
	return key, nil
}

// IndexValue returns the canonical string form of the value at an index key path.
// Records without a value at the path (or with a nil value) are not indexed.
func IndexValue(r Record, keyPath string) (string, bool) {
	v, ok := r.Lookup(keyPath)
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return "s:" + s, true
	}
	if n, ok := ToFloat64(v); ok {
		return "n:" + strconv.FormatFloat(n, 'g', -1, 64), true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return "j:" + string(b), true
}

// ToFloat64 converts numbers decoded by any codec to float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ToInt64 converts numbers decoded by any codec to int64. Fractions are truncated,
// values outside the int64 range are clamped to math.MinInt64 / math.MaxInt64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := ToFloat64(v)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64, true
	case f <= math.MinInt64:
		return math.MinInt64, true
	}
	return int64(f), true
}
