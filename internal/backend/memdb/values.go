package memdb

import (
	"strings"
	"time"

	"local.dev/chatspace-backend/internal/backend"
)

// apply returns a copy of cur with fields written over it, resolving
// transforms against now.
func apply(cur, fields map[string]any, now time.Time) map[string]any {
	out := cloneMap(cur)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range fields {
		switch op := v.(type) {
		case backend.ArrayUnionOp:
			arr, _ := out[k].([]any)
			arr = append([]any(nil), arr...)
			for _, e := range op.Elems {
				e = normalize(e, now)
				if indexOf(arr, e) < 0 {
					arr = append(arr, e)
				}
			}
			out[k] = arr
		case backend.ArrayRemoveOp:
			arr, _ := out[k].([]any)
			kept := []any{}
			for _, e := range arr {
				drop := false
				for _, r := range op.Elems {
					if compare(e, normalize(r, now)) == 0 {
						drop = true
						break
					}
				}
				if !drop {
					kept = append(kept, e)
				}
			}
			out[k] = kept
		case backend.IncrementOp:
			switch n := out[k].(type) {
			case int64:
				out[k] = n + op.By
			case float64:
				out[k] = n + float64(op.By)
			default:
				out[k] = op.By
			}
		default:
			if backend.IsDeleteField(v) {
				delete(out, k)
				continue
			}
			out[k] = normalize(v, now)
		}
	}
	return out
}

// normalize converts Go values to the shapes Firestore hands back.
func normalize(v any, now time.Time) any {
	switch t := v.(type) {
	case nil, string, bool, int64, float64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e, now)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e, now)
		}
		return out
	}
	if backend.IsServerTimestamp(v) {
		return now.UTC()
	}
	return v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		return cloneMap(t)
	}
	return v
}

func indexOf(arr []any, v any) int {
	for i, e := range arr {
		if compare(e, v) == 0 {
			return i
		}
	}
	return -1
}

// compare orders nil, booleans, numbers, times, then strings.
// Mismatched kinds order by kind.
func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case int64, float64:
		fx, fy := toFloat(a), toFloat(b)
		switch {
		case fx < fy:
			return -1
		case fx > fy:
			return 1
		}
		return 0
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	}
	return 5
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
