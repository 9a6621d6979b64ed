package backend

import (
	"encoding/json"
	"fmt"
	"time"
)

// RealtimeTimestamp is the realtime store's server-value placeholder. The
// store replaces it with the write time in epoch milliseconds, which for an
// on-disconnect write is the moment the hook fires.
var RealtimeTimestamp = map[string]string{".sv": "timestamp"}

// ResolveServerValues rewrites every timestamp placeholder in raw.
func ResolveServerValues(raw json.RawMessage, now time.Time) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode realtime value: %w", err)
	}
	return json.Marshal(resolve(v, now.UnixMilli()))
}

func resolve(v any, ms int64) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 && t[".sv"] == "timestamp" {
			return ms
		}
		for k, e := range t {
			t[k] = resolve(e, ms)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = resolve(e, ms)
		}
		return t
	}
	return v
}
