package notification

import (
	"encoding/json"
	"math"

	"github.com/tinywideclouds/go-skykit/pkg/serialization"
)

// aps dictionary keys, following the APNs payload layout.
const (
	apsAlert            = "alert"
	apsSound            = "sound"
	apsBadge            = "badge"
	apsContentAvailable = "content-available"
	apsCategory         = "category"

	alertTitle        = "title"
	alertBody         = "body"
	alertLocKey       = "loc-key"
	alertLocArgs      = "loc-args"
	alertActionLocKey = "action-loc-key"
	alertLaunchImage  = "launch-image"
)

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringSlice(v any) []string {
	switch items := v.(type) {
	case []string:
		return append([]string(nil), items...)
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case json.Number:
		f, err := b.Float64()
		return err == nil && f != 0
	default:
		return false
	}
}

// cloneMap copies m and every nested map, slice and sequence in it.
func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch c := v.(type) {
	case map[string]any:
		return cloneMap(c)
	case []any:
		if c == nil {
			return c
		}
		out := make([]any, len(c))
		for i, item := range c {
			out[i] = cloneValue(item)
		}
		return out
	case serialization.Sequence:
		return serialization.Sequence{Values: cloneValue(c.Values).([]any)}
	default:
		return v
	}
}
