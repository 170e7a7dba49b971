// Package convert coerces raw configuration values into typed settings.
// Values arrive as TOML scalars, Go values set in process, or strings
// read from the environment, so every helper accepts all three.
package convert

import (
	"strconv"
	"strings"
	"time"
)

// String returns v when it is a string.
func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Int accepts Go and TOML integers, whole floats and numeric strings.
func Int(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

// Duration accepts time.Duration, duration strings such as "45s", and
// integers counted in seconds.
func Duration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		s := strings.TrimSpace(d)
		if parsed, err := time.ParseDuration(s); err == nil {
			return parsed, true
		}
		if secs, err := strconv.Atoi(s); err == nil {
			return time.Duration(secs) * time.Second, true
		}
		return 0, false
	default:
		if secs, ok := Int(v); ok {
			return time.Duration(secs) * time.Second, true
		}
		return 0, false
	}
}

// StringSlice accepts string arrays, TOML arrays and comma separated
// strings. Blank entries are dropped.
func StringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out, true
	case string:
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, true
	default:
		return nil, false
	}
}
