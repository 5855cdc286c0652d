package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp normalizes every timestamp shape a backend may store into a
// time.Time in UTC:
//
//   - nil or "" (absent; a server timestamp that was never resolved) → zero time
//   - time.Time and *time.Time
//   - strings in RFC 3339 (with or without fractional seconds)
//   - numbers as epoch seconds (int, int64, float64, json.Number)
//   - objects {"seconds", "nanoseconds"} or {"_seconds", "_nanoseconds"}
//
// Any other shape is an error; callers decide whether to drop the document.
func ParseTimestamp(v any) (time.Time, error) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return val.UTC(), nil
	case *time.Time:
		if val == nil {
			return time.Time{}, nil
		}
		return val.UTC(), nil
	case string:
		return parseTimestampString(val)
	case int:
		return time.Unix(int64(val), 0).UTC(), nil
	case int64:
		return time.Unix(val, 0).UTC(), nil
	case float64:
		return fromEpochFloat(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return time.Unix(i, 0).UTC(), nil
		}
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", val, err)
		}
		return fromEpochFloat(f)
	case map[string]any:
		return parseTimestampObject(val)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func fromEpochFloat(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("invalid epoch timestamp %v", f)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
}

func parseTimestampObject(obj map[string]any) (time.Time, error) {
	secRaw, ok := obj["seconds"]
	if !ok {
		secRaw, ok = obj["_seconds"]
	}
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp object without seconds field")
	}
	sec, err := toInt64(secRaw)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp seconds: %w", err)
	}

	var nanos int64
	nanoRaw, ok := obj["nanoseconds"]
	if !ok {
		nanoRaw, ok = obj["_nanoseconds"]
	}
	if ok {
		nanos, err = toInt64(nanoRaw)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp nanoseconds: %w", err)
		}
	}
	return time.Unix(sec, nanos).UTC(), nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
