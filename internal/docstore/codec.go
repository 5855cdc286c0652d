package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeFields serializes fields as JSON. time.Time values become RFC 3339
// strings, which model.ParseTimestamp reads back.
func EncodeFields(fields map[string]any) ([]byte, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return data, nil
}

// DecodeFields parses JSON produced by EncodeFields. Integral numbers decode
// to int64 and the rest to float64, matching Normalize.
func DecodeFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return fromJSON(raw).(map[string]any), nil
}

func fromJSON(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, x := range val {
			val[k] = fromJSON(x)
		}
		return val
	case []any:
		for i, x := range val {
			val[i] = fromJSON(x)
		}
		return val
	default:
		return v
	}
}
