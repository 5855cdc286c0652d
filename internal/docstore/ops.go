package docstore

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

type serverTimestamp struct{}

// ServerTimestamp is a field value the backend replaces with its commit time.
var ServerTimestamp any = serverTimestamp{}

// OpKind selects what a FieldOp does.
type OpKind int

const (
	OpSet OpKind = iota + 1
	OpIncrement
	OpArrayUnion
	OpArrayRemove
	OpDeleteField
)

// FieldOp is one field-level operation of an Update. Field is a dotted path
// into nested maps ("attendance.stu1"); intermediate maps are created as needed.
type FieldOp struct {
	Kind   OpKind
	Field  string
	Value  any
	Delta  int64
	Values []any
}

// Set replaces field with v.
func Set(field string, v any) FieldOp {
	return FieldOp{Kind: OpSet, Field: field, Value: v}
}

// Increment adds delta to a numeric field (missing counts as 0).
func Increment(field string, delta int64) FieldOp {
	return FieldOp{Kind: OpIncrement, Field: field, Delta: delta}
}

// ArrayUnion appends each value not already present in the array field.
func ArrayUnion(field string, values ...any) FieldOp {
	return FieldOp{Kind: OpArrayUnion, Field: field, Values: values}
}

// ArrayRemove removes every occurrence of each value from the array field.
func ArrayRemove(field string, values ...any) FieldOp {
	return FieldOp{Kind: OpArrayRemove, Field: field, Values: values}
}

// DeleteField removes field.
func DeleteField(field string) FieldOp {
	return FieldOp{Kind: OpDeleteField, Field: field}
}

// ApplyOps applies ops to fields in order. fields is modified in place;
// ServerTimestamp values resolve to now.
func ApplyOps(fields map[string]any, ops []FieldOp, now time.Time) error {
	for _, op := range ops {
		if err := applyOp(fields, op, now); err != nil {
			return fmt.Errorf("field %q: %w", op.Field, err)
		}
	}
	return nil
}

func applyOp(fields map[string]any, op FieldOp, now time.Time) error {
	if op.Field == "" {
		return fmt.Errorf("empty field path")
	}
	parts := strings.Split(op.Field, ".")
	parent := fields
	for _, p := range parts[:len(parts)-1] {
		next, ok := parent[p].(map[string]any)
		if !ok {
			if op.Kind == OpDeleteField {
				return nil
			}
			next = map[string]any{}
			parent[p] = next
		}
		parent = next
	}
	key := parts[len(parts)-1]

	switch op.Kind {
	case OpSet:
		parent[key] = resolve(Normalize(op.Value), now)
	case OpIncrement:
		cur, err := asInt64(parent[key])
		if err != nil {
			return err
		}
		parent[key] = cur + op.Delta
	case OpArrayUnion:
		arr, err := asArray(parent[key])
		if err != nil {
			return err
		}
		for _, v := range op.Values {
			v = Normalize(v)
			if !containsValue(arr, v) {
				arr = append(arr, v)
			}
		}
		parent[key] = arr
	case OpArrayRemove:
		arr, err := asArray(parent[key])
		if err != nil {
			return err
		}
		out := make([]any, 0, len(arr))
		for _, existing := range arr {
			if !containsValue(op.Values, existing) {
				out = append(out, existing)
			}
		}
		parent[key] = out
	case OpDeleteField:
		delete(parent, key)
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("cannot increment %T", v)
	}
}

func asArray(v any) ([]any, error) {
	switch a := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return append([]any{}, a...), nil
	default:
		return nil, fmt.Errorf("not an array: %T", v)
	}
}

func containsValue(arr []any, v any) bool {
	v = Normalize(v)
	for _, x := range arr {
		if reflect.DeepEqual(Normalize(x), v) {
			return true
		}
	}
	return false
}

// Normalize converts a Go value into the JSON-like shape documents store:
// integer kinds become int64, string slices become []any, string maps
// become map[string]any. Values are copied.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int64, float64, time.Time, serverTimestamp:
		return val
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = Normalize(x)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case map[string]any:
		return CloneFields(val)
	default:
		return val
	}
}

// CloneFields deep-copies a field map, normalizing values.
func CloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = Normalize(v)
	}
	return out
}

// ResolveServerTimestamps returns a normalized copy of fields with every
// ServerTimestamp replaced by now.
func ResolveServerTimestamps(fields map[string]any, now time.Time) map[string]any {
	out := CloneFields(fields)
	for k, v := range out {
		out[k] = resolve(v, now)
	}
	return out
}

func resolve(v any, now time.Time) any {
	switch val := v.(type) {
	case serverTimestamp:
		return now.UTC()
	case map[string]any:
		for k, x := range val {
			val[k] = resolve(x, now)
		}
		return val
	case []any:
		for i, x := range val {
			val[i] = resolve(x, now)
		}
		return val
	default:
		return v
	}
}
