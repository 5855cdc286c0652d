// Package schema validates remote documents against CUE definitions of the
// shapes stored in the feed and attendance collections.
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/cumba2321/classsync/internal/docstore"
	"github.com/cumba2321/classsync/internal/model"
)

//go:embed documents.cue
var documentsCUE string

// Shape names one document definition in documents.cue.
type Shape string

const (
	FeedItem            Shape = "#FeedItem"
	Comment             Shape = "#Comment"
	AttendanceAggregate Shape = "#AttendanceAggregate"
	AttendanceRequest   Shape = "#AttendanceRequest"
	AttendanceRecord    Shape = "#AttendanceRecord"
)

// serverTimestampPlaceholder stands in for docstore.ServerTimestamp, which
// only becomes a concrete time inside the backend.
const serverTimestampPlaceholder = "<server timestamp>"

// Validator checks documents against the compiled schema. A cue.Context is
// not safe for concurrent use, so calls are serialized.
type Validator struct {
	mu   sync.Mutex
	ctx  *cue.Context
	root cue.Value
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(documentsCUE, cue.Filename("documents.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return &Validator{ctx: ctx, root: root}, nil
}

var (
	defaultOnce sync.Once
	defaultV    *Validator
	defaultErr  error
)

// Default returns a process-wide validator, compiled on first use.
func Default() *Validator {
	defaultOnce.Do(func() {
		defaultV, defaultErr = New()
	})
	if defaultErr != nil {
		// The schema is embedded; failing to compile it is a build defect.
		panic(defaultErr)
	}
	return defaultV
}

// Validate checks that fields form a complete document of the given shape.
func (v *Validator) Validate(shape Shape, fields map[string]any) error {
	return v.validate(shape, fields, true)
}

// ValidatePartial checks that fields are consistent with shape without
// requiring every field to be present. Used for field-level updates.
func (v *Validator) ValidatePartial(shape Shape, fields map[string]any) error {
	return v.validate(shape, fields, false)
}

func (v *Validator) validate(shape Shape, fields map[string]any, complete bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	def := v.root.LookupPath(cue.ParsePath(string(shape)))
	if !def.Exists() {
		return fmt.Errorf("unknown document shape %s", shape)
	}

	data := v.ctx.Encode(plain(fields))
	if err := data.Err(); err != nil {
		return model.WrapError(model.KindValidation, "document not encodable", err)
	}

	unified := def.Unify(data)
	var opts []cue.Option
	if complete {
		opts = append(opts, cue.Concrete(true))
	}
	if err := unified.Validate(opts...); err != nil {
		return model.WrapError(model.KindValidation,
			fmt.Sprintf("invalid %s document: %s", strings.TrimPrefix(string(shape), "#"), summarize(err)), err)
	}
	return nil
}

// summarize joins the individual CUE errors on one line.
func summarize(err error) string {
	errs := cueerrors.Errors(err)
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := e.Path(); len(path) > 0 {
			msg = strings.Join(path, ".") + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return err.Error()
	}
	return strings.Join(msgs, "; ")
}

// plain converts backend field values into types CUE encodes directly.
func plain(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = plain(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = plain(x)
		}
		return out
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		if v == docstore.ServerTimestamp {
			return serverTimestampPlaceholder
		}
		return docstore.Normalize(v)
	}
}

// Fields returns the flat field map an update writes, expanding dotted
// paths ("attendance.s1") into nested maps so it can be checked with
// ValidatePartial.
func Fields(ops []docstore.FieldOp) map[string]any {
	out := map[string]any{}
	for _, op := range ops {
		if op.Kind != docstore.OpSet {
			continue
		}
		parts := strings.Split(op.Field, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = op.Value
	}
	return out
}
