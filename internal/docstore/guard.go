package docstore

import (
	"context"
	"fmt"
)

// Action names the kind of access a Rule is asked about.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionSet    Action = "set"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Request describes one access checked by a Rule. For ActionCreate, Path is
// the collection. Fields is set for Set and Create, Ops for Update and Upsert.
type Request struct {
	Action Action
	Path   string
	Fields map[string]any
	Ops    []FieldOp
}

// Rule decides whether a request is allowed. A non-nil error denies it;
// Guard wraps the error with ErrPermissionDenied.
type Rule func(ctx context.Context, req Request) error

// Guard is a Backend that checks every access against a rule before
// forwarding it, the way security rules sit in front of a hosted store.
type Guard struct {
	Backend
	rule Rule
}

// NewGuard wraps b with rule.
func NewGuard(b Backend, rule Rule) *Guard {
	return &Guard{Backend: b, rule: rule}
}

func (g *Guard) check(ctx context.Context, req Request) error {
	if err := g.rule(ctx, req); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrPermissionDenied, req.Action, req.Path, err)
	}
	return nil
}

func (g *Guard) Get(ctx context.Context, path string) (Document, error) {
	if err := g.check(ctx, Request{Action: ActionRead, Path: path}); err != nil {
		return Document{}, err
	}
	return g.Backend.Get(ctx, path)
}

func (g *Guard) List(ctx context.Context, collection string) ([]Document, error) {
	if err := g.check(ctx, Request{Action: ActionRead, Path: collection}); err != nil {
		return nil, err
	}
	return g.Backend.List(ctx, collection)
}

func (g *Guard) Set(ctx context.Context, path string, fields map[string]any) (int64, error) {
	if err := g.check(ctx, Request{Action: ActionSet, Path: path, Fields: fields}); err != nil {
		return 0, err
	}
	return g.Backend.Set(ctx, path, fields)
}

func (g *Guard) Create(ctx context.Context, collection string, fields map[string]any) (string, int64, error) {
	if err := g.check(ctx, Request{Action: ActionCreate, Path: collection, Fields: fields}); err != nil {
		return "", 0, err
	}
	return g.Backend.Create(ctx, collection, fields)
}

func (g *Guard) Update(ctx context.Context, path string, ops ...FieldOp) (int64, error) {
	if err := g.check(ctx, Request{Action: ActionUpdate, Path: path, Ops: ops}); err != nil {
		return 0, err
	}
	return g.Backend.Update(ctx, path, ops...)
}

func (g *Guard) Upsert(ctx context.Context, path string, ops ...FieldOp) (int64, error) {
	if err := g.check(ctx, Request{Action: ActionUpdate, Path: path, Ops: ops}); err != nil {
		return 0, err
	}
	return g.Backend.Upsert(ctx, path, ops...)
}

func (g *Guard) Delete(ctx context.Context, path string) (int64, error) {
	if err := g.check(ctx, Request{Action: ActionDelete, Path: path}); err != nil {
		return 0, err
	}
	return g.Backend.Delete(ctx, path)
}

func (g *Guard) Watch(ctx context.Context, prefix string) (Watcher, error) {
	if err := g.check(ctx, Request{Action: ActionRead, Path: prefix}); err != nil {
		return nil, err
	}
	return g.Backend.Watch(ctx, prefix)
}

// DenyPrefix returns a rule that rejects writes under prefix and allows
// everything else.
func DenyPrefix(prefix string) Rule {
	return func(_ context.Context, req Request) error {
		if req.Action != ActionRead && UnderPrefix(req.Path, prefix) {
			return fmt.Errorf("writes under %s are not allowed", prefix)
		}
		return nil
	}
}
