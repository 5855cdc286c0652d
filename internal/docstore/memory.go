package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Option configures a backend.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock sets the source of server timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator sets the generator for Create ids.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) { o.newID = gen }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Memory is an in-process Backend. All state is lost when it is dropped.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]Document
	seq    int64
	closed bool
	opts   options
	hub    *hub
}

// NewMemory creates an empty in-memory backend.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		docs: make(map[string]Document),
		opts: buildOptions(opts),
		hub:  newHub(),
	}
}

// Seq returns the last commit sequence.
func (m *Memory) Seq() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

func (m *Memory) Get(_ context.Context, path string) (Document, error) {
	if err := ValidateDocPath(path); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Document{}, ErrClosed
	}
	doc, ok := m.docs[path]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return copyDoc(doc), nil
}

func (m *Memory) List(_ context.Context, collection string) ([]Document, error) {
	if err := ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []Document
	for path, doc := range m.docs {
		if Parent(path) == collection {
			out = append(out, copyDoc(doc))
		}
	}
	sortDocs(out)
	return out, nil
}

func (m *Memory) Set(_ context.Context, path string, fields map[string]any) (int64, error) {
	if err := ValidateDocPath(path); err != nil {
		return 0, err
	}
	return m.commit(path, func(map[string]any, bool) (map[string]any, bool, error) {
		return ResolveServerTimestamps(fields, m.opts.now()), true, nil
	})
}

func (m *Memory) Create(ctx context.Context, collection string, fields map[string]any) (string, int64, error) {
	if err := ValidateCollectionPath(collection); err != nil {
		return "", 0, err
	}
	id := m.opts.newID()
	seq, err := m.Set(ctx, Join(collection, id), fields)
	if err != nil {
		return "", 0, err
	}
	return id, seq, nil
}

func (m *Memory) Update(_ context.Context, path string, ops ...FieldOp) (int64, error) {
	return m.update(path, false, ops)
}

func (m *Memory) Upsert(_ context.Context, path string, ops ...FieldOp) (int64, error) {
	return m.update(path, true, ops)
}

func (m *Memory) update(path string, upsert bool, ops []FieldOp) (int64, error) {
	if err := ValidateDocPath(path); err != nil {
		return 0, err
	}
	return m.commit(path, func(cur map[string]any, exists bool) (map[string]any, bool, error) {
		if !exists {
			if !upsert {
				return nil, false, fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			cur = map[string]any{}
		}
		if err := ApplyOps(cur, ops, m.opts.now()); err != nil {
			return nil, false, err
		}
		return cur, true, nil
	})
}

func (m *Memory) Delete(_ context.Context, path string) (int64, error) {
	if err := ValidateDocPath(path); err != nil {
		return 0, err
	}
	return m.commit(path, func(_ map[string]any, exists bool) (map[string]any, bool, error) {
		if !exists {
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, false, nil
	})
}

// commit runs mutate on a copy of the current fields and stores the result
// (keep=false deletes the document). Watchers are notified before the lock
// is released.
func (m *Memory) commit(path string, mutate func(cur map[string]any, exists bool) (map[string]any, bool, error)) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	var cur map[string]any
	existing, exists := m.docs[path]
	if exists {
		cur = CloneFields(existing.Fields)
	}
	next, keep, err := mutate(cur, exists)
	if err != nil {
		return 0, err
	}

	m.seq++
	if keep {
		m.docs[path] = Document{Path: path, Fields: next, Seq: m.seq}
	} else {
		delete(m.docs, path)
	}

	m.hub.publish([]string{path}, m.snapshotLocked)
	return m.seq, nil
}

func (m *Memory) snapshotLocked(prefix string) (Snapshot, error) {
	snap := Snapshot{Prefix: prefix, Seq: m.seq}
	for path, doc := range m.docs {
		if UnderPrefix(path, prefix) {
			snap.Docs = append(snap.Docs, copyDoc(doc))
		}
	}
	sortDocs(snap.Docs)
	return snap, nil
}

// Watch delivers the current snapshot immediately, then one per commit under prefix.
func (m *Memory) Watch(ctx context.Context, prefix string) (Watcher, error) {
	if _, err := splitPath(prefix); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	initial, _ := m.snapshotLocked(prefix)
	return m.hub.add(ctx, prefix, initial), nil
}

// Close stops all watchers. Further calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.closeAll()
	return nil
}

func copyDoc(d Document) Document {
	return Document{Path: d.Path, Fields: CloneFields(d.Fields), Seq: d.Seq}
}
