// Package natskv stores documents in a NATS JetStream key-value bucket.
//
// Document paths map to keys by replacing "/" with ".", so a collection
// prefix becomes a subject wildcard ("classes.c1.feed.>"). Key revisions
// are the stream sequence of the bucket and serve as commit sequences.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	libnats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/samber/lo"

	"github.com/cumba2321/classsync/internal/docstore"
)

// maxCASAttempts bounds the read-modify-write loop of Update and Upsert.
const maxCASAttempts = 10

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the source of ServerTimestamp values. JetStream KV has no
// server-side transforms, so timestamps are resolved by the writer.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithIDGenerator sets the generator for Create ids.
func WithIDGenerator(gen func() string) Option {
	return func(b *Backend) { b.newID = gen }
}

// Backend implements docstore.Backend over a KeyValue bucket.
type Backend struct {
	kv    jetstream.KeyValue
	nc    *libnats.Conn
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	closed   bool
	watchers map[*watcher]struct{}
}

var _ docstore.Backend = (*Backend)(nil)

// New wraps an existing bucket. The caller keeps ownership of its connection.
func New(kv jetstream.KeyValue, opts ...Option) *Backend {
	b := &Backend{
		kv:       kv,
		now:      time.Now,
		newID:    uuid.NewString,
		watchers: make(map[*watcher]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open connects to url and creates the bucket if needed.
func Open(ctx context.Context, url, bucket string, opts ...Option) (*Backend, error) {
	nc, err := libnats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "classsync documents",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bucket %s: %w", bucket, err)
	}
	b := New(kv, opts...)
	b.nc = nc
	return b, nil
}

// Key converts a document path to a bucket key.
func Key(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

// Path converts a bucket key back to a document path.
func Path(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}

// validSegment rejects characters that are not legal in KV keys or that
// would collide with the path separator mapping.
func validSegment(path string) error {
	for _, r := range path {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '=' || r == '/':
		default:
			return fmt.Errorf("%w: %q contains %q", docstore.ErrInvalidPath, path, r)
		}
	}
	return nil
}

func checkDoc(path string) error {
	if err := docstore.ValidateDocPath(path); err != nil {
		return err
	}
	return validSegment(path)
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) Get(ctx context.Context, path string) (docstore.Document, error) {
	if err := checkDoc(path); err != nil {
		return docstore.Document{}, err
	}
	if b.isClosed() {
		return docstore.Document{}, docstore.ErrClosed
	}
	doc, _, err := b.load(ctx, path)
	return doc, err
}

func (b *Backend) load(ctx context.Context, path string) (docstore.Document, uint64, error) {
	entry, err := b.kv.Get(ctx, Key(path))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return docstore.Document{}, 0, fmt.Errorf("%w: %s", docstore.ErrNotFound, path)
	}
	if err != nil {
		return docstore.Document{}, 0, fmt.Errorf("get %s: %w", path, err)
	}
	doc, err := decodeEntry(entry)
	if err != nil {
		return docstore.Document{}, 0, err
	}
	return doc, entry.Revision(), nil
}

func decodeEntry(entry jetstream.KeyValueEntry) (docstore.Document, error) {
	fields, err := docstore.DecodeFields(entry.Value())
	if err != nil {
		return docstore.Document{}, fmt.Errorf("decode %s: %w", entry.Key(), err)
	}
	return docstore.Document{
		Path:   Path(entry.Key()),
		Fields: fields,
		Seq:    int64(entry.Revision()),
	}, nil
}

func (b *Backend) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := docstore.ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	if b.isClosed() {
		return nil, docstore.ErrClosed
	}
	keys, err := b.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}

	children := lo.Filter(keys, func(key string, _ int) bool {
		return docstore.Parent(Path(key)) == collection
	})

	var out []docstore.Document
	for _, key := range children {
		path := Path(key)
		doc, _, err := b.load(ctx, path)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	sortDocs(out)
	return out, nil
}

func (b *Backend) Set(ctx context.Context, path string, fields map[string]any) (int64, error) {
	if err := checkDoc(path); err != nil {
		return 0, err
	}
	if b.isClosed() {
		return 0, docstore.ErrClosed
	}
	data, err := docstore.EncodeFields(docstore.ResolveServerTimestamps(fields, b.now()))
	if err != nil {
		return 0, err
	}
	rev, err := b.kv.Put(ctx, Key(path), data)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", path, err)
	}
	return int64(rev), nil
}

func (b *Backend) Create(ctx context.Context, collection string, fields map[string]any) (string, int64, error) {
	if err := docstore.ValidateCollectionPath(collection); err != nil {
		return "", 0, err
	}
	id := b.newID()
	path := docstore.Join(collection, id)
	if err := checkDoc(path); err != nil {
		return "", 0, err
	}
	if b.isClosed() {
		return "", 0, docstore.ErrClosed
	}
	data, err := docstore.EncodeFields(docstore.ResolveServerTimestamps(fields, b.now()))
	if err != nil {
		return "", 0, err
	}
	rev, err := b.kv.Create(ctx, Key(path), data)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", path, err)
	}
	return id, int64(rev), nil
}

func (b *Backend) Update(ctx context.Context, path string, ops ...docstore.FieldOp) (int64, error) {
	return b.update(ctx, path, false, ops)
}

func (b *Backend) Upsert(ctx context.Context, path string, ops ...docstore.FieldOp) (int64, error) {
	return b.update(ctx, path, true, ops)
}

// update is a compare-and-set loop on the key revision.
func (b *Backend) update(ctx context.Context, path string, upsert bool, ops []docstore.FieldOp) (int64, error) {
	if err := checkDoc(path); err != nil {
		return 0, err
	}
	if b.isClosed() {
		return 0, docstore.ErrClosed
	}
	key := Key(path)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		doc, rev, err := b.load(ctx, path)
		missing := errors.Is(err, docstore.ErrNotFound)
		if err != nil && !missing {
			return 0, err
		}
		if missing && !upsert {
			return 0, err
		}

		fields := doc.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		if err := docstore.ApplyOps(fields, ops, b.now()); err != nil {
			return 0, err
		}
		data, err := docstore.EncodeFields(fields)
		if err != nil {
			return 0, err
		}

		var next uint64
		if missing {
			next, err = b.kv.Create(ctx, key, data)
		} else {
			next, err = b.kv.Update(ctx, key, data, rev)
		}
		if err == nil {
			return int64(next), nil
		}
		if !isRevisionMismatch(err) {
			return 0, fmt.Errorf("update %s: %w", path, err)
		}
		slog.Debug("revision conflict, retrying", "path", path, "attempt", attempt+1)
	}
	return 0, fmt.Errorf("%w: %s after %d attempts", docstore.ErrConflict, path, maxCASAttempts)
}

func isRevisionMismatch(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// Delete removes the document. The returned sequence is 0: the bucket API
// does not report the revision of the delete marker.
func (b *Backend) Delete(ctx context.Context, path string) (int64, error) {
	if err := checkDoc(path); err != nil {
		return 0, err
	}
	if b.isClosed() {
		return 0, docstore.ErrClosed
	}
	_, rev, err := b.load(ctx, path)
	if err != nil {
		return 0, err
	}
	if err := b.kv.Delete(ctx, Key(path), jetstream.LastRevision(rev)); err != nil {
		if isRevisionMismatch(err) {
			return 0, fmt.Errorf("%w: %s changed during delete", docstore.ErrConflict, path)
		}
		return 0, fmt.Errorf("delete %s: %w", path, err)
	}
	return 0, nil
}

// Close stops all watchers and, for backends created by Open, drains the
// connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ws := make([]*watcher, 0, len(b.watchers))
	for w := range b.watchers {
		ws = append(ws, w)
	}
	b.mu.Unlock()

	for _, w := range ws {
		w.Stop()
	}
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}

func sortDocs(docs []docstore.Document) {
	slices.SortFunc(docs, func(a, b docstore.Document) int { return strings.Compare(a.Path, b.Path) })
}
