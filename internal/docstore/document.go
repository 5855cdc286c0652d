package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Document is one stored document.
type Document struct {
	Path   string
	Fields map[string]any

	// Seq is the commit sequence of the last write to this document.
	Seq int64
}

// ID returns the last path segment.
func (d Document) ID() string {
	return lastSegment(d.Path)
}

// Snapshot is the state of every document under a prefix.
type Snapshot struct {
	Prefix string

	// Seq is the commit sequence this snapshot is consistent with.
	Seq int64

	// Docs are sorted by path.
	Docs []Document
}

// Backend is the remote document store contract.
//
// Implementations must be safe for concurrent use. Write methods return the
// commit sequence of the write.
type Backend interface {
	// Get returns the document at path or ErrNotFound.
	Get(ctx context.Context, path string) (Document, error)

	// List returns the documents directly inside collection, sorted by id.
	List(ctx context.Context, collection string) ([]Document, error)

	// Set creates or replaces the document at path.
	Set(ctx context.Context, path string, fields map[string]any) (int64, error)

	// Create adds a document with a generated id inside collection.
	Create(ctx context.Context, collection string, fields map[string]any) (id string, seq int64, err error)

	// Update applies field operations to an existing document, atomically
	// with respect to other writes of the same document.
	// Returns ErrNotFound if the document does not exist.
	Update(ctx context.Context, path string, ops ...FieldOp) (int64, error)

	// Upsert is Update that creates an empty document first when missing.
	Upsert(ctx context.Context, path string, ops ...FieldOp) (int64, error)

	// Delete removes the document at path. Returns ErrNotFound if absent.
	Delete(ctx context.Context, path string) (int64, error)

	// Watch streams snapshots of every document under prefix.
	// The watch ends when ctx is cancelled or Stop is called.
	Watch(ctx context.Context, prefix string) (Watcher, error)

	Close() error
}

// Watcher is a live subscription to a prefix.
type Watcher interface {
	// Updates delivers snapshots in increasing Seq order. Closed when the watch ends.
	Updates() <-chan Snapshot
	Stop()
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// ValidateDocPath checks that path names a document (an even number of
// non-empty segments).
func ValidateDocPath(path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segs)%2 != 0 {
		return fmt.Errorf("%w: %q is a collection, not a document", ErrInvalidPath, path)
	}
	return nil
}

// ValidateCollectionPath checks that path names a collection (an odd number
// of non-empty segments).
func ValidateCollectionPath(path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segs)%2 != 1 {
		return fmt.Errorf("%w: %q is a document, not a collection", ErrInvalidPath, path)
	}
	return nil
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// Parent returns the collection path containing the document at path.
func Parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func lastSegment(path string) string {
	i := strings.LastIndex(path, "/")
	return path[i+1:]
}

// UnderPrefix reports whether path is prefix itself or nested below it.
func UnderPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func sortDocs(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
}
