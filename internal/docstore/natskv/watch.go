package natskv

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/cumba2321/classsync/internal/docstore"
)

// watcher folds KV entries into snapshots. It holds at most one undelivered
// snapshot; a newer one replaces it.
type watcher struct {
	prefix string
	kw     jetstream.KeyWatcher
	ch     chan docstore.Snapshot
	done   chan struct{}
	once   sync.Once
	b      *Backend
}

// Watch subscribes to every key under prefix. The first snapshot is sent
// once the bucket has replayed its current values.
func (b *Backend) Watch(ctx context.Context, prefix string) (docstore.Watcher, error) {
	if err := docstore.ValidateCollectionPath(prefix); err != nil {
		if err := docstore.ValidateDocPath(prefix); err != nil {
			return nil, err
		}
	}
	if err := validSegment(prefix); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, docstore.ErrClosed
	}

	kw, err := b.kv.Watch(ctx, Key(prefix)+".>")
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", prefix, err)
	}
	w := &watcher{
		prefix: prefix,
		kw:     kw,
		ch:     make(chan docstore.Snapshot, 1),
		done:   make(chan struct{}),
		b:      b,
	}
	b.watchers[w] = struct{}{}
	go w.run(ctx)
	return w, nil
}

// run is the only sender on w.ch and closes it on exit.
func (w *watcher) run(ctx context.Context) {
	defer func() {
		w.Stop()
		close(w.ch)
	}()

	docs := make(map[string]docstore.Document)
	var seq int64
	ready := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case entry, ok := <-w.kw.Updates():
			if !ok {
				return
			}
			if entry == nil {
				ready = true
				w.offer(snapshotOf(w.prefix, seq, docs))
				continue
			}

			if rev := int64(entry.Revision()); rev > seq {
				seq = rev
			}
			path := Path(entry.Key())
			switch entry.Operation() {
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				delete(docs, path)
			default:
				doc, err := decodeEntry(entry)
				if err != nil {
					slog.Warn("skipping undecodable entry", "key", entry.Key(), "error", err)
					continue
				}
				docs[path] = doc
			}
			if ready {
				w.offer(snapshotOf(w.prefix, seq, docs))
			}
		}
	}
}

func snapshotOf(prefix string, seq int64, docs map[string]docstore.Document) docstore.Snapshot {
	snap := docstore.Snapshot{Prefix: prefix, Seq: seq, Docs: make([]docstore.Document, 0, len(docs))}
	for _, d := range docs {
		snap.Docs = append(snap.Docs, docstore.Document{
			Path:   d.Path,
			Fields: docstore.CloneFields(d.Fields),
			Seq:    d.Seq,
		})
	}
	sortDocs(snap.Docs)
	return snap
}

func (w *watcher) offer(snap docstore.Snapshot) {
	select {
	case <-w.ch:
	default:
	}
	select {
	case w.ch <- snap:
	case <-w.done:
	}
}

func (w *watcher) Updates() <-chan docstore.Snapshot {
	return w.ch
}

func (w *watcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		if err := w.kw.Stop(); err != nil {
			slog.Debug("stop key watcher", "prefix", w.prefix, "error", err)
		}
		w.b.mu.Lock()
		delete(w.b.watchers, w)
		w.b.mu.Unlock()
	})
}
