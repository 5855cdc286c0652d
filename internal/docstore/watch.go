package docstore

import (
	"context"
	"log/slog"
	"sync"
)

// hub fans snapshots out to in-process watchers. Backends call publish while
// holding their write lock, which keeps deliveries in commit order.
type hub struct {
	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

func newHub() *hub {
	return &hub{watchers: make(map[*watcher]struct{})}
}

// watcher holds at most one undelivered snapshot; a newer one replaces it.
type watcher struct {
	prefix string
	ch     chan Snapshot
	done   chan struct{}
	once   sync.Once
	h      *hub
}

func (h *hub) add(ctx context.Context, prefix string, initial Snapshot) *watcher {
	w := &watcher{
		prefix: prefix,
		ch:     make(chan Snapshot, 1),
		done:   make(chan struct{}),
		h:      h,
	}
	w.ch <- initial

	h.mu.Lock()
	h.watchers[w] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.done:
		}
	}()
	return w
}

// publish delivers a snapshot to every watcher whose prefix covers one of
// the changed paths. build is called once per distinct prefix.
// Watchers whose snapshot cannot be built are skipped for this commit.
func (h *hub) publish(changed []string, build func(prefix string) (Snapshot, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	built := make(map[string]Snapshot)
	failed := make(map[string]bool)
	for w := range h.watchers {
		if !touches(changed, w.prefix) || failed[w.prefix] {
			continue
		}
		snap, ok := built[w.prefix]
		if !ok {
			var err error
			snap, err = build(w.prefix)
			if err != nil {
				slog.Error("build snapshot failed", "prefix", w.prefix, "error", err)
				failed[w.prefix] = true
				continue
			}
			built[w.prefix] = snap
		}
		w.offer(snap)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	ws := make([]*watcher, 0, len(h.watchers))
	for w := range h.watchers {
		ws = append(ws, w)
	}
	h.mu.Unlock()

	for _, w := range ws {
		w.Stop()
	}
}

func touches(changed []string, prefix string) bool {
	for _, p := range changed {
		if UnderPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// offer replaces any undelivered snapshot with snap. Called with h.mu held.
func (w *watcher) offer(snap Snapshot) {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case <-w.ch:
	default:
	}
	w.ch <- snap
}

func (w *watcher) Updates() <-chan Snapshot {
	return w.ch
}

func (w *watcher) Stop() {
	w.once.Do(func() {
		w.h.mu.Lock()
		delete(w.h.watchers, w)
		close(w.done)
		close(w.ch)
		w.h.mu.Unlock()
	})
}
