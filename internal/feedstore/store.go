// Package feedstore holds the merged feed view for readers.
//
// The store has exactly one writer: New returns the Writer handle once, and
// the feed controller keeps it. Readers get copies, so nothing they do can
// change what other readers see.
package feedstore

import (
	"reflect"
	"sync"

	"github.com/cumba2321/classsync/internal/model"
)

// View is one published version of the feed.
type View struct {
	Version uint64
	Items   []model.FeedItem
}

// Store is safe for concurrent use by any number of readers.
type Store struct {
	mu      sync.RWMutex
	items   []model.FeedItem
	version uint64

	// changed holds at most one pending notification.
	changed chan struct{}

	subMu sync.Mutex
	subs  map[*subscriber]struct{}
}

// Writer publishes new views. It is not safe to share between goroutines
// that publish concurrently; the store assumes one writer.
type Writer struct {
	s *Store
}

// New creates an empty store and its writer.
func New() (*Store, *Writer) {
	s := &Store{
		items:   []model.FeedItem{},
		changed: make(chan struct{}, 1),
		subs:    make(map[*subscriber]struct{}),
	}
	return s, &Writer{s: s}
}

// View returns a deep copy of the current items.
func (s *Store) View() []model.FeedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneItems(s.items)
}

// Current returns the current items together with their version.
func (s *Store) Current() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{Version: s.version, Items: cloneItems(s.items)}
}

// Get returns a copy of the item with id.
func (s *Store) Get(id string) (model.FeedItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item.Clone(), true
		}
	}
	return model.FeedItem{}, false
}

// Version increases by one with every published change. Zero means nothing
// has been published.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Changed receives a value after the view changes. Notifications coalesce.
// Use Subscribe when more than one reader needs to be woken.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

// Subscribe returns a channel that receives the newest view after each
// change, starting with the current one. A slow reader only ever sees the
// latest view. cancel closes the channel.
func (s *Store) Subscribe() (updates <-chan View, cancel func()) {
	sub := &subscriber{ch: make(chan View, 1)}

	s.subMu.Lock()
	sub.offer(s.Current())
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	return sub.ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.ch)
		}
	}
}

// Publish replaces the view with items and returns the new version. An
// identical view is not republished.
func (w *Writer) Publish(items []model.FeedItem) uint64 {
	s := w.s
	s.mu.Lock()
	if reflect.DeepEqual(s.items, items) {
		v := s.version
		s.mu.Unlock()
		return v
	}
	s.items = cloneItems(items)
	s.version++
	view := View{Version: s.version, Items: cloneItems(s.items)}
	s.mu.Unlock()

	s.notify(view)
	return view.Version
}

// Reset empties the view, e.g. on sign-out.
func (w *Writer) Reset() uint64 {
	return w.Publish([]model.FeedItem{})
}

func (s *Store) notify(view View) {
	select {
	case s.changed <- struct{}{}:
	default:
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		sub.offer(View{Version: view.Version, Items: cloneItems(view.Items)})
	}
}

type subscriber struct {
	ch chan View
}

// offer replaces any undelivered view. Called with subMu held.
func (sub *subscriber) offer(v View) {
	select {
	case <-sub.ch:
	default:
	}
	sub.ch <- v
}

func cloneItems(items []model.FeedItem) []model.FeedItem {
	out := make([]model.FeedItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
