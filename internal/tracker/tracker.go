// Package tracker records optimistic mutations until their push result is
// known and the remote snapshot has caught up with them.
//
// A mutation moves pending→confirmed or pending→failed exactly once.
// Repeated or late Confirm and Fail calls are no-ops that return false, so
// duplicate callbacks are harmless.
package tracker

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/remote"
)

// DefaultPushTimeout is how long a mutation may stay pending before Expire
// fails it as transient.
const DefaultPushTimeout = 15 * time.Second

// Option configures a Tracker.
type Option func(*Tracker)

// WithIDGenerator sets the correlation id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Tracker) { t.ids = g }
}

// WithClock sets the clock used for record times and expiry.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	live   map[string]*Mutation
	seq    int64
	ids    IDGenerator
	now    func() time.Time
	logger *slog.Logger

	// changed holds at most one pending notification.
	changed chan struct{}
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		live:    make(map[string]*Mutation),
		ids:     UUIDv7Generator{},
		now:     time.Now,
		logger:  slog.Default(),
		changed: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record assigns a correlation id to m, marks it pending and returns the id.
//
// A created item gets the local id and, when unset, the current time as
// its createdAt estimate; a comment gets a local id and its parent.
func (t *Tracker) Record(m Mutation) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	m = m.clone()
	m.ID = t.ids.Generate()
	m.Status = StatusPending
	m.Reason = nil
	m.Ack = remote.Ack{}
	t.seq++
	m.Seq = t.seq
	m.RecordedAt = t.now()

	switch m.Kind {
	case KindCreateItem:
		m.Item.ID = model.LocalID(m.ID)
		m.Item.State = model.StatePending
		m.Item.LikedBy = model.NormalizeLikedBy(m.Item.LikedBy)
		if m.Item.CreatedAt.IsZero() {
			m.Item.CreatedAt = m.RecordedAt.UTC()
		}
	case KindAddComment:
		m.Comment.ID = model.LocalID(m.ID)
		m.Comment.ParentID = m.ItemID
		m.Comment.State = model.StatePending
		if m.Comment.CreatedAt.IsZero() {
			m.Comment.CreatedAt = m.RecordedAt.UTC()
		}
	}

	t.live[m.ID] = &m
	mutationsRecorded.WithLabelValues(string(m.Kind)).Inc()
	mutationsPending.Inc()
	t.logger.Debug("mutation recorded", "id", m.ID, "kind", m.Kind, "target", m.Target())
	t.notify()
	return m.ID
}

// Confirm marks a pending mutation confirmed with the push acknowledgement.
// The mutation stays live until Settle.
func (t *Tracker) Confirm(id string, ack remote.Ack) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.live[id]
	if !ok || m.Status != StatusPending {
		return false
	}
	m.Status = StatusConfirmed
	m.Ack = ack

	mutationsPending.Dec()
	mutationsTerminal.WithLabelValues(string(m.Kind), "confirmed").Inc()
	confirmLatency.WithLabelValues(string(m.Kind)).Observe(t.now().Sub(m.RecordedAt).Seconds())
	t.logger.Debug("mutation confirmed", "id", id, "kind", m.Kind, "server_id", ack.ServerID, "seq", ack.Seq)
	t.notify()
	return true
}

// Fail marks a pending mutation failed. The mutation is removed, which rolls
// its overlay back at the next merge, unless it is a comment that failed
// transiently: that one is kept and shown as unsynced until discarded.
func (t *Tracker) Fail(id string, reason *model.Error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failLocked(id, reason, string(reasonKind(reason)))
}

func (t *Tracker) failLocked(id string, reason *model.Error, outcome string) bool {
	m, ok := t.live[id]
	if !ok || m.Status != StatusPending {
		return false
	}
	if reason == nil {
		reason = model.Transient("push failed")
	}
	m.Status = StatusFailed
	m.Reason = reason

	mutationsPending.Dec()
	mutationsTerminal.WithLabelValues(string(m.Kind), outcome).Inc()
	if retained(*m) {
		t.logger.Warn("comment not synced", "id", id, "item", m.ItemID, "reason", reason)
	} else {
		delete(t.live, id)
		t.logger.Warn("mutation rolled back", "id", id, "kind", m.Kind, "reason", reason)
	}
	t.notify()
	return true
}

func reasonKind(reason *model.Error) model.Kind {
	if reason == nil {
		return model.KindTransient
	}
	return reason.Kind
}

// Expire fails every mutation pending for longer than timeout as transient
// and returns their ids in record order.
func (t *Tracker) Expire(timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-timeout)
	var expired []*Mutation
	for _, m := range t.live {
		if m.Status == StatusPending && m.RecordedAt.Before(cutoff) {
			expired = append(expired, m)
		}
	}
	sortBySeq(expired)

	ids := make([]string, 0, len(expired))
	for _, m := range expired {
		if t.failLocked(m.ID, model.Transient("no push result after %s", timeout), "expired") {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Settle forgets confirmed mutations whose effect the remote snapshot now
// shows. Ids that are unknown or not confirmed are ignored. Returns how many
// were removed.
func (t *Tracker) Settle(ids ...string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, id := range ids {
		if m, ok := t.live[id]; ok && m.Status == StatusConfirmed {
			delete(t.live, id)
			n++
		}
	}
	if n > 0 {
		t.notify()
	}
	return n
}

// Discard removes a live mutation regardless of status, e.g. when the user
// dismisses an unsynced comment. A pending mutation discarded here counts
// as failed.
func (t *Tracker) Discard(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.live[id]
	if !ok {
		return false
	}
	if m.Status == StatusPending {
		mutationsPending.Dec()
		mutationsTerminal.WithLabelValues(string(m.Kind), "discarded").Inc()
	}
	delete(t.live, id)
	t.notify()
	return true
}

// Get returns a copy of a live mutation.
func (t *Tracker) Get(id string) (Mutation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.live[id]
	if !ok {
		return Mutation{}, false
	}
	return m.clone(), true
}

// Snapshot returns every live mutation (pending, confirmed but unsettled,
// and retained failures) in record order.
func (t *Tracker) Snapshot() []Mutation {
	return t.collect(func(*Mutation) bool { return true })
}

// Pending returns the mutations still awaiting a push result, in record order.
func (t *Tracker) Pending() []Mutation {
	return t.collect(func(m *Mutation) bool { return m.Status == StatusPending })
}

// Len returns the number of live mutations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

func (t *Tracker) collect(keep func(*Mutation) bool) []Mutation {
	t.mu.Lock()
	defer t.mu.Unlock()

	ms := make([]*Mutation, 0, len(t.live))
	for _, m := range t.live {
		if keep(m) {
			ms = append(ms, m)
		}
	}
	sortBySeq(ms)

	out := make([]Mutation, len(ms))
	for i, m := range ms {
		out[i] = m.clone()
	}
	return out
}

// Changed receives a value after any change to the live set. Notifications
// coalesce: several changes between reads produce one value.
func (t *Tracker) Changed() <-chan struct{} {
	return t.changed
}

func (t *Tracker) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

func sortBySeq(ms []*Mutation) {
	slices.SortFunc(ms, func(a, b *Mutation) int { return cmp.Compare(a.Seq, b.Seq) })
}
