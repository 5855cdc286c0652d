// Package reconcile merges the authoritative remote snapshot with the live
// optimistic mutations into the ordered feed the UI shows.
//
// The merge is a pure function of its inputs: the same snapshot and
// mutations always give the same result. Items are keyed by id, so an item
// can appear at most once, and a locally created post is replaced by its
// server counterpart as soon as the snapshot contains it.
package reconcile

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/remote"
	"github.com/cumba2321/classsync/internal/tracker"
)

// DefaultTolerance is the largest createdAt difference between a local item
// and a remote one for the two to be considered the same post. The local
// time is a client estimate and the remote one is assigned by the server.
const DefaultTolerance = 5 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithTolerance sets the correlation tolerance.
func WithTolerance(d time.Duration) Option {
	return func(e *Engine) { e.tolerance = d }
}

// Engine is stateless apart from its configuration and safe for concurrent use.
type Engine struct {
	tolerance time.Duration
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of one reconciliation.
type Result struct {
	// Items is the merged feed, newest first, ties by id ascending.
	Items []model.FeedItem

	// Settled lists confirmed mutations the snapshot now reflects. The
	// caller passes them to tracker.Settle; they no longer contribute to
	// the merge.
	Settled []string
}

// Merge returns only the merged items of Reconcile.
func (e *Engine) Merge(snap remote.Snapshot, muts []tracker.Mutation) []model.FeedItem {
	return e.Reconcile(snap, muts).Items
}

// Reconcile merges snap with muts.
//
// Mutations contribute as follows:
//   - pending and confirmed-but-unechoed mutations overlay the snapshot
//   - failed mutations contribute nothing, which rolls them back, except
//     transiently failed comments which stay visible as unsynced
//   - confirmed mutations the snapshot already reflects are settled
func (e *Engine) Reconcile(snap remote.Snapshot, muts []tracker.Mutation) Result {
	m := newMerge(snap, e.tolerance)

	ordered := slices.Clone(muts)
	slices.SortStableFunc(ordered, func(a, b tracker.Mutation) int { return cmp.Compare(a.Seq, b.Seq) })

	live := make([]tracker.Mutation, 0, len(ordered))
	for _, mut := range ordered {
		switch {
		case mut.Status == tracker.StatusFailed && !mut.Unsynced():
			continue
		case m.caughtUp(mut):
			m.settle(mut.ID)
			if mut.Kind == tracker.KindCreateItem {
				m.claimedItems[mut.Ack.ServerID] = true
			}
		default:
			live = append(live, mut)
		}
	}

	m.applyCreates(lo.Filter(live, func(mut tracker.Mutation, _ int) bool {
		return mut.Kind == tracker.KindCreateItem
	}))
	for _, mut := range live {
		switch mut.Kind {
		case tracker.KindToggleLike:
			m.applyLike(mut)
		case tracker.KindAddComment:
			m.applyComment(mut)
		case tracker.KindDeleteItem:
			m.applyDelete(mut)
		}
	}

	return Result{Items: m.items(), Settled: m.settled}
}

// merge is the working state of one Reconcile call.
type merge struct {
	tolerance time.Duration
	seq       int64

	// remote holds the snapshot items by id and is never modified.
	remote map[string]model.FeedItem
	// view is the merged result being built.
	view map[string]*model.FeedItem

	// claimedItems and claimedComments are remote entries already matched
	// to a local one; each can be matched once.
	claimedItems    map[string]bool
	claimedComments map[string]bool

	settled []string
}

func newMerge(snap remote.Snapshot, tolerance time.Duration) *merge {
	m := &merge{
		tolerance:       tolerance,
		seq:             snap.Seq,
		remote:          make(map[string]model.FeedItem, len(snap.Items)),
		view:            make(map[string]*model.FeedItem, len(snap.Items)),
		claimedItems:    make(map[string]bool),
		claimedComments: make(map[string]bool),
	}
	for _, item := range snap.Items {
		if _, dup := m.remote[item.ID]; dup {
			continue
		}
		m.remote[item.ID] = item
		cp := item.Clone()
		cp.LikedBy = model.NormalizeLikedBy(cp.LikedBy)
		m.view[item.ID] = &cp
	}
	return m
}

func (m *merge) settle(id string) {
	m.settled = append(m.settled, id)
}

// caughtUp reports whether a confirmed mutation is already reflected by the
// snapshot: either the snapshot is at or past the write's commit sequence,
// or the write's effect is visible in it.
func (m *merge) caughtUp(mut tracker.Mutation) bool {
	if mut.Status != tracker.StatusConfirmed {
		return false
	}
	if mut.Ack.Seq > 0 && m.seq >= mut.Ack.Seq {
		return true
	}

	switch mut.Kind {
	case tracker.KindCreateItem:
		_, present := m.remote[mut.Ack.ServerID]
		return present
	case tracker.KindDeleteItem:
		_, stillThere := m.remote[mut.ItemID]
		return !stillThere
	case tracker.KindToggleLike:
		item, ok := m.remote[mut.ItemID]
		return !ok || item.LikedByUser(mut.UserID) == mut.Like
	case tracker.KindAddComment:
		item, ok := m.remote[mut.ItemID]
		if !ok {
			return true
		}
		return slices.ContainsFunc(item.Comments, func(c model.Comment) bool { return c.ID == mut.Ack.ServerID })
	}
	return false
}

// applyCreates adds a placeholder for every create whose server counterpart
// is not in the snapshot yet. A create correlates with a remote item of the
// same author and content created within the tolerance.
//
// A confirmed create that reaches this point has a server id the snapshot
// does not contain yet; its placeholder already carries that id.
func (m *merge) applyCreates(creates []tracker.Mutation) {
	for _, mut := range creates {
		local := mut.Item
		if mut.Ack.ServerID != "" {
			local.ID = mut.Ack.ServerID
		} else if id, ok := m.correlate(local); ok {
			m.claimedItems[id] = true
			continue
		}

		if _, exists := m.view[local.ID]; exists {
			continue
		}
		cp := local.Clone()
		cp.State = model.StatePending
		cp.LikedBy = model.NormalizeLikedBy(cp.LikedBy)
		m.view[cp.ID] = &cp
	}
}

// correlate finds the unclaimed remote item that is the server copy of a
// local post: same author, same normalized body and attachments, createdAt
// within the tolerance. The smallest createdAt delta wins, then id.
func (m *merge) correlate(local model.FeedItem) (string, bool) {
	body := model.NormalizeBody(local.Body)
	candidates := lo.Filter(lo.Values(m.remote), func(item model.FeedItem, _ int) bool {
		return !m.claimedItems[item.ID] && item.AuthorID == local.AuthorID &&
			model.NormalizeBody(item.Body) == body &&
			sameAttachments(item.Attachments, local.Attachments) &&
			within(item.CreatedAt, local.CreatedAt, m.tolerance)
	})
	if len(candidates) == 0 {
		return "", false
	}
	best := lo.MinBy(candidates, func(a, b model.FeedItem) bool {
		da, db := delta(a.CreatedAt, local.CreatedAt), delta(b.CreatedAt, local.CreatedAt)
		if da != db {
			return da < db
		}
		return a.ID < b.ID
	})
	return best.ID, true
}

func sameAttachments(a, b model.Attachments) bool {
	return slices.Equal(a.Images, b.Images) && slices.Equal(a.Files, b.Files) && slices.Equal(a.Links, b.Links)
}

// applyLike moves the user's like to the mutation's target state. When the
// item already shows that state nothing changes, so a like that the server
// has applied is not counted twice.
func (m *merge) applyLike(mut tracker.Mutation) {
	item, ok := m.view[mut.ItemID]
	if !ok || item.LikedByUser(mut.UserID) == mut.Like {
		return
	}
	if mut.Like {
		item.LikedBy = model.NormalizeLikedBy(append(item.LikedBy, mut.UserID))
		item.LikeCount++
	} else {
		item.LikedBy = slices.DeleteFunc(item.LikedBy, func(u string) bool { return u == mut.UserID })
		item.LikeCount = max(item.LikeCount-1, 0)
	}
}

// applyComment shows a local comment under its item and counts it, unless
// the snapshot already holds the same comment. An unsynced comment is shown
// but not counted: the server never stored it.
func (m *merge) applyComment(mut tracker.Mutation) {
	item, ok := m.view[mut.ItemID]
	if !ok {
		return
	}
	if mut.Status == tracker.StatusPending {
		if id, ok := m.correlateComment(mut.Comment); ok {
			m.claimedComments[id] = true
			return
		}
	}

	c := mut.Comment
	c.ParentID = mut.ItemID
	switch {
	case mut.Unsynced():
		c.State = model.StateUnsynced
	case mut.Status == tracker.StatusConfirmed && mut.Ack.ServerID != "":
		c.ID = mut.Ack.ServerID
		c.State = model.StatePending
		item.CommentCount++
	default:
		c.State = model.StatePending
		item.CommentCount++
	}
	item.Comments = append(item.Comments, c)
}

// correlateComment matches a pending comment to a remote comment with the
// same author and text, in case the snapshot arrived before the push result.
func (m *merge) correlateComment(local model.Comment) (string, bool) {
	item, ok := m.remote[local.ParentID]
	if !ok {
		return "", false
	}
	candidates := lo.Filter(item.Comments, func(c model.Comment, _ int) bool {
		return !m.claimedComments[c.ID] && c.AuthorID == local.AuthorID && c.Body == local.Body &&
			within(c.CreatedAt, local.CreatedAt, m.tolerance)
	})
	if len(candidates) == 0 {
		return "", false
	}
	best := lo.MinBy(candidates, func(a, b model.Comment) bool {
		da, db := delta(a.CreatedAt, local.CreatedAt), delta(b.CreatedAt, local.CreatedAt)
		if da != db {
			return da < db
		}
		return a.ID < b.ID
	})
	return best.ID, true
}

func (m *merge) applyDelete(mut tracker.Mutation) {
	delete(m.view, mut.ItemID)
}

func (m *merge) items() []model.FeedItem {
	out := make([]model.FeedItem, 0, len(m.view))
	for _, item := range m.view {
		model.SortComments(item.Comments)
		out = append(out, *item)
	}
	model.SortItems(out)
	return out
}

func delta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

func within(a, b time.Time, tolerance time.Duration) bool {
	return delta(a, b) <= tolerance
}
