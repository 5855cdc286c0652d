package reconcile

import (
	"slices"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/remote"
	"github.com/cumba2321/classsync/internal/testutil"
	"github.com/cumba2321/classsync/internal/tracker"
)

type fixture struct {
	clock   *testutil.ManualClock
	tracker *tracker.Tracker
	engine  *Engine
}

func newFixture() *fixture {
	c := testutil.NewManualClock(time.Time{})
	return &fixture{
		clock:   c,
		tracker: tracker.New(tracker.WithIDGenerator(tracker.NewSequenceGenerator("m")), tracker.WithClock(c.Now)),
		engine:  New(),
	}
}

func (f *fixture) merge(snap remote.Snapshot) []model.FeedItem {
	return f.engine.Merge(snap, f.tracker.Snapshot())
}

func at(offset time.Duration) time.Time {
	return testutil.Epoch.Add(offset)
}

func remoteItem(id, author string, createdAt time.Time, body string) model.FeedItem {
	return model.FeedItem{
		ID:                id,
		AuthorID:          author,
		AuthorDisplayName: author,
		Role:              model.RoleStudent,
		Body:              body,
		CreatedAt:         createdAt,
		LikedBy:           []string{},
		State:             model.StateSynced,
	}
}

func post(author, body string) tracker.Mutation {
	return tracker.CreateItem(model.FeedItem{AuthorID: author, AuthorDisplayName: author, Role: model.RoleStudent, Body: body})
}

func comment(author, body string) model.Comment {
	return model.Comment{AuthorID: author, AuthorDisplayName: author, Role: model.RoleStudent, Body: body}
}

func ids(items []model.FeedItem) []string {
	return lo.Map(items, func(item model.FeedItem, _ int) string { return item.ID })
}

func TestMerge_Empty(t *testing.T) {
	items := New().Merge(remote.Snapshot{}, nil)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestMerge_RemoteOnly(t *testing.T) {
	snap := remote.Snapshot{Seq: 2, Items: []model.FeedItem{
		remoteItem("s1", "u1", at(0), "first"),
		remoteItem("s2", "u2", at(time.Minute), "second"),
	}}
	items := New().Merge(snap, nil)
	assert.Equal(t, []string{"s2", "s1"}, ids(items))
}

func TestMerge_DuplicateRemoteIDsCollapse(t *testing.T) {
	snap := remote.Snapshot{Items: []model.FeedItem{
		remoteItem("s1", "u1", at(0), "a"),
		remoteItem("s1", "u1", at(0), "a"),
	}}
	assert.Len(t, New().Merge(snap, nil), 1)
}

func TestMerge_PendingCreatePlaceholder(t *testing.T) {
	f := newFixture()
	f.tracker.Record(post("u1", "hello"))

	items := f.merge(remote.Snapshot{})
	require.Len(t, items, 1)
	assert.Equal(t, "local:m-1", items[0].ID)
	assert.Equal(t, model.StatePending, items[0].State)
	assert.Equal(t, "hello", items[0].Body)
	assert.Equal(t, testutil.Epoch, items[0].CreatedAt)
}

// A local post followed by its server echo shows exactly one item.
func TestMerge_CreateCorrelatesWithEcho(t *testing.T) {
	f := newFixture()
	f.tracker.Record(post("u1", "hello"))
	snap := remote.Snapshot{Seq: 1, Items: []model.FeedItem{remoteItem("s1", "u1", at(2*time.Second), "hello")}}

	items := f.merge(snap)
	require.Len(t, items, 1)
	assert.Equal(t, "s1", items[0].ID)
	assert.Equal(t, model.StateSynced, items[0].State)
}

func TestReconcile_ConfirmedCreateSettles(t *testing.T) {
	f := newFixture()
	id := f.tracker.Record(post("u1", "hello"))
	require.True(t, f.tracker.Confirm(id, remote.Ack{ServerID: "s1", Seq: 3}))

	snap := remote.Snapshot{Seq: 3, Items: []model.FeedItem{remoteItem("s1", "u1", at(time.Second), "hello")}}
	res := f.engine.Reconcile(snap, f.tracker.Snapshot())
	assert.Equal(t, []string{"s1"}, ids(res.Items))
	assert.Equal(t, []string{id}, res.Settled)
}

func TestReconcile_ConfirmedCreateBeforeEcho(t *testing.T) {
	f := newFixture()
	id := f.tracker.Record(post("u1", "hello"))
	f.tracker.Confirm(id, remote.Ack{ServerID: "s1", Seq: 5})

	res := f.engine.Reconcile(remote.Snapshot{Seq: 4}, f.tracker.Snapshot())
	require.Len(t, res.Items, 1)
	assert.Equal(t, "s1", res.Items[0].ID, "placeholder takes the server id")
	assert.Equal(t, model.StatePending, res.Items[0].State)
	assert.Empty(t, res.Settled)
}

// The snapshot has passed the write but no longer holds the item: it was
// removed elsewhere, so nothing is shown and the create settles.
func TestReconcile_ConfirmedCreateDeletedRemotely(t *testing.T) {
	f := newFixture()
	id := f.tracker.Record(post("u1", "hello"))
	f.tracker.Confirm(id, remote.Ack{ServerID: "s1", Seq: 5})

	res := f.engine.Reconcile(remote.Snapshot{Seq: 9}, f.tracker.Snapshot())
	assert.Empty(t, res.Items)
	assert.Equal(t, []string{id}, res.Settled)
}

func TestMerge_CorrelationTolerance(t *testing.T) {
	f := newFixture()
	f.tracker.Record(post("u1", "hello"))

	outside := remote.Snapshot{Items: []model.FeedItem{remoteItem("s1", "u1", at(6*time.Second), "hello")}}
	assert.ElementsMatch(t, []string{"s1", "local:m-1"}, ids(f.merge(outside)))

	inside := remote.Snapshot{Items: []model.FeedItem{remoteItem("s1", "u1", at(-5*time.Second), "hello")}}
	assert.Equal(t, []string{"s1"}, ids(f.merge(inside)))

	narrow := New(WithTolerance(time.Second))
	assert.Len(t, narrow.Merge(inside, f.tracker.Snapshot()), 2)
}

func TestMerge_CorrelationRequiresSameAuthor(t *testing.T) {
	f := newFixture()
	f.tracker.Record(post("u1", "hello"))
	snap := remote.Snapshot{Items: []model.FeedItem{remoteItem("s1", "u2", at(0), "hello")}}

	assert.ElementsMatch(t, []string{"s1", "local:m-1"}, ids(f.merge(snap)))
}

func TestCorrelate_Preference(t *testing.T) {
	local := remoteItem("local:m-1", "u1", at(0), "hello")

	tests := []struct {
		name  string
		items []model.FeedItem
		want  string
		ok    bool
	}{
		{
			name: "equal body wins over closer time",
			items: []model.FeedItem{
				remoteItem("s1", "u1", at(time.Second), "other"),
				remoteItem("s2", "u1", at(3*time.Second), "hello"),
			},
			want: "s2",
			ok:   true,
		},
		{
			name: "different body never correlates",
			items: []model.FeedItem{
				remoteItem("s1", "u1", at(time.Second), "other"),
			},
		},
		{
			name: "smallest delta among equal bodies",
			items: []model.FeedItem{
				remoteItem("s1", "u1", at(4*time.Second), "hello"),
				remoteItem("s2", "u1", at(-2*time.Second), "hello"),
			},
			want: "s2",
			ok:   true,
		},
		{
			name: "id breaks remaining ties",
			items: []model.FeedItem{
				remoteItem("s9", "u1", at(time.Second), "hello"),
				remoteItem("s3", "u1", at(-time.Second), "hello"),
			},
			want: "s3",
			ok:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMerge(remote.Snapshot{Items: tt.items}, DefaultTolerance)
			got, ok := m.correlate(local)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// An earlier post by the same author, already settled, must not swallow a
// new pending post made a moment later.
func TestMerge_SettledPostDoesNotClaimNewPost(t *testing.T) {
	f := newFixture()
	f.clock.Advance(2 * time.Second)
	f.tracker.Record(post("u1", "a different post"))

	snap := remote.Snapshot{Seq: 1, Items: []model.FeedItem{remoteItem("s1", "u1", at(0), "hello")}}
	items := f.merge(snap)
	assert.Equal(t, []string{"local:m-1", "s1"}, ids(items))
	assert.Equal(t, model.StatePending, items[0].State)
}

func TestMerge_CorrelationRequiresSameAttachments(t *testing.T) {
	f := newFixture()
	f.tracker.Record(tracker.CreateItem(model.FeedItem{
		AuthorID: "u1", Role: model.RoleStudent,
		Attachments: model.Attachments{Images: []string{"img/2"}},
	}))

	other := remoteItem("s1", "u1", at(0), "")
	other.Attachments = model.Attachments{Images: []string{"img/1"}}
	assert.ElementsMatch(t, []string{"s1", "local:m-1"}, ids(f.merge(remote.Snapshot{Items: []model.FeedItem{other}})))

	echo := remoteItem("s2", "u1", at(time.Second), "")
	echo.Attachments = model.Attachments{Images: []string{"img/2"}}
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids(f.merge(remote.Snapshot{Items: []model.FeedItem{other, echo}})))
}

func TestMerge_RemoteItemClaimedOnce(t *testing.T) {
	f := newFixture()
	f.tracker.Record(post("u1", "hello"))
	f.clock.Advance(time.Second)
	f.tracker.Record(post("u1", "hello"))

	snap := remote.Snapshot{Items: []model.FeedItem{remoteItem("s1", "u1", at(0), "hello")}}
	assert.Equal(t, []string{"local:m-2", "s1"}, ids(f.merge(snap)))
}

func TestReconcile_SettledCreateIsNotCorrelatedAgain(t *testing.T) {
	f := newFixture()
	first := f.tracker.Record(post("u1", "hello"))
	f.tracker.Record(post("u1", "hello"))
	f.tracker.Confirm(first, remote.Ack{ServerID: "s1", Seq: 2})

	snap := remote.Snapshot{Seq: 2, Items: []model.FeedItem{remoteItem("s1", "u1", at(0), "hello")}}
	res := f.engine.Reconcile(snap, f.tracker.Snapshot())
	assert.Equal(t, []string{"local:m-2", "s1"}, ids(res.Items))
	assert.Equal(t, []string{first}, res.Settled)
}

func TestMerge_LikeOverlayAndRollback(t *testing.T) {
	f := newFixture()
	snap := remote.Snapshot{Seq: 1, Items: []model.FeedItem{remoteItem("s1", "u2", at(0), "x")}}

	id := f.tracker.Record(tracker.ToggleLike("s1", "u1", true))
	items := f.merge(snap)
	assert.Equal(t, 1, items[0].LikeCount)
	assert.Equal(t, []string{"u1"}, items[0].LikedBy)

	require.True(t, f.tracker.Fail(id, model.PermissionDenied("likes are closed")))
	items = f.merge(snap)
	assert.Equal(t, 0, items[0].LikeCount)
	assert.Empty(t, items[0].LikedBy)
}

func TestMerge_LikeIsIdempotentOverServerState(t *testing.T) {
	f := newFixture()
	item := remoteItem("s1", "u2", at(0), "x")
	item.LikeCount = 1
	item.LikedBy = []string{"u1"}

	f.tracker.Record(tracker.ToggleLike("s1", "u1", true))
	items := f.merge(remote.Snapshot{Items: []model.FeedItem{item}})
	assert.Equal(t, 1, items[0].LikeCount)
	assert.Equal(t, []string{"u1"}, items[0].LikedBy)
}

func TestMerge_LikeThenUnlikeRestoresItem(t *testing.T) {
	f := newFixture()
	item := remoteItem("s1", "u2", at(0), "x")
	item.LikeCount = 2
	item.LikedBy = []string{"u3", "u4"}
	snap := remote.Snapshot{Items: []model.FeedItem{item}}

	f.tracker.Record(tracker.ToggleLike("s1", "u1", true))
	f.tracker.Record(tracker.ToggleLike("s1", "u1", false))

	got := f.merge(snap)
	assert.Equal(t, New().Merge(snap, nil), got)
}

func TestMerge_UnlikeClampsAtZero(t *testing.T) {
	f := newFixture()
	item := remoteItem("s1", "u2", at(0), "x")
	item.LikedBy = []string{"u1"}

	f.tracker.Record(tracker.ToggleLike("s1", "u1", false))
	items := f.merge(remote.Snapshot{Items: []model.FeedItem{item}})
	assert.Equal(t, 0, items[0].LikeCount)
	assert.Empty(t, items[0].LikedBy)
}

func TestMerge_LikeOnMissingItemIgnored(t *testing.T) {
	f := newFixture()
	f.tracker.Record(tracker.ToggleLike("gone", "u1", true))
	assert.Empty(t, f.merge(remote.Snapshot{}))
}

func TestReconcile_ConfirmedLike(t *testing.T) {
	f := newFixture()
	id := f.tracker.Record(tracker.ToggleLike("s1", "u1", true))
	f.tracker.Confirm(id, remote.Ack{ServerID: "s1", Seq: 5})

	behind := remote.Snapshot{Seq: 4, Items: []model.FeedItem{remoteItem("s1", "u2", at(0), "x")}}
	res := f.engine.Reconcile(behind, f.tracker.Snapshot())
	assert.Empty(t, res.Settled)
	assert.Equal(t, 1, res.Items[0].LikeCount, "overlay stays until the echo")

	echoed := remoteItem("s1", "u2", at(0), "x")
	echoed.LikeCount = 1
	echoed.LikedBy = []string{"u1"}
	res = f.engine.Reconcile(remote.Snapshot{Seq: 5, Items: []model.FeedItem{echoed}}, f.tracker.Snapshot())
	assert.Equal(t, []string{id}, res.Settled)
	assert.Equal(t, 1, res.Items[0].LikeCount)
}

// Two quick comments both show, newest on top, and count twice.
func TestMerge_PendingComments(t *testing.T) {
	f := newFixture()
	snap := remote.Snapshot{Items: []model.FeedItem{remoteItem("s1", "u2", at(-time.Hour), "y")}}

	f.tracker.Record(tracker.AddComment("s1", comment("u1", "first")))
	f.clock.Advance(time.Second)
	f.tracker.Record(tracker.AddComment("s1", comment("u1", "second")))

	items := f.merge(snap)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].CommentCount)
	require.Len(t, items[0].Comments, 2)
	assert.Equal(t, "second", items[0].Comments[0].Body)
	assert.Equal(t, "first", items[0].Comments[1].Body)
	assert.Equal(t, model.StatePending, items[0].Comments[0].State)
}

func TestMerge_CommentCorrelatesWithEcho(t *testing.T) {
	f := newFixture()
	f.tracker.Record(tracker.AddComment("s1", comment("u1", "nice")))

	item := remoteItem("s1", "u2", at(-time.Hour), "y")
	item.CommentCount = 1
	item.Comments = []model.Comment{{
		ID: "k1", ParentID: "s1", AuthorID: "u1", Role: model.RoleStudent,
		Body: "nice", CreatedAt: at(time.Second), State: model.StateSynced,
	}}

	items := f.merge(remote.Snapshot{Items: []model.FeedItem{item}})
	assert.Equal(t, 1, items[0].CommentCount)
	require.Len(t, items[0].Comments, 1)
	assert.Equal(t, "k1", items[0].Comments[0].ID)
}

func TestMerge_ConfirmedCommentBeforeEcho(t *testing.T) {
	f := newFixture()
	id := f.tracker.Record(tracker.AddComment("s1", comment("u1", "nice")))
	f.tracker.Confirm(id, remote.Ack{ServerID: "k9", Seq: 10})

	snap := remote.Snapshot{Seq: 3, Items: []model.FeedItem{remoteItem("s1", "u2", at(-time.Hour), "y")}}
	res := f.engine.Reconcile(snap, f.tracker.Snapshot())
	assert.Empty(t, res.Settled)
	require.Len(t, res.Items[0].Comments, 1)
	assert.Equal(t, "k9", res.Items[0].Comments[0].ID)
	assert.Equal(t, 1, res.Items[0].CommentCount)
}

func TestMerge_UnsyncedCommentShownNotCounted(t *testing.T) {
	f := newFixture()
	snap := remote.Snapshot{Items: []model.FeedItem{remoteItem("s1", "u2", at(-time.Hour), "y")}}
	id := f.tracker.Record(tracker.AddComment("s1", comment("u1", "offline")))
	require.True(t, f.tracker.Fail(id, model.Transient("network down")))

	items := f.merge(snap)
	assert.Equal(t, 0, items[0].CommentCount)
	require.Len(t, items[0].Comments, 1)
	assert.Equal(t, model.StateUnsynced, items[0].Comments[0].State)

	f.tracker.Discard(id)
	assert.Empty(t, f.merge(snap)[0].Comments)
}

func TestMerge_DeniedCommentRollsBack(t *testing.T) {
	f := newFixture()
	snap := remote.Snapshot{Items: []model.FeedItem{remoteItem("s1", "u2", at(-time.Hour), "y")}}
	id := f.tracker.Record(tracker.AddComment("s1", comment("u1", "no")))
	f.tracker.Fail(id, model.PermissionDenied("muted"))

	items := f.merge(snap)
	assert.Empty(t, items[0].Comments)
	assert.Equal(t, 0, items[0].CommentCount)
}

func TestReconcile_Delete(t *testing.T) {
	f := newFixture()
	snap := remote.Snapshot{Seq: 1, Items: []model.FeedItem{
		remoteItem("s1", "u1", at(0), "a"),
		remoteItem("s2", "u1", at(time.Second), "b"),
	}}
	id := f.tracker.Record(tracker.DeleteItem("s1"))
	assert.Equal(t, []string{"s2"}, ids(f.merge(snap)))

	// Deletes report no commit sequence; absence settles them.
	f.tracker.Confirm(id, remote.Ack{ServerID: "s1"})
	res := f.engine.Reconcile(snap, f.tracker.Snapshot())
	assert.Empty(t, res.Settled)
	assert.Equal(t, []string{"s2"}, ids(res.Items))

	gone := remote.Snapshot{Seq: 2, Items: snap.Items[1:]}
	res = f.engine.Reconcile(gone, f.tracker.Snapshot())
	assert.Equal(t, []string{id}, res.Settled)
	assert.Equal(t, []string{"s2"}, ids(res.Items))
}

func TestReconcile_FailedMutationsContributeNothing(t *testing.T) {
	snap := remote.Snapshot{Items: []model.FeedItem{remoteItem("s1", "u2", at(0), "x")}}
	failed := []tracker.Mutation{
		{ID: "a", Kind: tracker.KindCreateItem, Status: tracker.StatusFailed, Seq: 1,
			Item: remoteItem("local:a", "u1", at(0), "x"), Reason: model.Transient("timeout")},
		{ID: "b", Kind: tracker.KindToggleLike, Status: tracker.StatusFailed, Seq: 2,
			ItemID: "s1", UserID: "u1", Like: true, Reason: model.Transient("timeout")},
		{ID: "c", Kind: tracker.KindDeleteItem, Status: tracker.StatusFailed, Seq: 3,
			ItemID: "s1", Reason: model.NotFound("gone")},
	}
	assert.Equal(t, New().Merge(snap, nil), New().Merge(snap, failed))
}

func TestReconcile_Deterministic(t *testing.T) {
	f := newFixture()
	snap := remote.Snapshot{Seq: 4, Items: []model.FeedItem{
		remoteItem("s1", "u2", at(-time.Minute), "a"),
		remoteItem("s2", "u3", at(-time.Minute), "b"),
	}}
	f.tracker.Record(post("u1", "new"))
	f.tracker.Record(tracker.ToggleLike("s1", "u1", true))
	f.tracker.Record(tracker.AddComment("s2", comment("u1", "c")))
	f.tracker.Record(tracker.ToggleLike("s1", "u1", false))
	f.tracker.Record(tracker.DeleteItem("s2"))

	muts := f.tracker.Snapshot()
	want := f.engine.Reconcile(snap, muts)

	reversed := slices.Clone(muts)
	slices.Reverse(reversed)
	assert.Equal(t, want, f.engine.Reconcile(snap, reversed))
	assert.Equal(t, want, f.engine.Reconcile(snap, muts))
	assert.Equal(t, []string{"local:m-1", "s1"}, ids(want.Items))
	assert.Equal(t, 0, want.Items[1].LikeCount)
}

func TestMerge_OutputSorted(t *testing.T) {
	f := newFixture()
	snap := remote.Snapshot{Items: []model.FeedItem{
		remoteItem("s3", "u2", at(time.Minute), "a"),
		remoteItem("s1", "u2", at(time.Minute), "b"),
		remoteItem("s2", "u2", at(-time.Minute), "c"),
	}}
	f.clock.Advance(time.Minute)
	f.tracker.Record(post("u1", "tie"))

	items := f.merge(snap)
	assert.Equal(t, []string{"local:m-1", "s1", "s3", "s2"}, ids(items))
	assert.True(t, slices.IsSortedFunc(items, func(a, b model.FeedItem) int {
		if model.Before(a.CreatedAt, a.ID, b.CreatedAt, b.ID) {
			return -1
		}
		if model.Before(b.CreatedAt, b.ID, a.CreatedAt, a.ID) {
			return 1
		}
		return 0
	}))
}

func TestMerge_DoesNotModifyInputs(t *testing.T) {
	f := newFixture()
	item := remoteItem("s1", "u2", at(0), "x")
	item.LikedBy = []string{"u3"}
	item.LikeCount = 1
	snap := remote.Snapshot{Items: []model.FeedItem{item}}

	f.tracker.Record(tracker.ToggleLike("s1", "u1", true))
	f.tracker.Record(tracker.AddComment("s1", comment("u1", "c")))
	f.merge(snap)

	assert.Equal(t, []string{"u3"}, snap.Items[0].LikedBy)
	assert.Equal(t, 1, snap.Items[0].LikeCount)
	assert.Empty(t, snap.Items[0].Comments)
}
