package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/remote"
	clock "github.com/cumba2321/classsync/internal/testutil"
)

func newTracker(ids ...string) (*Tracker, *clock.ManualClock) {
	c := clock.NewManualClock(time.Time{})
	return New(WithIDGenerator(NewFixedGenerator(ids...)), WithClock(c.Now)), c
}

func TestRecord_AssignsLocalIdentity(t *testing.T) {
	tr, c := newTracker("m1", "m2")

	id := tr.Record(CreateItem(model.FeedItem{AuthorID: "u1", Body: "hello", Role: model.RoleStudent}))
	assert.Equal(t, "m1", id)

	m, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, "local:m1", m.Item.ID)
	assert.Equal(t, model.StatePending, m.Item.State)
	assert.Equal(t, c.Now(), m.Item.CreatedAt)
	assert.Equal(t, []string{}, m.Item.LikedBy)
	assert.Equal(t, int64(1), m.Seq)

	cid := tr.Record(AddComment("s1", model.Comment{AuthorID: "u2", Body: "hi"}))
	cm, _ := tr.Get(cid)
	assert.Equal(t, "local:m2", cm.Comment.ID)
	assert.Equal(t, "s1", cm.Comment.ParentID)
	assert.Equal(t, int64(2), cm.Seq)
}

func TestRecord_CopiesInput(t *testing.T) {
	tr, _ := newTracker("m1")
	item := model.FeedItem{AuthorID: "u1", Body: "x", Attachments: model.Attachments{Images: []string{"a"}}}
	id := tr.Record(CreateItem(item))
	item.Attachments.Images[0] = "changed"

	m, _ := tr.Get(id)
	assert.Equal(t, "a", m.Item.Attachments.Images[0])
}

func TestConfirm_ExactlyOnce(t *testing.T) {
	tr, _ := newTracker("m1")
	id := tr.Record(ToggleLike("s1", "u1", true))

	assert.True(t, tr.Confirm(id, remote.Ack{ServerID: "s1", Seq: 7}))
	assert.False(t, tr.Confirm(id, remote.Ack{ServerID: "s1", Seq: 8}), "second confirm is a no-op")
	assert.False(t, tr.Fail(id, model.PermissionDenied("late")), "fail after confirm is a no-op")

	m, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusConfirmed, m.Status)
	assert.Equal(t, int64(7), m.Ack.Seq)
	assert.Nil(t, m.Reason)
}

func TestFail_ExactlyOnceAndRollsBack(t *testing.T) {
	tr, _ := newTracker("m1")
	id := tr.Record(ToggleLike("s1", "u1", true))

	assert.True(t, tr.Fail(id, model.PermissionDenied("denied")))
	assert.False(t, tr.Fail(id, model.PermissionDenied("denied")))
	assert.False(t, tr.Confirm(id, remote.Ack{}), "confirm after fail is a no-op")

	_, ok := tr.Get(id)
	assert.False(t, ok, "rolled back mutation is gone")
	assert.Empty(t, tr.Snapshot())
}

func TestFail_UnknownID(t *testing.T) {
	tr, _ := newTracker()
	assert.False(t, tr.Fail("nope", nil))
	assert.False(t, tr.Confirm("nope", remote.Ack{}))
}

func TestFail_TransientCommentIsRetained(t *testing.T) {
	tr, _ := newTracker("m1", "m2")
	transient := tr.Record(AddComment("s1", model.Comment{AuthorID: "u1", Body: "a"}))
	denied := tr.Record(AddComment("s1", model.Comment{AuthorID: "u1", Body: "b"}))

	require.True(t, tr.Fail(transient, model.Transient("offline")))
	require.True(t, tr.Fail(denied, model.PermissionDenied("no")))

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, transient, snap[0].ID)
	assert.True(t, snap[0].Unsynced())
	assert.Equal(t, model.KindTransient, snap[0].Reason.Kind)

	assert.True(t, tr.Discard(transient))
	assert.Empty(t, tr.Snapshot())
}

func TestFail_NilReasonIsTransient(t *testing.T) {
	tr, _ := newTracker("m1")
	id := tr.Record(AddComment("s1", model.Comment{AuthorID: "u1", Body: "a"}))
	require.True(t, tr.Fail(id, nil))

	m, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.KindTransient, m.Reason.Kind)
}

func TestSnapshot_RecordOrder(t *testing.T) {
	tr, _ := newTracker("z", "a", "m")
	tr.Record(DeleteItem("s1"))
	tr.Record(DeleteItem("s2"))
	tr.Record(DeleteItem("s3"))

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"z", "a", "m"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
}

func TestPendingAndSettle(t *testing.T) {
	tr, _ := newTracker("m1", "m2")
	a := tr.Record(DeleteItem("s1"))
	b := tr.Record(DeleteItem("s2"))
	tr.Confirm(a, remote.Ack{ServerID: "s1"})

	pending := tr.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, b, pending[0].ID)

	assert.Equal(t, 0, tr.Settle(b), "pending mutations do not settle")
	assert.Equal(t, 1, tr.Settle(a, "unknown"))
	assert.Equal(t, 1, tr.Len())
}

func TestExpire(t *testing.T) {
	tr, c := newTracker("old", "new")
	old := tr.Record(ToggleLike("s1", "u1", true))
	c.Advance(10 * time.Second)
	fresh := tr.Record(ToggleLike("s2", "u1", true))
	c.Advance(6 * time.Second)

	expired := tr.Expire(DefaultPushTimeout)
	assert.Equal(t, []string{old}, expired)

	_, ok := tr.Get(old)
	assert.False(t, ok)
	_, ok = tr.Get(fresh)
	assert.True(t, ok)

	assert.False(t, tr.Confirm(old, remote.Ack{}), "late confirm after expiry is a no-op")
}

func TestExpire_SkipsTerminal(t *testing.T) {
	tr, c := newTracker("m1")
	id := tr.Record(ToggleLike("s1", "u1", true))
	tr.Confirm(id, remote.Ack{ServerID: "s1", Seq: 2})
	c.Advance(time.Minute)

	assert.Empty(t, tr.Expire(DefaultPushTimeout))
	m, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusConfirmed, m.Status)
}

func TestChanged_Coalesces(t *testing.T) {
	tr, _ := newTracker("m1", "m2")
	tr.Record(DeleteItem("s1"))
	tr.Record(DeleteItem("s2"))

	select {
	case <-tr.Changed():
	default:
		t.Fatal("expected a change notification")
	}
	select {
	case <-tr.Changed():
		t.Fatal("notifications should coalesce")
	default:
	}
}

func TestConcurrentTerminalTransitions(t *testing.T) {
	tr, _ := newTracker("m1")
	id := tr.Record(ToggleLike("s1", "u1", true))

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if tr.Confirm(id, remote.Ack{ServerID: "s1"}) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			if tr.Fail(id, model.Transient("x")) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won, "exactly one terminal transition wins")
}

func TestMetrics_CountTransitions(t *testing.T) {
	tr, _ := newTracker("m1", "m2")
	recorded := testutil.ToFloat64(mutationsRecorded.WithLabelValues(string(KindDeleteItem)))
	confirmed := testutil.ToFloat64(mutationsTerminal.WithLabelValues(string(KindDeleteItem), "confirmed"))
	denied := testutil.ToFloat64(mutationsTerminal.WithLabelValues(string(KindDeleteItem), string(model.KindPermissionDenied)))

	a := tr.Record(DeleteItem("s1"))
	b := tr.Record(DeleteItem("s2"))
	tr.Confirm(a, remote.Ack{})
	tr.Fail(b, model.PermissionDenied("no"))

	assert.Equal(t, recorded+2, testutil.ToFloat64(mutationsRecorded.WithLabelValues(string(KindDeleteItem))))
	assert.Equal(t, confirmed+1, testutil.ToFloat64(mutationsTerminal.WithLabelValues(string(KindDeleteItem), "confirmed")))
	assert.Equal(t, denied+1, testutil.ToFloat64(mutationsTerminal.WithLabelValues(string(KindDeleteItem), string(model.KindPermissionDenied))))
}

func TestGenerators(t *testing.T) {
	g := NewFixedGenerator("a")
	assert.Equal(t, "a", g.Generate())
	assert.Panics(t, func() { g.Generate() })

	s := NewSequenceGenerator("m")
	assert.Equal(t, "m-1", s.Generate())
	assert.Equal(t, "m-2", s.Generate())

	u := UUIDv7Generator{}
	assert.Len(t, u.Generate(), 36)
	assert.NotEqual(t, u.Generate(), u.Generate())
}
