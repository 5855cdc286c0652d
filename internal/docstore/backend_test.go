package docstore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumba2321/classsync/internal/docstore"
	"github.com/cumba2321/classsync/internal/docstore/natskv"
	"github.com/cumba2321/classsync/internal/testutil/natstest"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("doc%03d", n)
	}
}

func testOptions() []docstore.Option {
	return []docstore.Option{
		docstore.WithClock(func() time.Time { return fixedNow }),
		docstore.WithIDGenerator(sequentialIDs()),
	}
}

// backends runs fn once against every Backend implementation.
func backends(t *testing.T, fn func(t *testing.T, b docstore.Backend)) {
	t.Run("memory", func(t *testing.T) {
		b := docstore.NewMemory(testOptions()...)
		t.Cleanup(func() { b.Close() })
		fn(t, b)
	})
	t.Run("sqlite", func(t *testing.T) {
		b, err := docstore.OpenSQLite(filepath.Join(t.TempDir(), "docs.db"), testOptions()...)
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		fn(t, b)
	})
	t.Run("natskv", func(t *testing.T) {
		url := natstest.RunJetStream(t)
		b, err := natskv.Open(context.Background(), url, "docs",
			natskv.WithClock(func() time.Time { return fixedNow }),
			natskv.WithIDGenerator(sequentialIDs()))
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		fn(t, b)
	})
}

func receive(t *testing.T, w docstore.Watcher) docstore.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-w.Updates():
		require.True(t, ok, "watcher closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return docstore.Snapshot{}
	}
}

func TestBackend_SetGet(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		seq, err := b.Set(ctx, "classes/c1/feed/p1", map[string]any{
			"body":      "hello",
			"likeCount": 0,
			"likedBy":   []string{},
			"createdAt": docstore.ServerTimestamp,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)

		doc, err := b.Get(ctx, "classes/c1/feed/p1")
		require.NoError(t, err)
		assert.Equal(t, "p1", doc.ID())
		assert.Equal(t, int64(1), doc.Seq)
		assert.Equal(t, "hello", doc.Fields["body"])
		assert.Equal(t, int64(0), doc.Fields["likeCount"])
		assert.Equal(t, []any{}, doc.Fields["likedBy"])
		assert.NotNil(t, doc.Fields["createdAt"])
	})
}

func TestBackend_GetMissing(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		_, err := b.Get(context.Background(), "classes/c1/feed/none")
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})
}

func TestBackend_InvalidPaths(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		_, err := b.Set(ctx, "classes/c1/feed", map[string]any{})
		assert.ErrorIs(t, err, docstore.ErrInvalidPath)

		_, _, err = b.Create(ctx, "classes/c1", map[string]any{})
		assert.ErrorIs(t, err, docstore.ErrInvalidPath)

		_, err = b.Get(ctx, "classes//feed/p1")
		assert.ErrorIs(t, err, docstore.ErrInvalidPath)
	})
}

func TestBackend_CreateAssignsIDs(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		id1, seq1, err := b.Create(ctx, "classes/c1/feed", map[string]any{"body": "a"})
		require.NoError(t, err)
		id2, seq2, err := b.Create(ctx, "classes/c1/feed", map[string]any{"body": "b"})
		require.NoError(t, err)

		assert.Equal(t, "doc001", id1)
		assert.Equal(t, "doc002", id2)
		assert.Less(t, seq1, seq2)
	})
}

func TestBackend_UpdateOps(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		path := "classes/c1/feed/p1"
		_, err := b.Set(ctx, path, map[string]any{"likeCount": 0, "likedBy": []string{}})
		require.NoError(t, err)

		_, err = b.Update(ctx, path, docstore.Increment("likeCount", 1), docstore.ArrayUnion("likedBy", "u1"))
		require.NoError(t, err)
		_, err = b.Update(ctx, path, docstore.Increment("likeCount", 1), docstore.ArrayUnion("likedBy", "u2"))
		require.NoError(t, err)
		_, err = b.Update(ctx, path, docstore.Increment("likeCount", -1), docstore.ArrayRemove("likedBy", "u1"))
		require.NoError(t, err)

		doc, err := b.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, int64(1), doc.Fields["likeCount"])
		assert.Equal(t, []any{"u2"}, doc.Fields["likedBy"])
	})
}

func TestBackend_UpdateMissing(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		_, err := b.Update(context.Background(), "classes/c1/feed/none", docstore.Increment("likeCount", 1))
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})
}

func TestBackend_UpsertNestedField(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		path := "attendance/c1_2026-03-02"
		_, err := b.Upsert(ctx, path, docstore.Set("attendance.s1", "present"), docstore.Set("sectionId", "c1"))
		require.NoError(t, err)
		_, err = b.Upsert(ctx, path, docstore.Set("attendance.s2", "late"))
		require.NoError(t, err)

		doc, err := b.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"s1": "present", "s2": "late"}, doc.Fields["attendance"])
		assert.Equal(t, "c1", doc.Fields["sectionId"])
	})
}

func TestBackend_Delete(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		path := "classes/c1/feed/p1"
		_, err := b.Set(ctx, path, map[string]any{"body": "x"})
		require.NoError(t, err)

		_, err = b.Delete(ctx, path)
		require.NoError(t, err)

		_, err = b.Get(ctx, path)
		assert.ErrorIs(t, err, docstore.ErrNotFound)

		_, err = b.Delete(ctx, path)
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})
}

func TestBackend_ListDirectChildrenOnly(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		for _, p := range []string{
			"classes/c1/feed/p2",
			"classes/c1/feed/p1",
			"classes/c1/feed/p1/comments/k1",
			"classes/c2/feed/p3",
		} {
			_, err := b.Set(ctx, p, map[string]any{"body": p})
			require.NoError(t, err)
		}

		docs, err := b.List(ctx, "classes/c1/feed")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "p1", docs[0].ID())
		assert.Equal(t, "p2", docs[1].ID())
	})
}

func TestBackend_WatchInitialAndUpdates(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		_, err := b.Set(ctx, "classes/c1/feed/p1", map[string]any{"body": "one"})
		require.NoError(t, err)

		w, err := b.Watch(ctx, "classes/c1/feed")
		require.NoError(t, err)
		defer w.Stop()

		initial := receive(t, w)
		assert.Equal(t, int64(1), initial.Seq)
		require.Len(t, initial.Docs, 1)

		_, err = b.Set(ctx, "classes/c1/feed/p1/comments/k1", map[string]any{"body": "reply"})
		require.NoError(t, err)

		next := receive(t, w)
		assert.Equal(t, int64(2), next.Seq)
		require.Len(t, next.Docs, 2)
		assert.Equal(t, "classes/c1/feed/p1", next.Docs[0].Path)
		assert.Equal(t, "classes/c1/feed/p1/comments/k1", next.Docs[1].Path)
	})
}

func TestBackend_WatchIgnoresOtherPrefixes(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		w, err := b.Watch(ctx, "classes/c1/feed")
		require.NoError(t, err)
		defer w.Stop()
		receive(t, w)

		// Sibling whose name shares the prefix string.
		_, err = b.Set(ctx, "classes/c1/feedback/x", map[string]any{})
		require.NoError(t, err)
		_, err = b.Set(ctx, "classes/c1/feed/p1", map[string]any{})
		require.NoError(t, err)

		snap := receive(t, w)
		require.Len(t, snap.Docs, 1)
		assert.Equal(t, "classes/c1/feed/p1", snap.Docs[0].Path)
	})
}

func TestBackend_WatchLatestWins(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		w, err := b.Watch(ctx, "classes/c1/feed")
		require.NoError(t, err)
		defer w.Stop()

		for i := 0; i < 5; i++ {
			_, err := b.Set(ctx, fmt.Sprintf("classes/c1/feed/p%d", i), map[string]any{})
			require.NoError(t, err)
		}

		// Delivery may be asynchronous; snapshots only move forward and the
		// last one holds every write.
		var snap docstore.Snapshot
		for snap.Seq < 5 {
			next := receive(t, w)
			assert.GreaterOrEqual(t, next.Seq, snap.Seq)
			snap = next
		}
		assert.Equal(t, int64(5), snap.Seq)
		assert.Len(t, snap.Docs, 5)
	})
}

func TestBackend_WatchStopClosesChannel(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		w, err := b.Watch(ctx, "classes/c1/feed")
		require.NoError(t, err)
		receive(t, w)

		w.Stop()
		w.Stop()

		_, ok := <-w.Updates()
		assert.False(t, ok)

		_, err = b.Set(ctx, "classes/c1/feed/p1", map[string]any{})
		assert.NoError(t, err)
	})
}

func TestBackend_WatchEndsWithContext(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx, cancel := context.WithCancel(context.Background())
		w, err := b.Watch(ctx, "classes/c1/feed")
		require.NoError(t, err)
		receive(t, w)

		cancel()
		select {
		case _, ok := <-w.Updates():
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("watch did not end with its context")
		}
	})
}

func TestBackend_Closed(t *testing.T) {
	backends(t, func(t *testing.T, b docstore.Backend) {
		ctx := context.Background()
		w, err := b.Watch(ctx, "classes/c1/feed")
		require.NoError(t, err)
		receive(t, w)

		require.NoError(t, b.Close())

		_, ok := <-w.Updates()
		assert.False(t, ok)

		_, err = b.Set(ctx, "classes/c1/feed/p1", map[string]any{})
		assert.ErrorIs(t, err, docstore.ErrClosed)
	})
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	ctx := context.Background()

	s1, err := docstore.OpenSQLite(path)
	require.NoError(t, err)
	_, err = s1.Set(ctx, "classes/c1/feed/p1", map[string]any{"body": "kept", "likeCount": 3})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := docstore.OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	doc, err := s2.Get(ctx, "classes/c1/feed/p1")
	require.NoError(t, err)
	assert.Equal(t, "kept", doc.Fields["body"])
	assert.Equal(t, int64(3), doc.Fields["likeCount"])

	seq, err := s2.Set(ctx, "classes/c1/feed/p2", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq, "commit sequence survives reopen")
}

func TestSQLite_PrefixWithUnderscore(t *testing.T) {
	ctx := context.Background()
	s, err := docstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Set(ctx, "attendanceRequests/c1_2026-03-02_s1", map[string]any{})
	require.NoError(t, err)
	_, err = s.Set(ctx, "attendanceRequestsX/c1x2026-03-02xs1", map[string]any{})
	require.NoError(t, err)

	w, err := s.Watch(ctx, "attendanceRequests")
	require.NoError(t, err)
	defer w.Stop()

	snap := receive(t, w)
	require.Len(t, snap.Docs, 1)
	assert.Equal(t, "c1_2026-03-02_s1", snap.Docs[0].ID())
}
