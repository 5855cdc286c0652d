// Package docstore defines the document backend classsync syncs against and
// ships two implementations of it: Memory (tests, demos) and SQLite (durable,
// single process). Package natskv provides a NATS JetStream key-value one.
//
// # Data Model
//
// Documents live at slash-separated paths: a collection segment followed by
// a document id, optionally repeated for subcollections:
//
//	feedItems/s1
//	feedItems/s1/comments/c9
//	attendance/C1_2025-11-03
//
// Fields are JSON-like values (map[string]any, []any, string, int64,
// float64, bool, time.Time, nil).
//
// # Commit Sequence
//
// Every successful write is stamped with a strictly increasing commit
// sequence. Write methods return it, and snapshots report the sequence they
// are consistent with, so a client can tell whether a snapshot already
// includes one of its own writes.
//
// # Push Snapshots
//
// Watch delivers the full set of documents under a path prefix, first when
// the watch starts and again after every commit touching the prefix. Delivery
// is in commit order. A slow reader only ever skips to a newer snapshot; it
// never observes an older one after a newer one.
package docstore
