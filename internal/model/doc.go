// Package model defines the classsync domain types shared by every layer:
// class-wall feed items and comments, attendance statuses and date keys,
// the structured error taxonomy, and input validation.
//
// # Identity
//
// A FeedItem created on this client carries a local id ("local:" followed by
// the mutation's correlation id) until the backend confirms it. Server ids
// never carry that prefix, so the two forms can coexist in one keyed map
// without colliding.
//
// # Time
//
// Remote documents store timestamps in several shapes. ParseTimestamp is the
// single place they are normalized; nothing past the remote adapter sees a
// raw timestamp value.
package model
