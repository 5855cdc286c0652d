// Package harness runs reconciliation scenarios: scripted timelines of
// local mutations, push results and remote snapshots, checked against the
// merged feed they produce.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: post_appears_once
//	description: "What this scenario validates"
//	steps:
//	  - at: 0s
//	    record: {kind: create_item, user: u1, body: "hello"}
//	  - snapshot:
//	      seq: 1
//	      items:
//	        - {id: s1, user: u1, body: "hello", at: 1s}
//	  - confirm: {mutation: m-1, server_id: s1, seq: 1}
//	assertions:
//	  - {type: view_count, count: 1}
//	  - {type: view_contains, id: s1, expect: {state: synced}}
//
// Each step carries exactly one action: record, confirm, fail, snapshot,
// expire or discard. Mutation ids are m-1, m-2, ... in record order, and
// their local ids are local:m-1, local:m-2, ...
//
// # Assertion Types
//
//   - view_contains: an item is in the final view with the expected fields
//   - comment_contains: a comment is under an item with the expected fields
//   - view_order: the final view holds exactly these ids in this order
//   - view_count: the final view holds this many items
//   - mutation_status: a mutation is pending, confirmed, failed or absent
//
// # Deterministic Testing
//
// The client clock starts at testutil.Epoch and only moves with `at`, so
// the rendered timeline is identical across runs and is compared with
// golden files in testdata/golden.
package harness
