package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumba2321/classsync/internal/tracker"
)

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: basic
description: a post and a like
tolerance: 2s
steps:
  - at: 3s
    record: {kind: create_item, user: u1, body: "hi"}
  - record: {kind: toggle_like, user: u2, item: s1, like: true}
  - confirm: {mutation: m-1, server_id: s1, seq: 4}
  - expire: 15s
assertions:
  - {type: view_count, count: 1}
`))
	require.NoError(t, err)

	assert.Equal(t, "basic", s.Name)
	require.NotNil(t, s.Tolerance)
	assert.Equal(t, 2*time.Second, *s.Tolerance)
	require.Len(t, s.Steps, 4)

	require.NotNil(t, s.Steps[0].At)
	assert.Equal(t, 3*time.Second, *s.Steps[0].At)
	assert.Equal(t, RecordStep{Kind: tracker.KindCreateItem, User: "u1", Body: "hi"}, *s.Steps[0].Record)
	assert.True(t, s.Steps[1].Record.Like)
	assert.Equal(t, ConfirmStep{Mutation: "m-1", ServerID: "s1", Seq: 4}, *s.Steps[2].Confirm)
	assert.Equal(t, 15*time.Second, *s.Steps[3].Expire)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: `
name: x
description: x
stepz: []
`,
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: `
description: x
steps: [{discard: m-1}]
assertions: [{type: view_count}]
`,
			want: "name is required",
		},
		{
			name: "two actions in a step",
			yaml: `
name: x
description: x
steps:
  - discard: m-1
    expire: 1s
assertions: [{type: view_count}]
`,
			want: "exactly one of",
		},
		{
			name: "like without item",
			yaml: `
name: x
description: x
steps:
  - record: {kind: toggle_like, user: u1}
assertions: [{type: view_count}]
`,
			want: "item is required",
		},
		{
			name: "unknown kind",
			yaml: `
name: x
description: x
steps:
  - record: {kind: edit_item, user: u1}
assertions: [{type: view_count}]
`,
			want: "unknown kind",
		},
		{
			name: "unknown assertion",
			yaml: `
name: x
description: x
steps: [{discard: m-1}]
assertions: [{type: trace_order}]
`,
			want: "unknown assertion type",
		},
		{
			name: "mutation status without status",
			yaml: `
name: x
description: x
steps: [{discard: m-1}]
assertions: [{type: mutation_status, mutation: m-1}]
`,
			want: "mutation and status are required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	files, err := FindScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, files)

	one, err := FindScenarios(filepath.Join(dir, "b.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, one)

	_, err = FindScenarios(t.TempDir())
	assert.Error(t, err)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
