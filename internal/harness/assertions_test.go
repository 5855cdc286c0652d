package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/tracker"
)

func sampleResult() *Result {
	r := NewResult("sample")
	r.Steps = []StepResult{{
		Action: "snapshot seq=1 items=2",
		View: []model.FeedItem{
			{
				ID: "s2", AuthorID: "u2", Body: "second", State: model.StateSynced,
				LikeCount: 1, LikedBy: []string{"u1"}, CommentCount: 1,
				Comments: []model.Comment{{ID: "c1", AuthorID: "u1", Body: "yes", State: model.StatePending}},
			},
			{ID: "s1", AuthorID: "u1", Body: "first", State: model.StateSynced, LikedBy: []string{}},
		},
	}}
	r.Live = []tracker.Mutation{{ID: "m-1", Status: tracker.StatusConfirmed}}
	return r
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertViewCount, Count: 2},
		{Type: AssertViewOrder, IDs: []string{"s2", "s1"}},
		{Type: AssertViewContains, ID: "s2", Expect: map[string]any{"likes": 1, "liked_by": []any{"u1"}, "user": "u2"}},
		{Type: AssertViewContains, ID: "s1", Expect: map[string]any{"liked_by": []any{}, "comments": 0}},
		{Type: AssertCommentContains, ID: "s2", Comment: "c1", Expect: map[string]any{"state": "pending"}},
		{Type: AssertMutationStatus, Mutation: "m-1", Status: "confirmed"},
		{Type: AssertMutationStatus, Mutation: "m-9", Status: StatusAbsent},
	})
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_Fail(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{"count", Assertion{Type: AssertViewCount, Count: 3}, "Expected: 3 items"},
		{"order", Assertion{Type: AssertViewOrder, IDs: []string{"s1", "s2"}}, "Actual: items [s2 s1]"},
		{"missing item", Assertion{Type: AssertViewContains, ID: "s9"}, "item s9 in view"},
		{"field", Assertion{Type: AssertViewContains, ID: "s2", Expect: map[string]any{"likes": 2}}, "likes = 2, got 1"},
		{"unknown field", Assertion{Type: AssertViewContains, ID: "s2", Expect: map[string]any{"color": "red"}}, `has no field "color"`},
		{"missing comment", Assertion{Type: AssertCommentContains, ID: "s2", Comment: "c9"}, "Actual: comments [c1]"},
		{"status", Assertion{Type: AssertMutationStatus, Mutation: "m-1", Status: "pending"}, "Actual: confirmed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(sampleResult(), []Assertion{tt.assertion})
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.want)
			assert.Contains(t, errs[0], "Final view:")
		})
	}
}
