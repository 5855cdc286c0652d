package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/cumba2321/classsync/internal/model"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	View     []model.FeedItem
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "\nFinal view:\n")
	if len(e.View) == 0 {
		fmt.Fprintf(&buf, "  (empty)\n")
	}
	for _, item := range e.View {
		fmt.Fprintf(&buf, "  %s\n", itemLine(item))
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the final view and
// tracker state and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i+1, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	view := result.FinalView()
	switch a.Type {
	case AssertViewContains:
		return assertViewContains(view, a)
	case AssertViewOrder:
		return assertViewOrder(view, a)
	case AssertViewCount:
		return assertViewCount(view, a)
	case AssertCommentContains:
		return assertCommentContains(view, a)
	case AssertMutationStatus:
		return assertMutationStatus(result, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertViewContains(view []model.FeedItem, a Assertion) error {
	item, ok := lo.Find(view, func(i model.FeedItem) bool { return i.ID == a.ID })
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("item %s in view", a.ID),
			Actual:   "not found",
			View:     view,
		}
	}
	if mismatch := matchFields(itemFields(item), a.Expect); mismatch != "" {
		return &AssertionError{Type: a.Type, Expected: "item " + a.ID + " " + mismatch, Actual: itemLine(item), View: view}
	}
	return nil
}

func assertCommentContains(view []model.FeedItem, a Assertion) error {
	item, ok := lo.Find(view, func(i model.FeedItem) bool { return i.ID == a.ID })
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("item %s in view", a.ID), Actual: "not found", View: view}
	}
	c, ok := lo.Find(item.Comments, func(c model.Comment) bool { return c.ID == a.Comment })
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("comment %s under %s", a.Comment, a.ID),
			Actual:   fmt.Sprintf("comments %v", lo.Map(item.Comments, func(c model.Comment, _ int) string { return c.ID })),
			View:     view,
		}
	}
	if mismatch := matchFields(commentFields(c), a.Expect); mismatch != "" {
		return &AssertionError{Type: a.Type, Expected: "comment " + a.Comment + " " + mismatch, Actual: commentLine(c), View: view}
	}
	return nil
}

func assertViewOrder(view []model.FeedItem, a Assertion) error {
	ids := lo.Map(view, func(i model.FeedItem, _ int) string { return i.ID })
	if !slices.Equal(ids, a.IDs) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("items %v", a.IDs),
			Actual:   fmt.Sprintf("items %v", ids),
			View:     view,
		}
	}
	return nil
}

func assertViewCount(view []model.FeedItem, a Assertion) error {
	if len(view) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d items", a.Count),
			Actual:   fmt.Sprintf("%d items", len(view)),
			View:     view,
		}
	}
	return nil
}

func assertMutationStatus(result *Result, a Assertion) error {
	status := StatusAbsent
	for _, m := range result.Live {
		if m.ID == a.Mutation {
			status = string(m.Status)
		}
	}
	if status != a.Status {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("mutation %s %s", a.Mutation, a.Status),
			Actual:   status,
			View:     result.FinalView(),
		}
	}
	return nil
}

func itemFields(item model.FeedItem) map[string]any {
	return map[string]any{
		"id":       item.ID,
		"user":     item.AuthorID,
		"body":     item.Body,
		"state":    string(item.State),
		"likes":    item.LikeCount,
		"liked_by": item.LikedBy,
		"comments": item.CommentCount,
	}
}

func commentFields(c model.Comment) map[string]any {
	return map[string]any{
		"id":    c.ID,
		"user":  c.AuthorID,
		"body":  c.Body,
		"state": string(c.State),
	}
}

// matchFields compares the expected subset by printed value, so YAML ints
// and lists match their Go counterparts. It returns a description of the
// first mismatch in key order, or "".
func matchFields(actual, expect map[string]any) string {
	keys := lo.Keys(expect)
	sort.Strings(keys)
	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return fmt.Sprintf("has no field %q", k)
		}
		if fmt.Sprint(got) != fmt.Sprint(expect[k]) {
			return fmt.Sprintf("%s = %v, got %v", k, expect[k], got)
		}
	}
	return ""
}
