package harness

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/cumba2321/classsync/internal/model"
)

// Render writes the step-by-step timeline of a result as plain text. The
// output is deterministic and is what golden files hold.
func Render(w io.Writer, r *Result) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario %s\n", r.Name)
	for i, step := range r.Steps {
		fmt.Fprintf(&buf, "step %d: %s\n", i+1, step.Action)
		if len(step.View) == 0 {
			buf.WriteString("  (empty)\n")
		}
		for _, item := range step.View {
			fmt.Fprintf(&buf, "  %s\n", itemLine(item))
			for _, c := range item.Comments {
				fmt.Fprintf(&buf, "    %s\n", commentLine(c))
			}
		}
		if len(step.Settled) > 0 {
			fmt.Fprintf(&buf, "  settled: %s\n", strings.Join(step.Settled, " "))
		}
	}

	live := make([]string, 0, len(r.Live))
	for _, m := range r.Live {
		live = append(live, fmt.Sprintf("%s=%s", m.ID, m.Status))
	}
	if len(live) == 0 {
		live = append(live, "none")
	}
	fmt.Fprintf(&buf, "live: %s\n", strings.Join(live, " "))

	if r.Pass {
		buf.WriteString("pass\n")
	} else {
		buf.WriteString("fail\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&buf, "  %s\n", firstLine(e))
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func itemLine(item model.FeedItem) string {
	line := fmt.Sprintf("%s %s %s %q likes=%d comments=%d",
		item.ID, item.State, item.AuthorID, item.Body, item.LikeCount, item.CommentCount)
	if len(item.LikedBy) > 0 {
		line += " liked_by=" + strings.Join(item.LikedBy, ",")
	}
	return line
}

func commentLine(c model.Comment) string {
	return fmt.Sprintf("%s %s %s %q", c.ID, c.State, c.AuthorID, c.Body)
}

func firstLine(s string) string {
	first, _, _ := strings.Cut(s, "\n")
	return first
}

// RunWithGolden executes a scenario and compares its rendered timeline with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	var buf bytes.Buffer
	if err := Render(&buf, result); err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, buf.Bytes())
	return nil
}
