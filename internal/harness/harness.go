package harness

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/reconcile"
	"github.com/cumba2321/classsync/internal/remote"
	"github.com/cumba2321/classsync/internal/testutil"
	"github.com/cumba2321/classsync/internal/tracker"
)

// Harness executes one scenario with a manual clock and sequential
// mutation ids.
type Harness struct {
	clock   *testutil.ManualClock
	tracker *tracker.Tracker
	engine  *reconcile.Engine
	snap    remote.Snapshot
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Every step is followed by the same cycle the feed controller runs:
// reconcile the current snapshot with the live mutations, settle what the
// snapshot reflects and record the view. Run returns an error only when a
// step cannot be executed; failed assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with a logger for the tracker and step progress.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	clock := testutil.NewManualClock(testutil.Epoch)
	var engineOpts []reconcile.Option
	if scenario.Tolerance != nil {
		engineOpts = append(engineOpts, reconcile.WithTolerance(*scenario.Tolerance))
	}
	h := &Harness{
		clock: clock,
		tracker: tracker.New(
			tracker.WithClock(clock.Now),
			tracker.WithIDGenerator(tracker.NewSequenceGenerator("m")),
			tracker.WithLogger(logger),
		),
		engine: reconcile.New(engineOpts...),
		logger: logger,
	}

	result := NewResult(scenario.Name)
	for i, step := range scenario.Steps {
		if step.At != nil {
			clock.Set(testutil.Epoch.Add(*step.At))
		}
		action, err := h.execute(step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}

		res := h.engine.Reconcile(h.snap, h.tracker.Snapshot())
		h.tracker.Settle(res.Settled...)
		result.Steps = append(result.Steps, StepResult{Action: action, View: res.Items, Settled: res.Settled})

		h.logger.Info("step completed", "step", i+1, "action", action, "items", len(res.Items))
	}
	result.Live = h.tracker.Snapshot()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(step Step) (string, error) {
	switch {
	case step.Record != nil:
		m, err := buildMutation(*step.Record)
		if err != nil {
			return "", err
		}
		id := h.tracker.Record(m)
		return fmt.Sprintf("record %s %s", m.Kind, id), nil

	case step.Confirm != nil:
		c := step.Confirm
		ack := remote.Ack{ServerID: c.ServerID, Seq: c.Seq}
		return outcome(fmt.Sprintf("confirm %s %s@%d", c.Mutation, c.ServerID, c.Seq), h.tracker.Confirm(c.Mutation, ack)), nil

	case step.Fail != nil:
		f := step.Fail
		kind := f.Kind
		if kind == "" {
			kind = model.KindTransient
		}
		msg := f.Message
		if msg == "" {
			msg = "push failed"
		}
		return outcome(fmt.Sprintf("fail %s %s", f.Mutation, kind), h.tracker.Fail(f.Mutation, model.NewError(kind, msg))), nil

	case step.Snapshot != nil:
		h.snap = buildSnapshot(*step.Snapshot)
		return fmt.Sprintf("snapshot seq=%d items=%d", h.snap.Seq, len(h.snap.Items)), nil

	case step.Expire != nil:
		expired := h.tracker.Expire(*step.Expire)
		return fmt.Sprintf("expire %s [%s]", *step.Expire, strings.Join(expired, " ")), nil

	case step.Discard != "":
		return outcome("discard "+step.Discard, h.tracker.Discard(step.Discard)), nil
	}
	return "", fmt.Errorf("step has no action")
}

// outcome marks actions the tracker ignored, such as a second confirm.
func outcome(action string, applied bool) string {
	if applied {
		return action
	}
	return action + " (ignored)"
}

func buildMutation(r RecordStep) (tracker.Mutation, error) {
	switch r.Kind {
	case tracker.KindCreateItem:
		item := model.FeedItem{AuthorID: r.User, AuthorDisplayName: r.User, Role: model.RoleStudent, Body: r.Body}
		if err := model.ValidatePost(&item); err != nil {
			return tracker.Mutation{}, err
		}
		return tracker.CreateItem(item), nil
	case tracker.KindToggleLike:
		return tracker.ToggleLike(r.Item, r.User, r.Like), nil
	case tracker.KindAddComment:
		c := model.Comment{ParentID: r.Item, AuthorID: r.User, AuthorDisplayName: r.User, Role: model.RoleStudent, Body: r.Body}
		if err := model.ValidateComment(&c); err != nil {
			return tracker.Mutation{}, err
		}
		return tracker.AddComment(r.Item, c), nil
	case tracker.KindDeleteItem:
		return tracker.DeleteItem(r.Item), nil
	}
	return tracker.Mutation{}, fmt.Errorf("unknown mutation kind %q", r.Kind)
}

func buildSnapshot(s SnapshotStep) remote.Snapshot {
	snap := remote.Snapshot{Seq: s.Seq, Items: make([]model.FeedItem, 0, len(s.Items))}
	for _, spec := range s.Items {
		item := model.FeedItem{
			ID:                spec.ID,
			AuthorID:          spec.User,
			AuthorDisplayName: spec.User,
			Role:              model.RoleStudent,
			Body:              spec.Body,
			CreatedAt:         at(spec.At),
			LikeCount:         spec.Likes,
			LikedBy:           model.NormalizeLikedBy(spec.LikedBy),
			CommentCount:      len(spec.Comments),
			State:             model.StateSynced,
		}
		if spec.CommentCount != nil {
			item.CommentCount = *spec.CommentCount
		}
		for _, c := range spec.Comments {
			item.Comments = append(item.Comments, model.Comment{
				ID:                c.ID,
				ParentID:          spec.ID,
				AuthorID:          c.User,
				AuthorDisplayName: c.User,
				Role:              model.RoleStudent,
				Body:              c.Body,
				CreatedAt:         at(c.At),
				State:             model.StateSynced,
			})
		}
		model.SortComments(item.Comments)
		snap.Items = append(snap.Items, item)
	}
	model.SortItems(snap.Items)
	return snap
}

func at(offset time.Duration) time.Time {
	return testutil.Epoch.Add(offset)
}
