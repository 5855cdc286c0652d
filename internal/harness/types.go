package harness

import (
	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/tracker"
)

// StepResult is the feed after one step.
type StepResult struct {
	// Action describes the step, e.g. "record create_item m-1".
	Action string `json:"action"`

	// View is the merged feed published after the step.
	View []model.FeedItem `json:"view"`

	// Settled lists the mutations the step's reconciliation settled.
	Settled []string `json:"settled,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	Name string `json:"name"`

	// Pass is true when every assertion holds.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Live is the final tracker state, in record order.
	Live []tracker.Mutation `json:"live"`

	// Errors holds assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult(name string) *Result {
	return &Result{Name: name, Pass: true, Steps: []StepResult{}, Live: []tracker.Mutation{}}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// FinalView is the view after the last step.
func (r *Result) FinalView() []model.FeedItem {
	if len(r.Steps) == 0 {
		return nil
	}
	return r.Steps[len(r.Steps)-1].View
}
