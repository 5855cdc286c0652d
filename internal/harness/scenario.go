package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/tracker"
)

// Scenario is a scripted timeline of local mutations, push results and
// remote snapshots, checked against the merged feed it produces.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Tolerance overrides the create correlation tolerance.
	Tolerance *time.Duration `yaml:"tolerance,omitempty"`

	// Steps run in order. After every step the feed is reconciled and the
	// view recorded.
	Steps []Step `yaml:"steps"`

	// Assertions check the final view and the live mutations.
	Assertions []Assertion `yaml:"assertions"`
}

// Step performs exactly one action. At, when set, first moves the client
// clock to that offset from the scenario epoch.
type Step struct {
	At *time.Duration `yaml:"at,omitempty"`

	Record   *RecordStep    `yaml:"record,omitempty"`
	Confirm  *ConfirmStep   `yaml:"confirm,omitempty"`
	Fail     *FailStep      `yaml:"fail,omitempty"`
	Snapshot *SnapshotStep  `yaml:"snapshot,omitempty"`
	Expire   *time.Duration `yaml:"expire,omitempty"`
	Discard  string         `yaml:"discard,omitempty"`
}

// RecordStep records a new mutation. Mutation ids are m-1, m-2, ... in
// record order.
type RecordStep struct {
	Kind tracker.Kind `yaml:"kind"`

	// User is the author of a post or comment, or the user who likes.
	User string `yaml:"user"`
	Body string `yaml:"body,omitempty"`
	Item string `yaml:"item,omitempty"`
	Like bool   `yaml:"like,omitempty"`
}

// ConfirmStep delivers a successful push result.
type ConfirmStep struct {
	Mutation string `yaml:"mutation"`
	ServerID string `yaml:"server_id,omitempty"`
	Seq      int64  `yaml:"seq,omitempty"`
}

// FailStep delivers a failed push result. Kind defaults to transient.
type FailStep struct {
	Mutation string     `yaml:"mutation"`
	Kind     model.Kind `yaml:"kind,omitempty"`
	Message  string     `yaml:"message,omitempty"`
}

// SnapshotStep delivers a remote snapshot.
type SnapshotStep struct {
	Seq   int64      `yaml:"seq"`
	Items []ItemSpec `yaml:"items"`
}

// ItemSpec is a remote feed item. CommentCount defaults to the number of
// listed comments.
type ItemSpec struct {
	ID           string        `yaml:"id"`
	User         string        `yaml:"user"`
	Body         string        `yaml:"body"`
	At           time.Duration `yaml:"at"`
	Likes        int           `yaml:"likes,omitempty"`
	LikedBy      []string      `yaml:"liked_by,omitempty"`
	CommentCount *int          `yaml:"comment_count,omitempty"`
	Comments     []CommentSpec `yaml:"comments,omitempty"`
}

// CommentSpec is a remote comment.
type CommentSpec struct {
	ID   string        `yaml:"id"`
	User string        `yaml:"user"`
	Body string        `yaml:"body"`
	At   time.Duration `yaml:"at"`
}

// Assertion validates the final view or mutation set.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// ID is the feed item (view_contains, comment_contains).
	ID string `yaml:"id,omitempty"`

	// Comment is the comment id under ID (comment_contains).
	Comment string `yaml:"comment,omitempty"`

	// Expect holds expected field values, subset match (view_contains,
	// comment_contains).
	Expect map[string]any `yaml:"expect,omitempty"`

	// IDs is the exact item order of the view (view_order).
	IDs []string `yaml:"ids,omitempty"`

	// Count is the number of items in the view (view_count).
	Count int `yaml:"count,omitempty"`

	// Mutation and Status check one mutation (mutation_status). Status is a
	// tracker status or "absent" for a mutation no longer tracked.
	Mutation string `yaml:"mutation,omitempty"`
	Status   string `yaml:"status,omitempty"`
}

// Assertion type constants.
const (
	AssertViewContains    = "view_contains"
	AssertViewOrder       = "view_order"
	AssertViewCount       = "view_count"
	AssertCommentContains = "comment_contains"
	AssertMutationStatus  = "mutation_status"
)

// StatusAbsent is the mutation_status of a mutation that was settled,
// rolled back or discarded.
const StatusAbsent = "absent"

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so that typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the scenario files under path: path itself when it
// is a file, otherwise every .yaml or .yml file in the directory, sorted.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(path, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", path)
	}
	return files, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	actions := 0
	for _, set := range []bool{
		step.Record != nil,
		step.Confirm != nil,
		step.Fail != nil,
		step.Snapshot != nil,
		step.Expire != nil,
		step.Discard != "",
	} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("exactly one of record, confirm, fail, snapshot, expire or discard is required, got %d", actions)
	}

	switch {
	case step.Record != nil:
		return validateRecord(*step.Record)
	case step.Confirm != nil:
		if step.Confirm.Mutation == "" {
			return fmt.Errorf("confirm: mutation is required")
		}
	case step.Fail != nil:
		if step.Fail.Mutation == "" {
			return fmt.Errorf("fail: mutation is required")
		}
	case step.Snapshot != nil:
		for i, item := range step.Snapshot.Items {
			if item.ID == "" || item.User == "" {
				return fmt.Errorf("snapshot.items[%d]: id and user are required", i)
			}
		}
	}
	return nil
}

func validateRecord(r RecordStep) error {
	if r.User == "" && r.Kind != tracker.KindDeleteItem {
		return fmt.Errorf("record: user is required for %s", r.Kind)
	}
	switch r.Kind {
	case tracker.KindCreateItem:
	case tracker.KindToggleLike, tracker.KindAddComment, tracker.KindDeleteItem:
		if r.Item == "" {
			return fmt.Errorf("record: item is required for %s", r.Kind)
		}
	default:
		return fmt.Errorf("record: unknown kind %q", r.Kind)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertViewContains:
		if a.ID == "" {
			return fmt.Errorf("id is required for %s", a.Type)
		}
	case AssertCommentContains:
		if a.ID == "" || a.Comment == "" {
			return fmt.Errorf("id and comment are required for %s", a.Type)
		}
	case AssertViewOrder:
		if a.IDs == nil {
			return fmt.Errorf("ids list is required for %s", a.Type)
		}
	case AssertViewCount:
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for %s", a.Type)
		}
	case AssertMutationStatus:
		if a.Mutation == "" || a.Status == "" {
			return fmt.Errorf("mutation and status are required for %s", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
