// Package taskmodel holds the immutable task and model-profile definitions
// loaded once at startup from the manifest and packet parser.
package taskmodel

import "fmt"

// TaskSpec is immutable after load: it is never mutated by the scheduler.
type TaskSpec struct {
	TaskID             string
	PacketPath         string
	DependsOn          []string
	AllowedFiles       []string
	ValidationCommands []string
}

// Reasoning is one rung of effort within a single model.
type Reasoning string

const (
	ReasoningNone   Reasoning = "none"
	ReasoningMin    Reasoning = "minimal"
	ReasoningLow    Reasoning = "low"
	ReasoningMedium Reasoning = "medium"
	ReasoningHigh   Reasoning = "high"
	ReasoningXHigh  Reasoning = "xhigh"
)

// NormalizeReasoning folds the extrahigh/extra-high/extra_high aliases onto
// "xhigh"; any other value passes through unchanged so that unrecognized
// values still round-trip through the state file.
func NormalizeReasoning(raw string) Reasoning {
	switch raw {
	case "extrahigh", "extra-high", "extra_high":
		return ReasoningXHigh
	default:
		return Reasoning(raw)
	}
}

// ModelProfile is a (model, reasoning) pair — one rung of the escalation
// ladder.
type ModelProfile struct {
	Model     string
	Reasoning Reasoning
}

// Ladder is an ordered escalation ladder: index 0 is the starting profile,
// higher indices are stronger.
type Ladder []ModelProfile

// IndexOf returns the ladder index matching model+reasoning, or -1.
func (l Ladder) IndexOf(model string, reasoning Reasoning) int {
	for i, p := range l {
		if p.Model == model && p.Reasoning == reasoning {
			return i
		}
	}
	return -1
}

// Clamp restricts idx to a valid ladder index.
func (l Ladder) Clamp(idx int) int {
	if idx < 0 {
		return 0
	}
	if idx >= len(l) {
		return len(l) - 1
	}
	return idx
}

// At returns the profile at idx, clamped.
func (l Ladder) At(idx int) ModelProfile {
	return l[l.Clamp(idx)]
}

// TaskSet is the DAG of TaskSpecs indexed by id, validated at load time.
type TaskSet struct {
	specs map[string]*TaskSpec
	order []string
}

// NewTaskSet validates that every depends_on id resolves within the set and
// that the dependency graph is acyclic, returning a TaskSet keyed by id.
func NewTaskSet(specs []*TaskSpec) (*TaskSet, error) {
	ts := &TaskSet{specs: make(map[string]*TaskSpec, len(specs))}
	for _, s := range specs {
		if _, dup := ts.specs[s.TaskID]; dup {
			return nil, fmt.Errorf("taskmodel: duplicate task id %q", s.TaskID)
		}
		ts.specs[s.TaskID] = s
		ts.order = append(ts.order, s.TaskID)
	}
	for _, s := range specs {
		for _, dep := range s.DependsOn {
			if _, ok := ts.specs[dep]; !ok {
				return nil, fmt.Errorf("taskmodel: task %q depends on unknown task %q", s.TaskID, dep)
			}
		}
	}
	if cyc := ts.findCycle(); cyc != "" {
		return nil, fmt.Errorf("taskmodel: dependency cycle involving %q", cyc)
	}
	return ts, nil
}

func (ts *TaskSet) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ts.specs))
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range ts.specs[id].DependsOn {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}
	for _, id := range ts.order {
		if color[id] == white {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	return ""
}

// Get returns the TaskSpec for id, if present.
func (ts *TaskSet) Get(id string) (*TaskSpec, bool) {
	s, ok := ts.specs[id]
	return s, ok
}

// IDs returns task ids in load order.
func (ts *TaskSet) IDs() []string {
	out := make([]string, len(ts.order))
	copy(out, ts.order)
	return out
}

// Len returns the number of tasks in the set.
func (ts *TaskSet) Len() int { return len(ts.specs) }
