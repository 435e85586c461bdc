// Package workflow wires the five agents into the codecraft graph and runs
// it for a task.
package workflow

// Field names a replaceable State field in a delta's Set mask.
type Field uint8

const (
	FieldCode Field = 1 << iota
	FieldTests
	FieldReview
	FieldDecision
)

// State is threaded through every node of one run.
//
// Task and Architecture are written once. Code, Tests, Review and Decision
// are replaced on every rewrite cycle. Cycles counts coder executions.
type State struct {
	Task         string `json:"task"`
	Architecture string `json:"architecture,omitempty"`
	Code         string `json:"code,omitempty"`
	Tests        string `json:"tests,omitempty"`
	Review       string `json:"review,omitempty"`
	Decision     string `json:"decision,omitempty"`
	Cycles       int    `json:"cycles"`

	// Set marks the replaceable fields a delta wrote. Only deltas carry it;
	// Reduce clears it on the merged state.
	Set Field `json:"-"`
}

// Reduce merges a node's delta into the accumulated state. Code, Tests,
// Review and Decision are replaced when the delta marks them in Set, even
// with an empty value.
func Reduce(prev, delta State) State {
	if prev.Task == "" {
		prev.Task = delta.Task
	}
	if prev.Architecture == "" {
		prev.Architecture = delta.Architecture
	}
	if delta.Set&FieldCode != 0 {
		prev.Code = delta.Code
	}
	if delta.Set&FieldTests != 0 {
		prev.Tests = delta.Tests
	}
	if delta.Set&FieldReview != 0 {
		prev.Review = delta.Review
	}
	if delta.Set&FieldDecision != 0 {
		prev.Decision = delta.Decision
	}
	if delta.Cycles > prev.Cycles {
		prev.Cycles = delta.Cycles
	}
	prev.Set = 0
	return prev
}
