package harness

import (
	"fmt"
	"strings"
)

// Trace operations.
const (
	OpBegin = "begin"
	OpWrite = "write"
	OpRead  = "read"
	OpEnd   = "end"
	OpCheck = "check"
)

// TraceEvent is one protocol call made while running a scenario.
type TraceEvent struct {
	// Step is the index of the step that made the call. Object checks
	// carry -1.
	Step int `json:"step"`

	// Op is one of the Op constants.
	Op string `json:"op"`

	// Detail is the payload for begin, the byte count for write and read,
	// and "ok" or "error <CODE>" for outcomes.
	Detail string `json:"detail"`
}

// String renders the event as one trace line.
func (e TraceEvent) String() string {
	if e.Step < 0 {
		return fmt.Sprintf("[objects] %s %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("[%d] %s %s", e.Step, e.Op, e.Detail)
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expectation held.
	Pass bool `json:"pass"`

	// Trace holds every protocol call in order.
	Trace []TraceEvent `json:"trace"`

	// Outputs holds the bytes read by each step, indexed by step.
	Outputs []string `json:"outputs"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result for a scenario of n steps.
func NewResult(n int) *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Outputs: make([]string, n),
		Errors:  []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(step int, op, detail string) {
	r.Trace = append(r.Trace, TraceEvent{Step: step, Op: op, Detail: detail})
}

// Render returns the trace as text, one event per line.
func (r *Result) Render() string {
	var b strings.Builder
	for _, e := range r.Trace {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
