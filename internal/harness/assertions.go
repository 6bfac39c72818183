package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rocicorp/diff-server/internal/command"
	"github.com/rocicorp/diff-server/internal/session"
)

// AssertionError describes a failed expectation.
type AssertionError struct {
	Step     int    // -1 for object checks
	Type     string // expectation that failed
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	where := fmt.Sprintf("steps[%d]", e.Step)
	if e.Step < 0 {
		where = "objects"
	}
	return fmt.Sprintf("%s: %s: expected %s, got %s", where, e.Type, e.Expected, e.Actual)
}

func fail(result *Result, e *AssertionError) {
	result.AddError(e.Error())
}

// checkBegin evaluates a step whose Begin failed.
func checkBegin(i int, expect *Expect, err error, result *Result) {
	if expect == nil || expect.BeginError == "" {
		fail(result, &AssertionError{
			Step:     i,
			Type:     "begin",
			Expected: "begin to succeed",
			Actual:   fmt.Sprintf("error %q", err.Error()),
		})
		return
	}
	if !strings.Contains(err.Error(), expect.BeginError) {
		fail(result, &AssertionError{
			Step:     i,
			Type:     "begin_error",
			Expected: fmt.Sprintf("error containing %q", expect.BeginError),
			Actual:   fmt.Sprintf("%q", err.Error()),
		})
	}
	checkCode(i, expect, err, result)
}

// checkStep evaluates a step that began. err is the first failure among
// Write, Read and End.
func checkStep(i int, step Step, out []byte, err error, result *Result) {
	expect := step.Expect
	if expect != nil && expect.BeginError != "" {
		return // already reported by runStep
	}

	switch {
	case err == nil && expect.wantsFailure():
		fail(result, &AssertionError{
			Step:     i,
			Type:     "error",
			Expected: "a failure",
			Actual:   "success",
		})
	case err != nil && !expect.wantsFailure():
		fail(result, &AssertionError{
			Step:     i,
			Type:     "error",
			Expected: "success",
			Actual:   fmt.Sprintf("error %q", err.Error()),
		})
	case err != nil:
		if expect.Error != "" && !strings.Contains(err.Error(), expect.Error) {
			fail(result, &AssertionError{
				Step:     i,
				Type:     "error",
				Expected: fmt.Sprintf("error containing %q", expect.Error),
				Actual:   fmt.Sprintf("%q", err.Error()),
			})
		}
		checkCode(i, expect, err, result)
	}

	if expect != nil && expect.Output != nil && string(out) != *expect.Output {
		fail(result, &AssertionError{
			Step:     i,
			Type:     "output",
			Expected: fmt.Sprintf("%q", *expect.Output),
			Actual:   fmt.Sprintf("%q", out),
		})
	}
}

func checkCode(i int, expect *Expect, err error, result *Result) {
	if expect.Code == "" {
		return
	}
	if got := string(session.CodeOf(err)); got != expect.Code {
		fail(result, &AssertionError{
			Step:     i,
			Type:     "code",
			Expected: expect.Code,
			Actual:   fmt.Sprintf("%q", got),
		})
	}
}

// checkObject evaluates one entry of Scenario.Objects.
func checkObject(id string, want *string, got []byte, err error, result *Result) {
	switch {
	case want == nil && err == nil:
		fail(result, &AssertionError{
			Step:     -1,
			Type:     id,
			Expected: "no object",
			Actual:   fmt.Sprintf("%q", got),
		})
	case want == nil && !isNotFound(err):
		fail(result, &AssertionError{
			Step:     -1,
			Type:     id,
			Expected: "no object",
			Actual:   fmt.Sprintf("error %q", err.Error()),
		})
	case want != nil && err != nil:
		fail(result, &AssertionError{
			Step:     -1,
			Type:     id,
			Expected: fmt.Sprintf("%q", *want),
			Actual:   fmt.Sprintf("error %q", err.Error()),
		})
	case want != nil && string(got) != *want:
		fail(result, &AssertionError{
			Step:     -1,
			Type:     id,
			Expected: fmt.Sprintf("%q", *want),
			Actual:   fmt.Sprintf("%q", got),
		})
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, command.ErrNotFound)
}
