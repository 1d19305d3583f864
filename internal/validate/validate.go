// Package validate models test-execution verdicts and the sandbox interface
// the validation stages call. Sandboxed execution itself is an external
// collaborator; the pipeline consumes only verdicts.
package validate

import "context"

// Suite distinguishes the two verdict kinds.
type Suite string

const (
	// SuiteRegression is the pre-existing test suite guarding prior behavior.
	SuiteRegression Suite = "regression"
	// SuiteReproduction is a generated suite exercising the reported defect.
	SuiteReproduction Suite = "reproduction"
)

// Verdict is the outcome of running one test selection against one patch.
// A sandbox failure is recorded in ExecError and makes the verdict
// inconclusive: it is excluded from scoring, not counted as a fail.
type Verdict struct {
	Issue     string          `json:"issue"`
	Family    string          `json:"family,omitempty"`
	Sample    int             `json:"sample"`
	Suite     Suite           `json:"suite"`
	Cases     map[string]bool `json:"cases,omitempty"` // test name -> passed
	ExecError string          `json:"exec_error,omitempty"`
}

// Inconclusive reports whether the sandbox failed before producing results.
func (v *Verdict) Inconclusive() bool { return v.ExecError != "" }

// Passed counts passing test cases. Zero for inconclusive verdicts.
func (v *Verdict) Passed() int {
	if v.Inconclusive() {
		return 0
	}
	n := 0
	for _, ok := range v.Cases {
		if ok {
			n++
		}
	}
	return n
}

// Failed counts failing test cases. Zero for inconclusive verdicts.
func (v *Verdict) Failed() int {
	if v.Inconclusive() {
		return 0
	}
	n := 0
	for _, ok := range v.Cases {
		if !ok {
			n++
		}
	}
	return n
}

// Selection names the tests to run for one sandbox invocation. An empty
// Tests list means the sandbox's default selection for the suite.
type Selection struct {
	Suite Suite    `json:"suite"`
	Tests []string `json:"tests,omitempty"`
}

// Sandbox executes a test selection against an issue's repository snapshot
// with the given patch applied. An empty patch runs the unpatched snapshot,
// which regression selection uses to find tests that pass before repair.
// Implementations must be safe to invoke concurrently across patches.
type Sandbox interface {
	RunTests(ctx context.Context, issue, patch string, sel Selection) (*Verdict, error)
}

// SelectPassing filters candidate regression tests down to those that pass
// on the unpatched snapshot. Tests that fail before any repair carry no
// signal about a patch and would only add noise to scoring.
func SelectPassing(ctx context.Context, sandbox Sandbox, issue string, candidates []string) ([]string, error) {
	verdict, err := sandbox.RunTests(ctx, issue, "", Selection{Suite: SuiteRegression, Tests: candidates})
	if err != nil {
		return nil, err
	}
	var passing []string
	for _, name := range candidates {
		if verdict.Cases[name] {
			passing = append(passing, name)
		}
	}
	return passing, nil
}
