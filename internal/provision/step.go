// Package provision implements the ordered, idempotent bootstrap sequence
// that prepares a host to run the kokoro-tts engine: tooling verification,
// repository checkout, Python dependency install, model artifact download,
// permission fixes, the headless-environment patch, and a smoke test.
package provision

import (
	"context"
	"time"
)

// Policy decides what a step failure does to the rest of the sequence.
type Policy int

const (
	// Fatal failures abort the sequence; later steps do not run.
	Fatal Policy = iota
	// BestEffort failures are logged and the sequence continues.
	BestEffort
)

// String returns the policy name used in logs and reports.
func (p Policy) String() string {
	if p == BestEffort {
		return "best-effort"
	}

	return "fatal"
}

// Step is one provisioning action with an idempotency probe.
type Step struct {
	// Name identifies the step in logs and reports.
	Name string
	// Policy decides whether a failure aborts the sequence.
	Policy Policy
	// Probe reports whether the step's effect is already in place, in which
	// case the step is skipped. A nil probe means the step runs on every
	// invocation. A probe error is logged and treated as "not satisfied".
	Probe func(ctx context.Context) (bool, error)
	// Run performs the step.
	Run func(ctx context.Context) error
}

// Status classifies a step's outcome within one sequence run.
type Status string

const (
	// StatusOK means the step ran and succeeded.
	StatusOK Status = "ok"
	// StatusSkipped means the probe found nothing to do.
	StatusSkipped Status = "skipped"
	// StatusFailed means the step ran and failed.
	StatusFailed Status = "failed"
	// StatusNotRun means an earlier fatal failure prevented the step.
	StatusNotRun Status = "not-run"
)

// StepResult records one step's outcome.
type StepResult struct {
	Name     string
	Policy   Policy
	Status   Status
	Err      error
	Duration time.Duration
}

// Report collects the outcomes of a full sequence run.
type Report struct {
	Results  []StepResult
	Duration time.Duration
}

// Succeeded reports whether no fatal step failed.
func (r *Report) Succeeded() bool {
	for _, result := range r.Results {
		if result.Status == StatusFailed && result.Policy == Fatal {
			return false
		}
	}

	return true
}

// BestEffortFailures returns the names of best-effort steps that failed.
func (r *Report) BestEffortFailures() []string {
	var failed []string

	for _, result := range r.Results {
		if result.Status == StatusFailed && result.Policy == BestEffort {
			failed = append(failed, result.Name)
		}
	}

	return failed
}

// Result returns the outcome of the named step, or nil when the step is not
// part of the report.
func (r *Report) Result(name string) *StepResult {
	for i := range r.Results {
		if r.Results[i].Name == name {
			return &r.Results[i]
		}
	}

	return nil
}
