package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/kokoro-deploy/internal/fileutil"
)

// Sequencer runs provisioning steps strictly in their declared order.
type Sequencer struct {
	steps []Step
	log   *logger.Logger
}

// NewSequencer creates a Sequencer over the given steps.
func NewSequencer(log *logger.Logger, steps []Step) *Sequencer {
	return &Sequencer{
		steps: steps,
		log:   log,
	}
}

// Run executes every step in order and returns the per-step report.
//
// A fatal step failure stops execution: the failing step is recorded as
// failed, every later step as not-run, and the failure is returned with the
// underlying error preserved in the chain. Best-effort failures are logged
// and the sequence continues; they never make Run return an error.
func (s *Sequencer) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Results:  make([]StepResult, 0, len(s.steps)),
		Duration: 0,
	}

	start := time.Now()
	total := len(s.steps)

	var fatalErr error

	for idx, step := range s.steps {
		if fatalErr == nil && ctx.Err() != nil {
			fatalErr = fmt.Errorf("sequence interrupted: %w", ctx.Err())
		}

		if fatalErr != nil {
			report.Results = append(report.Results, StepResult{
				Name:     step.Name,
				Policy:   step.Policy,
				Status:   StatusNotRun,
				Err:      nil,
				Duration: 0,
			})

			continue
		}

		result := s.runStep(ctx, idx+1, total, step)
		report.Results = append(report.Results, result)

		if result.Status == StatusFailed && step.Policy == Fatal {
			fatalErr = fmt.Errorf("step %s failed: %w", step.Name, result.Err)
		}
	}

	report.Duration = time.Since(start)

	if fatalErr != nil {
		return report, fatalErr
	}

	return report, nil
}

// runStep probes and executes a single step.
func (s *Sequencer) runStep(ctx context.Context, num, total int, step Step) StepResult {
	result := StepResult{
		Name:     step.Name,
		Policy:   step.Policy,
		Status:   StatusOK,
		Err:      nil,
		Duration: 0,
	}

	if step.Probe != nil {
		satisfied, probeErr := step.Probe(ctx)

		switch {
		case probeErr != nil:
			s.log.Warn(
				"[%d/%d] %s: probe failed, running anyway: %v",
				num, total, step.Name, probeErr,
			)
		case satisfied:
			s.log.Info("[%d/%d] %s: already satisfied, skipping", num, total, step.Name)
			result.Status = StatusSkipped

			return result
		}
	}

	s.log.Info("[%d/%d] %s: running (%s)", num, total, step.Name, step.Policy)

	start := time.Now()
	err := step.Run(ctx)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusFailed
		result.Err = err

		if step.Policy == Fatal {
			s.log.Error("[%d/%d] %s: failed: %v", num, total, step.Name, err)
		} else {
			s.log.Warn("[%d/%d] %s: failed, continuing: %v", num, total, step.Name, err)
		}

		return result
	}

	s.log.Info(
		"[%d/%d] %s: done in %s",
		num, total, step.Name, fileutil.FormatDuration(result.Duration.Seconds()),
	)

	return result
}
