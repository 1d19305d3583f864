package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mend/internal/artifact"
	"mend/internal/logging"
	"mend/internal/pool"
)

// UnitStatus is the terminal state of one (issue, sample) unit.
type UnitStatus string

const (
	UnitCompleted UnitStatus = "completed"
	UnitSkipped   UnitStatus = "skipped"
	UnitFailed    UnitStatus = "failed"
)

// UnitOutcome records one unit in a StageReport.
type UnitOutcome struct {
	Key    artifact.Key  `json:"key"`
	Status UnitStatus    `json:"status"`
	Reason FailureReason `json:"reason,omitempty"`
	Error  string        `json:"error,omitempty"`

	err error
}

// StageReport aggregates per-unit outcomes of one stage run.
type StageReport struct {
	Stage    string        `json:"stage"`
	Outcomes []UnitOutcome `json:"outcomes"`
}

// Counts returns (completed, skipped, failed) unit totals.
func (r *StageReport) Counts() (completed, skipped, failed int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case UnitCompleted:
			completed++
		case UnitSkipped:
			skipped++
		default:
			failed++
		}
	}
	return
}

// FailedIssues returns the issues for which every unit of this stage failed.
// A sample-parallel stage with surviving samples does not fail the issue;
// downstream stages work with the samples that exist.
func (r *StageReport) FailedIssues() map[string]FailureReason {
	okIssues := make(map[string]bool)
	firstReason := make(map[string]FailureReason)
	for _, o := range r.Outcomes {
		issue := o.Key.Issue
		if o.Status == UnitFailed {
			if _, seen := firstReason[issue]; !seen {
				firstReason[issue] = o.Reason
			}
			continue
		}
		okIssues[issue] = true
	}
	failed := make(map[string]FailureReason)
	for issue, reason := range firstReason {
		if !okIssues[issue] {
			failed[issue] = reason
		}
	}
	return failed
}

// fatalErr returns the first run-halting error among the outcomes, if any.
func (r *StageReport) fatalErr() error {
	for _, o := range r.Outcomes {
		if o.err != nil && IsFatal(o.err) {
			return o.err
		}
	}
	return nil
}

// RunnerOptions configure stage execution.
type RunnerOptions struct {
	// SkipExisting records Skipped for units whose artifact already exists
	// instead of recomputing. This is the resume mechanism.
	SkipExisting bool
	// Overwrite allows a recompute to replace an existing artifact. Without
	// it, recomputing a populated key fails with the store's conflict error.
	Overwrite bool
	// WorkerLimits maps each worker class to its concurrency ceiling.
	WorkerLimits map[WorkerClass]int
	Logger       *slog.Logger
}

// Runner executes one stage at a time for a set of issues: resolves inputs
// from the artifact store, fans units out to a bounded pool, persists
// outputs, and reports per-unit outcomes.
type Runner struct {
	store artifact.Store
	opts  RunnerOptions
	log   *slog.Logger
}

// NewRunner builds a Runner over the given artifact store.
func NewRunner(store artifact.Store, opts RunnerOptions) *Runner {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Runner{store: store, opts: opts, log: log}
}

// limit returns the concurrency ceiling for a worker class.
func (r *Runner) limit(class WorkerClass) int {
	if n, ok := r.opts.WorkerLimits[class]; ok && n > 0 {
		return n
	}
	switch class {
	case WorkersLLM:
		return 4
	case WorkersSandbox:
		return 2
	default:
		return 8
	}
}

// Run executes the stage for all issues. The returned error is non-nil only
// for run-halting (fatal) failures; unit-level failures live in the report.
func (r *Runner) Run(ctx context.Context, stage *Stage, issues []string) (*StageReport, error) {
	report := &StageReport{Stage: stage.Name}

	samples := stage.Samples
	if samples <= 0 {
		samples = 1
	}

	// Partition units: skipped and dependency-failed ones are settled
	// without dispatch; the rest go to the worker pool.
	type pending struct {
		key   artifact.Key
		input UnitInput
	}
	var work []pending

	for _, issue := range issues {
		for s := 0; s < samples; s++ {
			key := artifact.NewKey(stage.Name, issue)
			if stage.Samples > 0 {
				key = artifact.NewSampleKey(stage.Name, issue, s)
			}

			if r.opts.SkipExisting {
				exists, err := r.store.Exists(key)
				if err != nil {
					return nil, &FatalError{Err: fmt.Errorf("probe artifact %s: %w", key, err)}
				}
				if exists {
					report.Outcomes = append(report.Outcomes, UnitOutcome{Key: key, Status: UnitSkipped})
					continue
				}
			}

			deps, err := r.resolveDeps(stage, issue, s)
			if err != nil {
				report.Outcomes = append(report.Outcomes, failedOutcome(key, err))
				continue
			}
			work = append(work, pending{key: key, input: UnitInput{Issue: issue, Sample: s, Deps: deps}})
		}
	}

	tasks := make([]pool.Task[[]byte], len(work))
	for i, w := range work {
		tasks[i] = pool.Task[[]byte]{
			ID: w.key.String(),
			Run: func(ctx context.Context) ([]byte, error) {
				return stage.Run(ctx, w.input)
			},
		}
	}

	r.log.Info("stage dispatch",
		"stage", stage.Name, "units", len(tasks), "skipped", len(report.Outcomes), "workers", r.limit(stage.Workers))

	outcomes := pool.RunAll(ctx, r.limit(stage.Workers), tasks)

	for i, o := range outcomes {
		key := work[i].key
		if o.Err != nil {
			report.Outcomes = append(report.Outcomes, failedOutcome(key, o.Err))
			r.log.Warn("unit failed", "stage", stage.Name, "unit", key.String(), "reason", ClassifyFailure(o.Err), "error", o.Err)
			continue
		}
		if err := r.store.Write(key, o.Value, r.opts.Overwrite); err != nil {
			// A conflict here means two units raced on one key, which the
			// keying scheme rules out; treat it as the unit's failure.
			if errors.Is(err, artifact.ErrConflict) {
				report.Outcomes = append(report.Outcomes, failedOutcome(key, err))
				continue
			}
			return report, &FatalError{Err: fmt.Errorf("persist artifact %s: %w", key, err)}
		}
		report.Outcomes = append(report.Outcomes, UnitOutcome{Key: key, Status: UnitCompleted})
	}

	if err := report.fatalErr(); err != nil {
		return report, err
	}
	return report, nil
}

// resolveDeps reads the stage's upstream artifacts for one unit.
func (r *Runner) resolveDeps(stage *Stage, issue string, sample int) (map[string][]byte, error) {
	if len(stage.Needs) == 0 {
		return nil, nil
	}
	deps := make(map[string][]byte, len(stage.Needs))
	for _, d := range stage.Needs {
		if d.AllSamples {
			data, err := r.collectSamples(d.Stage, issue, d.Optional)
			if err != nil {
				return nil, err
			}
			deps[d.Stage] = data
			continue
		}
		key := artifact.NewKey(d.Stage, issue)
		if d.PerSample {
			key = artifact.NewSampleKey(d.Stage, issue, sample)
		}
		data, err := r.store.Read(key)
		if errors.Is(err, artifact.ErrNotFound) {
			if d.Optional {
				continue
			}
			return nil, fmt.Errorf("%w: %s", ErrMissingDependency, key)
		}
		if err != nil {
			return nil, err
		}
		deps[d.Stage] = data
	}
	return deps, nil
}

// collectSamples joins every persisted sample artifact of a stage into one
// JSON array, in sample order. Zero samples is a missing dependency unless
// the dep is optional, in which case the join is the empty array.
func (r *Runner) collectSamples(stage, issue string, optional bool) ([]byte, error) {
	keys, err := r.store.List(artifact.Prefix{Stage: stage, Issue: issue})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		if optional {
			return []byte("[]"), nil
		}
		return nil, fmt.Errorf("%w: no %s samples for %s", ErrMissingDependency, stage, issue)
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, key := range keys {
		data, err := r.store.Read(key)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(data)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func failedOutcome(key artifact.Key, err error) UnitOutcome {
	return UnitOutcome{
		Key:    key,
		Status: UnitFailed,
		Reason: ClassifyFailure(err),
		Error:  err.Error(),
		err:    err,
	}
}
