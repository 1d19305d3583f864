package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"mend/internal/artifact"
	"mend/internal/logging"
	"mend/internal/rerank"
)

// IssueStatus is the final classification of one configured issue.
type IssueStatus string

const (
	// IssueSelected means the issue reached a RankedSelection with a patch.
	IssueSelected IssueStatus = "selected"
	// IssueNoPatch means reranking ran but no candidate was viable.
	IssueNoPatch IssueStatus = "no_patch"
	// IssueExcluded means an upstream stage failure removed the issue
	// before reranking.
	IssueExcluded IssueStatus = "excluded"
)

// IssueOutcome is the per-issue entry of the final report.
type IssueOutcome struct {
	Issue     string            `json:"issue"`
	Status    IssueStatus       `json:"status"`
	Stage     string            `json:"stage,omitempty"`  // exclusion point
	Reason    FailureReason     `json:"reason,omitempty"` // exclusion reason
	Selection *rerank.Selection `json:"selection,omitempty"`
}

// Report is the run-level output of Execute.
type Report struct {
	Issues []IssueOutcome `json:"issues"`
	Stages []*StageReport `json:"stages"`
}

// Complete reports whether every configured issue reached a RankedSelection
// or an explicit NoPatch. The process exit code is derived from this.
func (r *Report) Complete() bool {
	for _, o := range r.Issues {
		if o.Status == IssueExcluded {
			return false
		}
	}
	return true
}

// Orchestrator owns the fixed stage DAG and drives the runner through it in
// dependency order, excluding issues from stages strictly downstream of
// their first failure while the rest of the batch continues.
type Orchestrator struct {
	graph  *Graph
	runner *Runner
	store  artifact.Store
	log    *slog.Logger
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(graph *Graph, runner *Runner, store artifact.Store, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = logging.Discard()
	}
	return &Orchestrator{graph: graph, runner: runner, store: store, log: log}
}

// Execute runs every stage for the configured issues. Unit failures exclude
// only the affected issue from downstream stages; a fatal error aborts the
// run and is returned alongside the partial report.
func (o *Orchestrator) Execute(ctx context.Context, issues []string) (*Report, error) {
	if len(issues) == 0 {
		return nil, &FatalError{Err: fmt.Errorf("no target issues configured")}
	}

	report := &Report{}

	// exclusion[issue] is set at the first stage that failed the issue;
	// barred[stage][issue] marks the strictly-downstream stages it is
	// excluded from.
	type exclusion struct {
		stage  string
		reason FailureReason
	}
	excluded := make(map[string]exclusion)
	barred := make(map[string]map[string]bool)

	total := len(o.graph.Stages)
	for i := range o.graph.Stages {
		stage := &o.graph.Stages[i]

		var subset []string
		for _, issue := range issues {
			if barred[stage.Name][issue] {
				continue
			}
			subset = append(subset, issue)
		}

		o.log.Info(fmt.Sprintf("Step %d/%d", i+1, total), "stage", stage.Name, "issues", len(subset))
		if len(subset) == 0 {
			continue
		}

		stageReport, err := o.runner.Run(ctx, stage, subset)
		if stageReport != nil {
			report.Stages = append(report.Stages, stageReport)
		}
		if err != nil {
			return report, err
		}

		for issue, reason := range stageReport.FailedIssues() {
			if _, already := excluded[issue]; !already {
				excluded[issue] = exclusion{stage: stage.Name, reason: reason}
			}
			for down := range o.graph.Downstream(stage.Name) {
				if barred[down] == nil {
					barred[down] = make(map[string]bool)
				}
				barred[down][issue] = true
			}
		}

		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("run canceled after stage %s: %w", stage.Name, err)
		}
	}

	for _, issue := range issues {
		// A rerank selection settles the issue even when an upstream family
		// failed along the way: rerank tolerates missing families and selects
		// over the candidates that exist. Only issues without a selection
		// artifact end as excluded.
		outcome, err := o.finalOutcome(issue)
		if err == nil {
			report.Issues = append(report.Issues, outcome)
			continue
		}
		if exc, ok := excluded[issue]; ok {
			report.Issues = append(report.Issues, IssueOutcome{
				Issue:  issue,
				Status: IssueExcluded,
				Stage:  exc.stage,
				Reason: exc.reason,
			})
			continue
		}
		report.Issues = append(report.Issues, IssueOutcome{
			Issue:  issue,
			Status: IssueExcluded,
			Stage:  StageRerank,
			Reason: ReasonInternal,
		})
		o.log.Warn("missing rerank selection", "issue", issue, "error", err)
	}

	return report, nil
}

// finalOutcome reads the issue's rerank artifact and classifies it.
func (o *Orchestrator) finalOutcome(issue string) (IssueOutcome, error) {
	sel, err := artifact.ReadJSON[rerank.Selection](o.store, artifact.NewKey(StageRerank, issue))
	if err != nil {
		return IssueOutcome{}, err
	}
	if sel == nil {
		return IssueOutcome{}, fmt.Errorf("no selection artifact for %s", issue)
	}
	status := IssueSelected
	if sel.NoPatch {
		status = IssueNoPatch
	}
	return IssueOutcome{Issue: issue, Status: status, Selection: sel}, nil
}
