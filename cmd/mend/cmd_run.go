package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mend/internal/format"
	"mend/internal/logging"
	"mend/internal/pipeline"
	"mend/internal/wiring"
)

var runFlags struct {
	targets   []string
	backend   string
	model     string
	overwrite bool
	fresh     bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full repair pipeline for the configured issues",
	Long: `Run executes every pipeline stage for the configured issues. Stages whose
artifacts already exist are skipped, so rerunning after an interruption
resumes where the previous run stopped. The command exits 0 only when every
issue reached a final selection or an explicit no-patch outcome.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runFlags.targets, "targets", nil, "Issue IDs to process (overrides config target_ids)")
	f.StringVar(&runFlags.backend, "backend", "", "Backend provider (overrides config)")
	f.StringVar(&runFlags.model, "model", "", "Model name (overrides config)")
	f.BoolVar(&runFlags.overwrite, "overwrite", false, "Allow recomputed units to replace existing artifacts")
	f.BoolVar(&runFlags.fresh, "fresh", false, "Recompute every unit instead of skipping existing artifacts")
}

func runRun(cmd *cobra.Command, _ []string) error {
	initLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(runFlags.targets) > 0 {
		cfg.TargetIDs = runFlags.targets
	}
	if runFlags.backend != "" {
		cfg.Backend = runFlags.backend
	}
	if runFlags.model != "" {
		cfg.Model = runFlags.model
	}
	if runFlags.overwrite {
		cfg.Overwrite = true
	}
	if runFlags.fresh {
		cfg.SkipExisting = false
		cfg.Overwrite = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	session, err := wiring.NewSession(cfg, logging.New("run"))
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, execErr := session.Execute(ctx)
	if report != nil {
		printReport(cmd, report)
	}
	if execErr != nil {
		return execErr
	}
	if !report.Complete() {
		return fmt.Errorf("run incomplete: one or more issues were excluded before reranking")
	}
	return nil
}

func printReport(cmd *cobra.Command, report *pipeline.Report) {
	out := cmd.OutOrStdout()

	stages := format.NewTable(format.ASCII)
	stages.Header("Stage", "Completed", "Skipped", "Failed")
	stages.Columns(
		format.ColumnConfig{Number: 2, Align: format.AlignRight},
		format.ColumnConfig{Number: 3, Align: format.AlignRight},
		format.ColumnConfig{Number: 4, Align: format.AlignRight},
	)
	for _, stage := range report.Stages {
		completed, skipped, failed := stage.Counts()
		stages.Row(stage.Stage, completed, skipped, failed)
	}
	fmt.Fprintln(out, stages.String())

	issues := format.NewTable(format.ASCII)
	issues.Header("Issue", "Outcome", "Patch", "Evidence", "Agreement")
	issues.Columns(format.ColumnConfig{Number: 5, Align: format.AlignRight})
	for _, issue := range report.Issues {
		switch issue.Status {
		case pipeline.IssueSelected:
			score := issue.Selection.Score
			patch := fmt.Sprintf("%s/s%d", issue.Selection.Candidate.Family, issue.Selection.Candidate.Sample)
			issues.Row(issue.Issue, "selected", patch,
				format.FmtScore(score.ReproductionPassed, score.RegressionPassed), score.ClusterSize)
		case pipeline.IssueNoPatch:
			issues.Row(issue.Issue, "no patch", "", "", "")
		default:
			issues.Row(issue.Issue, "excluded", "", format.FmtExclusion(issue.Stage, string(issue.Reason)), "")
		}
	}
	fmt.Fprintln(out, issues.String())
}
