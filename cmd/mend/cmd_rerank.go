package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mend/internal/artifact"
	"mend/internal/logging"
	"mend/internal/pipeline"
	"mend/internal/rerank"
	"mend/internal/wiring"
)

var rerankFlags struct {
	targets []string
	diff    bool
}

var rerankCmd = &cobra.Command{
	Use:   "rerank",
	Short: "Recompute consensus reranking from existing artifacts",
	Long: `Rerank replaces the final selection stage output for the configured issues
without touching upstream artifacts. Repair candidates and test verdicts are
read from disk, so no backend or sandbox calls are made.`,
	RunE: runRerank,
}

func init() {
	f := rerankCmd.Flags()
	f.StringSliceVar(&rerankFlags.targets, "targets", nil, "Issue IDs to rerank (overrides config target_ids)")
	f.BoolVar(&rerankFlags.diff, "diff", false, "Print the selected patch diff for each issue")
}

func runRerank(cmd *cobra.Command, _ []string) error {
	initLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(rerankFlags.targets) > 0 {
		cfg.TargetIDs = rerankFlags.targets
	}
	// The rerank artifact is replaced in place; everything upstream is
	// read-only for this command.
	cfg.SkipExisting = false
	cfg.Overwrite = true

	session, err := wiring.NewSession(cfg, logging.New("rerank"))
	if err != nil {
		return err
	}
	defer session.Close()

	report, err := session.RunStage(cmd.Context(), pipeline.StageRerank)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for issue, reason := range report.FailedIssues() {
		fmt.Fprintf(out, "%s: rerank failed (%s)\n", issue, reason)
	}
	for _, issue := range cfg.TargetIDs {
		sel, err := artifact.ReadJSON[rerank.Selection](session.Artifacts, artifact.NewKey(pipeline.StageRerank, issue))
		if err != nil || sel == nil {
			continue
		}
		if sel.NoPatch {
			fmt.Fprintf(out, "%s: no patch\n", issue)
			continue
		}
		fmt.Fprintf(out, "%s: selected family=%s sample=%d repro=%d regr=%d agree=%d clusters=%d\n",
			issue, sel.Candidate.Family, sel.Candidate.Sample,
			sel.Score.ReproductionPassed, sel.Score.RegressionPassed, sel.Score.ClusterSize, sel.Clusters)
		if rerankFlags.diff {
			fmt.Fprintln(out, sel.Candidate.Diff)
		}
	}
	return nil
}
