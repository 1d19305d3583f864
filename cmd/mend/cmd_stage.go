package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mend/internal/logging"
	"mend/internal/wiring"
)

var stageFlags struct {
	name      string
	targets   []string
	overwrite bool
	list      bool
}

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Run a single pipeline stage against the existing artifact tree",
	Long: `Stage recomputes one named stage for the configured issues, reading its
upstream inputs from artifacts already on disk. Use --list to print the
pipeline definition with every stage name.`,
	RunE: runStage,
}

func init() {
	f := stageCmd.Flags()
	f.StringVar(&stageFlags.name, "name", "", "Stage to run (required unless --list)")
	f.StringSliceVar(&stageFlags.targets, "targets", nil, "Issue IDs to process (overrides config target_ids)")
	f.BoolVar(&stageFlags.overwrite, "overwrite", false, "Replace existing artifacts for this stage")
	f.BoolVar(&stageFlags.list, "list", false, "Print the pipeline stage definitions and exit")
}

func runStage(cmd *cobra.Command, _ []string) error {
	initLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(stageFlags.targets) > 0 {
		cfg.TargetIDs = stageFlags.targets
	}
	if stageFlags.overwrite {
		cfg.SkipExisting = false
		cfg.Overwrite = true
	}

	session, err := wiring.NewSession(cfg, logging.New("stage"))
	if err != nil {
		return err
	}
	defer session.Close()

	if stageFlags.list {
		def, err := session.Graph.MarshalYAML()
		if err != nil {
			return err
		}
		cmd.Print(string(def))
		return nil
	}
	if stageFlags.name == "" {
		return fmt.Errorf("--name is required (use --list to see stage names)")
	}

	report, err := session.RunStage(cmd.Context(), stageFlags.name)
	if err != nil {
		return err
	}
	completed, skipped, failed := report.Counts()
	fmt.Fprintf(cmd.OutOrStdout(), "%s: completed=%d skipped=%d failed=%d\n", report.Stage, completed, skipped, failed)
	for issue, reason := range report.FailedIssues() {
		fmt.Fprintf(cmd.OutOrStdout(), "  failed %s: %s\n", issue, reason)
	}
	if failed > 0 {
		return fmt.Errorf("stage %s had %d failed unit(s)", report.Stage, failed)
	}
	return nil
}
