package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mend/internal/format"
	"mend/internal/store"
)

var statusFlags struct {
	runID    string
	dbPath   string
	markdown bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded runs and per-issue outcomes",
	RunE:  runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusFlags.runID, "run", "", "Run ID to inspect; default lists all runs")
	f.StringVar(&statusFlags.dbPath, "db", store.DefaultDBPath, "Run ledger DB path")
	f.BoolVar(&statusFlags.markdown, "md", false, "Render tables as Markdown")
}

func statusTable() format.TableBuilder {
	if statusFlags.markdown {
		return format.NewTable(format.Markdown)
	}
	return format.NewTable(format.ASCII)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	st, err := store.Open(statusFlags.dbPath)
	if err != nil {
		return fmt.Errorf("open run ledger: %w", err)
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if statusFlags.runID == "" {
		runs, err := st.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No recorded runs.")
			return nil
		}
		tb := statusTable()
		tb.Header("Run", "Scenario", "Status", "Backend", "Duration", "Started")
		for _, run := range runs {
			duration := "-"
			if !run.FinishedAt.IsZero() {
				duration = format.FmtDuration(run.FinishedAt.Sub(run.StartedAt))
			}
			tb.Row(run.ID, run.Scenario, run.Status,
				run.Backend+"/"+format.Truncate(run.Model, 24),
				duration, run.StartedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(out, tb.String())
		return nil
	}

	run, err := st.GetRun(statusFlags.runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("no run %q", statusFlags.runID)
	}
	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "Scenario: %s\n", run.Scenario)
	fmt.Fprintf(out, "Backend:  %s/%s\n", run.Backend, run.Model)
	fmt.Fprintf(out, "Status:   %s\n", run.Status)

	records, err := st.ListIssueRecords(run.ID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No issue records.")
		return nil
	}
	tb := statusTable()
	tb.Header("Issue", "Status", "Evidence", "Agreement", "Excluded")
	tb.Columns(format.ColumnConfig{Number: 4, Align: format.AlignRight})
	selected := 0
	for _, rec := range records {
		switch rec.Status {
		case "selected":
			selected++
			tb.Row(rec.Issue, rec.Status,
				format.FmtScore(rec.ReproductionPassed, rec.RegressionPassed),
				rec.ClusterSize, "")
		case "no_patch":
			tb.Row(rec.Issue, "no patch", "", "", "")
		default:
			tb.Row(rec.Issue, rec.Status, "", "", format.FmtExclusion(rec.Stage, rec.Reason))
		}
	}
	tb.Footer("TOTAL", fmt.Sprintf("%d/%d selected", selected, len(records)), "", "", "")
	fmt.Fprintln(out, tb.String())
	return nil
}
