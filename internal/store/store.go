// Package store persists run-level records: which runs happened, which
// issues they covered, and how each issue ended. Stage artifacts live in the
// artifact store; this is the ledger the status command reads.
package store

import "time"

// DefaultDBPath is the default relative path for the SQLite DB.
const DefaultDBPath = ".mend/mend.db"

// Run is one pipeline invocation.
type Run struct {
	ID         string // uuid
	Scenario   string // label for the issue batch
	Backend    string
	Model      string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string    // running | complete | incomplete | fatal
}

// IssueRecord is the final per-issue outcome of a run.
type IssueRecord struct {
	RunID  string
	Issue  string
	Status string // selected | no_patch | excluded
	// Stage and Reason are set for excluded issues.
	Stage  string
	Reason string
	// Score breakdown for selected issues.
	ReproductionPassed int
	RegressionPassed   int
	ClusterSize        int
}

// Store is the persistence facade for run records. CLI and orchestrator use
// only this interface; the implementation is SQLite or in-memory.
type Store interface {
	CreateRun(run *Run) error
	FinishRun(runID, status string) error
	GetRun(runID string) (*Run, error)
	ListRuns() ([]*Run, error)
	SaveIssueRecord(rec *IssueRecord) error
	ListIssueRecords(runID string) ([]*IssueRecord, error)
	Close() error
}
