package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	scenario TEXT NOT NULL,
	backend TEXT NOT NULL,
	model TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS issue_records (
	run_id TEXT NOT NULL REFERENCES runs(id),
	issue TEXT NOT NULL,
	status TEXT NOT NULL,
	stage TEXT,
	reason TEXT,
	reproduction_passed INTEGER NOT NULL DEFAULT 0,
	regression_passed INTEGER NOT NULL DEFAULT 0,
	cluster_size INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, issue)
);
`

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path. Creates the parent directory
// (e.g. .mend) if it does not exist.
func Open(path string) (*SqlStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SqlStore{db: db}, nil
}

func (s *SqlStore) Close() error { return s.db.Close() }

func (s *SqlStore) CreateRun(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = "running"
	}
	_, err := s.db.Exec(
		`INSERT INTO runs(id, scenario, backend, model, started_at, status) VALUES(?,?,?,?,?,?)`,
		run.ID, run.Scenario, run.Backend, run.Model, run.StartedAt.Format(time.RFC3339), run.Status,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SqlStore) FinishRun(runID, status string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), status, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: no such run", runID)
	}
	return nil
}

func (s *SqlStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, scenario, backend, model, started_at, finished_at, status FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (s *SqlStore) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT id, scenario, backend, model, started_at, finished_at, status FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SqlStore) SaveIssueRecord(rec *IssueRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO issue_records
		 (run_id, issue, status, stage, reason, reproduction_passed, regression_passed, cluster_size)
		 VALUES(?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.Issue, rec.Status, rec.Stage, rec.Reason,
		rec.ReproductionPassed, rec.RegressionPassed, rec.ClusterSize,
	)
	if err != nil {
		return fmt.Errorf("save issue record %s/%s: %w", rec.RunID, rec.Issue, err)
	}
	return nil
}

func (s *SqlStore) ListIssueRecords(runID string) ([]*IssueRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, issue, status, stage, reason, reproduction_passed, regression_passed, cluster_size
		 FROM issue_records WHERE run_id = ? ORDER BY issue`, runID)
	if err != nil {
		return nil, fmt.Errorf("list issue records: %w", err)
	}
	defer rows.Close()
	var recs []*IssueRecord
	for rows.Next() {
		rec := &IssueRecord{}
		var stage, reason sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.Issue, &rec.Status, &stage, &reason,
			&rec.ReproductionPassed, &rec.RegressionPassed, &rec.ClusterSize); err != nil {
			return nil, fmt.Errorf("scan issue record: %w", err)
		}
		rec.Stage = nullStr(stage)
		rec.Reason = nullStr(reason)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var started string
	var finished sql.NullString
	if err := row.Scan(&run.ID, &run.Scenario, &run.Backend, &run.Model, &started, &finished, &run.Status); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, started)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	run.StartedAt = t
	if finished.Valid && finished.String != "" {
		t, err := time.Parse(time.RFC3339, finished.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = t
	}
	return run, nil
}

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
