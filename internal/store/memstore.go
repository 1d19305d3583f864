package store

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu      sync.Mutex
	runs    map[string]*Run
	records map[string][]*IssueRecord
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:    make(map[string]*Run),
		records: make(map[string][]*IssueRecord),
	}
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) CreateRun(run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = "running"
	}
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *MemStore) FinishRun(runID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("finish run %s: no such run", runID)
	}
	run.FinishedAt = time.Now().UTC()
	run.Status = status
	return nil
}

func (m *MemStore) GetRun(runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (m *MemStore) ListRuns() ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		copied := *run
		runs = append(runs, &copied)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs, nil
}

func (m *MemStore) SaveIssueRecord(rec *IssueRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rec
	recs := m.records[rec.RunID]
	for i, existing := range recs {
		if existing.Issue == rec.Issue {
			recs[i] = &copied
			return nil
		}
	}
	m.records[rec.RunID] = append(recs, &copied)
	return nil
}

func (m *MemStore) ListIssueRecords(runID string) ([]*IssueRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := make([]*IssueRecord, 0, len(m.records[runID]))
	for _, rec := range m.records[runID] {
		copied := *rec
		recs = append(recs, &copied)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Issue < recs[j].Issue })
	return recs, nil
}
