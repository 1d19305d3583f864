package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"mend/internal/artifact"
)

func echoStage(name string) *Stage {
	return &Stage{
		Name:    name,
		Workers: WorkersLocal,
		Run: func(_ context.Context, in UnitInput) ([]byte, error) {
			return []byte(fmt.Sprintf(`{"issue":%q,"sample":%d}`, in.Issue, in.Sample)), nil
		},
	}
}

func TestRunnerPersistsAndReports(t *testing.T) {
	store := artifact.NewMemStore()
	r := NewRunner(store, RunnerOptions{SkipExisting: true})

	report, err := r.Run(context.Background(), echoStage("combine"), []string{"issue-1", "issue-2"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	completed, skipped, failed := report.Counts()
	if completed != 2 || skipped != 0 || failed != 0 {
		t.Fatalf("counts: %d/%d/%d", completed, skipped, failed)
	}
	for _, issue := range []string{"issue-1", "issue-2"} {
		ok, _ := store.Exists(artifact.NewKey("combine", issue))
		if !ok {
			t.Errorf("artifact for %s not persisted", issue)
		}
	}
}

func TestRunnerSkipExisting(t *testing.T) {
	store := artifact.NewMemStore()
	r := NewRunner(store, RunnerOptions{SkipExisting: true})

	first, err := r.Run(context.Background(), echoStage("combine"), []string{"issue-1"})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if c, _, _ := first.Counts(); c != 1 {
		t.Fatalf("first run completed %d units", c)
	}

	second, err := r.Run(context.Background(), echoStage("combine"), []string{"issue-1"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	completed, skipped, _ := second.Counts()
	if completed != 0 || skipped != 1 {
		t.Errorf("resume: completed=%d skipped=%d, want 0/1", completed, skipped)
	}
}

func TestRunnerWithoutSkipConflicts(t *testing.T) {
	store := artifact.NewMemStore()
	r := NewRunner(store, RunnerOptions{})

	if _, err := r.Run(context.Background(), echoStage("combine"), []string{"issue-1"}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := r.Run(context.Background(), echoStage("combine"), []string{"issue-1"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	_, _, failed := report.Counts()
	if failed != 1 {
		t.Errorf("recompute without overwrite should conflict, got %d failures", failed)
	}
}

func TestRunnerOverwriteRecomputes(t *testing.T) {
	store := artifact.NewMemStore()
	r := NewRunner(store, RunnerOptions{Overwrite: true})

	for range 2 {
		report, err := r.Run(context.Background(), echoStage("combine"), []string{"issue-1"})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if c, _, f := report.Counts(); c != 1 || f != 0 {
			t.Fatalf("counts: completed=%d failed=%d", c, f)
		}
	}
}

func TestRunnerMissingDependencyFailsUnit(t *testing.T) {
	store := artifact.NewMemStore()
	r := NewRunner(store, RunnerOptions{})

	stage := &Stage{
		Name:    "combine",
		Needs:   []Dep{{Stage: "retrieval"}},
		Workers: WorkersLocal,
		Run:     noopUnit,
	}
	report, err := r.Run(context.Background(), stage, []string{"issue-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Status != UnitFailed {
		t.Fatalf("outcomes: %+v", report.Outcomes)
	}
	if report.Outcomes[0].Reason != ReasonMissingDependency {
		t.Errorf("reason: %s", report.Outcomes[0].Reason)
	}
}

func TestRunnerResolvesDeps(t *testing.T) {
	store := artifact.NewMemStore()
	if err := store.Write(artifact.NewKey("retrieval", "issue-1"), []byte(`{"files":["a.go"]}`), false); err != nil {
		t.Fatal(err)
	}

	var gotDeps map[string][]byte
	stage := &Stage{
		Name:    "combine",
		Needs:   []Dep{{Stage: "retrieval"}},
		Workers: WorkersLocal,
		Run: func(_ context.Context, in UnitInput) ([]byte, error) {
			gotDeps = in.Deps
			return []byte(`{}`), nil
		},
	}
	r := NewRunner(store, RunnerOptions{})
	if _, err := r.Run(context.Background(), stage, []string{"issue-1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(gotDeps["retrieval"]) != `{"files":["a.go"]}` {
		t.Errorf("deps: %q", gotDeps["retrieval"])
	}
}

func TestRunnerSampleFanOut(t *testing.T) {
	store := artifact.NewMemStore()
	stage := echoStage("repair_f1")
	stage.Samples = 3

	r := NewRunner(store, RunnerOptions{})
	report, err := r.Run(context.Background(), stage, []string{"issue-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c, _, _ := report.Counts(); c != 3 {
		t.Fatalf("completed %d units, want 3", c)
	}
	keys, _ := store.List(artifact.Prefix{Stage: "repair_f1", Issue: "issue-1"})
	if len(keys) != 3 {
		t.Fatalf("persisted %d samples", len(keys))
	}
	for i, k := range keys {
		if k.Sample != i {
			t.Errorf("key %d: sample %d", i, k.Sample)
		}
	}
}

func TestRunnerPerSampleDep(t *testing.T) {
	store := artifact.NewMemStore()
	for s := range 2 {
		key := artifact.NewSampleKey("repair_f1", "issue-1", s)
		if err := store.Write(key, []byte(fmt.Sprintf(`{"sample":%d}`, s)), false); err != nil {
			t.Fatal(err)
		}
	}

	seen := make(map[int]string)
	stage := &Stage{
		Name:    "regression_run_f1",
		Needs:   []Dep{{Stage: "repair_f1", PerSample: true}},
		Samples: 2,
		Workers: WorkersLocal,
		Run: func(_ context.Context, in UnitInput) ([]byte, error) {
			seen[in.Sample] = string(in.Deps["repair_f1"])
			return []byte(`{}`), nil
		},
	}
	r := NewRunner(store, RunnerOptions{WorkerLimits: map[WorkerClass]int{WorkersLocal: 1}})
	if _, err := r.Run(context.Background(), stage, []string{"issue-1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for s := range 2 {
		want := fmt.Sprintf(`{"sample":%d}`, s)
		if seen[s] != want {
			t.Errorf("sample %d saw %q, want %q", s, seen[s], want)
		}
	}
}

func TestRunnerAllSamplesDep(t *testing.T) {
	store := artifact.NewMemStore()
	for s := range 3 {
		key := artifact.NewSampleKey("line_localization", "issue-1", s)
		if err := store.Write(key, []byte(fmt.Sprintf(`{"sample":%d}`, s)), false); err != nil {
			t.Fatal(err)
		}
	}

	var got []struct {
		Sample int `json:"sample"`
	}
	stage := &Stage{
		Name:    "merge_f4",
		Needs:   []Dep{{Stage: "line_localization", AllSamples: true}},
		Workers: WorkersLocal,
		Run: func(_ context.Context, in UnitInput) ([]byte, error) {
			if err := json.Unmarshal(in.Deps["line_localization"], &got); err != nil {
				return nil, err
			}
			return []byte(`{}`), nil
		},
	}
	r := NewRunner(store, RunnerOptions{})
	if _, err := r.Run(context.Background(), stage, []string{"issue-1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("collected %d samples, want 3", len(got))
	}
	for i, g := range got {
		if g.Sample != i {
			t.Errorf("position %d: sample %d", i, g.Sample)
		}
	}
}

func TestRunnerAllSamplesDepEmptyIsMissing(t *testing.T) {
	store := artifact.NewMemStore()
	stage := &Stage{
		Name:    "merge_f1",
		Needs:   []Dep{{Stage: "line_localization", AllSamples: true}},
		Workers: WorkersLocal,
		Run:     noopUnit,
	}
	r := NewRunner(store, RunnerOptions{})
	report, err := r.Run(context.Background(), stage, []string{"issue-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Outcomes[0].Reason != ReasonMissingDependency {
		t.Errorf("reason: %s", report.Outcomes[0].Reason)
	}
}

func TestRunnerOptionalDepToleratesAbsence(t *testing.T) {
	store := artifact.NewMemStore()
	key := artifact.NewSampleKey("repair_f2", "issue-1", 0)
	if err := store.Write(key, []byte(`{"family":"f2"}`), false); err != nil {
		t.Fatal(err)
	}

	var got map[string][]byte
	stage := &Stage{
		Name: StageRerank,
		Needs: []Dep{
			{Stage: "repair_f1", AllSamples: true, Optional: true},
			{Stage: "repair_f2", AllSamples: true, Optional: true},
			{Stage: "regression_select", Optional: true},
		},
		Workers: WorkersLocal,
		Run: func(_ context.Context, in UnitInput) ([]byte, error) {
			got = in.Deps
			return []byte(`{}`), nil
		},
	}
	r := NewRunner(store, RunnerOptions{})
	report, err := r.Run(context.Background(), stage, []string{"issue-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Outcomes[0].Status != UnitCompleted {
		t.Fatalf("outcome: %+v", report.Outcomes[0])
	}
	if string(got["repair_f1"]) != "[]" {
		t.Errorf("absent optional sample dep resolved to %q, want empty array", got["repair_f1"])
	}
	if string(got["repair_f2"]) != `[{"family":"f2"}]` {
		t.Errorf("repair_f2 join: %q", got["repair_f2"])
	}
	if _, ok := got["regression_select"]; ok {
		t.Error("absent optional issue dep should be omitted")
	}
}

func TestRunnerUnitFailureIsolated(t *testing.T) {
	store := artifact.NewMemStore()
	stage := &Stage{
		Name:    "combine",
		Workers: WorkersLocal,
		Run: func(_ context.Context, in UnitInput) ([]byte, error) {
			if in.Issue == "bad" {
				return nil, fmt.Errorf("%w: scripted", ErrParse)
			}
			return []byte(`{}`), nil
		},
	}
	r := NewRunner(store, RunnerOptions{})
	report, err := r.Run(context.Background(), stage, []string{"good-1", "bad", "good-2"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	completed, _, failed := report.Counts()
	if completed != 2 || failed != 1 {
		t.Fatalf("counts: completed=%d failed=%d", completed, failed)
	}
	failedIssues := report.FailedIssues()
	if failedIssues["bad"] != ReasonParseError {
		t.Errorf("failed issues: %v", failedIssues)
	}
}

func TestRunnerFatalBackendErrorHalts(t *testing.T) {
	store := artifact.NewMemStore()
	stage := &Stage{
		Name:    "file_localization",
		Workers: WorkersLLM,
		Run: func(context.Context, UnitInput) ([]byte, error) {
			return nil, fatalBackendErr()
		},
	}
	r := NewRunner(store, RunnerOptions{})
	_, err := r.Run(context.Background(), stage, []string{"issue-1"})
	if err == nil || !IsFatal(err) {
		t.Fatalf("fatal unit error should halt the run, got %v", err)
	}
}

func TestFailedIssuesPartialSamplesSurvive(t *testing.T) {
	report := &StageReport{
		Stage: "repair_f1",
		Outcomes: []UnitOutcome{
			{Key: artifact.NewSampleKey("repair_f1", "issue-1", 0), Status: UnitFailed, Reason: ReasonBackendError},
			{Key: artifact.NewSampleKey("repair_f1", "issue-1", 1), Status: UnitCompleted},
			{Key: artifact.NewSampleKey("repair_f1", "issue-2", 0), Status: UnitFailed, Reason: ReasonBackendError},
			{Key: artifact.NewSampleKey("repair_f1", "issue-2", 1), Status: UnitFailed, Reason: ReasonParseError},
		},
	}
	failed := report.FailedIssues()
	if _, ok := failed["issue-1"]; ok {
		t.Error("issue-1 has a surviving sample and must not fail the stage")
	}
	if failed["issue-2"] != ReasonBackendError {
		t.Errorf("issue-2: %v", failed["issue-2"])
	}
}

func fatalBackendErr() error {
	return &FatalError{Err: errors.New("bad credentials")}
}
