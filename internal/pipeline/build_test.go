package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mend/internal/artifact"
	"mend/internal/backend"
	"mend/internal/localize"
	"mend/internal/rerank"
	"mend/internal/validate"
)

// fakeClient echoes the prompt back as the completion and counts calls.
type fakeClient struct {
	calls atomic.Int64
}

func (c *fakeClient) Provider() string { return "fake" }

func (c *fakeClient) Complete(_ context.Context, _, prompt string, params backend.SamplingParams) ([]backend.Completion, error) {
	c.calls.Add(1)
	n := params.NumSamples
	if n <= 0 {
		n = 1
	}
	out := make([]backend.Completion, n)
	for i := range out {
		out[i] = backend.Completion{Text: prompt}
	}
	return out, nil
}

type fakeCodec struct {
	prompt  string
	payload string
}

func (c fakeCodec) Produce(string, map[string][]byte) (string, error) { return c.prompt, nil }
func (c fakeCodec) Parse(string) ([]byte, error)                      { return []byte(c.payload), nil }

type fakeSnapshots struct{}

func (fakeSnapshots) RepoStructure(context.Context, string) ([]byte, error) {
	return []byte(`["pkg/a.go","pkg/b.go"]`), nil
}

type fakeRetriever struct{}

func (fakeRetriever) Retrieve(context.Context, string, int) ([]string, error) {
	return []string{"pkg/b.go", "pkg/a.go"}, nil
}

// fakeSandbox reproduces the defect on the unpatched snapshot and passes
// everything once a patch is applied.
type fakeSandbox struct{}

func (fakeSandbox) RunTests(_ context.Context, issue, patch string, sel validate.Selection) (*validate.Verdict, error) {
	cases := make(map[string]bool, len(sel.Tests))
	for _, name := range sel.Tests {
		switch {
		case patch != "":
			cases[name] = true
		case sel.Suite == validate.SuiteReproduction:
			cases[name] = false
		default:
			cases[name] = true
		}
	}
	return &validate.Verdict{Issue: issue, Suite: sel.Suite, Cases: cases}, nil
}

const fakeDiff = `--- a/pkg/a.go
+++ b/pkg/a.go
@@ -1,1 +1,1 @@
-broken
+fixed
`

func fullPipelineDeps(client *fakeClient) Deps {
	locResult := `{"files":[{"path":"pkg/a.go","rank":0},{"path":"pkg/b.go","rank":1}]}`
	lineResult := `{"files":[{"path":"pkg/a.go","rank":0}],"lines":[{"file":"pkg/a.go","start":1,"end":1}]}`
	return Deps{
		Gateway:   backend.NewGateway(client, backend.Options{}),
		Sandbox:   fakeSandbox{},
		Snapshots: fakeSnapshots{},
		Retriever: fakeRetriever{},
		Codecs: CodecSet{
			FileLocalization:     fakeCodec{prompt: "loc", payload: locResult},
			IrrelevantFilter:     fakeCodec{prompt: "filter", payload: `["docs"]`},
			RelatedElements:      fakeCodec{prompt: "elems", payload: locResult},
			LineLocalization:     fakeCodec{prompt: "lines", payload: lineResult},
			Repair:               fakeCodec{prompt: "repair", payload: fakeDiff},
			RegressionGenerate:   fakeCodec{prompt: "regr", payload: `["TestA","TestB"]`},
			ReproductionGenerate: fakeCodec{prompt: "repro", payload: `["TestRepro"]`},
		},
		Params: Params{Backend: "fake", Model: "fake-1", LocSamples: 2, MaxSamples: 2, TopN: 3},
	}
}

func TestBuildGraphShape(t *testing.T) {
	g, err := BuildGraph(fullPipelineDeps(&fakeClient{}))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	// 6 shared localization stages, 4 merges, 5 test-generation stages,
	// 4 families x 3 stages, and rerank.
	if got := len(g.Stages); got != 28 {
		t.Errorf("stage count: %d", got)
	}
	if g.Stages[0].Name != StageFileLocalization {
		t.Errorf("first stage: %s", g.Stages[0].Name)
	}
	last := g.Stages[len(g.Stages)-1]
	if last.Name != StageRerank {
		t.Errorf("last stage: %s", last.Name)
	}
	if len(last.Needs) != 12 {
		t.Errorf("rerank needs %d deps, want one per family stage", len(last.Needs))
	}

	// Every family stage carries its family tag.
	for _, s := range g.Stages {
		hasPrefix := false
		for _, p := range []string{StageMergePrefix, StageRepairPrefix, StageRegressionRunPrefix, StageReproductionRun} {
			if strings.HasPrefix(s.Name, p) {
				hasPrefix = true
			}
		}
		if hasPrefix && s.Family == "" {
			t.Errorf("stage %s has no family tag", s.Name)
		}
	}
}

// A line-localization sample that failed leaves a gap in the persisted set.
// Merge variants address samples by their stamped index, so the gap must stay
// a gap instead of a later sample sliding into it.
func TestMergeVariantWithSampleGap(t *testing.T) {
	g, err := BuildGraph(fullPipelineDeps(&fakeClient{}))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	store := artifact.NewMemStore()
	seed := func(sample, start, end int) {
		payload := fmt.Sprintf(
			`{"issue":"issue-1","sample":%d,"files":[{"path":"pkg/a.go","rank":0}],"lines":[{"file":"pkg/a.go","start":%d,"end":%d}]}`,
			sample, start, end)
		key := artifact.NewSampleKey(StageLineLocalization, "issue-1", sample)
		if err := store.Write(key, []byte(payload), false); err != nil {
			t.Fatal(err)
		}
	}
	seed(0, 1, 2)
	seed(2, 50, 55)

	runner := NewRunner(store, RunnerOptions{})

	// merge_f2 wants sample 1 only, which is the absent one.
	mergeF2, ok := g.Stage(StageMergePrefix + "f2")
	if !ok {
		t.Fatal("merge_f2 not in graph")
	}
	report, err := runner.Run(context.Background(), mergeF2, []string{"issue-1"})
	if err != nil {
		t.Fatalf("Run merge_f2: %v", err)
	}
	if got := report.Outcomes[0]; got.Status != UnitFailed || got.Reason != ReasonMissingDependency {
		t.Errorf("merge_f2 must not absorb sample 2: %+v", got)
	}

	// merge_f4 spans samples 0..3 and unions whatever of them exist.
	mergeF4, ok := g.Stage(StageMergePrefix + "f4")
	if !ok {
		t.Fatal("merge_f4 not in graph")
	}
	if _, err := runner.Run(context.Background(), mergeF4, []string{"issue-1"}); err != nil {
		t.Fatalf("Run merge_f4: %v", err)
	}
	merged, err := artifact.ReadJSON[localize.Result](store, artifact.NewKey(StageMergePrefix+"f4", "issue-1"))
	if err != nil || merged == nil {
		t.Fatalf("read merge_f4 artifact: %v", err)
	}
	want := []localize.LineSpan{
		{File: "pkg/a.go", Start: 1, End: 2},
		{File: "pkg/a.go", Start: 50, End: 55},
	}
	if diff := cmp.Diff(want, merged.Lines); diff != "" {
		t.Errorf("merged spans (-want +got):\n%s", diff)
	}
}

func TestFullPipelineEndToEnd(t *testing.T) {
	client := &fakeClient{}
	g, err := BuildGraph(fullPipelineDeps(client))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	store := artifact.NewMemStore()
	runner := NewRunner(store, RunnerOptions{SkipExisting: true})
	o := NewOrchestrator(g, runner, store, nil)

	issues := []string{"issue-1", "issue-2"}
	report, err := o.Execute(context.Background(), issues)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !report.Complete() {
		t.Fatalf("incomplete report: %+v", report.Issues)
	}

	for _, out := range report.Issues {
		if out.Status != IssueSelected {
			t.Fatalf("%s: %+v", out.Issue, out)
		}
		sel := out.Selection
		if sel.Candidate == nil || sel.Candidate.Diff == "" {
			t.Fatalf("%s: empty selection %+v", out.Issue, sel)
		}
		// All four families agree on one patch: a single cluster of
		// 4 families x 2 samples, with full test evidence.
		if sel.Clusters != 1 || sel.Score.ClusterSize != 8 {
			t.Errorf("%s: clusters=%d size=%d", out.Issue, sel.Clusters, sel.Score.ClusterSize)
		}
		if sel.Score.ReproductionPassed != 1 {
			t.Errorf("%s: reproduction passed %d", out.Issue, sel.Score.ReproductionPassed)
		}
		if sel.Score.RegressionPassed != 2 {
			t.Errorf("%s: regression passed %d", out.Issue, sel.Score.RegressionPassed)
		}
	}

	// Greedy-first sampling: sample 0 of each repair family ran at
	// temperature zero.
	cand, err := artifact.ReadJSON[struct {
		Temperature float64 `json:"temperature"`
	}](store, artifact.NewSampleKey(StageRepairPrefix+"f1", "issue-1", 0))
	if err != nil || cand == nil {
		t.Fatalf("read repair sample: %v", err)
	}
	if cand.Temperature != 0 {
		t.Errorf("sample 0 temperature: %v", cand.Temperature)
	}
}

func TestFullPipelineResumeMakesNoBackendCalls(t *testing.T) {
	client := &fakeClient{}
	g, err := BuildGraph(fullPipelineDeps(client))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	store := artifact.NewMemStore()
	runner := NewRunner(store, RunnerOptions{SkipExisting: true})
	o := NewOrchestrator(g, runner, store, nil)

	if _, err := o.Execute(context.Background(), []string{"issue-1"}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := client.calls.Load()
	if before == 0 {
		t.Fatal("first run made no backend calls")
	}

	report, err := o.Execute(context.Background(), []string{"issue-1"})
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if got := client.calls.Load(); got != before {
		t.Errorf("resumed run made %d backend calls", got-before)
	}
	if !report.Complete() {
		t.Error("resumed report incomplete")
	}

	sel, err := artifact.ReadJSON[rerank.Selection](store, artifact.NewKey(StageRerank, "issue-1"))
	if err != nil || sel == nil {
		t.Fatalf("selection artifact: %v", err)
	}
	if sel.NoPatch {
		t.Error("selection should carry a patch")
	}
}
