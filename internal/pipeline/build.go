package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"mend/internal/backend"
	"mend/internal/localize"
	"mend/internal/logging"
	"mend/internal/repair"
	"mend/internal/rerank"
	"mend/internal/validate"
)

// Stage names of the fixed DAG. Family-parameterized stages append the
// family tag (repair_f1 .. repair_f4).
const (
	StageFileLocalization     = "file_localization"
	StageIrrelevantFilter     = "irrelevant_filter"
	StageRetrieval            = "retrieval"
	StageCombine              = "combine"
	StageRelatedElements      = "related_elements"
	StageLineLocalization     = "line_localization"
	StageMergePrefix          = "merge_"
	StageRepairPrefix         = "repair_"
	StageRegressionGenerate   = "regression_generate"
	StageRegressionSelect     = "regression_select"
	StageRegressionRunPrefix  = "regression_run_"
	StageReproductionGenerate = "reproduction_generate"
	StageReproductionFilter   = "reproduction_filter"
	StageReproductionSelect   = "reproduction_select"
	StageReproductionRun      = "reproduction_run_"
	StageRerank               = "rerank"
)

// repoStructureDep is the pseudo-dependency name under which localization
// codecs receive the repository file tree.
const repoStructureDep = "repo_structure"

// Params are the pipeline-wide knobs resolved from configuration.
type Params struct {
	Backend     string
	Model       string
	Temperature float64
	MaxTokens   int
	// LocSamples is the line-localization fan-out feeding the merge variants.
	LocSamples int
	// MaxSamples is the per-family repair fan-out.
	MaxSamples int
	// TopN caps the file lists entering the combine vote.
	TopN int
}

func (p Params) withDefaults() Params {
	if p.MaxTokens <= 0 {
		p.MaxTokens = 1024
	}
	if p.LocSamples <= 0 {
		p.LocSamples = 4
	}
	if p.MaxSamples <= 0 {
		p.MaxSamples = 10
	}
	if p.TopN <= 0 {
		p.TopN = 3
	}
	if p.Temperature <= 0 {
		p.Temperature = 0.8
	}
	return p
}

// CodecSet holds the per-stage prompt/response collaborators.
type CodecSet struct {
	FileLocalization     PromptCodec
	IrrelevantFilter     PromptCodec
	RelatedElements      PromptCodec
	LineLocalization     PromptCodec
	Repair               PromptCodec
	RegressionGenerate   PromptCodec
	ReproductionGenerate PromptCodec
}

// Deps are the external collaborators the stage units close over.
type Deps struct {
	Gateway   *backend.Gateway
	Sandbox   validate.Sandbox
	Snapshots SnapshotProvider
	Retriever Retriever
	Codecs    CodecSet
	Params    Params
	Log       *slog.Logger
}

// BuildGraph assembles the fixed repair pipeline: shared localization stages,
// four parameterized repair/validation families built from one sub-pipeline
// definition, reconverging at rerank.
func BuildGraph(deps Deps) (*Graph, error) {
	deps.Params = deps.Params.withDefaults()
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}

	variants := localize.DefaultMergeVariants()

	stages := []Stage{
		{
			Name:    StageFileLocalization,
			Workers: WorkersLLM,
			Run:     deps.withRepoStructure(deps.llmUnit(deps.Codecs.FileLocalization, greedy)),
		},
		{
			Name:    StageIrrelevantFilter,
			Workers: WorkersLLM,
			Run:     deps.withRepoStructure(deps.llmUnit(deps.Codecs.IrrelevantFilter, greedy)),
		},
		{
			Name:    StageRetrieval,
			Needs:   []Dep{{Stage: StageIrrelevantFilter}},
			Workers: WorkersLocal,
			Run:     deps.retrievalUnit(),
		},
		{
			Name:    StageCombine,
			Needs:   []Dep{{Stage: StageFileLocalization}, {Stage: StageRetrieval}},
			Workers: WorkersLocal,
			Run:     deps.combineUnit(),
		},
		{
			Name:    StageRelatedElements,
			Needs:   []Dep{{Stage: StageCombine}},
			Workers: WorkersLLM,
			Run:     deps.llmUnit(deps.Codecs.RelatedElements, greedy),
		},
		{
			Name:    StageLineLocalization,
			Needs:   []Dep{{Stage: StageRelatedElements}},
			Samples: deps.Params.LocSamples,
			Workers: WorkersLLM,
			Run:     withSampleStamp(deps.llmUnit(deps.Codecs.LineLocalization, deps.sampled)),
		},
	}

	// One merge stage per repair family, each a different view of the same
	// line-localization samples.
	for _, v := range variants {
		stages = append(stages, Stage{
			Name:    StageMergePrefix + v.Name,
			Family:  v.Name,
			Needs:   []Dep{{Stage: StageLineLocalization, AllSamples: true}},
			Workers: WorkersLocal,
			Run:     deps.mergeUnit(v),
		})
	}

	// Shared test-generation stages.
	stages = append(stages,
		Stage{
			Name:    StageRegressionGenerate,
			Workers: WorkersLLM,
			Run:     deps.llmUnit(deps.Codecs.RegressionGenerate, greedy),
		},
		Stage{
			Name:    StageRegressionSelect,
			Needs:   []Dep{{Stage: StageRegressionGenerate}},
			Workers: WorkersSandbox,
			Run:     deps.regressionSelectUnit(),
		},
		Stage{
			Name:    StageReproductionGenerate,
			Workers: WorkersLLM,
			Run:     deps.llmUnit(deps.Codecs.ReproductionGenerate, greedy),
		},
		Stage{
			Name:    StageReproductionFilter,
			Needs:   []Dep{{Stage: StageReproductionGenerate}},
			Workers: WorkersSandbox,
			Run:     deps.reproductionFilterUnit(),
		},
		Stage{
			Name:    StageReproductionSelect,
			Needs:   []Dep{{Stage: StageReproductionFilter}},
			Workers: WorkersLocal,
			Run:     deps.reproductionSelectUnit(),
		},
	)

	// The per-family sub-pipeline: repair, then the two validation runs.
	for _, v := range variants {
		stages = append(stages, deps.familyStages(v.Name)...)
	}

	// Rerank reconverges the families. Every family dep is optional: a family
	// whose merge or repair failed contributes nothing, and rerank selects
	// over whatever candidates the surviving families produced.
	rerankNeeds := make([]Dep, 0, 3*len(variants))
	for _, v := range variants {
		rerankNeeds = append(rerankNeeds,
			Dep{Stage: StageRepairPrefix + v.Name, AllSamples: true, Optional: true},
			Dep{Stage: StageRegressionRunPrefix + v.Name, AllSamples: true, Optional: true},
			Dep{Stage: StageReproductionRun + v.Name, AllSamples: true, Optional: true},
		)
	}
	stages = append(stages, Stage{
		Name:    StageRerank,
		Needs:   rerankNeeds,
		Workers: WorkersLocal,
		Run:     deps.rerankUnit(variants),
	})

	return NewGraph(stages)
}

// familyStages instantiates one repair family's sub-pipeline.
func (d *Deps) familyStages(family string) []Stage {
	repairStage := StageRepairPrefix + family
	return []Stage{
		{
			Name:    repairStage,
			Family:  family,
			Needs:   []Dep{{Stage: StageMergePrefix + family}},
			Samples: d.Params.MaxSamples,
			Workers: WorkersLLM,
			Run:     d.repairUnit(family),
		},
		{
			Name:    StageRegressionRunPrefix + family,
			Family:  family,
			Needs:   []Dep{{Stage: repairStage, PerSample: true}, {Stage: StageRegressionSelect}},
			Samples: d.Params.MaxSamples,
			Workers: WorkersSandbox,
			Run:     d.testRunUnit(family, validate.SuiteRegression, StageRegressionSelect),
		},
		{
			Name:    StageReproductionRun + family,
			Family:  family,
			Needs:   []Dep{{Stage: repairStage, PerSample: true}, {Stage: StageReproductionSelect}},
			Samples: d.Params.MaxSamples,
			Workers: WorkersSandbox,
			Run:     d.testRunUnit(family, validate.SuiteReproduction, StageReproductionSelect),
		},
	}
}

// greedy pins every sample of a single-shot LLM stage to temperature zero.
func greedy(int) float64 { return 0 }

// sampled applies the greedy-first convention: sample 0 at temperature zero,
// later samples at the configured temperature.
func (d *Deps) sampled(sample int) float64 {
	return repair.SampleTemperature(sample, d.Params.Temperature)
}

// llmUnit is the shared unit shape of every LLM-backed stage: produce the
// prompt, request one completion, parse it into the stage artifact.
func (d *Deps) llmUnit(codec PromptCodec, temperature func(int) float64) UnitFunc {
	return func(ctx context.Context, in UnitInput) ([]byte, error) {
		prompt, err := codec.Produce(in.Issue, in.Deps)
		if err != nil {
			return nil, fmt.Errorf("produce prompt for %s: %w", in.Issue, err)
		}
		completions, err := d.Gateway.Complete(ctx, d.Params.Model, prompt, backend.SamplingParams{
			Temperature: temperature(in.Sample),
			NumSamples:  1,
			MaxTokens:   d.Params.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		if completions[0].Filtered {
			return nil, fmt.Errorf("%w: completion was content-filtered", ErrParse)
		}
		payload, err := codec.Parse(completions[0].Text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return payload, nil
	}
}

// withSampleStamp records the unit's sample index in a localization result
// so merge variants can address samples by number even when some sample
// artifacts never materialized.
func withSampleStamp(next UnitFunc) UnitFunc {
	return func(ctx context.Context, in UnitInput) ([]byte, error) {
		payload, err := next(ctx, in)
		if err != nil {
			return nil, err
		}
		var res localize.Result
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("%w: localization artifact: %v", ErrParse, err)
		}
		res.Sample = in.Sample
		return json.Marshal(&res)
	}
}

// withRepoStructure injects the repository file tree under a pseudo-dep key
// before running the wrapped unit.
func (d *Deps) withRepoStructure(next UnitFunc) UnitFunc {
	return func(ctx context.Context, in UnitInput) ([]byte, error) {
		structure, err := d.Snapshots.RepoStructure(ctx, in.Issue)
		if err != nil {
			return nil, fmt.Errorf("repo structure for %s: %w", in.Issue, err)
		}
		if in.Deps == nil {
			in.Deps = make(map[string][]byte, 1)
		}
		in.Deps[repoStructureDep] = structure
		return next(ctx, in)
	}
}

// retrievalUnit ranks files by embedding similarity via the retrieval
// collaborator, scoped to the filtered repository view.
func (d *Deps) retrievalUnit() UnitFunc {
	return func(ctx context.Context, in UnitInput) ([]byte, error) {
		paths, err := d.Retriever.Retrieve(ctx, in.Issue, d.Params.TopN)
		if err != nil {
			return nil, fmt.Errorf("retrieve for %s: %w", in.Issue, err)
		}
		return json.Marshal(localize.FileRanking(in.Issue, paths))
	}
}

// combineUnit vote-merges the model-ranked and retrieval-ranked file lists.
func (d *Deps) combineUnit() UnitFunc {
	return func(_ context.Context, in UnitInput) ([]byte, error) {
		var model, retrieved localize.Result
		if err := json.Unmarshal(in.Deps[StageFileLocalization], &model); err != nil {
			return nil, fmt.Errorf("%w: file localization artifact: %v", ErrParse, err)
		}
		if err := json.Unmarshal(in.Deps[StageRetrieval], &retrieved); err != nil {
			return nil, fmt.Errorf("%w: retrieval artifact: %v", ErrParse, err)
		}
		combined := localize.CombineFiles(model.Paths(), retrieved.Paths(), d.Params.TopN)
		return json.Marshal(localize.FileRanking(in.Issue, combined))
	}
}

// mergeUnit unions the variant's line-localization samples.
func (d *Deps) mergeUnit(v localize.MergeVariant) UnitFunc {
	return func(_ context.Context, in UnitInput) ([]byte, error) {
		var samples []*localize.Result
		if err := json.Unmarshal(in.Deps[StageLineLocalization], &samples); err != nil {
			return nil, fmt.Errorf("%w: line localization artifacts: %v", ErrParse, err)
		}
		merged := localize.MergeLines(in.Issue, samples, v)
		if merged == nil {
			return nil, fmt.Errorf("%w: variant %s selects no line-localization samples", ErrMissingDependency, v.Name)
		}
		if err := merged.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return json.Marshal(merged)
	}
}

// repairUnit generates one patch candidate. A completion that fails to parse
// still persists a candidate (marked ParseFailed) so a resumed run does not
// re-spend the sample; the candidate is simply not viable downstream.
func (d *Deps) repairUnit(family string) UnitFunc {
	return func(ctx context.Context, in UnitInput) ([]byte, error) {
		prompt, err := d.Codecs.Repair.Produce(in.Issue, in.Deps)
		if err != nil {
			return nil, fmt.Errorf("produce repair prompt for %s: %w", in.Issue, err)
		}
		temp := repair.SampleTemperature(in.Sample, d.Params.Temperature)
		completions, err := d.Gateway.Complete(ctx, d.Params.Model, prompt, backend.SamplingParams{
			Temperature: temp,
			NumSamples:  1,
			MaxTokens:   d.Params.MaxTokens,
		})
		if err != nil {
			return nil, err
		}

		cand := repair.Candidate{
			Issue:       in.Issue,
			Family:      family,
			Sample:      in.Sample,
			Backend:     d.Params.Backend,
			Model:       d.Params.Model,
			Temperature: temp,
		}
		if completions[0].Filtered {
			cand.ParseFailed = true
			return json.Marshal(&cand)
		}
		diff, err := d.Codecs.Repair.Parse(completions[0].Text)
		if err != nil {
			d.Log.Warn("repair sample did not parse", "issue", in.Issue, "family", family, "sample", in.Sample, "error", err)
			cand.ParseFailed = true
			return json.Marshal(&cand)
		}
		cand.Diff = string(diff)
		return json.Marshal(&cand)
	}
}

// regressionSelectUnit keeps only the generated regression tests that pass
// on the unpatched snapshot.
func (d *Deps) regressionSelectUnit() UnitFunc {
	return func(ctx context.Context, in UnitInput) ([]byte, error) {
		var candidates []string
		if err := json.Unmarshal(in.Deps[StageRegressionGenerate], &candidates); err != nil {
			return nil, fmt.Errorf("%w: regression test list: %v", ErrParse, err)
		}
		passing, err := validate.SelectPassing(ctx, d.Sandbox, in.Issue, candidates)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecution, err)
		}
		return json.Marshal(validate.Selection{Suite: validate.SuiteRegression, Tests: passing})
	}
}

// reproductionFilterUnit keeps only the generated reproduction tests that
// fail on the unpatched snapshot, i.e. that actually reproduce the defect.
func (d *Deps) reproductionFilterUnit() UnitFunc {
	return func(ctx context.Context, in UnitInput) ([]byte, error) {
		var candidates []string
		if err := json.Unmarshal(in.Deps[StageReproductionGenerate], &candidates); err != nil {
			return nil, fmt.Errorf("%w: reproduction test list: %v", ErrParse, err)
		}
		verdict, err := d.Sandbox.RunTests(ctx, in.Issue, "", validate.Selection{
			Suite: validate.SuiteReproduction,
			Tests: candidates,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecution, err)
		}
		var reproducing []string
		for _, name := range candidates {
			if passed, ok := verdict.Cases[name]; ok && !passed {
				reproducing = append(reproducing, name)
			}
		}
		return json.Marshal(reproducing)
	}
}

// reproductionSelectUnit fixes the final reproduction selection in sorted
// order so downstream runs are deterministic.
func (d *Deps) reproductionSelectUnit() UnitFunc {
	return func(_ context.Context, in UnitInput) ([]byte, error) {
		var reproducing []string
		if err := json.Unmarshal(in.Deps[StageReproductionFilter], &reproducing); err != nil {
			return nil, fmt.Errorf("%w: filtered reproduction tests: %v", ErrParse, err)
		}
		sort.Strings(reproducing)
		return json.Marshal(validate.Selection{Suite: validate.SuiteReproduction, Tests: reproducing})
	}
}

// testRunUnit runs one suite selection against one patch candidate. Sandbox
// failures produce an inconclusive verdict rather than a failed unit, so
// they are excluded from scoring instead of excluding the issue.
func (d *Deps) testRunUnit(family string, suite validate.Suite, selectStage string) UnitFunc {
	return func(ctx context.Context, in UnitInput) ([]byte, error) {
		var cand repair.Candidate
		if err := json.Unmarshal(in.Deps[StageRepairPrefix+family], &cand); err != nil {
			return nil, fmt.Errorf("%w: patch candidate: %v", ErrParse, err)
		}
		var sel validate.Selection
		if err := json.Unmarshal(in.Deps[selectStage], &sel); err != nil {
			return nil, fmt.Errorf("%w: test selection: %v", ErrParse, err)
		}

		verdict := &validate.Verdict{Issue: in.Issue, Family: family, Sample: in.Sample, Suite: suite}
		switch {
		case !cand.Viable():
			verdict.ExecError = "no viable patch for this sample"
		case len(sel.Tests) == 0:
			verdict.ExecError = "empty test selection"
		default:
			got, err := d.Sandbox.RunTests(ctx, in.Issue, cand.Diff, sel)
			if err != nil {
				verdict.ExecError = err.Error()
				d.Log.Warn("sandbox execution failed", "issue", in.Issue, "family", family, "sample", in.Sample, "suite", suite, "error", err)
			} else {
				verdict.Cases = got.Cases
				verdict.ExecError = got.ExecError
			}
		}
		return json.Marshal(verdict)
	}
}

// rerankUnit gathers every family's candidates and verdicts and selects the
// issue's final patch. Families whose join came back empty are skipped; the
// unit fails only when no family produced a single candidate.
func (d *Deps) rerankUnit(variants []localize.MergeVariant) UnitFunc {
	return func(_ context.Context, in UnitInput) ([]byte, error) {
		var candidates []repair.Candidate
		var verdicts []validate.Verdict
		for _, v := range variants {
			var fam []repair.Candidate
			if err := json.Unmarshal(in.Deps[StageRepairPrefix+v.Name], &fam); err != nil {
				return nil, fmt.Errorf("%w: candidates for family %s: %v", ErrParse, v.Name, err)
			}
			candidates = append(candidates, fam...)
			for _, stage := range []string{StageRegressionRunPrefix + v.Name, StageReproductionRun + v.Name} {
				var vs []validate.Verdict
				if err := json.Unmarshal(in.Deps[stage], &vs); err != nil {
					return nil, fmt.Errorf("%w: verdicts from %s: %v", ErrParse, stage, err)
				}
				verdicts = append(verdicts, vs...)
			}
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("%w: no repair candidates in any family for %s", ErrMissingDependency, in.Issue)
		}
		selection := rerank.Rerank(in.Issue, candidates, verdicts)
		return json.Marshal(selection)
	}
}
