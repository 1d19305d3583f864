package pipeline

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"
)

// WorkerClass selects which concurrency ceiling a stage's units run under.
type WorkerClass string

const (
	// WorkersLLM is sized to the backend provider's rate limit.
	WorkersLLM WorkerClass = "llm"
	// WorkersSandbox is sized to the available test-execution sandboxes.
	WorkersSandbox WorkerClass = "sandbox"
	// WorkersLocal is for cheap deterministic stages (combine, merge, rerank).
	WorkersLocal WorkerClass = "local"
)

// Dep is one upstream requirement of a stage. PerSample deps resolve against
// the unit's own sample index; AllSamples deps collect every persisted sample
// of the upstream stage into one JSON array; otherwise the issue-level
// artifact is used.
//
// Optional deps tolerate absence: an AllSamples dep with zero persisted
// samples resolves to an empty array and a plain or PerSample dep is simply
// omitted, instead of failing the unit with a missing dependency. Optional
// edges also do not propagate issue exclusion, so a reconvergence stage still
// runs when only some of its upstream branches survived.
type Dep struct {
	Stage      string `yaml:"stage"`
	PerSample  bool   `yaml:"per_sample,omitempty"`
	AllSamples bool   `yaml:"all_samples,omitempty"`
	Optional   bool   `yaml:"optional,omitempty"`
}

// UnitInput is everything a unit function receives: resolved upstream
// artifact payloads keyed by stage name, plus the unit's identity.
type UnitInput struct {
	Issue  string
	Sample int
	Deps   map[string][]byte
}

// UnitFunc computes one unit's artifact payload. Errors wrap the sentinel
// errors in this package (or a backend.Error) so outcomes can be classified.
type UnitFunc func(ctx context.Context, in UnitInput) ([]byte, error)

// Stage is one node of the fixed pipeline DAG.
type Stage struct {
	Name string `yaml:"name"`
	// Family tags the four parameterized repair/validation branches; empty
	// for shared stages.
	Family string `yaml:"family,omitempty"`
	Needs  []Dep  `yaml:"needs,omitempty"`
	// Samples > 0 fans the stage out into one unit per sample index.
	Samples int         `yaml:"samples,omitempty"`
	Workers WorkerClass `yaml:"workers"`
	Run     UnitFunc    `yaml:"-"`
}

// Graph is the validated stage DAG in topological order.
type Graph struct {
	Stages []Stage
	byName map[string]int
}

// NewGraph validates the stage list and returns it as a graph. Stage
// declaration order must already be topological; this keeps the fixed DAG
// readable as a linear script while the validator catches drift.
func NewGraph(stages []Stage) (*Graph, error) {
	g := &Graph{Stages: stages, byName: make(map[string]int, len(stages))}
	for i, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if _, dup := g.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", s.Name)
		}
		if s.Run == nil {
			return nil, fmt.Errorf("stage %q has no unit function", s.Name)
		}
		for _, d := range s.Needs {
			j, ok := g.byName[d.Stage]
			if !ok {
				return nil, fmt.Errorf("stage %q needs %q, which is undeclared or declared later", s.Name, d.Stage)
			}
			if (d.PerSample || d.AllSamples) && g.Stages[j].Samples == 0 {
				return nil, fmt.Errorf("stage %q takes a sample dep on %q, which is not sample-parallel", s.Name, d.Stage)
			}
		}
		g.byName[s.Name] = i
	}
	return g, nil
}

// Stage returns the named stage.
func (g *Graph) Stage(name string) (*Stage, bool) {
	i, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return &g.Stages[i], true
}

// Downstream returns the names of all stages that (transitively) depend on
// the named stage through required deps. Used to scope per-issue exclusion
// after a failure; optional edges are not followed, so a stage that tolerates
// a missing branch is not barred when that branch fails.
func (g *Graph) Downstream(name string) map[string]bool {
	affected := map[string]bool{}
	for _, s := range g.Stages {
		for _, d := range s.Needs {
			if d.Optional {
				continue
			}
			if d.Stage == name || affected[d.Stage] {
				affected[s.Name] = true
				break
			}
		}
	}
	return affected
}

// MarshalYAML renders the graph definition (without unit closures) for
// inspection by the status command.
func (g *Graph) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(struct {
		Pipeline string  `yaml:"pipeline"`
		Stages   []Stage `yaml:"stages"`
	}{Pipeline: "mend-repair", Stages: g.Stages})
}
