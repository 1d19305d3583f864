// Package wiring assembles a configured run: backend gateway, benchmark
// collaborators, artifact store, pipeline graph, and the run-record ledger.
// The CLI commands call into here; nothing below this package reads config.
package wiring

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"mend/internal/artifact"
	"mend/internal/backend"
	"mend/internal/bench"
	"mend/internal/config"
	"mend/internal/logging"
	"mend/internal/pipeline"
	"mend/internal/store"
)

// Session is one fully assembled run invocation. Close releases the run
// ledger; artifacts stay on disk for resume.
type Session struct {
	Cfg          *config.Config
	Artifacts    artifact.Store
	Runs         store.Store
	Graph        *pipeline.Graph
	Runner       *pipeline.Runner
	Orchestrator *pipeline.Orchestrator

	log *slog.Logger
}

// NewSession builds every collaborator from the validated configuration.
func NewSession(cfg *config.Config, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = logging.Discard()
	}

	client, err := backend.NewClient(cfg.Backend, cfg.Credentials(os.Getenv))
	if err != nil {
		return nil, err
	}
	gateway := backend.NewGateway(client, backend.Options{
		MaxInFlight: cfg.LLMWorkers,
		Logger:      logging.New("backend"),
	})

	snapshots, err := bench.NewFSSnapshots(cfg.BenchRoot)
	if err != nil {
		return nil, err
	}
	codecs, err := bench.NewCodecSet(cfg.PromptDir, snapshots)
	if err != nil {
		return nil, err
	}

	graph, err := pipeline.BuildGraph(pipeline.Deps{
		Gateway:   gateway,
		Sandbox:   &bench.CommandSandbox{Command: cfg.TestCommand, Snapshots: snapshots},
		Snapshots: snapshots,
		Retriever: &bench.LexicalRetriever{Snapshots: snapshots},
		Codecs:    codecs,
		Params: pipeline.Params{
			Backend:     cfg.Backend,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			LocSamples:  cfg.LocSamples,
			MaxSamples:  cfg.MaxSamples,
			TopN:        cfg.TopN,
		},
		Log: logging.New("pipeline"),
	})
	if err != nil {
		return nil, err
	}

	artifacts, err := artifact.NewFSStore(cfg.ArtifactDir)
	if err != nil {
		return nil, err
	}
	runner := pipeline.NewRunner(artifacts, pipeline.RunnerOptions{
		SkipExisting: cfg.SkipExisting,
		Overwrite:    cfg.Overwrite,
		WorkerLimits: map[pipeline.WorkerClass]int{
			pipeline.WorkersLLM:     cfg.LLMWorkers,
			pipeline.WorkersSandbox: cfg.SandboxWorkers,
		},
		Logger: logging.New("runner"),
	})

	runs, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	return &Session{
		Cfg:          cfg,
		Artifacts:    artifacts,
		Runs:         runs,
		Graph:        graph,
		Runner:       runner,
		Orchestrator: pipeline.NewOrchestrator(graph, runner, artifacts, logging.New("orchestrate")),
		log:          log,
	}, nil
}

// RunStage executes one named stage for the configured issues against the
// existing artifact tree. Used to recompute part of a finished run.
func (s *Session) RunStage(ctx context.Context, name string) (*pipeline.StageReport, error) {
	stage, ok := s.Graph.Stage(name)
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", name)
	}
	return s.Runner.Run(ctx, stage, s.Cfg.TargetIDs)
}

// Execute drives the full pipeline for the configured issues, recording the
// run and its per-issue outcomes in the ledger. The report is returned even
// when a fatal error aborts the run partway.
func (s *Session) Execute(ctx context.Context) (*pipeline.Report, error) {
	run := &store.Run{
		ID:        uuid.NewString(),
		Scenario:  s.Cfg.Scenario,
		Backend:   s.Cfg.Backend,
		Model:     s.Cfg.Model,
		StartedAt: time.Now().UTC(),
		Status:    "running",
	}
	if err := s.Runs.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	s.log.Info("run started", "run", run.ID, "scenario", run.Scenario, "backend", run.Backend, "model", run.Model, "issues", len(s.Cfg.TargetIDs))

	report, execErr := s.Orchestrator.Execute(ctx, s.Cfg.TargetIDs)

	status := "fatal"
	if execErr == nil {
		status = "incomplete"
		if report.Complete() {
			status = "complete"
		}
	}
	if report != nil {
		for _, outcome := range report.Issues {
			rec := &store.IssueRecord{
				RunID:  run.ID,
				Issue:  outcome.Issue,
				Status: string(outcome.Status),
				Stage:  outcome.Stage,
				Reason: string(outcome.Reason),
			}
			if outcome.Selection != nil {
				rec.ReproductionPassed = outcome.Selection.Score.ReproductionPassed
				rec.RegressionPassed = outcome.Selection.Score.RegressionPassed
				rec.ClusterSize = outcome.Selection.Score.ClusterSize
			}
			if err := s.Runs.SaveIssueRecord(rec); err != nil {
				s.log.Warn("save issue record", "run", run.ID, "issue", outcome.Issue, "error", err)
			}
		}
	}
	if err := s.Runs.FinishRun(run.ID, status); err != nil {
		s.log.Warn("finish run record", "run", run.ID, "error", err)
	}
	s.log.Info("run finished", "run", run.ID, "status", status)
	return report, execErr
}

// Close releases the run ledger.
func (s *Session) Close() error {
	return s.Runs.Close()
}
