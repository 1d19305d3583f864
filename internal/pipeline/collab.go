package pipeline

import "context"

// PromptCodec is the per-stage prompt/response collaborator. Produce builds
// the prompt from the issue and its resolved upstream artifacts; Parse turns
// the raw completion into the stage's structured artifact payload. A Parse
// failure is reported by wrapping ErrParse.
type PromptCodec interface {
	Produce(issue string, deps map[string][]byte) (string, error)
	Parse(completion string) ([]byte, error)
}

// SnapshotProvider exposes the benchmark's repository snapshots read-only.
// Localization stages consume the file-tree artifact it returns.
type SnapshotProvider interface {
	RepoStructure(ctx context.Context, issue string) ([]byte, error)
}

// Retriever is the embedding-based localization collaborator: it returns the
// top-n repository files ranked by similarity to the issue report.
type Retriever interface {
	Retrieve(ctx context.Context, issue string, topN int) ([]string, error)
}
