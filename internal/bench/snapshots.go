// Package bench adapts a local benchmark checkout to the collaborator
// interfaces the pipeline consumes: repository snapshots, lexical retrieval,
// sandboxed test execution, and the default prompt codecs. Layout on disk:
//
//	{root}/{issue}/issue.md   the defect report
//	{root}/{issue}/repo/      the repository snapshot at the base commit
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSSnapshots reads issue reports and repository snapshots from a local
// benchmark directory. Read-only.
type FSSnapshots struct {
	Root string
}

// NewFSSnapshots validates the root and returns the provider.
func NewFSSnapshots(root string) (*FSSnapshots, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("benchmark root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("benchmark root %s is not a directory", root)
	}
	return &FSSnapshots{Root: root}, nil
}

// RepoDir returns the snapshot directory for an issue.
func (s *FSSnapshots) RepoDir(issue string) string {
	return filepath.Join(s.Root, issue, "repo")
}

// RepoStructure walks the issue's snapshot and returns the file tree as a
// JSON array of slash-separated relative paths, sorted by the walk order.
func (s *FSSnapshots) RepoStructure(ctx context.Context, issue string) ([]byte, error) {
	root := s.RepoDir(issue)
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk snapshot for %s: %w", issue, err)
	}
	return json.Marshal(paths)
}

// IssueReport returns the defect report text for an issue.
func (s *FSSnapshots) IssueReport(issue string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.Root, issue, "issue.md"))
	if err != nil {
		return "", fmt.Errorf("read issue report for %s: %w", issue, err)
	}
	return strings.TrimSpace(string(data)), nil
}
