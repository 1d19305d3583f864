package bench

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LexicalRetriever ranks snapshot files by token overlap with the issue
// report. It stands in for the embedding-based retrieval service in local
// setups; the interface it implements is the contract, not the scoring.
type LexicalRetriever struct {
	Snapshots *FSSnapshots
	// Extensions restricts scoring to source files. Empty means ".py".
	Extensions []string
}

func (r *LexicalRetriever) extensions() map[string]bool {
	exts := r.Extensions
	if len(exts) == 0 {
		exts = []string{".py"}
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[e] = true
	}
	return set
}

// Retrieve returns the topN files most similar to the issue report.
// Ordering is deterministic: score descending, then path ascending.
func (r *LexicalRetriever) Retrieve(ctx context.Context, issue string, topN int) ([]string, error) {
	report, err := r.Snapshots.IssueReport(issue)
	if err != nil {
		return nil, err
	}
	query := tokenize(report)
	if len(query) == 0 {
		return nil, fmt.Errorf("issue report for %s has no usable tokens", issue)
	}

	root := r.Snapshots.RepoDir(issue)
	exts := r.extensions()

	type scored struct {
		path  string
		score int
	}
	var candidates []scored

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
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
		if !exts[filepath.Ext(path)] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		score := overlapScore(path, rel, query)
		if score > 0 {
			candidates = append(candidates, scored{path: rel, score: score})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan snapshot for %s: %w", issue, err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].path < candidates[j].path
	})

	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}
	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.path
	}
	return paths, nil
}

// overlapScore counts distinct query tokens present in the file. Path
// components count double: a file named like the report is a strong signal.
func overlapScore(absPath, relPath string, query map[string]bool) int {
	score := 0
	for _, tok := range strings.FieldsFunc(strings.ToLower(relPath), isSeparator) {
		if query[tok] {
			score += 2
		}
	}

	file, err := os.Open(absPath)
	if err != nil {
		return score
	}
	defer file.Close()

	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		for _, tok := range strings.FieldsFunc(strings.ToLower(scanner.Text()), isSeparator) {
			if query[tok] && !seen[tok] {
				seen[tok] = true
				score++
			}
		}
	}
	return score
}

// tokenize lowercases and splits text into a token set, dropping short
// tokens that carry no signal.
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		if len(tok) >= 3 {
			tokens[tok] = true
		}
	}
	return tokens
}

func isSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
}
