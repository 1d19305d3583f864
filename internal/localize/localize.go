// Package localize models fault-localization results: ranked candidate
// files for an issue, with element- and line-level candidates nested under
// them. Ordering is rank-significant; index 0 is the top candidate.
package localize

import "fmt"

// RankedFile is one candidate file with its rank position (0 = best).
// Confidence is optional; retrieval-based localizers report a similarity
// score, model-based ones usually only an ordering.
type RankedFile struct {
	Path       string  `json:"path"`
	Rank       int     `json:"rank"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Element is a finer-grained candidate (function, method, class) inside one
// of the ranked files.
type Element struct {
	File string `json:"file"`
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// LineSpan is a candidate edit region inside one of the ranked files.
type LineSpan struct {
	File  string `json:"file"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Result is the full localization artifact for one issue. Sample-parallel
// stages stamp the sample index so consumers can address samples by number
// even when some sample artifacts are absent.
type Result struct {
	Issue    string       `json:"issue"`
	Sample   int          `json:"sample,omitempty"`
	Files    []RankedFile `json:"files"`
	Elements []Element    `json:"elements,omitempty"`
	Lines    []LineSpan   `json:"lines,omitempty"`
}

// Validate enforces the nesting invariant: every element- and line-level
// entry must reference a file present in the file-level ranking.
func (r *Result) Validate() error {
	known := make(map[string]bool, len(r.Files))
	for _, f := range r.Files {
		known[f.Path] = true
	}
	for _, e := range r.Elements {
		if !known[e.File] {
			return fmt.Errorf("issue %s: element %s references file %s absent from file ranking", r.Issue, e.Name, e.File)
		}
	}
	for _, l := range r.Lines {
		if !known[l.File] {
			return fmt.Errorf("issue %s: line span %d-%d references file %s absent from file ranking", r.Issue, l.Start, l.End, l.File)
		}
	}
	return nil
}

// FileRanking returns ranked files built from an ordered path list.
func FileRanking(issue string, paths []string) *Result {
	files := make([]RankedFile, len(paths))
	for i, p := range paths {
		files[i] = RankedFile{Path: p, Rank: i}
	}
	return &Result{Issue: issue, Files: files}
}

// Paths returns the ranked file paths in order.
func (r *Result) Paths() []string {
	paths := make([]string, len(r.Files))
	for i, f := range r.Files {
		paths[i] = f.Path
	}
	return paths
}
