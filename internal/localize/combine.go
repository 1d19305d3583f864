package localize

import "sort"

// CombineFiles merges a model-ranked and a retrieval-ranked file list into
// one ranking by vote count. Each list contributes one vote per file from
// its top-n entries; files are ordered by vote count descending, with ties
// broken by first appearance (model list first, then retrieval), which keeps
// the merge deterministic.
func CombineFiles(modelRanked, retrievalRanked []string, topN int) []string {
	votes := make(map[string]int)
	firstSeen := make(map[string]int)
	order := 0

	record := func(paths []string) {
		for i, p := range paths {
			if topN > 0 && i >= topN {
				break
			}
			votes[p]++
			if _, seen := firstSeen[p]; !seen {
				firstSeen[p] = order
				order++
			}
		}
	}
	record(modelRanked)
	record(retrievalRanked)

	combined := make([]string, 0, len(votes))
	for p := range votes {
		combined = append(combined, p)
	}
	sort.Slice(combined, func(i, j int) bool {
		if votes[combined[i]] != votes[combined[j]] {
			return votes[combined[i]] > votes[combined[j]]
		}
		return firstSeen[combined[i]] < firstSeen[combined[j]]
	})
	return combined
}

// MergeVariant names one merged-localization flavor consumed by a repair
// family. Variants differ in which line-localization samples they union.
type MergeVariant struct {
	Name     string `yaml:"name"`
	SampleLo int    `yaml:"sample_lo"`
	SampleHi int    `yaml:"sample_hi"` // inclusive
}

// DefaultMergeVariants are the four merged-localization flavors feeding the
// four repair families: two single-sample variants and two unions.
func DefaultMergeVariants() []MergeVariant {
	return []MergeVariant{
		{Name: "f1", SampleLo: 0, SampleHi: 0},
		{Name: "f2", SampleLo: 1, SampleHi: 1},
		{Name: "f3", SampleLo: 0, SampleHi: 1},
		{Name: "f4", SampleLo: 0, SampleHi: 3},
	}
}

// MergeLines unions the line spans of the selected line-localization samples
// into a single Result. Samples are selected by their stamped sample index,
// not by slice position, so an absent middle sample cannot shift a later one
// into the wrong variant. File ranking and elements carry from the first
// selected sample; duplicate spans collapse. Returns nil when the variant
// selects no samples, which callers treat as a missing upstream artifact.
func MergeLines(issue string, samples []*Result, v MergeVariant) *Result {
	var selected []*Result
	for _, s := range samples {
		if s == nil || s.Sample < v.SampleLo || s.Sample > v.SampleHi {
			continue
		}
		selected = append(selected, s)
	}
	if len(selected) == 0 {
		return nil
	}

	merged := &Result{
		Issue:    issue,
		Files:    selected[0].Files,
		Elements: selected[0].Elements,
	}
	seen := make(map[LineSpan]bool)
	for _, s := range selected {
		for _, span := range s.Lines {
			if seen[span] {
				continue
			}
			seen[span] = true
			merged.Lines = append(merged.Lines, span)
		}
	}
	sort.Slice(merged.Lines, func(i, j int) bool {
		a, b := merged.Lines[i], merged.Lines[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})
	return merged
}
