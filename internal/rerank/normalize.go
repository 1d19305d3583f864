// Package rerank selects one patch per issue from many candidates by
// structural deduplication and test-evidence scoring. Dedup is insensitive
// to cosmetic diff differences: surrounding whitespace, context lines, and
// hunk ordering never separate two candidates with the same edits.
package rerank

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint reduces a unified diff to a stable digest of its changed
// content. Two diffs with identical changed lines (after whitespace
// normalization) produce the same fingerprint regardless of context lines,
// hunk headers, or hunk order.
func Fingerprint(diff string) string {
	hunks := normalizedHunks(diff)
	sort.Strings(hunks)
	h := sha256.New()
	for _, hunk := range hunks {
		h.Write([]byte(hunk))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalizedHunks extracts one normalized string per hunk, prefixed by the
// target file so identical edits to different files stay distinct.
func normalizedHunks(diff string) []string {
	var hunks []string
	var current []string
	file := ""

	flush := func() {
		if len(current) > 0 {
			hunks = append(hunks, file+"\n"+strings.Join(current, "\n"))
			current = nil
		}
	}

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git "), strings.HasPrefix(line, "Index: "):
			flush()
		case strings.HasPrefix(line, "--- "):
			// old-file header, carries no edit content
		case strings.HasPrefix(line, "+++ "):
			flush()
			file = strings.TrimPrefix(line, "+++ ")
			file = strings.TrimPrefix(file, "b/")
			if i := strings.IndexByte(file, '\t'); i >= 0 {
				file = file[:i]
			}
		case strings.HasPrefix(line, "@@"):
			flush()
		case strings.HasPrefix(line, "+"):
			current = append(current, "+"+normalizeLine(line[1:]))
		case strings.HasPrefix(line, "-"):
			current = append(current, "-"+normalizeLine(line[1:]))
			// context lines are ignored
		}
	}
	flush()
	return hunks
}

// normalizeLine trims surrounding whitespace and collapses internal runs to
// a single space.
func normalizeLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
