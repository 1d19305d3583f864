// Package repair models patch candidates produced by the sample-parallel
// repair stages. Candidates are immutable once written; one exists per
// (issue, family, sample index).
package repair

// Candidate is one LLM-generated patch attempt.
type Candidate struct {
	Issue       string  `json:"issue"`
	Family      string  `json:"family"`
	Sample      int     `json:"sample"`
	Diff        string  `json:"diff"`
	Backend     string  `json:"backend"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	// ParseFailed records a sample whose completion did not yield a diff.
	// The artifact is still written so a resumed run does not re-spend the
	// sample; the candidate contributes nothing downstream.
	ParseFailed bool `json:"parse_failed,omitempty"`
}

// Viable reports whether the candidate can enter validation and reranking.
func (c *Candidate) Viable() bool {
	return !c.ParseFailed && c.Diff != ""
}

// SampleTemperature returns the sampling temperature for a sample index:
// sample 0 is greedy, later samples use the configured temperature.
func SampleTemperature(sample int, configured float64) float64 {
	if sample == 0 {
		return 0
	}
	return configured
}
