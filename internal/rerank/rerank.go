package rerank

import (
	"sort"

	"mend/internal/repair"
	"mend/internal/validate"
)

// Cluster groups candidates whose diffs share a fingerprint. The
// representative is the member with the lowest (family, sample) position;
// its verdicts score the whole cluster.
type Cluster struct {
	Fingerprint    string             `json:"fingerprint"`
	Representative repair.Candidate   `json:"representative"`
	Members        []repair.Candidate `json:"members"`
}

// Size returns the number of agreeing candidates in the cluster.
func (c *Cluster) Size() int { return len(c.Members) }

// MinSample returns the lowest sample index among members, the deterministic
// tie-break of last resort.
func (c *Cluster) MinSample() int {
	min := c.Members[0].Sample
	for _, m := range c.Members[1:] {
		if m.Sample < min {
			min = m.Sample
		}
	}
	return min
}

// Score is the evidence breakdown attached to a selection.
type Score struct {
	ReproductionPassed int `json:"reproduction_passed"`
	RegressionPassed   int `json:"regression_passed"`
	ClusterSize        int `json:"cluster_size"`
	MinSample          int `json:"min_sample"`
}

// Selection is the final per-issue output: the chosen patch with its score,
// or an explicit NoPatch when no candidate was viable.
type Selection struct {
	Issue     string            `json:"issue"`
	NoPatch   bool              `json:"no_patch,omitempty"`
	Candidate *repair.Candidate `json:"candidate,omitempty"`
	Score     Score             `json:"score"`
	Clusters  int               `json:"clusters"`
}

// verdictKey locates the verdict attached to one (candidate, suite) pair.
type verdictKey struct {
	family string
	sample int
	suite  validate.Suite
}

// ClusterCandidates deduplicates viable candidates by diff fingerprint.
// Candidates are ordered by (family, sample) first so membership, cluster
// order, and representatives never depend on input order.
func ClusterCandidates(candidates []repair.Candidate) []Cluster {
	ordered := make([]repair.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Viable() {
			ordered = append(ordered, c)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Family != ordered[j].Family {
			return ordered[i].Family < ordered[j].Family
		}
		return ordered[i].Sample < ordered[j].Sample
	})

	index := make(map[string]int)
	var clusters []Cluster
	for _, c := range ordered {
		fp := Fingerprint(c.Diff)
		i, ok := index[fp]
		if !ok {
			index[fp] = len(clusters)
			clusters = append(clusters, Cluster{Fingerprint: fp, Representative: c})
			i = len(clusters) - 1
		}
		clusters[i].Members = append(clusters[i].Members, c)
	}
	return clusters
}

// Rerank picks one patch for the issue. Clusters are ranked by reproduction
// passes, then regression passes, then cluster size (model agreement), then
// lowest sample index; the representative's family and the fingerprint close
// any remaining gap so the result is a pure function of its inputs.
func Rerank(issue string, candidates []repair.Candidate, verdicts []validate.Verdict) *Selection {
	clusters := ClusterCandidates(candidates)
	if len(clusters) == 0 {
		return &Selection{Issue: issue, NoPatch: true}
	}

	byKey := make(map[verdictKey]*validate.Verdict, len(verdicts))
	for i := range verdicts {
		v := &verdicts[i]
		byKey[verdictKey{v.Family, v.Sample, v.Suite}] = v
	}
	passed := func(c repair.Candidate, suite validate.Suite) int {
		// Inconclusive verdicts and missing verdicts contribute zero;
		// an execution error is not evidence against the patch.
		if v, ok := byKey[verdictKey{c.Family, c.Sample, suite}]; ok {
			return v.Passed()
		}
		return 0
	}

	scores := make([]Score, len(clusters))
	for i := range clusters {
		rep := clusters[i].Representative
		scores[i] = Score{
			ReproductionPassed: passed(rep, validate.SuiteReproduction),
			RegressionPassed:   passed(rep, validate.SuiteRegression),
			ClusterSize:        clusters[i].Size(),
			MinSample:          clusters[i].MinSample(),
		}
	}

	best := 0
	for i := 1; i < len(clusters); i++ {
		if betterThan(scores[i], clusters[i], scores[best], clusters[best]) {
			best = i
		}
	}

	winner := clusters[best].Representative
	return &Selection{
		Issue:     issue,
		Candidate: &winner,
		Score:     scores[best],
		Clusters:  len(clusters),
	}
}

// betterThan is the full cluster ordering.
func betterThan(a Score, ca Cluster, b Score, cb Cluster) bool {
	if a.ReproductionPassed != b.ReproductionPassed {
		return a.ReproductionPassed > b.ReproductionPassed
	}
	if a.RegressionPassed != b.RegressionPassed {
		return a.RegressionPassed > b.RegressionPassed
	}
	if a.ClusterSize != b.ClusterSize {
		return a.ClusterSize > b.ClusterSize
	}
	if a.MinSample != b.MinSample {
		return a.MinSample < b.MinSample
	}
	if ca.Representative.Family != cb.Representative.Family {
		return ca.Representative.Family < cb.Representative.Family
	}
	return ca.Fingerprint < cb.Fingerprint
}
