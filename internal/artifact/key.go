package artifact

import (
	"fmt"
	"strconv"
	"strings"
)

// NoSample marks a key that carries no sample index (one artifact per issue).
const NoSample = -1

// Key identifies one persisted artifact: (stage, issue, optional sample index).
// Keys map to a stable, sortable path form via String:
//
//	file_localization/django__django-11099
//	repair_f1/django__django-11099/sample-003
type Key struct {
	Stage  string
	Issue  string
	Sample int
}

// NewKey returns a per-issue key with no sample index.
func NewKey(stage, issue string) Key {
	return Key{Stage: stage, Issue: issue, Sample: NoSample}
}

// NewSampleKey returns a key for one sample of a sample-parallel stage.
func NewSampleKey(stage, issue string, sample int) Key {
	return Key{Stage: stage, Issue: issue, Sample: sample}
}

// String renders the sortable external form. Sample indices are zero-padded
// so lexical order matches numeric order.
func (k Key) String() string {
	if k.Sample == NoSample {
		return k.Stage + "/" + k.Issue
	}
	return fmt.Sprintf("%s/%s/sample-%03d", k.Stage, k.Issue, k.Sample)
}

// Validate rejects keys that cannot map to a store path.
func (k Key) Validate() error {
	if k.Stage == "" || k.Issue == "" {
		return fmt.Errorf("artifact key needs stage and issue: %q", k.String())
	}
	if strings.ContainsAny(k.Stage, "/\\") || strings.ContainsAny(k.Issue, "/\\") {
		return fmt.Errorf("artifact key contains path separators: %q", k.String())
	}
	if k.Sample < NoSample {
		return fmt.Errorf("artifact key has negative sample index: %q", k.String())
	}
	return nil
}

// ParseKey is the inverse of String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 2:
		k := Key{Stage: parts[0], Issue: parts[1], Sample: NoSample}
		return k, k.Validate()
	case 3:
		num, ok := strings.CutPrefix(parts[2], "sample-")
		if !ok {
			return Key{}, fmt.Errorf("malformed sample segment in key %q", s)
		}
		n, err := strconv.Atoi(num)
		if err != nil || n < 0 {
			return Key{}, fmt.Errorf("malformed sample index in key %q", s)
		}
		k := Key{Stage: parts[0], Issue: parts[1], Sample: n}
		return k, k.Validate()
	default:
		return Key{}, fmt.Errorf("malformed artifact key %q", s)
	}
}

// Prefix selects a subset of keys for List: all keys of a stage, or all keys
// of one issue within a stage. A zero Issue matches every issue.
type Prefix struct {
	Stage string
	Issue string
}

// Matches reports whether the key falls under the prefix.
func (p Prefix) Matches(k Key) bool {
	if p.Stage != "" && p.Stage != k.Stage {
		return false
	}
	if p.Issue != "" && p.Issue != k.Issue {
		return false
	}
	return true
}
