package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultBasePath is the default root directory for pipeline artifacts.
const DefaultBasePath = ".mend/artifacts"

const payloadExt = ".json"

// FSStore persists artifacts as JSON files under a base directory:
//
//	{base}/{stage}/{issue}.json
//	{base}/{stage}/{issue}/sample-003.json
//
// Write-once semantics use O_EXCL so concurrent writers racing on the same
// key surface ErrConflict instead of silently clobbering each other.
type FSStore struct {
	base string
}

// NewFSStore creates the base directory if needed and returns the store.
func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = DefaultBasePath
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FSStore{base: base}, nil
}

// Base returns the root directory of the store.
func (f *FSStore) Base() string { return f.base }

func (f *FSStore) path(k Key) string {
	if k.Sample == NoSample {
		return filepath.Join(f.base, k.Stage, k.Issue+payloadExt)
	}
	return filepath.Join(f.base, k.Stage, k.Issue, fmt.Sprintf("sample-%03d%s", k.Sample, payloadExt))
}

func (f *FSStore) Exists(key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	_, err := os.Stat(f.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat artifact %s: %w", key, err)
}

func (f *FSStore) Read(key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return data, nil
}

func (f *FSStore) Write(key Key, payload []byte, overwrite bool) error {
	if err := key.Validate(); err != nil {
		return err
	}
	path := f.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create artifact dir for %s: %w", key, err)
	}

	if overwrite {
		if err := os.WriteFile(path, payload, 0644); err != nil {
			return fmt.Errorf("write artifact %s: %w", key, err)
		}
		return nil
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrConflict, key)
		}
		return fmt.Errorf("create artifact %s: %w", key, err)
	}
	defer file.Close()
	if _, err := file.Write(payload); err != nil {
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	return nil
}

func (f *FSStore) List(prefix Prefix) ([]Key, error) {
	var keys []Key

	stages, err := f.stageDirs(prefix.Stage)
	if err != nil {
		return nil, err
	}
	for _, stage := range stages {
		stageDir := filepath.Join(f.base, stage)
		entries, err := os.ReadDir(stageDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("list stage %s: %w", stage, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				issue, ok := strings.CutSuffix(e.Name(), payloadExt)
				if !ok {
					continue
				}
				k := NewKey(stage, issue)
				if prefix.Matches(k) {
					keys = append(keys, k)
				}
				continue
			}
			// Sample-parallel stage: one directory per issue.
			issue := e.Name()
			if prefix.Issue != "" && prefix.Issue != issue {
				continue
			}
			samples, err := os.ReadDir(filepath.Join(stageDir, issue))
			if err != nil {
				return nil, fmt.Errorf("list samples for %s/%s: %w", stage, issue, err)
			}
			for _, s := range samples {
				name, ok := strings.CutSuffix(s.Name(), payloadExt)
				if !ok {
					continue
				}
				num, ok := strings.CutPrefix(name, "sample-")
				if !ok {
					continue
				}
				n, err := strconv.Atoi(num)
				if err != nil {
					continue
				}
				keys = append(keys, NewSampleKey(stage, issue, n))
			}
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// stageDirs returns the stage directories to scan: the named one, or all.
func (f *FSStore) stageDirs(stage string) ([]string, error) {
	if stage != "" {
		return []string{stage}, nil
	}
	entries, err := os.ReadDir(f.base)
	if err != nil {
		return nil, fmt.Errorf("list artifact root: %w", err)
	}
	var stages []string
	for _, e := range entries {
		if e.IsDir() {
			stages = append(stages, e.Name())
		}
	}
	return stages, nil
}
