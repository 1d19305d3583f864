// Package artifact is the append-only record store every pipeline stage reads
// and writes through. Artifacts are keyed by (stage, issue, optional sample)
// and write-once: a second write to the same key fails with ErrConflict unless
// the caller asks for an overwrite. Skip-existing resumption is built on
// Exists checks against this store.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by Read for a key that has never been written.
var ErrNotFound = errors.New("artifact not found")

// ErrConflict is returned by Write when the key already holds a payload and
// overwrite was not requested. Two units legitimately never write the same
// key, so a conflict is a logic error upstream, not something to retry.
var ErrConflict = errors.New("artifact already exists")

// Store is the sole cross-stage communication mechanism.
type Store interface {
	Exists(key Key) (bool, error)
	Read(key Key) ([]byte, error)
	// Write persists the payload under key. With overwrite false the write
	// fails with ErrConflict if the key is already populated.
	Write(key Key, payload []byte, overwrite bool) error
	// List returns all keys under the prefix in sorted String order.
	List(prefix Prefix) ([]Key, error)
}

// ReadJSON reads and decodes a typed artifact. Returns (nil, nil) when the
// key has never been written, mirroring the read-or-absent checks stages do.
func ReadJSON[T any](s Store, key Key) (*T, error) {
	data, err := s.Read(key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", key, err)
	}
	return &out, nil
}

// WriteJSON encodes and persists a typed artifact.
func WriteJSON(s Store, key Key, v any, overwrite bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", key, err)
	}
	return s.Write(key, data, overwrite)
}

// MemStore is an in-memory Store for tests and dry runs.
type MemStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string][]byte)}
}

func (m *MemStore) Exists(key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[key.String()]
	return ok, nil
}

func (m *MemStore) Read(key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[key.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemStore) Write(key Key, payload []byte, overwrite bool) error {
	if err := key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ks := key.String()
	if _, ok := m.records[ks]; ok && !overwrite {
		return fmt.Errorf("%w: %s", ErrConflict, key)
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)
	m.records[ks] = stored
	return nil
}

func (m *MemStore) List(prefix Prefix) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []Key
	for ks := range m.records {
		k, err := ParseKey(ks)
		if err != nil {
			continue
		}
		if prefix.Matches(k) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}
