package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"signal_trader/internal/core"
)

// Store persists and restores the global state snapshot.
type Store interface {
	Save(ctx context.Context, st *GlobalState) error
	Load(ctx context.Context) (*GlobalState, error)
}

// FileStore writes the state as a single JSON file. Writes go to a temp file
// in the same directory followed by an atomic rename, so the snapshot on disk
// is always a complete document.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(ctx context.Context, st *GlobalState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context) (*GlobalState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	st := New()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", filepath.Base(s.path), err)
	}
	if st.OpenTrades == nil {
		st.OpenTrades = make(map[string]*core.Trade)
	}
	if st.DailyCounts == nil {
		st.DailyCounts = make(map[string]int)
	}
	return st, nil
}

// MemoryStore keeps the snapshot in memory as marshalled JSON, so loads
// return an independent copy. Used in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(ctx context.Context, st *GlobalState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) (*GlobalState, error) {
	s.mu.RLock()
	data := s.data
	s.mu.RUnlock()

	if data == nil {
		return New(), nil
	}
	st := New()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, err
	}
	return st, nil
}
