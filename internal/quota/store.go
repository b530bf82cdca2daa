// Package quota enforces the daily send limit.
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"inreach/internal/types"
)

// Store persists the quota record. Implementations must make Persist durable
// before returning.
type Store interface {
	Load(ctx context.Context) (types.QuotaRecord, error)
	Persist(ctx context.Context, rec types.QuotaRecord) error
}

// FileStore keeps the record as a small JSON document.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the record. A missing file is an empty record.
func (s *FileStore) Load(ctx context.Context) (types.QuotaRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return types.QuotaRecord{}, nil
	}
	if err != nil {
		return types.QuotaRecord{}, fmt.Errorf("read quota file: %w", err)
	}
	var rec types.QuotaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.QuotaRecord{}, fmt.Errorf("parse quota file %s: %w", s.path, err)
	}
	return rec, nil
}

// Persist writes the record atomically via a temp file and rename.
func (s *FileStore) Persist(ctx context.Context, rec types.QuotaRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create quota directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal quota: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".quota-*.json")
	if err != nil {
		return fmt.Errorf("create temp quota file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write quota: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync quota: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close quota: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace quota file: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	rec      types.QuotaRecord
	persists int
	err      error
}

// NewMemoryStore returns a MemoryStore seeded with rec.
func NewMemoryStore(rec types.QuotaRecord) *MemoryStore {
	return &MemoryStore{rec: rec}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context) (types.QuotaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec, nil
}

// Persist implements Store.
func (m *MemoryStore) Persist(ctx context.Context, rec types.QuotaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rec = rec
	m.persists++
	return nil
}

// FailPersist makes subsequent Persist calls fail with err.
func (m *MemoryStore) FailPersist(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Record returns the stored record.
func (m *MemoryStore) Record() types.QuotaRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// Persists returns how many writes succeeded.
func (m *MemoryStore) Persists() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persists
}
