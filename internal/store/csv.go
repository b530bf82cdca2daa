package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"inreach/internal/logging"
	"inreach/internal/types"
)

// Column headers of the spreadsheet export.
const (
	ColName        = "Name"
	ColCompany     = "Company Name"
	ColURL         = "Linkedin URL"
	ColStatus      = "Status"
	ColDelivered   = "Delivered"
	ColAttemptedAt = "Attempted At"
)

// CSVStore reads and rewrites a CSV file. Columns it does not know about
// are preserved.
type CSVStore struct {
	path string

	mu      sync.Mutex
	header  []string
	cols    map[string]int
	records [][]string
	loaded  bool
}

// OpenCSV opens a CSV store. The file is read on Load.
func OpenCSV(path string) (*CSVStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, errors.Join(types.ErrStoreLoad, err))
	}
	return &CSVStore{path: path}, nil
}

// Load implements ProfileStore.
func (s *CSVStore) Load(ctx context.Context) ([]types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryStore, "load csv")
	defer timer.Stop()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, errors.Join(types.ErrStoreLoad, err))
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, errors.Join(types.ErrStoreLoad, err))
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s has no header row: %w", s.path, types.ErrStoreLoad)
	}

	s.header = rows[0]
	if len(s.header) > 0 {
		s.header[0] = strings.TrimPrefix(s.header[0], "\ufeff")
	}
	s.cols = make(map[string]int, len(s.header))
	for i, h := range s.header {
		s.cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := s.col(ColURL); !ok {
		return nil, fmt.Errorf("%s: missing %q column: %w", s.path, ColURL, types.ErrStoreLoad)
	}
	for _, name := range []string{ColStatus, ColDelivered, ColAttemptedAt} {
		if _, ok := s.col(name); !ok {
			s.cols[strings.ToLower(name)] = len(s.header)
			s.header = append(s.header, name)
		}
	}
	s.records = rows[1:]
	s.loaded = true

	profiles := make([]types.Profile, 0, len(s.records))
	for i, rec := range s.records {
		url := strings.TrimSpace(s.get(rec, ColURL))
		status := strings.TrimSpace(s.get(rec, ColStatus))
		profiles = append(profiles, types.Profile{
			Identifier:      ExtractIdentifier(url),
			DisplayName:     strings.TrimSpace(s.get(rec, ColName)),
			Organization:    strings.TrimSpace(s.get(rec, ColCompany)),
			ProfileURL:      CanonicalURL(url),
			StoredStatus:    status,
			Relationship:    types.StatusUnknown,
			Outcome:         types.ParseOutcome(status),
			LastAttemptedAt: parseTime(s.get(rec, ColAttemptedAt)),
			Row:             i,
		})
	}
	logging.Store("loaded %d rows from %s", len(profiles), s.path)
	return profiles, nil
}

// Record implements ProfileStore. The whole file is rewritten atomically.
func (s *CSVStore) Record(ctx context.Context, p types.Profile, o types.Outcome, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return fmt.Errorf("record before load: %w", types.ErrStoreWrite)
	}
	if p.Row < 0 || p.Row >= len(s.records) {
		return fmt.Errorf("row %d out of range: %w", p.Row, types.ErrStoreWrite)
	}

	rec := s.records[p.Row]
	for len(rec) < len(s.header) {
		rec = append(rec, "")
	}
	rec[s.cols[strings.ToLower(ColStatus)]] = o.String()
	rec[s.cols[strings.ToLower(ColAttemptedAt)]] = formatTime(at)
	if _, ok := o.Action(); ok {
		rec[s.cols[strings.ToLower(ColDelivered)]] = formatTime(at)
	}
	s.records[p.Row] = rec

	if err := s.flush(); err != nil {
		return fmt.Errorf("write %s: %w", s.path, errors.Join(types.ErrStoreWrite, err))
	}
	logging.StoreDebug("row %d (%s) -> %s", p.Row, p.Identifier, o)
	return nil
}

func (s *CSVStore) flush() error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".inreach-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(s.header); err != nil {
		tmp.Close()
		return err
	}
	for _, rec := range s.records {
		for len(rec) < len(s.header) {
			rec = append(rec, "")
		}
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Close implements ProfileStore.
func (s *CSVStore) Close() error {
	return nil
}

func (s *CSVStore) col(name string) (int, bool) {
	i, ok := s.cols[strings.ToLower(name)]
	return i, ok
}

func (s *CSVStore) get(rec []string, name string) string {
	i, ok := s.col(name)
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}
