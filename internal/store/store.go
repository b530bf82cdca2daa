// Package store adapts the external profile table: a CSV spreadsheet export
// or a SQLite database. Both read every row in source order and write one
// row's outcome back immediately after each attempt.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"inreach/internal/types"
)

// ProfileStore supplies profiles and records outcomes.
type ProfileStore interface {
	// Load returns every row in source order. Errors wrap types.ErrStoreLoad.
	Load(ctx context.Context) ([]types.Profile, error)
	// Record persists the terminal outcome of one attempt before returning.
	// Errors wrap types.ErrStoreWrite.
	Record(ctx context.Context, p types.Profile, o types.Outcome, at time.Time) error
	Close() error
}

// Open picks a backend by file extension.
func Open(path string) (ProfileStore, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return OpenCSV(path)
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("unsupported store %q (want .csv, .db or .sqlite): %w", path, types.ErrStoreLoad)
}

var identifierRe = regexp.MustCompile(`linkedin\.com/in/([^/?#]+)`)

// ExtractIdentifier returns the public handle from a profile URL, or "".
func ExtractIdentifier(url string) string {
	m := identifierRe.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// CanonicalURL normalizes a profile URL to https://www.linkedin.com/in/<id>/.
// URLs without an identifier are returned trimmed but otherwise unchanged.
func CanonicalURL(url string) string {
	url = strings.TrimSpace(url)
	id := ExtractIdentifier(url)
	if id == "" {
		return url
	}
	return "https://www.linkedin.com/in/" + id + "/"
}

// Timestamps are stored in RFC 3339 in both backends.
const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}
