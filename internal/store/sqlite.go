package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"inreach/internal/logging"
	"inreach/internal/quota"
	"inreach/internal/types"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	organization TEXT NOT NULL DEFAULT '',
	profile_url TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT '',
	delivered_at TEXT NOT NULL DEFAULT '',
	attempted_at TEXT NOT NULL DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_profiles_status ON profiles(status);

CREATE TABLE IF NOT EXISTS quota_usage (
	action TEXT PRIMARY KEY,
	date TEXT NOT NULL,
	sent INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore keeps profiles and the per-action quota records in one database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenSQLite")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", errors.Join(types.ErrStoreLoad, err))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", errors.Join(types.ErrStoreLoad, err))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", errors.Join(types.ErrStoreLoad, err))
	}
	logging.StoreDebug("sqlite store ready at %s", path)
	return &SQLiteStore{db: db, dbPath: path}, nil
}

// Load implements ProfileStore.
func (s *SQLiteStore) Load(ctx context.Context) ([]types.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identifier, name, organization, profile_url, status, attempted_at
		FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", errors.Join(types.ErrStoreLoad, err))
	}
	defer rows.Close()

	var profiles []types.Profile
	for rows.Next() {
		var (
			p         types.Profile
			attempted string
		)
		if err := rows.Scan(&p.Row, &p.Identifier, &p.DisplayName, &p.Organization, &p.ProfileURL, &p.StoredStatus, &attempted); err != nil {
			return nil, fmt.Errorf("scan profile: %w", errors.Join(types.ErrStoreLoad, err))
		}
		p.Relationship = types.StatusUnknown
		p.Outcome = types.ParseOutcome(p.StoredStatus)
		p.LastAttemptedAt = parseTime(attempted)
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", errors.Join(types.ErrStoreLoad, err))
	}
	logging.Store("loaded %d rows from %s", len(profiles), s.dbPath)
	return profiles, nil
}

// Record implements ProfileStore.
func (s *SQLiteStore) Record(ctx context.Context, p types.Profile, o types.Outcome, at time.Time) error {
	stamp := formatTime(at)
	delivered := ""
	if _, ok := o.Action(); ok {
		delivered = stamp
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET status = ?, attempted_at = ?,
			delivered_at = CASE WHEN ? != '' THEN ? ELSE delivered_at END
		WHERE id = ?`,
		o.String(), stamp, delivered, delivered, p.Row)
	if err != nil {
		return fmt.Errorf("update profile %s: %w", p.Identifier, errors.Join(types.ErrStoreWrite, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("profile %s (id %d) not found: %w", p.Identifier, p.Row, types.ErrStoreWrite)
	}
	logging.StoreDebug("profile %d (%s) -> %s", p.Row, p.Identifier, o)
	return nil
}

// Insert adds profiles, skipping rows without an identifier and keeping the
// first row for duplicate identifiers. It returns how many rows were added.
func (s *SQLiteStore) Insert(ctx context.Context, profiles []types.Profile) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO profiles (identifier, name, organization, profile_url, status, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, p := range profiles {
		id := p.Identifier
		if id == "" {
			id = ExtractIdentifier(p.ProfileURL)
		}
		if id == "" {
			logging.StoreWarn("skipping row without profile identifier: %q", p.ProfileURL)
			continue
		}
		res, err := stmt.ExecContext(ctx, id, p.DisplayName, p.Organization, CanonicalURL(p.ProfileURL), p.StoredStatus, formatTime(p.LastAttemptedAt))
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// Import copies every profile from src into s.
func (s *SQLiteStore) Import(ctx context.Context, src ProfileStore) (int, error) {
	profiles, err := src.Load(ctx)
	if err != nil {
		return 0, err
	}
	n, err := s.Insert(ctx, profiles)
	if err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	logging.Store("imported %d of %d rows into %s", n, len(profiles), s.dbPath)
	return n, nil
}

// Close implements ProfileStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// QuotaStore exposes the quota row for action as a quota.Store.
func (s *SQLiteStore) QuotaStore(action types.Action) quota.Store {
	return sqliteQuota{db: s.db, action: action}
}

type sqliteQuota struct {
	db     *sql.DB
	action types.Action
}

func (q sqliteQuota) Load(ctx context.Context) (types.QuotaRecord, error) {
	var rec types.QuotaRecord
	err := q.db.QueryRowContext(ctx, `SELECT date, sent FROM quota_usage WHERE action = ?`, string(q.action)).
		Scan(&rec.Date, &rec.SentCount)
	if errors.Is(err, sql.ErrNoRows) {
		return types.QuotaRecord{}, nil
	}
	if err != nil {
		return types.QuotaRecord{}, fmt.Errorf("read %s quota: %w", q.action, err)
	}
	return rec, nil
}

func (q sqliteQuota) Persist(ctx context.Context, rec types.QuotaRecord) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO quota_usage (action, date, sent) VALUES (?, ?, ?)
		ON CONFLICT(action) DO UPDATE SET date = excluded.date, sent = excluded.sent`,
		string(q.action), rec.Date, rec.SentCount)
	if err != nil {
		return fmt.Errorf("write %s quota: %w", q.action, err)
	}
	return nil
}
