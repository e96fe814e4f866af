package snapshot

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fabula/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Record is one persisted pipeline snapshot keyed by session.
type Record struct {
	SessionID     string
	SchemaVersion int
	Payload       []byte
	UpdatedAt     time.Time
}

// Store manages snapshot persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Open initializes or connects to the snapshot database under the configured data directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "fabula.db"))
}

// OpenPath opens the snapshot database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the snapshot for a session. The stored timestamp is refreshed
// on every write so recovery age is measured from the last completed stage.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return errors.New("session id required")
	}
	if len(rec.Payload) == 0 {
		return errors.New("payload required")
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return s.execWithRetry(ctx, `
INSERT INTO run_snapshots (session_id, schema_version, payload, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
    schema_version = excluded.schema_version,
    payload = excluded.payload,
    updated_at = excluded.updated_at`,
		rec.SessionID, rec.SchemaVersion, string(rec.Payload), updated.Format(time.RFC3339Nano))
}

// Load returns the snapshot for a session, or nil when none exists.
func (s *Store) Load(ctx context.Context, sessionID string) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT session_id, schema_version, payload, updated_at FROM run_snapshots WHERE session_id = ?",
		sessionID)

	var (
		rec     Record
		payload string
		updated string
	)
	if err := row.Scan(&rec.SessionID, &rec.SchemaVersion, &payload, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot timestamp: %w", err)
	}
	rec.Payload = []byte(payload)
	rec.UpdatedAt = ts
	return &rec, nil
}

// Recover returns the snapshot for a session when it is younger than maxAge.
// Stale snapshots are deleted and reported as absent so the caller starts fresh.
func (s *Store) Recover(ctx context.Context, sessionID string, maxAge time.Duration) (*Record, error) {
	rec, err := s.Load(ctx, sessionID)
	if err != nil || rec == nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(rec.UpdatedAt) > maxAge {
		if clearErr := s.Clear(ctx, sessionID); clearErr != nil {
			return nil, fmt.Errorf("clear stale snapshot: %w", clearErr)
		}
		return nil, nil
	}
	return rec, nil
}

// Clear removes the snapshot for a session. Missing rows are not an error.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	return s.execWithRetry(ctx, "DELETE FROM run_snapshots WHERE session_id = ?", sessionID)
}

// Prune removes snapshots older than maxAge and returns how many were deleted.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339Nano)
	ctx = ensureContext(ctx)
	var deleted int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, "DELETE FROM run_snapshots WHERE updated_at < ?", cutoff)
		if execErr != nil {
			return execErr
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Sessions lists session ids with a stored snapshot, newest first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id FROM run_snapshots ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		sessions = append(sessions, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return sessions, nil
}
