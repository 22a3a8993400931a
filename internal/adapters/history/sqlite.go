// Package history persists invocations in a local SQLite database so that
// outcomes survive restarts of the service.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/seriesview/internal/domain"
)

const driverName = "sqlite3_history"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for _, pragma := range []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
			} {
				if _, err := conn.Exec(pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return nil
		},
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
	id            TEXT PRIMARY KEY,
	format        TEXT NOT NULL,
	locators      TEXT NOT NULL,
	locator_count INTEGER NOT NULL,
	staging_dir   TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_invocations_started_at ON invocations (started_at DESC);
`

const columns = `id, format, locators, staging_dir, state, reason, started_at, finished_at`

// Store implements the InvocationHistory port on SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
		}
	}

	db, err := sql.Open(driverName, "file:"+path)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "migrate", Key: path, Err: err}
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces an invocation.
func (s *Store) Save(ctx context.Context, inv domain.Invocation) error {
	locators, err := json.Marshal(inv.Request.Locators)
	if err != nil {
		return &domain.StorageError{Operation: "save", Key: inv.ID, Err: err}
	}
	if inv.Request.Locators == nil {
		locators = []byte("[]")
	}

	var reason string
	if inv.Outcome != nil {
		reason = inv.Outcome.Reason
	}

	var finishedAt sql.NullInt64
	if !inv.FinishedAt.IsZero() {
		finishedAt = sql.NullInt64{Int64: inv.FinishedAt.UnixNano(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invocations (id, format, locators, locator_count, staging_dir, state, reason, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			staging_dir = excluded.staging_dir,
			state       = excluded.state,
			reason      = excluded.reason,
			finished_at = excluded.finished_at`,
		inv.ID,
		string(inv.Request.Format),
		string(locators),
		len(inv.Request.Locators),
		inv.StagingDir,
		string(inv.State),
		reason,
		inv.StartedAt.UnixNano(),
		finishedAt,
	)
	if err != nil {
		return storageError("save", inv.ID, err)
	}
	return nil
}

// Get returns an invocation by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Invocation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM invocations WHERE id = ?`, id)

	inv, err := scanInvocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrInvocationNotFound)
	}
	if err != nil {
		return nil, storageError("get", id, err)
	}
	return inv, nil
}

// List returns the most recent invocations, newest first. A limit of zero
// or less returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]domain.Invocation, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM invocations ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, storageError("list", "", err)
	}
	defer func() { _ = rows.Close() }()

	var list []domain.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, &domain.StorageError{Operation: "list", Err: err}
		}
		list = append(list, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list", "", err)
	}
	return list, nil
}

// storageError wraps a database error. Contention and a closed store are
// reported as unavailable so callers can retry later.
func storageError(op, key string, err error) error {
	if isTransient(err) {
		err = fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}

func isTransient(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return errors.Is(err, sql.ErrConnDone) || err.Error() == "sql: database is closed"
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row scanner) (*domain.Invocation, error) {
	var (
		inv        domain.Invocation
		format     string
		locators   string
		state      string
		reason     string
		startedAt  int64
		finishedAt sql.NullInt64
	)

	if err := row.Scan(&inv.ID, &format, &locators, &inv.StagingDir, &state, &reason, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(locators), &inv.Request.Locators); err != nil {
		return nil, fmt.Errorf("decoding locators: %w", err)
	}
	inv.Request.Format = domain.Format(format)
	inv.State = domain.State(state)
	inv.StartedAt = time.Unix(0, startedAt)
	if finishedAt.Valid {
		inv.FinishedAt = time.Unix(0, finishedAt.Int64)
	}

	if inv.State.IsTerminal() {
		inv.Outcome = &domain.Outcome{
			State:      inv.State,
			Reason:     reason,
			StagingDir: inv.StagingDir,
		}
	}

	return &inv, nil
}
