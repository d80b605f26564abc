package coordination

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Register the pure-Go SQLite driver (no CGO required).
	_ "modernc.org/sqlite"

	"github.com/giantswarm/clusterenv/internal/fileutil"
	"github.com/giantswarm/clusterenv/internal/sentinel"
)

// ErrNotFound is returned when a key does not exist.
const ErrNotFound = sentinel.Error("key not found")

// Entry is one stored key.
type Entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Store is a key/value table in one SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if err := fileutil.EnsureDirForFile(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=synchronous(NORMAL)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema in %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Put sets key to value and returns the stored entry.
func (s *Store) Put(ctx context.Context, key, value string) (Entry, error) {
	now := time.Now().UTC()
	const q = `
		INSERT INTO entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, key, value, now.UnixNano()); err != nil {
		return Entry{}, fmt.Errorf("put %s: %w", key, err)
	}
	return Entry{Key: key, Value: value, UpdatedAt: now}, nil
}

// Get returns the entry for key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Entry, error) {
	var (
		e  = Entry{Key: key}
		ns int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM entries WHERE key = ?`, key).Scan(&e.Value, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	e.UpdatedAt = time.Unix(0, ns).UTC()
	return e, nil
}

// Delete removes key. Deleting a missing key returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", key, ErrNotFound)
	}
	return nil
}

// List returns every entry whose key starts with prefix, ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]Entry, error) {
	q, args := `SELECT key, value, updated_at FROM entries ORDER BY key`, []any(nil)
	if prefix != "" {
		// instr matches literally, unlike LIKE which treats % and _ specially.
		q = `SELECT key, value, updated_at FROM entries WHERE instr(key, ?) = 1 ORDER BY key`
		args = []any{prefix}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err() below catches read errors

	entries := []Entry{}
	for rows.Next() {
		var (
			e  Entry
			ns int64
		)
		if err := rows.Scan(&e.Key, &e.Value, &ns); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.UpdatedAt = time.Unix(0, ns).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
