// Package store keeps recorded traces in a SQLite database so replay sessions
// can pick them up by id.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/willibrandon/calltrace/pkg/trace"
)

var (
	// ErrNotFound is returned when no trace has the requested id
	ErrNotFound = errors.New("store: trace not found")
	// ErrAlreadyExists is returned when a trace id is taken
	ErrAlreadyExists = errors.New("store: trace already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS traces (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	version    INTEGER NOT NULL,
	calls      INTEGER NOT NULL,
	callbacks  INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS traces_created_at ON traces (created_at);
`

// Meta describes a stored trace without its contents
type Meta struct {
	ID        string
	Name      string
	Version   int
	Calls     int
	Callbacks int
	// Size is the stored blob size in bytes
	Size      int
	CreatedAt time.Time
}

// Store persists traces in SQLite. Blobs are compressed CBOR.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the trace database at path, creating it if needed. ":memory:"
// opens a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Put stores t under id. An empty id gets a generated one. The id used is
// returned.
func (s *Store) Put(ctx context.Context, id, name string, t *trace.Trace) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	if t == nil {
		return "", fmt.Errorf("trace is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	data, err := trace.Marshal(t, trace.Options{Format: trace.CBOR, Compression: trace.ZstdCompression})
	if err != nil {
		return "", fmt.Errorf("encode trace %s: %w", id, err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO traces (id, name, version, calls, callbacks, size, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		strings.TrimSpace(name),
		t.Version,
		t.Len(trace.Call),
		t.Len(trace.Callback),
		len(data),
		data,
		toMillis(s.now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrAlreadyExists
		}
		return "", fmt.Errorf("put trace: %w", err)
	}
	return id, nil
}

// Get loads the trace stored under id
func (s *Store) Get(ctx context.Context, id string) (*trace.Trace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var data []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT data FROM traces WHERE id = ?`, strings.TrimSpace(id)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trace: %w", err)
	}
	t, err := trace.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", id, err)
	}
	return t, nil
}

// List returns the metadata of every stored trace, oldest first
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, name, version, calls, callbacks, size, created_at
		   FROM traces
		  ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var out []Meta
	for rows.Next() {
		var m Meta
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.Name, &m.Version, &m.Calls, &m.Callbacks, &m.Size, &createdAt); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		m.CreatedAt = fromMillis(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return out, nil
}

// Delete removes the trace stored under id
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM traces WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete trace: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete trace: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
