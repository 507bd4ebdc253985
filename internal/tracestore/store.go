// Package tracestore persists observed LSP wire traffic to SQLite so a
// trace session can be inspected after the fact.
package tracestore

import (
	"context"
	"database/sql"
	"errors"
	mathrand "math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// newEventID generates a ULID string for trace events. ULIDs sort by
// creation time, which keeps the events table naturally ordered.
func newEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Event is one observed message: a frame written or read, or a stderr
// line.
type Event struct {
	ID        string
	SessionID string
	Direction string
	Payload   string
	CreatedAt time.Time
}

// Store owns the SQLite trace database.
type Store struct {
	db   *sql.DB
	path string
}

// Path returns the underlying SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Open initializes a SQLite database at path, creating parent directories
// as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init ensures pragmas and schema are configured.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			server_name TEXT NOT NULL,
			root_path TEXT NOT NULL,
			started_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			direction TEXT NOT NULL CHECK (direction IN ('in','out','err')),
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// BeginSession records a new trace session.
func (s *Store) BeginSession(ctx context.Context, sessionID, serverName, rootPath string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, server_name, root_path, started_at) VALUES (?,?,?,?)`,
		sessionID, serverName, rootPath, time.Now().UnixMilli())
	return err
}

// Record appends one observed message to a session.
func (s *Store) Record(ctx context.Context, sessionID, direction, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, session_id, direction, payload, created_at) VALUES (?,?,?,?,?)`,
		newEventID(), sessionID, direction, payload, time.Now().UnixMilli())
	return err
}

// Events returns a session's events in recording order.
func (s *Store) Events(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, direction, payload, created_at
		 FROM events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Direction, &ev.Payload, &createdAt); err != nil {
			return nil, err
		}
		ev.CreatedAt = time.UnixMilli(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}
