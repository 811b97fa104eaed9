// Package sqlite implements the session store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dkeye/studyroom/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	owner_id      TEXT NOT NULL,
	visibility    TEXT NOT NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	capacity      INTEGER NOT NULL,
	audio         INTEGER NOT NULL DEFAULT 1,
	video         INTEGER NOT NULL DEFAULT 0,
	screen        INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	started_at    TEXT,
	ended_at      TEXT
);

CREATE TABLE IF NOT EXISTS participants (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL REFERENCES rooms(id),
	user_id    TEXT NOT NULL,
	username   TEXT NOT NULL,
	joined_at  TEXT NOT NULL,
	left_at    TEXT,
	moderator  INTEGER NOT NULL DEFAULT 0,
	connection TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_participants_room ON participants(room_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_active
	ON participants(room_id, user_id) WHERE left_at IS NULL;

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL REFERENCES rooms(id),
	author_id  TEXT NOT NULL,
	author     TEXT NOT NULL,
	body       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	author_id    TEXT NOT NULL,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	priority     TEXT NOT NULL,
	status       TEXT NOT NULL,
	estimate_min INTEGER NOT NULL DEFAULT 0,
	actual_min   INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_room ON tasks(room_id);

CREATE TABLE IF NOT EXISTS timer_sessions (
	id               TEXT PRIMARY KEY,
	room_id          TEXT NOT NULL REFERENCES rooms(id),
	owner_id         TEXT NOT NULL,
	focus_sec        INTEGER NOT NULL,
	break_sec        INTEGER NOT NULL,
	target_cycles    INTEGER NOT NULL,
	completed_cycles INTEGER NOT NULL DEFAULT 0,
	started_at       TEXT NOT NULL,
	completed_at     TEXT,
	stopped          INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_timer_active
	ON timer_sessions(room_id) WHERE completed_at IS NULL;
`

// Store implements store.Store on a single sqlite database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path and bootstraps the schema.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent rooms.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrConflict
	}
	return err
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
