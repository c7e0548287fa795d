// Package store owns durable relational state: planning sessions, tree
// specs, terminal sessions, chat sessions and messages, branch links,
// external links, pins, rules and the instructions log.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite database. Operations serialize at the database
// layer; callers may use one Store from many goroutines.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS planning_sessions (
	id              TEXT PRIMARY KEY,
	repo_id         TEXT NOT NULL,
	title           TEXT NOT NULL,
	base_branch     TEXT NOT NULL,
	status          TEXT NOT NULL,
	nodes           TEXT NOT NULL,
	edges           TEXT NOT NULL,
	chat_session_id TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_planning_sessions_repo ON planning_sessions(repo_id);

CREATE TABLE IF NOT EXISTS tree_specs (
	repo_id    TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS terminal_sessions (
	id            TEXT PRIMARY KEY,
	repo_id       TEXT NOT NULL,
	worktree_path TEXT NOT NULL UNIQUE,
	pid           INTEGER,
	status        TEXT NOT NULL,
	last_output   TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_sessions (
	id            TEXT PRIMARY KEY,
	worktree_path TEXT NOT NULL,
	branch_name   TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_branch ON chat_sessions(branch_name);

CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id);

CREATE TABLE IF NOT EXISTS chat_summaries (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_runs (
	id              TEXT PRIMARY KEY,
	chat_session_id TEXT NOT NULL,
	status          TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	finished_at     TEXT
);

CREATE TABLE IF NOT EXISTS branch_links (
	id          TEXT PRIMARY KEY,
	repo_id     TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	link_type   TEXT NOT NULL,
	url         TEXT NOT NULL,
	number      INTEGER NOT NULL DEFAULT 0,
	title       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	checks      TEXT NOT NULL DEFAULT '',
	labels      TEXT NOT NULL DEFAULT '[]',
	reviewers   TEXT NOT NULL DEFAULT '[]',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_branch_links_branch ON branch_links(repo_id, branch_name);

CREATE TABLE IF NOT EXISTS external_links (
	id                  TEXT PRIMARY KEY,
	planning_session_id TEXT NOT NULL,
	url                 TEXT NOT NULL,
	link_type           TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	content_cache       TEXT,
	last_fetched_at     TEXT,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_external_links_session ON external_links(planning_session_id);

CREATE TABLE IF NOT EXISTS repo_pins (
	repo_id     TEXT PRIMARY KEY,
	base_branch TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS branch_rules (
	repo_id       TEXT PRIMARY KEY,
	branch_naming TEXT,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS task_instructions (
	id          TEXT PRIMARY KEY,
	repo_id     TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS instructions_log (
	id          TEXT PRIMARY KEY,
	repo_id     TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS requirements (
	id         TEXT PRIMARY KEY,
	repo_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requirements_repo ON requirements(repo_id);

CREATE TABLE IF NOT EXISTS ai_settings (
	repo_id       TEXT PRIMARY KEY,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	system_prompt TEXT NOT NULL DEFAULT '',
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS system_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Open opens (or creates) the database at path and applies the schema.
// Pass ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func marshalJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
