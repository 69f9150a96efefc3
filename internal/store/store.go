// Package store provides durable SQLite-backed storage for conversations,
// messages, permission rules, MCP server definitions, sub-agent profiles, and
// plans. A per-project database holds conversation state; a user-global
// database holds shared definitions.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

const (
	busyMaxRetries    = 10
	busyBackoffStepMs = 50
	busyMaxBackoff    = time.Second
)

const projectSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id             TEXT PRIMARY KEY,
	model          TEXT NOT NULL,
	system_prompt  TEXT NOT NULL DEFAULT '',
	sub_agent      TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	usage_in       INTEGER NOT NULL DEFAULT 0,
	usage_out      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	blocks_json     TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conv_created
	ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS context_files (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	path            TEXT NOT NULL,
	PRIMARY KEY (conversation_id, path)
);

CREATE TABLE IF NOT EXISTS plans (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT,
	title           TEXT NOT NULL,
	user_request    TEXT NOT NULL DEFAULT '',
	plan_markdown   TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	content,
	message_id UNINDEXED,
	conversation_id UNINDEXED
);
`

const globalSchema = `
CREATE TABLE IF NOT EXISTS permission_rules (
	pattern  TEXT NOT NULL,
	decision TEXT NOT NULL,
	scope    TEXT NOT NULL DEFAULT 'persistent',
	PRIMARY KEY (pattern, decision)
);

CREATE TABLE IF NOT EXISTS mcp_servers (
	name      TEXT PRIMARY KEY,
	transport TEXT NOT NULL DEFAULT 'stdio',
	command   TEXT NOT NULL DEFAULT '',
	args_json TEXT NOT NULL DEFAULT '[]',
	url       TEXT NOT NULL DEFAULT '',
	env_json  TEXT NOT NULL DEFAULT '{}',
	enabled   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS agents (
	name               TEXT PRIMARY KEY,
	model              TEXT NOT NULL DEFAULT '',
	temperature        REAL NOT NULL DEFAULT 1.0,
	max_tokens         INTEGER NOT NULL DEFAULT 0,
	system_prompt      TEXT NOT NULL DEFAULT '',
	allowed_tools_json TEXT NOT NULL DEFAULT '[]',
	denied_tools_json  TEXT NOT NULL DEFAULT '[]'
);
`

// Store wraps the project and global databases.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	global *sql.DB

	lockMu sync.Mutex
	locked map[string]bool
}

// Open opens (creating if necessary) the project database at
// <projectDir>/.aixplosion/session.db and the user-global database at
// ~/.config/aixplosion/global.db.
func Open(projectDir string) (*Store, error) {
	projectPath := filepath.Join(projectDir, ".aixplosion", "session.db")

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	globalPath := filepath.Join(homeDir, ".config", "aixplosion", "global.db")

	return OpenAt(projectPath, globalPath)
}

// OpenAt opens the store with explicit database paths.
func OpenAt(projectPath, globalPath string) (*Store, error) {
	db, err := openDB(projectPath, projectSchema)
	if err != nil {
		return nil, fmt.Errorf("open project db: %w", err)
	}
	global, err := openDB(globalPath, globalSchema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open global db: %w", err)
	}
	return &Store{db: db, global: global, locked: make(map[string]bool)}, nil
}

func openDB(path, schema string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// Close closes both databases.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	if err := s.db.Close(); err != nil {
		firstErr = err
	}
	if err := s.global.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// AcquireConversation takes the advisory writer lock for a conversation.
// It returns a release function, or an error if another turn is in flight.
func (s *Store) AcquireConversation(id string) (func(), error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	if s.locked[id] {
		return nil, fmt.Errorf("conversation %s is busy: another turn is in progress", id)
	}
	s.locked[id] = true

	return func() {
		s.lockMu.Lock()
		delete(s.locked, id)
		s.lockMu.Unlock()
	}, nil
}

// isBusy reports whether an error is a transient SQLITE_BUSY condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs fn, retrying with linear backoff while the database is busy.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyMaxRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		backoff := time.Duration((attempt+1)*busyBackoffStepMs) * time.Millisecond
		if backoff > busyMaxBackoff {
			backoff = busyMaxBackoff
		}
		time.Sleep(backoff)
	}
	return err
}
