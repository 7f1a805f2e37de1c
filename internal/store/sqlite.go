package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/akolesov/promptdeck/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if needed) a SQLite-backed repository at dbPath,
// applies the base schema and runs pending migrations.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas in the connection string so every pooled connection gets WAL,
	// referential integrity and a busy timeout.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	// Triggers reference columns added by migrations, so they install last.
	if _, err := s.db.Exec(ftsTriggers); err != nil {
		return nil, fmt.Errorf("create fts triggers: %w", err)
	}

	return s, nil
}

// ftsTriggers keeps the shadow index in sync with the captures table. Also
// reinstalled by the table-recreate migration, which drops them with the
// old table.
const ftsTriggers = `
CREATE TRIGGER IF NOT EXISTS captures_fts_insert AFTER INSERT ON captures BEGIN
	INSERT INTO captures_fts(rowid, prompt, response, topic, notes)
	VALUES (new.rowid, new.prompt, new.response, new.topic, new.notes);
END;
CREATE TRIGGER IF NOT EXISTS captures_fts_delete AFTER DELETE ON captures BEGIN
	INSERT INTO captures_fts(captures_fts, rowid, prompt, response, topic, notes)
	VALUES ('delete', old.rowid, old.prompt, old.response, old.topic, old.notes);
END;
CREATE TRIGGER IF NOT EXISTS captures_fts_update AFTER UPDATE ON captures BEGIN
	INSERT INTO captures_fts(captures_fts, rowid, prompt, response, topic, notes)
	VALUES ('delete', old.rowid, old.prompt, old.response, old.topic, old.notes);
	INSERT INTO captures_fts(rowid, prompt, response, topic, notes)
	VALUES (new.rowid, new.prompt, new.response, new.topic, new.notes);
END;
`

func (s *SQLiteStore) initSchema() error {
	// Forward reference from sessions.capture_ref to captures is legal:
	// SQLite resolves foreign keys at DML time.
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		kind           TEXT NOT NULL CHECK (kind IN ('provider', 'capture')),
		provider       TEXT,
		name           TEXT NOT NULL,
		storage_scope  TEXT UNIQUE,
		capture_ref    TEXT REFERENCES captures(id) ON DELETE CASCADE,
		url            TEXT,
		active         INTEGER NOT NULL DEFAULT 1,
		metadata       TEXT NOT NULL DEFAULT '{}',
		created_at     INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at DESC);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_provider
	ON sessions(provider) WHERE kind = 'provider';

	CREATE TABLE IF NOT EXISTS captures (
		id              TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		provider        TEXT NOT NULL,
		prompt          TEXT NOT NULL,
		response        TEXT NOT NULL,
		response_format TEXT NOT NULL DEFAULT 'text',
		model           TEXT,
		timestamp       INTEGER NOT NULL,
		token_count     INTEGER NOT NULL DEFAULT 0,
		tags            TEXT,
		notes           TEXT,
		archived        INTEGER NOT NULL DEFAULT 0,
		message_type    TEXT NOT NULL DEFAULT 'chat',
		topic           TEXT,
		metadata        TEXT,
		conversation_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_captures_session ON captures(session_id);
	CREATE INDEX IF NOT EXISTS idx_captures_provider ON captures(provider);
	CREATE INDEX IF NOT EXISTS idx_captures_timestamp ON captures(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_captures_conversation
	ON captures(conversation_id) WHERE conversation_id IS NOT NULL;

	CREATE VIRTUAL TABLE IF NOT EXISTS captures_fts USING fts5(
		prompt,
		response,
		topic,
		notes,
		content='captures',
		content_rowid='rowid'
	);

	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetStats returns session/capture counts plus the on-disk store size,
// including the WAL sidecar files.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM sessions`, &stats.TotalSessions},
		{`SELECT COUNT(*) FROM sessions WHERE active = 1`, &stats.ActiveSessions},
		{`SELECT COUNT(*) FROM captures`, &stats.TotalCaptures},
		{`SELECT COUNT(*) FROM captures WHERE archived = 1`, &stats.ArchivedCaptures},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, shared.NewStoreError("count rows", err)
		}
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if info, err := os.Stat(s.path + suffix); err == nil {
			stats.DiskSizeBytes += info.Size()
		}
	}

	return stats, nil
}
