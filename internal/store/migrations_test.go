package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akolesov/promptdeck/internal/domain"
)

func maxMigrationVersion(t *testing.T, s *SQLiteStore) int {
	t.Helper()
	var v int
	require.NoError(t, s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v))
	return v
}

func TestMigrationIdempotence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	first := maxMigrationVersion(t, s)
	assert.Equal(t, migrations[len(migrations)-1].version, first)
	require.NoError(t, s.Close())

	// A second initialization applies nothing and duplicates nothing.
	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, first, maxMigrationVersion(t, s))

	var ledgerRows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&ledgerRows))
	assert.Equal(t, len(migrations), ledgerRows)

	exists, _, err := columnInfo(s.db, "captures", "conversation_id")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAddColumnIfNotExists(t *testing.T) {
	s := newTestStore(t)

	// Re-adding an existing column is a no-op, not an error.
	require.NoError(t, addColumnIfNotExists(s.db, "captures", "topic", "TEXT"))

	require.NoError(t, addColumnIfNotExists(s.db, "captures", "extra_col", "TEXT"))
	exists, _, err := columnInfo(s.db, "captures", "extra_col")
	require.NoError(t, err)
	assert.True(t, exists)
}

// TestUpgradeFromLegacySchema builds a store shaped like the oldest release
// (no conversation_id/topic/message_type, NOT NULL model) and verifies the
// migration chain brings it to the current shape without losing rows or
// breaking the cascade relationships.
func TestUpgradeFromLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	require.NoError(t, err)

	legacy := `
	CREATE TABLE sessions (
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
	CREATE TABLE captures (
		id              TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		provider        TEXT NOT NULL,
		prompt          TEXT NOT NULL,
		response        TEXT NOT NULL,
		response_format TEXT NOT NULL DEFAULT 'text',
		model           TEXT NOT NULL,
		timestamp       INTEGER NOT NULL,
		token_count     INTEGER NOT NULL DEFAULT 0,
		tags            TEXT,
		notes           TEXT,
		archived        INTEGER NOT NULL DEFAULT 0,
		metadata        TEXT
	);
	`
	_, err = db.Exec(legacy)
	require.NoError(t, err)

	now := time.Now().Unix()
	_, err = db.Exec(`INSERT INTO sessions (id, kind, provider, name, storage_scope, metadata, created_at, last_active_at)
		VALUES ('s1', 'provider', 'claude', 'claude', 'scope-1', '{}', ?, ?)`, now, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO captures (id, session_id, provider, prompt, response, model, timestamp)
		VALUES ('c1', 's1', 'claude', 'old prompt', 'old response', 'claude-3', ?)`, now)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, migrations[len(migrations)-1].version, maxMigrationVersion(t, s))

	// model is nullable now; the added columns exist.
	_, notNull, err := columnInfo(s.db, "captures", "model")
	require.NoError(t, err)
	assert.False(t, notNull)
	for _, col := range []string{"conversation_id", "topic", "message_type"} {
		exists, _, err := columnInfo(s.db, "captures", col)
		require.NoError(t, err)
		assert.True(t, exists, col)
	}

	ctx := context.Background()
	got, err := s.GetCapture(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "old prompt", got.Prompt)
	assert.Equal(t, "claude-3", got.Model)
	assert.Equal(t, domain.MessageChat, got.MessageType)

	// Rebuilt FTS index covers pre-migration rows.
	results, err := s.SearchCaptures(ctx, "old prompt", CaptureFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ID)

	// A NULL model is now accepted.
	require.NoError(t, s.CreateCapture(ctx, &domain.Capture{
		ID: "c2", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p", Response: "r", Timestamp: time.Now(),
	}))

	// Cascade survived the table recreate.
	require.NoError(t, s.DeleteSession(ctx, "s1"))
	capture, err := s.GetCapture(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, capture)
}
