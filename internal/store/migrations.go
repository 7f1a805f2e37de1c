package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// A migration is one forward-only schema step. Steps must be safe to re-run:
// they check for the condition they fix before altering anything. The ledger
// keeps them from running twice in the normal case; the idempotence is
// insurance for interrupted runs.
type migration struct {
	version int
	name    string
	apply   func(db *sql.DB) error
}

// migrations is the linear, ascending list of schema steps. The base schema
// in initSchema always reflects the latest shape; these steps bring stores
// created by older builds up to it.
var migrations = []migration{
	{
		version: 1,
		name:    "baseline",
		apply:   func(*sql.DB) error { return nil },
	},
	{
		version: 2,
		name:    "add captures.conversation_id",
		apply: func(db *sql.DB) error {
			return addColumnIfNotExists(db, "captures", "conversation_id", "TEXT")
		},
	},
	{
		version: 3,
		name:    "add captures.topic and captures.message_type",
		apply: func(db *sql.DB) error {
			if err := addColumnIfNotExists(db, "captures", "topic", "TEXT"); err != nil {
				return err
			}
			return addColumnIfNotExists(db, "captures", "message_type", "TEXT NOT NULL DEFAULT 'chat'")
		},
	},
	{
		version: 4,
		name:    "allow null captures.model",
		apply:   relaxCaptureModelConstraint,
	},
}

// runMigrations applies pending migrations in ascending version order,
// recording each in the schema_migrations ledger.
func (s *SQLiteStore) runMigrations() error {
	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read migration ledger: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		slog.Info("Applying migration", "version", m.version, "name", m.name)
		if err := m.apply(s.db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}

	return nil
}

// addColumnIfNotExists alters the table only when the column is genuinely
// missing, so the step can run against any schema vintage.
func addColumnIfNotExists(db *sql.DB, table, column, definition string) error {
	exists, _, err := columnInfo(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

// columnInfo reports whether table has the named column and whether it
// carries a NOT NULL constraint.
func columnInfo(db *sql.DB, table, column string) (exists, notNull bool, err error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid, nn, pk  int
			name, typ    string
			defaultValue any
		)
		if err := rows.Scan(&cid, &name, &typ, &nn, &defaultValue, &pk); err != nil {
			return false, false, err
		}
		if name == column {
			return true, nn == 1, nil
		}
	}
	return false, false, rows.Err()
}

// relaxCaptureModelConstraint widens captures.model from NOT NULL to NULL.
// SQLite cannot change a constraint in place, so the table is recreated with
// referential-integrity enforcement off for the duration (an enforced FK
// would cascade-delete capture-kind sessions while the old table is dropped).
// Fresh stores already have the nullable column and skip straight through.
func relaxCaptureModelConstraint(db *sql.DB) error {
	exists, notNull, err := columnInfo(db, "captures", "model")
	if err != nil {
		return err
	}
	if !exists || !notNull {
		return nil
	}

	// Pin one connection so the pragma and the transaction share it;
	// foreign_keys is per-connection state.
	conn, err := db.Conn(context.Background())
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(context.Background(), "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "PRAGMA foreign_keys = ON"); err != nil {
			slog.Error("Failed to re-enable foreign keys after migration", "error", err)
		}
	}()

	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	steps := []string{
		`CREATE TABLE captures_new (
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
		)`,
		`INSERT INTO captures_new SELECT
			id, session_id, provider, prompt, response, response_format,
			model, timestamp, token_count, tags, notes, archived,
			message_type, topic, metadata, conversation_id
		FROM captures`,
		`DROP TABLE captures`,
		`ALTER TABLE captures_new RENAME TO captures`,
		`CREATE INDEX IF NOT EXISTS idx_captures_session ON captures(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_provider ON captures(provider)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_timestamp ON captures(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_conversation
		ON captures(conversation_id) WHERE conversation_id IS NOT NULL`,
	}
	for _, stmt := range steps {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	// Dropping the old table took its triggers with it.
	if _, err := tx.Exec(ftsTriggers); err != nil {
		return fmt.Errorf("reinstall fts triggers: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO captures_fts(captures_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("rebuild fts index: %w", err)
	}

	return tx.Commit()
}
