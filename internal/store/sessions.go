package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/akolesov/promptdeck/internal/domain"
	"github.com/akolesov/promptdeck/internal/shared"
)

const sessionColumns = `id, kind, provider, name, storage_scope, capture_ref,
	url, active, metadata, created_at, last_active_at`

// CreateSession writes a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	query := `
		INSERT INTO sessions (id, kind, provider, name, storage_scope, capture_ref,
			url, active, metadata, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, string(sess.Kind), toNullString(string(sess.Provider)), sess.Name,
		toNullString(sess.StorageScope), toNullString(sess.CaptureRef),
		toNullString(sess.URL), sess.Active, domain.EncodeMetadata(sess.Metadata),
		sess.CreatedAt.Unix(), sess.LastActiveAt.Unix(),
	)
	if err != nil {
		return shared.NewStoreError("insert session", err)
	}
	return nil
}

// GetSession retrieves a session by id, or nil if absent.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// GetProviderSession retrieves the provider-kind session for a provider,
// or nil if none exists.
func (s *SQLiteStore) GetProviderSession(ctx context.Context, p domain.Provider) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE kind = ? AND provider = ?`,
		string(domain.KindProvider), string(p))
	return scanSession(row)
}

// ListSessions returns sessions most-recently-active first.
func (s *SQLiteStore) ListSessions(ctx context.Context, includeInactive bool) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY last_active_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, shared.NewStoreError("query sessions", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.NewStoreError("iterate sessions", err)
	}
	return sessions, nil
}

// UpdateSessionName changes a session's display label.
func (s *SQLiteStore) UpdateSessionName(ctx context.Context, id, name string) error {
	return s.updateSessionField(ctx, id, `UPDATE sessions SET name = ? WHERE id = ?`, name)
}

// UpdateLastActive touches a session's last_active_at timestamp.
func (s *SQLiteStore) UpdateLastActive(ctx context.Context, id string) error {
	return s.updateSessionField(ctx, id,
		`UPDATE sessions SET last_active_at = ? WHERE id = ?`, time.Now().Unix())
}

// UpdateSessionMetadata replaces a session's metadata blob.
func (s *SQLiteStore) UpdateSessionMetadata(ctx context.Context, id string, metadata map[string]string) error {
	return s.updateSessionField(ctx, id,
		`UPDATE sessions SET metadata = ? WHERE id = ?`, domain.EncodeMetadata(metadata))
}

func (s *SQLiteStore) updateSessionField(ctx context.Context, id, query string, value any) error {
	result, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return shared.NewStoreError("update session", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return shared.NewStoreError("update session", err)
	}
	if rows == 0 {
		return shared.NewNotFound("session", id)
	}
	return nil
}

// DeleteSession removes a session row; its captures cascade away. Retries on
// SQLite concurrency errors so a busy writer cannot leave the row behind.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	return shared.RetrySQLite(ctx, 3, 100*time.Millisecond, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return shared.NewStoreError("delete session", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return shared.NewStoreError("delete session", err)
		}
		if rows == 0 {
			return shared.NewNotFound("session", id)
		}
		return nil
	})
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		sess                             domain.Session
		kind, metadata                   string
		provider, scope, captureRef, url sql.NullString
		createdAt, lastActiveAt          int64
	)

	err := row.Scan(
		&sess.ID, &kind, &provider, &sess.Name, &scope, &captureRef,
		&url, &sess.Active, &metadata, &createdAt, &lastActiveAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, shared.NewStoreError("scan session row", err)
	}

	sess.Kind = domain.SessionKind(kind)
	sess.Provider = domain.Provider(provider.String)
	sess.StorageScope = scope.String
	sess.CaptureRef = captureRef.String
	sess.URL = url.String
	sess.Metadata = domain.DecodeMetadata(metadata)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.LastActiveAt = time.Unix(lastActiveAt, 0)

	return &sess, nil
}

func toNullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
