package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/akolesov/promptdeck/internal/domain"
	"github.com/akolesov/promptdeck/internal/shared"
)

const captureColumns = `id, session_id, provider, prompt, response,
	response_format, model, timestamp, token_count, tags, notes, archived,
	message_type, topic, metadata, conversation_id`

// CreateCapture writes a new capture row.
func (s *SQLiteStore) CreateCapture(ctx context.Context, c *domain.Capture) error {
	tagsJSON, err := encodeTags(c.Tags)
	if err != nil {
		return shared.NewStoreError("encode tags", err)
	}

	query := `
		INSERT INTO captures (id, session_id, provider, prompt, response,
			response_format, model, timestamp, token_count, tags, notes,
			archived, message_type, topic, metadata, conversation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	responseFormat := c.ResponseFormat
	if responseFormat == "" {
		responseFormat = "text"
	}
	messageType := c.MessageType
	if messageType == "" {
		messageType = domain.MessageChat
	}

	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.SessionID, string(c.Provider), c.Prompt, c.Response,
		responseFormat, toNullString(c.Model), c.Timestamp.Unix(), c.TokenCount,
		tagsJSON, toNullString(c.Notes), c.Archived, string(messageType),
		toNullString(c.Topic), toNullString(domain.EncodeMetadata(c.Metadata)),
		toNullString(c.ConversationID),
	)
	if err != nil {
		return shared.NewStoreError("insert capture", err)
	}
	return nil
}

// GetCapture retrieves a capture by id, or nil if absent.
func (s *SQLiteStore) GetCapture(ctx context.Context, id string) (*domain.Capture, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	return scanCapture(row)
}

// ListCaptures returns captures matching the filter, newest first.
func (s *SQLiteStore) ListCaptures(ctx context.Context, f CaptureFilter) ([]*domain.Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM captures WHERE 1=1`
	where, args := filterClauses(f, "")
	query += where + ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	return s.queryCaptures(ctx, query, args...)
}

// SearchCaptures runs a ranked full-text query over prompt, response, topic
// and notes, intersected with the filter's equality constraints.
func (s *SQLiteStore) SearchCaptures(ctx context.Context, query string, f CaptureFilter) ([]*domain.Capture, error) {
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT ` + qualifyColumns(captureColumns, "c") + `
		FROM captures_fts fts
		JOIN captures c ON c.rowid = fts.rowid
		WHERE captures_fts MATCH ?`
	args := []any{ftsQuery}

	where, filterArgs := filterClauses(f, "c")
	sqlQuery += where
	args = append(args, filterArgs...)

	sqlQuery += ` ORDER BY fts.rank`
	if f.Limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	return s.queryCaptures(ctx, sqlQuery, args...)
}

// filterClauses builds the shared equality constraints for list and search.
func filterClauses(f CaptureFilter, alias string) (string, []any) {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}

	var clauses strings.Builder
	var args []any

	if f.SessionID != "" {
		clauses.WriteString(` AND ` + prefix + `session_id = ?`)
		args = append(args, f.SessionID)
	}
	if f.Provider != "" {
		clauses.WriteString(` AND ` + prefix + `provider = ?`)
		args = append(args, string(f.Provider))
	}
	if f.MessageType != "" {
		clauses.WriteString(` AND ` + prefix + `message_type = ?`)
		args = append(args, string(f.MessageType))
	}
	if f.Topic != "" {
		clauses.WriteString(` AND ` + prefix + `topic = ?`)
		args = append(args, f.Topic)
	}
	if f.ConversationID != "" {
		clauses.WriteString(` AND ` + prefix + `conversation_id = ?`)
		args = append(args, f.ConversationID)
	}
	if f.Archived != nil {
		clauses.WriteString(` AND ` + prefix + `archived = ?`)
		args = append(args, *f.Archived)
	}

	return clauses.String(), args
}

// sanitizeFTSQuery quotes each term so user input cannot produce FTS5
// syntax errors.
func sanitizeFTSQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, `""`)
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " ")
}

func qualifyColumns(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// UpdateTags replaces a capture's ordered tag list.
func (s *SQLiteStore) UpdateTags(ctx context.Context, id string, tags []string) error {
	tagsJSON, err := encodeTags(tags)
	if err != nil {
		return shared.NewStoreError("encode tags", err)
	}
	return s.updateCaptureField(ctx, id, `UPDATE captures SET tags = ? WHERE id = ?`, tagsJSON)
}

// UpdateNotes replaces a capture's notes.
func (s *SQLiteStore) UpdateNotes(ctx context.Context, id, notes string) error {
	return s.updateCaptureField(ctx, id, `UPDATE captures SET notes = ? WHERE id = ?`, toNullString(notes))
}

// SetArchived toggles the "hide but keep" flag.
func (s *SQLiteStore) SetArchived(ctx context.Context, id string, archived bool) error {
	return s.updateCaptureField(ctx, id, `UPDATE captures SET archived = ? WHERE id = ?`, archived)
}

// UpdateMessageType reclassifies a capture.
func (s *SQLiteStore) UpdateMessageType(ctx context.Context, id string, t domain.MessageType) error {
	return s.updateCaptureField(ctx, id, `UPDATE captures SET message_type = ? WHERE id = ?`, string(t))
}

// UpdateTopic changes a capture's free-text topic.
func (s *SQLiteStore) UpdateTopic(ctx context.Context, id, topic string) error {
	return s.updateCaptureField(ctx, id, `UPDATE captures SET topic = ? WHERE id = ?`, toNullString(topic))
}

// UpdateCaptureMetadata replaces a capture's metadata blob.
func (s *SQLiteStore) UpdateCaptureMetadata(ctx context.Context, id string, metadata map[string]string) error {
	return s.updateCaptureField(ctx, id,
		`UPDATE captures SET metadata = ? WHERE id = ?`, domain.EncodeMetadata(metadata))
}

func (s *SQLiteStore) updateCaptureField(ctx context.Context, id, query string, value any) error {
	result, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return shared.NewStoreError("update capture", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return shared.NewStoreError("update capture", err)
	}
	if rows == 0 {
		return shared.NewNotFound("capture", id)
	}
	return nil
}

// DeleteCapture permanently removes a capture. A capture-kind session
// referencing it cascades away via the capture_ref foreign key.
func (s *SQLiteStore) DeleteCapture(ctx context.Context, id string) error {
	return shared.RetrySQLite(ctx, 3, 100*time.Millisecond, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM captures WHERE id = ?`, id)
		if err != nil {
			return shared.NewStoreError("delete capture", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return shared.NewStoreError("delete capture", err)
		}
		if rows == 0 {
			return shared.NewNotFound("capture", id)
		}
		return nil
	})
}

// GetAllTags returns the deduplicated, case-sensitively sorted tags of all
// non-archived captures. Malformed tag blobs are skipped, not fatal.
func (s *SQLiteStore) GetAllTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tags FROM captures WHERE archived = 0 AND tags IS NOT NULL`)
	if err != nil {
		return nil, shared.NewStoreError("query tags", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close tag rows", "error", closeErr)
		}
	}()

	seen := make(map[string]struct{})
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, shared.NewStoreError("scan tag row", err)
		}
		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			slog.Warn("Skipping malformed tag blob", "error", err)
			continue
		}
		for _, t := range tags {
			seen[t] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, shared.NewStoreError("iterate tag rows", err)
	}

	all := make([]string, 0, len(seen))
	for t := range seen {
		all = append(all, t)
	}
	sort.Strings(all)
	return all, nil
}

func (s *SQLiteStore) queryCaptures(ctx context.Context, query string, args ...any) ([]*domain.Capture, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, shared.NewStoreError("query captures", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close capture rows", "error", closeErr)
		}
	}()

	var captures []*domain.Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.NewStoreError("iterate captures", err)
	}
	return captures, nil
}

func scanCapture(row scanner) (*domain.Capture, error) {
	var (
		c                            domain.Capture
		provider, messageType        string
		model, tags, notes           sql.NullString
		topic, metadata, convID      sql.NullString
		timestamp                    int64
	)

	err := row.Scan(
		&c.ID, &c.SessionID, &provider, &c.Prompt, &c.Response,
		&c.ResponseFormat, &model, &timestamp, &c.TokenCount, &tags, &notes,
		&c.Archived, &messageType, &topic, &metadata, &convID,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, shared.NewStoreError("scan capture row", err)
	}

	c.Provider = domain.Provider(provider)
	c.MessageType = domain.MessageType(messageType)
	c.Model = model.String
	c.Notes = notes.String
	c.Topic = topic.String
	c.ConversationID = convID.String
	c.Timestamp = time.Unix(timestamp, 0)
	c.Metadata = domain.DecodeMetadata(metadata.String)

	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &c.Tags); err != nil {
			slog.Warn("Malformed tag blob on capture", "capture_id", c.ID, "error", err)
			c.Tags = nil
		}
	}

	return &c, nil
}

// encodeTags preserves tag order through a JSON round-trip. Empty lists are
// stored as NULL.
func encodeTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
