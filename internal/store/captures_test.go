package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akolesov/promptdeck/internal/domain"
	"github.com/akolesov/promptdeck/internal/shared"
)

func seedSession(t *testing.T, s *SQLiteStore, id string, p domain.Provider) {
	t.Helper()
	require.NoError(t, s.CreateSession(context.Background(), providerSession(id, p, time.Now())))
}

func seedCapture(t *testing.T, s *SQLiteStore, c *domain.Capture) {
	t.Helper()
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	require.NoError(t, s.CreateCapture(context.Background(), c))
}

func TestCaptureCRUDDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", domain.ProviderClaude)

	ts := time.Now().Truncate(time.Second)
	seedCapture(t, s, &domain.Capture{
		ID:        "c1",
		SessionID: "s1",
		Provider:  domain.ProviderClaude,
		Prompt:    "what is Go",
		Response:  "a language",
		Timestamp: ts,
	})

	got, err := s.GetCapture(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "text", got.ResponseFormat)
	assert.Equal(t, domain.MessageChat, got.MessageType)
	assert.Empty(t, got.Model)
	assert.False(t, got.Archived)
	assert.Equal(t, ts.Unix(), got.Timestamp.Unix())

	require.NoError(t, s.UpdateNotes(ctx, "c1", "useful"))
	require.NoError(t, s.SetArchived(ctx, "c1", true))
	require.NoError(t, s.UpdateMessageType(ctx, "c1", domain.MessageDeepResearch))
	require.NoError(t, s.UpdateTopic(ctx, "c1", "golang"))

	got, err = s.GetCapture(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "useful", got.Notes)
	assert.True(t, got.Archived)
	assert.Equal(t, domain.MessageDeepResearch, got.MessageType)
	assert.Equal(t, "golang", got.Topic)

	require.NoError(t, s.DeleteCapture(ctx, "c1"))
	got, err = s.GetCapture(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCaptureUpdateMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateNotes(context.Background(), "nope", "x")
	assert.True(t, shared.IsCode(err, shared.ErrNotFound))
}

func TestTagsRoundTripPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", domain.ProviderClaude)
	seedCapture(t, s, &domain.Capture{
		ID: "c1", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p", Response: "r",
		Tags: []string{"zeta", "alpha", "Mixed"},
	})

	got, err := s.GetCapture(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "Mixed"}, got.Tags)
}

func TestGetAllTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", domain.ProviderClaude)

	seedCapture(t, s, &domain.Capture{
		ID: "c1", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p", Response: "r", Tags: []string{"go", "sql"},
	})
	seedCapture(t, s, &domain.Capture{
		ID: "c2", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p", Response: "r", Tags: []string{"sql", "Zig"},
	})
	archived := &domain.Capture{
		ID: "c3", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p", Response: "r", Tags: []string{"hidden"}, Archived: true,
	}
	seedCapture(t, s, archived)

	// A malformed blob must be skipped, not fatal.
	_, err := s.db.Exec(`UPDATE captures SET tags = '{not json' WHERE id = 'c2'`)
	require.NoError(t, err)
	seedCapture(t, s, &domain.Capture{
		ID: "c4", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p", Response: "r", Tags: []string{"Zig"},
	})

	tags, err := s.GetAllTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Zig", "go", "sql"}, tags)
}

func TestListCapturesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", domain.ProviderClaude)
	seedSession(t, s, "s2", domain.ProviderOpenAI)

	base := time.Now().Add(-time.Hour)
	seedCapture(t, s, &domain.Capture{
		ID: "c1", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p1", Response: "r1", Timestamp: base,
		MessageType: domain.MessageDeepResearch, Topic: "compilers",
	})
	seedCapture(t, s, &domain.Capture{
		ID: "c2", SessionID: "s2", Provider: domain.ProviderOpenAI,
		Prompt: "p2", Response: "r2", Timestamp: base.Add(time.Minute),
	})
	seedCapture(t, s, &domain.Capture{
		ID: "c3", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p3", Response: "r3", Timestamp: base.Add(2 * time.Minute),
		Archived: true,
	})

	all, err := s.ListCaptures(ctx, CaptureFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c3", all[0].ID) // newest first

	claude, err := s.ListCaptures(ctx, CaptureFilter{Provider: domain.ProviderClaude})
	require.NoError(t, err)
	assert.Len(t, claude, 2)

	notArchived := false
	live, err := s.ListCaptures(ctx, CaptureFilter{Archived: &notArchived})
	require.NoError(t, err)
	assert.Len(t, live, 2)

	research, err := s.ListCaptures(ctx, CaptureFilter{MessageType: domain.MessageDeepResearch})
	require.NoError(t, err)
	require.Len(t, research, 1)
	assert.Equal(t, "c1", research[0].ID)

	limited, err := s.ListCaptures(ctx, CaptureFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSearchCaptures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", domain.ProviderClaude)
	seedSession(t, s, "s2", domain.ProviderOpenAI)

	seedCapture(t, s, &domain.Capture{
		ID: "c1", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "tell me about types", Response: "TypeScript adds static types",
	})
	seedCapture(t, s, &domain.Capture{
		ID: "c2", SessionID: "s2", Provider: domain.ProviderOpenAI,
		Prompt: "memory safety", Response: "Rust enforces ownership",
	})

	results, err := s.SearchCaptures(ctx, "TypeScript", CaptureFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ID)

	// The same query intersected with a mismatching provider yields nothing.
	results, err = s.SearchCaptures(ctx, "TypeScript", CaptureFilter{Provider: domain.ProviderOpenAI})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchReflectsUpdatesAndDeletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", domain.ProviderClaude)
	seedCapture(t, s, &domain.Capture{
		ID: "c1", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p", Response: "original answer",
	})

	require.NoError(t, s.UpdateNotes(ctx, "c1", "mentions kubernetes"))
	results, err := s.SearchCaptures(ctx, "kubernetes", CaptureFilter{})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	require.NoError(t, s.DeleteCapture(ctx, "c1"))
	results, err = s.SearchCaptures(ctx, "kubernetes", CaptureFilter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchHostileQueryIsSafe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", domain.ProviderClaude)
	seedCapture(t, s, &domain.Capture{
		ID: "c1", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p", Response: "r",
	})

	for _, q := range []string{`"unbalanced`, `AND OR NOT`, `col:value`, `  `} {
		_, err := s.SearchCaptures(ctx, q, CaptureFilter{})
		assert.NoError(t, err, "query %q", q)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", domain.ProviderClaude)
	inactive := providerSession("s2", domain.ProviderOpenAI, time.Now())
	inactive.Active = false
	require.NoError(t, s.CreateSession(ctx, inactive))

	seedCapture(t, s, &domain.Capture{
		ID: "c1", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p", Response: "r",
	})
	seedCapture(t, s, &domain.Capture{
		ID: "c2", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "p", Response: "r", Archived: true,
	})

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 2, stats.TotalCaptures)
	assert.Equal(t, 1, stats.ArchivedCaptures)
	assert.Greater(t, stats.DiskSizeBytes, int64(0))
}
