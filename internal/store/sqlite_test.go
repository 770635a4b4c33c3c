// ABOUTME: Tests for the SQLite transcript store.

package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcripts.db")
	s, err := NewSQLiteStore(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordTurn_AndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTurn(ctx, "sess-1", "Ada", RoleVisitor, "hello", ""))
	require.NoError(t, s.RecordTurn(ctx, "sess-1", "", RoleAgent, "hi there", DeliveryGateway))

	turns, err := s.History(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, RoleVisitor, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, RoleAgent, turns[1].Role)
	assert.Equal(t, DeliveryGateway, turns[1].Delivery)
}

func TestHistory_Empty(t *testing.T) {
	s := newTestStore(t)

	turns, err := s.History(context.Background(), "no-such-session", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTurn(ctx, "sess-1", "Ada", RoleVisitor, "first", ""))
	require.NoError(t, s.RecordTurn(ctx, "sess-2", "", RoleVisitor, "second", ""))
	require.NoError(t, s.RecordTurn(ctx, "sess-2", "", RoleAgent, "reply", DeliveryDemo))

	convs, err := s.Conversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	byID := map[string]Conversation{}
	for _, c := range convs {
		byID[c.ID] = c
	}
	assert.Equal(t, "Ada", byID["sess-1"].VisitorName)
	assert.Equal(t, 1, byID["sess-1"].TurnCount)
	assert.Equal(t, 2, byID["sess-2"].TurnCount)
}

func TestRecordTurn_VisitorNamePreserved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTurn(ctx, "sess-1", "Ada", RoleVisitor, "hello", ""))
	// A later turn without a name must not blank the stored one
	require.NoError(t, s.RecordTurn(ctx, "sess-1", "", RoleAgent, "hi", DeliveryGateway))

	convs, err := s.Conversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Ada", convs[0].VisitorName)
}

func TestNopStore(t *testing.T) {
	var s TranscriptStore = NopStore{}
	ctx := context.Background()

	require.NoError(t, s.RecordTurn(ctx, "x", "", RoleVisitor, "hello", ""))

	turns, err := s.History(ctx, "x", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, s.Close())
}
