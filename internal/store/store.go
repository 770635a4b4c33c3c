// ABOUTME: Transcript store interface and shared types.
// ABOUTME: Persists conversation turns so operators can review chats later.

package store

import (
	"context"
	"time"
)

// Roles for a transcript turn.
const (
	RoleVisitor = "visitor"
	RoleAgent   = "agent"
)

// Delivery paths a reply can arrive through.
const (
	DeliveryGateway = "gateway"
	DeliveryMailbox = "mailbox"
	DeliveryDemo    = "demo"
)

// Turn is one utterance in a conversation transcript.
type Turn struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	Delivery       string
	CreatedAt      time.Time
}

// Conversation summarizes one visitor session.
type Conversation struct {
	ID          string
	VisitorName string
	StartedAt   time.Time
	UpdatedAt   time.Time
	TurnCount   int
}

// TranscriptStore records and retrieves conversation transcripts.
type TranscriptStore interface {
	// RecordTurn appends one turn, creating the conversation row on first use.
	RecordTurn(ctx context.Context, conversationID, visitorName, role, content, delivery string) error

	// History returns a conversation's turns in chronological order.
	History(ctx context.Context, conversationID string, limit int) ([]Turn, error)

	// Conversations lists recent conversations, most recently active first.
	Conversations(ctx context.Context, limit int) ([]Conversation, error)

	Close() error
}

// NopStore discards everything. Used when no database is configured.
type NopStore struct{}

func (NopStore) RecordTurn(context.Context, string, string, string, string, string) error {
	return nil
}

func (NopStore) History(context.Context, string, int) ([]Turn, error) { return nil, nil }

func (NopStore) Conversations(context.Context, int) ([]Conversation, error) { return nil, nil }

func (NopStore) Close() error { return nil }
