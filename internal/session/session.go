// ABOUTME: Chat session facade: picks the delivery strategy for each send
// ABOUTME: and records transcript turns along the way.

package session

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/concierge/internal/relay"
	"github.com/2389/concierge/internal/store"
)

// Statuses surfaced to the widget, extending the relay's set.
const (
	StatusComplete = relay.StatusComplete
	StatusError    = "error"
)

// defaultGreeting is used when the config leaves the greeting unset and
// no agent identity is known.
const defaultGreeting = "Hello! How can I help you today?"

// defaultErrorNotice is the user-visible bubble for failures with no
// configured contact line.
const defaultErrorNotice = "Sorry, something went wrong while reaching the assistant. Please try again in a moment."

// GatewayClient is the slice of the gateway client the facade needs.
type GatewayClient interface {
	Connected() bool
	SendChat(ctx context.Context, message string) (string, error)
	AgentName() string
}

// Reply is the outcome of one send.
type Reply struct {
	Text      string
	Status    string // complete, processing, demo, or error
	RequestID string // set only for processing
}

// Session dispatches each visitor message to exactly one delivery
// strategy: the live gateway connection when one exists, else the
// webhook-plus-polling relay (which itself degrades to demo replies).
// The choice is made once per send; a send is never retried on another
// path.
type Session struct {
	gateway     GatewayClient // may be nil when no gateway is configured
	relay       *relay.Relay
	transcripts store.TranscriptStore
	greeting    string
	contactLine string
	logger      *slog.Logger
}

// New creates the facade. gateway may be nil; transcripts may be a
// NopStore.
func New(gateway GatewayClient, rl *relay.Relay, transcripts store.TranscriptStore, greeting, contactLine string, logger *slog.Logger) *Session {
	return &Session{
		gateway:     gateway,
		relay:       rl,
		transcripts: transcripts,
		greeting:    greeting,
		contactLine: contactLine,
		logger:      logger.With("component", "session"),
	}
}

// Send accepts one visitor message and returns its reply descriptor.
func (s *Session) Send(ctx context.Context, message, sessionID, name string) Reply {
	conversationID := sessionID
	if conversationID == "" {
		conversationID = "web"
	}
	s.record(ctx, conversationID, name, store.RoleVisitor, message, "")

	if s.gateway != nil && s.gateway.Connected() {
		return s.sendViaGateway(ctx, conversationID, message)
	}

	result := s.relay.Submit(ctx, message, sessionID, name)
	if result.Status == relay.StatusDemo {
		s.record(ctx, conversationID, "", store.RoleAgent, result.Reply, store.DeliveryDemo)
		return Reply{Text: result.Reply, Status: relay.StatusDemo}
	}
	return Reply{RequestID: result.RequestID, Status: relay.StatusProcessing}
}

// sendViaGateway runs the WebSocket path. Failures become a user-visible
// notice; the send is not retried on another path.
func (s *Session) sendViaGateway(ctx context.Context, conversationID, message string) Reply {
	text, err := s.gateway.SendChat(ctx, message)
	if err != nil {
		s.logger.Warn("gateway send failed", "error", err)
		return Reply{Text: s.ErrorNotice(), Status: StatusError}
	}

	s.record(ctx, conversationID, "", store.RoleAgent, text, store.DeliveryGateway)
	return Reply{Text: text, Status: StatusComplete}
}

// PollReply checks the mailbox for a submitted request's reply. The
// consuming poll records the agent turn under the request id, the only
// conversation handle the polling protocol carries.
func (s *Session) PollReply(ctx context.Context, requestID string) (string, bool) {
	reply, complete := s.relay.Poll(requestID)
	if complete {
		s.record(ctx, requestID, "", store.RoleAgent, reply, store.DeliveryMailbox)
	}
	return reply, complete
}

// DeliverReply is the agent's callback for the mailbox path.
func (s *Session) DeliverReply(requestID, response, secret string) error {
	return s.relay.Deliver(requestID, response, secret)
}

// Greeting returns the line the widget shows before the first message.
// A connected agent's display name takes precedence over the configured
// static greeting.
func (s *Session) Greeting() string {
	if s.gateway != nil && s.gateway.Connected() {
		if name := s.gateway.AgentName(); name != "" {
			return name + " is here. How can I help you today?"
		}
	}
	if s.greeting != "" {
		return s.greeting
	}
	return defaultGreeting
}

// ErrorNotice is the single user-visible failure bubble, with the
// configured fallback contact channel appended when one exists.
func (s *Session) ErrorNotice() string {
	notice := defaultErrorNotice
	if s.contactLine != "" {
		notice = notice + " " + strings.TrimSpace(s.contactLine)
	}
	return notice
}

func (s *Session) record(ctx context.Context, conversationID, name, role, content, delivery string) {
	if err := s.transcripts.RecordTurn(ctx, conversationID, name, role, content, delivery); err != nil {
		s.logger.Warn("transcript write failed", "conversation_id", conversationID, "error", err)
	}
}
