// ABOUTME: Tests for the session facade's strategy dispatch.

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/concierge/internal/auth"
	"github.com/2389/concierge/internal/demo"
	"github.com/2389/concierge/internal/mailbox"
	"github.com/2389/concierge/internal/relay"
	"github.com/2389/concierge/internal/store"
)

// fakeGateway scripts the WebSocket path.
type fakeGateway struct {
	connected bool
	agentName string
	reply     string
	err       error
	lastSent  string
}

func (f *fakeGateway) Connected() bool   { return f.connected }
func (f *fakeGateway) AgentName() string { return f.agentName }

func (f *fakeGateway) SendChat(ctx context.Context, message string) (string, error) {
	f.lastSent = message
	return f.reply, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSession(t *testing.T, gw GatewayClient, hookURL string) *Session {
	t.Helper()
	mb := mailbox.New(time.Minute, 100)
	t.Cleanup(mb.Close)

	rl := relay.New(
		mb,
		auth.NewCallbackVerifier("", false),
		demo.New(""),
		hookURL,
		"",
		"",
		testLogger(),
	)
	return New(gw, rl, store.NopStore{}, "Welcome to the shop.", "Email hello@example.net instead.", testLogger())
}

func TestSend_PrefersLiveGateway(t *testing.T) {
	gw := &fakeGateway{connected: true, reply: "We open at nine."}
	s := newSession(t, gw, "")

	reply := s.Send(context.Background(), "when do you open?", "sess-1", "Ada")

	assert.Equal(t, StatusComplete, reply.Status)
	assert.Equal(t, "We open at nine.", reply.Text)
	assert.Equal(t, "when do you open?", gw.lastSent)
}

func TestSend_GatewayFailureBecomesNotice(t *testing.T) {
	gw := &fakeGateway{connected: true, err: errors.New("request timed out")}
	s := newSession(t, gw, "")

	reply := s.Send(context.Background(), "hello?", "", "")

	assert.Equal(t, StatusError, reply.Status)
	assert.Contains(t, reply.Text, "hello@example.net")
}

func TestSend_DisconnectedGatewayFallsThrough(t *testing.T) {
	gw := &fakeGateway{connected: false}
	s := newSession(t, gw, "")

	// No hook configured either, so the relay serves a demo reply
	reply := s.Send(context.Background(), "hi", "", "")

	assert.Equal(t, relay.StatusDemo, reply.Status)
	assert.NotEmpty(t, reply.Text)
	assert.Empty(t, gw.lastSent, "disconnected gateway must not be used")
}

func TestSend_NilGateway(t *testing.T) {
	s := newSession(t, nil, "")

	reply := s.Send(context.Background(), "hi", "", "")
	assert.Equal(t, relay.StatusDemo, reply.Status)
}

func TestPollReply_RoundTrip(t *testing.T) {
	s := newSession(t, nil, "")
	ctx := context.Background()

	require.NoError(t, s.DeliverReply("req-1", "the answer", ""))

	reply, complete := s.PollReply(ctx, "req-1")
	require.True(t, complete)
	assert.Equal(t, "the answer", reply)

	_, complete = s.PollReply(ctx, "req-1")
	assert.False(t, complete)
}

func TestGreeting_UsesAgentName(t *testing.T) {
	gw := &fakeGateway{connected: true, agentName: "Jeeves"}
	s := newSession(t, gw, "")

	assert.Contains(t, s.Greeting(), "Jeeves")
}

func TestGreeting_FallsBackToConfigured(t *testing.T) {
	s := newSession(t, &fakeGateway{connected: false}, "")
	assert.Equal(t, "Welcome to the shop.", s.Greeting())
}

func TestGreeting_Default(t *testing.T) {
	mb := mailbox.New(time.Minute, 10)
	t.Cleanup(mb.Close)
	rl := relay.New(mb, auth.NewCallbackVerifier("", false), demo.New(""), "", "", "", testLogger())

	s := New(nil, rl, store.NopStore{}, "", "", testLogger())
	assert.NotEmpty(t, s.Greeting())
}
