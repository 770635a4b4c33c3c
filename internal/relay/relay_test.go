// ABOUTME: Tests for the relay's submit/deliver/poll cycle and demo fallback.

package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/concierge/internal/auth"
	"github.com/2389/concierge/internal/demo"
	"github.com/2389/concierge/internal/mailbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRelay(t *testing.T, hookURL, secret string, require bool) (*Relay, *mailbox.Store) {
	t.Helper()
	store := mailbox.New(time.Minute, 100)
	t.Cleanup(store.Close)

	r := New(
		store,
		auth.NewCallbackVerifier(secret, require),
		demo.New("Reach us at hello@example.net."),
		hookURL,
		secret,
		"https://concierge.example.net/api/chat",
		testLogger(),
	)
	return r, store
}

func TestSubmit_NoHookConfigured(t *testing.T) {
	r, store := newRelay(t, "", "", false)

	result := r.Submit(context.Background(), "hi", "", "")

	assert.Equal(t, StatusDemo, result.Status)
	assert.NotEmpty(t, result.Reply)
	assert.Empty(t, result.RequestID)
	assert.Equal(t, 0, store.Len(), "demo fallback must not create a mailbox entry")
}

func TestSubmit_HappyPath(t *testing.T) {
	var mu sync.Mutex
	var received hookPayload

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, json.NewDecoder(req.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	r, store := newRelay(t, hook.URL, "s3cret", false)

	result := r.Submit(context.Background(), "what time do you open?", "sess-1", "Ada")
	require.Equal(t, StatusProcessing, result.Status)
	require.NotEmpty(t, result.RequestID)
	assert.True(t, store.Pending(result.RequestID))

	mu.Lock()
	assert.Equal(t, result.RequestID, received.RequestID)
	assert.Equal(t, "what time do you open?", received.Message)
	assert.Equal(t, "sess-1", received.SessionID)
	assert.Equal(t, "Ada", received.Name)
	assert.Equal(t, "https://concierge.example.net/api/chat", received.CallbackURL)
	mu.Unlock()

	// Agent calls back, first poll consumes, second sees pending
	require.NoError(t, r.Deliver(result.RequestID, "We open at nine.", "s3cret"))

	reply, complete := r.Poll(result.RequestID)
	require.True(t, complete)
	assert.Equal(t, "We open at nine.", reply)

	_, complete = r.Poll(result.RequestID)
	assert.False(t, complete)
}

func TestSubmit_HookFailureFallsBackToDemo(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer hook.Close()

	r, store := newRelay(t, hook.URL, "", false)

	result := r.Submit(context.Background(), "hi", "", "")

	assert.Equal(t, StatusDemo, result.Status)
	assert.NotEmpty(t, result.Reply)
	assert.Equal(t, 0, store.Len(), "failed trigger must not leave a dangling entry")
}

func TestSubmit_HookUnreachable(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	hook.Close() // nothing listening anymore

	r, _ := newRelay(t, hook.URL, "", false)

	result := r.Submit(context.Background(), "hi", "", "")
	assert.Equal(t, StatusDemo, result.Status)
	assert.NotEmpty(t, result.Reply)
}

func TestDeliver_BadSecret(t *testing.T) {
	r, _ := newRelay(t, "", "s3cret", false)

	err := r.Deliver("req-1", "reply", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, complete := r.Poll("req-1")
	assert.False(t, complete)
}

func TestDeliver_LenientAcceptsMissingSecret(t *testing.T) {
	r, _ := newRelay(t, "", "s3cret", false)

	require.NoError(t, r.Deliver("req-1", "reply", ""))

	reply, complete := r.Poll("req-1")
	require.True(t, complete)
	assert.Equal(t, "reply", reply)
}

func TestDeliver_StrictRejectsMissingSecret(t *testing.T) {
	r, _ := newRelay(t, "", "s3cret", true)

	err := r.Deliver("req-1", "reply", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPoll_UnknownRequest(t *testing.T) {
	r, _ := newRelay(t, "", "", false)

	_, complete := r.Poll("req-never-seen")
	assert.False(t, complete)
}

func TestMintRequestID(t *testing.T) {
	a := mintRequestID()
	b := mintRequestID()

	assert.Regexp(t, `^req-\d+-[0-9a-f]{8}$`, a)
	assert.NotEqual(t, a, b)
}
