// ABOUTME: Correlation layer for the webhook-plus-polling delivery path.
// ABOUTME: Submits to the agent out of band and parks replies in the mailbox.

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/concierge/internal/auth"
	"github.com/2389/concierge/internal/demo"
	"github.com/2389/concierge/internal/mailbox"
)

// ErrUnauthorized is returned when a callback presents a bad secret.
var ErrUnauthorized = errors.New("callback not authorized")

// Delivery statuses reported to the widget.
const (
	StatusProcessing = "processing"
	StatusDemo       = "demo"
	StatusComplete   = "complete"
	StatusPending    = "pending"
)

const hookTimeout = 10 * time.Second

// SubmitResult is the outcome of one message submission.
type SubmitResult struct {
	RequestID string
	Status    string // StatusProcessing or StatusDemo
	Reply     string // set only for StatusDemo
}

// Relay coordinates the webhook-plus-polling path: Submit seeds a pending
// mailbox entry and triggers the agent's hook, Deliver is the agent's
// callback, Poll consumes the reply at most once. When no hook is
// configured, or the trigger fails, Submit degrades to a demo reply so the
// visitor never waits on a request nobody will answer.
type Relay struct {
	mailbox     *mailbox.Store
	verifier    *auth.CallbackVerifier
	demo        *demo.Responder
	hookURL     string
	hookSecret  string
	callbackURL string
	client      *http.Client
	logger      *slog.Logger
}

// New creates a relay. hookURL may be empty, which disables the mailbox
// path entirely. callbackURL is the address the agent should deliver its
// reply to, forwarded verbatim in the trigger payload.
func New(store *mailbox.Store, verifier *auth.CallbackVerifier, responder *demo.Responder, hookURL, hookSecret, callbackURL string, logger *slog.Logger) *Relay {
	return &Relay{
		mailbox:     store,
		verifier:    verifier,
		demo:        responder,
		hookURL:     hookURL,
		hookSecret:  hookSecret,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: hookTimeout},
		logger:      logger.With("component", "relay"),
	}
}

// hookPayload is what the agent's hook receives: the message plus
// everything it needs to call back.
type hookPayload struct {
	RequestID   string `json:"requestId"`
	Message     string `json:"message"`
	SessionID   string `json:"sessionId,omitempty"`
	Name        string `json:"name,omitempty"`
	CallbackURL string `json:"callbackUrl,omitempty"`
	Secret      string `json:"secret,omitempty"`
}

// Submit accepts a visitor message. On success the caller gets a request
// id to poll; when the agent cannot be triggered the caller gets an
// immediate demo reply instead and no mailbox entry is left behind.
func (r *Relay) Submit(ctx context.Context, message, sessionID, name string) SubmitResult {
	if r.hookURL == "" {
		return SubmitResult{Status: StatusDemo, Reply: r.demo.Reply(message)}
	}

	requestID := mintRequestID()
	r.mailbox.Create(requestID)

	if err := r.trigger(ctx, requestID, message, sessionID, name); err != nil {
		r.logger.Warn("agent trigger failed, serving demo reply",
			"request_id", requestID,
			"error", err,
		)
		// Don't leave a dangling pending entry for a request nobody will answer
		r.mailbox.Delete(requestID)
		return SubmitResult{Status: StatusDemo, Reply: r.demo.Reply(message)}
	}

	r.logger.Info("message submitted to agent", "request_id", requestID)
	return SubmitResult{RequestID: requestID, Status: StatusProcessing}
}

// Deliver records the agent's reply for a request id. The presented
// secret is checked per the verifier's mode; a rejected secret leaves the
// mailbox untouched.
func (r *Relay) Deliver(requestID, response, secret string) error {
	if err := r.verifier.Verify(secret); err != nil {
		r.logger.Warn("callback rejected", "request_id", requestID, "error", err)
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	r.mailbox.Deliver(requestID, response)
	r.logger.Info("reply delivered", "request_id", requestID)
	return nil
}

// Poll checks for the reply. The first poll that observes a fulfilled
// entry consumes it; everyone else sees pending.
func (r *Relay) Poll(requestID string) (reply string, complete bool) {
	return r.mailbox.Take(requestID)
}

// trigger fires the out-of-band HTTP call that asks the agent to process
// the message and call back.
func (r *Relay) trigger(ctx context.Context, requestID, message, sessionID, name string) error {
	payload := hookPayload{
		RequestID:   requestID,
		Message:     message,
		SessionID:   sessionID,
		Name:        name,
		CallbackURL: r.callbackURL,
		Secret:      r.hookSecret,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling hook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.hookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building hook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling agent hook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agent hook returned %d", resp.StatusCode)
	}
	return nil
}

// mintRequestID builds a time-prefixed id with a random suffix. Collision
// probability is negligible; uniqueness is not formally guaranteed.
func mintRequestID() string {
	return fmt.Sprintf("req-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
