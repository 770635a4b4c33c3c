// ABOUTME: Persistent gateway client: connection lifecycle, challenge auth,
// ABOUTME: request/response correlation, and fixed-delay reconnect.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client errors
var (
	ErrNotConnected   = errors.New("not connected to gateway")
	ErrRequestTimeout = errors.New("request timed out")
	ErrConnectionLost = errors.New("connection lost")
	ErrClientClosed   = errors.New("client closed")
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingChallenge
	Authenticating
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingChallenge:
		return "awaiting_challenge"
	case Authenticating:
		return "authenticating"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// How long to wait for a connect.challenge before assuming the gateway
// skips the challenge step and accepts a bare connect request.
var challengeGrace = 2 * time.Second

// clientVersion is advertised in the connect identity.
const clientVersion = "concierge/1.0"

// Config holds the client's connection settings.
type Config struct {
	URL            string
	Token          string
	ClientID       string
	SessionKey     string
	ReconnectDelay time.Duration
	RequestTimeout time.Duration

	// Dial is the transport factory; nil means DialWebSocket.
	Dial DialFunc

	// OnDelta observes streaming text after every delta event.
	OnDelta func(text string)
}

// callResult is what a pending request resolves to.
type callResult struct {
	payload json.RawMessage
	err     error
}

// pendingRequest is one outstanding request awaiting its response.
type pendingRequest struct {
	ch chan callResult
}

// Client owns the single persistent connection to the agent gateway.
// Run drives the connect/auth/reconnect loop; Call and SendChat are safe
// for concurrent use and fail fast when no connection is live.
type Client struct {
	cfg        Config
	dial       DialFunc
	logger     *slog.Logger
	instanceID string
	stream     *Aggregator

	mu        sync.Mutex
	state     State
	nextID    uint64 // never reused, monotonic across reconnects
	transport Transport
	pending   map[string]*pendingRequest
	connectID string
	agentName string
	closed    bool
}

// New creates a gateway client. Run must be called to establish and
// maintain the connection.
func New(cfg Config, logger *slog.Logger) *Client {
	dial := cfg.Dial
	if dial == nil {
		dial = DialWebSocket
	}

	c := &Client{
		cfg:        cfg,
		dial:       dial,
		logger:     logger.With("component", "gateway"),
		instanceID: uuid.NewString(),
		pending:    make(map[string]*pendingRequest),
	}
	c.stream = NewAggregator(cfg.OnDelta)
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether calls can currently be issued.
func (c *Client) Connected() bool {
	return c.State() == Connected
}

// AgentName returns the remote agent's display identity from the last
// successful connect, or the empty string before the first one.
func (c *Client) AgentName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentName
}

// Run connects and keeps reconnecting with a fixed delay until the
// context is cancelled or Close is called. It never returns early on
// connection errors; this is a long-lived background service.
func (c *Client) Run(ctx context.Context) {
	for {
		if c.isClosed() || ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}

		c.setState(Connecting)
		transport, err := c.dial(ctx, c.cfg.URL)
		if err != nil {
			c.logger.Warn("gateway dial failed", "url", c.cfg.URL, "error", err)
		} else {
			c.attach(transport)
			c.runConnection(ctx, transport)
		}

		// Every path through here is a disconnect: drain before the
		// next attempt begins
		c.drain()
		c.setState(Disconnected)

		if c.isClosed() || ctx.Err() != nil {
			return
		}

		c.logger.Info("reconnecting to gateway", "delay", c.cfg.ReconnectDelay)
		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// Close tears the connection down without triggering reconnect.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.state = Closing
	transport := c.transport
	c.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
}

// attach makes the new transport current. Correlation ids are monotonic
// across the process lifetime and the pending map is fully drained
// before each attempt, so a stale connection's responses can never
// resolve requests issued on this one.
func (c *Client) attach(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
	c.state = AwaitingChallenge
}

// runConnection is the single-threaded dispatch loop for one transport.
// It returns when the transport closes for any reason.
func (c *Client) runConnection(ctx context.Context, t Transport) {
	defer t.Close()

	challenge := time.NewTimer(challengeGrace)
	defer challenge.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-challenge.C:
			// No challenge arrived; this deployment accepts a bare
			// connect request
			if c.State() == AwaitingChallenge {
				if err := c.authenticate(t, ""); err != nil {
					c.logger.Warn("connect request failed", "error", err)
					return
				}
			}

		case ev, ok := <-t.Events():
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case TransportClosed:
				if ev.Err != nil {
					c.logger.Warn("gateway connection closed", "error", ev.Err)
				}
				return
			case FrameReceived:
				if done := c.handleFrame(t, ev.Data); done {
					return
				}
			}
		}
	}
}

// handleFrame processes one inbound wire message. Returns true when the
// connection should be torn down.
func (c *Client) handleFrame(t Transport, data []byte) bool {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		// Malformed frames are skipped, never fatal to the connection
		c.logger.Warn("dropping malformed frame", "error", err)
		return false
	}

	switch frame.Type {
	case "event":
		return c.handleEvent(t, frame)
	case "res":
		return c.handleResponse(frame)
	default:
		c.logger.Debug("ignoring frame", "type", frame.Type)
	}
	return false
}

func (c *Client) handleEvent(t Transport, frame Frame) bool {
	switch frame.Event {
	case "connect.challenge":
		var payload challengePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.logger.Warn("dropping malformed challenge", "error", err)
			return false
		}
		if c.State() != AwaitingChallenge {
			c.logger.Debug("ignoring challenge outside handshake")
			return false
		}
		if err := c.authenticate(t, payload.Nonce); err != nil {
			c.logger.Warn("connect request failed", "error", err)
			return true
		}

	case "chat":
		var payload chatEventPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.logger.Warn("dropping malformed chat event", "error", err)
			return false
		}
		c.stream.Apply(payload.State, extractText(payload.Message.Content))

	default:
		c.logger.Debug("ignoring event", "event", frame.Event)
	}
	return false
}

func (c *Client) handleResponse(frame Frame) bool {
	c.mu.Lock()
	isConnect := frame.ID == c.connectID && c.state == Authenticating
	c.mu.Unlock()

	if isConnect {
		return c.finishAuth(frame)
	}

	c.mu.Lock()
	req, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Expected race with timeout or disconnect
		c.logger.Debug("response for unknown request", "id", frame.ID)
		return false
	}

	if frame.Error != nil {
		req.ch <- callResult{err: frame.Error}
	} else if frame.OK != nil && !*frame.OK {
		req.ch <- callResult{err: errors.New("request rejected")}
	} else {
		req.ch <- callResult{payload: frame.Payload}
	}
	return false
}

// authenticate issues the connect request, with the nonce when the
// gateway supplied one.
func (c *Client) authenticate(t Transport, nonce string) error {
	params := connectParams{
		MinProtocol: MinProtocol,
		MaxProtocol: MaxProtocol,
		Client: connectClient{
			ID:         c.cfg.ClientID,
			Version:    clientVersion,
			Platform:   runtime.GOOS,
			Mode:       "backend",
			InstanceID: c.instanceID,
		},
		Nonce: nonce,
	}
	if c.cfg.Token != "" {
		params.Auth = &connectAuth{Token: c.cfg.Token}
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling connect params: %w", err)
	}

	c.mu.Lock()
	id := c.mintIDLocked()
	c.connectID = id
	c.state = Authenticating
	c.mu.Unlock()

	frame, err := json.Marshal(Frame{Type: "req", ID: id, Method: "connect", Params: paramsJSON})
	if err != nil {
		return fmt.Errorf("marshaling connect frame: %w", err)
	}
	return t.Send(frame)
}

// finishAuth consumes the connect response. Returns true (tear down) on
// rejection.
func (c *Client) finishAuth(frame Frame) bool {
	if frame.Error != nil || (frame.OK != nil && !*frame.OK) {
		reason := "rejected"
		if frame.Error != nil {
			reason = frame.Error.Error()
		}
		c.logger.Warn("gateway rejected connect", "reason", reason)
		return true
	}

	var result connectResult
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &result); err != nil {
			c.logger.Warn("unparseable connect payload", "error", err)
		}
	}

	c.mu.Lock()
	c.state = Connected
	if result.Agent.Name != "" {
		c.agentName = result.Agent.Name
	}
	c.mu.Unlock()

	c.logger.Info("connected to gateway", "agent", result.Agent.Name, "protocol", result.Protocol)
	return false
}

// drain fails every outstanding request with a connection-lost error and
// closes any open streaming message as aborted. Runs before the next
// connection attempt begins, so no stale response can resolve new work.
func (c *Client) drain() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.transport = nil
	c.connectID = ""
	c.mu.Unlock()

	for _, req := range pending {
		req.ch <- callResult{err: ErrConnectionLost}
	}
	c.stream.Abort()
}

// mintIDLocked returns a fresh correlation id. Ids are monotonic across
// the process lifetime and never reused, even across reconnects. Must be
// called with mu held: the id has to be registered (connectID or the
// pending map) in the same critical section, or the dispatch loop could
// observe a response for an id it does not know yet.
func (c *Client) mintIDLocked() string {
	c.nextID++
	return strconv.FormatUint(c.nextID, 10)
}

// Call sends a request and waits for its correlated response. Fails
// immediately with ErrNotConnected when no live connection exists.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s params: %w", method, err)
	}

	c.mu.Lock()
	if c.state != Connected || c.transport == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	transport := c.transport
	id := c.mintIDLocked()
	req := &pendingRequest{ch: make(chan callResult, 1)}
	c.pending[id] = req
	c.mu.Unlock()

	frame, err := json.Marshal(Frame{Type: "req", ID: id, Method: method, Params: paramsJSON})
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("marshaling %s frame: %w", method, err)
	}

	if err := transport.Send(frame); err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	select {
	case result := <-req.ch:
		return result.payload, result.err
	case <-time.After(c.cfg.RequestTimeout):
		c.removePending(id)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// SendChat submits one visitor message and waits for the streamed reply
// to reach a terminal state. The returned text is the last delta
// snapshot; a stream that failed before producing any text yields an
// error instead.
func (c *Client) SendChat(ctx context.Context, message string) (string, error) {
	if !c.Connected() {
		return "", ErrNotConnected
	}

	done := c.stream.Expect()

	params := chatSendParams{
		SessionKey:     c.cfg.SessionKey,
		Message:        message,
		Deliver:        false,
		IdempotencyKey: uuid.NewString(),
	}
	if _, err := c.Call(ctx, "chat.send", params); err != nil {
		return "", err
	}

	select {
	case result := <-done:
		if result.Failed() && result.Text == "" {
			if result.State == StateAborted {
				return "", ErrConnectionLost
			}
			return "", fmt.Errorf("agent reply ended in %s state", result.State)
		}
		return result.Text, nil
	case <-time.After(c.cfg.RequestTimeout):
		return "", ErrRequestTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed && s != Disconnected {
		return
	}
	c.state = s
}
