// ABOUTME: Transport abstraction between the connection manager and the wire.
// ABOUTME: Emits a tagged event stream; the production impl wraps gorilla/websocket.

package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TransportEvent is the tagged union of things a transport can report.
// The connection manager consumes these from a single dispatch loop, so
// state transitions stay single-threaded and testable without a socket.
type TransportEvent interface {
	isTransportEvent()
}

// FrameReceived carries one inbound wire message.
type FrameReceived struct {
	Data []byte
}

// TransportClosed reports that the transport shut down, cleanly or not.
type TransportClosed struct {
	Err error
}

func (FrameReceived) isTransportEvent()   {}
func (TransportClosed) isTransportEvent() {}

// Transport is one live link to the gateway. Events delivers inbound
// frames and the eventual close; the channel is closed after
// TransportClosed is emitted.
type Transport interface {
	Events() <-chan TransportEvent
	Send(data []byte) error
	Close() error
}

// DialFunc opens a transport to the given URL. Injected into the
// connection manager so tests can substitute a fake.
type DialFunc func(ctx context.Context, url string) (Transport, error)

const wsHandshakeTimeout = 10 * time.Second

// DialWebSocket opens a gorilla/websocket transport.
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial failed: %w", err)
	}

	t := &wsTransport{
		conn:   conn,
		events: make(chan TransportEvent, 16),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// wsTransport adapts a gorilla connection to the Transport interface.
type wsTransport struct {
	conn   *websocket.Conn
	events chan TransportEvent
	done   chan struct{} // closed by Close; unblocks a full events channel

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (t *wsTransport) Events() <-chan TransportEvent { return t.events }

func (t *wsTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.closeMu.Lock()
	alreadyClosed := t.closed
	t.closed = true
	t.closeMu.Unlock()

	if alreadyClosed {
		return nil
	}
	close(t.done)

	t.writeMu.Lock()
	_ = t.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	t.writeMu.Unlock()

	return t.conn.Close()
}

// readLoop pumps inbound messages into the event channel until the
// connection dies, then reports the close and ends the stream.
func (t *wsTransport) readLoop() {
	defer close(t.events)

	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			t.emit(TransportClosed{Err: err})
			return
		}
		if !t.emit(FrameReceived{Data: msg}) {
			return
		}
	}
}

// emit delivers an event unless the transport was closed. Without the
// done guard a consumer that stopped reading would wedge readLoop on a
// full channel forever.
func (t *wsTransport) emit(ev TransportEvent) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.done:
		return false
	}
}
