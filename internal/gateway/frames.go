// ABOUTME: Wire frame definitions for the agent gateway WebSocket protocol.
// ABOUTME: JSON text frames typed req/res/event, correlated by string id.

package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol version bounds advertised during connect.
const (
	MinProtocol = 3
	MaxProtocol = 3
)

// Frame is a raw protocol frame. Exactly one of the three shapes is
// populated depending on Type: requests carry Method/Params, responses
// carry OK and Payload or Error, events carry Event and Payload.
type Frame struct {
	Type    string          `json:"type"`              // "req", "res", "event"
	ID      string          `json:"id,omitempty"`      // request/response correlation id
	Method  string          `json:"method,omitempty"`  // request method
	Params  json.RawMessage `json:"params,omitempty"`  // request params
	OK      *bool           `json:"ok,omitempty"`      // response ok
	Payload json.RawMessage `json:"payload,omitempty"` // response/event payload
	Event   string          `json:"event,omitempty"`   // event name
	Error   *FrameError     `json:"error,omitempty"`   // response error
}

// FrameError is the error object carried by a failed response.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FrameError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// challengePayload is the connect.challenge event payload.
type challengePayload struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

// connectParams is sent as the "connect" request.
type connectParams struct {
	MinProtocol int           `json:"minProtocol"`
	MaxProtocol int           `json:"maxProtocol"`
	Client      connectClient `json:"client"`
	Auth        *connectAuth  `json:"auth,omitempty"`
	Nonce       string        `json:"nonce,omitempty"`
}

type connectClient struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	Mode       string `json:"mode"`
	InstanceID string `json:"instanceId"`
}

type connectAuth struct {
	Token string `json:"token,omitempty"`
}

// connectResult is the payload of a successful connect response.
type connectResult struct {
	Protocol int `json:"protocol"`
	Agent    struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"agent"`
}

// chatSendParams is the "chat.send" request params. Deliver is always
// false: the reply comes back as chat events, not through the gateway's
// own delivery channels.
type chatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	Deliver        bool   `json:"deliver"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Streaming states carried by chat events.
const (
	StateDelta   = "delta"
	StateFinal   = "final"
	StateError   = "error"
	StateAborted = "aborted"
)

// chatEventPayload is the payload of a "chat" event. Message content is
// either a plain string or an array of typed content blocks.
type chatEventPayload struct {
	State   string `json:"state"`
	Message struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// contentBlock is one element of a block-structured message content array.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// extractText renders message content to display text. A JSON string is
// returned as-is; an array of blocks contributes its text-typed blocks
// concatenated in order. Anything else yields the empty string.
func extractText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(content, &plain); err == nil {
		return plain
	}

	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return ""
	}

	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}
