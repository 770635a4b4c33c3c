// ABOUTME: Minimal fake agent gateway for E2E testing — speaks the WebSocket protocol, echoes messages with markdown.
// ABOUTME: Usage: fake-gateway [-addr localhost:18789] [-name "Echo Agent"] [-token secret]

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const protocolVersion = 3

// frame mirrors the gateway wire format: JSON text frames typed
// req/res/event, correlated by string id.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type connectParams struct {
	MinProtocol int `json:"minProtocol"`
	MaxProtocol int `json:"maxProtocol"`
	Client      struct {
		ID string `json:"id"`
	} `json:"client"`
	Auth *struct {
		Token string `json:"token,omitempty"`
	} `json:"auth,omitempty"`
	Nonce string `json:"nonce,omitempty"`
}

type chatSendParams struct {
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
}

func main() {
	addr := flag.String("addr", "localhost:18789", "listen address")
	name := flag.String("name", "Echo Agent", "agent display name")
	agentID := flag.String("id", "e2e-echo-agent", "agent ID")
	token := flag.String("token", "", "required auth token (empty disables auth)")
	challenge := flag.Bool("challenge", true, "send a connect.challenge before accepting connects")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	gw := &fakeGateway{
		agentID:   *agentID,
		agentName: *name,
		token:     *token,
		challenge: *challenge,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/gateway", gw.handleWS)

	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "fake-gateway listening on ws://%s/ws/gateway\n", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

type fakeGateway struct {
	agentID   string
	agentName string
	token     string
	challenge bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (g *fakeGateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}
	defer conn.Close()

	nonce := ""
	if g.challenge {
		nonce = newNonce()
		payload, _ := json.Marshal(map[string]any{"nonce": nonce, "ts": time.Now().UnixMilli()})
		if err := conn.WriteJSON(frame{Type: "event", Event: "connect.challenge", Payload: payload}); err != nil {
			log.Printf("challenge write error: %v", err)
			return
		}
	}

	connected := false
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type != "req" {
			continue
		}

		switch f.Method {
		case "connect":
			connected = g.handleConnect(conn, f, nonce)
		case "chat.send":
			if !connected {
				writeError(conn, f.ID, "not_connected", "connect first")
				continue
			}
			g.handleChatSend(conn, f)
		default:
			writeError(conn, f.ID, "unknown_method", f.Method)
		}
	}
}

func (g *fakeGateway) handleConnect(conn *websocket.Conn, f frame, nonce string) bool {
	var params connectParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		writeError(conn, f.ID, "bad_params", err.Error())
		return false
	}

	if params.MinProtocol > protocolVersion || params.MaxProtocol < protocolVersion {
		writeError(conn, f.ID, "protocol_mismatch",
			fmt.Sprintf("gateway speaks protocol %d", protocolVersion))
		return false
	}
	if nonce != "" && params.Nonce != nonce {
		writeError(conn, f.ID, "bad_nonce", "challenge nonce mismatch")
		return false
	}
	if g.token != "" && (params.Auth == nil || params.Auth.Token != g.token) {
		writeError(conn, f.ID, "unauthorized", "invalid token")
		return false
	}

	log.Printf("client connected: %s", params.Client.ID)

	payload, _ := json.Marshal(map[string]any{
		"protocol": protocolVersion,
		"agent":    map[string]string{"id": g.agentID, "name": g.agentName},
	})
	writeOK(conn, f.ID, payload)
	return true
}

// handleChatSend acks the request, then streams the echo reply as
// cumulative deltas followed by a final event.
func (g *fakeGateway) handleChatSend(conn *websocket.Conn, f frame) {
	var params chatSendParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		writeError(conn, f.ID, "bad_params", err.Error())
		return
	}

	log.Printf("received message [%s]: %s", params.SessionKey, params.Message)

	writeOK(conn, f.ID, json.RawMessage(`{}`))

	reply := echoReply(params.Message)
	words := strings.Fields(reply)

	// Cumulative snapshots: each delta carries the full text so far.
	var sofar strings.Builder
	for i, word := range words {
		if i > 0 {
			sofar.WriteString(" ")
		}
		sofar.WriteString(word)
		writeChatEvent(conn, "delta", sofar.String())
		time.Sleep(20 * time.Millisecond)
	}
	writeChatEvent(conn, "final", reply)
}

func writeChatEvent(conn *websocket.Conn, state, text string) {
	payload, _ := json.Marshal(map[string]any{
		"state":   state,
		"message": map[string]any{"content": text},
	})
	if err := conn.WriteJSON(frame{Type: "event", Event: "chat", Payload: payload}); err != nil {
		log.Printf("chat event write error: %v", err)
	}
}

func writeOK(conn *websocket.Conn, id string, payload json.RawMessage) {
	ok := true
	if err := conn.WriteJSON(frame{Type: "res", ID: id, OK: &ok, Payload: payload}); err != nil {
		log.Printf("response write error: %v", err)
	}
}

func writeError(conn *websocket.Conn, id, code, message string) {
	ok := false
	if err := conn.WriteJSON(frame{Type: "res", ID: id, OK: &ok, Error: &frameError{Code: code, Message: message}}); err != nil {
		log.Printf("error write error: %v", err)
	}
}

func newNonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote.\n"
	}
	return fmt.Sprintf("Echo: **%s**\n\nI received your message and am responding with some *formatted* text.", input)
}
