// ABOUTME: HTTP API handlers for the chat widget backend.
// ABOUTME: POST /api/chat is dispatched by request body shape, not path.

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/concierge/internal/relay"
	"github.com/2389/concierge/internal/session"
)

// chatRequest is the body of POST /api/chat. The Type field selects the
// operation: "callback" delivers the agent's reply, "status" polls, and
// an absent type submits a new visitor message.
type chatRequest struct {
	Type      string `json:"type,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Response  string `json:"response,omitempty"`
	Secret    string `json:"secret,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Name      string `json:"name,omitempty"`
}

// chatResponse covers every /api/chat reply shape; zero fields are omitted.
type chatResponse struct {
	OK        bool   `json:"ok,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Status    string `json:"status,omitempty"`
	Reply     string `json:"reply,omitempty"`
	ReplyHTML string `json:"replyHtml,omitempty"`
	Error     string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleChat dispatches POST /api/chat by body shape.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, chatResponse{Error: "POST only"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "invalid JSON body"})
		return
	}

	switch req.Type {
	case "callback":
		s.handleCallback(w, r, req)
	case "status":
		s.handleStatus(w, r, req)
	case "history":
		s.handleHistory(w, r, req)
	case "":
		s.handleSubmit(w, r, req)
	default:
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "unknown request type"})
	}
}

// handleCallback is the agent's delivery of a finished reply. The secret
// comes from the body or, for bearer-style agents, the Authorization
// header.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request, req chatRequest) {
	if req.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "requestId is required"})
		return
	}

	secret := req.Secret
	if secret == "" {
		secret = bearerToken(r)
	}

	if err := s.session.DeliverReply(req.RequestID, req.Response, secret); err != nil {
		if errors.Is(err, relay.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, chatResponse{Error: "unauthorized"})
			return
		}
		s.logger.Error("callback delivery failed", "request_id", req.RequestID, "error", err)
		writeJSON(w, http.StatusInternalServerError, chatResponse{Error: "delivery failed"})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{OK: true})
}

// handleStatus is the widget's poll for a mailbox-delivered reply.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, req chatRequest) {
	if req.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "requestId is required"})
		return
	}

	reply, complete := s.session.PollReply(r.Context(), req.RequestID)
	if !complete {
		writeJSON(w, http.StatusOK, chatResponse{Status: relay.StatusPending})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Status:    relay.StatusComplete,
		Reply:     reply,
		ReplyHTML: renderReplyHTML(reply),
	})
}

// handleSubmit accepts a new visitor message.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, req chatRequest) {
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "No message provided"})
		return
	}

	reply := s.session.Send(r.Context(), req.Message, req.SessionID, req.Name)

	switch reply.Status {
	case relay.StatusProcessing:
		writeJSON(w, http.StatusOK, chatResponse{
			RequestID: reply.RequestID,
			Status:    relay.StatusProcessing,
		})
	case relay.StatusDemo, session.StatusComplete, session.StatusError:
		writeJSON(w, http.StatusOK, chatResponse{
			Status:    reply.Status,
			Reply:     reply.Text,
			ReplyHTML: renderReplyHTML(reply.Text),
		})
	default:
		s.logger.Error("unexpected send status", "status", reply.Status)
		writeJSON(w, http.StatusInternalServerError, chatResponse{Error: "Failed to process message"})
	}
}

// handleHistory returns the session's recent turns so the widget can
// restore the conversation after a reload.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, req chatRequest) {
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "sessionId is required"})
		return
	}

	turns, err := s.transcripts.History(r.Context(), req.SessionID, 50)
	if err != nil {
		s.logger.Error("history lookup failed", "session_id", req.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, chatResponse{Error: "history lookup failed"})
		return
	}

	type turnJSON struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	out := make([]turnJSON, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnJSON{Role: t.Role, Content: t.Content})
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": out})
}

// handleGreeting returns the line the widget shows before the first turn,
// along with the polling cadence the widget should use for mailbox replies.
func (s *Server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"greeting":       s.session.Greeting(),
		"pollIntervalMs": int(s.pollInterval / time.Millisecond),
		"pollAttempts":   s.pollAttempts,
	})
}

// handleTranscripts lists recent conversations.
func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	convs, err := s.transcripts.Conversations(r.Context(), 50)
	if err != nil {
		s.logger.Error("listing conversations failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, chatResponse{Error: "transcript query failed"})
		return
	}

	type convJSON struct {
		ID          string `json:"id"`
		VisitorName string `json:"visitorName,omitempty"`
		StartedAt   string `json:"startedAt"`
		UpdatedAt   string `json:"updatedAt"`
		TurnCount   int    `json:"turnCount"`
	}

	out := make([]convJSON, 0, len(convs))
	for _, c := range convs {
		out = append(out, convJSON{
			ID:          c.ID,
			VisitorName: c.VisitorName,
			StartedAt:   c.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
			UpdatedAt:   c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			TurnCount:   c.TurnCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// handleTranscriptHistory returns one conversation's turns.
func (s *Server) handleTranscriptHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/transcripts/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "conversation id required"})
		return
	}

	turns, err := s.transcripts.History(r.Context(), id, 200)
	if err != nil {
		s.logger.Error("transcript history failed", "conversation_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, chatResponse{Error: "transcript query failed"})
		return
	}

	type turnJSON struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		Delivery  string `json:"delivery,omitempty"`
		CreatedAt string `json:"createdAt"`
	}

	out := make([]turnJSON, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnJSON{
			Role:      t.Role,
			Content:   t.Content,
			Delivery:  t.Delivery,
			CreatedAt: t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "turns": out})
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports whether a real agent path is available. A gateway
// that is configured but not yet connected means not-ready, unless a
// hook is also configured and sends can fall back to the mailbox path;
// with no gateway the hook path (or demo mode) is always ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.gateway != nil && !s.gateway.Connected() && s.hookURL == "" {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("gateway not connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// bearerToken extracts a bearer credential from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
