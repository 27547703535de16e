// ABOUTME: HTTP API handlers for streaming chat turns to web clients via SSE.
// ABOUTME: Provides stream, reset and history endpoints under /api/conversations/{id}.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dolor/dolor-gateway/internal/auth"
	"github.com/dolor/dolor-gateway/internal/conversation"
	"github.com/dolor/dolor-gateway/internal/history"
	"github.com/dolor/dolor-gateway/internal/registry"
	"github.com/dolor/dolor-gateway/internal/session"
	"github.com/dolor/dolor-gateway/internal/stream"
)

// maxRequestBytes caps stream request bodies.
const maxRequestBytes = 64 << 10

// StreamRequest is the JSON request body for POST /api/conversations/{id}/stream.
type StreamRequest struct {
	Text     string `json:"text"`
	ThreadID string `json:"thread_id,omitempty"`
	// MessageID lets the client correlate the start envelope with its request.
	MessageID string `json:"message_id,omitempty"`
}

// ResetResponse is the JSON response for POST /api/conversations/{id}/reset.
type ResetResponse struct {
	ChatKey   string `json:"chat_key"`
	SessionID string `json:"session_id"`
}

// HistoryResponse is the JSON response for GET /api/conversations/{id}/history.
type HistoryResponse struct {
	ChatKey   string        `json:"chat_key"`
	SessionID string        `json:"session_id"`
	Items     history.Items `json:"items"`
}

// handleStream runs one chat turn and streams it as Server-Sent Events.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	var req StreamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	chatKey := registry.ChatKey(r.PathValue("id"), req.ThreadID)
	userID, _ := auth.SubjectFromContext(r.Context())

	// Headers are committed here; failures after this point are reported
	// in-band as a single error envelope.
	sink, err := stream.NewSSESink(w)
	if err != nil {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	out, err := g.convs.Stream(r.Context(), conversation.TurnRequest{
		ChatKey:       chatKey,
		UserID:        userID,
		Text:          req.Text,
		UserMessageID: req.MessageID,
	}, sink)
	if err != nil {
		g.logger.Error("turn failed to start", "chat_key", chatKey, "error", err)
		if werr := sink.WriteEnvelope(stream.Envelope{
			Event: stream.EventError,
			Data:  stream.ErrorData{Error: publicError(err)},
		}); werr != nil {
			g.logger.Debug("writing error envelope failed", "error", werr)
		}
		return
	}

	g.logger.Debug("stream finished", "chat_key", chatKey, "state", out.State.String())
}

// handleReset clears a conversation's history.
func (g *Gateway) handleReset(w http.ResponseWriter, r *http.Request) {
	chatKey := registry.ChatKey(r.PathValue("id"), r.URL.Query().Get("thread_id"))

	if err := g.convs.Reset(r.Context(), chatKey); err != nil {
		g.logger.Error("failed to reset conversation", "chat_key", chatKey, "error", err)
		g.sendJSONError(w, statusFor(err), publicError(err))
		return
	}

	g.sendJSON(w, http.StatusOK, ResetResponse{ChatKey: chatKey, SessionID: registry.SessionID(chatKey)})
}

// handleHistory returns a conversation's stored items.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatKey := registry.ChatKey(r.PathValue("id"), r.URL.Query().Get("thread_id"))

	items, err := g.convs.History(r.Context(), chatKey)
	if err != nil {
		g.logger.Error("failed to load history", "chat_key", chatKey, "error", err)
		g.sendJSONError(w, statusFor(err), publicError(err))
		return
	}

	g.sendJSON(w, http.StatusOK, HistoryResponse{
		ChatKey:   chatKey,
		SessionID: registry.SessionID(chatKey),
		Items:     items,
	})
}

// publicError maps internal errors to messages safe to show callers.
func publicError(err error) string {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return "text is required"
	case errors.Is(err, conversation.ErrAgentUnavailable):
		return "agent unavailable"
	case errors.Is(err, session.ErrBackingStoreUnavailable):
		return "session store unavailable"
	default:
		return "internal server error"
	}
}

func statusFor(err error) int {
	if errors.Is(err, session.ErrBackingStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// sendJSON writes a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
