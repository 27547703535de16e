// ABOUTME: Turn event feed: GET /api/conversations/{id}/events streams broadcaster events as SSE
// ABOUTME: Lets a second client watch a conversation driven from Telegram or another tab

package gateway

import (
	"net/http"
	"time"

	"github.com/dolor/dolor-gateway/internal/registry"
	"github.com/dolor/dolor-gateway/internal/stream"
)

// eventsHeartbeat is the keep-alive period for idle event feeds.
var eventsHeartbeat = stream.DefaultHeartbeatInterval

// handleEvents streams turn events for one conversation until the client
// disconnects or the gateway shuts down.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if g.broadcaster == nil {
		g.sendJSONError(w, http.StatusNotFound, "event feed disabled")
		return
	}

	chatKey := registry.ChatKey(r.PathValue("id"), r.URL.Query().Get("thread_id"))

	sink, err := stream.NewSSESink(w)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID := g.broadcaster.Subscribe(r.Context(), chatKey)
	g.logger.Debug("event feed opened", "chat_key", chatKey, "sub_id", subID)

	ticker := time.NewTicker(eventsHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sink.WriteHeartbeat(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sink.WriteEnvelope(stream.Envelope{Event: ev.Kind, Data: ev}); err != nil {
				g.logger.Debug("event feed write failed", "chat_key", chatKey, "error", err)
				return
			}
		}
	}
}
