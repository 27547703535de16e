// ABOUTME: In-memory fan-out of turn events so other clients of a chat see activity live
// ABOUTME: Subscribers register per chat key; slow subscribers drop events instead of blocking turns

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// TurnEvent kinds.
const (
	TurnUserMessage      = "user_message"
	TurnAssistantMessage = "assistant_message"
	TurnReset            = "reset"
)

// TurnEvent describes something that happened to a chat after it was
// persisted.
type TurnEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	ChatKey   string    `json:"chatKey"`
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text,omitempty"`
	State     string    `json:"state,omitempty"` // done, error or aborted for assistant messages
	Timestamp time.Time `json:"timestamp"`
}

// EventBroadcaster provides in-memory pub/sub for TurnEvents keyed by chat
// key. It only reaches subscribers in this process.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *TurnEvent // chatKey -> subID -> ch
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *TurnEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on chatKey. It returns the
// event channel and a subscription ID. The subscription is removed when ctx
// is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, chatKey string) (<-chan *TurnEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *TurnEvent, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[chatKey]; !ok {
		b.subscribers[chatKey] = make(map[string]chan *TurnEvent)
	}
	b.subscribers[chatKey][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "chat_key", chatKey, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(chatKey, subID)
	}()

	return ch, subID
}

// Publish sends event to every subscriber of chatKey except excludeSubID.
// Events are dropped for subscribers whose channels are full.
func (b *EventBroadcaster) Publish(chatKey string, event *TurnEvent, excludeSubID string) {
	// Sends are non-blocking, so holding the read lock keeps Unsubscribe
	// from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers[chatKey] {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"chat_key", chatKey,
				"event_id", event.ID)
		}
	}
}

// Subscribers returns how many subscriptions chatKey has.
func (b *EventBroadcaster) Subscribers(chatKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[chatKey])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(chatKey, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[chatKey]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, chatKey)
	}

	b.logger.Debug("subscriber removed", "chat_key", chatKey, "sub_id", subID)
}

// Close closes every subscriber channel.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for chatKey, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, chatKey)
	}

	b.logger.Debug("broadcaster closed")
}
