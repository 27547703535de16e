// ABOUTME: Stream envelope names, payload shapes and SSE frame encoding
// ABOUTME: Frames are "event: <name>\ndata: <json>\n\n"; heartbeats are comment lines

package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope event names.
const (
	EventStart    = "start"
	EventToken    = "token"
	EventProgress = "progress"
	EventDone     = "done"
	EventError    = "error"
)

// HeartbeatFrame is the keep-alive comment written while idle.
const HeartbeatFrame = ": keep-alive\n\n"

// Envelope is one outward stream event.
type Envelope struct {
	Event string
	Data  any
}

// IsTerminal reports whether the envelope ends a stream.
func (e Envelope) IsTerminal() bool {
	return e.Event == EventDone || e.Event == EventError
}

// StartData carries identifiers the caller can correlate with its request.
type StartData struct {
	SessionID          string    `json:"sessionId"`
	UserMessageID      string    `json:"userMessageId,omitempty"`
	AssistantMessageID string    `json:"assistantMessageId"`
	CreatedAt          time.Time `json:"createdAt"`
}

// TokenData is an incremental text delta.
type TokenData struct {
	Delta string `json:"delta"`
}

// Progress phases.
const (
	PhaseCalled = "called"
	PhaseDone   = "done"
)

// ProgressData is a human-readable tool lifecycle label.
type ProgressData struct {
	Phase string `json:"phase"`
	Label string `json:"label"`
	Tool  string `json:"tool,omitempty"`
}

// DoneData ends a successful stream.
type DoneData struct {
	AssistantMessageID string `json:"assistantMessageId"`
}

// ErrorData ends a failed or cancelled stream.
type ErrorData struct {
	Error string `json:"error"`
}

// EncodeFrame renders an envelope as an SSE frame.
func EncodeFrame(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env.Data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", env.Event, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", env.Event, data)), nil
}
