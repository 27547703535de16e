// ABOUTME: Stream sinks: SSESink writes frames to an HTTP response, BufferSink collects in memory
// ABOUTME: BufferSink backs non-streaming callers that only need the final text

package stream

import (
	"errors"
	"net/http"
	"strings"
	"sync"
)

// ErrStreamingUnsupported is returned when a ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Sink receives a publication's output.
type Sink interface {
	WriteEnvelope(env Envelope) error
	WriteHeartbeat() error
}

// SSESink writes Server-Sent Events frames and flushes after each one.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink sets the event-stream headers and commits a 200 response.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSESink{w: w, flusher: flusher}, nil
}

// WriteEnvelope implements Sink.
func (s *SSESink) WriteEnvelope(env Envelope) error {
	frame, err := EncodeFrame(env)
	if err != nil {
		return err
	}
	return s.write(frame)
}

// WriteHeartbeat implements Sink.
func (s *SSESink) WriteHeartbeat() error {
	return s.write([]byte(HeartbeatFrame))
}

func (s *SSESink) write(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// BufferSink records everything written to it.
type BufferSink struct {
	mu         sync.Mutex
	envelopes  []Envelope
	text       strings.Builder
	heartbeats int
}

// WriteEnvelope implements Sink.
func (b *BufferSink) WriteEnvelope(env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.envelopes = append(b.envelopes, env)
	if tok, ok := env.Data.(TokenData); ok {
		b.text.WriteString(tok.Delta)
	}
	return nil
}

// WriteHeartbeat implements Sink.
func (b *BufferSink) WriteHeartbeat() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heartbeats++
	return nil
}

// Text returns the concatenated token deltas.
func (b *BufferSink) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.String()
}

// Envelopes returns a copy of the envelopes written so far.
func (b *BufferSink) Envelopes() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Envelope(nil), b.envelopes...)
}

// Heartbeats returns the number of heartbeats written.
func (b *BufferSink) Heartbeats() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.heartbeats
}
