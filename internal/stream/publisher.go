// ABOUTME: StreamingResponsePublisher: turns an agent run into start/token/progress/done|error envelopes
// ABOUTME: Owns the heartbeat ticker, persists partial text on failure or abort, and checks abort between events

package stream

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dolor/dolor-gateway/internal/agent"
	"github.com/dolor/dolor-gateway/internal/history"
	"github.com/dolor/dolor-gateway/internal/observability"
)

// DefaultHeartbeatInterval is the idle keep-alive period.
const DefaultHeartbeatInterval = 5 * time.Second

// cancelledMessage is the error text written when the caller aborts.
const cancelledMessage = "request cancelled"

// State is a publication's terminal state.
type State int

const (
	StateDone State = iota
	StateError
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Saver persists turn output. session.Store implements it.
type Saver interface {
	Append(ctx context.Context, sessionID string, items ...history.Item) error
}

// Ticker is the subset of time.Ticker the publisher needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Meta identifies a publication to the caller.
type Meta struct {
	SessionID     string
	UserMessageID string
	// AssistantMessageID is generated when empty.
	AssistantMessageID string
}

// Outcome reports how a publication ended.
type Outcome struct {
	State State
	// Text is every delta seen, whatever the terminal state.
	Text   string
	Result agent.Result
	Err    error
}

// Options configures a Publisher.
type Options struct {
	HeartbeatInterval time.Duration
	Labels            LabelTable
	// Saver persists result items on success and partial text on
	// interruption. Nil disables persistence.
	Saver     Saver
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	NewTicker func(time.Duration) Ticker
	Now       func() time.Time
}

// Publisher republishes agent runs to sinks. It is safe for concurrent use;
// each Publish call owns its own state.
type Publisher struct {
	interval  time.Duration
	labels    LabelTable
	saver     Saver
	logger    *slog.Logger
	metrics   *observability.Metrics
	newTicker func(time.Duration) Ticker
	now       func() time.Time
}

// NewPublisher creates a Publisher.
func NewPublisher(opts Options) *Publisher {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Labels == nil {
		opts.Labels = DefaultLabels()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTimeTicker
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{
		interval:  opts.HeartbeatInterval,
		labels:    opts.Labels,
		saver:     opts.Saver,
		logger:    opts.Logger.With("component", "stream"),
		metrics:   opts.Metrics,
		newTicker: opts.NewTicker,
		now:       opts.Now,
	}
}

// publication is the per-call state.
type publication struct {
	*Publisher
	sink   Sink
	meta   Meta
	text   strings.Builder
	closed bool
}

// Publish consumes run until it ends or ctx is cancelled and writes
// envelopes to sink. Exactly one of done or error is written unless the sink
// closed first. Publish never returns a write error; it reports the terminal
// state instead.
func (p *Publisher) Publish(ctx context.Context, run agent.Run, sink Sink, meta Meta) Outcome {
	if meta.AssistantMessageID == "" {
		meta.AssistantMessageID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	pub := &publication{Publisher: p, sink: sink, meta: meta}

	pub.write(Envelope{Event: EventStart, Data: StartData{
		SessionID:          meta.SessionID,
		UserMessageID:      meta.UserMessageID,
		AssistantMessageID: meta.AssistantMessageID,
		CreatedAt:          p.now().UTC(),
	}})

	ticker := p.newTicker(p.interval)
	defer ticker.Stop()

	events := run.Events()
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			pub.handle(ev)
			if ctx.Err() != nil {
				return pub.abort(ctx)
			}
		case <-ticker.C():
			pub.heartbeat()
		}
	}

	result, err := run.Wait()
	if err != nil {
		if ctx.Err() != nil {
			return pub.abort(ctx)
		}
		return pub.fail(ctx, err)
	}
	return pub.complete(ctx, result)
}

func (pub *publication) handle(ev agent.Event) {
	if ev.Kind == agent.EventText {
		if ev.Text == "" {
			return
		}
		pub.text.WriteString(ev.Text)
		pub.write(Envelope{Event: EventToken, Data: TokenData{Delta: ev.Text}})
		return
	}
	if progress, ok := pub.labels.Progress(ev); ok {
		pub.write(Envelope{Event: EventProgress, Data: progress})
	}
}

// complete persists the result. The run already finished, so a caller that
// disconnects now must not cost the turn.
func (pub *publication) complete(ctx context.Context, result agent.Result) Outcome {
	if pub.saver != nil && len(result.Items) > 0 {
		if err := pub.saver.Append(context.WithoutCancel(ctx), pub.meta.SessionID, result.Items...); err != nil {
			pub.logger.Error("persisting turn failed", "session_id", pub.meta.SessionID, "error", err)
			pub.write(Envelope{Event: EventError, Data: ErrorData{Error: err.Error()}})
			pub.metrics.RecordStreamTerminal(StateError.String())
			return Outcome{State: StateError, Text: pub.text.String(), Result: result, Err: err}
		}
	}

	pub.write(Envelope{Event: EventDone, Data: DoneData{AssistantMessageID: pub.meta.AssistantMessageID}})
	pub.metrics.RecordStreamTerminal(StateDone.String())
	return Outcome{State: StateDone, Text: pub.text.String(), Result: result}
}

func (pub *publication) fail(ctx context.Context, err error) Outcome {
	pub.logger.Warn("agent run failed", "session_id", pub.meta.SessionID, "error", err)
	pub.savePartial(context.WithoutCancel(ctx))
	pub.write(Envelope{Event: EventError, Data: ErrorData{Error: err.Error()}})
	pub.metrics.RecordStreamTerminal(StateError.String())
	return Outcome{State: StateError, Text: pub.text.String(), Err: err}
}

func (pub *publication) abort(ctx context.Context) Outcome {
	pub.logger.Info("stream aborted by caller", "session_id", pub.meta.SessionID)
	pub.savePartial(context.WithoutCancel(ctx))
	pub.write(Envelope{Event: EventError, Data: ErrorData{Error: cancelledMessage}})
	pub.metrics.RecordStreamTerminal(StateAborted.String())
	return Outcome{State: StateAborted, Text: pub.text.String(), Err: ctx.Err()}
}

// savePartial stores accumulated text as an interrupted assistant message.
func (pub *publication) savePartial(ctx context.Context) {
	text := pub.text.String()
	if pub.saver == nil || strings.TrimSpace(text) == "" {
		return
	}
	msg := history.Message{
		Role:    history.RoleAssistant,
		Content: text,
		Extra:   map[string]any{history.ExtraInterrupted: true},
	}
	err := pub.saver.Append(ctx, pub.meta.SessionID, msg)
	pub.metrics.RecordPartialSave(err)
	if err != nil {
		pub.logger.Error("saving interrupted reply failed", "session_id", pub.meta.SessionID, "error", err)
	}
}

func (pub *publication) heartbeat() {
	if pub.closed {
		return
	}
	if err := pub.sink.WriteHeartbeat(); err != nil {
		pub.markClosed(err)
		return
	}
	pub.metrics.RecordHeartbeat()
}

// write sends env unless the sink already failed. Failures are never
// surfaced; they only close the sink for this publication.
func (pub *publication) write(env Envelope) {
	if pub.closed {
		return
	}
	if err := pub.sink.WriteEnvelope(env); err != nil {
		pub.markClosed(err)
	}
}

func (pub *publication) markClosed(err error) {
	pub.closed = true
	pub.logger.Debug("stream sink closed", "session_id", pub.meta.SessionID, "error", err)
}
