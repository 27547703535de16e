// ABOUTME: Service runs one chat turn: resolve the session, record the user message, run, publish
// ABOUTME: History in the session store is the source of truth; the registry only caches handles

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dolor/dolor-gateway/internal/agent"
	"github.com/dolor/dolor-gateway/internal/history"
	"github.com/dolor/dolor-gateway/internal/registry"
	"github.com/dolor/dolor-gateway/internal/stream"
)

var (
	// ErrEmptyMessage is returned for turns with no text.
	ErrEmptyMessage = errors.New("message text is required")

	// ErrAgentUnavailable wraps failures starting an agent run.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrTurnFailed is returned by Reply when the run ended in error.
	ErrTurnFailed = errors.New("turn failed")
)

// SessionStore defines what the service needs from session persistence.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) ([]history.Item, error)
	Append(ctx context.Context, sessionID string, items ...history.Item) error
	PopLast(ctx context.Context, sessionID string) (history.Item, bool, error)
}

// Deps are the collaborators a Service needs. Sessions, Registry, Runner
// and Publisher are required.
type Deps struct {
	Sessions  SessionStore
	Registry  *registry.Registry
	Runner    agent.Runner
	Publisher *stream.Publisher

	// Subjects defaults to resolving nobody.
	Subjects SubjectResolver
	// Instruction defaults to DefaultInstruction.
	Instruction InstructionFunc
	// Broadcaster is optional.
	Broadcaster *EventBroadcaster
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service is the conversation layer shared by the web stream API and the
// Telegram webhook.
type Service struct {
	sessions    SessionStore
	registry    *registry.Registry
	runner      agent.Runner
	publisher   *stream.Publisher
	subjects    SubjectResolver
	instruction InstructionFunc
	broadcaster *EventBroadcaster
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a Service.
func New(deps Deps, logger *slog.Logger) (*Service, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("conversation: session store is required")
	case deps.Registry == nil:
		return nil, errors.New("conversation: registry is required")
	case deps.Runner == nil:
		return nil, errors.New("conversation: runner is required")
	case deps.Publisher == nil:
		return nil, errors.New("conversation: publisher is required")
	}
	if deps.Subjects == nil {
		deps.Subjects = StaticSubjects(nil)
	}
	if deps.Instruction == nil {
		deps.Instruction = DefaultInstruction
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:    deps.Sessions,
		registry:    deps.Registry,
		runner:      deps.Runner,
		publisher:   deps.Publisher,
		subjects:    deps.Subjects,
		instruction: deps.Instruction,
		broadcaster: deps.Broadcaster,
		now:         deps.Now,
		logger:      logger.With("component", "conversation"),
	}, nil
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	ChatKey string
	// UserID identifies the caller to the SubjectResolver. Empty skips
	// subject resolution.
	UserID string
	Text   string
	// UserMessageID correlates the turn in the start envelope. Generated
	// when empty.
	UserMessageID string
}

// Stream runs a turn and publishes it to sink. An error means nothing was
// published; the outcome otherwise reports how the stream ended.
//
// The user message is recorded before the agent runs. If the agent cannot
// start, the recorded items are rolled back.
func (s *Service) Stream(ctx context.Context, req TurnRequest, sink stream.Sink) (stream.Outcome, error) {
	return s.turn(ctx, req, sink, false)
}

// Reply runs a turn without streaming and returns the final reply text.
func (s *Service) Reply(ctx context.Context, req TurnRequest) (string, error) {
	return s.reply(ctx, req, false)
}

// Greeting opens a chat: the instruction is resent and the agent is asked
// to introduce itself.
func (s *Service) Greeting(ctx context.Context, req TurnRequest) (string, error) {
	req.Text = GreetingPrompt
	return s.reply(ctx, req, true)
}

// Reset clears a chat's history and cached handle.
func (s *Service) Reset(ctx context.Context, chatKey string) error {
	h, err := s.registry.Reset(ctx, chatKey)
	if err != nil {
		return err
	}
	s.publish(h, TurnReset, "", "")
	return nil
}

// History returns the stored history for a chat.
func (s *Service) History(ctx context.Context, chatKey string) ([]history.Item, error) {
	return s.sessions.Get(ctx, registry.SessionID(chatKey))
}

func (s *Service) reply(ctx context.Context, req TurnRequest, forceInstruction bool) (string, error) {
	sink := &stream.BufferSink{}
	out, err := s.turn(ctx, req, sink, forceInstruction)
	if err != nil {
		return "", err
	}
	switch out.State {
	case stream.StateDone:
		text := out.Result.Text
		if text == "" {
			text = out.Text
		}
		return strings.TrimSpace(text), nil
	case stream.StateAborted:
		return "", out.Err
	default:
		return "", fmt.Errorf("%w: %w", ErrTurnFailed, out.Err)
	}
}

func (s *Service) turn(ctx context.Context, req TurnRequest, sink stream.Sink, forceInstruction bool) (stream.Outcome, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return stream.Outcome{}, ErrEmptyMessage
	}
	if req.UserMessageID == "" {
		req.UserMessageID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	subject := s.syncSubject(ctx, req)
	h := s.registry.Resolve(req.ChatKey)
	fingerprint := registry.Fingerprint(subject)

	// 1. Record the instruction (when stale) and the user message first.
	var pending []history.Item
	if forceInstruction || h.InstructionFingerprint != fingerprint {
		pending = append(pending, history.SystemMessage(s.instruction(subject)))
	}
	pending = append(pending, history.UserMessage(text))
	if err := s.sessions.Append(ctx, h.SessionID, pending...); err != nil {
		return stream.Outcome{}, fmt.Errorf("recording message: %w", err)
	}

	s.logger.Debug("user message recorded",
		"chat_key", req.ChatKey,
		"session_id", h.SessionID,
		"message_id", req.UserMessageID,
		"instruction", len(pending) > 1)

	// 2. Load the history the agent will see.
	items, err := s.sessions.Get(ctx, h.SessionID)
	if err != nil {
		s.rollback(ctx, h.SessionID, pending)
		return stream.Outcome{}, fmt.Errorf("loading history: %w", err)
	}

	// 3. Start the agent.
	run, err := s.runner.Run(ctx, agent.Request{SessionID: h.SessionID, History: items})
	if err != nil {
		s.rollback(ctx, h.SessionID, pending)
		return stream.Outcome{}, fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
	}
	if len(pending) > 1 {
		s.registry.RecordInstruction(req.ChatKey, fingerprint)
	}
	s.publish(h, TurnUserMessage, text, "")

	// 4. Publish; the publisher persists the result or the partial reply.
	out := s.publisher.Publish(ctx, run, sink, stream.Meta{
		SessionID:     h.SessionID,
		UserMessageID: req.UserMessageID,
	})

	reply := out.Result.Text
	if reply == "" {
		reply = out.Text
	}
	s.publish(h, TurnAssistantMessage, reply, out.State.String())

	s.logger.Info("turn finished",
		"chat_key", req.ChatKey,
		"session_id", h.SessionID,
		"state", out.State.String())
	return out, nil
}

// syncSubject resolves the caller's subject and binds it to the chat. A
// lookup failure keeps whatever subject the chat already had.
func (s *Service) syncSubject(ctx context.Context, req TurnRequest) string {
	if req.UserID == "" {
		return s.registry.Resolve(req.ChatKey).Subject
	}
	subject, err := s.subjects.Subject(ctx, req.UserID)
	if err != nil {
		s.logger.Warn("subject lookup failed, keeping previous subject",
			"chat_key", req.ChatKey,
			"user_id", req.UserID,
			"error", err)
		return s.registry.Resolve(req.ChatKey).Subject
	}
	if s.registry.SyncSubject(req.ChatKey, subject) {
		s.logger.Info("chat subject changed", "chat_key", req.ChatKey)
	}
	return subject
}

// rollback pops the items this turn recorded. Only the pending items that
// survived the store's pipeline are popped, so a message the sanitizer
// dropped never costs an earlier item. It runs even if ctx was cancelled
// so an aborted start never leaves a half-applied turn.
func (s *Service) rollback(ctx context.Context, sessionID string, pending []history.Item) {
	ctx = context.WithoutCancel(ctx)
	items, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		s.logger.Error("rolling back turn failed", "session_id", sessionID, "error", err)
		return
	}
	n := recordedTail(items, pending)
	for range n {
		if _, _, err := s.sessions.PopLast(ctx, sessionID); err != nil {
			s.logger.Error("rolling back turn failed", "session_id", sessionID, "error", err)
			return
		}
	}
	s.logger.Debug("turn rolled back", "session_id", sessionID, "items", n, "pending", len(pending))
}

// recordedTail counts how many of pending sit at the end of items, in order.
// Pending items missing from the tail were dropped by the store.
func recordedTail(items, pending []history.Item) int {
	n := 0
	i := len(items) - 1
	for j := len(pending) - 1; j >= 0 && i >= 0; j-- {
		if history.Equal(items[i], pending[j]) {
			n++
			i--
		}
	}
	return n
}

func (s *Service) publish(h registry.Handle, kind, text, state string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(h.ChatKey, &TurnEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		ChatKey:   h.ChatKey,
		SessionID: h.SessionID,
		Text:      text,
		State:     state,
		Timestamp: s.now().UTC(),
	}, "")
}
