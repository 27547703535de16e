// ABOUTME: ScriptedRunner replays a fixed event script as an agent.Runner for tests
// ABOUTME: Supports start failures, late failures and gating to hold a run open

package agenttest

import (
	"context"
	"strings"
	"sync"

	"github.com/dolor/dolor-gateway/internal/agent"
	"github.com/dolor/dolor-gateway/internal/history"
)

// ScriptedRunner emits Events in order and then finishes.
type ScriptedRunner struct {
	Events []agent.Event

	// Result is returned by Wait. When zero, the text deltas are joined into
	// a single assistant message.
	Result agent.Result

	// StartErr fails Run before any event.
	StartErr error

	// Err fails the run after all events are sent.
	Err error

	// Gate, when set, holds the run open after the events until it is closed
	// or the run's context ends.
	Gate <-chan struct{}

	// AfterEvent is called after event i has been delivered.
	AfterEvent func(i int)

	mu       sync.Mutex
	requests []agent.Request
}

// Run implements agent.Runner.
func (s *ScriptedRunner) Run(ctx context.Context, req agent.Request) (agent.Run, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.StartErr != nil {
		return nil, s.StartErr
	}

	pipe := agent.NewPipe()
	go s.play(ctx, pipe)
	return pipe, nil
}

// Requests returns every request seen so far.
func (s *ScriptedRunner) Requests() []agent.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agent.Request(nil), s.requests...)
}

func (s *ScriptedRunner) play(ctx context.Context, pipe *agent.Pipe) {
	var text strings.Builder
	for i, ev := range s.Events {
		if ev.Kind == agent.EventText {
			text.WriteString(ev.Text)
		}
		if !pipe.Send(ctx, ev) {
			pipe.Finish(agent.Result{Text: text.String()}, ctx.Err())
			return
		}
		if s.AfterEvent != nil {
			s.AfterEvent(i)
		}
	}

	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			pipe.Finish(agent.Result{Text: text.String()}, ctx.Err())
			return
		}
	}

	if s.Err != nil {
		pipe.Finish(agent.Result{Text: text.String()}, s.Err)
		return
	}

	result := s.Result
	if result.Items == nil && result.Text == "" {
		result.Text = text.String()
		if result.Text != "" {
			result.Items = []history.Item{history.AssistantMessage(result.Text)}
		}
	}
	pipe.Finish(result, nil)
}
