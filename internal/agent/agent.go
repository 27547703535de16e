// ABOUTME: Runner contract: a turn streams Events then reports a Result
// ABOUTME: Event kinds mirror the tool/text/reasoning lifecycle the stream publisher republishes

package agent

import (
	"context"

	"github.com/dolor/dolor-gateway/internal/history"
)

// Runner starts agent turns.
type Runner interface {
	Run(ctx context.Context, req Request) (Run, error)
}

// Run is one in-flight turn.
type Run interface {
	// Events yields events in production order and is closed when the turn ends.
	Events() <-chan Event
	// Wait blocks until the turn ends. Call it after Events is drained.
	Wait() (Result, error)
}

// Request is the input to a turn.
type Request struct {
	SessionID string
	// History is the sanitized session history, ending with the new user message.
	History []history.Item
}

// Result is what a completed turn produced.
type Result struct {
	// Items are appended to the session on success.
	Items []history.Item
	// Text is the final assistant reply.
	Text string
}

// EventKind indicates the type of run event.
type EventKind int

const (
	EventOther EventKind = iota
	EventText
	EventToolUse
	EventToolResult
	EventReasoning
	EventAgentUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventToolUse:
		return "tool_use"
	case EventToolResult:
		return "tool_result"
	case EventReasoning:
		return "reasoning"
	case EventAgentUpdated:
		return "agent_updated"
	default:
		return "other"
	}
}

// Event is one run event.
type Event struct {
	Kind       EventKind
	Text       string           // EventText
	ToolUse    *ToolUseEvent    // EventToolUse
	ToolResult *ToolResultEvent // EventToolResult
	AgentName  string           // EventAgentUpdated
}

// ToolUseEvent represents a tool invocation by the agent.
type ToolUseEvent struct {
	ID        string
	Name      string
	InputJSON string
}

// ToolResultEvent represents the result of a tool invocation.
type ToolResultEvent struct {
	ID     string
	Name   string
	Output string
}

// TextEvent builds an EventText.
func TextEvent(delta string) Event {
	return Event{Kind: EventText, Text: delta}
}

// ToolUse builds an EventToolUse.
func ToolUse(id, name, input string) Event {
	return Event{Kind: EventToolUse, ToolUse: &ToolUseEvent{ID: id, Name: name, InputJSON: input}}
}

// ToolResult builds an EventToolResult.
func ToolResult(id, name, output string) Event {
	return Event{Kind: EventToolResult, ToolResult: &ToolResultEvent{ID: id, Name: name, Output: output}}
}
