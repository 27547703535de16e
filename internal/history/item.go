// ABOUTME: Conversation item sum type: message, tool call, tool output, reasoning
// ABOUTME: Items are immutable values; Extra holds opaque attributes this package never interprets

package history

import "reflect"

// Kind identifies which variant an Item is.
type Kind string

const (
	KindMessage    Kind = "message"
	KindToolCall   Kind = "tool_call"
	KindToolOutput Kind = "tool_output"
	KindReasoning  Kind = "reasoning"
)

// Role is the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Item is one unit of conversation history. The set of implementations is
// closed: Message, ToolCall, ToolOutput and Reasoning.
type Item interface {
	Kind() Kind
	extra() map[string]any
	withExtra(map[string]any) Item
}

// Message is a user, assistant or system message.
type Message struct {
	Role    Role
	Content string
	Extra   map[string]any
}

// ToolCall is a model request to run an external tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Extra     map[string]any
}

// ToolOutput is the result of a ToolCall, linked by CallID.
type ToolOutput struct {
	CallID string
	Output string
	Extra  map[string]any
}

// Reasoning is a model reasoning fragment.
type Reasoning struct {
	Content string
	Extra   map[string]any
}

func (Message) Kind() Kind    { return KindMessage }
func (ToolCall) Kind() Kind   { return KindToolCall }
func (ToolOutput) Kind() Kind { return KindToolOutput }
func (Reasoning) Kind() Kind  { return KindReasoning }

func (m Message) extra() map[string]any    { return m.Extra }
func (c ToolCall) extra() map[string]any   { return c.Extra }
func (o ToolOutput) extra() map[string]any { return o.Extra }
func (r Reasoning) extra() map[string]any  { return r.Extra }

func (m Message) withExtra(e map[string]any) Item    { m.Extra = e; return m }
func (c ToolCall) withExtra(e map[string]any) Item   { c.Extra = e; return c }
func (o ToolOutput) withExtra(e map[string]any) Item { o.Extra = e; return o }
func (r Reasoning) withExtra(e map[string]any) Item  { r.Extra = e; return r }

// UserMessage builds a user Message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant Message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// SystemMessage builds a system Message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Equal reports whether a and b are the same item, Extra included.
func Equal(a, b Item) bool {
	return reflect.DeepEqual(a, b)
}

// IsInterrupted reports whether an item was saved from a run that did not
// complete.
func IsInterrupted(it Item) bool {
	v, _ := it.extra()[ExtraInterrupted].(bool)
	return v
}

// ExtraInterrupted marks partial assistant output saved after a failed or
// aborted run.
const ExtraInterrupted = "interrupted"
