// Package agent defines the contract between the gateway and the agent
// runtime that actually produces replies.
//
// # Runner
//
// A Runner starts one turn over a session's history:
//
//	run, err := runner.Run(ctx, agent.Request{SessionID: id, History: items})
//
// The returned Run streams Events until the turn ends, then Wait reports the
// items the turn produced or the reason it failed. Events must be drained
// before calling Wait. Cancelling ctx asks the runtime to stop; the Events
// channel is closed either way.
//
// # Events
//
// Event kinds cover what the gateway republishes:
//
//   - EventText: an incremental text delta
//   - EventToolUse / EventToolResult: tool call lifecycle
//   - EventReasoning: the model started reasoning
//   - EventAgentUpdated: a handoff to another named agent
//   - EventOther: anything else, ignored downstream
//
// # Pipe
//
// Pipe is the channel plumbing shared by runner implementations: the
// producer side sends events and finishes once; the consumer side is a Run.
//
// OpenAIRunner streams chat completions through go-openai. It is text-only:
// tools are never offered to the model.
package agent
