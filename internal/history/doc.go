// Package history defines conversation items and the transforms applied to
// them before they are replayed to the agent or persisted.
//
// # Items
//
// Item is a closed sum type with four variants:
//
//   - Message: user, assistant or system text
//   - ToolCall: a request to run a tool, identified by ID
//   - ToolOutput: a tool result, linked to its call by CallID
//   - Reasoning: a model reasoning fragment
//
// Attributes other than the typed fields live in Extra and are carried
// through storage untouched (except by the sanitizer's stripping step).
//
// # Pipeline
//
// Stored history always passes through, in order:
//
//  1. Sanitizer.Sanitize: drop items mentioning large tools, drop reasoning
//     not immediately followed by a message, strip reasoning references
//  2. Retain: keep the most recent N items
//  3. RepairToolPairing: drop tool outputs whose call is no longer present
//
// Check verifies the resulting invariants without changing anything.
package history
