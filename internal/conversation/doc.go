// Package conversation runs chat turns on top of the session store, the
// chat session registry and the stream publisher.
//
// # Turn flow
//
// Stream, Reply and Greeting share one path:
//
//  1. Resolve the caller's subject and bind it to the chat (a change
//     invalidates the cached instruction fingerprint)
//  2. Append the system instruction when the fingerprint differs, then the
//     user message. Record first, then act: the message is stored before
//     the agent sees it
//  3. Load the sanitized history and start the agent run. If the run cannot
//     start, the items from step 2 are popped again
//  4. Publish the run to the sink. The publisher persists the result on
//     success and the partial reply on failure or abort
//
// Session store failures fail the turn before anything is published.
//
// # Event Broadcasting
//
// EventBroadcaster fans TurnEvents out to in-process subscribers keyed by
// chat key, so a second client watching a chat sees turns as they land:
//
//	events, subID := broadcaster.Subscribe(ctx, chatKey)
//
// Slow subscribers drop events rather than stall a turn.
package conversation
