// Package stream republishes a live agent run as a framed, cancellable
// event stream.
//
// A publication moves through Started, Streaming and then exactly one of
// Done, Error or Aborted. Envelopes are written in upstream order:
//
//	start     {"sessionId","userMessageId","assistantMessageId","createdAt"}
//	token     {"delta"}
//	progress  {"phase":"called"|"done","label","tool"}
//	done      {"assistantMessageId"}
//	error     {"error"}
//
// While the publisher waits on the upstream run it writes keep-alive comment
// frames at a fixed interval. Heartbeats and envelopes are written from the
// same goroutine, so every heartbeat precedes the terminal envelope, and the
// heartbeat ticker is stopped on every exit path.
//
// If a run fails or the caller cancels after some text was produced, that
// text is saved as an assistant message marked interrupted. Once a write to
// the sink fails the sink is treated as closed and later writes are dropped.
package stream
