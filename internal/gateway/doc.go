// Package gateway owns the dolor-gateway HTTP server.
//
// # HTTP API
//
// Conversation endpoints, guarded by optional JWT bearer auth:
//
//   - POST /api/conversations/{id}/stream - Run a turn (SSE streaming response)
//   - POST /api/conversations/{id}/reset - Clear history
//   - GET /api/conversations/{id}/history - Stored items
//   - GET /api/conversations/{id}/events - Turn event feed (SSE)
//
// Thread-scoped conversations pass thread_id in the body (stream) or query
// string (everything else).
//
// Unauthenticated endpoints:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Backing store check
//   - GET /metrics - Prometheus metrics, when enabled
//   - /telegram/webhook - Telegram updates, when enabled
//
// # SSE Streaming
//
// A turn is streamed as envelopes from the stream package:
//
//	event: start
//	data: {"sessionId":"...","assistantMessageId":"...","createdAt":"..."}
//
//	event: token
//	data: {"delta":"Easy "}
//
//	event: done
//	data: {"assistantMessageId":"..."}
//
// The response status is committed before the turn starts, so a turn that
// cannot start is reported as a single error envelope.
//
// # Lifecycle
//
//	gw := gateway.New(svc, gateway.Options{Addr: ":8080"})
//	err := gw.Run(ctx) // returns after graceful shutdown
package gateway
