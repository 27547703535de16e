// Package observability holds the gateway's Prometheus metrics.
//
// Metrics are registered on an injected registerer so tests and multiple
// gateways in one process never collide on the default registry. Every
// recording method is safe to call on a nil *Metrics.
package observability
