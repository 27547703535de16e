// ABOUTME: Gateway owns the HTTP server: stream API, Telegram webhook, health and metrics
// ABOUTME: Run serves until the context is canceled, then shuts down gracefully

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dolor/dolor-gateway/internal/auth"
	"github.com/dolor/dolor-gateway/internal/conversation"
	"github.com/dolor/dolor-gateway/internal/history"
	"github.com/dolor/dolor-gateway/internal/stream"
)

// shutdownTimeout bounds graceful shutdown after the run context ends.
const shutdownTimeout = 5 * time.Second

// Conversations is what the HTTP API needs from the conversation layer.
type Conversations interface {
	Stream(ctx context.Context, req conversation.TurnRequest, sink stream.Sink) (stream.Outcome, error)
	Reset(ctx context.Context, chatKey string) error
	History(ctx context.Context, chatKey string) ([]history.Item, error)
}

// ReadyFunc reports whether the backing store is reachable.
type ReadyFunc func(ctx context.Context) error

// Options configures a Gateway. Everything except Addr is optional.
type Options struct {
	Addr string

	// Verifier enables bearer authentication on the conversation API.
	Verifier auth.TokenVerifier
	// RequireAuth rejects anonymous API calls when a Verifier is set.
	RequireAuth bool

	// Webhook is mounted at WebhookPath when non-nil.
	Webhook     http.Handler
	WebhookPath string

	// Broadcaster backs the turn events endpoint.
	Broadcaster *conversation.EventBroadcaster

	// Gatherer is exposed at MetricsPath when non-nil.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	Ready  ReadyFunc
	Logger *slog.Logger
}

// Gateway serves the dolor-gateway HTTP surface.
type Gateway struct {
	convs       Conversations
	broadcaster *conversation.EventBroadcaster
	ready       ReadyFunc
	httpServer  *http.Server
	logger      *slog.Logger
}

// New creates a Gateway and registers its routes.
func New(convs Conversations, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		convs:       convs,
		broadcaster: opts.Broadcaster,
		ready:       opts.Ready,
		logger:      logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	g.registerAPIRoutes(mux, opts)

	if opts.Webhook != nil {
		path := opts.WebhookPath
		if path == "" {
			path = "/telegram/webhook"
		}
		mux.Handle(path, opts.Webhook)
		g.logger.Info("telegram webhook enabled", "path", path)
	}

	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	g.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// registerAPIRoutes registers API routes on the mux with or without auth middleware.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, opts Options) {
	wrap := func(h http.HandlerFunc) http.Handler { return h }
	switch {
	case opts.Verifier != nil && opts.RequireAuth:
		wrap = func(h http.HandlerFunc) http.Handler { return auth.Middleware(opts.Verifier)(h) }
		g.logger.Info("HTTP auth middleware enabled")
	case opts.Verifier != nil:
		wrap = func(h http.HandlerFunc) http.Handler { return auth.OptionalMiddleware(opts.Verifier)(h) }
		g.logger.Info("HTTP auth optional")
	default:
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	mux.Handle("POST /api/conversations/{id}/stream", wrap(g.handleStream))
	mux.Handle("POST /api/conversations/{id}/reset", wrap(g.handleReset))
	mux.Handle("GET /api/conversations/{id}/history", wrap(g.handleHistory))
	mux.Handle("GET /api/conversations/{id}/events", wrap(g.handleEvents))
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run listens on the configured address and serves until ctx is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The run context is already done; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the HTTP server and closes event subscriptions.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	// Open event streams would otherwise hold Shutdown until its deadline.
	if g.broadcaster != nil {
		g.broadcaster.Close()
	}
	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the backing store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.ready != nil {
		if err := g.ready(r.Context()); err != nil {
			g.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("backing store unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
