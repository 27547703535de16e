// ABOUTME: serve command: loads config, wires the backing store, conversation core and HTTP gateway
// ABOUTME: newApp builds everything from a Config so the wiring can be exercised without a network

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dolor/dolor-gateway/internal/agent"
	"github.com/dolor/dolor-gateway/internal/auth"
	"github.com/dolor/dolor-gateway/internal/config"
	"github.com/dolor/dolor-gateway/internal/conversation"
	"github.com/dolor/dolor-gateway/internal/dedupe"
	"github.com/dolor/dolor-gateway/internal/gateway"
	"github.com/dolor/dolor-gateway/internal/history"
	"github.com/dolor/dolor-gateway/internal/kv"
	"github.com/dolor/dolor-gateway/internal/observability"
	"github.com/dolor/dolor-gateway/internal/registry"
	"github.com/dolor/dolor-gateway/internal/session"
	"github.com/dolor/dolor-gateway/internal/stream"
	"github.com/dolor/dolor-gateway/internal/telegram"
)

// defaultInstructions is the agent's base persona when agent.instructions is unset.
const defaultInstructions = `You are Dolor, a pragmatic endurance coach. Give specific, ` +
	`actionable training advice grounded in the athlete's recent data. Be concise.`

// readyProbeKey is read by the readiness check; it never exists.
const readyProbeKey = "dolor:ready"

// app is a fully wired gateway.
type app struct {
	store         kv.Store
	closeStore    func() error
	registry      *registry.Registry
	cache         *dedupe.Cache
	gateway       *gateway.Gateway
	service       *conversation.Service
	sweepInterval time.Duration
	logger        *slog.Logger
}

func runServe(ctx context.Context, configPath string) error {
	configPath = config.ResolvePath(configPath)

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s\n", cfg.Backend.Kind)
	if cfg.Telegram.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Telegram:  %s\n", cfg.Telegram.WebhookPath)
	}
	fmt.Println()

	instructions := cfg.Agent.Instructions
	if instructions == "" {
		instructions = defaultInstructions
	}
	runner := agent.NewOpenAIRunner(agent.OpenAIConfig{
		APIKey:       cfg.Agent.APIKey,
		BaseURL:      cfg.Agent.BaseURL,
		Model:        cfg.Agent.Model,
		Instructions: instructions,
	}, logger)

	a, err := newApp(ctx, cfg, runner, logger)
	if err != nil {
		return err
	}

	logger.Info("starting dolor-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backend", cfg.Backend.Kind,
	)
	return a.run(ctx)
}

// openBackend connects the configured key-value store.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (kv.Store, func() error, error) {
	switch cfg.Backend.Kind {
	case config.BackendRedis:
		client, err := kv.DialRedis(ctx, cfg.Backend.RedisAddr, cfg.Backend.RedisPassword, cfg.Backend.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		store := kv.NewRedisStore(client, cfg.BackendTimeout())
		return store, store.Close, nil

	case config.BackendSQLite:
		store, err := kv.NewSQLiteStore(cfg.Backend.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		store.SetTimeout(cfg.BackendTimeout())
		if err := store.StartJanitor(cfg.Backend.PurgeSchedule); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		logger.Warn("using in-memory backend; sessions are lost on restart")
		return kv.NewMemoryStore(nil), func() error { return nil }, nil
	}
}

// newApp wires every component from cfg around runner.
func newApp(ctx context.Context, cfg *config.Config, runner agent.Runner, logger *slog.Logger) (*app, error) {
	store, closeStore, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)

	sessionOpts := session.Options{
		MaxItems:  cfg.Session.MaxItems,
		TTL:       cfg.SessionTTL(),
		KeyPrefix: cfg.Session.KeyPrefix,
		Logger:    logger,
		Metrics:   metrics,
	}
	if cfg.History.LargeTools != nil {
		sessionOpts.Sanitizer = history.NewSanitizer(cfg.History.LargeTools...)
	}
	sessions := session.New(store, sessionOpts)

	reg := registry.New(sessions, registry.Options{
		IdleTTL:    cfg.IdleTTL(),
		MaxEntries: cfg.Registry.MaxEntries,
		Logger:     logger,
		Metrics:    metrics,
	})
	broadcaster := conversation.NewEventBroadcaster(logger)

	svc, err := conversation.New(conversation.Deps{
		Sessions: sessions,
		Registry: reg,
		Runner:   runner,
		Publisher: stream.NewPublisher(stream.Options{
			HeartbeatInterval: cfg.HeartbeatInterval(),
			Saver:             sessions,
			Logger:            logger,
			Metrics:           metrics,
		}),
		Subjects:    conversation.StaticSubjects(cfg.Subjects),
		Broadcaster: broadcaster,
	}, logger)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	a := &app{
		store:         store,
		closeStore:    closeStore,
		registry:      reg,
		service:       svc,
		sweepInterval: cfg.SweepInterval(),
		logger:        logger.With("component", "app"),
	}

	opts := gateway.Options{
		Addr:        cfg.Server.HTTPAddr,
		Broadcaster: broadcaster,
		Ready:       readiness(store),
		Logger:      logger,
	}
	if cfg.Metrics.Enabled {
		opts.Gatherer = promRegistry
		opts.MetricsPath = cfg.Metrics.Path
	}
	if cfg.Auth.JWTSecret != "" {
		opts.Verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		opts.RequireAuth = cfg.Auth.Required
	}
	if cfg.Telegram.Enabled {
		b, err := telegram.NewBot(cfg.Telegram.BotToken)
		if err != nil {
			_ = closeStore()
			return nil, fmt.Errorf("creating telegram bot: %w", err)
		}
		if cfg.Dedupe.CacheSize > 0 {
			a.cache = dedupe.NewCache(cfg.DedupeTTL(), cfg.Dedupe.CacheSize, nil)
		}
		guard := dedupe.NewGuard(store, dedupe.GuardOptions{
			Namespace: cfg.Dedupe.Namespace,
			TTL:       cfg.DedupeTTL(),
			Cache:     a.cache,
			Logger:    logger,
			Metrics:   metrics,
		})
		opts.Webhook = telegram.NewHandler(b, svc, guard, telegram.Options{
			SecretToken: cfg.Telegram.SecretToken,
			Logger:      logger,
			Metrics:     metrics,
		})
		opts.WebhookPath = cfg.Telegram.WebhookPath
	}
	a.gateway = gateway.New(svc, opts)

	return a, nil
}

// run serves until ctx is canceled and then releases the backing store.
func (a *app) run(ctx context.Context) error {
	go a.registry.Run(ctx, a.sweepInterval)
	if a.cache != nil {
		go a.sweepCache(ctx)
	}

	serveErr := a.gateway.Run(ctx)
	if err := a.closeStore(); err != nil {
		a.logger.Error("closing backing store", "error", err)
		return errors.Join(serveErr, fmt.Errorf("closing backing store: %w", err))
	}
	return serveErr
}

func (a *app) sweepCache(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.cache.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// readiness reports whether store answers a read.
func readiness(store kv.Store) gateway.ReadyFunc {
	return func(ctx context.Context) error {
		_, err := store.Get(ctx, readyProbeKey)
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return err
	}
}
