// ABOUTME: Configuration loading and parsing for dolor-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults and validation

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Defaults applied by Load.
const (
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultMaxItems            = 60
	DefaultDedupeTTLSeconds    = 600
	DefaultIdleTTLSeconds      = 600
	DefaultHeartbeatIntervalMs = 5000
	DefaultBackendTimeoutMs    = 2000
	DefaultSweepSeconds        = 60
	DefaultWebhookPath         = "/telegram/webhook"
	DefaultMetricsPath         = "/metrics"

	MinJWTSecretLength = 32
)

// EnvConfigPath names the environment variable consulted by ResolvePath.
const EnvConfigPath = "DOLOR_CONFIG"

// Config represents the complete dolor-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Backend  BackendConfig  `yaml:"backend" toml:"backend"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Dedupe   DedupeConfig   `yaml:"dedupe" toml:"dedupe"`
	Registry RegistryConfig `yaml:"registry" toml:"registry"`
	Stream   StreamConfig   `yaml:"stream" toml:"stream"`
	History  HistoryConfig  `yaml:"history" toml:"history"`
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
	Agent    AgentConfig    `yaml:"agent" toml:"agent"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`

	// Subjects links caller ids (JWT subjects or "telegram:<user id>") to
	// athlete ids.
	Subjects map[string]string `yaml:"subjects" toml:"subjects"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// BackendConfig selects the TTL key-value store behind sessions and dedupe.
type BackendConfig struct {
	Kind          string `yaml:"kind" toml:"kind"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path" toml:"sqlite_path"`
	// PurgeSchedule is a cron spec for deleting expired SQLite rows.
	PurgeSchedule string `yaml:"purge_schedule" toml:"purge_schedule"`
	TimeoutMs     int    `yaml:"timeout_ms" toml:"timeout_ms"`
}

// SessionConfig bounds stored history.
type SessionConfig struct {
	MaxItems int `yaml:"max_items" toml:"max_items"`
	// TTLSeconds of zero keeps sessions forever.
	TTLSeconds int    `yaml:"ttl_seconds" toml:"ttl_seconds"`
	KeyPrefix  string `yaml:"key_prefix" toml:"key_prefix"`
}

// DedupeConfig configures update claims.
type DedupeConfig struct {
	TTLSeconds int    `yaml:"ttl_seconds" toml:"ttl_seconds"`
	Namespace  string `yaml:"namespace" toml:"namespace"`
	// CacheSize enables an in-process front cache when positive.
	CacheSize int `yaml:"cache_size" toml:"cache_size"`
}

// RegistryConfig configures the chat session handle cache.
type RegistryConfig struct {
	IdleTTLSeconds       int `yaml:"idle_ttl_seconds" toml:"idle_ttl_seconds"`
	MaxEntries           int `yaml:"max_entries" toml:"max_entries"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" toml:"sweep_interval_seconds"`
}

// StreamConfig configures the stream publisher.
type StreamConfig struct {
	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms" toml:"heartbeat_interval_ms"`
}

// HistoryConfig configures the sanitizer. A nil LargeTools uses the
// built-in list; an explicit empty list filters nothing.
type HistoryConfig struct {
	LargeTools []string `yaml:"large_tools" toml:"large_tools"`
}

// TelegramConfig holds Telegram webhook configuration
type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	BotToken    string `yaml:"bot_token" toml:"bot_token"`
	SecretToken string `yaml:"secret_token" toml:"secret_token"`
	WebhookPath string `yaml:"webhook_path" toml:"webhook_path"`
}

// AgentConfig configures the OpenAI-compatible agent runtime.
type AgentConfig struct {
	APIKey       string `yaml:"api_key" toml:"api_key"`
	BaseURL      string `yaml:"base_url" toml:"base_url"`
	Model        string `yaml:"model" toml:"model"`
	Instructions string `yaml:"instructions" toml:"instructions"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	// Required rejects stream API calls without a valid token.
	Required bool `yaml:"required" toml:"required"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded. Files ending
// in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return Parse(data, format)
}

// Parse decodes, defaults and validates configuration data in the given
// format ("yaml" or "toml").
func Parse(data []byte, format string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case "yaml", "":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// ResolvePath picks the config file to load: an explicit path wins, then
// $DOLOR_CONFIG, then ./config.yaml, then ~/.config/dolor/gateway.yaml.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	candidates := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "dolor", "gateway.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = BackendMemory
	}
	if c.Backend.TimeoutMs == 0 {
		c.Backend.TimeoutMs = DefaultBackendTimeoutMs
	}
	if c.Session.MaxItems == 0 {
		c.Session.MaxItems = DefaultMaxItems
	}
	if c.Dedupe.TTLSeconds == 0 {
		c.Dedupe.TTLSeconds = DefaultDedupeTTLSeconds
	}
	if c.Registry.IdleTTLSeconds == 0 {
		c.Registry.IdleTTLSeconds = DefaultIdleTTLSeconds
	}
	if c.Registry.SweepIntervalSeconds == 0 {
		c.Registry.SweepIntervalSeconds = DefaultSweepSeconds
	}
	if c.Stream.HeartbeatIntervalMs == 0 {
		c.Stream.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	if c.Telegram.WebhookPath == "" {
		c.Telegram.WebhookPath = DefaultWebhookPath
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendMemory:
	case BackendRedis:
		if c.Backend.RedisAddr == "" {
			return fmt.Errorf("backend.redis_addr is required when backend.kind is redis")
		}
	case BackendSQLite:
		if c.Backend.SQLitePath == "" {
			return fmt.Errorf("backend.sqlite_path is required when backend.kind is sqlite")
		}
	default:
		return fmt.Errorf("backend.kind must be memory, redis or sqlite, got %q", c.Backend.Kind)
	}

	if c.Backend.TimeoutMs < 0 {
		return fmt.Errorf("backend.timeout_ms must not be negative")
	}
	if c.Session.MaxItems < 0 {
		return fmt.Errorf("session.max_items must not be negative")
	}
	if c.Session.TTLSeconds < 0 {
		return fmt.Errorf("session.ttl_seconds must not be negative")
	}
	if c.Dedupe.TTLSeconds < 0 {
		return fmt.Errorf("dedupe.ttl_seconds must be positive")
	}
	if c.Registry.IdleTTLSeconds < 0 {
		return fmt.Errorf("registry.idle_ttl_seconds must be positive")
	}
	if c.Stream.HeartbeatIntervalMs < 0 {
		return fmt.Errorf("stream.heartbeat_interval_ms must be positive")
	}

	if c.Agent.APIKey == "" && c.Agent.BaseURL == "" {
		return fmt.Errorf("agent.api_key is required")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}
	if c.Telegram.WebhookPath != "" && !strings.HasPrefix(c.Telegram.WebhookPath, "/") {
		return fmt.Errorf("telegram.webhook_path must start with /")
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.required is set")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// SessionTTL returns the session record TTL; zero means no expiry.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

// DedupeTTL returns the update claim TTL.
func (c *Config) DedupeTTL() time.Duration {
	return time.Duration(c.Dedupe.TTLSeconds) * time.Second
}

// IdleTTL returns the chat handle idle lifetime.
func (c *Config) IdleTTL() time.Duration {
	return time.Duration(c.Registry.IdleTTLSeconds) * time.Second
}

// SweepInterval returns how often idle chat handles are swept.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Registry.SweepIntervalSeconds) * time.Second
}

// HeartbeatInterval returns the stream keep-alive period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Stream.HeartbeatIntervalMs) * time.Millisecond
}

// BackendTimeout returns the per-operation backing store timeout.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutMs) * time.Millisecond
}
