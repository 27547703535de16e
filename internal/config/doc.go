// Package config handles configuration loading for dolor-gateway.
//
// # Configuration File
//
// ResolvePath picks the file, in order:
//
//  1. The --config flag
//  2. Path from DOLOR_CONFIG environment variable
//  3. ./config.yaml (current directory)
//  4. ~/.config/dolor/gateway.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	agent:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	backend:
//	  kind: "redis"            # memory, redis, sqlite
//	  redis_addr: "localhost:6379"
//	  sqlite_path: "/var/lib/dolor/kv.db"
//	  purge_schedule: "@every 1m"
//	  timeout_ms: 2000
//
//	session:
//	  max_items: 60
//	  ttl_seconds: 0           # 0 keeps sessions forever
//
//	dedupe:
//	  ttl_seconds: 600
//
//	registry:
//	  idle_ttl_seconds: 600
//
//	stream:
//	  heartbeat_interval_ms: 5000
//
//	history:
//	  large_tools: ["list_intervals_activities"]
//
//	telegram:
//	  enabled: true
//	  bot_token: "${TELEGRAM_BOT_TOKEN}"
//	  secret_token: "${TELEGRAM_SECRET_TOKEN}"
//
//	auth:
//	  jwt_secret: "${DOLOR_JWT_SECRET}"  # at least 32 bytes
//	  required: false
//
//	subjects:
//	  "telegram:555": "i12345"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Durations are stored as integer seconds or milliseconds and exposed
// through accessor methods such as SessionTTL and HeartbeatInterval.
package config
