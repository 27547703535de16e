// ABOUTME: UpdateDedupeGuard: claims a webhook update id once per TTL window via SetNX
// ABOUTME: Fails open on backing store errors so an outage never blocks message processing

package dedupe

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dolor/dolor-gateway/internal/kv"
	"github.com/dolor/dolor-gateway/internal/observability"
)

const (
	// DefaultNamespace prefixes claim keys.
	DefaultNamespace = "telegram:update"
	// DefaultTTL bounds the duplicate window to the platform's redelivery horizon.
	DefaultTTL = 600 * time.Second
)

var claimMarker = []byte("1")

// GuardOptions configures a Guard.
type GuardOptions struct {
	Namespace string
	TTL       time.Duration
	// Cache, when set, short-circuits repeats seen by this process.
	Cache   *Cache
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Guard claims update ids.
type Guard struct {
	store     kv.Store
	namespace string
	ttl       time.Duration
	cache     *Cache
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewGuard creates a Guard on store.
func NewGuard(store kv.Store, opts GuardOptions) *Guard {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Guard{
		store:     store,
		namespace: opts.Namespace,
		ttl:       opts.TTL,
		cache:     opts.Cache,
		logger:    opts.Logger.With("component", "dedupe"),
		metrics:   opts.Metrics,
	}
}

// Key returns the claim key for updateID.
func (g *Guard) Key(updateID int64) string {
	return g.namespace + ":" + strconv.FormatInt(updateID, 10)
}

// Claim returns true the first time updateID is claimed within the TTL and
// false on every later claim in that window. Store errors yield true.
func (g *Guard) Claim(ctx context.Context, updateID int64) bool {
	key := g.Key(updateID)

	if g.cache != nil && g.cache.Contains(key) {
		g.metrics.RecordDedupeClaim("cached")
		return false
	}

	var claimedAt time.Time
	if g.cache != nil {
		claimedAt = g.cache.now()
	}
	ok, err := g.store.SetNX(ctx, key, claimMarker, g.ttl)
	if err != nil {
		g.logger.Warn("dedupe store unavailable, processing update anyway",
			"update_id", updateID,
			"error", err,
		)
		g.metrics.RecordDedupeClaim("error")
		// Remember the claim locally so redeliveries during the outage
		// still collapse within this process.
		if g.cache != nil {
			return g.cache.MarkIfAbsent(key)
		}
		return true
	}

	if !ok {
		// Another claimant owns the key and its expiry; caching it here
		// would outlive the store's window.
		g.logger.Debug("duplicate update dropped", "update_id", updateID)
		g.metrics.RecordDedupeClaim("duplicate")
		return false
	}
	// Stamped before the round trip so the local entry never outlives the
	// store key.
	if g.cache != nil {
		g.cache.markAt(key, claimedAt)
	}
	g.metrics.RecordDedupeClaim("new")
	return true
}
