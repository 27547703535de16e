// ABOUTME: Tests for Guard: first claim wins, repeats collapse, expiry reopens, outages fail open
// ABOUTME: Uses the in-memory kv store on a fake clock and a failing store double

package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/dolor/dolor-gateway/internal/kv"
	"github.com/dolor/dolor-gateway/internal/observability"
)

type downKV struct{ calls int }

func (d *downKV) Get(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (d *downKV) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}
func (d *downKV) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	d.calls++
	return false, errors.New("dial tcp: connection refused")
}
func (d *downKV) Del(context.Context, string) error { return errors.New("down") }

func TestGuard_ClaimWithinAndAfterTTL(t *testing.T) {
	clock := newFakeClock()
	g := NewGuard(kv.NewMemoryStore(clock.Now), GuardOptions{TTL: 600 * time.Second})
	ctx := context.Background()

	assert.True(t, g.Claim(ctx, 42))
	assert.False(t, g.Claim(ctx, 42))
	assert.True(t, g.Claim(ctx, 43))

	clock.Advance(601 * time.Second)
	assert.True(t, g.Claim(ctx, 42))
}

func TestGuard_Key(t *testing.T) {
	g := NewGuard(kv.NewMemoryStore(nil), GuardOptions{})
	assert.Equal(t, "telegram:update:42", g.Key(42))

	g = NewGuard(kv.NewMemoryStore(nil), GuardOptions{Namespace: "web:event"})
	assert.Equal(t, "web:event:-7", g.Key(-7))
}

func TestGuard_WritesMarkerWithTTL(t *testing.T) {
	clock := newFakeClock()
	store := kv.NewMemoryStore(clock.Now)
	g := NewGuard(store, GuardOptions{})
	ctx := context.Background()

	assert.True(t, g.Claim(ctx, 7))
	v, err := store.Get(ctx, "telegram:update:7")
	assert.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	clock.Advance(DefaultTTL)
	_, err = store.Get(ctx, "telegram:update:7")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestGuard_FailsOpen(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	g := NewGuard(&downKV{}, GuardOptions{Metrics: m})
	ctx := context.Background()

	assert.True(t, g.Claim(ctx, 42))
	assert.True(t, g.Claim(ctx, 42))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DedupeClaims.WithLabelValues("error")))
}

func TestGuard_FrontCacheShortCircuits(t *testing.T) {
	clock := newFakeClock()
	store := &downKV{}
	g := NewGuard(store, GuardOptions{Cache: NewCache(DefaultTTL, 100, clock.Now)})
	ctx := context.Background()

	// Outage: the first delivery still goes through, the redelivery is
	// caught locally without another round trip.
	assert.True(t, g.Claim(ctx, 42))
	assert.False(t, g.Claim(ctx, 42))
	assert.Equal(t, 1, store.calls)

	clock.Advance(DefaultTTL)
	assert.True(t, g.Claim(ctx, 42))
}

func TestGuard_FrontCacheAvoidsRoundTrip(t *testing.T) {
	clock := newFakeClock()
	m := observability.NewMetrics(prometheus.NewRegistry())
	g := NewGuard(kv.NewMemoryStore(clock.Now), GuardOptions{
		Cache:   NewCache(DefaultTTL, 100, clock.Now),
		Metrics: m,
	})
	ctx := context.Background()

	assert.True(t, g.Claim(ctx, 1))
	assert.False(t, g.Claim(ctx, 1))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DedupeClaims.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DedupeClaims.WithLabelValues("cached")))
}

func TestGuard_DuplicateFromAnotherProcess(t *testing.T) {
	clock := newFakeClock()
	store := kv.NewMemoryStore(clock.Now)
	a := NewGuard(store, GuardOptions{Cache: NewCache(DefaultTTL, 100, clock.Now)})
	b := NewGuard(store, GuardOptions{Cache: NewCache(DefaultTTL, 100, clock.Now)})
	ctx := context.Background()

	assert.True(t, a.Claim(ctx, 99))
	assert.False(t, b.Claim(ctx, 99))
}

func TestGuard_RedeliveryToPeerReopensWithStoreTTL(t *testing.T) {
	clock := newFakeClock()
	store := kv.NewMemoryStore(clock.Now)
	a := NewGuard(store, GuardOptions{TTL: DefaultTTL, Cache: NewCache(DefaultTTL, 100, clock.Now)})
	bCache := NewCache(DefaultTTL, 100, clock.Now)
	b := NewGuard(store, GuardOptions{TTL: DefaultTTL, Cache: bCache})
	ctx := context.Background()

	assert.True(t, a.Claim(ctx, 42))

	clock.Advance(300 * time.Second)
	assert.False(t, b.Claim(ctx, 42))
	assert.Zero(t, bCache.Len(), "a peer's claim is not cached locally")

	// a's claim has expired in the store; b must not keep the key alive.
	clock.Advance(400 * time.Second)
	assert.True(t, b.Claim(ctx, 42))
}

func TestGuard_CachedClaimExpiresWithStoreKey(t *testing.T) {
	clock := newFakeClock()
	store := kv.NewMemoryStore(clock.Now)
	g := NewGuard(store, GuardOptions{TTL: DefaultTTL, Cache: NewCache(DefaultTTL, 100, clock.Now)})
	ctx := context.Background()

	assert.True(t, g.Claim(ctx, 7))
	clock.Advance(DefaultTTL - time.Second)
	assert.False(t, g.Claim(ctx, 7))

	clock.Advance(time.Second)
	_, err := store.Get(ctx, g.Key(7))
	assert.ErrorIs(t, err, kv.ErrNotFound)
	assert.True(t, g.Claim(ctx, 7))
}
