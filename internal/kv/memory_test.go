// ABOUTME: Tests specific to the in-memory Store
// ABOUTME: Covers value isolation and live key counting

package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CopiesValues(t *testing.T) {
	m := NewMemoryStore(nil)
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, 0))
	buf[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'y'
	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryStore_Len(t *testing.T) {
	clock := newFakeClock()
	m := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, m.Set(ctx, "b", []byte("1"), 0))
	assert.Equal(t, 2, m.Len())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, m.Len())
}
