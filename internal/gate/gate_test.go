package gate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, limit int) *ConcurrencyGate {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	g, err := New(client, Config{Limit: limit})
	require.NoError(t, err)
	return g
}

func TestNew_RejectsNonPositiveLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	_, err := New(client, Config{Limit: 0})
	assert.Error(t, err)
}

func TestTryAcquire_RespectsLimit(t *testing.T) {
	g := newTestGate(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := g.TryAcquire(ctx, "poi_collect")
		require.NoError(t, err)
		assert.True(t, ok, "acquire %d", i)
	}

	ok, err := g.TryAcquire(ctx, "poi_collect")
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := g.Held(ctx, "poi_collect")
	require.NoError(t, err)
	assert.Equal(t, 2, held)
}

func TestTryAcquire_IndependentJobCodes(t *testing.T) {
	g := newTestGate(t, 1)
	ctx := context.Background()

	ok, err := g.TryAcquire(ctx, "poi_collect")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.TryAcquire(ctx, "hotel_sync")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRelease_FreesPermit(t *testing.T) {
	g := newTestGate(t, 1)
	ctx := context.Background()

	ok, err := g.TryAcquire(ctx, "poi_collect")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, g.Release(ctx, "poi_collect"))

	ok, err = g.TryAcquire(ctx, "poi_collect")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRelease_NeverGoesNegative(t *testing.T) {
	g := newTestGate(t, 1)
	ctx := context.Background()

	require.NoError(t, g.Release(ctx, "poi_collect"))
	require.NoError(t, g.Release(ctx, "poi_collect"))

	held, err := g.Held(ctx, "poi_collect")
	require.NoError(t, err)
	assert.Equal(t, 0, held)

	// A single acquire still hits the limit of 1.
	ok, err := g.TryAcquire(ctx, "poi_collect")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = g.TryAcquire(ctx, "poi_collect")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAcquireWithRetry_GivesUp(t *testing.T) {
	g := newTestGate(t, 1)
	ctx := context.Background()

	ok, err := g.TryAcquire(ctx, "hotel_sync")
	require.NoError(t, err)
	require.True(t, ok)

	err = g.AcquireWithRetry(ctx, "hotel_sync", 2, time.Millisecond)
	assert.ErrorIs(t, err, ErrGateFull)
}

func TestAcquireWithRetry_SucceedsWhenFreed(t *testing.T) {
	g := newTestGate(t, 1)
	ctx := context.Background()

	err := g.AcquireWithRetry(ctx, "hotel_sync", 3, time.Millisecond)
	assert.NoError(t, err)
}
