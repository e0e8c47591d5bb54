package workunits

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/hotel-ingest/internal/config"
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

var (
	testRegions = []config.Region{
		{Code: "110000", Name: "Beijing"},
		{Code: "310000", Name: "Shanghai"},
	}
	testCategories = []config.Category{
		{Code: "100000", Name: "Lodging"},
		{Code: "100100", Name: "Hotel"},
		{Code: "100200", Name: "Hostel"},
	}
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client)
}

func initUnits(t *testing.T, s *Store, runID string) {
	t.Helper()

	created, err := s.Initialize(context.Background(), runID, testRegions, testCategories)
	require.NoError(t, err)
	require.True(t, created)
}

func TestInitialize_CreatesCrossProduct(t *testing.T) {
	s := newTestStore(t)
	initUnits(t, s, "run-1")

	stats, err := s.Stats(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.UnitStats{Total: 6, Pending: 6}, stats)
}

func TestInitialize_IsIdempotentPerRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	initUnits(t, s, "run-1")

	// Mutate one unit, then re-initialize.
	require.NoError(t, s.MarkProcessing(ctx, "run-1", "110000_100000"))
	require.NoError(t, s.MarkCompleted(ctx, "run-1", "110000_100000", 42))

	created, err := s.Initialize(ctx, "run-1", testRegions, testCategories)
	require.NoError(t, err)
	assert.False(t, created, "existing unit set must not be reset")

	stats, err := s.Stats(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.UnitStats{Total: 6, Pending: 5, Completed: 1}, stats)

	// A fresh run id gets its own all-PENDING set.
	created, err = s.Initialize(ctx, "run-2", testRegions, testCategories)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestClaimPending_RespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	initUnits(t, s, "run-1")

	units, err := s.ClaimPending(ctx, "run-1", 4)
	require.NoError(t, err)
	assert.Len(t, units, 4)
	for _, u := range units {
		assert.Equal(t, models.UnitPending, u.Status)
	}

	// Claiming does not transition status.
	stats, err := s.Stats(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Pending)
}

func TestClaimPending_ExcludesSettledUnits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	initUnits(t, s, "run-1")

	require.NoError(t, s.MarkProcessing(ctx, "run-1", "110000_100000"))
	require.NoError(t, s.MarkCompleted(ctx, "run-1", "110000_100000", 10))
	require.NoError(t, s.MarkProcessing(ctx, "run-1", "110000_100100"))

	units, err := s.ClaimPending(ctx, "run-1", 0)
	require.NoError(t, err)
	assert.Len(t, units, 4)
	for _, u := range units {
		assert.NotEqual(t, "110000_100000", u.UnitKey)
		assert.NotEqual(t, "110000_100100", u.UnitKey)
	}
}

func TestResetProcessing_MakesInterruptedUnitsClaimable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	initUnits(t, s, "run-1")

	require.NoError(t, s.MarkProcessing(ctx, "run-1", "110000_100000"))
	require.NoError(t, s.MarkProcessing(ctx, "run-1", "310000_100100"))
	require.NoError(t, s.MarkCompleted(ctx, "run-1", "310000_100100", 7))
	require.NoError(t, s.MarkProcessing(ctx, "run-1", "110000_100200"))

	reset, err := s.ResetProcessing(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, reset)

	stats, err := s.Stats(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.UnitStats{Total: 6, Pending: 5, Completed: 1}, stats)

	claimed, err := s.ClaimPending(ctx, "run-1", 0)
	require.NoError(t, err)
	assert.Len(t, claimed, 5)
}

func TestMarkCompleted_OnlyFromProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	initUnits(t, s, "run-1")

	err := s.MarkCompleted(ctx, "run-1", "110000_100000", 5)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.MarkProcessing(ctx, "run-1", "110000_100000"))
	require.NoError(t, s.MarkCompleted(ctx, "run-1", "110000_100000", 5))

	// Completing twice is rejected.
	err = s.MarkCompleted(ctx, "run-1", "110000_100000", 5)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkFailed_And_HasPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Initialize(ctx, "run-1",
		[]config.Region{{Code: "110000", Name: "Beijing"}},
		[]config.Category{{Code: "100000", Name: "Lodging"}})
	require.NoError(t, err)
	require.True(t, created)

	pending, err := s.HasPending(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, s.MarkProcessing(ctx, "run-1", "110000_100000"))
	require.NoError(t, s.MarkFailed(ctx, "run-1", "110000_100000"))

	pending, err = s.HasPending(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, pending)

	stats, err := s.Stats(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, stats.Settled())
	assert.Equal(t, 1, stats.Failed)
}

func TestMutate_UnknownUnit(t *testing.T) {
	s := newTestStore(t)
	initUnits(t, s, "run-1")

	err := s.MarkProcessing(context.Background(), "run-1", "999999_999999")
	assert.ErrorIs(t, err, ErrUnitNotFound)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	initUnits(t, s, "run-1")

	require.NoError(t, s.Clear(ctx, "run-1"))

	stats, err := s.Stats(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}
