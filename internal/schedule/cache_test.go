package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

type countingRepo struct {
	calls     int
	schedules map[string]*models.JobSchedule
}

func (r *countingRepo) GetJobSchedule(_ context.Context, jobCode string) (*models.JobSchedule, error) {
	r.calls++
	return r.schedules[jobCode], nil
}

func newTestCache(ttl time.Duration) (*Cache, *countingRepo) {
	repo := &countingRepo{
		schedules: map[string]*models.JobSchedule{
			"poi_collect": {JobCode: "poi_collect", CronExpr: "0 2 * * *", Enabled: true},
		},
	}
	return New(repo, ttl), repo
}

func TestGet_CachesWithinTTL(t *testing.T) {
	c, repo := newTestCache(time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s, err := c.Get(ctx, "poi_collect")
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, "0 2 * * *", s.CronExpr)
	}
	assert.Equal(t, 1, repo.calls)
}

func TestGet_RefreshesAfterTTL(t *testing.T) {
	c, repo := newTestCache(time.Minute)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Get(ctx, "poi_collect")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "poi_collect")
	require.NoError(t, err)

	assert.Equal(t, 2, repo.calls)
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	c, repo := newTestCache(time.Hour)
	ctx := context.Background()

	_, err := c.Get(ctx, "poi_collect")
	require.NoError(t, err)

	c.Invalidate("poi_collect")

	_, err = c.Get(ctx, "poi_collect")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func TestInvalidateAll(t *testing.T) {
	c, repo := newTestCache(time.Hour)
	ctx := context.Background()

	repo.schedules["hotel_sync"] = &models.JobSchedule{JobCode: "hotel_sync", CronExpr: "@hourly"}

	_, err := c.Get(ctx, "poi_collect")
	require.NoError(t, err)
	_, err = c.Get(ctx, "hotel_sync")
	require.NoError(t, err)

	c.InvalidateAll()

	_, err = c.Get(ctx, "poi_collect")
	require.NoError(t, err)
	_, err = c.Get(ctx, "hotel_sync")
	require.NoError(t, err)
	assert.Equal(t, 4, repo.calls)
}
