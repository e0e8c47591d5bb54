// Package schedule caches job schedule lookups with a short TTL so the
// scheduler does not hit the database on every tick.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// DefaultTTL bounds how stale a cached schedule can be.
const DefaultTTL = 30 * time.Second

// Repository is the backing store the cache reads through to.
type Repository interface {
	GetJobSchedule(ctx context.Context, jobCode string) (*models.JobSchedule, error)
}

type entry struct {
	schedule  *models.JobSchedule
	fetchedAt time.Time
}

// Cache is a TTL read-through cache over the job schedule table.
type Cache struct {
	repo Repository
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates a cache over the repository. A non-positive ttl falls
// back to DefaultTTL.
func New(repo Repository, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		repo:    repo,
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the schedule for a job code, refreshing from the
// repository when the cached copy is missing or expired. The refresh
// path holds the lock, so concurrent callers cannot trigger duplicate
// refreshes for the same expiry window.
func (c *Cache) Get(ctx context.Context, jobCode string) (*models.JobSchedule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[jobCode]; ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.schedule, nil
	}

	// Re-check after the fetch would be redundant under one lock; the
	// first caller through refreshes for everyone.
	schedule, err := c.repo.GetJobSchedule(ctx, jobCode)
	if err != nil {
		return nil, err
	}
	c.entries[jobCode] = entry{schedule: schedule, fetchedAt: c.now()}
	return schedule, nil
}

// Invalidate drops the cached entry for one job code.
func (c *Cache) Invalidate(jobCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobCode)
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}
