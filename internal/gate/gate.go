// Package gate provides a cross-process concurrency cap using Redis.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPermitTTL bounds how long a crashed holder can wedge a
	// permit slot.
	DefaultPermitTTL = 2 * time.Hour

	// DefaultRetryAttempts is how often continuous-mode runs retry
	// acquisition before giving up.
	DefaultRetryAttempts = 3

	// DefaultRetrySleep is the sleep between acquisition retries.
	DefaultRetrySleep = 10 * time.Second
)

// ErrGateFull is returned when every permit for a job code is held.
var ErrGateFull = errors.New("gate: no permit available")

// acquireScript increments the holder count if it is below the limit,
// refreshing the key TTL so abandoned permits eventually expire.
var acquireScript = redis.NewScript(`
	local current = tonumber(redis.call("get", KEYS[1]) or "0")
	if current < tonumber(ARGV[1]) then
		redis.call("incr", KEYS[1])
		redis.call("pexpire", KEYS[1], ARGV[2])
		return 1
	end
	return 0
`)

// releaseScript decrements the holder count, never below zero.
var releaseScript = redis.NewScript(`
	local current = tonumber(redis.call("get", KEYS[1]) or "0")
	if current > 0 then
		return redis.call("decr", KEYS[1])
	end
	return 0
`)

// ConcurrencyGate is a counting semaphore keyed by job code, shared by
// every process running against the same Redis.
type ConcurrencyGate struct {
	client *redis.Client
	limit  int
	ttl    time.Duration
}

// Config holds gate tunables.
type Config struct {
	Limit     int           // Maximum concurrent runs per job code
	PermitTTL time.Duration // Permit expiry (default: 2h)
}

// New creates a gate with the given per-job-code limit.
func New(client *redis.Client, cfg Config) (*ConcurrencyGate, error) {
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("gate: limit must be positive, got %d", cfg.Limit)
	}
	if cfg.PermitTTL <= 0 {
		cfg.PermitTTL = DefaultPermitTTL
	}
	return &ConcurrencyGate{
		client: client,
		limit:  cfg.Limit,
		ttl:    cfg.PermitTTL,
	}, nil
}

func (g *ConcurrencyGate) key(jobCode string) string {
	return "ingest:gate:" + jobCode
}

// TryAcquire attempts to take a permit without blocking. Returns false
// when the gate is full.
func (g *ConcurrencyGate) TryAcquire(ctx context.Context, jobCode string) (bool, error) {
	result, err := acquireScript.Run(ctx, g.client,
		[]string{g.key(jobCode)}, g.limit, g.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire permit: %w", err)
	}
	return result == 1, nil
}

// AcquireWithRetry retries TryAcquire a bounded number of times with a
// sleep between attempts, for continuous-mode runs. Returns ErrGateFull
// once attempts are exhausted.
func (g *ConcurrencyGate) AcquireWithRetry(ctx context.Context, jobCode string, attempts int, sleep time.Duration) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if sleep <= 0 {
		sleep = DefaultRetrySleep
	}

	for i := 0; i < attempts; i++ {
		acquired, err := g.TryAcquire(ctx, jobCode)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
		}
	}
	return ErrGateFull
}

// Release returns a permit. Safe to call when no permit is held; the
// count never goes negative.
func (g *ConcurrencyGate) Release(ctx context.Context, jobCode string) error {
	if _, err := releaseScript.Run(ctx, g.client, []string{g.key(jobCode)}).Int(); err != nil {
		return fmt.Errorf("failed to release permit: %w", err)
	}
	return nil
}

// Held reports the current holder count for a job code.
func (g *ConcurrencyGate) Held(ctx context.Context, jobCode string) (int, error) {
	val, err := g.client.Get(ctx, g.key(jobCode)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read permit count: %w", err)
	}
	return val, nil
}
