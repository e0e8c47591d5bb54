// Package workunits checkpoints the (region, category) decomposition of
// a POI crawl in Redis so an interrupted run can resume.
package workunits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/hotel-ingest/internal/config"
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// DefaultTTL keeps unit checkpoints long enough to resume a stalled run
// but expires abandoned ones eventually.
const DefaultTTL = 720 * time.Hour

var (
	// ErrUnitNotFound is returned when a unit key has no entry.
	ErrUnitNotFound = errors.New("workunits: unit not found")

	// ErrInvalidTransition is returned for status moves outside the
	// unit lifecycle.
	ErrInvalidTransition = errors.New("workunits: invalid status transition")
)

// Store persists work units per run as a Redis hash of JSON values.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a unit store.
func New(client *redis.Client) *Store {
	return &Store{client: client, ttl: DefaultTTL}
}

func (s *Store) key(runID string) string {
	return "poi:collect:units:" + runID
}

// Initialize creates the |regions| x |categories| unit set for a run,
// all PENDING. If units already exist for the run it changes nothing
// and returns false, which is the resume path.
func (s *Store) Initialize(ctx context.Context, runID string, regions []config.Region, categories []config.Category) (bool, error) {
	key := s.key(runID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check unit set: %w", err)
	}
	if exists > 0 {
		return false, nil
	}

	fields := make(map[string]any, len(regions)*len(categories))
	for _, r := range regions {
		for _, c := range categories {
			unit := models.WorkUnit{
				RegionCode:   r.Code,
				RegionName:   r.Name,
				CategoryCode: c.Code,
				CategoryName: c.Name,
				UnitKey:      models.UnitKey(r.Code, c.Code),
				Status:       models.UnitPending,
			}
			raw, err := json.Marshal(unit)
			if err != nil {
				return false, fmt.Errorf("failed to encode unit %s: %w", unit.UnitKey, err)
			}
			fields[unit.UnitKey] = raw
		}
	}
	if len(fields) == 0 {
		return false, errors.New("workunits: no regions or categories configured")
	}

	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return false, fmt.Errorf("failed to create unit set: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return false, fmt.Errorf("failed to set unit set expiry: %w", err)
	}
	return true, nil
}

// ClaimPending returns up to limit PENDING units. It does not change
// their status; callers transition each claimed unit with
// MarkProcessing before working it.
func (s *Store) ClaimPending(ctx context.Context, runID string, limit int) ([]models.WorkUnit, error) {
	all, err := s.load(ctx, runID)
	if err != nil {
		return nil, err
	}

	var out []models.WorkUnit
	for _, u := range all {
		if u.Status != models.UnitPending {
			continue
		}
		out = append(out, u)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkProcessing transitions a unit PENDING -> PROCESSING.
func (s *Store) MarkProcessing(ctx context.Context, runID, unitKey string) error {
	return s.mutate(ctx, runID, unitKey, func(u *models.WorkUnit) error {
		if u.Status != models.UnitPending && u.Status != models.UnitProcessing {
			return fmt.Errorf("%w: %s -> PROCESSING", ErrInvalidTransition, u.Status)
		}
		u.Status = models.UnitProcessing
		return nil
	})
}

// MarkCompleted transitions a unit PROCESSING -> COMPLETED and records
// its collected count. Completion from any other status is rejected.
func (s *Store) MarkCompleted(ctx context.Context, runID, unitKey string, count int) error {
	return s.mutate(ctx, runID, unitKey, func(u *models.WorkUnit) error {
		if u.Status != models.UnitProcessing {
			return fmt.Errorf("%w: %s -> COMPLETED", ErrInvalidTransition, u.Status)
		}
		u.Status = models.UnitCompleted
		u.CollectedCount = count
		return nil
	})
}

// MarkFailed transitions a unit to FAILED.
func (s *Store) MarkFailed(ctx context.Context, runID, unitKey string) error {
	return s.mutate(ctx, runID, unitKey, func(u *models.WorkUnit) error {
		u.Status = models.UnitFailed
		return nil
	})
}

// ResetProcessing flips PROCESSING units back to PENDING and returns
// how many it reset. A run that died mid-unit leaves its claimed units
// PROCESSING; the resume path resets them so they are claimable again.
func (s *Store) ResetProcessing(ctx context.Context, runID string) (int, error) {
	all, err := s.load(ctx, runID)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, u := range all {
		if u.Status != models.UnitProcessing {
			continue
		}
		err := s.mutate(ctx, runID, u.UnitKey, func(unit *models.WorkUnit) error {
			unit.Status = models.UnitPending
			return nil
		})
		if err != nil {
			return reset, err
		}
		reset++
	}
	return reset, nil
}

// Stats summarizes per-status unit counts for a run.
func (s *Store) Stats(ctx context.Context, runID string) (models.UnitStats, error) {
	all, err := s.load(ctx, runID)
	if err != nil {
		return models.UnitStats{}, err
	}

	var stats models.UnitStats
	for _, u := range all {
		stats.Total++
		switch u.Status {
		case models.UnitPending:
			stats.Pending++
		case models.UnitProcessing:
			stats.Processing++
		case models.UnitCompleted:
			stats.Completed++
		case models.UnitFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// HasPending reports whether any unit remains claimable.
func (s *Store) HasPending(ctx context.Context, runID string) (bool, error) {
	stats, err := s.Stats(ctx, runID)
	if err != nil {
		return false, err
	}
	return stats.Pending > 0, nil
}

// Clear drops the unit set for a run.
func (s *Store) Clear(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, s.key(runID)).Err(); err != nil {
		return fmt.Errorf("failed to clear unit set: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, runID string) ([]models.WorkUnit, error) {
	raw, err := s.client.HGetAll(ctx, s.key(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load unit set: %w", err)
	}

	out := make([]models.WorkUnit, 0, len(raw))
	for field, val := range raw {
		var u models.WorkUnit
		if err := json.Unmarshal([]byte(val), &u); err != nil {
			return nil, fmt.Errorf("failed to decode unit %s: %w", field, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) mutate(ctx context.Context, runID, unitKey string, fn func(*models.WorkUnit) error) error {
	key := s.key(runID)

	raw, err := s.client.HGet(ctx, key, unitKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, unitKey)
	}
	if err != nil {
		return fmt.Errorf("failed to load unit %s: %w", unitKey, err)
	}

	var unit models.WorkUnit
	if err := json.Unmarshal(raw, &unit); err != nil {
		return fmt.Errorf("failed to decode unit %s: %w", unitKey, err)
	}
	if err := fn(&unit); err != nil {
		return err
	}

	updated, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("failed to encode unit %s: %w", unitKey, err)
	}
	if err := s.client.HSet(ctx, key, unitKey, updated).Err(); err != nil {
		return fmt.Errorf("failed to persist unit %s: %w", unitKey, err)
	}
	// Writes refresh the checkpoint expiry.
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh unit set expiry: %w", err)
	}
	return nil
}
