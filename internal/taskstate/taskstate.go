// Package taskstate persists the control state machine for a pipeline
// run in Redis.
package taskstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// DefaultTTL expires the state of a crashed run so it cannot wedge the
// pipeline slot forever.
const DefaultTTL = 48 * time.Hour

var (
	// ErrAlreadyRunning is returned by Start when a run is in flight.
	ErrAlreadyRunning = errors.New("taskstate: task already running")

	// ErrInvalidTransition is returned when a control operation is not
	// accepted from the current status.
	ErrInvalidTransition = errors.New("taskstate: invalid transition")
)

// Store owns the durable task-state singleton for one pipeline. Every
// write refreshes the TTL.
type Store struct {
	client   *redis.Client
	pipeline string
	ttl      time.Duration
	now      func() time.Time
}

// New creates a store for the named pipeline.
func New(client *redis.Client, pipeline string) *Store {
	return &Store{
		client:   client,
		pipeline: pipeline,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
}

func (s *Store) key() string {
	return "ingest:task:" + s.pipeline
}

// Status returns the current task state. A missing or expired key reads
// as IDLE.
func (s *Store) Status(ctx context.Context) (models.TaskState, error) {
	raw, err := s.client.Get(ctx, s.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.TaskState{Status: models.TaskIdle}, nil
	}
	if err != nil {
		return models.TaskState{}, fmt.Errorf("failed to read task state: %w", err)
	}

	var state models.TaskState
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.TaskState{}, fmt.Errorf("failed to decode task state: %w", err)
	}
	return state, nil
}

func (s *Store) save(ctx context.Context, state models.TaskState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode task state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to persist task state: %w", err)
	}
	return nil
}

// Start transitions the pipeline into RUNNING. Rejected with
// ErrAlreadyRunning while another run holds the slot.
func (s *Store) Start(ctx context.Context, runID, traceID string, totalUnits int) error {
	current, err := s.Status(ctx)
	if err != nil {
		return err
	}
	if current.Status == models.TaskRunning || current.Status == models.TaskPaused {
		return ErrAlreadyRunning
	}

	return s.save(ctx, models.TaskState{
		Status:     models.TaskRunning,
		RunID:      runID,
		TraceID:    traceID,
		StartTime:  s.now(),
		TotalUnits: totalUnits,
	})
}

// Pause transitions RUNNING to PAUSED.
func (s *Store) Pause(ctx context.Context) error {
	return s.transition(ctx, models.TaskPaused, "", models.TaskRunning)
}

// Resume transitions PAUSED back to RUNNING.
func (s *Store) Resume(ctx context.Context) error {
	return s.transition(ctx, models.TaskRunning, "", models.TaskPaused)
}

// Stop transitions any non-idle state to STOPPED with a reason.
func (s *Store) Stop(ctx context.Context, reason string) error {
	return s.transition(ctx, models.TaskStopped, reason,
		models.TaskRunning, models.TaskPaused, models.TaskCompleted, models.TaskFailed, models.TaskStopped)
}

// Complete marks the run COMPLETED.
func (s *Store) Complete(ctx context.Context) error {
	return s.transition(ctx, models.TaskCompleted, "", models.TaskRunning)
}

// Fail marks the run FAILED with a message.
func (s *Store) Fail(ctx context.Context, msg string) error {
	return s.transition(ctx, models.TaskFailed, msg, models.TaskRunning, models.TaskPaused)
}

func (s *Store) transition(ctx context.Context, to models.TaskStatus, message string, from ...models.TaskStatus) error {
	current, err := s.Status(ctx)
	if err != nil {
		return err
	}

	allowed := false
	for _, f := range from {
		if current.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	current.Status = to
	if message != "" {
		current.Message = message
	}
	return s.save(ctx, current)
}

// Progress carries the per-unit progress fields the orchestrator
// updates as it works.
type Progress struct {
	CompletedUnits  int
	TotalCollected  int
	CurrentRegion   string
	CurrentCategory string
}

// UpdateProgress writes progress fields without changing the status.
func (s *Store) UpdateProgress(ctx context.Context, p Progress) error {
	current, err := s.Status(ctx)
	if err != nil {
		return err
	}
	if current.Status == models.TaskIdle {
		return fmt.Errorf("%w: no active task", ErrInvalidTransition)
	}

	current.CompletedUnits = p.CompletedUnits
	current.TotalCollected = p.TotalCollected
	current.CurrentRegion = p.CurrentRegion
	current.CurrentCategory = p.CurrentCategory
	return s.save(ctx, current)
}

// ShouldPause reports whether the run is paused. The orchestrator polls
// this between pages.
func (s *Store) ShouldPause(ctx context.Context) (bool, error) {
	state, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	return state.Status == models.TaskPaused, nil
}

// ShouldStop reports whether a stop was requested or the slot expired.
func (s *Store) ShouldStop(ctx context.Context) (bool, error) {
	state, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	return state.Status == models.TaskStopped || state.Status == models.TaskIdle, nil
}

// Clear removes the task state entirely, returning the slot to IDLE.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("failed to clear task state: %w", err)
	}
	return nil
}
