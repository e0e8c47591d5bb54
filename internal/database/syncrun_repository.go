package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

var (
	// ErrRunNotFound is returned when no sync run matches a lookup.
	ErrRunNotFound = errors.New("database: sync run not found")

	// ErrRunAlreadyFinalized is returned when finalizing a run twice.
	ErrRunAlreadyFinalized = errors.New("database: sync run already finalized")
)

// CreateRun inserts a new RUNNING audit row and returns its id.
func (r *Repository) CreateRun(ctx context.Context, traceID, jobCode, trigger string) (int64, error) {
	query := `
		INSERT INTO sync_runs (trace_id, job_code, trigger_source, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowxContext(ctx, query,
		traceID, jobCode, trigger, models.RunRunning, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create sync run: %w", err)
	}
	return id, nil
}

// FinalizeRun writes the terminal outcome for a run. A run can only be
// finalized once; a second attempt returns ErrRunAlreadyFinalized.
func (r *Repository) FinalizeRun(ctx context.Context, id int64, status models.RunStatus, message string) error {
	if !status.Terminal() {
		return fmt.Errorf("database: %s is not a terminal run status", status)
	}

	query := `
		UPDATE sync_runs SET status = $2, message = $3, finished_at = $4
		WHERE id = $1 AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query, id, status, message, time.Now(), models.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to finalize sync run %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finalize result: %w", err)
	}
	if rows == 0 {
		return ErrRunAlreadyFinalized
	}
	return nil
}

// AddRunCounts accumulates fetch and persistence counters onto a run.
func (r *Repository) AddRunCounts(ctx context.Context, id int64, fetched, persisted, success, failed int) error {
	query := `
		UPDATE sync_runs SET
			total_fetched = total_fetched + $2,
			total_persisted = total_persisted + $3,
			success_count = success_count + $4,
			fail_count = fail_count + $5
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, fetched, persisted, success, failed); err != nil {
		return fmt.Errorf("failed to add counts to sync run %d: %w", id, err)
	}
	return nil
}

// GetRun loads one audit row.
func (r *Repository) GetRun(ctx context.Context, id int64) (*models.SyncRun, error) {
	var run models.SyncRun
	query := `
		SELECT id, trace_id, job_code, trigger_source, status, started_at,
		       finished_at, total_fetched, total_persisted, success_count,
		       fail_count, message
		FROM sync_runs WHERE id = $1
	`

	err := r.db.GetContext(ctx, &run, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync run %d: %w", id, err)
	}
	return &run, nil
}

// FindRunningByJobCode returns the in-flight run for a job code, or nil
// when none is running. The orchestrator uses this as a second guard
// behind the concurrency gate.
func (r *Repository) FindRunningByJobCode(ctx context.Context, jobCode string) (*models.SyncRun, error) {
	var run models.SyncRun
	query := `
		SELECT id, trace_id, job_code, trigger_source, status, started_at,
		       finished_at, total_fetched, total_persisted, success_count,
		       fail_count, message
		FROM sync_runs
		WHERE job_code = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1
	`

	err := r.db.GetContext(ctx, &run, query, jobCode, models.RunRunning)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find running sync run for %s: %w", jobCode, err)
	}
	return &run, nil
}
