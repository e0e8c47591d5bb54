package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// ErrScheduleNotFound is returned when a job code has no schedule row.
var ErrScheduleNotFound = errors.New("database: job schedule not found")

// GetJobSchedule loads the schedule row for one job code.
func (r *Repository) GetJobSchedule(ctx context.Context, jobCode string) (*models.JobSchedule, error) {
	var schedule models.JobSchedule
	query := `
		SELECT job_code, cron_expr, enabled, params, updated_at
		FROM job_schedules WHERE job_code = $1
	`

	err := r.db.GetContext(ctx, &schedule, query, jobCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule for %s: %w", jobCode, err)
	}
	return &schedule, nil
}

// ListEnabledSchedules returns every enabled job schedule.
func (r *Repository) ListEnabledSchedules(ctx context.Context) ([]models.JobSchedule, error) {
	var schedules []models.JobSchedule
	query := `
		SELECT job_code, cron_expr, enabled, params, updated_at
		FROM job_schedules WHERE enabled = true
		ORDER BY job_code
	`

	if err := r.db.SelectContext(ctx, &schedules, query); err != nil {
		return nil, fmt.Errorf("failed to list enabled schedules: %w", err)
	}
	return schedules, nil
}

// UpsertJobSchedule creates or updates a schedule row.
func (r *Repository) UpsertJobSchedule(ctx context.Context, schedule *models.JobSchedule) error {
	query := `
		INSERT INTO job_schedules (job_code, cron_expr, enabled, params, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_code) DO UPDATE SET
			cron_expr = EXCLUDED.cron_expr,
			enabled = EXCLUDED.enabled,
			params = EXCLUDED.params,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		schedule.JobCode, schedule.CronExpr, schedule.Enabled, schedule.Params, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert schedule for %s: %w", schedule.JobCode, err)
	}
	return nil
}
