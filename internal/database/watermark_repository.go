package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetWatermark returns the stored max-ID cursor for a job code, or zero
// when none has been written yet.
func (r *Repository) GetWatermark(ctx context.Context, jobCode string) (int64, error) {
	var maxID int64
	query := `SELECT max_id_seen FROM watermarks WHERE job_code = $1`

	err := r.db.GetContext(ctx, &maxID, query, jobCode)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get watermark for %s: %w", jobCode, err)
	}
	return maxID, nil
}

// AdvanceWatermark raises the cursor to maxID if it is higher than the
// stored value. The GREATEST guard keeps the watermark monotonic even
// when pages are retried or observed out of order.
func (r *Repository) AdvanceWatermark(ctx context.Context, jobCode string, maxID int64) error {
	query := `
		INSERT INTO watermarks (job_code, max_id_seen, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_code) DO UPDATE SET
			max_id_seen = GREATEST(watermarks.max_id_seen, EXCLUDED.max_id_seen),
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, jobCode, maxID, time.Now()); err != nil {
		return fmt.Errorf("failed to advance watermark for %s: %w", jobCode, err)
	}
	return nil
}
