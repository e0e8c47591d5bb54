package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// poiValueCols counts the per-row bind parameters in the batch upsert;
// created_at and updated_at share one trailing timestamp parameter.
const poiValueCols = 13

const poiUpsertSuffix = `
	ON CONFLICT (poi_id) DO UPDATE SET
		name = EXCLUDED.name,
		type_code = EXCLUDED.type_code,
		type_name = EXCLUDED.type_name,
		region_code = EXCLUDED.region_code,
		region_name = EXCLUDED.region_name,
		address = EXCLUDED.address,
		tel = EXCLUDED.tel,
		longitude = EXCLUDED.longitude,
		latitude = EXCLUDED.latitude,
		parent_id = EXCLUDED.parent_id,
		content_hash = EXCLUDED.content_hash,
		run_id = EXCLUDED.run_id,
		updated_at = EXCLUDED.updated_at`

// UpsertPoiBatch writes a batch of POIs in one set-based upsert.
// Callers fall back to UpsertPoi per record when the batch fails.
func (r *Repository) UpsertPoiBatch(ctx context.Context, pois []models.Poi) error {
	if len(pois) == 0 {
		return nil
	}

	tsIdx := len(pois)*poiValueCols + 1
	placeholders := make([]string, 0, len(pois))
	args := make([]any, 0, len(pois)*poiValueCols+1)
	for i, p := range pois {
		base := i * poiValueCols
		marks := make([]string, poiValueCols)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders,
			fmt.Sprintf("(%s, $%d, $%d)", strings.Join(marks, ", "), tsIdx, tsIdx))
		args = append(args,
			p.PoiID, p.Name, p.TypeCode, p.TypeName, p.RegionCode,
			p.RegionName, p.Address, p.Tel, p.Longitude, p.Latitude,
			p.ParentID, p.ContentHash, p.RunID)
	}
	args = append(args, time.Now())

	query := `
		INSERT INTO pois (
			poi_id, name, type_code, type_name, region_code, region_name,
			address, tel, longitude, latitude, parent_id, content_hash,
			run_id, created_at, updated_at
		) VALUES ` + strings.Join(placeholders, ", ") + poiUpsertSuffix

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert poi batch of %d: %w", len(pois), err)
	}
	return nil
}

// UpsertPoi writes a single POI record.
func (r *Repository) UpsertPoi(ctx context.Context, poi models.Poi) error {
	query := `
		INSERT INTO pois (
			poi_id, name, type_code, type_name, region_code, region_name,
			address, tel, longitude, latitude, parent_id, content_hash,
			run_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)` +
		poiUpsertSuffix

	_, err := r.db.ExecContext(ctx, query,
		poi.PoiID, poi.Name, poi.TypeCode, poi.TypeName, poi.RegionCode,
		poi.RegionName, poi.Address, poi.Tel, poi.Longitude, poi.Latitude,
		poi.ParentID, poi.ContentHash, poi.RunID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert poi %s: %w", poi.PoiID, err)
	}
	return nil
}
