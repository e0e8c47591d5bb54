package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// ErrHotelNotFound is returned when no hotel row matches a lookup.
var ErrHotelNotFound = errors.New("database: hotel not found")

const hotelColumns = `
	id, hotel_id, provider_source, tag_source, name_cn, name_en,
	country_iso2, city_code, address, longitude, latitude, star_rating,
	raw_payload, content_hash, new_name_cn, new_name_en, new_country_iso2,
	new_address, parsed_at, created_at, updated_at`

// GetHotelByID loads one hotel row by its primary key.
func (r *Repository) GetHotelByID(ctx context.Context, id int64) (*models.Hotel, error) {
	var hotel models.Hotel
	query := `SELECT` + hotelColumns + ` FROM hotels WHERE id = $1`

	err := r.db.GetContext(ctx, &hotel, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHotelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hotel %d: %w", id, err)
	}
	return &hotel, nil
}

// UpsertHotel inserts or updates one hotel by its (provider, external
// id) identity and returns the row id. The conflict branch refreshes
// only the crawl-owned columns; parsed columns belong to
// UpdateParsedFields and manual correction columns to operators, so
// neither is touched on re-sync.
func (r *Repository) UpsertHotel(ctx context.Context, hotel *models.Hotel) (int64, error) {
	query := `
		INSERT INTO hotels (
			hotel_id, provider_source, tag_source, name_cn, name_en,
			country_iso2, city_code, address, longitude, latitude,
			star_rating, raw_payload, content_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (provider_source, hotel_id) DO UPDATE SET
			tag_source = EXCLUDED.tag_source,
			raw_payload = EXCLUDED.raw_payload,
			content_hash = EXCLUDED.content_hash,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowxContext(ctx, query,
		hotel.HotelID, hotel.ProviderSource, hotel.TagSource, hotel.NameCN,
		hotel.NameEN, hotel.CountryIso2, hotel.CityCode, hotel.Address,
		hotel.Longitude, hotel.Latitude, hotel.StarRating, hotel.RawPayload,
		hotel.ContentHash, time.Now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert hotel %s/%d: %w", hotel.ProviderSource, hotel.HotelID, err)
	}
	return id, nil
}

// UpdateParsedFields writes back the structured fields the backfill
// re-derived from the raw payload and stamps parsed_at.
func (r *Repository) UpdateParsedFields(ctx context.Context, hotel *models.Hotel) error {
	query := `
		UPDATE hotels SET
			name_cn = $2,
			name_en = $3,
			country_iso2 = $4,
			city_code = $5,
			address = $6,
			longitude = $7,
			latitude = $8,
			star_rating = $9,
			parsed_at = $10,
			updated_at = $10
		WHERE id = $1
	`

	now := time.Now()
	result, err := r.db.ExecContext(ctx, query,
		hotel.ID, hotel.NameCN, hotel.NameEN, hotel.CountryIso2,
		hotel.CityCode, hotel.Address, hotel.Longitude, hotel.Latitude,
		hotel.StarRating, now)
	if err != nil {
		return fmt.Errorf("failed to update parsed fields for hotel %d: %w", hotel.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrHotelNotFound
	}
	return nil
}

// GetHotelContentHash returns the stored content hash for a hotel
// identity, or empty when the row does not exist.
func (r *Repository) GetHotelContentHash(ctx context.Context, providerSource string, hotelID int64) (string, error) {
	var hash string
	query := `SELECT content_hash FROM hotels WHERE provider_source = $1 AND hotel_id = $2`

	err := r.db.GetContext(ctx, &hash, query, providerSource, hotelID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get content hash for %s/%d: %w", providerSource, hotelID, err)
	}
	return hash, nil
}
