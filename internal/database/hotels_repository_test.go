package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jonesrussell/hotel-ingest/internal/database"
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

func TestGetHotelByID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM hotels WHERE id").
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetHotelByID(ctx, 42)
	if !errors.Is(err, database.ErrHotelNotFound) {
		t.Errorf("GetHotelByID() error = %v, want ErrHotelNotFound", err)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestUpsertHotel_ReturnsRowID(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	hotel := &models.Hotel{
		HotelID:        21_000_001,
		ProviderSource: models.ProviderElong,
		TagSource:      models.TagCN,
		NameCN:         "测试酒店",
		NameEN:         "Test Hotel",
		CountryIso2:    "CN",
		ContentHash:    "abc123",
	}

	rows := sqlmock.NewRows([]string{"id"}).AddRow(int64(99))
	mock.ExpectQuery("INSERT INTO hotels").
		WillReturnRows(rows)

	id, err := repo.UpsertHotel(ctx, hotel)
	if err != nil {
		t.Fatalf("UpsertHotel() error = %v", err)
	}
	if id != 99 {
		t.Errorf("UpsertHotel() = %d, want 99", id)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestUpsertHotel_ConflictLeavesParsedColumns(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	// The conflict branch must refresh only the crawl-owned columns.
	// Parsed columns are written by UpdateParsedFields and would be
	// wiped on every re-sync if the upsert assigned them too.
	rows := sqlmock.NewRows([]string{"id"}).AddRow(int64(7))
	mock.ExpectQuery(`DO UPDATE SET\s+` +
		`tag_source = EXCLUDED.tag_source,\s+` +
		`raw_payload = EXCLUDED.raw_payload,\s+` +
		`content_hash = EXCLUDED.content_hash,\s+` +
		`updated_at = EXCLUDED.updated_at\s+` +
		`RETURNING id`).
		WillReturnRows(rows)

	hotel := &models.Hotel{
		HotelID:        21_000_002,
		ProviderSource: models.ProviderAgoda,
		TagSource:      models.TagINTL,
	}
	if _, err := repo.UpsertHotel(ctx, hotel); err != nil {
		t.Fatalf("UpsertHotel() error = %v", err)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestUpdateParsedFields_MissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE hotels SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateParsedFields(ctx, &models.Hotel{ID: 42})
	if !errors.Is(err, database.ErrHotelNotFound) {
		t.Errorf("UpdateParsedFields() error = %v, want ErrHotelNotFound", err)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestGetHotelContentHash_AbsentRowIsEmpty(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT content_hash FROM hotels").
		WithArgs(models.ProviderAgoda, int64(12345)).
		WillReturnError(sql.ErrNoRows)

	hash, err := repo.GetHotelContentHash(ctx, models.ProviderAgoda, 12345)
	if err != nil {
		t.Fatalf("GetHotelContentHash() error = %v", err)
	}
	if hash != "" {
		t.Errorf("GetHotelContentHash() = %q, want empty", hash)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}
