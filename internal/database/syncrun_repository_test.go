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

func TestCreateRun(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id"}).AddRow(int64(7))
	mock.ExpectQuery("INSERT INTO sync_runs").
		WithArgs("trace-1", "poi_collect", "manual", models.RunRunning, sqlmock.AnyArg()).
		WillReturnRows(rows)

	id, err := repo.CreateRun(ctx, "trace-1", "poi_collect", "manual")
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if id != 7 {
		t.Errorf("CreateRun() = %d, want 7", id)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestFinalizeRun(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name      string
		status    models.RunStatus
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
		anyErr    bool
	}{
		{
			name:   "finalizes a running run",
			status: models.RunStopped,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE sync_runs SET status").
					WithArgs(int64(7), models.RunStopped, "operator request", sqlmock.AnyArg(), models.RunRunning).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:   "second finalize is rejected",
			status: models.RunSuccess,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE sync_runs SET status").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: database.ErrRunAlreadyFinalized,
		},
		{
			name:      "non-terminal status is rejected",
			status:    models.RunRunning,
			setupMock: func(mock sqlmock.Sqlmock) {},
			anyErr:    true,
		},
		{
			name:   "database failure surfaces",
			status: models.RunFailed,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE sync_runs SET status").
					WillReturnError(sql.ErrConnDone)
			},
			anyErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			tc.setupMock(mock)

			err := repo.FinalizeRun(ctx, 7, tc.status, "operator request")
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("FinalizeRun() error = %v, want %v", err, tc.wantErr)
				}
			case tc.anyErr:
				if err == nil {
					t.Error("FinalizeRun() expected error, got nil")
				}
			default:
				if err != nil {
					t.Errorf("FinalizeRun() error = %v", err)
				}
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestFindRunningByJobCode_NoneRunning(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT id, trace_id, job_code").
		WithArgs("hotel_sync", models.RunRunning).
		WillReturnError(sql.ErrNoRows)

	run, err := repo.FindRunningByJobCode(ctx, "hotel_sync")
	if err != nil {
		t.Fatalf("FindRunningByJobCode() error = %v", err)
	}
	if run != nil {
		t.Errorf("FindRunningByJobCode() = %+v, want nil", run)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestAddRunCounts(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE sync_runs SET").
		WithArgs(int64(7), 100, 95, 95, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.AddRunCounts(ctx, 7, 100, 95, 95, 5); err != nil {
		t.Errorf("AddRunCounts() error = %v", err)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}
