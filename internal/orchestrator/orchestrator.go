// Package orchestrator drives end-to-end runs: it composes the
// concurrency gate, task control slot, work-unit ledger, fetch
// executor, validation and persistence into the POI collection and
// hotel sync jobs.
package orchestrator

import (
	"context"
	"errors"

	"github.com/jonesrussell/hotel-ingest/internal/fetch"
	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/sink"
)

var (
	// ErrRunSkipped is returned when another process already holds the
	// job's gate slot.
	ErrRunSkipped = errors.New("orchestrator: run skipped, job already running")

	// errRunStopped aborts a run in response to an operator stop.
	errRunStopped = errors.New("orchestrator: run stopped")
)

// RunRepository records run lifecycles.
type RunRepository interface {
	CreateRun(ctx context.Context, traceID, jobCode, trigger string) (int64, error)
	FinalizeRun(ctx context.Context, id int64, status models.RunStatus, message string) error
	FindRunningByJobCode(ctx context.Context, jobCode string) (*models.SyncRun, error)
}

// PoiFetcher fetches POI result pages.
type PoiFetcher interface {
	FetchPoiPage(ctx context.Context, regionCode, categoryCode string, page int) (fetch.Page, error)
}

// HotelFetcher crawls hotel IDs and details.
type HotelFetcher interface {
	FetchHotelIDPage(ctx context.Context, maxID int64) (fetch.HotelIDPage, error)
	FetchHotelDetails(ctx context.Context, ids []int64) (details []fetch.HotelDetail, failed []int64, err error)
}

// PoiPersister writes POI batches.
type PoiPersister interface {
	UpsertBatches(ctx context.Context, pois []models.Poi, runDBID int64) (success, failed int, err error)
}

// HotelPersister writes hotel batches.
type HotelPersister interface {
	SaveBatch(ctx context.Context, hotels []*models.Hotel, runDBID int64) (saved []sink.SavedHotel, failed int, err error)
}

// WatermarkRepository reads and advances the incremental crawl cursor.
type WatermarkRepository interface {
	GetWatermark(ctx context.Context, jobCode string) (int64, error)
	AdvanceWatermark(ctx context.Context, jobCode string, maxID int64) error
}

// EventPublisher hands persisted hotels off to the indexing side.
type EventPublisher interface {
	PublishHotelEvent(ctx context.Context, ev models.HotelEvent) error
}

// DeadLetterSink records items that exhausted their retries.
type DeadLetterSink interface {
	Publish(ctx context.Context, dl models.DeadLetter) error
}
