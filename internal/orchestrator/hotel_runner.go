package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/hotel-ingest/internal/config"
	"github.com/jonesrussell/hotel-ingest/internal/fetch"
	"github.com/jonesrussell/hotel-ingest/internal/gate"
	"github.com/jonesrussell/hotel-ingest/internal/keypool"
	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/metrics"
	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/sink"
)

// HotelSyncRunner executes the incremental hotel crawl: read the
// watermark cursor, page hotel IDs above it, fetch details, persist,
// publish hand-off events and advance the cursor.
type HotelSyncRunner struct {
	gate     *gate.ConcurrencyGate
	runs     RunRepository
	marks    WatermarkRepository
	fetcher  HotelFetcher
	sink     HotelPersister
	events   EventPublisher
	dead     DeadLetterSink
	metrics  *metrics.Metrics
	maxPages int
	log      logger.Logger
	now      func() time.Time
}

// NewHotelSyncRunner wires a hotel sync runner.
func NewHotelSyncRunner(
	g *gate.ConcurrencyGate,
	runs RunRepository,
	marks WatermarkRepository,
	fetcher HotelFetcher,
	persister HotelPersister,
	events EventPublisher,
	dead DeadLetterSink,
	m *metrics.Metrics,
	cfg config.CollectConfig,
	log logger.Logger,
) *HotelSyncRunner {
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 100
	}
	return &HotelSyncRunner{
		gate:     g,
		runs:     runs,
		marks:    marks,
		fetcher:  fetcher,
		sink:     persister,
		events:   events,
		dead:     dead,
		metrics:  m,
		maxPages: maxPages,
		log:      log,
		now:      time.Now,
	}
}

// Run executes one sync pass. In continuous mode the gate acquisition
// retries before giving up; otherwise a held gate skips the run.
func (r *HotelSyncRunner) Run(ctx context.Context, trigger string, continuous bool) error {
	if continuous {
		err := r.gate.AcquireWithRetry(ctx, models.JobHotelSync, gate.DefaultRetryAttempts, gate.DefaultRetrySleep)
		if errors.Is(err, gate.ErrGateFull) {
			return ErrRunSkipped
		}
		if err != nil {
			return fmt.Errorf("acquire gate: %w", err)
		}
	} else {
		acquired, err := r.gate.TryAcquire(ctx, models.JobHotelSync)
		if err != nil {
			return fmt.Errorf("acquire gate: %w", err)
		}
		if !acquired {
			r.log.Info("hotel sync skipped, gate is full", logger.String("trigger", trigger))
			return ErrRunSkipped
		}
	}
	defer func() {
		if err := r.gate.Release(context.WithoutCancel(ctx), models.JobHotelSync); err != nil {
			r.log.Error("gate release failed", logger.Error(err))
		}
	}()

	traceID := uuid.NewString()
	startedAt := r.now()

	runDBID, err := r.runs.CreateRun(ctx, traceID, models.JobHotelSync, trigger)
	if err != nil {
		return fmt.Errorf("create run record: %w", err)
	}

	watermark, err := r.marks.GetWatermark(ctx, models.JobHotelSync)
	if err != nil {
		r.finalizeRun(ctx, runDBID, models.RunFailed, err.Error(), startedAt)
		return fmt.Errorf("read watermark: %w", err)
	}

	r.log.Info("hotel sync started",
		logger.String("trace_id", traceID),
		logger.String("trigger", trigger),
		logger.Bool("continuous", continuous),
		logger.Int64("watermark", watermark))

	detailFailures := 0
	saveFailures := 0
	pages := 0

	for {
		if pages >= r.maxPages {
			r.log.Warn("hotel sync page cap reached", logger.Int("pages", pages))
			break
		}

		fetchStart := r.now()
		page, err := r.fetcher.FetchHotelIDPage(ctx, watermark)
		if err != nil {
			r.metrics.RecordFetchError(models.JobHotelSync)
			status, msg := classifyFatal(err)
			r.finalizeRun(ctx, runDBID, status, msg, startedAt)
			return err
		}
		if len(page.IDs) == 0 {
			break
		}
		r.metrics.RecordPageFetched(models.JobHotelSync, r.now().Sub(fetchStart).Seconds())
		pages++

		details, failedIDs, err := r.fetcher.FetchHotelDetails(ctx, page.IDs)
		if err != nil {
			status, msg := classifyFatal(err)
			r.finalizeRun(ctx, runDBID, status, msg, startedAt)
			return err
		}
		detailFailures += len(failedIDs)
		r.deadLetterFailedDetails(ctx, failedIDs, traceID, runDBID)

		saved, failed, err := r.sink.SaveBatch(ctx, buildHotels(details), runDBID)
		if err != nil {
			r.finalizeRun(ctx, runDBID, models.RunFailed, err.Error(), startedAt)
			return fmt.Errorf("persist hotel batch: %w", err)
		}
		saveFailures += failed
		r.metrics.RecordPersisted(models.JobHotelSync, len(saved), failed)

		r.publishEvents(ctx, saved, traceID, runDBID)

		// The watermark advances over every ID on the page, including
		// ones whose detail fetch failed; a later run reconciles those
		// through the full refresh path rather than re-crawling here.
		highest := maxID(page.IDs)
		if err := r.marks.AdvanceWatermark(ctx, models.JobHotelSync, highest); err != nil {
			r.finalizeRun(ctx, runDBID, models.RunFailed, err.Error(), startedAt)
			return fmt.Errorf("advance watermark: %w", err)
		}
		watermark = highest

		if !page.HasMore {
			break
		}
	}

	status := models.RunSuccess
	message := ""
	if detailFailures > 0 || saveFailures > 0 {
		status = models.RunPartial
		message = fmt.Sprintf("%d detail fetches and %d saves failed", detailFailures, saveFailures)
	}
	r.finalizeRun(ctx, runDBID, status, message, startedAt)

	r.log.Info("hotel sync finished",
		logger.String("status", string(status)),
		logger.Int("pages", pages),
		logger.Int64("watermark", watermark))
	return nil
}

func (r *HotelSyncRunner) publishEvents(ctx context.Context, saved []sink.SavedHotel, traceID string, runDBID int64) {
	for _, s := range saved {
		ev := models.HotelEvent{
			EventType:      models.EventHotelUpserted,
			RowID:          strconv.FormatInt(s.RowID, 10),
			HotelID:        strconv.FormatInt(s.Hotel.HotelID, 10),
			ProviderSource: s.Hotel.ProviderSource,
			TagSource:      s.Hotel.TagSource,
			TraceID:        traceID,
			RunID:          strconv.FormatInt(runDBID, 10),
			FetchedAt:      r.now().UTC().Format(time.RFC3339),
		}
		if err := r.events.PublishHotelEvent(ctx, ev); err != nil {
			// The row is persisted; the next full sync republishes it.
			r.log.Error("hand-off publish failed",
				logger.String("hotel_id", ev.HotelID),
				logger.Error(err))
			continue
		}
		r.metrics.RecordEventPublished()
	}
}

// deadLetterFailedDetails records hotel IDs whose detail fetch exhausted
// its retries so alerting sees them.
func (r *HotelSyncRunner) deadLetterFailedDetails(ctx context.Context, ids []int64, traceID string, runDBID int64) {
	for _, id := range ids {
		dl := models.DeadLetter{
			HotelEvent: models.HotelEvent{
				EventType:      models.EventHotelUpserted,
				HotelID:        strconv.FormatInt(id, 10),
				ProviderSource: models.ProviderForHotelID(id),
				TraceID:        traceID,
				RunID:          strconv.FormatInt(runDBID, 10),
				FetchedAt:      r.now().UTC().Format(time.RFC3339),
			},
			ErrorCode:    models.DLQDetailFetch,
			ErrorMessage: "detail fetch exhausted retries",
		}
		if err := r.dead.Publish(ctx, dl); err != nil {
			r.log.Error("dead letter publish failed",
				logger.String("hotel_id", dl.HotelID),
				logger.Error(err))
			continue
		}
		r.metrics.RecordDeadLetter(models.DLQDetailFetch)
	}
}

func (r *HotelSyncRunner) finalizeRun(ctx context.Context, runDBID int64, status models.RunStatus, message string, startedAt time.Time) {
	ctx = context.WithoutCancel(ctx)
	if err := r.runs.FinalizeRun(ctx, runDBID, status, message); err != nil {
		r.log.Error("run finalize failed",
			logger.Int64("run_db_id", runDBID),
			logger.Error(err))
	}
	r.metrics.RecordRunFinished(models.JobHotelSync, string(status), r.now().Sub(startedAt).Seconds())
}

func buildHotels(details []fetch.HotelDetail) []*models.Hotel {
	hotels := make([]*models.Hotel, 0, len(details))
	for _, d := range details {
		hotels = append(hotels, &models.Hotel{
			HotelID:        d.HotelID,
			ProviderSource: models.ProviderForHotelID(d.HotelID),
			TagSource:      d.TagSource,
			RawPayload:     d.Raw,
		})
	}
	return hotels
}

func classifyFatal(err error) (models.RunStatus, string) {
	if errors.Is(err, keypool.ErrNoKeyAvailable) {
		return models.RunFailed, "credential pool exhausted"
	}
	if errors.Is(err, context.Canceled) {
		return models.RunStopped, "stopped"
	}
	return models.RunFailed, err.Error()
}

func maxID(ids []int64) int64 {
	var highest int64
	for _, id := range ids {
		if id > highest {
			highest = id
		}
	}
	return highest
}
