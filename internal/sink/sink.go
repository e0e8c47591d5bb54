// Package sink persists normalized records in batches with per-record
// fallback, attributing success and failure counts to the run's audit
// row.
package sink

import (
	"context"
	"fmt"

	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// PoiStore is the POI persistence surface the sink writes through.
type PoiStore interface {
	UpsertPoiBatch(ctx context.Context, pois []models.Poi) error
	UpsertPoi(ctx context.Context, poi models.Poi) error
}

// HotelStore is the hotel persistence surface the sink writes through.
type HotelStore interface {
	UpsertHotel(ctx context.Context, hotel *models.Hotel) (int64, error)
	GetHotelContentHash(ctx context.Context, providerSource string, hotelID int64) (string, error)
}

// RunStore accumulates counters onto the audit row.
type RunStore interface {
	AddRunCounts(ctx context.Context, id int64, fetched, persisted, success, failed int) error
}

// PoiSink writes POI batches.
type PoiSink struct {
	store      PoiStore
	runs       RunStore
	commitSize int
	log        logger.Logger
}

// NewPoiSink creates a POI sink committing in chunks of commitSize.
func NewPoiSink(store PoiStore, runs RunStore, commitSize int, log logger.Logger) *PoiSink {
	if commitSize <= 0 {
		commitSize = 200
	}
	return &PoiSink{store: store, runs: runs, commitSize: commitSize, log: log}
}

// UpsertBatches persists the records in commit-size chunks. A failed
// chunk falls back to per-record writes so one poisoned record cannot
// sink the whole batch. Counts are attributed to runDBID.
func (s *PoiSink) UpsertBatches(ctx context.Context, pois []models.Poi, runDBID int64) (success, failed int, err error) {
	for i := range pois {
		pois[i].ContentHash = PoiContentHash(pois[i])
	}

	for start := 0; start < len(pois); start += s.commitSize {
		end := min(start+s.commitSize, len(pois))
		chunk := pois[start:end]

		if batchErr := s.store.UpsertPoiBatch(ctx, chunk); batchErr == nil {
			success += len(chunk)
			continue
		} else {
			s.log.Warn("poi batch upsert failed, falling back to per-record writes",
				logger.Int("batch_size", len(chunk)),
				logger.Error(batchErr))
		}

		for _, p := range chunk {
			if recErr := s.store.UpsertPoi(ctx, p); recErr != nil {
				failed++
				s.log.Error("poi record upsert failed",
					logger.String("poi_id", p.PoiID),
					logger.Error(recErr))
				continue
			}
			success++
		}
	}

	if s.runs != nil {
		if countErr := s.runs.AddRunCounts(ctx, runDBID, len(pois), success, success, failed); countErr != nil {
			return success, failed, fmt.Errorf("failed to record run counts: %w", countErr)
		}
	}
	return success, failed, nil
}

// HotelSink writes hotel records one at a time, since each persisted
// row feeds an individual hand-off event.
type HotelSink struct {
	store HotelStore
	runs  RunStore
	log   logger.Logger
}

// NewHotelSink creates a hotel sink.
func NewHotelSink(store HotelStore, runs RunStore, log logger.Logger) *HotelSink {
	return &HotelSink{store: store, runs: runs, log: log}
}

// SavedHotel pairs a persisted hotel with its row id for event
// publication.
type SavedHotel struct {
	RowID int64
	Hotel *models.Hotel
}

// SaveBatch persists a batch of hotels, compressing each raw payload
// and stamping its content hash. Hotels whose payload hash matches the
// stored row are skipped entirely, upsert and hand-off event both.
// Record-level failures are counted and skipped; the batch continues.
func (s *HotelSink) SaveBatch(ctx context.Context, hotels []*models.Hotel, runDBID int64) (saved []SavedHotel, failed int, err error) {
	for _, h := range hotels {
		h.ContentHash = HotelContentHash(h)

		stored, hashErr := s.store.GetHotelContentHash(ctx, h.ProviderSource, h.HotelID)
		if hashErr != nil {
			// Upsert anyway; a failed lookup must not drop the record.
			s.log.Warn("stored content hash unavailable",
				logger.Int64("hotel_id", h.HotelID),
				logger.Error(hashErr))
		} else if stored == h.ContentHash {
			s.log.Debug("hotel unchanged, skipping",
				logger.Int64("hotel_id", h.HotelID),
				logger.String("provider", h.ProviderSource))
			continue
		}

		compressed, compErr := CompressPayload(h.RawPayload)
		if compErr != nil {
			failed++
			s.log.Error("failed to compress hotel payload",
				logger.Int64("hotel_id", h.HotelID),
				logger.Error(compErr))
			continue
		}
		h.RawPayload = compressed

		rowID, upsertErr := s.store.UpsertHotel(ctx, h)
		if upsertErr != nil {
			failed++
			s.log.Error("hotel upsert failed",
				logger.Int64("hotel_id", h.HotelID),
				logger.String("provider", h.ProviderSource),
				logger.Error(upsertErr))
			continue
		}
		saved = append(saved, SavedHotel{RowID: rowID, Hotel: h})
	}

	if s.runs != nil {
		if countErr := s.runs.AddRunCounts(ctx, runDBID, len(hotels), len(saved), len(saved), failed); countErr != nil {
			return saved, failed, fmt.Errorf("failed to record run counts: %w", countErr)
		}
	}
	return saved, failed, nil
}
