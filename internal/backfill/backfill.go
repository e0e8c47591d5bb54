// Package backfill turns raw provider payloads into parsed hotel fields
// and pushes them into the search index. Every consumed event either
// completes or is dead-lettered; nothing is silently dropped.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonesrussell/hotel-ingest/internal/database"
	"github.com/jonesrussell/hotel-ingest/internal/index"
	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/parser"
	"github.com/jonesrussell/hotel-ingest/internal/sink"
)

const (
	indexRetryAttempts = 3
	indexRetryBase     = 200 * time.Millisecond
	indexRetryFactor   = 4
)

// HotelStore reads and updates hotel rows.
type HotelStore interface {
	GetHotelByID(ctx context.Context, id int64) (*models.Hotel, error)
	UpdateParsedFields(ctx context.Context, hotel *models.Hotel) error
}

// IndexWriter bulk-upserts hotel documents.
type IndexWriter interface {
	BulkUpsert(ctx context.Context, docs []index.HotelDoc) ([]index.ItemFailure, error)
}

// DeadLetterSink publishes events that could not be processed.
type DeadLetterSink interface {
	Publish(ctx context.Context, letter models.DeadLetter) error
}

// Stats summarizes one processed batch.
type Stats struct {
	Processed    int
	Updated      int
	Indexed      int
	DeadLettered int
}

// Service processes hotel hand-off events: load the row, parse the raw
// payload, persist changed fields, and index the document.
type Service struct {
	store    HotelStore
	registry *parser.Registry
	writer   IndexWriter
	dead     DeadLetterSink
	log      logger.Logger
	sleep    func(time.Duration)
}

// NewService creates a backfill service.
func NewService(store HotelStore, registry *parser.Registry, writer IndexWriter, dead DeadLetterSink, log logger.Logger) *Service {
	return &Service{
		store:    store,
		registry: registry,
		writer:   writer,
		dead:     dead,
		log:      log,
		sleep:    time.Sleep,
	}
}

// ProcessBatch handles a batch of events. Per-event failures are
// dead-lettered and do not fail the batch; the returned error covers
// dead-letter publication failures only, so callers must not ack when
// it is set.
func (s *Service) ProcessBatch(ctx context.Context, events []models.HotelEvent) (Stats, error) {
	var stats Stats
	docs := make([]index.HotelDoc, 0, len(events))
	eventByRow := make(map[int64]models.HotelEvent, len(events))

	for _, event := range events {
		stats.Processed++

		doc, updated, code, err := s.processOne(ctx, event)
		if err != nil {
			stats.DeadLettered++
			if dlErr := s.deadLetter(ctx, event, code, err); dlErr != nil {
				return stats, dlErr
			}
			continue
		}
		if updated {
			stats.Updated++
		}
		docs = append(docs, doc)
		eventByRow[doc.RowID] = event
	}

	indexed, residual, err := s.indexWithRetry(ctx, docs)
	stats.Indexed = indexed
	if err != nil {
		// Transport-level failure: dead-letter everything still unindexed.
		for _, doc := range docs {
			stats.DeadLettered++
			if dlErr := s.deadLetter(ctx, eventByRow[doc.RowID], models.DLQIndexUpsert, err); dlErr != nil {
				return stats, dlErr
			}
		}
		return stats, nil
	}

	for _, failure := range residual {
		stats.DeadLettered++
		reason := fmt.Errorf("bulk upsert rejected with status %d: %s", failure.Status, failure.Reason)
		if dlErr := s.deadLetter(ctx, eventByRow[failure.RowID], models.DLQIndexUpsert, reason); dlErr != nil {
			return stats, dlErr
		}
	}
	return stats, nil
}

// processOne returns the document to index and whether the row's parsed
// fields changed. On failure it returns the dead-letter code and cause.
func (s *Service) processOne(ctx context.Context, event models.HotelEvent) (index.HotelDoc, bool, string, error) {
	rowID, err := strconv.ParseInt(event.RowID, 10, 64)
	if err != nil {
		return index.HotelDoc{}, false, models.DLQBackfill, fmt.Errorf("invalid row id %q: %w", event.RowID, err)
	}

	hotel, err := s.store.GetHotelByID(ctx, rowID)
	if errors.Is(err, database.ErrHotelNotFound) {
		return index.HotelDoc{}, false, models.DLQNotFound, err
	}
	if err != nil {
		return index.HotelDoc{}, false, models.DLQBackfill, fmt.Errorf("load hotel %d: %w", rowID, err)
	}

	raw, err := sink.DecompressPayload(hotel.RawPayload)
	if err != nil {
		return index.HotelDoc{}, false, models.DLQBackfill, fmt.Errorf("decompress payload for hotel %d: %w", rowID, err)
	}

	p, ok := s.registry.Select(hotel.ProviderSource, hotel.TagSource)
	if !ok {
		return index.HotelDoc{}, false, models.DLQNoParser,
			fmt.Errorf("no parser for provider %s tag %s", hotel.ProviderSource, hotel.TagSource)
	}

	parsed, err := p.Parse(raw)
	if errors.Is(err, parser.ErrEmptyResult) {
		return index.HotelDoc{}, false, models.DLQEmptyParser, err
	}
	if err != nil {
		return index.HotelDoc{}, false, models.DLQBackfill, fmt.Errorf("parse hotel %d: %w", rowID, err)
	}

	updated := applyParsed(hotel, parsed)
	if updated {
		if err := s.store.UpdateParsedFields(ctx, hotel); err != nil {
			return index.HotelDoc{}, false, models.DLQBackfill, fmt.Errorf("update parsed fields for hotel %d: %w", rowID, err)
		}
	}

	return index.DocFromHotel(hotel), updated, "", nil
}

// applyParsed copies parsed values onto the row and reports whether
// anything changed. Fields with a manual correction keep the corrected
// value and are never overwritten.
func applyParsed(hotel *models.Hotel, parsed models.ParsedHotel) bool {
	changed := false

	if hotel.NewNameCN == "" && parsed.NameCN != "" && hotel.NameCN != parsed.NameCN {
		hotel.NameCN = parsed.NameCN
		changed = true
	}
	if hotel.NewNameEN == "" && parsed.NameEN != "" && hotel.NameEN != parsed.NameEN {
		hotel.NameEN = parsed.NameEN
		changed = true
	}
	if hotel.NewCountryIso2 == "" && parsed.CountryIso2 != "" && hotel.CountryIso2 != parsed.CountryIso2 {
		hotel.CountryIso2 = parsed.CountryIso2
		changed = true
	}
	if hotel.NewAddress == "" && parsed.Address != "" && hotel.Address != parsed.Address {
		hotel.Address = parsed.Address
		changed = true
	}
	if parsed.CityCode != "" && hotel.CityCode != parsed.CityCode {
		hotel.CityCode = parsed.CityCode
		changed = true
	}
	if parsed.Longitude != 0 && hotel.Longitude != parsed.Longitude {
		hotel.Longitude = parsed.Longitude
		changed = true
	}
	if parsed.Latitude != 0 && hotel.Latitude != parsed.Latitude {
		hotel.Latitude = parsed.Latitude
		changed = true
	}
	if parsed.StarRating != 0 && hotel.StarRating != parsed.StarRating {
		hotel.StarRating = parsed.StarRating
		changed = true
	}
	return changed
}

// indexWithRetry bulk-upserts the documents, retrying only the rejected
// subset with exponential backoff. It returns the indexed count and the
// failures that survived every attempt.
func (s *Service) indexWithRetry(ctx context.Context, docs []index.HotelDoc) (int, []index.ItemFailure, error) {
	if len(docs) == 0 {
		return 0, nil, nil
	}

	byRow := make(map[int64]index.HotelDoc, len(docs))
	for _, doc := range docs {
		byRow[doc.RowID] = doc
	}

	pending := docs
	var failures []index.ItemFailure
	for attempt := 1; attempt <= indexRetryAttempts; attempt++ {
		var err error
		failures, err = s.writer.BulkUpsert(ctx, pending)
		if err != nil {
			return 0, nil, err
		}
		if len(failures) == 0 {
			return len(docs), nil, nil
		}

		s.log.Warn("bulk upsert rejected documents",
			logger.Int("attempt", attempt),
			logger.Int("rejected", len(failures)))

		if attempt == indexRetryAttempts {
			break
		}

		next := make([]index.HotelDoc, 0, len(failures))
		for _, f := range failures {
			if doc, ok := byRow[f.RowID]; ok {
				next = append(next, doc)
			}
		}
		pending = next

		delay := indexRetryBase
		for i := 1; i < attempt; i++ {
			delay *= indexRetryFactor
		}
		s.sleep(delay)
	}

	return len(docs) - len(failures), failures, nil
}

func (s *Service) deadLetter(ctx context.Context, event models.HotelEvent, code string, cause error) error {
	letter := models.DeadLetter{
		HotelEvent:   event,
		ErrorCode:    code,
		ErrorMessage: cause.Error(),
	}
	if err := s.dead.Publish(ctx, letter); err != nil {
		return fmt.Errorf("dead-letter %s for hotel %s: %w", code, event.HotelID, err)
	}
	s.log.Warn("event dead-lettered",
		logger.String("hotel_id", event.HotelID),
		logger.String("error_code", code),
		logger.NamedError("cause", cause))
	return nil
}
