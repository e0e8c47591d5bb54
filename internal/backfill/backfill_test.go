package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/hotel-ingest/internal/database"
	"github.com/jonesrussell/hotel-ingest/internal/index"
	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/parser"
	"github.com/jonesrussell/hotel-ingest/internal/sink"
)

type fakeStore struct {
	hotels    map[int64]*models.Hotel
	updateErr error

	mu      sync.Mutex
	updated []int64
}

func (f *fakeStore) GetHotelByID(_ context.Context, id int64) (*models.Hotel, error) {
	h, ok := f.hotels[id]
	if !ok {
		return nil, database.ErrHotelNotFound
	}
	return h, nil
}

func (f *fakeStore) UpdateParsedFields(_ context.Context, hotel *models.Hotel) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	f.updated = append(f.updated, hotel.ID)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) updatedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.updated...)
}

type fakeWriter struct {
	// failuresPerCall is consumed one element per BulkUpsert call.
	failuresPerCall [][]index.ItemFailure
	err             error
	calls           [][]index.HotelDoc
}

func (f *fakeWriter) BulkUpsert(_ context.Context, docs []index.HotelDoc) ([]index.ItemFailure, error) {
	f.calls = append(f.calls, docs)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.failuresPerCall) == 0 {
		return nil, nil
	}
	failures := f.failuresPerCall[0]
	f.failuresPerCall = f.failuresPerCall[1:]
	return failures, nil
}

type fakeDLQ struct {
	letters []models.DeadLetter
	err     error
}

func (f *fakeDLQ) Publish(_ context.Context, letter models.DeadLetter) error {
	if f.err != nil {
		return f.err
	}
	f.letters = append(f.letters, letter)
	return nil
}

func compress(t *testing.T, raw string) string {
	t.Helper()
	out, err := sink.CompressPayload(raw)
	require.NoError(t, err)
	return out
}

func elongHotel(t *testing.T, rowID, hotelID int64) *models.Hotel {
	t.Helper()
	raw := `{"hotelName":"花园酒店","hotelNameEn":"Garden Hotel","countryIso2":"CN","cityCode":"2001","address":"环市东路368号","longitude":113.3,"latitude":23.1,"star":5}`
	return &models.Hotel{
		ID:             rowID,
		HotelID:        hotelID,
		ProviderSource: models.ProviderElong,
		TagSource:      models.TagCN,
		RawPayload:     compress(t, raw),
	}
}

func newTestService(store *fakeStore, writer *fakeWriter, dead *fakeDLQ) *Service {
	s := NewService(store, parser.NewRegistry(), writer, dead, logger.NewNopLogger())
	s.sleep = func(time.Duration) {}
	return s
}

func event(rowID string) models.HotelEvent {
	return models.HotelEvent{
		EventType: models.EventHotelUpserted,
		RowID:     rowID,
		HotelID:   "21000001",
	}
}

func TestProcessBatchParsesUpdatesAndIndexes(t *testing.T) {
	store := &fakeStore{hotels: map[int64]*models.Hotel{7: elongHotel(t, 7, 21000001)}}
	writer := &fakeWriter{}
	dead := &fakeDLQ{}
	svc := newTestService(store, writer, dead)

	stats, err := svc.ProcessBatch(context.Background(), []models.HotelEvent{event("7")})
	require.NoError(t, err)

	assert.Equal(t, Stats{Processed: 1, Updated: 1, Indexed: 1}, stats)
	assert.Equal(t, []int64{7}, store.updated)
	assert.Empty(t, dead.letters)

	require.Len(t, writer.calls, 1)
	doc := writer.calls[0][0]
	assert.Equal(t, "花园酒店", doc.NameCN)
	assert.Equal(t, "Garden Hotel", doc.NameEN)
	assert.Equal(t, 5, doc.StarRating)
}

func TestProcessBatchNoChangeSkipsUpdate(t *testing.T) {
	hotel := elongHotel(t, 7, 21000001)
	hotel.NameCN = "花园酒店"
	hotel.NameEN = "Garden Hotel"
	hotel.CountryIso2 = "CN"
	hotel.CityCode = "2001"
	hotel.Address = "环市东路368号"
	hotel.Longitude = 113.3
	hotel.Latitude = 23.1
	hotel.StarRating = 5

	store := &fakeStore{hotels: map[int64]*models.Hotel{7: hotel}}
	svc := newTestService(store, &fakeWriter{}, &fakeDLQ{})

	stats, err := svc.ProcessBatch(context.Background(), []models.HotelEvent{event("7")})
	require.NoError(t, err)

	assert.Zero(t, stats.Updated)
	assert.Equal(t, 1, stats.Indexed)
	assert.Empty(t, store.updated)
}

func TestProcessBatchManualCorrectionsWin(t *testing.T) {
	hotel := elongHotel(t, 7, 21000001)
	hotel.NewNameCN = "人工修正名"
	hotel.NewAddress = "人工地址"

	store := &fakeStore{hotels: map[int64]*models.Hotel{7: hotel}}
	writer := &fakeWriter{}
	svc := newTestService(store, writer, &fakeDLQ{})

	_, err := svc.ProcessBatch(context.Background(), []models.HotelEvent{event("7")})
	require.NoError(t, err)

	assert.Empty(t, hotel.NameCN, "corrected field must not take the parsed value")
	doc := writer.calls[0][0]
	assert.Equal(t, "人工修正名", doc.NameCN)
	assert.Equal(t, "人工地址", doc.Address)
	assert.Equal(t, "Garden Hotel", doc.NameEN)
}

func TestProcessBatchMissingRowDeadLetters(t *testing.T) {
	store := &fakeStore{hotels: map[int64]*models.Hotel{}}
	dead := &fakeDLQ{}
	svc := newTestService(store, &fakeWriter{}, dead)

	stats, err := svc.ProcessBatch(context.Background(), []models.HotelEvent{event("99")})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.DeadLettered)
	require.Len(t, dead.letters, 1)
	assert.Equal(t, models.DLQNotFound, dead.letters[0].ErrorCode)
}

func TestProcessBatchUnknownParserDeadLetters(t *testing.T) {
	hotel := elongHotel(t, 7, 21000001)
	hotel.ProviderSource = "Unknown"

	dead := &fakeDLQ{}
	svc := newTestService(&fakeStore{hotels: map[int64]*models.Hotel{7: hotel}}, &fakeWriter{}, dead)

	_, err := svc.ProcessBatch(context.Background(), []models.HotelEvent{event("7")})
	require.NoError(t, err)

	require.Len(t, dead.letters, 1)
	assert.Equal(t, models.DLQNoParser, dead.letters[0].ErrorCode)
}

func TestProcessBatchEmptyParseDeadLetters(t *testing.T) {
	hotel := elongHotel(t, 7, 21000001)
	hotel.RawPayload = compress(t, `{"hotelName":""}`)

	dead := &fakeDLQ{}
	svc := newTestService(&fakeStore{hotels: map[int64]*models.Hotel{7: hotel}}, &fakeWriter{}, dead)

	_, err := svc.ProcessBatch(context.Background(), []models.HotelEvent{event("7")})
	require.NoError(t, err)

	require.Len(t, dead.letters, 1)
	assert.Equal(t, models.DLQEmptyParser, dead.letters[0].ErrorCode)
}

func TestProcessBatchCorruptPayloadDeadLetters(t *testing.T) {
	hotel := elongHotel(t, 7, 21000001)
	hotel.RawPayload = "not base64 gzip"

	dead := &fakeDLQ{}
	svc := newTestService(&fakeStore{hotels: map[int64]*models.Hotel{7: hotel}}, &fakeWriter{}, dead)

	_, err := svc.ProcessBatch(context.Background(), []models.HotelEvent{event("7")})
	require.NoError(t, err)

	require.Len(t, dead.letters, 1)
	assert.Equal(t, models.DLQBackfill, dead.letters[0].ErrorCode)
}

func TestIndexRetryOnlyRetriesRejectedSubset(t *testing.T) {
	store := &fakeStore{hotels: map[int64]*models.Hotel{
		1: elongHotel(t, 1, 21000001),
		2: elongHotel(t, 2, 21000002),
	}}
	writer := &fakeWriter{failuresPerCall: [][]index.ItemFailure{
		{{RowID: 2, Status: 429, Reason: "queue full"}},
		{}, // retry succeeds
	}}
	dead := &fakeDLQ{}
	svc := newTestService(store, writer, dead)

	stats, err := svc.ProcessBatch(context.Background(), []models.HotelEvent{event("1"), event("2")})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Indexed)
	assert.Empty(t, dead.letters)
	require.Len(t, writer.calls, 2)
	assert.Len(t, writer.calls[0], 2)
	require.Len(t, writer.calls[1], 1)
	assert.Equal(t, int64(2), writer.calls[1][0].RowID)
}

func TestIndexRetryExhaustionDeadLetters(t *testing.T) {
	store := &fakeStore{hotels: map[int64]*models.Hotel{1: elongHotel(t, 1, 21000001)}}
	failure := []index.ItemFailure{{RowID: 1, Status: 429, Reason: "queue full"}}
	writer := &fakeWriter{failuresPerCall: [][]index.ItemFailure{failure, failure, failure}}
	dead := &fakeDLQ{}
	svc := newTestService(store, writer, dead)

	stats, err := svc.ProcessBatch(context.Background(), []models.HotelEvent{event("1")})
	require.NoError(t, err)

	assert.Zero(t, stats.Indexed)
	assert.Equal(t, 1, stats.DeadLettered)
	assert.Len(t, writer.calls, indexRetryAttempts)
	require.Len(t, dead.letters, 1)
	assert.Equal(t, models.DLQIndexUpsert, dead.letters[0].ErrorCode)
	assert.Contains(t, dead.letters[0].ErrorMessage, "queue full")
}

func TestIndexTransportFailureDeadLettersWholeBatch(t *testing.T) {
	store := &fakeStore{hotels: map[int64]*models.Hotel{
		1: elongHotel(t, 1, 21000001),
		2: elongHotel(t, 2, 21000002),
	}}
	writer := &fakeWriter{err: errors.New("connection refused")}
	dead := &fakeDLQ{}
	svc := newTestService(store, writer, dead)

	stats, err := svc.ProcessBatch(context.Background(), []models.HotelEvent{event("1"), event("2")})
	require.NoError(t, err)

	assert.Zero(t, stats.Indexed)
	assert.Equal(t, 2, stats.DeadLettered)
	assert.Len(t, dead.letters, 2)
}

func TestProcessBatchDeadLetterFailureSurfaces(t *testing.T) {
	store := &fakeStore{hotels: map[int64]*models.Hotel{}}
	dead := &fakeDLQ{err: errors.New("stream gone")}
	svc := newTestService(store, &fakeWriter{}, dead)

	_, err := svc.ProcessBatch(context.Background(), []models.HotelEvent{event("99")})
	require.Error(t, err)
}
