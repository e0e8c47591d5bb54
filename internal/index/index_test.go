package index

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

func newTestWriter(t *testing.T, handler http.HandlerFunc) *Writer {
	t.Helper()

	// The v8 client rejects responses that lack the product header.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)

	return NewWriter(es, "hotels", logger.NewNopLogger())
}

func TestDocFromHotelPrefersManualCorrections(t *testing.T) {
	hotel := &models.Hotel{
		ID:             42,
		HotelID:        21000001,
		ProviderSource: models.ProviderElong,
		TagSource:      models.TagCN,
		NameCN:         "旧名称",
		NameEN:         "Old Name",
		CountryIso2:    "CN",
		Address:        "old road 1",
		NewNameCN:      "新名称",
		NewAddress:     "new road 2",
	}

	doc := DocFromHotel(hotel)

	assert.Equal(t, "新名称", doc.NameCN)
	assert.Equal(t, "Old Name", doc.NameEN)
	assert.Equal(t, "new road 2", doc.Address)
	assert.Equal(t, "CN", doc.CountryIso2)
	assert.Equal(t, int64(42), doc.RowID)
}

func TestBulkUpsertAllSucceeded(t *testing.T) {
	var gotBody string
	writer := newTestWriter(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":false,"items":[{"index":{"_id":"1","status":200}}]}`))
	})

	failures, err := writer.BulkUpsert(context.Background(), []HotelDoc{
		{RowID: 1, HotelID: 21000001, NameCN: "酒店"},
	})
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Contains(t, gotBody, `"_id":"1"`)
	assert.Contains(t, gotBody, `"hotel_id":21000001`)
}

func TestBulkUpsertReportsItemFailures(t *testing.T) {
	writer := newTestWriter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":true,"items":[
			{"index":{"_id":"1","status":200}},
			{"index":{"_id":"2","status":429,"error":{"type":"es_rejected_execution_exception","reason":"queue full"}}}
		]}`))
	})

	failures, err := writer.BulkUpsert(context.Background(), []HotelDoc{
		{RowID: 1}, {RowID: 2},
	})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, int64(2), failures[0].RowID)
	assert.Equal(t, 429, failures[0].Status)
	assert.Equal(t, "queue full", failures[0].Reason)
}

func TestBulkUpsertTransportError(t *testing.T) {
	writer := newTestWriter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"unavailable"}`))
	})

	_, err := writer.BulkUpsert(context.Background(), []HotelDoc{{RowID: 1}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "503"))
}

func TestBulkUpsertEmptyBatch(t *testing.T) {
	writer := newTestWriter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty batch")
	})

	failures, err := writer.BulkUpsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, failures)
}
