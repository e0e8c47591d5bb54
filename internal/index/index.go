// Package index writes hotel documents into Elasticsearch.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/jonesrussell/hotel-ingest/internal/config"
	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// NewClient creates an Elasticsearch client and verifies connectivity.
func NewClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	res, err := client.Ping()
	if err != nil {
		return nil, fmt.Errorf("failed to ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch ping returned %s", res.Status())
	}

	return client, nil
}

// HotelDoc is the indexed document shape for one hotel.
type HotelDoc struct {
	RowID          int64   `json:"row_id"`
	HotelID        int64   `json:"hotel_id"`
	ProviderSource string  `json:"provider_source"`
	TagSource      string  `json:"tag_source"`
	NameCN         string  `json:"name_cn"`
	NameEN         string  `json:"name_en"`
	CountryIso2    string  `json:"country_iso2"`
	CityCode       string  `json:"city_code"`
	Address        string  `json:"address"`
	Longitude      float64 `json:"longitude"`
	Latitude       float64 `json:"latitude"`
	StarRating     int     `json:"star_rating"`
}

// DocFromHotel builds the index document for a hotel row, preferring
// manual correction fields where set.
func DocFromHotel(h *models.Hotel) HotelDoc {
	doc := HotelDoc{
		RowID:          h.ID,
		HotelID:        h.HotelID,
		ProviderSource: h.ProviderSource,
		TagSource:      h.TagSource,
		NameCN:         h.NameCN,
		NameEN:         h.NameEN,
		CountryIso2:    h.CountryIso2,
		CityCode:       h.CityCode,
		Address:        h.Address,
		Longitude:      h.Longitude,
		Latitude:       h.Latitude,
		StarRating:     h.StarRating,
	}
	if h.NewNameCN != "" {
		doc.NameCN = h.NewNameCN
	}
	if h.NewNameEN != "" {
		doc.NameEN = h.NewNameEN
	}
	if h.NewCountryIso2 != "" {
		doc.CountryIso2 = h.NewCountryIso2
	}
	if h.NewAddress != "" {
		doc.Address = h.NewAddress
	}
	return doc
}

// ItemFailure is one per-document failure from a bulk call.
type ItemFailure struct {
	RowID  int64
	Status int
	Reason string
}

// Writer bulk-upserts hotel documents.
type Writer struct {
	es    *elasticsearch.Client
	index string
	log   logger.Logger
}

// NewWriter creates a writer targeting one index.
func NewWriter(es *elasticsearch.Client, index string, log logger.Logger) *Writer {
	return &Writer{es: es, index: index, log: log}
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

// BulkUpsert indexes the documents in one bulk call and returns the
// per-item failures. A transport-level failure returns an error; item
// failures do not.
func (w *Writer) BulkUpsert(ctx context.Context, docs []HotelDoc) ([]ItemFailure, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var body bytes.Buffer
	for _, doc := range docs {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, w.index, strconv.FormatInt(doc.RowID, 10))
		body.WriteString(meta)
		body.WriteByte('\n')

		encoded, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document %d: %w", doc.RowID, err)
		}
		body.Write(encoded)
		body.WriteByte('\n')
	}

	res, err := w.es.Bulk(bytes.NewReader(body.Bytes()),
		w.es.Bulk.WithContext(ctx),
		w.es.Bulk.WithIndex(w.index))
	if err != nil {
		return nil, fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bulk response: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("bulk request returned %s: %s", res.Status(), raw)
	}

	var parsed bulkResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil, nil
	}

	var failures []ItemFailure
	for _, item := range parsed.Items {
		result, ok := item["index"]
		if !ok {
			continue
		}
		if result.Status >= 300 {
			rowID, _ := strconv.ParseInt(result.ID, 10, 64)
			failure := ItemFailure{RowID: rowID, Status: result.Status}
			if result.Error != nil {
				failure.Reason = result.Error.Reason
			}
			failures = append(failures, failure)
		}
	}
	return failures, nil
}
