package models

// Event types carried on the hand-off stream.
const (
	EventHotelUpserted = "hotel.upserted"
)

// Dead-letter cause codes.
const (
	DLQNotFound    = "NOT_FOUND"
	DLQNoParser    = "NO_PARSER"
	DLQEmptyParser = "EMPTY_PARSER"
	DLQBackfill    = "BACKFILL_ERROR"
	DLQIndexUpsert = "ES_UPSERT_FAIL"
	DLQDetailFetch = "DETAIL_FETCH_FAIL"
)

// HotelEvent is the immutable hand-off message published after a hotel
// record is persisted. All fields are strings for the stream wire format.
type HotelEvent struct {
	EventType      string `json:"event_type"`
	RowID          string `json:"row_id"`
	HotelID        string `json:"hotel_id"`
	ProviderSource string `json:"provider_source"`
	TagSource      string `json:"tag_source"`
	TraceID        string `json:"trace_id"`
	RunID          string `json:"run_id"`
	FetchedAt      string `json:"fetched_at"`
}

// DeadLetter is a hand-off event plus the cause of its permanent failure.
// Written once, never updated; consumed only by the alerting aggregator.
type DeadLetter struct {
	HotelEvent
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}
