package streams

import (
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

func eventValues(ev models.HotelEvent) map[string]any {
	return map[string]any{
		"eventType":      ev.EventType,
		"rowId":          ev.RowID,
		"hotelId":        ev.HotelID,
		"providerSource": ev.ProviderSource,
		"tagSource":      ev.TagSource,
		"traceId":        ev.TraceID,
		"runId":          ev.RunID,
		"fetchedAt":      ev.FetchedAt,
	}
}

func str(values map[string]any, key string) string {
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}

func eventFromValues(values map[string]any) models.HotelEvent {
	return models.HotelEvent{
		EventType:      str(values, "eventType"),
		RowID:          str(values, "rowId"),
		HotelID:        str(values, "hotelId"),
		ProviderSource: str(values, "providerSource"),
		TagSource:      str(values, "tagSource"),
		TraceID:        str(values, "traceId"),
		RunID:          str(values, "runId"),
		FetchedAt:      str(values, "fetchedAt"),
	}
}

func deadLetterValues(dl models.DeadLetter) map[string]any {
	values := eventValues(dl.HotelEvent)
	values["errorCode"] = dl.ErrorCode
	values["errorMessage"] = dl.ErrorMessage
	return values
}

func deadLetterFromValues(values map[string]any) models.DeadLetter {
	return models.DeadLetter{
		HotelEvent:   eventFromValues(values),
		ErrorCode:    str(values, "errorCode"),
		ErrorMessage: str(values, "errorMessage"),
	}
}
