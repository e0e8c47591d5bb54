package models

import "time"

// Provider sources recognized by the parser registry and event schema.
const (
	ProviderElong = "Elong"
	ProviderAgoda = "Agoda"
)

// Tag sources classifying the market segment a hotel belongs to.
const (
	TagCN   = "CN"
	TagINTL = "INTL"
	TagHMT  = "HMT"
)

// ProviderForHotelID maps a supplier hotel identifier onto its upstream
// provider. Identifiers at or above the Elong floor belong to Elong.
func ProviderForHotelID(hotelID int64) string {
	if hotelID >= 20_000_000 {
		return ProviderElong
	}
	return ProviderAgoda
}

// Hotel is one supplier hotel record as persisted. RawPayload holds the
// gzip-compressed, base64-encoded provider response the backfill parsers
// re-derive structured fields from.
type Hotel struct {
	ID             int64      `db:"id"                json:"id"`
	HotelID        int64      `db:"hotel_id"          json:"hotel_id"`
	ProviderSource string     `db:"provider_source"   json:"provider_source"`
	TagSource      string     `db:"tag_source"        json:"tag_source"`
	NameCN         string     `db:"name_cn"           json:"name_cn"`
	NameEN         string     `db:"name_en"           json:"name_en"`
	CountryIso2    string     `db:"country_iso2"      json:"country_iso2"`
	CityCode       string     `db:"city_code"         json:"city_code"`
	Address        string     `db:"address"           json:"address"`
	Longitude      float64    `db:"longitude"         json:"longitude"`
	Latitude       float64    `db:"latitude"          json:"latitude"`
	StarRating     int        `db:"star_rating"       json:"star_rating"`
	RawPayload     string     `db:"raw_payload"       json:"-"`
	ContentHash    string     `db:"content_hash"      json:"content_hash"`
	// Manual correction fields. When set by an operator they take
	// precedence over values re-derived from the raw payload.
	NewNameCN      string     `db:"new_name_cn"       json:"new_name_cn"`
	NewNameEN      string     `db:"new_name_en"       json:"new_name_en"`
	NewCountryIso2 string     `db:"new_country_iso2"  json:"new_country_iso2"`
	NewAddress     string     `db:"new_address"       json:"new_address"`
	ParsedAt       *time.Time `db:"parsed_at"         json:"parsed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"        json:"updated_at"`
}

// ParsedHotel carries the structured fields a provider parser extracts
// from a stored raw payload.
type ParsedHotel struct {
	NameCN      string
	NameEN      string
	CountryIso2 string
	CityCode    string
	Address     string
	Longitude   float64
	Latitude    float64
	StarRating  int
}
