package parser

import (
	"github.com/tidwall/gjson"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// AgodaParser extracts fields from Agoda's nested detail payload, which
// serves the international and HMT segments.
type AgodaParser struct{}

// Parse implements Parser.
func (p *AgodaParser) Parse(raw string) (models.ParsedHotel, error) {
	hotel := gjson.Get(raw, "hotel")
	if !hotel.Exists() {
		// Some payload revisions are not wrapped.
		hotel = gjson.Parse(raw)
	}

	parsed := models.ParsedHotel{
		NameCN:      hotel.Get("name.cn").String(),
		NameEN:      hotel.Get("name.en").String(),
		CountryIso2: hotel.Get("country").String(),
		CityCode:    hotel.Get("city").String(),
		Address:     hotel.Get("address.line1").String(),
		Longitude:   hotel.Get("location.lng").Float(),
		Latitude:    hotel.Get("location.lat").Float(),
		StarRating:  int(hotel.Get("starRating").Int()),
	}

	// International records may lack a Chinese name; the English name
	// is the required field for this segment.
	if parsed.NameEN == "" {
		return models.ParsedHotel{}, ErrEmptyResult
	}
	return parsed, nil
}
