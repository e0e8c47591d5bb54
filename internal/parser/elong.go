package parser

import (
	"github.com/tidwall/gjson"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// ElongParser extracts fields from Elong's flat detail payload, which
// serves the domestic (CN) segment.
type ElongParser struct{}

// Parse implements Parser.
func (p *ElongParser) Parse(raw string) (models.ParsedHotel, error) {
	doc := gjson.Parse(raw)

	parsed := models.ParsedHotel{
		NameCN:      doc.Get("hotelName").String(),
		NameEN:      doc.Get("hotelNameEn").String(),
		CountryIso2: doc.Get("countryIso2").String(),
		CityCode:    doc.Get("cityCode").String(),
		Address:     doc.Get("address").String(),
		Longitude:   doc.Get("longitude").Float(),
		Latitude:    doc.Get("latitude").Float(),
		StarRating:  int(doc.Get("star").Int()),
	}
	if parsed.CountryIso2 == "" {
		parsed.CountryIso2 = "CN"
	}

	// A domestic record without a Chinese name is unusable.
	if parsed.NameCN == "" {
		return models.ParsedHotel{}, ErrEmptyResult
	}
	return parsed, nil
}
