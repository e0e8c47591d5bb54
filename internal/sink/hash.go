package sink

import (
	"crypto/md5" //nolint:gosec // change-detection digest, not security
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// contentHash digests the given fields so change detection is a single
// string comparison instead of a field-by-field diff.
func contentHash(fields ...string) string {
	sum := md5.Sum([]byte(strings.Join(fields, "|"))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// PoiContentHash digests the mutable identity fields of a POI record.
func PoiContentHash(p models.Poi) string {
	return contentHash(
		p.PoiID, p.Name, p.TypeCode, p.RegionCode, p.Address, p.Tel,
		strconv.FormatFloat(p.Longitude, 'f', 6, 64),
		strconv.FormatFloat(p.Latitude, 'f', 6, 64),
		p.ParentID,
	)
}

// HotelContentHash digests a hotel's identity and its raw provider
// payload. The structured columns are derived from the payload later by
// the backfill, so the payload is what carries change at sink time.
// Callers hash before compressing.
func HotelContentHash(h *models.Hotel) string {
	return contentHash(
		strconv.FormatInt(h.HotelID, 10), h.ProviderSource, h.TagSource,
		h.RawPayload,
	)
}
