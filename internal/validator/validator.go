// Package validator cleans raw provider POI records before persistence.
// Invalid records reflect provider data quality, not pipeline failure;
// they are logged, counted and dropped, never retried or dead-lettered.
package validator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonesrussell/hotel-ingest/internal/config"
	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// Validator filters and flattens raw POI records.
type Validator struct {
	box *config.BoundingBox
	log logger.Logger
}

// New creates a validator. box optionally tightens the coordinate check
// beyond the global latitude/longitude ranges.
func New(box *config.BoundingBox, log logger.Logger) *Validator {
	return &Validator{box: box, log: log}
}

// ParseLocation parses the provider's "lng,lat" coordinate encoding.
func ParseLocation(location string) (lng, lat float64, err error) {
	parts := strings.Split(location, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed location %q", location)
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed longitude in %q: %w", location, err)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed latitude in %q: %w", location, err)
	}
	return lng, lat, nil
}

// Flatten expands nested child records into independent top-level
// records. Children inherit nothing from the payload itself beyond the
// parent link; region fields are attached later from the work unit.
func (v *Validator) Flatten(items []models.RawPoi) []models.RawPoi {
	var out []models.RawPoi
	for _, item := range items {
		children := item.Children
		item.Children = nil
		out = append(out, item)

		for _, child := range children {
			child.ParentID = item.PoiID
			child.Children = nil
			out = append(out, child)
		}
	}
	return out
}

// FilterValid drops records missing identity or name fields and records
// whose coordinates fail range checks. Returns the surviving records
// and the dropped count.
func (v *Validator) FilterValid(items []models.RawPoi) ([]models.RawPoi, int) {
	var valid []models.RawPoi
	dropped := 0

	for _, item := range items {
		if reason := v.check(item); reason != "" {
			dropped++
			v.log.Debug("dropping invalid poi record",
				logger.String("poi_id", item.PoiID),
				logger.String("reason", reason))
			continue
		}
		valid = append(valid, item)
	}
	return valid, dropped
}

func (v *Validator) check(item models.RawPoi) string {
	if item.PoiID == "" {
		return "missing id"
	}
	if item.Name == "" {
		return "missing name"
	}

	lng, lat, err := ParseLocation(item.Location)
	if err != nil {
		return err.Error()
	}
	if lat < -90 || lat > 90 {
		return fmt.Sprintf("latitude %f out of range", lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Sprintf("longitude %f out of range", lng)
	}
	if v.box != nil {
		if lat < v.box.MinLat || lat > v.box.MaxLat || lng < v.box.MinLng || lng > v.box.MaxLng {
			return fmt.Sprintf("coordinates (%f, %f) outside configured bounds", lng, lat)
		}
	}
	return ""
}

// ToPois converts validated records into persistable rows, attaching
// the owning unit's region fields and the run id.
func (v *Validator) ToPois(items []models.RawPoi, unit models.WorkUnit, runID string) []models.Poi {
	out := make([]models.Poi, 0, len(items))
	for _, item := range items {
		lng, lat, err := ParseLocation(item.Location)
		if err != nil {
			// Callers filter first; a conversion miss is a bug upstream.
			continue
		}
		out = append(out, models.Poi{
			PoiID:      item.PoiID,
			Name:       item.Name,
			TypeCode:   item.TypeCode,
			TypeName:   item.TypeName,
			RegionCode: unit.RegionCode,
			RegionName: unit.RegionName,
			Address:    item.Address,
			Tel:        item.Tel,
			Longitude:  lng,
			Latitude:   lat,
			ParentID:   item.ParentID,
			RunID:      runID,
		})
	}
	return out
}
