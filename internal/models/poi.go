package models

import "time"

// Poi is one normalized point-of-interest record. Child POIs from the
// provider response are flattened into independent rows carrying their
// parent's identifier in ParentID.
type Poi struct {
	ID           int64     `db:"id"            json:"id"`
	PoiID        string    `db:"poi_id"        json:"poi_id"`
	Name         string    `db:"name"          json:"name"`
	TypeCode     string    `db:"type_code"     json:"type_code"`
	TypeName     string    `db:"type_name"     json:"type_name"`
	RegionCode   string    `db:"region_code"   json:"region_code"`
	RegionName   string    `db:"region_name"   json:"region_name"`
	Address      string    `db:"address"       json:"address"`
	Tel          string    `db:"tel"           json:"tel"`
	Longitude    float64   `db:"longitude"     json:"longitude"`
	Latitude     float64   `db:"latitude"      json:"latitude"`
	ParentID     string    `db:"parent_id"     json:"parent_id"`
	ContentHash  string    `db:"content_hash"  json:"content_hash"`
	RunID        string    `db:"run_id"        json:"run_id"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

// RawPoi is a provider POI record before validation. Location is the
// provider's "lng,lat" encoded coordinate string. Children holds nested
// sub-locations the validator flattens.
type RawPoi struct {
	PoiID    string   `json:"id"`
	Name     string   `json:"name"`
	TypeCode string   `json:"typecode"`
	TypeName string   `json:"type"`
	Address  string   `json:"address"`
	Tel      string   `json:"tel"`
	Location string   `json:"location"`
	ParentID string   `json:"parent"`
	Children []RawPoi `json:"children,omitempty"`
}
