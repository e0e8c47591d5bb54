package models

// UnitStatus is the lifecycle status of a single crawl work unit.
type UnitStatus string

const (
	UnitPending    UnitStatus = "PENDING"
	UnitProcessing UnitStatus = "PROCESSING"
	UnitCompleted  UnitStatus = "COMPLETED"
	UnitFailed     UnitStatus = "FAILED"
)

// IsValid reports whether s is one of the defined unit statuses.
func (s UnitStatus) IsValid() bool {
	switch s {
	case UnitPending, UnitProcessing, UnitCompleted, UnitFailed:
		return true
	}
	return false
}

// WorkUnit is one (region, category) crawl target within a POI run.
// Units are created in bulk when a run starts and survive restarts so a
// resumed run can pick up the remaining PENDING units.
type WorkUnit struct {
	RegionCode     string     `json:"region_code"`
	RegionName     string     `json:"region_name"`
	CategoryCode   string     `json:"category_code"`
	CategoryName   string     `json:"category_name"`
	UnitKey        string     `json:"unit_key"`
	Status         UnitStatus `json:"status"`
	CollectedCount int        `json:"collected_count"`
}

// UnitKey derives the stable key for a (region, category) pair.
func UnitKey(regionCode, categoryCode string) string {
	return regionCode + "_" + categoryCode
}

// UnitStats summarizes the per-status unit counts for one run.
type UnitStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Settled reports whether no unit remains to be worked, which is the
// termination condition for a run.
func (s UnitStats) Settled() bool {
	return s.Pending == 0 && s.Processing == 0
}
