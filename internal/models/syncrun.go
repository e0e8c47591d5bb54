package models

import "time"

// RunStatus is the terminal outcome recorded for one sync run.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunPartial RunStatus = "PARTIAL"
	RunFailed  RunStatus = "FAILED"
	RunStopped RunStatus = "STOPPED"
)

// Terminal reports whether s is a finalized run outcome.
func (s RunStatus) Terminal() bool {
	return s != RunRunning
}

// Job codes identifying the pipelines sharing the audit log, the
// watermark store and the concurrency gate.
const (
	JobPoiCollect = "poi_collect"
	JobHotelSync  = "hotel_sync"
)

// Trigger sources recorded on each run.
const (
	TriggerManual = "manual"
	TriggerCron   = "cron"
)

// SyncRun is one audit-log row per ingestion run. It is created RUNNING
// and finalized exactly once by the run that created it.
type SyncRun struct {
	ID             int64      `db:"id"              json:"id"`
	TraceID        string     `db:"trace_id"        json:"trace_id"`
	JobCode        string     `db:"job_code"        json:"job_code"`
	Trigger        string     `db:"trigger_source"  json:"trigger_source"`
	Status         RunStatus  `db:"status"          json:"status"`
	StartedAt      time.Time  `db:"started_at"      json:"started_at"`
	FinishedAt     *time.Time `db:"finished_at"     json:"finished_at,omitempty"`
	TotalFetched   int        `db:"total_fetched"   json:"total_fetched"`
	TotalPersisted int        `db:"total_persisted" json:"total_persisted"`
	SuccessCount   int        `db:"success_count"   json:"success_count"`
	FailCount      int        `db:"fail_count"      json:"fail_count"`
	Message        string     `db:"message"         json:"message"`
}

// Watermark is the durable max-ID cursor for a monotonic incremental
// crawl. It never regresses, even under retried pages.
type Watermark struct {
	JobCode   string    `db:"job_code"   json:"job_code"`
	MaxIDSeen int64     `db:"max_id_seen" json:"max_id_seen"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// JobSchedule is one cron-triggered job definition.
type JobSchedule struct {
	JobCode   string    `db:"job_code"  json:"job_code"`
	CronExpr  string    `db:"cron_expr" json:"cron_expr"`
	Enabled   bool      `db:"enabled"   json:"enabled"`
	Params    string    `db:"params"    json:"params"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
