package models

import "time"

// TaskStatus is the top-level status of a pipeline run.
type TaskStatus string

const (
	TaskIdle      TaskStatus = "IDLE"
	TaskRunning   TaskStatus = "RUNNING"
	TaskPaused    TaskStatus = "PAUSED"
	TaskStopped   TaskStatus = "STOPPED"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// IsValid reports whether s is one of the defined task statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskIdle, TaskRunning, TaskPaused, TaskStopped, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Terminal reports whether s is an end state for a run.
func (s TaskStatus) Terminal() bool {
	return s == TaskStopped || s == TaskCompleted || s == TaskFailed
}

// TaskState is the durable singleton control record for one pipeline.
// Only the orchestrator mutates it; the control surface reads it.
type TaskState struct {
	Status          TaskStatus `json:"status"`
	RunID           string     `json:"run_id"`
	TraceID         string     `json:"trace_id"`
	StartTime       time.Time  `json:"start_time"`
	TotalUnits      int        `json:"total_units"`
	CompletedUnits  int        `json:"completed_units"`
	TotalCollected  int        `json:"total_collected"`
	CurrentRegion   string     `json:"current_region"`
	CurrentCategory string     `json:"current_category"`
	Message         string     `json:"message"`
}
