package types

import (
	"encoding/json"
	"time"
)

// JobStatus represents the status of a queued job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDiscarded JobStatus = "discarded"
)

// Terminal reports whether the job will not run again
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusDiscarded
}

// Job represents a durable unit of background work
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	OperationID string          `json:"operation_id,omitempty"`
	UniqueKey   string          `json:"unique_key,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	Executions  int             `json:"executions"`
	Retries     int             `json:"retries"`
	RunAt       time.Time       `json:"run_at"`
	// LockedUntil is the end of the current claim's lease. A running job
	// whose lease has passed is handed out again.
	LockedUntil *time.Time      `json:"locked_until,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}
