package types

import "time"

// OperationStatus represents the status of a copy operation
type OperationStatus string

const (
	OperationStatusPending   OperationStatus = "pending"
	OperationStatusCompleted OperationStatus = "completed"
	OperationStatusFailed    OperationStatus = "failed"
)

// CopyOperation groups the per-pair copy jobs of one duplication request
type CopyOperation struct {
	ID              string          `json:"id"`
	UserID          int64           `json:"user_id"`
	SourceProjectID int64           `json:"source_project_id,omitempty"`
	TargetProjectID int64           `json:"target_project_id,omitempty"`
	Status          OperationStatus `json:"status"`
	TotalJobs       int             `json:"total_jobs"`
	SucceededJobs   int             `json:"succeeded_jobs"`
	FailedJobs      int             `json:"failed_jobs"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// Finished reports whether every child job reached a terminal state
func (op *CopyOperation) Finished() bool {
	return op.SucceededJobs+op.FailedJobs >= op.TotalJobs
}

// PollingPhase is the durable progress of one asynchronous folder copy
type PollingPhase string

const (
	PollingOngoing   PollingPhase = "ongoing"
	PollingCompleted PollingPhase = "completed"
	PollingFailed    PollingPhase = "failed"
)

// PollingState is keyed by (operation, source project storage). A missing
// record means the copy has not been initiated yet.
type PollingState struct {
	OperationID string       `json:"operation_id"`
	SourceID    int64        `json:"source_id"`
	Phase       PollingPhase `json:"phase"`
	PollingURL  string       `json:"polling_url,omitempty"`
	ResourceID  string       `json:"resource_id,omitempty"`
	Attempts    int          `json:"attempts"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// WorkPackageMap maps source container ids to target container ids as
// supplied by the caller. Keys are strings, values numbers or numeric strings.
type WorkPackageMap map[string]interface{}
