package domain

import "time"

// WorkflowStatus is the lifecycle state of a journaled multi-step operation.
type WorkflowStatus string

const (
	WorkflowInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowCompleted  WorkflowStatus = "COMPLETED"
	WorkflowFailed     WorkflowStatus = "FAILED"
)

// WorkflowType names the specific step sequence a workflow follows, each
// owned by internal/dispatcher.
type WorkflowType string

const (
	WorkflowDispatch       WorkflowType = "DISPATCH"
	WorkflowVendorAccept   WorkflowType = "VENDOR_ACCEPT"
	WorkflowVendorRetry    WorkflowType = "VENDOR_RETRY"
)

// WorkflowState is a durable checkpoint: CurrentStep plus StepState is
// sufficient to resume the operation after a crash without re-running
// completed side effects.
type WorkflowState struct {
	ID           string
	OrderID      *string
	Type         WorkflowType
	CurrentStep  string
	StepState    map[string]any
	Status       WorkflowStatus
	HeartbeatAt  time.Time
	StartedAt    time.Time
	Attempts     int
	LastError    string
}
