package domain

import "time"

// VendorAssignmentStatus is the outcome of one vendor-retry attempt.
type VendorAssignmentStatus string

const (
	AssignmentPending  VendorAssignmentStatus = "PENDING"
	AssignmentAccepted VendorAssignmentStatus = "ACCEPTED"
	AssignmentRejected VendorAssignmentStatus = "REJECTED"
	AssignmentTimeout  VendorAssignmentStatus = "TIMEOUT"
)

// VendorAssignmentRetry is one row in an order's vendor-retry history. At
// most one PENDING row exists per order at a time; Attempt increases
// monotonically and is bounded by MAX_VENDOR_ATTEMPTS.
type VendorAssignmentRetry struct {
	OrderID          string
	Attempt          int
	VendorID         string
	AssignedAt       time.Time
	ResponseDeadline time.Time
	Status           VendorAssignmentStatus
}
