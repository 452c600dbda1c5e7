package domain

import "github.com/arvind-mehta/orderflow-core/internal/platform/money"

// RetailerStatus is the account-level gate the admission controller checks
// first, before any credit math.
type RetailerStatus string

const (
	RetailerActive           RetailerStatus = "ACTIVE"
	RetailerBlocked          RetailerStatus = "BLOCKED"
	RetailerPendingApproval  RetailerStatus = "PENDING_APPROVAL"
)

// ScoreCategory buckets a retailer's credit_score into the tiers the
// admission controller's rules reference.
type ScoreCategory string

const (
	ScoreExcellent ScoreCategory = "EXCELLENT"
	ScoreGood      ScoreCategory = "GOOD"
	ScoreFair      ScoreCategory = "FAIR"
	ScorePoor      ScoreCategory = "POOR"
	ScoreVeryPoor  ScoreCategory = "VERY_POOR"
)

// Retailer is a wholesale buyer. Credit fields are owned by the ledger (C3);
// the core only ever writes the denormalized OutstandingDebt cache, never
// CreditLimit or CreditScore, which belong to the registration subsystem.
type Retailer struct {
	ID              string
	Phone           string
	BusinessName    string
	CreditLimit     money.Amount
	OutstandingDebt money.Amount
	CreditScore     int
	ScoreCategory   ScoreCategory
	Status          RetailerStatus
}

// Available returns the retailer's spendable credit, the credit limit minus
// outstanding debt. It is negative when outstanding debt exceeds the limit,
// which the approval path allows.
func (r Retailer) Available() money.Amount {
	return r.CreditLimit.Sub(r.OutstandingDebt)
}
