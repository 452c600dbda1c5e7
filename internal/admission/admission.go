// Package admission is C7: the credit/risk gate every dispatched intent
// passes through before an order is ever persisted as more than a rejected
// record.
package admission

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
	"github.com/arvind-mehta/orderflow-core/internal/ledger"
	"github.com/arvind-mehta/orderflow-core/internal/platform/money"
)

// Decision is the tagged outcome of Admit. Code is the stable,
// machine-matchable reason (what rejected_orders.reason_code stores);
// Reason is the prose message a human (or the retailer-facing WhatsApp
// reply) sees.
type Decision struct {
	Kind   DecisionKind
	Code   ReasonCode
	Reason string
}

type DecisionKind string

const (
	Accept        DecisionKind = "ACCEPT"
	NeedsApproval DecisionKind = "NEEDS_APPROVAL"
	Reject        DecisionKind = "REJECT"
)

// ReasonCode is the stable identifier for why Admit returned a non-ACCEPT
// decision, independent of the prose in Decision.Reason.
type ReasonCode string

const (
	CodeAccountInactive     ReasonCode = "ACCOUNT_INACTIVE"
	CodeCashOnlyAccount     ReasonCode = "CASH_ONLY_ACCOUNT"
	CodeMaxOrderExceeded    ReasonCode = "MAX_ORDER_AMOUNT_EXCEEDED"
	CodeCreditLimitExceeded ReasonCode = "CREDIT_LIMIT_EXCEEDED"
	CodeApprovalRequired    ReasonCode = "APPROVAL_REQUIRED"
)

// CategoryLimits are the per-score-category thresholds rule 3 and rule 5
// reference; loaded from configuration, not hardcoded, since they vary by
// retailer tier.
type CategoryLimits struct {
	MaxOrderAmount    money.Amount
	ApprovalThreshold money.Amount
}

type Controller struct {
	db     *sql.DB
	ledger *ledger.Ledger
	limits map[domain.ScoreCategory]CategoryLimits
}

func New(db *sql.DB, l *ledger.Ledger, limits map[domain.ScoreCategory]CategoryLimits) *Controller {
	return &Controller{db: db, ledger: l, limits: limits}
}

// DefaultLimits returns the category limits cmd/worker boots with absent
// an operator-supplied override; EXCELLENT and GOOD retailers have no
// approval threshold (NEEDS_APPROVAL never fires for them, per rule 5's
// category restriction to POOR/FAIR) and no cap tighter than
// MaxOrderAmount needs enforcing at that tier.
func DefaultLimits() map[domain.ScoreCategory]CategoryLimits {
	return map[domain.ScoreCategory]CategoryLimits{
		domain.ScoreExcellent: {MaxOrderAmount: money.FromInt(500000), ApprovalThreshold: money.FromInt(500000)},
		domain.ScoreGood:      {MaxOrderAmount: money.FromInt(250000), ApprovalThreshold: money.FromInt(250000)},
		domain.ScoreFair:      {MaxOrderAmount: money.FromInt(100000), ApprovalThreshold: money.FromInt(25000)},
		domain.ScorePoor:      {MaxOrderAmount: money.FromInt(40000), ApprovalThreshold: money.FromInt(10000)},
		domain.ScoreVeryPoor:  {MaxOrderAmount: money.FromInt(15000), ApprovalThreshold: money.FromInt(5000)},
	}
}

// Admit evaluates spec.md §4.7's five ordered, first-match-wins rules. A
// REJECT never touches the ledger: that call simply doesn't happen on this
// codepath, enforcing SPEC_FULL.md §4's resolution of the C7/C3 interaction
// open question at the wiring level rather than by convention.
func (c *Controller) Admit(ctx context.Context, retailer domain.Retailer, items []domain.OrderItem, total money.Amount, anyItemRequiresCredit bool) Decision {
	if retailer.Status != domain.RetailerActive {
		return Decision{Kind: Reject, Code: CodeAccountInactive, Reason: "retailer account is not active"}
	}
	if retailer.ScoreCategory == domain.ScoreVeryPoor && anyItemRequiresCredit {
		return Decision{Kind: Reject, Code: CodeCashOnlyAccount, Reason: "cash-only account"}
	}

	limits, ok := c.limits[retailer.ScoreCategory]
	if !ok {
		limits = c.limits[domain.ScoreFair]
	}

	if !limits.MaxOrderAmount.IsZero() && total.GreaterThan(limits.MaxOrderAmount) {
		return Decision{Kind: Reject, Code: CodeMaxOrderExceeded, Reason: "order exceeds the maximum order amount for this account"}
	}

	available := retailer.Available()
	if available.LessThan(total) {
		shortfall := total.Sub(available)
		return Decision{Kind: Reject, Code: CodeCreditLimitExceeded, Reason: fmt.Sprintf("insufficient credit, shortfall = %s", shortfall)}
	}

	if (retailer.ScoreCategory == domain.ScorePoor || retailer.ScoreCategory == domain.ScoreFair) &&
		!limits.ApprovalThreshold.IsZero() && total.GreaterThan(limits.ApprovalThreshold) {
		return Decision{Kind: NeedsApproval, Code: CodeApprovalRequired, Reason: "order amount requires manual approval for this score category"}
	}

	return Decision{Kind: Accept}
}

// PersistRejection writes a REJECT decision to rejected_orders with the
// full intent, which spec.md §4.7 says is "never discarded." reasonCode is
// the stable code callers should match on (e.g. scenario assertions,
// retailer-facing copy lookups); reason is the prose message.
func (c *Controller) PersistRejection(ctx context.Context, retailerID string, items []domain.OrderItem, source domain.OrderSource, requiresApproval bool, reasonCode ReasonCode, reason string) error {
	const query = `
		INSERT INTO rejected_orders (id, retailer_id, items, source, requires_approval, reason_code, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	itemsJSON, err := encodeItems(items)
	if err != nil {
		return fmt.Errorf("admission: encode items: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, query, uuid.New().String(), retailerID, itemsJSON, source, requiresApproval, reasonCode, reason); err != nil {
		return fmt.Errorf("admission: persist rejection for %s: %w", retailerID, err)
	}
	return nil
}

func encodeItems(items []domain.OrderItem) ([]byte, error) {
	return json.Marshal(items)
}
