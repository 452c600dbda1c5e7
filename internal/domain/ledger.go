package domain

import (
	"time"

	"github.com/arvind-mehta/orderflow-core/internal/platform/money"
)

// LedgerEntryType classifies a ledger posting; the sign applied to Amount
// when computing RunningBalance depends on this.
type LedgerEntryType string

const (
	LedgerOrderCredit  LedgerEntryType = "ORDER_CREDIT"
	LedgerPaymentDebit LedgerEntryType = "PAYMENT_DEBIT"
	LedgerRefundDebit  LedgerEntryType = "REFUND_DEBIT"
	LedgerAdjustment   LedgerEntryType = "ADJUSTMENT"
)

// Signed returns amount with the sign LedgerEntryType implies: ORDER_CREDIT
// increases what the retailer owes, PAYMENT_DEBIT and REFUND_DEBIT decrease
// it.
func (t LedgerEntryType) Signed(amount money.Amount) money.Amount {
	switch t {
	case LedgerPaymentDebit, LedgerRefundDebit:
		return amount.Neg()
	default:
		return amount
	}
}

// LedgerEntry is one append-only row in a retailer's credit ledger. Entries
// are never updated or deleted; RunningBalance of entry N equals
// PreviousBalance of entry N+1.
type LedgerEntry struct {
	ID              string
	RetailerID      string
	LedgerNumber    int64
	OrderID         *string
	Type            LedgerEntryType
	Amount          money.Amount
	PreviousBalance money.Amount
	RunningBalance  money.Amount
	At              time.Time
}
