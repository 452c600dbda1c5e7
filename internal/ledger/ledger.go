// Package ledger is C3: the append-only credit ledger. Postings run inside
// a serializable transaction with a row lock on the retailer, retried with
// exponential backoff on conflict, the same shape as the teacher's
// store_reservations.go transactions but with SERIALIZABLE isolation
// instead of the default READ COMMITTED, since §4.3 requires it explicitly.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
	"github.com/arvind-mehta/orderflow-core/internal/platform/backoffx"
	"github.com/arvind-mehta/orderflow-core/internal/platform/money"
)

// MaxRetries is LEDGER_RETRIES: how many attempts in total a
// serialization-conflicted posting transaction gets before the error
// propagates.
const MaxRetries = 5

// ErrReversalWithoutCredit signals cancel_order_reversal being asked to
// refund an order with no matching ORDER_CREDIT — a fatal invariant
// violation per §4.3, never silently swallowed.
var ErrReversalWithoutCredit = errors.New("ledger: reversal requested for order with no matching ORDER_CREDIT")

// ErrAlreadyReversed signals a second REFUND_DEBIT attempt for an order
// that already has one.
var ErrAlreadyReversed = errors.New("ledger: order already reversed")

type Ledger struct {
	db  *sql.DB
	log *slog.Logger
}

func New(db *sql.DB, log *slog.Logger) *Ledger {
	return &Ledger{db: db, log: log.With("component", "ledger")}
}

// Post appends a ledger entry for retailerID inside a SERIALIZABLE
// transaction, row-locking the retailer so previous_balance always reflects
// the latest committed value. Conflicts are retried with exponential
// backoff up to MaxRetries.
func (l *Ledger) Post(ctx context.Context, retailerID string, entryType domain.LedgerEntryType, amount money.Amount, orderID *string) (domain.LedgerEntry, error) {
	return backoffx.Retry(ctx, 50*time.Millisecond, MaxRetries, func() (domain.LedgerEntry, error) {
		return l.postOnce(ctx, retailerID, entryType, amount, orderID)
	})
}

func (l *Ledger) postOnce(ctx context.Context, retailerID string, entryType domain.LedgerEntryType, amount money.Amount, orderID *string) (domain.LedgerEntry, error) {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("ledger: begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previousBalance money.Amount
	const lockQuery = `SELECT outstanding_debt FROM retailers WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lockQuery, retailerID).Scan(&previousBalance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerEntry{}, fmt.Errorf("ledger: retailer %s not found: %w", retailerID, err)
		}
		return domain.LedgerEntry{}, l.classifyConflict(err)
	}

	runningBalance := previousBalance.Add(entryType.Signed(amount))

	entry := domain.LedgerEntry{
		ID:              uuid.New().String(),
		RetailerID:      retailerID,
		OrderID:         orderID,
		Type:            entryType,
		Amount:          amount,
		PreviousBalance: previousBalance,
		RunningBalance:  runningBalance,
		At:              time.Now(),
	}

	const insertQuery = `
		INSERT INTO credit_ledger_entries
			(id, retailer_id, ledger_number, order_id, type, amount, previous_balance, running_balance, at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(ledger_number), 0) + 1 FROM credit_ledger_entries WHERE retailer_id = $2), $3, $4, $5, $6, $7, NOW())
		RETURNING ledger_number, at
	`
	if err := tx.QueryRowContext(ctx, insertQuery, entry.ID, retailerID, orderID, entryType, amount, previousBalance, runningBalance).
		Scan(&entry.LedgerNumber, &entry.At); err != nil {
		if isUniqueViolation(err) {
			return domain.LedgerEntry{}, fmt.Errorf("ledger: duplicate posting for order %v: %w", orderID, err)
		}
		return domain.LedgerEntry{}, l.classifyConflict(err)
	}

	const updateRetailerQuery = `UPDATE retailers SET outstanding_debt = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateRetailerQuery, retailerID, runningBalance); err != nil {
		return domain.LedgerEntry{}, l.classifyConflict(err)
	}

	if err := tx.Commit(); err != nil {
		return domain.LedgerEntry{}, l.classifyConflict(err)
	}

	return entry, nil
}

// classifyConflict re-raises serialization failures as-is so
// backoffx.Retry's policy retries them, while other errors are wrapped
// and marked permanent so the retry loop stops.
func (l *Ledger) classifyConflict(err error) error {
	if isSerializationFailure(err) {
		l.log.Warn("ledger posting conflict, retrying", "cause", err)
		return err
	}
	return backoffx.Permanent(fmt.Errorf("ledger: post: %w", err))
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" // serialization_failure
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}

// Available returns credit_limit - outstanding_debt for retailerID.
func (l *Ledger) Available(ctx context.Context, retailerID string) (money.Amount, error) {
	const query = `SELECT credit_limit, outstanding_debt FROM retailers WHERE id = $1`
	var limit, debt money.Amount
	if err := l.db.QueryRowContext(ctx, query, retailerID).Scan(&limit, &debt); err != nil {
		return money.Zero, fmt.Errorf("ledger: available for %s: %w", retailerID, err)
	}
	return limit.Sub(debt), nil
}

// CancelOrderReversal inserts a REFUND_DEBIT for orderID's open ORDER_CREDIT
// iff one exists and has not already been reversed.
func (l *Ledger) CancelOrderReversal(ctx context.Context, retailerID, orderID string) (domain.LedgerEntry, error) {
	var creditAmount money.Amount
	const creditQuery = `
		SELECT amount FROM credit_ledger_entries
		WHERE retailer_id = $1 AND order_id = $2 AND type = 'ORDER_CREDIT'
	`
	if err := l.db.QueryRowContext(ctx, creditQuery, retailerID, orderID).Scan(&creditAmount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerEntry{}, ErrReversalWithoutCredit
		}
		return domain.LedgerEntry{}, fmt.Errorf("ledger: lookup credit for order %s: %w", orderID, err)
	}

	var existingRefunds int
	const refundQuery = `
		SELECT COUNT(*) FROM credit_ledger_entries
		WHERE retailer_id = $1 AND order_id = $2 AND type = 'REFUND_DEBIT'
	`
	if err := l.db.QueryRowContext(ctx, refundQuery, retailerID, orderID).Scan(&existingRefunds); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("ledger: check prior refund for order %s: %w", orderID, err)
	}
	if existingRefunds > 0 {
		return domain.LedgerEntry{}, ErrAlreadyReversed
	}

	return l.Post(ctx, retailerID, domain.LedgerRefundDebit, creditAmount, &orderID)
}

// ApplyPayment inserts a PAYMENT_DEBIT for retailerID.
func (l *Ledger) ApplyPayment(ctx context.Context, retailerID string, amount money.Amount) (domain.LedgerEntry, error) {
	return l.Post(ctx, retailerID, domain.LedgerPaymentDebit, amount, nil)
}
