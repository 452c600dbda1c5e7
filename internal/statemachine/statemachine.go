// Package statemachine is C6: the only package allowed to mutate an order's
// status. Every transition runs inside one transaction that writes the
// status-log entry and performs the listed side effect atomically, the same
// all-or-nothing shape as the teacher's ReserveStock/ConfirmReservation
// transactions.
package statemachine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
	"github.com/arvind-mehta/orderflow-core/internal/ledger"
	"github.com/arvind-mehta/orderflow-core/internal/scorer"
)

// VendorResponseTimeout is how long a vendor has to respond once assigned.
const VendorResponseTimeout = 2 * time.Hour

// ErrIllegalTransition is returned when from->to is not in spec.md §4.6's
// transition table.
var ErrIllegalTransition = errors.New("statemachine: illegal transition")

type StateMachine struct {
	db     *sql.DB
	ledger *ledger.Ledger
	scorer *scorer.Scorer
}

func New(db *sql.DB, l *ledger.Ledger, sc *scorer.Scorer) *StateMachine {
	return &StateMachine{db: db, ledger: l, scorer: sc}
}

// TransitionInput carries the actor/reason metadata and any
// transition-specific parameter (e.g. the vendor id on assign-vendor).
type TransitionInput struct {
	ActorID  string
	Reason   string
	VendorID string // only for CONFIRMED -> VENDOR_ASSIGNED
}

// Transition moves orderID from its current status to `to`, row-locking the
// order so two concurrent attempts serialize: the loser either no-ops (if
// its intended transition is already satisfied) or observes
// ErrIllegalTransition.
func (sm *StateMachine) Transition(ctx context.Context, orderID string, to domain.OrderStatus, in TransitionInput) (domain.Order, error) {
	tx, err := sm.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("statemachine: begin transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := sm.lockOrder(ctx, tx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if order.Status == to {
		// Redundant transition on the lock-losing side: no-op success.
		return order, tx.Commit()
	}
	if !domain.CanTransition(order.Status, to) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, to)
	}

	if err := sm.applySideEffect(ctx, tx, &order, to, in); err != nil {
		return domain.Order{}, err
	}

	const insertLog = `
		INSERT INTO order_status_logs (id, order_id, from_status, to_status, actor_id, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	if _, err := tx.ExecContext(ctx, insertLog, uuid.New().String(), orderID, order.Status, to, in.ActorID, in.Reason); err != nil {
		return domain.Order{}, fmt.Errorf("statemachine: insert status log: %w", err)
	}

	const updateOrder = `UPDATE orders SET status = $2, last_transition_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateOrder, orderID, to); err != nil {
		return domain.Order{}, fmt.Errorf("statemachine: update order status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("statemachine: commit transition: %w", err)
	}

	order.Status = to
	order.LastTransitionAt = time.Now()
	return order, nil
}

// lockOrder row-locks the order and loads its line items in the same
// query, the join shape dispatcher.loadOrderForRetry uses: applySideEffect
// needs order.Items for the stock decrement/restore side effects, and a
// second round trip after the lock would defeat the point of locking.
// "FOR UPDATE OF o" keeps the lock scoped to the order row itself, not
// every joined order_items row.
func (sm *StateMachine) lockOrder(ctx context.Context, tx *sql.Tx, orderID string) (domain.Order, error) {
	const query = `
		SELECT o.id, o.order_number, o.retailer_id, o.vendor_id, o.total, o.status, o.source, o.requires_approval, o.needs_admin, o.created_at, o.last_transition_at,
		       oi.product_id, oi.quantity, oi.unit_price, oi.subtotal
		FROM orders o JOIN order_items oi ON oi.order_id = o.id
		WHERE o.id = $1
		FOR UPDATE OF o
	`
	rows, err := tx.QueryContext(ctx, query, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("statemachine: lock order %s: %w", orderID, err)
	}
	defer rows.Close()

	var order domain.Order
	var vendorID sql.NullString
	found := false
	for rows.Next() {
		var item domain.OrderItem
		var rowVendorID sql.NullString
		if err := rows.Scan(&order.ID, &order.OrderNumber, &order.RetailerID, &rowVendorID, &order.Total, &order.Status,
			&order.Source, &order.RequiresApproval, &order.NeedsAdmin, &order.CreatedAt, &order.LastTransitionAt,
			&item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return domain.Order{}, fmt.Errorf("statemachine: scan locked order %s: %w", orderID, err)
		}
		vendorID = rowVendorID
		order.Items = append(order.Items, item)
		found = true
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, fmt.Errorf("statemachine: lock order %s: %w", orderID, err)
	}
	if !found {
		return domain.Order{}, fmt.Errorf("statemachine: order %s not found: %w", orderID, sql.ErrNoRows)
	}
	if vendorID.Valid {
		order.VendorID = &vendorID.String
	}
	return order, nil
}

// applySideEffect performs the one atomic effect spec.md §4.6 lists for
// this specific transition, inside the same transaction as the status-log
// insert.
func (sm *StateMachine) applySideEffect(ctx context.Context, tx *sql.Tx, order *domain.Order, to domain.OrderStatus, in TransitionInput) error {
	switch {
	case order.Status == domain.OrderConfirmed && to == domain.OrderVendorAssigned:
		return sm.onConfirmedToAssigned(ctx, tx, order, in.VendorID)
	case order.Status == domain.OrderVendorAssigned && to == domain.OrderAccepted:
		return sm.onAssignedToAccepted(ctx, tx, order)
	case order.Status == domain.OrderAccepted && to == domain.OrderDispatched:
		return sm.onAcceptedToDispatched(ctx, tx, order)
	case order.Status == domain.OrderDispatched && to == domain.OrderDelivered:
		return sm.onDispatchedToDelivered(ctx, tx, order)
	case order.Status == domain.OrderDelivered && to == domain.OrderCompleted:
		return sm.onDeliveredToCompleted(ctx, order)
	case to == domain.OrderCancelled && statusAtLeast(order.Status, domain.OrderAccepted):
		return sm.onCancelledFromAccepted(ctx, tx, order)
	default:
		return nil
	}
}

func statusAtLeast(status, threshold domain.OrderStatus) bool {
	order := map[domain.OrderStatus]int{
		domain.OrderDraft: 0, domain.OrderConfirmed: 1, domain.OrderVendorAssigned: 2,
		domain.OrderAccepted: 3, domain.OrderDispatched: 4, domain.OrderDelivered: 5, domain.OrderCompleted: 6,
	}
	return order[status] >= order[threshold]
}

func (sm *StateMachine) onConfirmedToAssigned(ctx context.Context, tx *sql.Tx, order *domain.Order, vendorID string) error {
	order.VendorID = &vendorID
	const updateVendor = `UPDATE orders SET vendor_id = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateVendor, order.ID, vendorID); err != nil {
		return fmt.Errorf("statemachine: set vendor on order %s: %w", order.ID, err)
	}

	const insertRetry = `
		INSERT INTO vendor_assignment_retries (order_id, attempt, vendor_id, assigned_at, response_deadline, status)
		VALUES ($1, (SELECT COALESCE(MAX(attempt), 0) + 1 FROM vendor_assignment_retries WHERE order_id = $1), $2, NOW(), $3, 'PENDING')
		ON CONFLICT (order_id, attempt) DO NOTHING
	`
	deadline := time.Now().Add(VendorResponseTimeout)
	if _, err := tx.ExecContext(ctx, insertRetry, order.ID, vendorID, deadline); err != nil {
		return fmt.Errorf("statemachine: insert vendor assignment retry for %s: %w", order.ID, err)
	}
	return nil
}

func (sm *StateMachine) onAssignedToAccepted(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	if order.VendorID == nil {
		return fmt.Errorf("statemachine: order %s accepted with no assigned vendor", order.ID)
	}
	for _, item := range order.Items {
		const decrementStock = `
			UPDATE vendor_products SET stock = stock - $1
			WHERE vendor_id = $2 AND product_id = $3 AND stock >= $1
		`
		result, err := tx.ExecContext(ctx, decrementStock, item.Quantity, *order.VendorID, item.ProductID)
		if err != nil {
			return fmt.Errorf("statemachine: decrement stock for %s: %w", item.ProductID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("statemachine: rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("statemachine: insufficient stock for product %s at vendor %s", item.ProductID, *order.VendorID)
		}
	}

	if _, err := sm.ledger.Post(ctx, order.RetailerID, domain.LedgerOrderCredit, order.Total, &order.ID); err != nil {
		return fmt.Errorf("statemachine: post order credit for %s: %w", order.ID, err)
	}

	const incrementActive = `UPDATE vendors SET active_orders_count = active_orders_count + 1 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, incrementActive, *order.VendorID); err != nil {
		return fmt.Errorf("statemachine: increment active_orders_count: %w", err)
	}

	const markRetryAccepted = `
		UPDATE vendor_assignment_retries SET status = 'ACCEPTED'
		WHERE order_id = $1 AND status = 'PENDING'
	`
	if _, err := tx.ExecContext(ctx, markRetryAccepted, order.ID); err != nil {
		return fmt.Errorf("statemachine: mark vendor retry accepted: %w", err)
	}
	return nil
}

func (sm *StateMachine) onAcceptedToDispatched(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	const query = `UPDATE orders SET dispatched_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, order.ID); err != nil {
		return fmt.Errorf("statemachine: record dispatch timestamp: %w", err)
	}
	return nil
}

func (sm *StateMachine) onDispatchedToDelivered(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	const query = `UPDATE orders SET delivered_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, order.ID); err != nil {
		return fmt.Errorf("statemachine: record delivery timestamp: %w", err)
	}
	const lifetime = `UPDATE retailers SET lifetime_orders = lifetime_orders + 1 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, lifetime, order.RetailerID); err != nil {
		return fmt.Errorf("statemachine: increment retailer lifetime stats: %w", err)
	}
	return nil
}

func (sm *StateMachine) onDeliveredToCompleted(ctx context.Context, order *domain.Order) error {
	if order.VendorID == nil {
		return nil
	}
	return sm.scorer.Record(ctx, domain.VendorScoreEvent{
		VendorID: *order.VendorID,
		Kind:     domain.ScoreEventDelivered,
		At:       time.Now(),
		Data:     map[string]any{"order_id": order.ID},
	})
}

func (sm *StateMachine) onCancelledFromAccepted(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	if order.VendorID == nil {
		return fmt.Errorf("statemachine: cancelled order %s has no vendor despite status %s", order.ID, order.Status)
	}
	for _, item := range order.Items {
		const restoreStock = `UPDATE vendor_products SET stock = stock + $1 WHERE vendor_id = $2 AND product_id = $3`
		if _, err := tx.ExecContext(ctx, restoreStock, item.Quantity, *order.VendorID, item.ProductID); err != nil {
			return fmt.Errorf("statemachine: restore stock for %s: %w", item.ProductID, err)
		}
	}

	if _, err := sm.ledger.CancelOrderReversal(ctx, order.RetailerID, order.ID); err != nil {
		return fmt.Errorf("statemachine: reverse ledger for cancelled order %s: %w", order.ID, err)
	}

	const decrementActive = `UPDATE vendors SET active_orders_count = GREATEST(active_orders_count - 1, 0) WHERE id = $1`
	if _, err := tx.ExecContext(ctx, decrementActive, *order.VendorID); err != nil {
		return fmt.Errorf("statemachine: decrement active_orders_count: %w", err)
	}

	return sm.scorer.Record(ctx, domain.VendorScoreEvent{
		VendorID: *order.VendorID,
		Kind:     domain.ScoreEventCancelled,
		At:       time.Now(),
		Data:     map[string]any{"order_id": order.ID},
	})
}
