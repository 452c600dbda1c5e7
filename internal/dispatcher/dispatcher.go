// Package dispatcher is C8: turns a parsed intent into an order, wrapping
// the whole operation in a workflow (C2) that journals each step. A crash
// between two steps leaves the workflow IN_PROGRESS; the recovery worker
// surfaces such stale workflows to the admin queue, and nothing resumes
// them from their stored step.
package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arvind-mehta/orderflow-core/internal/admission"
	"github.com/arvind-mehta/orderflow-core/internal/domain"
	"github.com/arvind-mehta/orderflow-core/internal/intent"
	"github.com/arvind-mehta/orderflow-core/internal/notifier"
	"github.com/arvind-mehta/orderflow-core/internal/platform/money"
	"github.com/arvind-mehta/orderflow-core/internal/scorer"
	"github.com/arvind-mehta/orderflow-core/internal/selector"
	"github.com/arvind-mehta/orderflow-core/internal/statemachine"
	"github.com/arvind-mehta/orderflow-core/internal/workflow"
)

// MaxVendorAttempts bounds how many vendors are tried before an order is
// left "awaiting admin" rather than ever entering a failed state.
const MaxVendorAttempts = 5

// Outcome is the tagged result of Dispatch.
type Outcome struct {
	Kind    OutcomeKind
	Order   domain.Order
	Reason  string
}

type OutcomeKind string

const (
	OutcomeAccepted        OutcomeKind = "ACCEPTED"
	OutcomeHeldForApproval OutcomeKind = "HELD_FOR_APPROVAL"
	OutcomeRejected        OutcomeKind = "REJECTED"
	OutcomeNoEligibleVendor OutcomeKind = "NO_ELIGIBLE_VENDOR"
)

// RetailerLookup and ProductPricer are the narrow collaborators this
// package needs, satisfied in cmd/worker by internal/storage/postgres and
// the catalog collaborator respectively.
type RetailerLookup interface {
	GetRetailer(ctx context.Context, id string) (domain.Retailer, error)
}

type ProductPricer interface {
	PriceItem(ctx context.Context, productID string, quantity int) (domain.OrderItem, bool, error)
}

type Dispatcher struct {
	db        *sql.DB
	journal   *workflow.Journal
	admission *admission.Controller
	selector  *selector.Selector
	scorer    *scorer.Scorer
	sm        *statemachine.StateMachine
	notifier  *notifier.Notifier
	retailers RetailerLookup
	products  ProductPricer
}

func New(db *sql.DB, j *workflow.Journal, ad *admission.Controller, sel *selector.Selector, sc *scorer.Scorer,
	sm *statemachine.StateMachine, n *notifier.Notifier, retailers RetailerLookup, products ProductPricer) *Dispatcher {
	return &Dispatcher{db: db, journal: j, admission: ad, selector: sel, scorer: sc, sm: sm, notifier: n, retailers: retailers, products: products}
}

// Dispatch runs the {VALIDATE, ADMIT, PERSIST_DRAFT, SELECT_VENDOR,
// TRANSITION_TO_ASSIGNED, NOTIFY} workflow spec.md §4.8 names.
func (d *Dispatcher) Dispatch(ctx context.Context, retailerID string, items []intent.ResolvedItem, source domain.OrderSource, requiresCredit bool) (Outcome, error) {
	wfID, err := d.journal.Begin(ctx, domain.WorkflowDispatch, nil)
	if err != nil {
		return Outcome{}, err
	}

	retailer, err := d.retailers.GetRetailer(ctx, retailerID)
	if err != nil {
		return Outcome{}, fmt.Errorf("dispatcher: load retailer %s: %w", retailerID, err)
	}

	orderItems, err := d.priceItems(ctx, items)
	if err != nil {
		return Outcome{}, err
	}
	total := totalOf(orderItems)

	if err := d.journal.Advance(ctx, wfID, "VALIDATE", map[string]any{"retailer_id": retailerID}); err != nil {
		return Outcome{}, err
	}

	decision := d.admission.Admit(ctx, retailer, orderItems, total, requiresCredit)
	if err := d.journal.Advance(ctx, wfID, "ADMIT", map[string]any{"decision": string(decision.Kind)}); err != nil {
		return Outcome{}, err
	}

	if decision.Kind == admission.Reject {
		if err := d.admission.PersistRejection(ctx, retailerID, orderItems, source, false, decision.Code, decision.Reason); err != nil {
			return Outcome{}, err
		}
		_ = d.journal.Complete(ctx, wfID)
		d.notifier.Notify(ctx, retailerID, notifier.TemplateInsufficientCredit, map[string]string{
			"available": retailer.Available().String(),
		})
		return Outcome{Kind: OutcomeRejected, Reason: decision.Reason}, nil
	}

	order, err := d.persistDraft(ctx, retailerID, orderItems, total, source, decision.Kind == admission.NeedsApproval)
	if err != nil {
		return Outcome{}, err
	}
	if err := d.journal.Advance(ctx, wfID, "PERSIST_DRAFT", map[string]any{"order_id": order.ID}); err != nil {
		return Outcome{}, err
	}

	if decision.Kind == admission.NeedsApproval {
		_ = d.journal.Complete(ctx, wfID)
		return Outcome{Kind: OutcomeHeldForApproval, Order: order}, nil
	}

	order, err = d.sm.Transition(ctx, order.ID, domain.OrderConfirmed, statemachine.TransitionInput{ActorID: "system", Reason: "admitted"})
	if err != nil {
		return Outcome{}, err
	}

	vendorID, rankedTrace, err := d.selectVendorForOrder(ctx, order, nil)
	if err != nil {
		if err == selector.ErrNoEligibleVendor {
			_ = d.journal.Advance(ctx, wfID, "SELECT_VENDOR", map[string]any{"result": "no_eligible_vendor"})
			_ = d.journal.Complete(ctx, wfID)
			return Outcome{Kind: OutcomeNoEligibleVendor, Order: order}, nil
		}
		return Outcome{}, err
	}
	if err := d.journal.Advance(ctx, wfID, "SELECT_VENDOR", map[string]any{"chosen_vendor": vendorID, "evaluated": len(rankedTrace)}); err != nil {
		return Outcome{}, err
	}

	order, err = d.sm.Transition(ctx, order.ID, domain.OrderVendorAssigned, statemachine.TransitionInput{ActorID: "system", VendorID: vendorID})
	if err != nil {
		return Outcome{}, err
	}
	if err := d.journal.Advance(ctx, wfID, "TRANSITION_TO_ASSIGNED", map[string]any{"order_id": order.ID}); err != nil {
		return Outcome{}, err
	}

	d.notifier.Notify(ctx, retailerID, notifier.TemplateOrderConfirmation, map[string]string{
		"order_number": order.OrderNumber, "total": order.Total.String(),
	})
	d.notifier.Notify(ctx, vendorID, notifier.TemplateVendorAssignment, map[string]string{
		"order_number": order.OrderNumber, "retailer_name": retailer.BusinessName, "total": order.Total.String(),
	})
	if err := d.journal.Advance(ctx, wfID, "NOTIFY", map[string]any{}); err != nil {
		return Outcome{}, err
	}
	_ = d.journal.Complete(ctx, wfID)

	return Outcome{Kind: OutcomeAccepted, Order: order}, nil
}

// selectVendorForOrder asks the selector for a candidate, excluding any
// vendor already tried for this order (used both on first dispatch, where
// exclude is empty, and on vendor-retry re-selection).
func (d *Dispatcher) selectVendorForOrder(ctx context.Context, order domain.Order, exclude []string) (string, []selector.FilterTrace, error) {
	if len(order.Items) == 0 {
		return "", nil, fmt.Errorf("dispatcher: order %s has no items", order.ID)
	}
	decision, err := d.selector.Select(ctx, order.Items[0].ProductID, order.Items[0].Quantity, order.RetailerID, exclude)
	if err != nil {
		return "", decision.Evaluated, err
	}
	return decision.Chosen, decision.Evaluated, nil
}

func (d *Dispatcher) priceItems(ctx context.Context, items []intent.ResolvedItem) ([]domain.OrderItem, error) {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		priced, found, err := d.products.PriceItem(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: price item %s: %w", item.ProductID, err)
		}
		if !found {
			return nil, fmt.Errorf("dispatcher: product %s not found for pricing", item.ProductID)
		}
		out = append(out, priced)
	}
	return out, nil
}

func totalOf(items []domain.OrderItem) money.Amount {
	total := money.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal)
	}
	return total
}

func (d *Dispatcher) persistDraft(ctx context.Context, retailerID string, items []domain.OrderItem, total money.Amount, source domain.OrderSource, requiresApproval bool) (domain.Order, error) {
	orderID := uuid.New().String()
	orderNumber := fmt.Sprintf("ORD-%s", orderID[:8])

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("dispatcher: begin draft transaction: %w", err)
	}
	defer tx.Rollback()

	const insertOrder = `
		INSERT INTO orders (id, order_number, retailer_id, total, status, source, requires_approval, needs_admin, created_at, last_transition_at)
		VALUES ($1, $2, $3, $4, 'DRAFT', $5, $6, false, NOW(), NOW())
	`
	if _, err := tx.ExecContext(ctx, insertOrder, orderID, orderNumber, retailerID, total, source, requiresApproval); err != nil {
		return domain.Order{}, fmt.Errorf("dispatcher: insert draft order: %w", err)
	}

	const insertItem = `
		INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, insertItem, uuid.New().String(), orderID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal); err != nil {
			return domain.Order{}, fmt.Errorf("dispatcher: insert order item %s: %w", item.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("dispatcher: commit draft transaction: %w", err)
	}

	return domain.Order{
		ID: orderID, OrderNumber: orderNumber, RetailerID: retailerID, Items: items, Total: total,
		Status: domain.OrderDraft, Source: source, RequiresApproval: requiresApproval,
		CreatedAt: time.Now(), LastTransitionAt: time.Now(),
	}, nil
}

// HandleVendorResponse runs the {RECORD_RESPONSE, TRANSITION_TO_ACCEPTED,
// POST_LEDGER, DECREMENT_STOCK, NOTIFY_RETAILER} workflow on an ACCEPT
// webhook. POST_LEDGER and DECREMENT_STOCK are folded into the state
// machine's VENDOR_ASSIGNED->ACCEPTED side effect, which already performs
// both atomically.
func (d *Dispatcher) HandleVendorResponse(ctx context.Context, orderID, vendorID string, accepted bool) error {
	wfID, err := d.journal.Begin(ctx, domain.WorkflowVendorAccept, &orderID)
	if err != nil {
		return err
	}
	if err := d.journal.Advance(ctx, wfID, "RECORD_RESPONSE", map[string]any{"accepted": accepted}); err != nil {
		return err
	}

	if !accepted {
		return d.retryNextVendor(ctx, orderID, vendorID, wfID)
	}

	order, err := d.sm.Transition(ctx, orderID, domain.OrderAccepted, statemachine.TransitionInput{ActorID: vendorID, Reason: "vendor accepted"})
	if err != nil {
		_ = d.journal.Fail(ctx, wfID, err)
		return err
	}
	if err := d.journal.Advance(ctx, wfID, "TRANSITION_TO_ACCEPTED", map[string]any{}); err != nil {
		return err
	}
	_ = d.journal.Advance(ctx, wfID, "POST_LEDGER", map[string]any{})
	_ = d.journal.Advance(ctx, wfID, "DECREMENT_STOCK", map[string]any{})

	d.notifier.Notify(ctx, order.RetailerID, notifier.TemplateOrderConfirmation, map[string]string{
		"order_number": order.OrderNumber, "total": order.Total.String(),
	})
	_ = d.journal.Advance(ctx, wfID, "NOTIFY_RETAILER", map[string]any{})
	return d.journal.Complete(ctx, wfID)
}

// retryNextVendor runs {MARK_RETRY_FAILED, SELECT_NEXT_VENDOR, ...} on
// vendor rejection or timeout. After MaxVendorAttempts the order is left in
// CONFIRMED with NeedsAdmin set — it is never transitioned to a failed
// state.
func (d *Dispatcher) retryNextVendor(ctx context.Context, orderID, failedVendorID string, wfID string) error {
	if err := d.journal.Advance(ctx, wfID, "MARK_RETRY_FAILED", map[string]any{"vendor_id": failedVendorID}); err != nil {
		return err
	}

	attempts, err := d.countVendorAttempts(ctx, orderID)
	if err != nil {
		return err
	}
	if attempts >= MaxVendorAttempts {
		return d.escalateToAdmin(ctx, orderID, wfID)
	}

	order, err := d.loadOrderForRetry(ctx, orderID)
	if err != nil {
		return err
	}

	excluded, err := d.triedVendors(ctx, orderID)
	if err != nil {
		return err
	}

	vendorID, _, err := d.selectVendorForOrder(ctx, order, excluded)
	if err != nil {
		if err == selector.ErrNoEligibleVendor {
			return d.escalateToAdmin(ctx, orderID, wfID)
		}
		return err
	}
	if err := d.journal.Advance(ctx, wfID, "SELECT_NEXT_VENDOR", map[string]any{"vendor_id": vendorID}); err != nil {
		return err
	}

	if _, err := d.sm.Transition(ctx, orderID, domain.OrderVendorAssigned, statemachine.TransitionInput{ActorID: "system", VendorID: vendorID}); err != nil {
		return err
	}
	if err := d.journal.Advance(ctx, wfID, "TRANSITION_TO_ASSIGNED_AGAIN", map[string]any{}); err != nil {
		return err
	}
	return d.journal.Complete(ctx, wfID)
}

// Requeue is the manual counterpart to retryNextVendor's automatic
// escalation: an operator decided whatever exhausted MaxVendorAttempts has
// changed and the order deserves another vendor-selection pass.
func (d *Dispatcher) Requeue(ctx context.Context, orderID string) error {
	wfID, err := d.journal.Begin(ctx, domain.WorkflowVendorAccept, &orderID)
	if err != nil {
		return err
	}

	const clear = `UPDATE orders SET needs_admin = false WHERE id = $1`
	if _, err := d.db.ExecContext(ctx, clear, orderID); err != nil {
		return fmt.Errorf("dispatcher: clear admin flag for %s: %w", orderID, err)
	}

	order, err := d.loadOrderForRetry(ctx, orderID)
	if err != nil {
		return err
	}
	excluded, err := d.triedVendors(ctx, orderID)
	if err != nil {
		return err
	}

	vendorID, _, err := d.selectVendorForOrder(ctx, order, excluded)
	if err != nil {
		if err == selector.ErrNoEligibleVendor {
			return d.escalateToAdmin(ctx, orderID, wfID)
		}
		return err
	}
	if err := d.journal.Advance(ctx, wfID, "SELECT_NEXT_VENDOR", map[string]any{"vendor_id": vendorID}); err != nil {
		return err
	}

	if _, err := d.sm.Transition(ctx, orderID, domain.OrderVendorAssigned, statemachine.TransitionInput{ActorID: "admin", VendorID: vendorID}); err != nil {
		return err
	}
	if err := d.journal.Advance(ctx, wfID, "TRANSITION_TO_ASSIGNED_AGAIN", map[string]any{}); err != nil {
		return err
	}
	return d.journal.Complete(ctx, wfID)
}

func (d *Dispatcher) escalateToAdmin(ctx context.Context, orderID, wfID string) error {
	const query = `UPDATE orders SET needs_admin = true WHERE id = $1`
	if _, err := d.db.ExecContext(ctx, query, orderID); err != nil {
		return fmt.Errorf("dispatcher: escalate order %s: %w", orderID, err)
	}
	if err := d.journal.Advance(ctx, wfID, "ESCALATE", map[string]any{}); err != nil {
		return err
	}
	return d.journal.Complete(ctx, wfID)
}

func (d *Dispatcher) countVendorAttempts(ctx context.Context, orderID string) (int, error) {
	const query = `SELECT COUNT(*) FROM vendor_assignment_retries WHERE order_id = $1`
	var count int
	if err := d.db.QueryRowContext(ctx, query, orderID).Scan(&count); err != nil {
		return 0, fmt.Errorf("dispatcher: count vendor attempts for %s: %w", orderID, err)
	}
	return count, nil
}

func (d *Dispatcher) triedVendors(ctx context.Context, orderID string) ([]string, error) {
	const query = `SELECT DISTINCT vendor_id FROM vendor_assignment_retries WHERE order_id = $1`
	rows, err := d.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: tried vendors for %s: %w", orderID, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("dispatcher: scan tried vendor: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *Dispatcher) loadOrderForRetry(ctx context.Context, orderID string) (domain.Order, error) {
	const query = `
		SELECT o.id, o.order_number, o.retailer_id, o.total, o.status, o.source, o.requires_approval, o.needs_admin, o.created_at, o.last_transition_at,
		       oi.product_id, oi.quantity, oi.unit_price, oi.subtotal
		FROM orders o JOIN order_items oi ON oi.order_id = o.id
		WHERE o.id = $1
	`
	rows, err := d.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("dispatcher: load order %s: %w", orderID, err)
	}
	defer rows.Close()

	var order domain.Order
	first := true
	for rows.Next() {
		var item domain.OrderItem
		if first {
			if err := rows.Scan(&order.ID, &order.OrderNumber, &order.RetailerID, &order.Total, &order.Status, &order.Source,
				&order.RequiresApproval, &order.NeedsAdmin, &order.CreatedAt, &order.LastTransitionAt,
				&item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
				return domain.Order{}, fmt.Errorf("dispatcher: scan order row: %w", err)
			}
			first = false
		} else {
			var discard domain.Order
			if err := rows.Scan(&discard.ID, &discard.OrderNumber, &discard.RetailerID, &discard.Total, &discard.Status, &discard.Source,
				&discard.RequiresApproval, &discard.NeedsAdmin, &discard.CreatedAt, &discard.LastTransitionAt,
				&item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
				return domain.Order{}, fmt.Errorf("dispatcher: scan order item row: %w", err)
			}
		}
		order.Items = append(order.Items, item)
	}
	if order.ID == "" {
		return domain.Order{}, fmt.Errorf("dispatcher: order %s not found", orderID)
	}
	return order, rows.Err()
}
