package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
)

// OrderStore backs the read-only order lookups the HTTP API and admin RPC
// surface need; writes to orders always go through statemachine or
// dispatcher so every status change stays inside their transactions.
type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore { return &OrderStore{db: db} }

func (o *OrderStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	const query = `
		SELECT o.id, o.order_number, o.retailer_id, o.vendor_id, o.total, o.status, o.source,
		       o.requires_approval, o.needs_admin, o.created_at, o.last_transition_at, o.dispatched_at, o.delivered_at
		FROM orders o WHERE o.id = $1
	`
	var order domain.Order
	var vendorID sql.NullString
	var dispatchedAt, deliveredAt sql.NullTime
	if err := o.db.QueryRowContext(ctx, query, id).Scan(&order.ID, &order.OrderNumber, &order.RetailerID, &vendorID,
		&order.Total, &order.Status, &order.Source, &order.RequiresApproval, &order.NeedsAdmin,
		&order.CreatedAt, &order.LastTransitionAt, &dispatchedAt, &deliveredAt); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	if vendorID.Valid {
		order.VendorID = &vendorID.String
	}
	if dispatchedAt.Valid {
		order.DispatchedAt = &dispatchedAt.Time
	}
	if deliveredAt.Valid {
		order.DeliveredAt = &deliveredAt.Time
	}

	items, err := o.items(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (o *OrderStore) items(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	const query = `SELECT product_id, quantity, unit_price, subtotal FROM order_items WHERE order_id = $1`
	rows, err := o.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: order items for %s: %w", orderID, err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, fmt.Errorf("postgres: scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetByOrderNumber resolves a WhatsApp status-query reply to the order it
// names.
func (o *OrderStore) GetByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	const query = `SELECT id FROM orders WHERE order_number = $1`
	var id string
	if err := o.db.QueryRowContext(ctx, query, orderNumber).Scan(&id); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: resolve order number %s: %w", orderNumber, err)
	}
	return o.GetOrder(ctx, id)
}

// IdleRetailerIDs returns retailers with no order placed in the last
// idleSince window, the candidate set C11's quick-reorder sweep iterates.
func (o *OrderStore) IdleRetailerIDs(ctx context.Context, idleSince time.Duration) ([]string, error) {
	const query = `
		SELECT r.id FROM retailers r
		WHERE r.status = 'ACTIVE'
		  AND NOT EXISTS (
		    SELECT 1 FROM orders o WHERE o.retailer_id = r.id AND o.created_at > NOW() - $1::interval
		  )
	`
	rows, err := o.db.QueryContext(ctx, query, fmt.Sprintf("%d seconds", int(idleSince.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("postgres: idle retailers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan idle retailer: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
