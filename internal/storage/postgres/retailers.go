package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
)

// RetailerStore satisfies dispatcher.RetailerLookup and backs the admin and
// HTTP-facing retailer reads.
type RetailerStore struct {
	db *sql.DB
}

func NewRetailerStore(db *sql.DB) *RetailerStore { return &RetailerStore{db: db} }

func (r *RetailerStore) GetRetailer(ctx context.Context, id string) (domain.Retailer, error) {
	const query = `
		SELECT id, phone, business_name, credit_limit, outstanding_debt, credit_score, score_category, status
		FROM retailers WHERE id = $1
	`
	var ret domain.Retailer
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&ret.ID, &ret.Phone, &ret.BusinessName,
		&ret.CreditLimit, &ret.OutstandingDebt, &ret.CreditScore, &ret.ScoreCategory, &ret.Status); err != nil {
		return domain.Retailer{}, fmt.Errorf("postgres: get retailer %s: %w", id, err)
	}
	return ret, nil
}

// GetByPhone resolves the retailer a WhatsApp webhook message came from.
func (r *RetailerStore) GetByPhone(ctx context.Context, phone string) (domain.Retailer, error) {
	const query = `
		SELECT id, phone, business_name, credit_limit, outstanding_debt, credit_score, score_category, status
		FROM retailers WHERE phone = $1
	`
	var ret domain.Retailer
	if err := r.db.QueryRowContext(ctx, query, phone).Scan(&ret.ID, &ret.Phone, &ret.BusinessName,
		&ret.CreditLimit, &ret.OutstandingDebt, &ret.CreditScore, &ret.ScoreCategory, &ret.Status); err != nil {
		return domain.Retailer{}, fmt.Errorf("postgres: get retailer by phone: %w", err)
	}
	return ret, nil
}

// LastCompletedOrder loads a retailer's most recently completed order, the
// basis for C11's quick reorder template.
func (r *RetailerStore) LastCompletedOrder(ctx context.Context, retailerID string) (domain.Order, bool, error) {
	const query = `
		SELECT o.id, o.order_number, o.retailer_id, o.total, o.status, o.source, o.requires_approval,
		       o.needs_admin, o.created_at, o.last_transition_at,
		       oi.product_id, oi.quantity, oi.unit_price, oi.subtotal
		FROM orders o JOIN order_items oi ON oi.order_id = o.id
		WHERE o.retailer_id = $1 AND o.status = 'COMPLETED'
		ORDER BY o.last_transition_at DESC
		LIMIT 50
	`
	rows, err := r.db.QueryContext(ctx, query, retailerID)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("postgres: last completed order for %s: %w", retailerID, err)
	}
	defer rows.Close()

	var order domain.Order
	found := false
	var mostRecentID string
	for rows.Next() {
		var item domain.OrderItem
		var row domain.Order
		if err := rows.Scan(&row.ID, &row.OrderNumber, &row.RetailerID, &row.Total, &row.Status, &row.Source,
			&row.RequiresApproval, &row.NeedsAdmin, &row.CreatedAt, &row.LastTransitionAt,
			&item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return domain.Order{}, false, fmt.Errorf("postgres: scan last completed order: %w", err)
		}
		if !found {
			order = row
			mostRecentID = row.ID
			found = true
		}
		if row.ID == mostRecentID {
			order.Items = append(order.Items, item)
		}
	}
	return order, found, rows.Err()
}
