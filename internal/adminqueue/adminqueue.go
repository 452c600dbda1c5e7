// Package adminqueue backs admin_queue_items, the single inbox cmd/admin
// reads from for everything the automated pipeline couldn't resolve on its
// own: dead-lettered webhook events, orders stuck past a vendor's response
// window, and orders that exhausted every retry without finding a vendor.
package adminqueue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Kind is what kind of thing needs a human.
type Kind string

const (
	KindDeadLetterEvent Kind = "DEAD_LETTER_EVENT"
	KindStalledOrder    Kind = "STALLED_ORDER"
	KindVendorExhausted Kind = "VENDOR_EXHAUSTED"
)

// Item is one row in admin_queue_items.
type Item struct {
	ID          string
	Kind        Kind
	ReferenceID string
	Reason      string
	CreatedAt   sql.NullTime
	ResolvedAt  sql.NullTime
}

type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue { return &Queue{db: db} }

// Enqueue adds an item unless an unresolved item of the same kind and
// reference already exists, so a flapping condition (a workflow that keeps
// going stale) doesn't flood the admin queue with duplicates.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, referenceID, reason string) error {
	const query = `
		INSERT INTO admin_queue_items (id, kind, reference_id, reason, created_at, resolved_at)
		SELECT $1, $2, $3, $4, NOW(), NULL
		WHERE NOT EXISTS (
			SELECT 1 FROM admin_queue_items WHERE kind = $2 AND reference_id = $3 AND resolved_at IS NULL
		)
	`
	if _, err := q.db.ExecContext(ctx, query, uuid.New().String(), kind, referenceID, reason); err != nil {
		return fmt.Errorf("adminqueue: enqueue %s %s: %w", kind, referenceID, err)
	}
	return nil
}

// ListUnresolved returns every item cmd/admin still needs to act on.
func (q *Queue) ListUnresolved(ctx context.Context) ([]Item, error) {
	const query = `
		SELECT id, kind, reference_id, reason, created_at, resolved_at
		FROM admin_queue_items WHERE resolved_at IS NULL
		ORDER BY created_at
	`
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("adminqueue: list unresolved: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Kind, &it.ReferenceID, &it.Reason, &it.CreatedAt, &it.ResolvedAt); err != nil {
			return nil, fmt.Errorf("adminqueue: scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetByID loads a single item, for requeue/resolve operations that already
// know which item they're acting on.
func (q *Queue) GetByID(ctx context.Context, id string) (Item, error) {
	const query = `
		SELECT id, kind, reference_id, reason, created_at, resolved_at
		FROM admin_queue_items WHERE id = $1
	`
	var it Item
	if err := q.db.QueryRowContext(ctx, query, id).Scan(&it.ID, &it.Kind, &it.ReferenceID, &it.Reason, &it.CreatedAt, &it.ResolvedAt); err != nil {
		return Item{}, fmt.Errorf("adminqueue: get %s: %w", id, err)
	}
	return it, nil
}

// Resolve marks an item handled, idempotently: resolving an
// already-resolved item is a no-op success.
func (q *Queue) Resolve(ctx context.Context, id string) error {
	const query = `UPDATE admin_queue_items SET resolved_at = NOW() WHERE id = $1 AND resolved_at IS NULL`
	if _, err := q.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("adminqueue: resolve %s: %w", id, err)
	}
	return nil
}
