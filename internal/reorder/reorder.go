// Package reorder implements the quick-reorder sweep: retailers who have
// gone quiet for a while are sent a one-tap reorder of their last completed
// order, repriced against the catalog's current prices rather than the
// stale prices the original order captured.
package reorder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
	"github.com/arvind-mehta/orderflow-core/internal/notifier"
	"github.com/arvind-mehta/orderflow-core/internal/platform/money"
)

// IdleThreshold is REORDER_IDLE_DAYS: a retailer with no order placed in
// this window is a candidate for a quick-reorder nudge.
const IdleThreshold = 14 * 24 * time.Hour

// IdleRetailers returns the ids of retailers eligible for a reorder nudge.
type IdleRetailers interface {
	IdleRetailerIDs(ctx context.Context, idleSince time.Duration) ([]string, error)
}

// LastOrderLookup resolves a retailer's most recent completed order, the
// basis for the items being re-offered.
type LastOrderLookup interface {
	LastCompletedOrder(ctx context.Context, retailerID string) (domain.Order, bool, error)
	GetRetailer(ctx context.Context, id string) (domain.Retailer, error)
}

// Repricer gets an item's current catalog price, mirroring
// dispatcher.ProductPricer but kept as its own interface since reorder has
// no dependency on the dispatcher package.
type Repricer interface {
	PriceItem(ctx context.Context, productID string, quantity int) (domain.OrderItem, bool, error)
	ProductName(ctx context.Context, productID string) (string, error)
}

// Sweeper runs the periodic idle-retailer scan from cmd/worker.
type Sweeper struct {
	retailers LastOrderLookup
	idle      IdleRetailers
	catalog   Repricer
	notify    *notifier.Notifier
	log       *slog.Logger
}

func New(retailers LastOrderLookup, idle IdleRetailers, catalog Repricer, notify *notifier.Notifier, log *slog.Logger) *Sweeper {
	return &Sweeper{retailers: retailers, idle: idle, catalog: catalog, notify: notify, log: log}
}

// Run finds every idle retailer and sends each one a reorder nudge. A
// failure for one retailer is logged and skipped rather than aborting the
// whole sweep.
func (s *Sweeper) Run(ctx context.Context) error {
	ids, err := s.idle.IdleRetailerIDs(ctx, IdleThreshold)
	if err != nil {
		return fmt.Errorf("reorder: list idle retailers: %w", err)
	}

	for _, id := range ids {
		if err := s.nudge(ctx, id); err != nil {
			s.log.Warn("reorder: nudge failed", "retailer_id", id, "error", err)
		}
	}
	return nil
}

func (s *Sweeper) nudge(ctx context.Context, retailerID string) error {
	retailer, err := s.retailers.GetRetailer(ctx, retailerID)
	if err != nil {
		return fmt.Errorf("get retailer: %w", err)
	}
	if retailer.Status != domain.RetailerActive {
		return nil
	}

	order, found, err := s.retailers.LastCompletedOrder(ctx, retailerID)
	if err != nil {
		return fmt.Errorf("last completed order: %w", err)
	}
	if !found {
		return nil
	}

	descriptions, total, err := s.reprice(ctx, order)
	if err != nil {
		return fmt.Errorf("reprice: %w", err)
	}
	if len(descriptions) == 0 {
		return nil
	}

	data := map[string]string{
		"last_order_date": order.LastTransitionAt.Format("Jan 2"),
		"items":           strings.Join(descriptions, ", "),
		"total":           total.String(),
	}
	return s.notify.Notify(ctx, retailer.Phone, notifier.TemplateQuickReorder, data)
}

// reprice re-fetches every line's current price, silently dropping items
// the catalog no longer carries rather than failing the whole nudge on a
// single discontinued product.
func (s *Sweeper) reprice(ctx context.Context, order domain.Order) ([]string, money.Amount, error) {
	var descriptions []string
	total := money.Zero

	for _, item := range order.Items {
		repriced, available, err := s.catalog.PriceItem(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return nil, money.Zero, err
		}
		if !available {
			continue
		}

		name, err := s.catalog.ProductName(ctx, item.ProductID)
		if err != nil {
			name = item.ProductID
		}

		descriptions = append(descriptions, fmt.Sprintf("%dx %s", item.Quantity, name))
		total = total.Add(repriced.Subtotal)
	}

	return descriptions, total, nil
}
