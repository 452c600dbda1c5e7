// Package adminrpc is C-ADMIN: the gRPC surface cmd/admin's own operator
// tooling talks to rather than going straight at the database, the same
// separation the teacher draws
// between its HTTP-facing services and their internal gRPC handlers.
package adminrpc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arvind-mehta/orderflow-core/internal/adminqueue"
	"github.com/arvind-mehta/orderflow-core/internal/domain"
)

// QueueStore is the subset of adminqueue.Queue the service drives.
type QueueStore interface {
	ListUnresolved(ctx context.Context) ([]adminqueue.Item, error)
	GetByID(ctx context.Context, id string) (adminqueue.Item, error)
	Resolve(ctx context.Context, id string) error
}

// VendorScorer is the subset of scorer.Scorer the service drives.
type VendorScorer interface {
	Score(ctx context.Context, vendorID string) (domain.VendorScoreSnapshot, error)
	Recompute(ctx context.Context, vendorID string) (domain.VendorScoreSnapshot, error)
}

// EventRequeuer puts a dead-lettered webhook event back in play.
type EventRequeuer interface {
	Requeue(ctx context.Context, eventID string) error
}

// OrderRequeuer retries vendor selection for an order an operator has
// cleared for another attempt.
type OrderRequeuer interface {
	Requeue(ctx context.Context, orderID string) error
}

// Service implements the admin operations spec.md §4.10's cmd/admin
// exposes: list what needs a human, inspect and recompute a vendor's
// score, and requeue whatever a human decided to give another pass.
type Service struct {
	queue  QueueStore
	scores VendorScorer
	events EventRequeuer
	orders OrderRequeuer
	log    *slog.Logger
}

func NewService(queue QueueStore, scores VendorScorer, events EventRequeuer, orders OrderRequeuer, log *slog.Logger) *Service {
	return &Service{queue: queue, scores: scores, events: events, orders: orders, log: log.With("component", "adminrpc")}
}

// ListEscalated returns every unresolved admin queue item.
func (s *Service) ListEscalated(ctx context.Context) ([]adminqueue.Item, error) {
	return s.queue.ListUnresolved(ctx)
}

// GetVendorSnapshot returns a vendor's current (possibly cached) score.
func (s *Service) GetVendorSnapshot(ctx context.Context, vendorID string) (domain.VendorScoreSnapshot, error) {
	if vendorID == "" {
		return domain.VendorScoreSnapshot{}, fmt.Errorf("adminrpc: vendor_id is required")
	}
	return s.scores.Score(ctx, vendorID)
}

// RecomputeVendorScore forces a fresh score, bypassing the cache.
func (s *Service) RecomputeVendorScore(ctx context.Context, vendorID string) (domain.VendorScoreSnapshot, error) {
	if vendorID == "" {
		return domain.VendorScoreSnapshot{}, fmt.Errorf("adminrpc: vendor_id is required")
	}
	return s.scores.Recompute(ctx, vendorID)
}

// Requeue resolves an admin queue item by giving its underlying reference
// another automated pass: a dead-lettered webhook event goes back to
// PENDING, a stalled or vendor-exhausted order gets another vendor
// selection attempt. The queue item itself is only marked resolved once
// the requeue succeeds.
func (s *Service) Requeue(ctx context.Context, itemID string) error {
	item, err := s.queue.GetByID(ctx, itemID)
	if err != nil {
		return fmt.Errorf("adminrpc: requeue %s: %w", itemID, err)
	}

	switch item.Kind {
	case adminqueue.KindDeadLetterEvent:
		if err := s.events.Requeue(ctx, item.ReferenceID); err != nil {
			return fmt.Errorf("adminrpc: requeue event %s: %w", item.ReferenceID, err)
		}
	case adminqueue.KindStalledOrder, adminqueue.KindVendorExhausted:
		if err := s.orders.Requeue(ctx, item.ReferenceID); err != nil {
			return fmt.Errorf("adminrpc: requeue order %s: %w", item.ReferenceID, err)
		}
	default:
		return fmt.Errorf("adminrpc: unknown admin queue item kind %q", item.Kind)
	}

	if err := s.queue.Resolve(ctx, itemID); err != nil {
		return fmt.Errorf("adminrpc: resolve queue item %s: %w", itemID, err)
	}
	s.log.Info("requeued admin item", "item_id", itemID, "kind", item.Kind, "reference_id", item.ReferenceID)
	return nil
}
