package adminrpc

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvind-mehta/orderflow-core/internal/adminqueue"
	"github.com/arvind-mehta/orderflow-core/internal/domain"
)

func sqlNullNow() sql.NullTime {
	return sql.NullTime{Time: time.Now(), Valid: true}
}

type fakeQueue struct {
	items     map[string]adminqueue.Item
	resolved  []string
}

func newFakeQueue(items ...adminqueue.Item) *fakeQueue {
	q := &fakeQueue{items: make(map[string]adminqueue.Item)}
	for _, it := range items {
		q.items[it.ID] = it
	}
	return q
}

func (q *fakeQueue) ListUnresolved(ctx context.Context) ([]adminqueue.Item, error) {
	var out []adminqueue.Item
	for _, it := range q.items {
		out = append(out, it)
	}
	return out, nil
}

func (q *fakeQueue) GetByID(ctx context.Context, id string) (adminqueue.Item, error) {
	it, ok := q.items[id]
	if !ok {
		return adminqueue.Item{}, assert.AnError
	}
	return it, nil
}

func (q *fakeQueue) Resolve(ctx context.Context, id string) error {
	q.resolved = append(q.resolved, id)
	return nil
}

type fakeScorer struct {
	snapshot   domain.VendorScoreSnapshot
	recomputed bool
}

func (f *fakeScorer) Score(ctx context.Context, vendorID string) (domain.VendorScoreSnapshot, error) {
	return f.snapshot, nil
}

func (f *fakeScorer) Recompute(ctx context.Context, vendorID string) (domain.VendorScoreSnapshot, error) {
	f.recomputed = true
	return f.snapshot, nil
}

type fakeEventRequeuer struct{ requeued []string }

func (f *fakeEventRequeuer) Requeue(ctx context.Context, eventID string) error {
	f.requeued = append(f.requeued, eventID)
	return nil
}

type fakeOrderRequeuer struct{ requeued []string }

func (f *fakeOrderRequeuer) Requeue(ctx context.Context, orderID string) error {
	f.requeued = append(f.requeued, orderID)
	return nil
}

func TestService_GetVendorSnapshot_RequiresVendorID(t *testing.T) {
	svc := NewService(newFakeQueue(), &fakeScorer{}, &fakeEventRequeuer{}, &fakeOrderRequeuer{}, slog.Default())
	_, err := svc.GetVendorSnapshot(context.Background(), "")
	require.Error(t, err)
}

func TestService_RecomputeVendorScore_BypassesCache(t *testing.T) {
	scorer := &fakeScorer{snapshot: domain.VendorScoreSnapshot{VendorID: "v1", Overall: 80, Tier: domain.TierGood}}
	svc := NewService(newFakeQueue(), scorer, &fakeEventRequeuer{}, &fakeOrderRequeuer{}, slog.Default())

	snapshot, err := svc.RecomputeVendorScore(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, scorer.recomputed)
	assert.Equal(t, domain.TierGood, snapshot.Tier)
}

func TestService_Requeue_DeadLetterEventRoutesToEvents(t *testing.T) {
	queue := newFakeQueue(adminqueue.Item{
		ID: "item-1", Kind: adminqueue.KindDeadLetterEvent, ReferenceID: "evt-1", CreatedAt: sqlNullNow(),
	})
	events := &fakeEventRequeuer{}
	orders := &fakeOrderRequeuer{}
	svc := NewService(queue, &fakeScorer{}, events, orders, slog.Default())

	err := svc.Requeue(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-1"}, events.requeued)
	assert.Empty(t, orders.requeued)
	assert.Contains(t, queue.resolved, "item-1")
}

func TestService_Requeue_StalledOrderRoutesToOrders(t *testing.T) {
	queue := newFakeQueue(adminqueue.Item{
		ID: "item-2", Kind: adminqueue.KindStalledOrder, ReferenceID: "order-1", CreatedAt: sqlNullNow(),
	})
	events := &fakeEventRequeuer{}
	orders := &fakeOrderRequeuer{}
	svc := NewService(queue, &fakeScorer{}, events, orders, slog.Default())

	err := svc.Requeue(context.Background(), "item-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"order-1"}, orders.requeued)
	assert.Empty(t, events.requeued)
	assert.Contains(t, queue.resolved, "item-2")
}

func TestService_Requeue_UnknownKindErrors(t *testing.T) {
	queue := newFakeQueue(adminqueue.Item{ID: "item-3", Kind: "SOMETHING_ELSE", ReferenceID: "x", CreatedAt: sqlNullNow()})
	svc := NewService(queue, &fakeScorer{}, &fakeEventRequeuer{}, &fakeOrderRequeuer{}, slog.Default())

	err := svc.Requeue(context.Background(), "item-3")
	require.Error(t, err)
	assert.NotContains(t, queue.resolved, "item-3")
}

func TestServer_ListEscalated_MapsItemsToWire(t *testing.T) {
	queue := newFakeQueue(adminqueue.Item{ID: "item-1", Kind: adminqueue.KindStalledOrder, ReferenceID: "order-1", Reason: "stuck", CreatedAt: sqlNullNow()})
	svc := NewService(queue, &fakeScorer{}, &fakeEventRequeuer{}, &fakeOrderRequeuer{}, slog.Default())
	server := NewServer(svc)

	resp, err := server.ListEscalated(context.Background(), &ListEscalatedRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "order-1", resp.Items[0].ReferenceID)
	assert.Equal(t, string(adminqueue.KindStalledOrder), resp.Items[0].Kind)
}
