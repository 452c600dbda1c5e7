package domain

import (
	"time"

	"github.com/arvind-mehta/orderflow-core/internal/platform/money"
)

// OrderStatus is a node in the state machine C6 enforces transitions on.
type OrderStatus string

const (
	OrderDraft           OrderStatus = "DRAFT"
	OrderConfirmed       OrderStatus = "CONFIRMED"
	OrderVendorAssigned  OrderStatus = "VENDOR_ASSIGNED"
	OrderAccepted        OrderStatus = "ACCEPTED"
	OrderDispatched      OrderStatus = "DISPATCHED"
	OrderDelivered       OrderStatus = "DELIVERED"
	OrderCompleted       OrderStatus = "COMPLETED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// OrderSource is how the intent that produced this order arrived.
type OrderSource string

const (
	SourceText   OrderSource = "TEXT"
	SourceImage  OrderSource = "IMAGE"
	SourceManual OrderSource = "MANUAL"
)

// OrderItem is one line of an order, priced at admission time and never
// repriced afterward even if the vendor's catalog price later changes.
type OrderItem struct {
	ProductID string
	Quantity  int
	UnitPrice money.Amount
	Subtotal  money.Amount
}

// Order is created once by the dispatcher (C8) and mutated exclusively by
// the state machine (C6) thereafter; it is never deleted, only transitioned
// to the terminal CANCELLED state.
type Order struct {
	ID               string
	OrderNumber      string
	RetailerID       string
	VendorID         *string
	Items            []OrderItem
	Total            money.Amount
	Status           OrderStatus
	Source           OrderSource
	RequiresApproval bool
	NeedsAdmin       bool
	CreatedAt        time.Time
	LastTransitionAt time.Time
	DispatchedAt     *time.Time
	DeliveredAt      *time.Time
}

// OrderStatusLog is an append-only transition record; invariant enforced at
// the store level is that entry N's FromStatus equals entry N-1's ToStatus.
type OrderStatusLog struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	ActorID    string
	Reason     string
	At         time.Time
}

// RejectedOrder captures an admission REJECT decision in full so the
// original intent is never discarded, per spec.md §4.7.
type RejectedOrder struct {
	ID               string
	RetailerID       string
	Items            []OrderItem
	Source           OrderSource
	RequiresApproval bool
	Reason           string
	At               time.Time
}

// legalTransitions mirrors spec.md §4.6's table exactly; statemachine.go is
// the only package allowed to consult it.
var legalTransitions = map[OrderStatus][]OrderStatus{
	OrderDraft:          {OrderConfirmed, OrderCancelled},
	OrderConfirmed:      {OrderVendorAssigned, OrderCancelled},
	OrderVendorAssigned: {OrderAccepted, OrderCancelled},
	OrderAccepted:       {OrderDispatched, OrderCancelled},
	OrderDispatched:     {OrderDelivered, OrderCancelled},
	OrderDelivered:      {OrderCompleted, OrderCancelled},
	OrderCompleted:      {},
	OrderCancelled:      {},
}

// CanTransition reports whether to is a legal next state from from.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
