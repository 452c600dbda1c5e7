package statemachine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arvind-mehta/orderflow-core/internal/ledger"
	"github.com/arvind-mehta/orderflow-core/internal/scorer"
)

func newMockStateMachine(t *testing.T) (*StateMachine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l := ledger.New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sc := scorer.New(db, nil, scorer.DefaultConfig(), zap.NewNop())
	return New(db, l, sc), mock
}

func expectLockOrder(mock sqlmock.Sqlmock, orderID, vendorID, status string) {
	rows := sqlmock.NewRows([]string{
		"id", "order_number", "retailer_id", "vendor_id", "total", "status", "source",
		"requires_approval", "needs_admin", "created_at", "last_transition_at",
		"product_id", "quantity", "unit_price", "subtotal",
	}).
		AddRow(orderID, "ORD-1", "retailer-1", vendorID, "100.00", status, "TEXT",
			false, false, time.Now(), time.Now(),
			"product-1", 4, "25.00", "100.00")
	mock.ExpectQuery(`SELECT o\.id, o\.order_number`).WithArgs(orderID).WillReturnRows(rows)
}

func expectLedgerPost(mock sqlmock.Sqlmock, retailerID string) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT outstanding_debt FROM retailers WHERE id = \$1`).
		WithArgs(retailerID).
		WillReturnRows(sqlmock.NewRows([]string{"outstanding_debt"}).AddRow("0.00"))
	mock.ExpectQuery(`INSERT INTO credit_ledger_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"ledger_number", "at"}).AddRow(1, time.Now()))
	mock.ExpectExec(`UPDATE retailers SET outstanding_debt`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func expectLedgerReversal(mock sqlmock.Sqlmock, retailerID, orderID string) {
	mock.ExpectQuery(`SELECT amount FROM credit_ledger_entries`).
		WithArgs(retailerID, orderID).
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("100.00"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM credit_ledger_entries`).
		WithArgs(retailerID, orderID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO credit_ledger_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"ledger_number", "at"}).AddRow(2, time.Now()))
	mock.ExpectExec(`UPDATE retailers SET outstanding_debt`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestTransition_AssignedToAccepted_DecrementsStockAndPostsLedger(t *testing.T) {
	sm, mock := newMockStateMachine(t)
	ctx := context.Background()
	orderID, vendorID, retailerID := "order-1", "vendor-1", "retailer-1"

	mock.ExpectBegin()
	expectLockOrder(mock, orderID, vendorID, "VENDOR_ASSIGNED")

	mock.ExpectExec(`UPDATE vendor_products SET stock = stock - \$1`).
		WithArgs(4, vendorID, "product-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectLedgerPost(mock, retailerID)

	mock.ExpectExec(`UPDATE vendors SET active_orders_count = active_orders_count \+ 1`).
		WithArgs(vendorID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE vendor_assignment_retries SET status = 'ACCEPTED'`).
		WithArgs(orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`INSERT INTO order_status_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE orders SET status = \$2`).
		WithArgs(orderID, "ACCEPTED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := sm.Transition(ctx, orderID, "ACCEPTED", TransitionInput{ActorID: "vendor-1", Reason: "accepted"})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.Equal(t, 4, order.Items[0].Quantity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_AssignedToAccepted_InsufficientStockFailsTransition(t *testing.T) {
	sm, mock := newMockStateMachine(t)
	ctx := context.Background()
	orderID, vendorID := "order-2", "vendor-1"

	mock.ExpectBegin()
	expectLockOrder(mock, orderID, vendorID, "VENDOR_ASSIGNED")
	mock.ExpectExec(`UPDATE vendor_products SET stock = stock - \$1`).
		WithArgs(4, vendorID, "product-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := sm.Transition(ctx, orderID, "ACCEPTED", TransitionInput{ActorID: "vendor-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "insufficient stock")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_CancelledFromAccepted_RestoresStockAndReversesLedger(t *testing.T) {
	sm, mock := newMockStateMachine(t)
	ctx := context.Background()
	orderID, vendorID, retailerID := "order-3", "vendor-1", "retailer-1"

	mock.ExpectBegin()
	expectLockOrder(mock, orderID, vendorID, "ACCEPTED")

	mock.ExpectExec(`UPDATE vendor_products SET stock = stock \+ \$1`).
		WithArgs(4, vendorID, "product-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectLedgerReversal(mock, retailerID, orderID)

	mock.ExpectExec(`UPDATE vendors SET active_orders_count = GREATEST`).
		WithArgs(vendorID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`INSERT INTO vendor_score_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`INSERT INTO order_status_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE orders SET status = \$2`).
		WithArgs(orderID, "CANCELLED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := sm.Transition(ctx, orderID, "CANCELLED", TransitionInput{ActorID: "admin-1", Reason: "retailer requested"})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_SameStatus_NoOpsWithoutSideEffect(t *testing.T) {
	sm, mock := newMockStateMachine(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectLockOrder(mock, "order-4", "vendor-1", "ACCEPTED")
	mock.ExpectCommit()

	order, err := sm.Transition(ctx, "order-4", "ACCEPTED", TransitionInput{ActorID: "vendor-1"})
	require.NoError(t, err)
	require.Equal(t, "ACCEPTED", string(order.Status))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_IllegalTransitionReturnsError(t *testing.T) {
	sm, mock := newMockStateMachine(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectLockOrder(mock, "order-5", "vendor-1", "DRAFT")

	_, err := sm.Transition(ctx, "order-5", "DISPATCHED", TransitionInput{ActorID: "vendor-1"})
	require.ErrorIs(t, err, ErrIllegalTransition)
}
