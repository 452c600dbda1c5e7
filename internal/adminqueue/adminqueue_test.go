package adminqueue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestQueue_Enqueue(t *testing.T) {
	q, mock := newMockQueue(t)
	mock.ExpectExec("INSERT INTO admin_queue_items").
		WithArgs(sqlmock.AnyArg(), KindStalledOrder, "order-1", "no vendor responded").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := q.Enqueue(context.Background(), KindStalledOrder, "order-1", "no vendor responded")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_ListUnresolved(t *testing.T) {
	q, mock := newMockQueue(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "kind", "reference_id", "reason", "created_at", "resolved_at"}).
		AddRow("item-1", string(KindDeadLetterEvent), "evt-1", "decode failed", now, nil)
	mock.ExpectQuery("SELECT id, kind, reference_id, reason, created_at, resolved_at").WillReturnRows(rows)

	items, err := q.ListUnresolved(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, KindDeadLetterEvent, items[0].Kind)
	require.False(t, items[0].ResolvedAt.Valid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_GetByID(t *testing.T) {
	q, mock := newMockQueue(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "kind", "reference_id", "reason", "created_at", "resolved_at"}).
		AddRow("item-1", string(KindVendorExhausted), "order-9", "exhausted", now, nil)
	mock.ExpectQuery("SELECT id, kind, reference_id, reason, created_at, resolved_at").
		WithArgs("item-1").
		WillReturnRows(rows)

	item, err := q.GetByID(context.Background(), "item-1")
	require.NoError(t, err)
	require.Equal(t, "order-9", item.ReferenceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_GetByID_NotFound(t *testing.T) {
	q, mock := newMockQueue(t)
	mock.ExpectQuery("SELECT id, kind, reference_id, reason, created_at, resolved_at").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := q.GetByID(context.Background(), "missing")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_Resolve(t *testing.T) {
	q, mock := newMockQueue(t)
	mock.ExpectExec("UPDATE admin_queue_items SET resolved_at").
		WithArgs("item-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := q.Resolve(context.Background(), "item-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
