package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, slog.Default()), mock
}

func TestRecord_NewEventIsStored(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO webhook_events").
		WithArgs(sqlmock.AnyArg(), "whatsapp", "ext-1", []byte(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("evt-1"))

	result, err := store.Record(context.Background(), "whatsapp", "ext-1", []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, result.Stored)
	assert.Equal(t, "evt-1", result.EventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_DuplicateReturnsExistingID(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO webhook_events").
		WithArgs(sqlmock.AnyArg(), "whatsapp", "ext-1", []byte(`{}`)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT id FROM webhook_events").
		WithArgs("whatsapp", "ext-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("evt-existing"))

	result, err := store.Record(context.Background(), "whatsapp", "ext-1", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, result.Stored)
	assert.Equal(t, "evt-existing", result.EventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFail_DeadLettersAfterMaxAttempts(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT attempts FROM webhook_events").
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(MaxAttempts))
	mock.ExpectExec("UPDATE webhook_events").
		WithArgs("evt-1", "FAILED", "boom", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Fail(context.Background(), "evt-1", errors.New("boom"), time.Now())
	assert.ErrorIs(t, err, ErrDeadLettered)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFail_BelowThresholdStaysPending(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT attempts FROM webhook_events").
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(1))
	mock.ExpectExec("UPDATE webhook_events").
		WithArgs("evt-1", "PENDING", "transient", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Fail(context.Background(), "evt-1", errors.New("transient"), time.Now().Add(30*time.Second))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
