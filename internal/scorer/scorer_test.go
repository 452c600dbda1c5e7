package scorer

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
)

func newMockScorer(t *testing.T) (*Scorer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil, DefaultConfig(), zap.NewNop()), mock
}

func expectNeutralRecompute(mock sqlmock.Sqlmock, vendorID string) {
	emptyFloats := sqlmock.NewRows([]string{"val"})
	mock.ExpectQuery(`SELECT \(data->>'response_minutes'\)::float8`).WithArgs(vendorID).WillReturnRows(emptyFloats)
	mock.ExpectQuery(`COUNT\(\*\) FILTER`).WithArgs(vendorID, "ASSIGNED", "ACCEPTED", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b"}).AddRow(0, 0))
	mock.ExpectQuery(`SELECT \(data->>'deviation_pct'\)::float8`).WithArgs(vendorID).WillReturnRows(sqlmock.NewRows([]string{"val"}))
	mock.ExpectQuery(`COUNT\(\*\) FILTER`).WithArgs(vendorID, "DELIVERED", "DELIVERY_FAILED", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b"}).AddRow(0, 0))
	mock.ExpectQuery(`COUNT\(\*\) FILTER`).WithArgs(vendorID, "ASSIGNED", "CANCELLED", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b"}).AddRow(0, 0))
	mock.ExpectQuery(`SELECT tier FROM vendor_score_snapshots`).WithArgs(vendorID).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO vendor_score_snapshots`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestScore_NoRedisRecomputesAndPersistsSnapshot(t *testing.T) {
	s, mock := newMockScorer(t)
	expectNeutralRecompute(mock, "vendor-1")

	snapshot, err := s.Score(context.Background(), "vendor-1")
	require.NoError(t, err)
	require.Equal(t, 50.0, snapshot.ResponseSpeed)
	require.Equal(t, 50.0, snapshot.AcceptanceRate)
	require.Equal(t, domain.TierAverage, snapshot.Tier)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecompute_BypassesCacheAndUpsertsSnapshot(t *testing.T) {
	s, mock := newMockScorer(t)
	expectNeutralRecompute(mock, "vendor-2")

	snapshot, err := s.Recompute(context.Background(), "vendor-2")
	require.NoError(t, err)
	require.Equal(t, "vendor-2", snapshot.VendorID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfig_ValidateRejectsBadWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WeightResponseSpeed = 1000
	require.Error(t, cfg.Validate())
}

func TestConfig_ValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestTierFor(t *testing.T) {
	require.Equal(t, domain.TierExcellent, tierFor(95))
	require.Equal(t, domain.TierGood, tierFor(80))
	require.Equal(t, domain.TierAverage, tierFor(60))
	require.Equal(t, domain.TierPoor, tierFor(10))
}

func TestTierDistance(t *testing.T) {
	require.Equal(t, 0, tierDistance(domain.TierGood, domain.TierGood))
	require.Equal(t, 3, tierDistance(domain.TierPoor, domain.TierExcellent))
	require.Equal(t, 2, tierDistance(domain.TierExcellent, domain.TierAverage))
}
