package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/storage"
)

func newMock(t *testing.T, prune bool) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewWithPool(mock, prune, nil)
	require.NoError(t, err)
	return mock, s
}

func TestAppendInsertsInOneTransaction(t *testing.T) {
	t.Parallel()
	mock, s := newMock(t, false)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO categories").
		WithArgs("c1", "Marketing").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO categories").
		WithArgs("c2", "Sales").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.Append(context.Background(), model.KindCategory, []model.Record{
		model.Category{ID: "c1", Title: "Marketing"},
		model.Category{ID: "c2", Title: "Sales"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRollsBackOnInsertError(t *testing.T) {
	t.Parallel()
	mock, s := newMock(t, false)

	posted := time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reviews").
		WithArgs("a1", "Shop", "Canada", "", int64(5), "2024-03-03", "Great", nil).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Append(context.Background(), model.KindReview, []model.Record{
		model.Review{AppID: "a1", Author: "Shop", Location: "Canada", Rating: stars(5), PostedAt: &posted, Body: "Great"},
	})
	require.ErrorContains(t, err, "insert reviews")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEmptyBatchTouchesNothing(t *testing.T) {
	t.Parallel()
	mock, s := newMock(t, false)

	require.NoError(t, s.Append(context.Background(), model.KindApp, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectExists(mock pgxmock.PgxPoolIface, table string, exists bool) {
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs(table).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(exists))
}

func TestReconcileDeletesByNaturalKey(t *testing.T) {
	t.Parallel()
	mock, s := newMock(t, false)

	for i, spec := range storage.Specs() {
		if spec.Kind == model.KindKeyBenefit {
			expectExists(mock, spec.Table, false)
			continue
		}
		expectExists(mock, spec.Table, true)
		exp := mock.ExpectExec("DELETE FROM " + spec.Table + " WHERE seq NOT IN")
		if spec.Kind == model.KindPricingPlan {
			exp.WillReturnError(errors.New("lock timeout"))
			continue
		}
		exp.WillReturnResult(pgxmock.NewResult("DELETE", int64(i)))
	}

	res, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"key_benefits", "pricing_plans"}, res.Skipped)
	assert.Equal(t, int64(0), res.Removed["apps"])
	assert.Equal(t, int64(6), res.Removed["reviews"])
	assert.Empty(t, res.Pruned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcilePrunesOrphans(t *testing.T) {
	t.Parallel()
	mock, s := newMock(t, true)

	for _, spec := range storage.Specs() {
		expectExists(mock, spec.Table, true)
		mock.ExpectExec("DELETE FROM " + spec.Table + " WHERE seq NOT IN").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
	}
	for _, spec := range storage.Specs() {
		for range storage.Postgres.Prune(spec) {
			mock.ExpectExec("DELETE FROM " + spec.Table + " WHERE").
				WillReturnResult(pgxmock.NewResult("DELETE", 2))
		}
	}

	res, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Pruned["pricing_plan_features"])
	assert.Equal(t, int64(2), res.Pruned["reviews"])
	assert.NotContains(t, res.Pruned, "categories")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadDecodesRows(t *testing.T) {
	t.Parallel()
	mock, s := newMock(t, false)

	mock.ExpectQuery("SELECT app_id, pricing_plan_id, feature FROM pricing_plan_features ORDER BY seq").
		WillReturnRows(mock.NewRows([]string{"app_id", "pricing_plan_id", "feature"}).
			AddRow("a1", "p1", "Email support").
			AddRow("a1", "p1", "Chat"))

	recs, err := s.Load(context.Background(), model.KindPricingPlanFeature)
	require.NoError(t, err)
	assert.Equal(t, []model.Record{
		model.PricingPlanFeature{AppID: "a1", PricingPlanID: "p1", Feature: "Email support"},
		model.PricingPlanFeature{AppID: "a1", PricingPlanID: "p1", Feature: "Chat"},
	}, recs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTablesAndIndexes(t *testing.T) {
	t.Parallel()
	mock, s := newMock(t, false)

	for _, spec := range storage.Specs() {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + spec.Table).
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_" + spec.Table + "_natural_key").
			WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	}
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConstructorsValidateInput(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, false, nil)
	require.Error(t, err)
	_, err = New(context.Background(), Config{})
	require.Error(t, err)
	_, err = New(context.Background(), Config{DSN: "::not a dsn::"})
	require.Error(t, err)
}

func stars(n int) *int { return &n }
