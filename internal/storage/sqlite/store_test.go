package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/appstore-crawler/internal/model"
)

func openMemory(t *testing.T, prune bool) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: ":memory:", PruneOrphans: prune})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func app(id, url, title string) model.App {
	return model.App{
		ID:        id,
		SourceURL: url,
		Title:     title,
		ScrapedAt: time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC),
	}
}

func count(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openMemory(t, false)

	rating := 4.7
	a := app("a1", "https://apps.shopify.com/acme", "Acme")
	a.Rating = &rating
	a.WorksWith = []string{"Flow"}
	require.NoError(t, s.Append(ctx, model.KindApp, []model.Record{a}))

	recs, err := s.Load(ctx, model.KindApp)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	got := recs[0].(model.App)
	assert.Equal(t, "Acme", got.Title)
	require.NotNil(t, got.Rating)
	assert.InDelta(t, 4.7, *got.Rating, 0.0001)
	assert.Equal(t, []string{"Flow"}, got.WorksWith)
	assert.True(t, a.ScrapedAt.Equal(got.ScrapedAt))
}

func TestAppendIsNoopForEmptyBatch(t *testing.T) {
	t.Parallel()
	s := openMemory(t, false)
	require.NoError(t, s.Append(context.Background(), model.KindReview, nil))
	assert.Zero(t, count(t, s, "reviews"))
}

func TestAppendRejectsMixedKindsAtomically(t *testing.T) {
	t.Parallel()
	s := openMemory(t, false)

	err := s.Append(context.Background(), model.KindCategory, []model.Record{
		model.Category{ID: "c1", Title: "Marketing"},
		model.KeyBenefit{AppID: "a1", Description: "x"},
	})
	require.Error(t, err)
	assert.Zero(t, count(t, s, "categories"))
}

func TestReconcileKeepsLastInsertedApp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openMemory(t, false)

	batch := []model.Record{
		app("a1", "https://apps.shopify.com/acme", "Acme"),
		app("b1", "https://apps.shopify.com/beta", "Beta"),
	}
	require.NoError(t, s.Append(ctx, model.KindApp, batch))
	// Crash-and-restart re-flush of the same batch, then a fresher crawl.
	require.NoError(t, s.Append(ctx, model.KindApp, batch))
	require.NoError(t, s.Append(ctx, model.KindApp, []model.Record{
		app("a2", "https://apps.shopify.com/acme", "Acme v2"),
	}))

	res, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Removed["apps"])

	recs, err := s.Load(ctx, model.KindApp)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	byURL := map[string]model.App{}
	for _, r := range recs {
		a := r.(model.App)
		byURL[a.SourceURL] = a
	}
	assert.Equal(t, "a2", byURL["https://apps.shopify.com/acme"].ID)
	assert.Equal(t, "Acme v2", byURL["https://apps.shopify.com/acme"].Title)

	again, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Total())
}

func TestReconcileCollapsesReviewsDifferingInHelpfulCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openMemory(t, false)

	posted := time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC)
	one, five := 1, 5
	base := model.Review{AppID: "a1", Author: "Blue Shop", Location: "Canada", Rating: stars(5), PostedAt: &posted, Body: "Great", HelpfulCount: &one}
	later := base
	later.HelpfulCount = &five
	undated := model.Review{AppID: "a1", Author: "Red Shop", Rating: stars(1), Body: "Bad"}

	require.NoError(t, s.Append(ctx, model.KindReview, []model.Record{base, undated}))
	require.NoError(t, s.Append(ctx, model.KindReview, []model.Record{later, undated}))

	_, err := s.Reconcile(ctx)
	require.NoError(t, err)

	recs, err := s.Load(ctx, model.KindReview)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		rv := r.(model.Review)
		if rv.Author == "Blue Shop" {
			require.NotNil(t, rv.HelpfulCount)
			assert.Equal(t, 5, *rv.HelpfulCount)
		}
	}
}

func TestReconcilePrunesOrphans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openMemory(t, true)

	require.NoError(t, s.Append(ctx, model.KindApp, []model.Record{app("old", "https://apps.shopify.com/acme", "Acme")}))
	require.NoError(t, s.Append(ctx, model.KindPricingPlan, []model.Record{model.PricingPlan{ID: "p-old", AppID: "old", Name: "Basic"}}))
	require.NoError(t, s.Append(ctx, model.KindPricingPlanFeature, []model.Record{model.PricingPlanFeature{AppID: "old", PricingPlanID: "p-old", Feature: "Email"}}))
	require.NoError(t, s.Append(ctx, model.KindApp, []model.Record{app("new", "https://apps.shopify.com/acme", "Acme")}))
	require.NoError(t, s.Append(ctx, model.KindPricingPlan, []model.Record{model.PricingPlan{ID: "p-new", AppID: "new", Name: "Basic"}}))

	res, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Pruned["pricing_plans"])
	assert.Equal(t, int64(1), res.Pruned["pricing_plan_features"])
	assert.Equal(t, 1, count(t, s, "apps"))
	assert.Equal(t, 1, count(t, s, "pricing_plans"))
	assert.Zero(t, count(t, s, "pricing_plan_features"))
}

func TestReconcileSkipsMissingTables(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openMemory(t, false)

	_, err := s.db.Exec("DROP TABLE key_benefits")
	require.NoError(t, err)

	res, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Contains(t, res.Skipped, "key_benefits")
	assert.NotContains(t, res.Removed, "key_benefits")
}

func TestFlushedBatchesSurviveReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.db")

	s, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, model.KindCategory, []model.Record{model.Category{ID: model.CategoryID("Marketing"), Title: "Marketing"}}))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck

	recs, err := reopened.Load(ctx, model.KindCategory)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.CategoryID("marketing"), recs[0].(model.Category).ID)

	var mode string
	require.NoError(t, reopened.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestNewRequiresHandle(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), (*sql.DB)(nil), false, nil)
	require.Error(t, err)
	_, err = Open(context.Background(), Config{})
	require.Error(t, err)
}

func stars(n int) *int { return &n }
