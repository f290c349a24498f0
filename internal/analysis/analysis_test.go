package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/storage/memory"
)

func seed(t *testing.T) *memory.RecordStore {
	t.Helper()
	ctx := context.Background()
	store := memory.NewRecordStore(false)
	marketing, link := model.NewCategory("a1", "Marketing")
	sales, link2 := model.NewCategory("a1", "Sales")
	early := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, model.KindApp, []model.Record{
		model.App{ID: "a1", Title: "Acme Tool", SourceURL: "https://apps.shopify.com/acme-tool"},
		model.App{ID: "b1", Title: "Beta", SourceURL: "https://apps.shopify.com/beta"},
	}))
	require.NoError(t, store.Append(ctx, model.KindCategory, []model.Record{marketing, sales}))
	require.NoError(t, store.Append(ctx, model.KindAppCategory, []model.Record{link, link2}))
	require.NoError(t, store.Append(ctx, model.KindReview, []model.Record{
		model.Review{AppID: "a1", Author: "x", Rating: stars(5), PostedAt: &late},
		model.Review{AppID: "a1", Author: "y", Rating: stars(2), PostedAt: &late},
		model.Review{AppID: "a1", Author: "z", Rating: stars(1), PostedAt: &early},
		model.Review{AppID: "b1", Author: "w", Rating: stars(3)},
		model.Review{AppID: "gone", Author: "v", Rating: stars(1)},
		model.Review{AppID: "b1", Author: "u"},
	}))
	return store
}

func TestReportLowRatedJoinsAppAndCategories(t *testing.T) {
	t.Parallel()

	c, err := Load(context.Background(), seed(t))
	require.NoError(t, err)
	report := c.Report(0)

	assert.Equal(t, 2, report.Apps)
	assert.Equal(t, 6, report.Reviews)
	assert.Equal(t, 2, report.Categories)
	assert.Equal(t, DefaultThreshold, report.Threshold)

	require.Len(t, report.LowRated, 2)
	assert.Equal(t, "z", report.LowRated[0].Review.Author)
	assert.Equal(t, "y", report.LowRated[1].Review.Author)
	assert.Equal(t, "Acme Tool", report.LowRated[0].AppTitle)
	assert.Equal(t, []string{"Marketing", "Sales"}, report.LowRated[0].Categories)

	assert.Equal(t, []CategoryCount{{"Marketing", 2}, {"Sales", 2}}, report.ByCategory)
}

func TestLowRatedThreshold(t *testing.T) {
	t.Parallel()

	c, err := Load(context.Background(), seed(t))
	require.NoError(t, err)
	assert.Len(t, c.LowRated(4), 3)
	assert.Empty(t, c.LowRated(1))
	for _, f := range c.LowRated(6) {
		require.NotNil(t, f.Review.Rating, "unrated review %s reported", f.Review.Author)
	}
	assert.Len(t, c.LowRated(6), 4)
}

type brokenReader struct{}

func (brokenReader) Load(context.Context, model.Kind) ([]model.Record, error) {
	return nil, errors.New("no such table")
}

func TestLoadPropagatesReaderError(t *testing.T) {
	t.Parallel()

	_, err := Load(context.Background(), brokenReader{})
	require.ErrorContains(t, err, "load apps")
}

func stars(n int) *int { return &n }
