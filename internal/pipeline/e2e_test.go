package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/appstore-crawler/internal/buffer"
	"github.com/JakeFAU/appstore-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/appstore-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/appstore-crawler/internal/id/uuid"
	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/scheduler"
	"github.com/JakeFAU/appstore-crawler/internal/storage/sqlite"
)

func newAppStoreServer(t *testing.T) *httptest.Server {
	t.Helper()
	read := func(name string) []byte {
		body, err := os.ReadFile(filepath.Join("..", "extract", "testdata", name))
		require.NoError(t, err)
		return body
	}
	listing := read("listing_acme.html")
	page1 := read("reviews_page1.html")
	page2 := read("reviews_page2.html")

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>%s/acme-tool</loc><lastmod>2024-04-30</lastmod></url>
</urlset>`, srv.URL)
		case "/acme-tool":
			_, _ = w.Write(listing)
		case "/acme-tool/reviews":
			if r.URL.Query().Get("page") == "2" {
				_, _ = w.Write(page2)
				return
			}
			_, _ = w.Write(page1)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func crawlOnce(t *testing.T, srvURL string, store *sqlite.Store) Summary {
	t.Helper()
	client := crawler.NewClient(crawler.ClientConfig{
		Fetcher: collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}),
		Retry:   crawler.NewExponentialRetryPolicy(2, time.Millisecond, 5*time.Millisecond),
	})
	filter, err := crawler.NewListingFilter(`^http://127\.0\.0\.1:\d+/[^/?#]+$`)
	require.NoError(t, err)

	sched := scheduler.New(scheduler.Deps{
		Discoverer: crawler.NewDiscoverer(client, filter, nil, zap.NewNop()),
		Client:     client,
		IDs:        uuid.New(),
	}, scheduler.Config{
		SitemapURLs:   []string{srvURL + "/sitemap.xml"},
		Concurrency:   2,
		ReviewPageCap: 10,
	}, nil)
	buf := buffer.New(buffer.Deps{Store: store}, buffer.Config{AppBatchSize: 10}, nil)
	p, err := New(Deps{Crawler: sched, Buffer: buf, Store: store}, Config{}, nil)
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	return summary
}

func TestCrawlAcmeToolIntoSQLite(t *testing.T) {
	t.Parallel()
	srv := newAppStoreServer(t)
	store, err := sqlite.Open(context.Background(), sqlite.Config{
		Path:         filepath.Join(t.TempDir(), "appstore.db"),
		PruneOrphans: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	want := map[model.Kind]int{
		model.KindApp:                1,
		model.KindCategory:           1,
		model.KindAppCategory:        1,
		model.KindPricingPlan:        1,
		model.KindPricingPlanFeature: 1,
		model.KindReview:             3,
	}
	for run := 0; run < 2; run++ {
		summary := crawlOnce(t, srv.URL, store)
		assert.EqualValues(t, 2, summary.Crawl.Stats.ReviewPages, "pagination halts after page 2")
		for kind, n := range want {
			assert.Equal(t, n, rows(t, store, kind), "run %d table %s", run+1, kind)
		}
	}

	apps, err := store.Load(context.Background(), model.KindApp)
	require.NoError(t, err)
	app := apps[0].(model.App)
	assert.Equal(t, "Acme Tool", app.Title)
	assert.Equal(t, "2024-04-30", app.LastMod)

	cats, err := store.Load(context.Background(), model.KindCategory)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryID("marketing"), cats[0].(model.Category).ID)

	plans, err := store.Load(context.Background(), model.KindPricingPlan)
	require.NoError(t, err)
	plan := plans[0].(model.PricingPlan)
	assert.Equal(t, "Basic", plan.Name)
	assert.Equal(t, "$9/month", plan.Price)
	assert.Equal(t, app.ID, plan.AppID)
}
