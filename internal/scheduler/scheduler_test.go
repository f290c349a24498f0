package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/appstore-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/appstore-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/appstore-crawler/internal/model"
)

func TestSchedulerCrawlsSitemapEndToEnd(t *testing.T) {
	t.Parallel()

	srv := newStoreServer(t)
	client := crawler.NewClient(crawler.ClientConfig{
		Fetcher: collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}),
		Retry:   crawler.NewExponentialRetryPolicy(2, time.Millisecond, 5*time.Millisecond),
	})
	filter, err := crawler.NewListingFilter(`^http://127\.0\.0\.1:\d+/[^/?#]+$`)
	require.NoError(t, err)

	s := New(Deps{
		Discoverer: crawler.NewDiscoverer(client, filter, nil, zap.NewNop()),
		Client:     client,
		IDs:        &seqIDs{},
		Clock:      fixedClock{},
	}, Config{
		SitemapURLs:   []string{srv.URL + "/sitemap.xml"},
		Concurrency:   2,
		QueueDepth:    1,
		ReviewPageCap: 10,
	}, zap.NewNop())

	sink := &recordSink{}
	res, err := s.Run(context.Background(), sink.Emit)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Discovered)
	assert.Equal(t, 2, res.Enqueued)
	assert.EqualValues(t, 1, res.Stats.Apps)
	assert.EqualValues(t, 3, res.Stats.Reviews)
	assert.EqualValues(t, 2, res.Stats.ReviewPages)
	assert.EqualValues(t, 1, res.Stats.ListingFailures)

	counts := sink.counts()
	assert.Equal(t, 1, counts[model.KindApp])
	assert.Equal(t, 1, counts[model.KindCategory])
	assert.Equal(t, 1, counts[model.KindPricingPlan])
	assert.Equal(t, 1, counts[model.KindPricingPlanFeature])
	assert.Equal(t, 3, counts[model.KindReview])
	assert.Equal(t, 2, srv.hits("/acme-tool/reviews"))
}

func TestSchedulerListingsOverrideAndMaxApps(t *testing.T) {
	t.Parallel()

	getter := &countingGetter{}
	s := New(Deps{Client: getter, IDs: &seqIDs{}, Clock: fixedClock{}}, Config{
		Listings:    []string{"https://apps.shopify.com/a", "https://apps.shopify.com/b", "https://apps.shopify.com/c"},
		MaxApps:     2,
		Concurrency: 0,
	}, nil)

	res, err := s.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Discovered)
	assert.Equal(t, 2, res.Enqueued)
	assert.EqualValues(t, 2, res.Stats.ListingFailures)
	assert.Equal(t, 2, getter.count())
}

func TestSchedulerDiscoveryFailure(t *testing.T) {
	t.Parallel()

	s := New(Deps{Discoverer: failingDiscoverer{}}, Config{SitemapURLs: []string{"x"}}, nil)
	_, err := s.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discover listings")
}

func TestSchedulerCanceledRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(Deps{Client: &countingGetter{}, IDs: &seqIDs{}, Clock: fixedClock{}}, Config{
		Listings: []string{"https://apps.shopify.com/a"},
	}, nil)

	_, err := s.Run(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}

type storeServer struct {
	*httptest.Server
	mu     sync.Mutex
	counts map[string]int
}

func newStoreServer(t *testing.T) *storeServer {
	t.Helper()
	read := func(name string) []byte {
		body, err := os.ReadFile(filepath.Join("..", "extract", "testdata", name))
		require.NoError(t, err)
		return body
	}
	listing := read("listing_acme.html")
	page1 := read("reviews_page1.html")
	page2 := read("reviews_page2.html")

	s := &storeServer{counts: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.counts[r.URL.Path]++
		s.mu.Unlock()
		switch r.URL.Path {
		case "/sitemap.xml":
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprintf(w, `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>%[1]s/acme-tool</loc><lastmod>2024-04-30</lastmod></url>
<url><loc>%[1]s/categories/marketing</loc></url>
<url><loc>%[1]s/gone</loc></url>
</urlset>`, s.URL)
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
	t.Cleanup(s.Close)
	return s
}

func (s *storeServer) hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[path]
}

type recordSink struct {
	mu      sync.Mutex
	records []model.Record
}

func (s *recordSink) Emit(_ context.Context, records []model.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

func (s *recordSink) counts() map[model.Kind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[model.Kind]int{}
	for _, r := range s.records {
		out[r.Kind()]++
	}
	return out
}

type countingGetter struct {
	mu sync.Mutex
	n  int
}

func (g *countingGetter) Get(_ context.Context, url string) (crawler.FetchResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return crawler.FetchResponse{}, &crawler.FetchError{URL: url, StatusCode: http.StatusNotFound}
}

func (g *countingGetter) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

type failingDiscoverer struct{}

func (failingDiscoverer) Discover(context.Context, []string) ([]crawler.SitemapEntry, error) {
	return nil, errors.New("sitemap down")
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
}
