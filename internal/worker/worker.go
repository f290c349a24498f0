// Package worker drives one App at a time through the crawl state machine:
// listing fetch, extraction, then sequential reviews pages until the last
// page or the page cap.
package worker

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/appstore-crawler/internal/clock/system"
	"github.com/JakeFAU/appstore-crawler/internal/crawler"
	"github.com/JakeFAU/appstore-crawler/internal/extract"
	"github.com/JakeFAU/appstore-crawler/internal/metrics"
	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/progress"
)

// Getter fetches one URL with retries applied. *crawler.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, url string) (crawler.FetchResponse, error)
}

// EmitFunc receives the records of one fetched page. It is called
// synchronously from the worker goroutine and must be safe for concurrent use.
type EmitFunc func(ctx context.Context, records []model.Record)

// Config controls Worker behavior.
type Config struct {
	// ReviewPageCap bounds the reviews pages fetched per App; 0 means no cap.
	ReviewPageCap int
	// RunID tags progress events.
	RunID [16]byte
}

// Stats counts worker outcomes across all workers of a run.
type Stats struct {
	Apps            atomic.Int64
	Reviews         atomic.Int64
	ReviewPages     atomic.Int64
	ListingFailures atomic.Int64
	ReviewFailures  atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Apps            int64 `json:"apps"`
	Reviews         int64 `json:"reviews"`
	ReviewPages     int64 `json:"review_pages"`
	ListingFailures int64 `json:"listing_failures"`
	ReviewFailures  int64 `json:"review_failures"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Apps:            s.Apps.Load(),
		Reviews:         s.Reviews.Load(),
		ReviewPages:     s.ReviewPages.Load(),
		ListingFailures: s.ListingFailures.Load(),
		ReviewFailures:  s.ReviewFailures.Load(),
	}
}

// Worker consumes listing tasks and emits extracted records.
type Worker struct {
	queue    crawler.Queue
	client   Getter
	ids      extract.IDGenerator
	clock    crawler.Clock
	emit     EmitFunc
	progress progress.Emitter
	stats    *Stats
	cfg      Config
	logger   *zap.Logger
}

// Deps groups the Worker collaborators.
type Deps struct {
	Queue    crawler.Queue
	Client   Getter
	IDs      extract.IDGenerator
	Clock    crawler.Clock
	Emit     EmitFunc
	Progress progress.Emitter
	Stats    *Stats
}

// New constructs a Worker. Progress, Stats and Clock are optional.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop
	}
	if deps.Stats == nil {
		deps.Stats = &Stats{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Emit == nil {
		deps.Emit = func(context.Context, []model.Record) {}
	}
	return &Worker{
		queue:    deps.Queue,
		client:   deps.Client,
		ids:      deps.IDs,
		clock:    deps.Clock,
		emit:     deps.Emit,
		progress: deps.Progress,
		stats:    deps.Stats,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run consumes tasks until the queue is closed and drained or ctx ends.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.Process(ctx, task)
	}
}

// Process crawls one App: the listing first, then its reviews pages in order.
// A listing failure drops the App without emitting anything. A reviews
// failure stops pagination but keeps the pages already emitted.
func (w *Worker) Process(ctx context.Context, task crawler.ListingTask) {
	logger := w.logger.With(zap.String("url", task.URL))

	resp, err := w.client.Get(ctx, task.URL)
	if err != nil {
		w.fetchFailed(ctx, "listing", task.URL, "", err)
		w.stats.ListingFailures.Add(1)
		return
	}
	doc, err := extract.ParseDocument(resp.Body)
	if err != nil {
		w.fetchFailed(ctx, "listing", task.URL, "", err)
		w.stats.ListingFailures.Add(1)
		return
	}
	listing, err := extract.Listing(doc, extract.Page{
		URL:       task.URL,
		LastMod:   task.LastMod,
		ScrapedAt: w.clock.Now(),
	}, w.ids)
	if err != nil {
		w.fetchFailed(ctx, "extract", task.URL, "", err)
		w.stats.ListingFailures.Add(1)
		return
	}
	appID := listing.App.ID
	records := listing.Records()
	w.emit(ctx, records)
	w.stats.Apps.Add(1)
	w.progress.Emit(progress.Event{
		RunID:       w.cfg.RunID,
		TS:          w.clock.Now(),
		Stage:       progress.StageListingDone,
		Site:        metrics.SanitizeSite(task.URL),
		URL:         task.URL,
		AppID:       appID,
		Records:     int64(len(records)),
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         resp.Duration,
	})
	logger.Debug("listing extracted", zap.String("app_id", appID), zap.Int("records", len(records)))

	w.paginateReviews(ctx, appID, listing.ReviewsURL)
}

func (w *Worker) paginateReviews(ctx context.Context, appID, pageURL string) {
	seen := map[string]struct{}{}
	for page := 1; pageURL != ""; page++ {
		if ctx.Err() != nil {
			return
		}
		if _, dup := seen[pageURL]; dup {
			w.logger.Warn("reviews pagination loop", zap.String("app_id", appID), zap.String("url", pageURL))
			return
		}
		seen[pageURL] = struct{}{}

		resp, err := w.client.Get(ctx, pageURL)
		if err != nil {
			w.fetchFailed(ctx, "reviews", pageURL, appID, err)
			w.stats.ReviewFailures.Add(1)
			return
		}
		doc, err := extract.ParseDocument(resp.Body)
		if err != nil {
			w.fetchFailed(ctx, "reviews", pageURL, appID, err)
			w.stats.ReviewFailures.Add(1)
			return
		}
		res := extract.Reviews(doc, pageURL, appID, page, w.cfg.ReviewPageCap)
		if len(res.Reviews) > 0 {
			w.emit(ctx, res.Records())
		}
		w.stats.ReviewPages.Add(1)
		w.stats.Reviews.Add(int64(len(res.Reviews)))
		w.progress.Emit(progress.Event{
			RunID:       w.cfg.RunID,
			TS:          w.clock.Now(),
			Stage:       progress.StageReviewsPageDone,
			Site:        metrics.SanitizeSite(pageURL),
			URL:         pageURL,
			AppID:       appID,
			Page:        page,
			Records:     int64(len(res.Reviews)),
			Bytes:       int64(len(resp.Body)),
			StatusClass: progress.ClassifyStatus(resp.StatusCode),
			Dur:         resp.Duration,
		})
		pageURL = res.NextURL
	}
}

// fetchFailed records an abandoned request. Cancellation is not a failure.
func (w *Worker) fetchFailed(ctx context.Context, stage, url, appID string, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	class := failureClass(err)
	metrics.ObserveFetchFailure(stage, class)

	evt := progress.Event{
		RunID: w.cfg.RunID,
		TS:    w.clock.Now(),
		Stage: progress.StageFetchFailed,
		Site:  metrics.SanitizeSite(url),
		URL:   url,
		AppID: appID,
		Note:  err.Error(),
	}
	var fe *crawler.FetchError
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		evt.StatusClass = progress.ClassifyStatus(fe.StatusCode)
	}
	w.progress.Emit(evt)

	fields := []zap.Field{
		zap.String("stage", stage),
		zap.String("url", url),
		zap.String("class", class),
		zap.Error(err),
	}
	if appID != "" {
		fields = append(fields, zap.String("app_id", appID))
	}
	w.logger.Warn("fetch abandoned", fields...)
}

func failureClass(err error) string {
	switch {
	case errors.Is(err, crawler.ErrTransient):
		return "transient"
	case errors.Is(err, crawler.ErrPermanent):
		return "permanent"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

