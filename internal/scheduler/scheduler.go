// Package scheduler runs one crawl: sitemap discovery, then a bounded queue of
// listing tasks consumed by a fixed worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/appstore-crawler/internal/crawler"
	"github.com/JakeFAU/appstore-crawler/internal/dispatcher"
	"github.com/JakeFAU/appstore-crawler/internal/extract"
	"github.com/JakeFAU/appstore-crawler/internal/progress"
	queueMemory "github.com/JakeFAU/appstore-crawler/internal/queue/memory"
	"github.com/JakeFAU/appstore-crawler/internal/worker"
)

// Discoverer expands sitemap roots into listing entries.
type Discoverer interface {
	Discover(ctx context.Context, roots []string) ([]crawler.SitemapEntry, error)
}

// Config controls one crawl run.
type Config struct {
	// SitemapURLs are the discovery roots.
	SitemapURLs []string
	// Listings, when set, replaces discovery with these listing URLs.
	Listings []string
	// Concurrency is the worker count and so the in-flight request bound.
	Concurrency int
	// QueueDepth bounds the tasks buffered ahead of the workers.
	QueueDepth int
	// MaxApps stops enqueueing after this many listings; 0 means all.
	MaxApps int
	// ReviewPageCap bounds reviews pages per App; 0 means no cap.
	ReviewPageCap int
	// RunID tags progress events.
	RunID [16]byte
}

// Deps groups Scheduler collaborators.
type Deps struct {
	Discoverer Discoverer
	Client     worker.Getter
	IDs        extract.IDGenerator
	Clock      crawler.Clock
	Progress   progress.Emitter
}

// Result summarizes a finished crawl.
type Result struct {
	Discovered int                  `json:"discovered"`
	Enqueued   int                  `json:"enqueued"`
	Stats      worker.StatsSnapshot `json:"stats"`
}

// Scheduler owns discovery and the worker pool of a run.
type Scheduler struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Scheduler. Concurrency and QueueDepth below one become one.
func New(deps Deps, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = cfg.Concurrency
	}
	return &Scheduler{deps: deps, cfg: cfg, logger: logger.Named("scheduler")}
}

// Run discovers listings, feeds them to the workers and returns once every
// enqueued App has finished or ctx is canceled. emit receives every extracted
// record. A canceled run returns the partial Result with the context error.
func (s *Scheduler) Run(ctx context.Context, emit worker.EmitFunc) (Result, error) {
	entries, err := s.tasks(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Discovered: len(entries)}
	s.logger.Info("listings discovered", zap.Int("count", len(entries)))

	queue := queueMemory.NewQueue(s.cfg.QueueDepth)
	stats := &worker.Stats{}
	runners := make([]dispatcher.Runner, 0, s.cfg.Concurrency)
	for i := range s.cfg.Concurrency {
		runners = append(runners, worker.New(worker.Deps{
			Queue:    queue,
			Client:   s.deps.Client,
			IDs:      s.deps.IDs,
			Clock:    s.deps.Clock,
			Emit:     emit,
			Progress: s.deps.Progress,
			Stats:    stats,
		}, worker.Config{
			ReviewPageCap: s.cfg.ReviewPageCap,
			RunID:         s.cfg.RunID,
		}, s.logger.Named(fmt.Sprintf("worker-%d", i))))
	}
	pool := dispatcher.New(queue, runners)

	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()

	var enqueueErr error
	for _, entry := range entries {
		if s.cfg.MaxApps > 0 && res.Enqueued >= s.cfg.MaxApps {
			break
		}
		if err := pool.Enqueue(ctx, crawler.ListingTask{URL: entry.Loc, LastMod: entry.LastMod}); err != nil {
			enqueueErr = err
			break
		}
		res.Enqueued++
	}
	queue.Close()
	<-done

	res.Stats = stats.Snapshot()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("crawl interrupted: %w", ctxErr)
	}
	if enqueueErr != nil {
		return res, enqueueErr
	}
	return res, nil
}

func (s *Scheduler) tasks(ctx context.Context) ([]crawler.SitemapEntry, error) {
	if len(s.cfg.Listings) > 0 {
		out := make([]crawler.SitemapEntry, 0, len(s.cfg.Listings))
		for _, u := range s.cfg.Listings {
			out = append(out, crawler.SitemapEntry{Loc: u})
		}
		return out, nil
	}
	if s.deps.Discoverer == nil {
		return nil, errors.New("no discoverer configured")
	}
	entries, err := s.deps.Discoverer.Discover(ctx, s.cfg.SitemapURLs)
	if err != nil {
		return nil, fmt.Errorf("discover listings: %w", err)
	}
	return entries, nil
}
