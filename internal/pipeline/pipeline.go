// Package pipeline wires the crawl scheduler to the persistence buffer and
// owns the run lifecycle: batch flushes during the crawl, then exactly one
// final flush and reconciliation at shutdown.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/appstore-crawler/internal/buffer"
	"github.com/JakeFAU/appstore-crawler/internal/clock/system"
	"github.com/JakeFAU/appstore-crawler/internal/crawler"
	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/progress"
	"github.com/JakeFAU/appstore-crawler/internal/scheduler"
	"github.com/JakeFAU/appstore-crawler/internal/storage"
	"github.com/JakeFAU/appstore-crawler/internal/worker"
)

// SummaryTopic is the event name of the run summary notification.
const SummaryTopic = "crawl.run.completed"

const defaultShutdownTimeout = 2 * time.Minute

// Crawler produces records. *scheduler.Scheduler satisfies it.
type Crawler interface {
	Run(ctx context.Context, emit worker.EmitFunc) (scheduler.Result, error)
}

// Publisher delivers the run summary.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config controls the orchestrator.
type Config struct {
	RunID uuid.UUID
	// ShutdownTimeout bounds the final flush and reconciliation.
	ShutdownTimeout time.Duration
}

// Deps groups the orchestrator collaborators. Progress, Publisher and Clock
// are optional.
type Deps struct {
	Crawler   Crawler
	Buffer    *buffer.Buffer
	Store     storage.Store
	Progress  progress.Emitter
	Publisher Publisher
	Clock     crawler.Clock
}

// Summary describes a finished run.
type Summary struct {
	RunID       string                  `json:"run_id"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  time.Time               `json:"finished_at"`
	Duration    string                  `json:"duration"`
	Crawl       scheduler.Result        `json:"crawl"`
	Reconcile   storage.ReconcileResult `json:"reconcile"`
	Unflushed   map[string]int          `json:"unflushed,omitempty"`
	Interrupted bool                    `json:"interrupted"`
	Error       string                  `json:"error,omitempty"`
}

// Pipeline runs one crawl end to end.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	flushMu sync.Mutex

	mu       sync.Mutex
	started  time.Time
	result   scheduler.Result
	crawlErr error

	shutdownOnce sync.Once
	summary      Summary
	shutdownErr  error
}

// New validates deps and constructs a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if deps.Crawler == nil {
		return nil, errors.New("crawler is required")
	}
	if deps.Buffer == nil {
		return nil, errors.New("buffer is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.RunID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("run id: %w", err)
		}
		cfg.RunID = id
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger.Named("pipeline")}, nil
}

// Run crawls until the scheduler finishes or ctx is canceled, then shuts
// down. The final flush and reconciliation happen even when ctx is canceled.
// The Summary is valid whenever the crawl started.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	p.mu.Lock()
	p.started = p.deps.Clock.Now()
	p.mu.Unlock()
	p.emit(progress.Event{Stage: progress.StageRunStart})
	p.logger.Info("crawl started", zap.String("run_id", p.cfg.RunID.String()))

	res, err := p.deps.Crawler.Run(ctx, p.Accept)
	p.mu.Lock()
	p.result = res
	p.crawlErr = err
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn("crawl ended early", zap.Error(err))
	}

	summary, shutdownErr := p.Shutdown(ctx)
	return summary, errors.Join(err, shutdownErr)
}

// Accept routes records to the buffer and triggers a batch flush once enough
// Apps are buffered. It is the scheduler's emit callback and is safe for
// concurrent use.
func (p *Pipeline) Accept(ctx context.Context, records []model.Record) {
	sawApp := false
	for _, rec := range records {
		if err := p.deps.Buffer.Add(rec); err != nil {
			p.logger.Error("drop record", zap.Stringer("kind", rec.Kind()), zap.Error(err))
			continue
		}
		if rec.Kind() == model.KindApp {
			sawApp = true
		}
	}
	if sawApp && p.deps.Buffer.ShouldFlush() {
		p.flushBatch(ctx)
	}
}

// flushBatch lets one caller flush every kind; callers arriving meanwhile
// re-check the threshold once the lock frees.
func (p *Pipeline) flushBatch(ctx context.Context) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()
	if !p.deps.Buffer.ShouldFlush() {
		return
	}
	if err := p.deps.Buffer.FlushAll(ctx); err != nil {
		p.logger.Error("batch flush incomplete; will retry", zap.Error(err))
	}
}

// Shutdown performs the final flush and reconciliation exactly once and
// publishes the run summary. Later calls return the first outcome. The work
// runs on a context detached from ctx's cancellation.
func (p *Pipeline) Shutdown(ctx context.Context) (Summary, error) {
	p.shutdownOnce.Do(func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ShutdownTimeout)
		defer cancel()
		p.summary, p.shutdownErr = p.shutdown(sctx)
	})
	return p.summary, p.shutdownErr
}

func (p *Pipeline) shutdown(ctx context.Context) (Summary, error) {
	p.flushMu.Lock()
	flushErr := p.deps.Buffer.FlushAll(ctx)
	p.flushMu.Unlock()
	if flushErr != nil {
		p.logger.Error("final flush incomplete", zap.Error(flushErr), zap.Any("unflushed", p.deps.Buffer.Pending()))
	}

	reconciled, recErr := p.deps.Store.Reconcile(ctx)
	if recErr != nil {
		p.logger.Warn("reconcile incomplete", zap.Error(recErr))
	} else {
		p.logger.Info("reconciled", zap.Int64("removed", reconciled.Total()), zap.Strings("skipped", reconciled.Skipped))
	}

	p.mu.Lock()
	started, result, crawlErr := p.started, p.result, p.crawlErr
	p.mu.Unlock()
	if started.IsZero() {
		started = p.deps.Clock.Now()
	}
	finished := p.deps.Clock.Now()
	summary := Summary{
		RunID:       p.cfg.RunID.String(),
		StartedAt:   started,
		FinishedAt:  finished,
		Duration:    finished.Sub(started).String(),
		Crawl:       result,
		Reconcile:   reconciled,
		Unflushed:   p.deps.Buffer.Pending(),
		Interrupted: errors.Is(crawlErr, context.Canceled) || errors.Is(crawlErr, context.DeadlineExceeded),
	}
	var err error
	if flushErr != nil {
		err = fmt.Errorf("final flush: %w", flushErr)
	}
	if e := errors.Join(crawlErr, err); e != nil {
		summary.Error = e.Error()
	}

	p.emit(progress.Event{Stage: progress.StageRunDone, Dur: finished.Sub(started), Note: summary.Error})
	if p.deps.Publisher != nil {
		if id, pubErr := p.deps.Publisher.Publish(ctx, SummaryTopic, summary); pubErr != nil {
			p.logger.Warn("publish run summary failed", zap.Error(pubErr))
		} else {
			p.logger.Debug("run summary published", zap.String("message_id", id))
		}
	}
	p.logger.Info("crawl finished",
		zap.String("run_id", summary.RunID),
		zap.Int64("apps", result.Stats.Apps),
		zap.Int64("reviews", result.Stats.Reviews),
		zap.Int64("listing_failures", result.Stats.ListingFailures),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Duration("took", finished.Sub(started)),
	)
	return summary, err
}

func (p *Pipeline) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(p.cfg.RunID)
	evt.TS = p.deps.Clock.Now()
	p.deps.Progress.Emit(evt)
}
