// Package buffer accumulates extracted records per kind and flushes them to a
// store in batches.
//
// Each kind has its own lock, held for the whole flush of that kind, so a
// flush and an append of the same kind never interleave while different
// kinds flush in parallel.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/appstore-crawler/internal/clock/system"
	"github.com/JakeFAU/appstore-crawler/internal/crawler"
	"github.com/JakeFAU/appstore-crawler/internal/metrics"
	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/progress"
	"github.com/JakeFAU/appstore-crawler/internal/storage"
)

// DefaultAppBatchSize is the App count that triggers a flush.
const DefaultAppBatchSize = 10

// Config controls flush thresholds.
type Config struct {
	AppBatchSize int
	RunID        [16]byte
}

// Deps groups the Buffer collaborators. Progress and Clock are optional.
type Deps struct {
	Store    storage.Store
	Progress progress.Emitter
	Clock    crawler.Clock
}

type slot struct {
	mu      sync.Mutex
	pending []model.Record
}

// Buffer holds unflushed records keyed by kind.
type Buffer struct {
	store    storage.Store
	progress progress.Emitter
	clock    crawler.Clock
	cfg      Config
	slots    map[model.Kind]*slot
	logger   *zap.Logger
}

// New constructs an empty Buffer.
func New(deps Deps, cfg Config, logger *zap.Logger) *Buffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AppBatchSize <= 0 {
		cfg.AppBatchSize = DefaultAppBatchSize
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	slots := make(map[model.Kind]*slot, len(model.Kinds()))
	for _, k := range model.Kinds() {
		slots[k] = &slot{}
	}
	return &Buffer{
		store:    deps.Store,
		progress: deps.Progress,
		clock:    deps.Clock,
		cfg:      cfg,
		slots:    slots,
		logger:   logger.Named("buffer"),
	}
}

// Add routes one record to the buffer of its kind.
func (b *Buffer) Add(rec model.Record) error {
	s, ok := b.slots[rec.Kind()]
	if !ok {
		return fmt.Errorf("unsupported record kind %s", rec.Kind())
	}
	s.mu.Lock()
	s.pending = append(s.pending, rec)
	s.mu.Unlock()
	metrics.ObserveRecords(rec.Kind().Table(), 1)
	return nil
}

// Len reports the buffered record count of kind.
func (b *Buffer) Len(kind model.Kind) int {
	s, ok := b.slots[kind]
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ShouldFlush reports whether the App buffer reached the batch size.
func (b *Buffer) ShouldFlush() bool {
	return b.Len(model.KindApp) >= b.cfg.AppBatchSize
}

// Flush appends every buffered record of kind to the store and clears the
// buffer. An empty buffer is a no-op. On failure the records stay buffered
// for the next flush.
func (b *Buffer) Flush(ctx context.Context, kind model.Kind) error {
	s, ok := b.slots[kind]
	if !ok {
		return fmt.Errorf("unsupported record kind %s", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}

	table := kind.Table()
	n := len(s.pending)
	start := b.clock.Now()
	err := b.store.Append(ctx, kind, s.pending)
	dur := b.clock.Now().Sub(start)
	metrics.ObserveFlush(table, err == nil, dur)

	evt := progress.Event{
		RunID:   b.cfg.RunID,
		TS:      b.clock.Now(),
		Stage:   progress.StageFlushDone,
		Table:   table,
		Records: int64(n),
		Dur:     dur,
	}
	if err != nil {
		evt.Stage = progress.StageFlushFailed
		evt.Note = err.Error()
		b.progress.Emit(evt)
		b.logger.Error("flush failed; records kept for retry",
			zap.String("table", table),
			zap.Int("records", n),
			zap.Error(err),
		)
		return fmt.Errorf("flush %s: %w", table, err)
	}
	s.pending = nil
	b.progress.Emit(evt)
	b.logger.Debug("flushed", zap.String("table", table), zap.Int("records", n), zap.Duration("took", dur))
	return nil
}

// FlushAll flushes every kind in parallel. A failing kind does not stop the
// others; the returned error joins every per-kind failure.
func (b *Buffer) FlushAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, kind := range model.Kinds() {
		g.Go(func() error {
			if err := b.Flush(ctx, kind); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Pending reports the buffered count of every non-empty kind, keyed by table.
func (b *Buffer) Pending() map[string]int {
	out := map[string]int{}
	for _, k := range model.Kinds() {
		if n := b.Len(k); n > 0 {
			out[k.Table()] = n
		}
	}
	return out
}
