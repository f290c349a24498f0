// Package app builds the long-lived services of the crawler from a Config and
// owns their shutdown. Commands obtain stores, the exporter and a ready-to-run
// pipeline from an App.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/appstore-crawler/internal/api"
	"github.com/JakeFAU/appstore-crawler/internal/buffer"
	"github.com/JakeFAU/appstore-crawler/internal/clock/system"
	"github.com/JakeFAU/appstore-crawler/internal/config"
	"github.com/JakeFAU/appstore-crawler/internal/crawler"
	"github.com/JakeFAU/appstore-crawler/internal/export"
	collyfetcher "github.com/JakeFAU/appstore-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/appstore-crawler/internal/id/uuid"
	"github.com/JakeFAU/appstore-crawler/internal/logging"
	"github.com/JakeFAU/appstore-crawler/internal/metrics"
	"github.com/JakeFAU/appstore-crawler/internal/pipeline"
	"github.com/JakeFAU/appstore-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/appstore-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/appstore-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/appstore-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/appstore-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/appstore-crawler/internal/scheduler"
	"github.com/JakeFAU/appstore-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/appstore-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/appstore-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/appstore-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/appstore-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/appstore-crawler/internal/storage/sqlite"
)

// Publisher delivers run notifications and releases its client on Close.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// Options override pieces Build would otherwise create.
type Options struct {
	// Logger replaces the logger built from cfg.Logging.
	Logger *zap.Logger
	// Registerer receives the progress collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Blobs replaces the export backend selected by cfg.Export.
	Blobs storage.BlobStore
	// Publisher replaces the notification publisher selected by cfg.PubSub.
	Publisher Publisher
}

// App holds the shared services of one process.
type App struct {
	cfg       config.Config
	opts      Options
	logger    *zap.Logger
	store     storage.ReadStore
	blobs     storage.BlobStore
	publisher Publisher
	hub       *progress.Hub
	tracker   *progress.Tracker
	closers   []namedCloser
	closed    atomic.Bool
}

type namedCloser struct {
	name string
	fn   func(context.Context) error
}

// Build creates the logger, the record store, the publisher and the progress
// hub. The export backend is opened on first use.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	a := &App{cfg: cfg, opts: opts, logger: logger}
	metrics.Init()

	if err := a.setupStore(ctx); err != nil {
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}
	if err := a.setupProgress(); err != nil {
		a.closeQuietly()
		return nil, err
	}
	a.logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("export", cfg.Export.Backend),
		zap.Bool("progress", a.hub != nil),
	)
	return a, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Store returns the record store.
func (a *App) Store() storage.ReadStore {
	return a.store
}

// Publisher returns the run notification publisher.
func (a *App) Publisher() Publisher {
	return a.publisher
}

// Progress returns the event emitter; progress.Nop when tracking is disabled.
func (a *App) Progress() progress.Emitter {
	if a.hub == nil {
		return progress.Nop
	}
	return a.hub
}

// Tracker returns the live run aggregate, or nil when tracking is disabled.
func (a *App) Tracker() *progress.Tracker {
	return a.tracker
}

// Ready reports whether the App can still serve work.
func (a *App) Ready(context.Context) error {
	if a.closed.Load() {
		return errors.New("application is shutting down")
	}
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	sc := a.cfg.Store
	switch sc.Driver {
	case "sqlite":
		st, err := sqlitestore.Open(ctx, sqlitestore.Config{
			Path:         sc.Path,
			PruneOrphans: sc.PruneOrphans,
			Logger:       a.logger,
		})
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = st
		a.logger.Debug("sqlite store opened", zap.String("path", sc.Path))
	case "postgres":
		st, err := pgstore.New(ctx, pgstore.Config{
			DSN:          sc.DSN,
			MaxConns:     sc.MaxConns,
			PruneOrphans: sc.PruneOrphans,
			Logger:       a.logger,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = st
		a.logger.Debug("postgres store connected", zap.Int32("max_conns", sc.MaxConns))
	case "memory":
		a.store = memorystorage.NewRecordStore(sc.PruneOrphans)
		a.logger.Warn("using in-memory record store; records are lost on exit")
	default:
		return fmt.Errorf("unknown store driver: %s", sc.Driver)
	}
	st := a.store
	a.addCloser("store", func(context.Context) error { return st.Close() })
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.opts.Publisher != nil {
		a.publisher = a.opts.Publisher
		return nil
	}
	ps := a.cfg.PubSub
	if ps.TopicName == "" || ps.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New(a.logger.Named("publisher"))
		return nil
	}
	pub, err := gcppublisher.Open(ctx, gcppublisher.Config{ProjectID: ps.ProjectID, TopicName: ps.TopicName})
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.addCloser("publisher", func(context.Context) error { return pub.Close() })
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return nil
}

func (a *App) setupProgress() error {
	pc := a.cfg.Progress
	if !pc.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil
	}
	a.tracker = progress.NewTracker()
	sinkList := []progress.Sink{a.tracker}
	if pc.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	reg := a.opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	hubCfg := progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.MaxBatchEvents,
		MaxBatchWait:   pc.MaxBatchWait,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.addCloser("progress hub", a.hub.Close)
	a.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

// Blobs returns the export backend, opening it on first use.
func (a *App) Blobs(ctx context.Context) (storage.BlobStore, error) {
	if a.blobs != nil {
		return a.blobs, nil
	}
	if a.opts.Blobs != nil {
		a.blobs = a.opts.Blobs
		return a.blobs, nil
	}
	ec := a.cfg.Export
	switch ec.Backend {
	case "gcs":
		bs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: ec.Bucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return bs.Close() })
		a.blobs = bs
		a.logger.Debug("GCS export backend", zap.String("bucket", ec.Bucket))
	case "local":
		bs, err := localstorage.New(localstorage.Config{BaseDir: ec.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = bs
		a.logger.Debug("local export backend", zap.String("path", ec.BaseDir))
	case "memory":
		a.blobs = memorystorage.NewBlobStore()
	default:
		return nil, fmt.Errorf("unknown export backend: %s", ec.Backend)
	}
	return a.blobs, nil
}

// Exporter returns an exporter from the record store to the export backend.
func (a *App) Exporter(ctx context.Context) (*export.Exporter, error) {
	blobs, err := a.Blobs(ctx)
	if err != nil {
		return nil, err
	}
	return export.New(a.store, blobs, a.cfg.Export.Prefix, a.logger), nil
}

// CrawlOptions narrow a single run.
type CrawlOptions struct {
	// Listings, when set, skips sitemap discovery.
	Listings []string
	// MaxApps overrides crawler.max_apps when positive.
	MaxApps int
}

// NewPipeline wires the fetch stack, the scheduler and the buffer of one run.
func (a *App) NewPipeline(opts CrawlOptions) (*pipeline.Pipeline, error) {
	cc := a.cfg.Crawler
	runID, err := uuid.New().NewRunID()
	if err != nil {
		return nil, err
	}
	runBytes := progress.UUIDToBytes(runID)
	clock := system.New()
	logger := a.logger.With(zap.String("run_id", runID.String()))

	filter, err := crawler.NewListingFilter(cc.ListingPattern)
	if err != nil {
		return nil, fmt.Errorf("listing filter: %w", err)
	}
	allow := crawler.NewDomainAllowList(cc.AllowedDomains)
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cc.UserAgent,
		RespectRobots: cc.RespectRobots,
		Timeout:       cc.RequestTimeout,
		Allow:         allow,
	})
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cc.RateLimitPerDomain, DefaultBurst: 1})
	client := crawler.NewClient(crawler.ClientConfig{
		Fetcher:    fetcher,
		Retry:      crawler.NewExponentialRetryPolicy(cc.MaxAttempts, cc.BackoffBase, cc.BackoffMax),
		Statuses:   crawler.NewStatusClassifier(cc.RetryStatusCodes),
		Politeness: crawler.NewPoliteness(cc.DelayMin, cc.DelayMax, limiter),
		Allow:      allow,
		Logger:     logger,
	})

	maxApps := cc.MaxApps
	if opts.MaxApps > 0 {
		maxApps = opts.MaxApps
	}
	sched := scheduler.New(scheduler.Deps{
		Discoverer: crawler.NewDiscoverer(client, filter, allow, logger),
		Client:     client,
		IDs:        uuid.New(),
		Clock:      clock,
		Progress:   a.Progress(),
	}, scheduler.Config{
		SitemapURLs:   cc.SitemapURLs,
		Listings:      opts.Listings,
		Concurrency:   cc.Concurrency,
		QueueDepth:    cc.QueueDepth,
		MaxApps:       maxApps,
		ReviewPageCap: cc.ReviewPageCap,
		RunID:         runBytes,
	}, logger)

	buf := buffer.New(buffer.Deps{
		Store:    a.store,
		Progress: a.Progress(),
		Clock:    clock,
	}, buffer.Config{
		AppBatchSize: a.cfg.Buffer.AppBatchSize,
		RunID:        runBytes,
	}, logger)

	return pipeline.New(pipeline.Deps{
		Crawler:   sched,
		Buffer:    buf,
		Store:     a.store,
		Progress:  a.Progress(),
		Publisher: a.publisher,
		Clock:     clock,
	}, pipeline.Config{RunID: runID}, logger)
}

// StartServer starts the admin HTTP server when server.port is positive. The
// returned func stops it; it is a no-op when the server is disabled.
func (a *App) StartServer(onFailure func()) func(context.Context) error {
	if a.cfg.Server.Port <= 0 {
		return func(context.Context) error { return nil }
	}
	var source api.SnapshotSource
	if a.tracker != nil {
		source = a.tracker
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           api.NewServer(source, a.Ready, a.logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			if onFailure != nil {
				onFailure()
			}
		}
	}()
	return func(ctx context.Context) error {
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

// Close releases every service in reverse creation order. It is safe to call
// more than once.
func (a *App) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) closeQuietly() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Close(ctx)
}
