package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/appstore-crawler/internal/progress"
)

// PrometheusSink exports run-level progress via Prometheus. It owns the
// collectors for runs started/completed/running and per-site listing and
// reviews counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runsRunning   prometheus.Gauge
	runDuration   prometheus.Histogram

	listings      *prometheus.CounterVec
	reviewPages   *prometheus.CounterVec
	reviews       *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	flushedRows   *prometheus.CounterVec
	flushFailures *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_completed_total",
			Help: "Crawl runs that have finished.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_runs_running",
			Help: "Crawl runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_run_duration_seconds",
			Help:    "Wall time per finished crawl run.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
		}),
		listings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_listings_extracted_total",
			Help: "App listings fetched and extracted, per site.",
		}, []string{"site"}),
		reviewPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_review_pages_total",
			Help: "Reviews pages fetched and extracted, per site.",
		}, []string{"site"}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_reviews_extracted_total",
			Help: "Review records extracted, per site.",
		}, []string{"site"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_progress_fetch_failures_total",
			Help: "Abandoned fetches per site and status class.",
		}, []string{"site", "status_class"}),
		flushedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_rows_flushed_total",
			Help: "Rows appended to the store, per table.",
		}, []string{"table"}),
		flushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_flush_failures_total",
			Help: "Failed flushes per table.",
		}, []string{"table"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.listings,
		s.reviewPages,
		s.reviews,
		s.fetchFailures,
		s.flushedRows,
		s.flushFailures,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageListingDone:
		s.listings.WithLabelValues(site).Inc()
	case progress.StageReviewsPageDone:
		s.reviewPages.WithLabelValues(site).Inc()
		if evt.Records > 0 {
			s.reviews.WithLabelValues(site).Add(float64(evt.Records))
		}
	case progress.StageFetchFailed:
		class := string(evt.StatusClass)
		if class == "" {
			class = string(progress.StatusOther)
		}
		s.fetchFailures.WithLabelValues(site, class).Inc()
	case progress.StageFlushDone:
		s.flushedRows.WithLabelValues(evt.Table).Add(float64(evt.Records))
	case progress.StageFlushFailed:
		s.flushFailures.WithLabelValues(evt.Table).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
