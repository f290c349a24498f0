package progress

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Snapshot is the aggregate view of the current or most recent run.
type Snapshot struct {
	RunID         string           `json:"run_id,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	Running       bool             `json:"running"`
	Listings      int64            `json:"listings"`
	ReviewPages   int64            `json:"review_pages"`
	Reviews       int64            `json:"reviews"`
	Bytes         int64            `json:"bytes"`
	FetchFailures int64            `json:"fetch_failures"`
	FlushFailures int64            `json:"flush_failures"`
	FlushedRows   map[string]int64 `json:"flushed_rows"`
	LastError     string           `json:"last_error,omitempty"`
}

// Tracker is a Sink that folds events into a Snapshot.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{FlushedRows: map[string]int64{}}}
}

// Consume applies each event in order.
func (t *Tracker) Consume(_ context.Context, batch []Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		t.apply(evt)
	}
	return nil
}

func (t *Tracker) apply(evt Event) {
	s := &t.snap
	switch evt.Stage {
	case StageRunStart:
		ts := evt.TS
		*s = Snapshot{
			RunID:       evt.RunUUID().String(),
			StartedAt:   &ts,
			Running:     true,
			FlushedRows: map[string]int64{},
		}
	case StageRunDone:
		ts := evt.TS
		s.FinishedAt = &ts
		s.Running = false
	case StageListingDone:
		s.Listings++
		s.Bytes += evt.Bytes
	case StageReviewsPageDone:
		s.ReviewPages++
		s.Reviews += evt.Records
		s.Bytes += evt.Bytes
	case StageFetchFailed:
		s.FetchFailures++
		s.LastError = evt.Note
	case StageFlushDone:
		s.FlushedRows[evt.Table] += evt.Records
	case StageFlushFailed:
		s.FlushFailures++
		s.LastError = evt.Note
	}
}

// Snapshot returns a copy of the current aggregate.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.snap
	out.FlushedRows = maps.Clone(t.snap.FlushedRows)
	return out
}

// Close implements Sink.
func (t *Tracker) Close(context.Context) error {
	return nil
}
