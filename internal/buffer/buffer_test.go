package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/progress"
	"github.com/JakeFAU/appstore-crawler/internal/storage"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    map[model.Kind][]model.Record
	fail    map[model.Kind]error
	calls   int
	block   chan struct{}
	entered chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[model.Kind][]model.Record{}, fail: map[model.Kind]error{}}
}

func (f *fakeStore) Append(_ context.Context, kind model.Kind, records []model.Record) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[kind]; err != nil {
		return err
	}
	f.rows[kind] = append(f.rows[kind], records...)
	return nil
}

func (f *fakeStore) Reconcile(context.Context) (storage.ReconcileResult, error) {
	return storage.ReconcileResult{}, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) setFail(kind model.Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[kind] = err
}

func (f *fakeStore) count(kind model.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[kind])
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Emit(evt progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) stages() map[progress.Stage]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[progress.Stage]int{}
	for _, e := range l.events {
		out[e.Stage]++
	}
	return out
}

var runID = [16]byte{1}

func TestShouldFlushAtAppBatchSize(t *testing.T) {
	t.Parallel()
	b := New(Deps{Store: newFakeStore()}, Config{AppBatchSize: 2}, nil)

	require.NoError(t, b.Add(model.App{ID: "a1"}))
	require.NoError(t, b.Add(model.Review{AppID: "a1"}))
	require.NoError(t, b.Add(model.Review{AppID: "a1"}))
	assert.False(t, b.ShouldFlush())
	require.NoError(t, b.Add(model.App{ID: "a2"}))
	assert.True(t, b.ShouldFlush())
	assert.Equal(t, map[string]int{"apps": 2, "reviews": 2}, b.Pending())
}

func TestFlushEmptyIsNoop(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	events := &eventLog{}
	b := New(Deps{Store: store, Progress: events}, Config{RunID: runID}, nil)

	require.NoError(t, b.Flush(context.Background(), model.KindApp))
	require.NoError(t, b.FlushAll(context.Background()))
	assert.Zero(t, store.calls)
	assert.Empty(t, events.stages())
}

func TestFlushAllKeepsFailedKindAndFlushesOthers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	events := &eventLog{}
	b := New(Deps{Store: store, Progress: events}, Config{RunID: runID}, nil)

	require.NoError(t, b.Add(model.App{ID: "a1"}))
	require.NoError(t, b.Add(model.Category{ID: "c1"}))
	require.NoError(t, b.Add(model.Review{AppID: "a1", Body: "x"}))
	store.setFail(model.KindReview, errors.New("disk full"))

	err := b.FlushAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush reviews")

	assert.Equal(t, 1, store.count(model.KindApp))
	assert.Equal(t, 1, store.count(model.KindCategory))
	assert.Zero(t, b.Len(model.KindApp))
	assert.Equal(t, 1, b.Len(model.KindReview))
	assert.Equal(t, 2, events.stages()[progress.StageFlushDone])
	assert.Equal(t, 1, events.stages()[progress.StageFlushFailed])

	// The retained review lands on the next flush once the store recovers.
	store.setFail(model.KindReview, nil)
	require.NoError(t, b.FlushAll(ctx))
	assert.Equal(t, 1, store.count(model.KindReview))
	assert.Zero(t, b.Len(model.KindReview))
}

func TestFlushEventsAreValid(t *testing.T) {
	t.Parallel()
	events := &eventLog{}
	b := New(Deps{Store: newFakeStore(), Progress: events}, Config{RunID: runID}, nil)

	require.NoError(t, b.Add(model.KeyBenefit{AppID: "a1", Description: "fast"}))
	require.NoError(t, b.Flush(context.Background(), model.KindKeyBenefit))

	require.Len(t, events.events, 1)
	evt := events.events[0]
	require.NoError(t, evt.Validate())
	assert.Equal(t, "key_benefits", evt.Table)
	assert.Equal(t, int64(1), evt.Records)
}

func TestAddWaitsForInFlightFlushOfSameKind(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.block = make(chan struct{})
	store.entered = make(chan struct{}, 8)
	b := New(Deps{Store: store}, Config{}, nil)
	require.NoError(t, b.Add(model.App{ID: "a1"}))

	flushed := make(chan error, 1)
	go func() { flushed <- b.Flush(context.Background(), model.KindApp) }()
	<-store.entered

	added := make(chan struct{})
	go func() {
		_ = b.Add(model.App{ID: "a2"})
		close(added)
	}()

	select {
	case <-added:
		t.Fatal("append interleaved with an in-flight flush")
	case <-time.After(50 * time.Millisecond):
	}

	// Other kinds are not blocked by the App flush.
	require.NoError(t, b.Add(model.Review{AppID: "a1"}))

	close(store.block)
	require.NoError(t, <-flushed)
	<-added
	assert.Equal(t, 1, store.count(model.KindApp))
	assert.Equal(t, 1, b.Len(model.KindApp))
}
