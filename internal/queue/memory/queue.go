// Package memory provides the bounded in-process listing queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/appstore-crawler/internal/crawler"
)

// Queue is a bounded in-memory queue with context-aware operations. A full
// queue blocks Enqueue, which keeps discovery from running ahead of the workers.
type Queue struct {
	ch      chan crawler.ListingTask
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding up to capacity tasks. Capacities below
// one are raised to one.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan crawler.ListingTask, capacity),
	}
}

// Enqueue pushes a task or returns when the context ends. Enqueue on a closed
// queue returns crawler.ErrQueueClosed.
func (q *Queue) Enqueue(ctx context.Context, task crawler.ListingTask) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task. Once the queue is closed and empty it returns
// crawler.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (crawler.ListingTask, error) {
	select {
	case <-ctx.Done():
		return crawler.ListingTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return crawler.ListingTask{}, crawler.ErrQueueClosed
		}
		return task, nil
	}
}

// Len reports the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops intake; buffered tasks remain available to Dequeue.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
