package crawler

import (
	"context"
	"errors"
)

// ErrQueueClosed is returned by Dequeue once a closed queue has drained.
var ErrQueueClosed = errors.New("queue closed")

// ListingTask is one discovered App listing waiting to be crawled.
type ListingTask struct {
	URL     string
	LastMod string
}

// Queue hands listing tasks from discovery to the workers.
type Queue interface {
	Enqueue(ctx context.Context, task ListingTask) error
	Dequeue(ctx context.Context) (ListingTask, error)
}
