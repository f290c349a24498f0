package crawler

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"
)

// VisitTracker provides thread-safe visited URL tracking to prevent revisits.
type VisitTracker interface {
	MarkIfNew(url string) bool
}

type concurrentVisitTracker struct {
	seen sync.Map
}

// NewVisitTracker returns an in-memory VisitTracker.
func NewVisitTracker() VisitTracker {
	return &concurrentVisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// pauseController abstracts how the crawler sleeps between requests.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Politeness spaces out requests: a random delay within [min, max] followed by
// the per-domain rate limiter, if any.
type Politeness struct {
	min     time.Duration
	max     time.Duration
	limiter RateLimiter
	pauser  pauseController
}

// NewPoliteness builds a Politeness. A nil limiter disables per-domain limits.
func NewPoliteness(minDelay, maxDelay time.Duration, limiter RateLimiter) *Politeness {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Politeness{
		min:     minDelay,
		max:     maxDelay,
		limiter: limiter,
		pauser:  &timerPauseController{},
	}
}

// Wait blocks for the politeness delay. It returns ctx.Err() if the context
// ends first.
func (p *Politeness) Wait(ctx context.Context, url string) error {
	if p == nil {
		return ctx.Err()
	}
	p.pauser.Pause(ctx, p.Delay())
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, url); err != nil {
			return err
		}
	}
	return nil
}

// Delay draws one delay from the configured window.
func (p *Politeness) Delay() time.Duration {
	span := p.max - p.min
	if span <= 0 {
		return p.min
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
	if err != nil {
		return p.min + span/2
	}
	return p.min + time.Duration(n.Int64())
}
