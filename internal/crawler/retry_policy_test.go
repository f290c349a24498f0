package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)
	transient := &FetchError{URL: "u", StatusCode: 503, Transient: true}
	permanent := &FetchError{URL: "u", StatusCode: 404}

	assert.False(t, p.ShouldRetry(nil, 1))
	assert.True(t, p.ShouldRetry(transient, 1))
	assert.True(t, p.ShouldRetry(fmt.Errorf("wrapped: %w", transient), 2))
	assert.False(t, p.ShouldRetry(transient, 3), "attempt cap reached")
	assert.False(t, p.ShouldRetry(permanent, 1))
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	timeout := &FetchError{URL: "u", Transient: true, Err: context.DeadlineExceeded}
	assert.True(t, p.ShouldRetry(timeout, 1))
	assert.False(t, p.ShouldRetry(errors.New("unclassified"), 1))
	assert.Equal(t, 3, p.MaxAttempts())
}

func TestRetryPolicyBackoffIsCapped(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		assert.LessOrEqual(t, d, 400*time.Millisecond, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond, "attempt %d", attempt)
	}
	// The floor grows with the attempt until the ceiling.
	assert.GreaterOrEqual(t, p.Backoff(3), 200*time.Millisecond)
}

func TestRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(0, 0, 0)
	assert.Equal(t, 4, p.MaxAttempts())
	assert.LessOrEqual(t, p.Backoff(20), 30*time.Second)
}

func TestRetryPolicyCeilingNeverBelowBase(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Minute, time.Second)
	for attempt := 0; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 30*time.Second, "attempt %d", attempt)
		assert.LessOrEqual(t, d, time.Minute, "attempt %d", attempt)
	}

	slow := NewExponentialRetryPolicy(3, time.Minute, 0)
	assert.LessOrEqual(t, slow.Backoff(10), time.Minute)
	assert.GreaterOrEqual(t, slow.Backoff(10), 30*time.Second)
}
