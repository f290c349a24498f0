package crawler

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/appstore-crawler/internal/metrics"
)

// Client layers politeness, the allow-list, status classification and
// retries over a raw Fetcher.
type Client struct {
	fetcher    Fetcher
	retry      *ExponentialRetryPolicy
	statuses   StatusClassifier
	politeness *Politeness
	allow      *DomainAllowList
	pauser     pauseController
	logger     *zap.Logger
}

// ClientConfig groups Client collaborators.
type ClientConfig struct {
	Fetcher    Fetcher
	Retry      *ExponentialRetryPolicy
	Statuses   StatusClassifier
	Politeness *Politeness
	Allow      *DomainAllowList
	Logger     *zap.Logger
}

// NewClient builds a Client. Retry defaults to NewExponentialRetryPolicy(0, 0, 0).
func NewClient(cfg ClientConfig) *Client {
	if cfg.Retry == nil {
		cfg.Retry = NewExponentialRetryPolicy(0, 0, 0)
	}
	if cfg.Statuses.retryable == nil {
		cfg.Statuses = NewStatusClassifier(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		fetcher:    cfg.Fetcher,
		retry:      cfg.Retry,
		statuses:   cfg.Statuses,
		politeness: cfg.Politeness,
		allow:      cfg.Allow,
		pauser:     &timerPauseController{},
		logger:     cfg.Logger.Named("client"),
	}
}

// Get fetches url, retrying transient failures with backoff. The returned
// error is a *FetchError or the context error.
func (c *Client) Get(ctx context.Context, url string) (FetchResponse, error) {
	if !c.allow.Allows(url) {
		return FetchResponse{}, &FetchError{URL: url, Err: fmt.Errorf("host not in allowed domains")}
	}
	for attempt := 1; ; attempt++ {
		if c.politeness != nil {
			if err := c.politeness.Wait(ctx, url); err != nil {
				return FetchResponse{}, err
			}
		}
		resp, err := c.fetcher.Fetch(ctx, FetchRequest{URL: url})
		if err == nil {
			err = c.statuses.Check(resp)
			metrics.ObserveCrawl(url, statusLabel(resp.StatusCode), len(resp.Body))
		} else {
			err = ClassifyError(url, err)
			metrics.ObserveCrawl(url, "error", 0)
		}
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return FetchResponse{}, ctxErr
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return FetchResponse{}, err
		}
		delay := c.retry.Backoff(attempt - 1)
		metrics.ObserveRetry(url)
		c.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		c.pauser.Pause(ctx, delay)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return FetchResponse{}, ctxErr
		}
	}
}

func statusLabel(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code)
}
