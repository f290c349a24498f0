package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	mu        sync.Mutex
	responses []FetchResponse
	errs      []error
	calls     int
}

func (s *scriptedFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return FetchResponse{}, s.errs[i]
	}
	if i < len(s.responses) {
		resp := s.responses[i]
		resp.URL = req.URL
		return resp, nil
	}
	return FetchResponse{URL: req.URL, StatusCode: http.StatusOK}, nil
}

func fastClient(f Fetcher, attempts int, allow []string) *Client {
	return NewClient(ClientConfig{
		Fetcher: f,
		Retry:   NewExponentialRetryPolicy(attempts, time.Millisecond, 2*time.Millisecond),
		Allow:   NewDomainAllowList(allow),
	})
}

func TestClientRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{responses: []FetchResponse{
		{StatusCode: http.StatusTooManyRequests},
		{StatusCode: http.StatusServiceUnavailable},
		{StatusCode: http.StatusOK, Body: []byte("ok")},
	}}
	c := fastClient(f, 4, nil)

	resp, err := c.Get(context.Background(), "https://apps.example.com/acme")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, 3, f.calls)
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{responses: []FetchResponse{
		{StatusCode: http.StatusBadGateway},
		{StatusCode: http.StatusBadGateway},
		{StatusCode: http.StatusBadGateway},
	}}
	c := fastClient(f, 2, nil)

	_, err := c.Get(context.Background(), "https://apps.example.com/acme")
	require.ErrorIs(t, err, ErrTransient)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	assert.Equal(t, 2, f.calls)
}

func TestClientDoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{responses: []FetchResponse{{StatusCode: http.StatusNotFound}}}
	c := fastClient(f, 5, nil)

	_, err := c.Get(context.Background(), "https://apps.example.com/gone")
	require.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, f.calls)
}

func TestClientRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{errs: []error{errors.New("connection reset")}}
	c := fastClient(f, 3, nil)

	_, err := c.Get(context.Background(), "https://apps.example.com/acme")
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func TestClientRetriesRequestTimeout(t *testing.T) {
	t.Parallel()

	timeout := fmt.Errorf("colly visit failed: %w", context.DeadlineExceeded)
	f := &scriptedFetcher{errs: []error{timeout, timeout}}
	c := fastClient(f, 4, nil)

	resp, err := c.Get(context.Background(), "https://apps.example.com/slow")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, f.calls)
}

func TestClientRejectsForeignHost(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{}
	c := fastClient(f, 3, []string{"apps.example.com"})

	_, err := c.Get(context.Background(), "https://other.example/acme")
	require.ErrorIs(t, err, ErrPermanent)
	assert.Zero(t, f.calls)
}

func TestClientStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{responses: []FetchResponse{{StatusCode: http.StatusServiceUnavailable}}}
	c := NewClient(ClientConfig{
		Fetcher: f,
		Retry:   NewExponentialRetryPolicy(10, time.Hour, time.Hour),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, "https://apps.example.com/acme")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.calls)
}
