package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gocolly/colly/v2"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, throttling, 5xx.
	ErrTransient = errors.New("transient fetch error")
	// ErrPermanent marks failures that will not improve on retry.
	ErrPermanent = errors.New("permanent fetch error")
)

// FetchError describes a failed fetch. errors.Is matches ErrTransient or
// ErrPermanent according to Transient.
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch error for %s: status %d", kind, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s fetch error for %s: %v", kind, e.URL, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error { return e.Err }

// Is reports the transient/permanent class.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Transient
	case ErrPermanent:
		return !e.Transient
	}
	return false
}

// StatusClassifier maps HTTP statuses to retry classes.
type StatusClassifier struct {
	retryable map[int]struct{}
}

// DefaultRetryStatusCodes are retried unless configuration says otherwise.
var DefaultRetryStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
	522,
	524,
}

// NewStatusClassifier builds a classifier; nil codes selects the defaults.
func NewStatusClassifier(codes []int) StatusClassifier {
	if codes == nil {
		codes = DefaultRetryStatusCodes
	}
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return StatusClassifier{retryable: set}
}

// Check returns nil for a usable 2xx response, otherwise a *FetchError.
func (c StatusClassifier) Check(resp FetchResponse) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	_, transient := c.retryable[resp.StatusCode]
	return &FetchError{
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Transient:  transient,
		Err:        fmt.Errorf("http status %d", resp.StatusCode),
	}
}

// ClassifyError wraps a transport-level error. Timeouts and connection
// failures are transient; domain and robots refusals are permanent.
// Cancellation is returned unchanged. A request timeout arrives as
// context.DeadlineExceeded and is transient; callers check their own
// context to tell it apart from an expired run.
func ClassifyError(url string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	transient := true
	switch {
	case errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrRobotsTxtBlocked),
		errors.Is(err, colly.ErrMissingURL),
		errors.Is(err, colly.ErrForbiddenURL),
		errors.Is(err, colly.ErrNoURLFiltersMatch),
		errors.Is(err, colly.ErrMaxDepth):
		transient = false
	}
	return &FetchError{URL: url, Transient: transient, Err: err}
}
