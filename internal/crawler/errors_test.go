package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClassifier(t *testing.T) {
	t.Parallel()

	c := NewStatusClassifier(nil)
	require.NoError(t, c.Check(FetchResponse{StatusCode: http.StatusOK}))

	for _, code := range DefaultRetryStatusCodes {
		err := c.Check(FetchResponse{URL: "https://a", StatusCode: code})
		assert.ErrorIs(t, err, ErrTransient, "status %d", code)
	}
	for _, code := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusGone} {
		err := c.Check(FetchResponse{URL: "https://a", StatusCode: code})
		assert.ErrorIs(t, err, ErrPermanent, "status %d", code)
		assert.NotErrorIs(t, err, ErrTransient)
	}

	custom := NewStatusClassifier([]int{http.StatusNotFound})
	assert.ErrorIs(t, custom.Check(FetchResponse{StatusCode: http.StatusNotFound}), ErrTransient)
	assert.ErrorIs(t, custom.Check(FetchResponse{StatusCode: http.StatusServiceUnavailable}), ErrPermanent)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ClassifyError("u", nil))
	assert.ErrorIs(t, ClassifyError("u", colly.ErrForbiddenDomain), ErrPermanent)
	assert.ErrorIs(t, ClassifyError("u", colly.ErrRobotsTxtBlocked), ErrPermanent)
	assert.ErrorIs(t, ClassifyError("u", errors.New("connection reset")), ErrTransient)
	assert.ErrorIs(t, ClassifyError("u", colly.ErrNoURLFiltersMatch), ErrPermanent)
	assert.Equal(t, context.Canceled, ClassifyError("u", context.Canceled))

	timeout := ClassifyError("u", fmt.Errorf("colly visit failed: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, timeout, ErrTransient)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)

	already := &FetchError{URL: "u", StatusCode: 404}
	assert.Same(t, already, ClassifyError("u", already))

	var fe *FetchError
	require.ErrorAs(t, ClassifyError("https://x", errors.New("boom")), &fe)
	assert.Equal(t, "https://x", fe.URL)
	assert.Contains(t, fe.Error(), "transient")
}
