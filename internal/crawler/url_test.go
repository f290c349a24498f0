package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTPS://Apps.Shopify.com:443/acme#reviews": "https://apps.shopify.com/acme",
		"http://example.com:80/a?b=2&a=1":           "http://example.com/a?a=1&b=2",
		" https://apps.shopify.com/acme ":           "https://apps.shopify.com/acme",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeURL("http://%zz")
	assert.Error(t, err)
}

func TestListingFilter(t *testing.T) {
	t.Parallel()

	f, err := NewListingFilter(`^https://apps\.shopify\.com/([^/?#]+)$`)
	require.NoError(t, err)
	assert.True(t, f.Match("https://apps.shopify.com/acme-tool"))
	assert.False(t, f.Match("https://apps.shopify.com/acme-tool/reviews"))
	assert.False(t, f.Match("https://apps.shopify.com/categories/marketing"))
	assert.False(t, f.Match("https://apps.shopify.com/"))

	var none *ListingFilter
	assert.True(t, none.Match("anything"))

	_, err = NewListingFilter("(")
	assert.Error(t, err)
}
