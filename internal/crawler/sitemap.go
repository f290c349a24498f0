package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"
)

const maxSitemapDepth = 3

// ParseSitemap reads a urlset or sitemapindex document.
func ParseSitemap(body []byte) (Sitemap, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return Sitemap{}, fmt.Errorf("parse sitemap: %w", err)
	}

	var out Sitemap
	children, err := xmlquery.QueryAll(doc, "//sitemapindex/sitemap/loc")
	if err != nil {
		return Sitemap{}, fmt.Errorf("query sitemapindex: %w", err)
	}
	for _, n := range children {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			out.Children = append(out.Children, loc)
		}
	}
	if len(out.Children) > 0 {
		return out, nil
	}

	urls, err := xmlquery.QueryAll(doc, "//urlset/url")
	if err != nil {
		return Sitemap{}, fmt.Errorf("query urlset: %w", err)
	}
	for _, n := range urls {
		entry := SitemapEntry{}
		if loc := xmlquery.FindOne(n, "loc"); loc != nil {
			entry.Loc = strings.TrimSpace(loc.InnerText())
		}
		if lm := xmlquery.FindOne(n, "lastmod"); lm != nil {
			entry.LastMod = strings.TrimSpace(lm.InnerText())
		}
		if entry.Loc != "" {
			out.URLs = append(out.URLs, entry)
		}
	}
	return out, nil
}

// Getter fetches a URL and returns a usable response or a classified error.
type Getter interface {
	Get(ctx context.Context, url string) (FetchResponse, error)
}

// Discoverer walks sitemaps and returns listing-page entries.
type Discoverer struct {
	getter Getter
	filter *ListingFilter
	allow  *DomainAllowList
	logger *zap.Logger
}

// NewDiscoverer builds a Discoverer. A nil filter or allow list accepts everything.
func NewDiscoverer(getter Getter, filter *ListingFilter, allow *DomainAllowList, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{getter: getter, filter: filter, allow: allow, logger: logger.Named("sitemap")}
}

// Discover expands every root sitemap, following sitemap indexes, and returns
// the deduplicated listing entries in document order. It fails only when no
// root could be read at all.
func (d *Discoverer) Discover(ctx context.Context, roots []string) ([]SitemapEntry, error) {
	var (
		out       []SitemapEntry
		seen      = NewVisitTracker()
		seenMaps  = NewVisitTracker()
		rootErrs  []error
		rootReads int
	)
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		entries, err := d.walk(ctx, root, 0, seenMaps)
		if err != nil {
			rootErrs = append(rootErrs, err)
			d.logger.Warn("sitemap unavailable", zap.String("url", root), zap.Error(err))
			continue
		}
		rootReads++
		for _, e := range entries {
			norm, err := NormalizeURL(e.Loc)
			if err != nil {
				continue
			}
			if !d.allow.Allows(norm) || !d.filter.Match(norm) {
				continue
			}
			if seen.MarkIfNew(norm) {
				e.Loc = norm
				out = append(out, e)
			}
		}
	}
	if rootReads == 0 && len(rootErrs) > 0 {
		return nil, fmt.Errorf("discover listings: %w", errors.Join(rootErrs...))
	}
	d.logger.Info("sitemap discovery complete", zap.Int("listings", len(out)))
	return out, nil
}

func (d *Discoverer) walk(ctx context.Context, sitemapURL string, depth int, seen VisitTracker) ([]SitemapEntry, error) {
	if !seen.MarkIfNew(sitemapURL) {
		return nil, nil
	}
	resp, err := d.getter.Get(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	sm, err := ParseSitemap(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(sm.Children) == 0 {
		return sm.URLs, nil
	}
	if depth >= maxSitemapDepth {
		d.logger.Warn("sitemap index nesting too deep", zap.String("url", sitemapURL))
		return nil, nil
	}
	var out []SitemapEntry
	for _, child := range sm.Children {
		entries, err := d.walk(ctx, child, depth+1, seen)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			d.logger.Warn("child sitemap unavailable", zap.String("url", child), zap.Error(err))
			continue
		}
		out = append(out, entries...)
	}
	return out, nil
}
