// Package analysis reads a finished store and reports low-rated reviews per
// App and Category.
package analysis

import (
	"context"
	"fmt"
	"sort"

	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/storage"
)

// DefaultThreshold is the rating below which a review counts as low.
const DefaultThreshold = 3

// Context holds every table loaded from a store. Build it with Load; it does
// not touch the store afterwards.
type Context struct {
	apps       map[string]model.App
	categories map[string]model.Category
	appCats    map[string][]string
	reviews    []model.Review
}

// Finding is one low-rated review joined with its App and Categories.
type Finding struct {
	AppID      string       `json:"app_id"`
	AppTitle   string       `json:"app_title"`
	SourceURL  string       `json:"source_url"`
	Categories []string     `json:"categories"`
	Review     model.Review `json:"review"`
}

// CategoryCount is the low-rated review count of one category.
type CategoryCount struct {
	Category string `json:"category"`
	Reviews  int    `json:"reviews"`
}

// Report summarizes a store.
type Report struct {
	Apps       int             `json:"apps"`
	Reviews    int             `json:"reviews"`
	Categories int             `json:"categories"`
	Threshold  int             `json:"threshold"`
	LowRated   []Finding       `json:"low_rated"`
	ByCategory []CategoryCount `json:"by_category"`
}

// Load reads the apps, categories, links and reviews tables.
func Load(ctx context.Context, reader storage.Reader) (*Context, error) {
	c := &Context{
		apps:       map[string]model.App{},
		categories: map[string]model.Category{},
		appCats:    map[string][]string{},
	}
	for _, kind := range []model.Kind{model.KindApp, model.KindCategory, model.KindAppCategory, model.KindReview} {
		records, err := reader.Load(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", kind.Table(), err)
		}
		for _, rec := range records {
			switch r := rec.(type) {
			case model.App:
				c.apps[r.ID] = r
			case model.Category:
				c.categories[r.ID] = r
			case model.AppCategory:
				c.appCats[r.AppID] = append(c.appCats[r.AppID], r.CategoryID)
			case model.Review:
				c.reviews = append(c.reviews, r)
			}
		}
	}
	return c, nil
}

// LowRated returns the rated reviews below threshold whose App is known,
// ordered by App title then posted date.
func (c *Context) LowRated(threshold int) []Finding {
	var out []Finding
	for _, r := range c.reviews {
		if r.Rating == nil || *r.Rating >= threshold {
			continue
		}
		app, ok := c.apps[r.AppID]
		if !ok {
			continue
		}
		out = append(out, Finding{
			AppID:      app.ID,
			AppTitle:   app.Title,
			SourceURL:  app.SourceURL,
			Categories: c.categoryTitles(app.ID),
			Review:     r,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AppTitle != out[j].AppTitle {
			return out[i].AppTitle < out[j].AppTitle
		}
		a, b := out[i].Review.PostedAt, out[j].Review.PostedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return out
}

// Report builds the low-rated review report.
func (c *Context) Report(threshold int) Report {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	low := c.LowRated(threshold)
	counts := map[string]int{}
	for _, f := range low {
		for _, cat := range f.Categories {
			counts[cat]++
		}
	}
	byCat := make([]CategoryCount, 0, len(counts))
	for cat, n := range counts {
		byCat = append(byCat, CategoryCount{Category: cat, Reviews: n})
	}
	sort.Slice(byCat, func(i, j int) bool {
		if byCat[i].Reviews != byCat[j].Reviews {
			return byCat[i].Reviews > byCat[j].Reviews
		}
		return byCat[i].Category < byCat[j].Category
	})
	return Report{
		Apps:       len(c.apps),
		Reviews:    len(c.reviews),
		Categories: len(c.categories),
		Threshold:  threshold,
		LowRated:   low,
		ByCategory: byCat,
	}
}

func (c *Context) categoryTitles(appID string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range c.appCats[appID] {
		cat, ok := c.categories[id]
		if !ok || seen[cat.Title] {
			continue
		}
		seen[cat.Title] = true
		out = append(out, cat.Title)
	}
	sort.Strings(out)
	return out
}
