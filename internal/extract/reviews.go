package extract

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/appstore-crawler/internal/model"
)

// ReviewsResult holds one reviews page worth of records and the next page to
// fetch. NextURL is empty when pagination ends.
type ReviewsResult struct {
	Reviews []model.Review
	NextURL string
}

// Records flattens the reviews for routing.
func (r ReviewsResult) Records() []model.Record {
	out := make([]model.Record, 0, len(r.Reviews))
	for _, v := range r.Reviews {
		out = append(out, v)
	}
	return out
}

// Reviews extracts the merchant reviews of one page. pageIndex is 1-based; a
// positive pageCap suppresses NextURL once pageIndex reaches it.
func Reviews(doc *goquery.Document, pageURL, appID string, pageIndex, pageCap int) ReviewsResult {
	var res ReviewsResult
	doc.Find("[data-merchant-review]").Each(func(_ int, node *goquery.Selection) {
		res.Reviews = append(res.Reviews, review(node, appID))
	})

	if pageCap > 0 && pageIndex >= pageCap {
		return res
	}
	if href, ok := doc.Find(`a[rel="next"]`).First().Attr("href"); ok {
		res.NextURL = resolve(pageURL, href)
	}
	return res
}

func review(node *goquery.Selection, appID string) model.Review {
	author := ownText(node.Find(".tw-text-heading-xs").First())
	if author == "" {
		author = allText(node.Find(".tw-text-heading-xs").First())
	}

	var meta []string
	for _, t := range ownTexts(node.Find(".tw-order-1 div")) {
		if t != author {
			meta = append(meta, t)
		}
	}
	location, timeUsing := ClassifyMeta(meta)

	r := model.Review{
		AppID:        appID,
		Author:       author,
		Location:     location,
		TimeUsingApp: timeUsing,
		Rating:       reviewRating(node),
		PostedAt:     ParsePostedAt(ownText(node.Find(".tw-text-fg-tertiary").First())),
		Body:         allText(node.Find("[data-truncate-content-copy]")),
	}
	helpful := firstText(node,
		".review-helpfulness .review-helpfulness__helpful-count",
		`button[type="submit"] span`,
	)
	if n, ok := parseCount(strings.Trim(helpful, "() ")); ok {
		r.HelpfulCount = &n
	}
	return r
}

// reviewRating returns nil when no label yields a 1..5 star count.
func reviewRating(node *goquery.Selection) *int {
	label := firstAttr(node, "aria-label", "[data-test-rating-star-row]", "[aria-label]")
	v, ok := ParseRatingLabel(label)
	if !ok {
		return nil
	}
	stars := int(math.Round(v))
	if stars < 1 {
		return nil
	}
	return &stars
}
