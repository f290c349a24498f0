// Package extract maps fetched app listing and review pages to model records.
//
// Every function here is pure: no network or storage access, and the only
// nondeterminism is the generated App and PricingPlan ids. Missing elements
// never abort extraction; they degrade to empty strings, nil pointers or
// empty slices.
package extract

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/appstore-crawler/internal/model"
)

// IDGenerator issues the unique ids for Apps and PricingPlans.
type IDGenerator interface {
	NewID() (string, error)
}

// Page carries the fetch context of a listing document.
type Page struct {
	URL       string
	LastMod   string
	ScrapedAt time.Time
}

// ListingResult is everything a listing page yields, plus the reviews URL to
// fetch next.
type ListingResult struct {
	App           model.App
	KeyBenefits   []model.KeyBenefit
	Categories    []model.Category
	AppCategories []model.AppCategory
	PricingPlans  []model.PricingPlan
	Features      []model.PricingPlanFeature
	ReviewsURL    string
}

// Records flattens the result, App first.
func (r ListingResult) Records() []model.Record {
	out := make([]model.Record, 0, 1+len(r.KeyBenefits)+len(r.Categories)+
		len(r.AppCategories)+len(r.PricingPlans)+len(r.Features))
	out = append(out, r.App)
	for _, v := range r.KeyBenefits {
		out = append(out, v)
	}
	for _, v := range r.Categories {
		out = append(out, v)
	}
	for _, v := range r.AppCategories {
		out = append(out, v)
	}
	for _, v := range r.PricingPlans {
		out = append(out, v)
	}
	for _, v := range r.Features {
		out = append(out, v)
	}
	return out
}

// Listing extracts an App and its nested records from a listing document.
// The only error source is id generation.
func Listing(doc *goquery.Document, page Page, ids IDGenerator) (ListingResult, error) {
	appID, err := ids.NewID()
	if err != nil {
		return ListingResult{}, fmt.Errorf("app id: %w", err)
	}
	root := doc.Selection
	sourceURL := strings.TrimSpace(page.URL)

	app := model.App{
		ID:               appID,
		SourceURL:        sourceURL,
		Handle:           Handle(sourceURL),
		InternalID:       firstAttr(root, "data-partner-tracking-id", "button[data-partner-tracking-id]", "[data-partner-tracking-id]"),
		Title:            ownText(root.Find("h1").First()),
		Developer:        firstText(root, ".tw-text-body-sm.tw-text-fg-tertiary a", "a[href*='/partners/']"),
		DeveloperURL:     resolve(sourceURL, firstAttr(root, "href", ".tw-text-body-sm.tw-text-fg-tertiary a", "a[href*='/partners/']")),
		IconURL:          resolve(sourceURL, firstAttr(root, "src", "img[src*='/app_store/app_images/']", "#adp-hero img")),
		Description:      allText(root.Find("#app-details").First()),
		PrivacyPolicyURL: resolve(sourceURL, privacyPolicyHref(root)),
		ReviewsCount:     reviewsCount(root),
		PricingHint:      firstText(root, "#adp-hero dl > div:first-child > dd .tw-text-pretty", "[data-test-pricing-description]"),
		LaunchDate:       launchDate(root),
		Languages:        detailValues(root, "Languages"),
		WorksWith:        detailValues(root, "Works with"),
		LastMod:          strings.TrimSpace(page.LastMod),
		ScrapedAt:        page.ScrapedAt.UTC(),
	}
	if raw, err := goquery.OuterHtml(root.Find("#app-details").First()); err == nil {
		app.DescriptionRaw = raw
	}
	if v, ok := appRating(root); ok {
		app.Rating = &v
	}
	if app.Title == "" {
		app.Title = allText(root.Find("h1").First())
	}

	res := ListingResult{App: app, ReviewsURL: ReviewsURL(sourceURL)}

	root.Find(".tw-list-disc li").Each(func(_ int, li *goquery.Selection) {
		if text := allText(li); text != "" {
			res.KeyBenefits = append(res.KeyBenefits, model.KeyBenefit{AppID: appID, Description: text})
		}
	})

	seen := map[string]bool{}
	categoryLinks := root.Find(`#adp-details-section a[href*="/categories/"]`)
	if categoryLinks.Length() == 0 {
		categoryLinks = root.Find(`a[href*="/categories/"]`)
	}
	categoryLinks.Each(func(_ int, a *goquery.Selection) {
		title := allText(a)
		if title == "" {
			return
		}
		cat, link := model.NewCategory(appID, title)
		if seen[cat.ID] {
			return
		}
		seen[cat.ID] = true
		res.Categories = append(res.Categories, cat)
		res.AppCategories = append(res.AppCategories, link)
	})

	if err := extractPlans(root, appID, ids, &res); err != nil {
		return ListingResult{}, err
	}
	return res, nil
}

// planLayout names the selectors of one pricing card rendering.
type planLayout struct {
	card      string
	name      string
	price     string
	priceAttr string
	features  string
}

var planLayouts = []planLayout{
	{
		card:      ".app-details-pricing-plan-card",
		name:      `[data-test-id="name"]`,
		price:     ".app-details-pricing-format-group",
		priceAttr: "aria-label",
		features:  `ul[data-test-id="features"] li`,
	},
	{
		card:     "[data-test-pricing-plan-card]",
		name:     "h3",
		price:    "h4",
		features: "ul li span",
	},
}

func extractPlans(root *goquery.Selection, appID string, ids IDGenerator, res *ListingResult) error {
	for _, layout := range planLayouts {
		cards := root.Find(layout.card)
		if cards.Length() == 0 {
			continue
		}
		var genErr error
		cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
			planID, err := ids.NewID()
			if err != nil {
				genErr = fmt.Errorf("pricing plan id: %w", err)
				return false
			}
			price := allText(card.Find(layout.price).First())
			if layout.priceAttr != "" {
				if v, ok := card.Find(layout.price).First().Attr(layout.priceAttr); ok && strings.TrimSpace(v) != "" {
					price = collapse(v)
				}
			}
			res.PricingPlans = append(res.PricingPlans, model.PricingPlan{
				ID:    planID,
				AppID: appID,
				Name:  allText(card.Find(layout.name).First()),
				Price: price,
			})
			card.Find(layout.features).Each(func(_ int, li *goquery.Selection) {
				if text := allText(li); text != "" {
					res.Features = append(res.Features, model.PricingPlanFeature{
						AppID:         appID,
						PricingPlanID: planID,
						Feature:       text,
					})
				}
			})
			return true
		})
		return genErr
	}
	return nil
}

// Handle returns the last path segment of a listing URL without its query.
func Handle(listingURL string) string {
	u, err := url.Parse(strings.TrimSpace(listingURL))
	if err != nil {
		return ""
	}
	path := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ReviewsURL returns the first reviews page of a listing.
func ReviewsURL(listingURL string) string {
	u, err := url.Parse(strings.TrimSpace(listingURL))
	if err != nil || u.Host == "" {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/") + "/reviews"
	return u.String()
}

func appRating(root *goquery.Selection) (float64, bool) {
	if v, ok := ParseRatingLabel(firstText(root, "#adp-hero dd > span.tw-text-fg-secondary")); ok {
		return v, true
	}
	return ParseRatingLabel(firstAttr(root, "aria-label", "#adp-hero [data-test-rating-star-row]", "[data-test-rating-star-row]"))
}

func reviewsCount(root *goquery.Selection) int {
	n, _ := parseCount(firstText(root, "#reviews-link", "[data-test-reviews-link]"))
	return n
}

func privacyPolicyHref(root *goquery.Selection) string {
	var href string
	root.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(allText(a)), "privacy policy") {
			href, _ = a.Attr("href")
			return false
		}
		return true
	})
	return href
}

func launchDate(root *goquery.Selection) *time.Time {
	var out *time.Time
	root.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if !strings.Contains(ownText(p), "Launched") {
			return true
		}
		text := ownText(p.NextAllFiltered("p").First())
		if i := strings.Index(text, "·"); i >= 0 {
			text = text[:i]
		}
		out = parseDate(text)
		return false
	})
	return out
}

// detailValues reads a labelled list from the details section. The label sits
// in a <p> whose following sibling holds either links/items or a comma list.
func detailValues(root *goquery.Selection, label string) []string {
	var out []string
	root.Find("#adp-details-section p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if !strings.EqualFold(allText(p), label) {
			return true
		}
		value := p.Next()
		items := value.Find("a, li")
		if items.Length() > 0 {
			items.Each(func(_ int, s *goquery.Selection) {
				if t := allText(s); t != "" {
					out = append(out, t)
				}
			})
			return false
		}
		for _, part := range strings.Split(allText(value), ",") {
			if t := collapse(part); t != "" {
				out = append(out, t)
			}
		}
		return false
	})
	return out
}
