// Package model defines the relational records extracted from app listing pages.
//
// Every record type implements Record and reports its Kind, which is the only
// routing key used by the persistence buffer. The set of kinds is closed: new
// entity types are added here and picked up by the exhaustive switches in the
// buffer and storage packages.
package model

import (
	"fmt"
	"time"
)

// Kind identifies the table an extracted record belongs to.
type Kind int

// Supported record kinds, in the order buffers are flushed.
const (
	KindApp Kind = iota
	KindKeyBenefit
	KindCategory
	KindAppCategory
	KindPricingPlan
	KindPricingPlanFeature
	KindReview
)

var kindTables = [...]string{
	KindApp:                "apps",
	KindKeyBenefit:         "key_benefits",
	KindCategory:           "categories",
	KindAppCategory:        "apps_categories",
	KindPricingPlan:        "pricing_plans",
	KindPricingPlanFeature: "pricing_plan_features",
	KindReview:             "reviews",
}

// Kinds returns every record kind in flush order.
func Kinds() []Kind {
	return []Kind{
		KindApp,
		KindKeyBenefit,
		KindCategory,
		KindAppCategory,
		KindPricingPlan,
		KindPricingPlanFeature,
		KindReview,
	}
}

// Table returns the relational table name for the kind.
func (k Kind) Table() string {
	if k < 0 || int(k) >= len(kindTables) {
		return ""
	}
	return kindTables[k]
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if t := k.Table(); t != "" {
		return t
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a table name back to its Kind.
func ParseKind(table string) (Kind, error) {
	for _, k := range Kinds() {
		if k.Table() == table {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown table %q", table)
}

// Record is implemented by every extracted entity.
type Record interface {
	Kind() Kind
	sealed()
}

// App is the aggregate root: one listing page.
type App struct {
	ID               string     `json:"id"`
	SourceURL        string     `json:"source_url"`
	Handle           string     `json:"handle"`
	InternalID       string     `json:"internal_id"`
	Title            string     `json:"title"`
	Developer        string     `json:"developer"`
	DeveloperURL     string     `json:"developer_url"`
	IconURL          string     `json:"icon_url"`
	Description      string     `json:"description"`
	DescriptionRaw   string     `json:"description_raw"`
	PrivacyPolicyURL string     `json:"privacy_policy_url"`
	Rating           *float64   `json:"rating"`
	ReviewsCount     int        `json:"reviews_count"`
	PricingHint      string     `json:"pricing_hint"`
	LaunchDate       *time.Time `json:"launch_date"`
	Languages        []string   `json:"languages"`
	WorksWith        []string   `json:"works_with"`
	LastMod          string     `json:"lastmod"`
	ScrapedAt        time.Time  `json:"scraped_at"`
}

// KeyBenefit is one highlighted bullet of an App.
type KeyBenefit struct {
	AppID       string `json:"app_id"`
	Description string `json:"description"`
}

// Category is content-addressed: ID is derived from the title via CategoryID.
type Category struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// AppCategory links an App to a Category.
type AppCategory struct {
	AppID      string `json:"app_id"`
	CategoryID string `json:"category_id"`
}

// PricingPlan is one pricing card of an App. Price is free text.
type PricingPlan struct {
	ID    string `json:"id"`
	AppID string `json:"app_id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// PricingPlanFeature is one feature line of a PricingPlan.
type PricingPlanFeature struct {
	AppID         string `json:"app_id"`
	PricingPlanID string `json:"pricing_plan_id"`
	Feature       string `json:"feature"`
}

// Review is a merchant review. The source offers no stable review id, so
// identity is the natural key (AppID, Author, Location, PostedAt, Body).
// Rating is 1..5, or nil when the page carries no readable star label.
type Review struct {
	AppID        string     `json:"app_id"`
	Author       string     `json:"author"`
	Location     string     `json:"location"`
	TimeUsingApp string     `json:"time_using_app"`
	Rating       *int       `json:"rating"`
	PostedAt     *time.Time `json:"posted_at"`
	Body         string     `json:"body"`
	HelpfulCount *int       `json:"helpful_count"`
}

// Kind implements Record.
func (App) Kind() Kind { return KindApp }

// Kind implements Record.
func (KeyBenefit) Kind() Kind { return KindKeyBenefit }

// Kind implements Record.
func (Category) Kind() Kind { return KindCategory }

// Kind implements Record.
func (AppCategory) Kind() Kind { return KindAppCategory }

// Kind implements Record.
func (PricingPlan) Kind() Kind { return KindPricingPlan }

// Kind implements Record.
func (PricingPlanFeature) Kind() Kind { return KindPricingPlanFeature }

// Kind implements Record.
func (Review) Kind() Kind { return KindReview }

func (App) sealed()                {}
func (KeyBenefit) sealed()         {}
func (Category) sealed()           {}
func (AppCategory) sealed()        {}
func (PricingPlan) sealed()        {}
func (PricingPlanFeature) sealed() {}
func (Review) sealed()             {}
