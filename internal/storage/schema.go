package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/appstore-crawler/internal/model"
)

// ColumnType is the logical type of a column; backends map it to SQL types.
type ColumnType int

// Supported column types. Dates and timestamps are stored as ISO text.
const (
	Text ColumnType = iota
	Integer
	Real
)

// Column is one table column.
type Column struct {
	Name string
	Type ColumnType
}

// TableSpec describes the relational layout of one record kind.
type TableSpec struct {
	Kind       model.Kind
	Table      string
	Columns    []Column
	NaturalKey []string
	// ParentKeys maps a column to the table whose id it references. Orphan
	// pruning uses it.
	ParentKeys map[string]string
}

// ColumnNames returns the column names in order.
func (s TableSpec) ColumnNames() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

func text(names ...string) []Column {
	out := make([]Column, len(names))
	for i, n := range names {
		out[i] = Column{Name: n, Type: Text}
	}
	return out
}

var specs = map[model.Kind]TableSpec{
	model.KindApp: {
		Columns: []Column{
			{"id", Text}, {"source_url", Text}, {"handle", Text}, {"internal_id", Text},
			{"title", Text}, {"developer", Text}, {"developer_url", Text}, {"icon_url", Text},
			{"description", Text}, {"description_raw", Text}, {"privacy_policy_url", Text},
			{"rating", Real}, {"reviews_count", Integer}, {"pricing_hint", Text},
			{"launch_date", Text}, {"languages", Text}, {"works_with", Text},
			{"lastmod", Text}, {"scraped_at", Text},
		},
		NaturalKey: []string{"source_url"},
	},
	model.KindKeyBenefit: {
		Columns:    text("app_id", "description"),
		NaturalKey: []string{"app_id", "description"},
		ParentKeys: map[string]string{"app_id": "apps"},
	},
	model.KindCategory: {
		Columns:    text("id", "title"),
		NaturalKey: []string{"id"},
	},
	model.KindAppCategory: {
		Columns:    text("app_id", "category_id"),
		NaturalKey: []string{"app_id", "category_id"},
		ParentKeys: map[string]string{"app_id": "apps"},
	},
	model.KindPricingPlan: {
		Columns:    text("id", "app_id", "name", "price"),
		NaturalKey: []string{"id"},
		ParentKeys: map[string]string{"app_id": "apps"},
	},
	model.KindPricingPlanFeature: {
		Columns:    text("app_id", "pricing_plan_id", "feature"),
		NaturalKey: []string{"app_id", "pricing_plan_id", "feature"},
		ParentKeys: map[string]string{"app_id": "apps", "pricing_plan_id": "pricing_plans"},
	},
	model.KindReview: {
		Columns: []Column{
			{"app_id", Text}, {"author", Text}, {"location", Text}, {"time_using_app", Text},
			{"rating", Integer}, {"posted_at", Text}, {"body", Text}, {"helpful_count", Integer},
		},
		NaturalKey: []string{"app_id", "author", "location", "posted_at", "body"},
		ParentKeys: map[string]string{"app_id": "apps"},
	},
}

// Spec returns the layout of kind.
func Spec(kind model.Kind) TableSpec {
	s := specs[kind]
	s.Kind = kind
	s.Table = kind.Table()
	return s
}

// Specs returns every layout in flush order.
func Specs() []TableSpec {
	out := make([]TableSpec, 0, len(specs))
	for _, k := range model.Kinds() {
		out = append(out, Spec(k))
	}
	return out
}

// Values encodes rec in column order. Lists become JSON text and nil pointers
// become SQL NULL.
func Values(rec model.Record) ([]any, error) {
	switch r := rec.(type) {
	case model.App:
		languages, err := jsonList(r.Languages)
		if err != nil {
			return nil, err
		}
		worksWith, err := jsonList(r.WorksWith)
		if err != nil {
			return nil, err
		}
		return []any{
			r.ID, r.SourceURL, r.Handle, r.InternalID,
			r.Title, r.Developer, r.DeveloperURL, r.IconURL,
			r.Description, r.DescriptionRaw, r.PrivacyPolicyURL,
			optFloat(r.Rating), int64(r.ReviewsCount), r.PricingHint,
			optString(model.FormatDate(r.LaunchDate)), languages, worksWith,
			r.LastMod, r.ScrapedAt.UTC().Format(time.RFC3339Nano),
		}, nil
	case model.KeyBenefit:
		return []any{r.AppID, r.Description}, nil
	case model.Category:
		return []any{r.ID, r.Title}, nil
	case model.AppCategory:
		return []any{r.AppID, r.CategoryID}, nil
	case model.PricingPlan:
		return []any{r.ID, r.AppID, r.Name, r.Price}, nil
	case model.PricingPlanFeature:
		return []any{r.AppID, r.PricingPlanID, r.Feature}, nil
	case model.Review:
		return []any{
			r.AppID, r.Author, r.Location, r.TimeUsingApp,
			optInt(r.Rating), optString(model.FormatDate(r.PostedAt)), r.Body, optInt(r.HelpfulCount),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported record type %T", rec)
	}
}

// Decode is the inverse of Values. It accepts the driver value types produced
// by database/sql and pgx: nil, string, []byte, integers and floats.
func Decode(kind model.Kind, vals []any) (model.Record, error) {
	want := len(Spec(kind).Columns)
	if len(vals) != want {
		return nil, fmt.Errorf("%s: expected %d columns, got %d", kind, want, len(vals))
	}
	d := decoder{vals: vals}
	var rec model.Record
	switch kind {
	case model.KindApp:
		app := model.App{
			ID:               d.str(0),
			SourceURL:        d.str(1),
			Handle:           d.str(2),
			InternalID:       d.str(3),
			Title:            d.str(4),
			Developer:        d.str(5),
			DeveloperURL:     d.str(6),
			IconURL:          d.str(7),
			Description:      d.str(8),
			DescriptionRaw:   d.str(9),
			PrivacyPolicyURL: d.str(10),
			Rating:           d.optFloat(11),
			ReviewsCount:     int(d.int(12)),
			PricingHint:      d.str(13),
			LaunchDate:       d.date(14),
			Languages:        d.list(15),
			WorksWith:        d.list(16),
			LastMod:          d.str(17),
			ScrapedAt:        d.timestamp(18),
		}
		rec = app
	case model.KindKeyBenefit:
		rec = model.KeyBenefit{AppID: d.str(0), Description: d.str(1)}
	case model.KindCategory:
		rec = model.Category{ID: d.str(0), Title: d.str(1)}
	case model.KindAppCategory:
		rec = model.AppCategory{AppID: d.str(0), CategoryID: d.str(1)}
	case model.KindPricingPlan:
		rec = model.PricingPlan{ID: d.str(0), AppID: d.str(1), Name: d.str(2), Price: d.str(3)}
	case model.KindPricingPlanFeature:
		rec = model.PricingPlanFeature{AppID: d.str(0), PricingPlanID: d.str(1), Feature: d.str(2)}
	case model.KindReview:
		rec = model.Review{
			AppID:        d.str(0),
			Author:       d.str(1),
			Location:     d.str(2),
			TimeUsingApp: d.str(3),
			Rating:       d.intPtr(4),
			PostedAt:     d.date(5),
			Body:         d.str(6),
			HelpfulCount: d.intPtr(7),
		}
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
	if d.err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, d.err)
	}
	return rec, nil
}

// NaturalKey renders the natural-key values of rec as one comparable string.
func NaturalKey(rec model.Record) (string, error) {
	spec := Spec(rec.Kind())
	vals, err := Values(rec)
	if err != nil {
		return "", err
	}
	index := make(map[string]int, len(spec.Columns))
	for i, c := range spec.Columns {
		index[c.Name] = i
	}
	parts := make([]string, 0, len(spec.NaturalKey))
	for _, col := range spec.NaturalKey {
		v := vals[index[col]]
		if v == nil {
			parts = append(parts, "\x00")
			continue
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, "\x1f"), nil
}

func jsonList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func optFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func optInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func optString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

type decoder struct {
	vals []any
	err  error
}

func (d *decoder) fail(i int, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("column %d: %w", i, err)
	}
}

func (d *decoder) str(i int) string {
	switch v := d.vals[i].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func (d *decoder) optInt(i int) (int64, bool) {
	switch v := d.vals[i].(type) {
	case nil:
		return 0, false
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string, []byte:
		n, err := strconv.ParseInt(d.str(i), 10, 64)
		if err != nil {
			d.fail(i, err)
			return 0, false
		}
		return n, true
	default:
		d.fail(i, fmt.Errorf("unexpected integer type %T", v))
		return 0, false
	}
}

func (d *decoder) int(i int) int64 {
	n, _ := d.optInt(i)
	return n
}

func (d *decoder) intPtr(i int) *int {
	n, ok := d.optInt(i)
	if !ok {
		return nil
	}
	v := int(n)
	return &v
}

func (d *decoder) optFloat(i int) *float64 {
	var f float64
	switch v := d.vals[i].(type) {
	case nil:
		return nil
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int64:
		f = float64(v)
	case string, []byte:
		parsed, err := strconv.ParseFloat(d.str(i), 64)
		if err != nil {
			d.fail(i, err)
			return nil
		}
		f = parsed
	default:
		d.fail(i, fmt.Errorf("unexpected float type %T", v))
		return nil
	}
	return &f
}

func (d *decoder) date(i int) *time.Time {
	if d.vals[i] == nil {
		return nil
	}
	s := d.str(i)
	t, err := model.ParseDate(&s)
	if err != nil {
		d.fail(i, err)
		return nil
	}
	return t
}

func (d *decoder) timestamp(i int) time.Time {
	s := d.str(i)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		d.fail(i, err)
		return time.Time{}
	}
	return t
}

func (d *decoder) list(i int) []string {
	s := d.str(i)
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		d.fail(i, err)
		return nil
	}
	return out
}
