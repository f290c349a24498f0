package model

import (
	"crypto/md5" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"strings"
	"time"
)

// DateLayout is the text encoding used for date-only fields in the store.
const DateLayout = "2006-01-02"

// NormalizeTitle folds case and collapses internal whitespace.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// CategoryID derives the stable category identifier from its title. The same
// category text always yields the same id across pages and runs.
func CategoryID(title string) string {
	sum := md5.Sum([]byte(NormalizeTitle(title))) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// NewCategory builds a Category and its link row for an App.
func NewCategory(appID, title string) (Category, AppCategory) {
	title = strings.Join(strings.Fields(title), " ")
	id := CategoryID(title)
	return Category{ID: id, Title: title}, AppCategory{AppID: appID, CategoryID: id}
}

// FormatDate renders an optional date using DateLayout.
func FormatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(DateLayout)
	return &s
}

// ParseDate is the inverse of FormatDate. Empty input yields nil.
func ParseDate(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, strings.TrimSpace(*s))
	if err != nil {
		return nil, err
	}
	return &t, nil
}
