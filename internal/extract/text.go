package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	digitsPattern = regexp.MustCompile(`\d+`)
	editedPrefix  = regexp.MustCompile(`(?i)^\s*edited\b[\s:]*`)
)

// dateLayouts lists the accepted date renderings, most common first.
var dateLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"2 January 2006",
	"2006-01-02",
}

// durationPhrases mark a review metadata fragment as a duration of use.
var durationPhrases = []string{"using the app", "used the app"}

// ParseDocument parses an HTML body into a goquery document.
func ParseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ParsePostedAt strips a leading "Edited" marker and parses the remaining date.
// It returns nil when the text is not a recognizable date.
func ParsePostedAt(text string) *time.Time {
	cleaned := collapse(editedPrefix.ReplaceAllString(text, ""))
	return parseDate(cleaned)
}

// ParseRatingLabel reads the numeric rating from the first whitespace-delimited
// token of an accessible label such as "4.5 out of 5 stars".
func ParseRatingLabel(label string) (float64, bool) {
	fields := strings.Fields(label)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], ","), 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// ClassifyMeta splits review metadata fragments into a location and a duration
// of use. Each fragment is classified once; the first fragment of each class wins.
func ClassifyMeta(fragments []string) (location, timeUsing string) {
	for _, f := range fragments {
		f = collapse(f)
		if f == "" {
			continue
		}
		if isDuration(f) {
			if timeUsing == "" {
				timeUsing = f
			}
			continue
		}
		if location == "" {
			location = f
		}
	}
	return location, timeUsing
}

func isDuration(fragment string) bool {
	lower := strings.ToLower(fragment)
	for _, phrase := range durationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func parseDate(text string) *time.Time {
	text = collapse(text)
	if text == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return &t
		}
	}
	return nil
}

// parseCount concatenates every digit run, so "1,234 reviews" yields 1234.
func parseCount(text string) (int, bool) {
	digits := strings.Join(digitsPattern.FindAllString(text, -1), "")
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// allText joins every descendant text node in document order.
func allText(sel *goquery.Selection) string {
	var parts []string
	for _, root := range sel.Nodes {
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if n.Type == html.TextNode {
				if s := strings.TrimSpace(n.Data); s != "" {
					parts = append(parts, s)
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(root)
	}
	return collapse(strings.Join(parts, " "))
}

// ownTexts returns the non-empty direct text children of each selected node.
func ownTexts(sel *goquery.Selection) []string {
	var out []string
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.TextNode {
				continue
			}
			if s := collapse(c.Data); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// ownText returns the first direct text child of the first selected node.
func ownText(sel *goquery.Selection) string {
	texts := ownTexts(sel.First())
	if len(texts) == 0 {
		return ""
	}
	return texts[0]
}

// firstText returns the text of the first selector that yields content.
func firstText(doc *goquery.Selection, selectors ...string) string {
	for _, s := range selectors {
		if t := allText(doc.Find(s).First()); t != "" {
			return t
		}
	}
	return ""
}

// firstAttr returns the attribute of the first selector that carries it.
func firstAttr(doc *goquery.Selection, attr string, selectors ...string) string {
	for _, s := range selectors {
		if v, ok := doc.Find(s).First().Attr(attr); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// resolve makes href absolute against base. Unparseable input yields "".
func resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}
