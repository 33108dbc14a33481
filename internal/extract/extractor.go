// Package extract turns raw HTML into structured legal document records using
// host specific selector rules with a generic fallback chain.
package extract

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Harvey-AU/legal-archive-scraper/internal/classify"
	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

const (
	maxHeadings      = 10
	maxHeadingRunes  = 200
	maxLinks         = 20
	maxLinkTextRunes = 100
)

var (
	fallbackTitleSelectors   = []string{"title", "h1"}
	fallbackContentSelectors = []string{"article", "main", "#content", ".content", ".entry-content", ".post-content", "body"}
)

// Heading is an h1..h4 element.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Link is an absolute outbound link.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Document is the structured record produced from one fetched page.
type Document struct {
	ID              string                   `json:"id,omitempty"`
	URL             string                   `json:"url"`
	Title           string                   `json:"title"`
	Content         string                   `json:"content"`
	Headings        []Heading                `json:"headings"`
	Links           []Link                   `json:"links"`
	Metadata        map[string]string        `json:"metadata"`
	LegalCategories []classify.CategoryScore `json:"legal_categories"`
	Relevance       int                      `json:"relevance"`
	Degraded        bool                     `json:"degraded,omitempty"`
	FetchedAt       time.Time                `json:"fetched_at"`
}

// Extractor is read-only after construction and safe for concurrent use.
type Extractor struct {
	rules map[string]RuleSet
	now   func() time.Time
}

// New creates an extractor. Nil rules use DefaultRules; a missing default entry
// is added.
func New(rules map[string]RuleSet) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	normalised := make(map[string]RuleSet, len(rules)+1)
	for host, r := range rules {
		normalised[strings.ToLower(host)] = r
	}
	if _, ok := normalised[DefaultRuleKey]; !ok {
		normalised[DefaultRuleKey] = RuleSet{LinkSelector: defaultLinkSelector}
	}
	return &Extractor{rules: normalised, now: time.Now}
}

// Extract never fails: missing elements yield empty fields. Degraded is set when
// the content came from the generic fallback chain.
func (e *Extractor) Extract(rawHTML, sourceURL string) *Document {
	out := &Document{
		URL:       sourceURL,
		Headings:  []Heading{},
		Links:     []Link{},
		Metadata:  map[string]string{},
		FetchedAt: e.now().UTC(),
	}

	base, err := url.Parse(sourceURL)
	if err != nil {
		base = &url.URL{}
	}
	rule, matched := lookup(e.rules, base.Hostname())

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		log.Warn().Err(err).Str("url", sourceURL).Msg("Failed to parse HTML, returning empty document")
		out.Degraded = true
		return out
	}

	out.Title, _ = firstText(doc, rule.TitleSelectors, fallbackTitleSelectors, false)

	content, fromRule := firstText(doc, rule.ContentSelectors, fallbackContentSelectors, true)
	out.Content = content
	out.Degraded = !fromRule

	out.Headings = headings(doc)
	out.Links = links(doc, rule.LinkSelector, base)
	out.Metadata = metadata(doc)

	log.Debug().
		Str("url", sourceURL).
		Bool("host_rule", matched).
		Bool("degraded", out.Degraded).
		Int("content_runes", utf8.RuneCountInString(out.Content)).
		Int("headings", len(out.Headings)).
		Int("links", len(out.Links)).
		Msg("Extracted document")

	return out
}

// firstText returns the first non-empty text among the rule selectors then the
// fallbacks. fromRule reports whether a rule selector produced it.
func firstText(doc *goquery.Document, ruleSelectors, fallbacks []string, stripScripts bool) (text string, fromRule bool) {
	for _, sel := range ruleSelectors {
		if t := selectionText(doc.Find(sel).First(), stripScripts); t != "" {
			return t, true
		}
	}
	for _, sel := range fallbacks {
		if t := selectionText(doc.Find(sel).First(), stripScripts); t != "" {
			return t, false
		}
	}
	return "", false
}

func selectionText(s *goquery.Selection, stripScripts bool) string {
	if s.Length() == 0 {
		return ""
	}
	if stripScripts {
		s = s.Clone()
		s.Find("script, style, noscript").Remove()
	}
	return collapseSpace(s.Text())
}

func headings(doc *goquery.Document) []Heading {
	out := []Heading{}
	doc.Find("h1, h2, h3, h4").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := collapseSpace(s.Text())
		if text == "" {
			return true
		}
		level := int(goquery.NodeName(s)[1] - '0')
		out = append(out, Heading{Level: level, Text: truncateRunes(text, maxHeadingRunes)})
		return len(out) < maxHeadings
	})
	return out
}

func links(doc *goquery.Document, selector string, base *url.URL) []Link {
	if selector == "" {
		selector = defaultLinkSelector
	}
	origin := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}

	out := []Link{}
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if skipHref(href) {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := origin.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return true
		}
		out = append(out, Link{
			URL:  abs.String(),
			Text: truncateRunes(collapseSpace(s.Text()), maxLinkTextRunes),
		})
		return len(out) < maxLinks
	})
	return out
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// metadata flattens meta[name] and meta[property]; property wins within a tag and
// later tags overwrite earlier ones.
func metadata(doc *goquery.Document) map[string]string {
	out := map[string]string{}
	doc.Find("meta[name], meta[property]").Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("name", "")
		if prop := s.AttrOr("property", ""); prop != "" {
			key = prop
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		out[key] = strings.TrimSpace(s.AttrOr("content", ""))
	})
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}
