package extract

import "strings"

// RuleSet holds the selectors tried for one host before the generic fallbacks.
type RuleSet struct {
	TitleSelectors   []string `mapstructure:"title_selectors" json:"title_selectors"`
	ContentSelectors []string `mapstructure:"content_selectors" json:"content_selectors"`
	LinkSelector     string   `mapstructure:"link_selector" json:"link_selector"`
}

// DefaultRuleKey is the rule set used when no host rule matches.
const DefaultRuleKey = "default"

const defaultLinkSelector = "a[href]"

// DefaultRules covers the main Iranian legal portals.
func DefaultRules() map[string]RuleSet {
	return map[string]RuleSet{
		"rc.majlis.ir": {
			TitleSelectors:   []string{".law-title", "h1.title", ".page-title"},
			ContentSelectors: []string{".law-content", "#lawContent", ".content-body"},
			LinkSelector:     ".law-list a[href], .content-body a[href]",
		},
		"qavanin.ir": {
			TitleSelectors:   []string{"#lblTitle", ".law-title", "h1"},
			ContentSelectors: []string{"#treeText", ".law-text", "#content-text"},
			LinkSelector:     "#treeText a[href], .law-list a[href]",
		},
		"dotic.ir": {
			TitleSelectors:   []string{".portal-title", "h1.title"},
			ContentSelectors: []string{".portal-content", ".law-body"},
		},
		"divan-edalat.ir": {
			TitleSelectors:   []string{".verdict-title", "h1"},
			ContentSelectors: []string{".verdict-text", ".news-body", "#divContent"},
		},
		"eadl.ir": {
			TitleSelectors:   []string{".news-title", "h1"},
			ContentSelectors: []string{".news-body", ".body-text"},
		},
		DefaultRuleKey: {
			LinkSelector: defaultLinkSelector,
		},
	}
}

// lookup finds the rule for host: exact, then without "www.", then default.
func lookup(rules map[string]RuleSet, host string) (RuleSet, bool) {
	host = strings.ToLower(host)
	if r, ok := rules[host]; ok {
		return r, true
	}
	if r, ok := rules[strings.TrimPrefix(host, "www.")]; ok {
		return r, true
	}
	return rules[DefaultRuleKey], false
}
