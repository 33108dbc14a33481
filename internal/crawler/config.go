package crawler

import (
	"os"
	"strconv"
	"time"
)

// Config holds the executor's static configuration
type Config struct {
	StrategyDelay  time.Duration // Pause between strategies inside one attempt
	AttemptDelay   time.Duration // Pause between attempts
	DefaultTimeout time.Duration // Used when Options.TimeoutMs is unset

	BrowserUserAgent string
	MobileUserAgent  string
	CrawlerUserAgent string
	AcceptLanguage   string

	CorsRelays []string // Relay prefixes, the encoded target URL is appended
}

// DefaultConfig returns a Config instance with default values
func DefaultConfig() Config {
	cfg := Config{
		StrategyDelay:    500 * time.Millisecond,
		AttemptDelay:     2 * time.Second,
		DefaultTimeout:   30 * time.Second,
		BrowserUserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		MobileUserAgent:  "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
		CrawlerUserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
		AcceptLanguage:   "fa-IR,fa;q=0.9,en-US;q=0.8,en;q=0.7",
		CorsRelays: []string{
			"https://api.allorigins.win/raw?url=",
			"https://corsproxy.io/?",
			"https://api.codetabs.com/v1/proxy?quest=",
		},
	}

	if v, ok := os.LookupEnv("SCRAPER_STRATEGY_DELAY_MS"); ok {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.StrategyDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := os.LookupEnv("SCRAPER_ATTEMPT_DELAY_MS"); ok {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.AttemptDelay = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg
}
