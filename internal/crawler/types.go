package crawler

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/extract"
)

// Kind tags one of the fixed fetch strategies.
type Kind int

const (
	KindDirect Kind = iota
	KindDNSBypass
	KindProxy
	KindCorsRelay
	KindMobileAgent
	KindCrawlerAgent
)

var kindNames = [...]string{
	KindDirect:       "direct",
	KindDNSBypass:    "dns-bypass",
	KindProxy:        "proxy",
	KindCorsRelay:    "cors-relay",
	KindMobileAgent:  "mobile-agent",
	KindCrawlerAgent: "crawler-agent",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Outcome classifies a single strategy invocation.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeHTTPError    Outcome = "http_error"
	OutcomeNetworkError Outcome = "network_error"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeSkipped      Outcome = "skipped"
)

// FetchAttempt records one strategy invocation (or skip) inside a fetch.
type FetchAttempt struct {
	URL          string  `json:"url"`
	Strategy     Kind    `json:"strategy"`
	AttemptIndex int     `json:"attempt"`
	Outcome      Outcome `json:"outcome"`
	StatusCode   int     `json:"status_code,omitempty"`
	Error        string  `json:"error,omitempty"`
	LatencyMs    int64   `json:"latency_ms"`
}

// Options are the per-call fetch knobs. The zero value is the default
// behaviour: every strategy enabled and successful documents persisted.
// Non-positive numeric fields are filled by Normalise.
type Options struct {
	TimeoutMs         int  `json:"timeout_ms"`
	MaxAttempts       int  `json:"max_attempts"`
	DisableProxy      bool `json:"disable_proxy"`
	DisableDNS        bool `json:"disable_dns"`
	DisableCorsRelay  bool `json:"disable_cors_relay"`
	Concurrency       int  `json:"concurrency"`
	InterBatchDelayMs int  `json:"inter_batch_delay_ms"`
	SkipRecent        bool `json:"skip_recent"`
	SkipPersist       bool `json:"skip_persist"`
	DetectTech        bool `json:"detect_tech"`
}

// DefaultOptions returns the options used when a caller supplies none.
func DefaultOptions() Options {
	return Options{
		TimeoutMs:         30000,
		MaxAttempts:       5,
		Concurrency:       3,
		InterBatchDelayMs: 1000,
	}
}

// Normalise fills non-positive numeric fields from DefaultOptions.
func (o Options) Normalise() Options {
	def := DefaultOptions()
	if o.TimeoutMs <= 0 {
		o.TimeoutMs = def.TimeoutMs
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.InterBatchDelayMs < 0 {
		o.InterBatchDelayMs = 0
	}
	return o
}

// Timeout returns the per-request timeout.
func (o Options) Timeout() time.Duration {
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

// ScrapeResult is the terminal record for one URL in one scrape invocation.
type ScrapeResult struct {
	URL          string              `json:"url"`
	Success      bool                `json:"success"`
	StatusCode   int                 `json:"status_code,omitempty"`
	Document     *extract.Document   `json:"document,omitempty"`
	Error        string              `json:"error,omitempty"`
	ErrorKind    string              `json:"error_kind,omitempty"`
	StrategyUsed string              `json:"strategy_used,omitempty"`
	Proxy        string              `json:"proxy,omitempty"`
	Attempts     []FetchAttempt      `json:"attempts,omitempty"`
	Technologies map[string][]string `json:"technologies,omitempty"`
	Performance  PerformanceMetrics  `json:"performance"`
	Skipped      bool                `json:"skipped,omitempty"`
	Timestamp    int64               `json:"timestamp"`

	// Raw response, kept only until extraction.
	Body    []byte      `json:"-"`
	Headers http.Header `json:"-"`
}

// Fail marks the result as failed with the given terminal error.
func (r *ScrapeResult) Fail(err error) {
	r.Success = false
	r.Error = err.Error()
	r.ErrorKind = KindOf(err)
}

// PerformanceMetrics holds httptrace timings for the winning request.
type PerformanceMetrics struct {
	DNSLookupTime       int64 `json:"dns_lookup_time"`
	TCPConnectionTime   int64 `json:"tcp_connection_time"`
	TLSHandshakeTime    int64 `json:"tls_handshake_time"`
	TTFB                int64 `json:"ttfb"`
	ContentTransferTime int64 `json:"content_transfer_time"`
}

// Target is what a strategy fetches. IP is filled lazily by the DNS bypass
// strategy and shared with later attempts of the same fetch.
type Target struct {
	URL     *url.URL
	Options Options

	IP          netip.Addr
	dnsResolved bool
}

// Response is a completed HTTP exchange, whatever its status.
type Response struct {
	StatusCode  int
	Headers     http.Header
	Body        []byte
	FinalURL    string
	Proxy       string
	Performance PerformanceMetrics
}
