package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/proxypool"
	"github.com/rs/zerolog/log"
)

// Strategy is one way of fetching a target. Execute returns a nil error only for
// a 2xx response.
type Strategy interface {
	Kind() Kind
	Enabled(t *Target) bool
	Execute(ctx context.Context, t *Target) (*Response, error)
}

// preparer is implemented by strategies that need per-target setup before
// Enabled can answer.
type preparer interface {
	Prepare(ctx context.Context, t *Target)
}

// Resolver finds an alternate address for a host.
type Resolver interface {
	Resolve(ctx context.Context, host string) (netip.Addr, bool)
}

// DefaultStrategies builds the fixed strategy list in execution order. A nil pool
// or resolver disables the corresponding strategy.
func DefaultStrategies(cfg Config, pool *proxypool.Pool, resolver Resolver) []Strategy {
	f := newFetcher()
	return []Strategy{
		&headerStrategy{kind: KindDirect, fetcher: f, cfg: cfg, userAgent: cfg.BrowserUserAgent, headers: browserHeaders(cfg.AcceptLanguage)},
		&dnsBypassStrategy{fetcher: f, cfg: cfg, resolver: resolver},
		&proxyStrategy{fetcher: f, cfg: cfg, pool: pool},
		&corsRelayStrategy{fetcher: f, cfg: cfg, relays: cfg.CorsRelays},
		&headerStrategy{kind: KindMobileAgent, fetcher: f, cfg: cfg, userAgent: cfg.MobileUserAgent, headers: browserHeaders(cfg.AcceptLanguage)},
		&headerStrategy{kind: KindCrawlerAgent, fetcher: f, cfg: cfg, userAgent: cfg.CrawlerUserAgent, headers: crawlerHeaders()},
	}
}

func timeoutFor(cfg Config, t *Target) time.Duration {
	if t.Options.TimeoutMs > 0 {
		return t.Options.Timeout()
	}
	return cfg.DefaultTimeout
}

// headerStrategy is a direct request with a fixed header profile.
type headerStrategy struct {
	kind      Kind
	fetcher   *fetcher
	cfg       Config
	userAgent string
	headers   http.Header
}

func (s *headerStrategy) Kind() Kind { return s.kind }

func (s *headerStrategy) Enabled(*Target) bool { return true }

func (s *headerStrategy) Execute(ctx context.Context, t *Target) (*Response, error) {
	return s.fetcher.fetch(ctx, fetchRequest{
		URL:       t.URL.String(),
		UserAgent: s.userAgent,
		Headers:   s.headers,
		Timeout:   timeoutFor(s.cfg, t),
	})
}

// dnsBypassStrategy dials the DoH-resolved address directly.
type dnsBypassStrategy struct {
	fetcher  *fetcher
	cfg      Config
	resolver Resolver
}

func (s *dnsBypassStrategy) Kind() Kind { return KindDNSBypass }

// Prepare resolves the host once per fetch.
func (s *dnsBypassStrategy) Prepare(ctx context.Context, t *Target) {
	if t.dnsResolved || t.Options.DisableDNS || s.resolver == nil {
		return
	}
	t.dnsResolved = true

	if ip, ok := s.resolver.Resolve(ctx, t.URL.Hostname()); ok {
		t.IP = ip
	}
}

func (s *dnsBypassStrategy) Enabled(t *Target) bool {
	return !t.Options.DisableDNS && s.resolver != nil && t.IP.IsValid()
}

func (s *dnsBypassStrategy) Execute(ctx context.Context, t *Target) (*Response, error) {
	if !t.IP.IsValid() {
		return nil, errUnavailable
	}
	return s.fetcher.fetch(ctx, fetchRequest{
		URL:       t.URL.String(),
		UserAgent: s.cfg.BrowserUserAgent,
		Headers:   browserHeaders(s.cfg.AcceptLanguage),
		Timeout:   timeoutFor(s.cfg, t),
		DialIP:    t.IP,
	})
}

// proxyStrategy routes through the next endpoint of the shared pool.
type proxyStrategy struct {
	fetcher *fetcher
	cfg     Config
	pool    *proxypool.Pool
}

func (s *proxyStrategy) Kind() Kind { return KindProxy }

func (s *proxyStrategy) Enabled(t *Target) bool {
	return !t.Options.DisableProxy && s.pool != nil && s.pool.Size() > 0
}

func (s *proxyStrategy) Execute(ctx context.Context, t *Target) (*Response, error) {
	ep, ok := s.pool.Next()
	if !ok {
		return nil, errUnavailable
	}

	req := fetchRequest{
		URL:       t.URL.String(),
		UserAgent: s.cfg.BrowserUserAgent,
		Headers:   browserHeaders(s.cfg.AcceptLanguage),
		Timeout:   timeoutFor(s.cfg, t),
	}

	if ep.Kind == proxypool.KindCorsRelay {
		req.URL = ep.Address + url.QueryEscape(t.URL.String())
	} else {
		proxyURL, err := url.Parse(ep.Address)
		if err != nil || proxyURL.Host == "" {
			s.pool.MarkFailed(ep)
			return nil, fmt.Errorf("%w: invalid proxy address %q", ErrNetwork, ep.Address)
		}
		req.Proxy = proxyURL
	}

	resp, err := s.fetcher.fetch(ctx, req)
	if err != nil {
		s.pool.MarkFailed(ep)
		log.Debug().
			Err(err).
			Str("proxy", ep.Address).
			Str("kind", ep.Kind.String()).
			Str("url", t.URL.String()).
			Msg("Proxy request failed")
		return resp, err
	}

	s.pool.MarkSucceeded(ep)
	resp.Proxy = ep.Address
	return resp, nil
}

// corsRelayStrategy prefixes the target with a relay base URL.
type corsRelayStrategy struct {
	fetcher *fetcher
	cfg     Config
	relays  []string
	next    atomic.Uint64
}

func (s *corsRelayStrategy) Kind() Kind { return KindCorsRelay }

func (s *corsRelayStrategy) Enabled(t *Target) bool {
	return !t.Options.DisableCorsRelay && len(s.relays) > 0
}

func (s *corsRelayStrategy) Execute(ctx context.Context, t *Target) (*Response, error) {
	if len(s.relays) == 0 {
		return nil, errUnavailable
	}
	relay := s.relays[(s.next.Add(1)-1)%uint64(len(s.relays))]

	resp, err := s.fetcher.fetch(ctx, fetchRequest{
		URL:       relay + url.QueryEscape(t.URL.String()),
		UserAgent: s.cfg.BrowserUserAgent,
		Headers:   browserHeaders(s.cfg.AcceptLanguage),
		Timeout:   timeoutFor(s.cfg, t),
	})
	if resp != nil {
		resp.Proxy = relay
	}
	return resp, err
}
