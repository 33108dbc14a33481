// Package dns resolves hostnames through DNS-over-HTTPS providers so that fetches
// can bypass a poisoned or filtered system resolver.
package dns

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/netip"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultProviders are JSON DoH endpoints that accept ?name=&type=.
var DefaultProviders = []string{
	"https://cloudflare-dns.com/dns-query",
	"https://dns.google/resolve",
	"https://dns.quad9.net:5053/dns-query",
	"https://dns.adguard-dns.com/resolve",
}

// Config controls the resolver fan-out.
type Config struct {
	Providers []string
	Fanout    int           // How many providers are queried per lookup
	Timeout   time.Duration // Bound on the whole fan-out
}

// DefaultConfig returns the resolver defaults.
func DefaultConfig() Config {
	return Config{
		Providers: DefaultProviders,
		Fanout:    3,
		Timeout:   5 * time.Second,
	}
}

// Resolver races DoH lookups and returns a random successful answer.
type Resolver struct {
	providers []string
	fanout    int
	timeout   time.Duration
	client    *http.Client
	pick      func(n int) int
}

// New creates a Resolver. A nil client gets a default one bounded by cfg.Timeout.
func New(cfg Config, client *http.Client) *Resolver {
	def := DefaultConfig()
	if len(cfg.Providers) == 0 {
		cfg.Providers = def.Providers
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = def.Fanout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Resolver{
		providers: cfg.Providers,
		fanout:    cfg.Fanout,
		timeout:   cfg.Timeout,
		client:    client,
		pick:      rand.IntN,
	}
}

type dohAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	Data string `json:"data"`
}

type dohResponse struct {
	Status int         `json:"Status"`
	Answer []dohAnswer `json:"Answer"`
}

// Resolve looks host up against the first Fanout providers concurrently. It returns
// false when no provider produced a usable address; callers then fall back to the
// system resolver. Answers are best effort and may be stale.
func (r *Resolver) Resolve(ctx context.Context, host string) (netip.Addr, bool) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, true
	}

	providers := r.providers
	if len(providers) > r.fanout {
		providers = providers[:r.fanout]
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		mu         sync.Mutex
		candidates []netip.Addr
		g          errgroup.Group
	)

	for _, provider := range providers {
		g.Go(func() error {
			addr, err := r.lookup(ctx, provider, host)
			if err != nil {
				log.Debug().
					Err(err).
					Str("provider", provider).
					Str("host", host).
					Msg("DoH lookup failed")
				return nil
			}
			mu.Lock()
			candidates = append(candidates, addr)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(candidates) == 0 {
		log.Debug().Str("host", host).Int("providers", len(providers)).Msg("No DoH provider resolved host")
		return netip.Addr{}, false
	}

	chosen := candidates[r.pick(len(candidates))]
	log.Debug().
		Str("host", host).
		Str("ip", chosen.String()).
		Int("candidates", len(candidates)).
		Msg("Resolved host via DoH")
	return chosen, true
}

func (r *Resolver) lookup(ctx context.Context, provider, host string) (netip.Addr, error) {
	u, err := url.Parse(provider)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid provider URL: %w", err)
	}
	q := u.Query()
	q.Set("name", host)
	q.Set("type", "A")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := r.client.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed dohResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return netip.Addr{}, fmt.Errorf("malformed response: %w", err)
	}

	// CNAME answers precede the address records, so take the first data that parses.
	for _, ans := range parsed.Answer {
		if addr, err := netip.ParseAddr(ans.Data); err == nil {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("no address in answer section")
}
