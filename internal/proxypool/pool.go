// Package proxypool rotates requests across the configured proxy and relay endpoints,
// excluding endpoints that failed until the whole pool is exhausted.
package proxypool

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind identifies which configured list an endpoint came from.
type Kind int

const (
	KindIranian Kind = iota
	KindInternational
	KindCorsRelay
)

func (k Kind) String() string {
	switch k {
	case KindIranian:
		return "iranian"
	case KindInternational:
		return "international"
	case KindCorsRelay:
		return "cors_relay"
	default:
		return "unknown"
	}
}

// Endpoint is a single proxy or relay. Address is a proxy URL
// (http://, https://, socks5://) or, for KindCorsRelay, a relay prefix.
type Endpoint struct {
	Address             string    `json:"address"`
	Kind                Kind      `json:"-"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastUsedAt          time.Time `json:"last_used_at"`
}

// Config lists the static endpoints the pool is built from.
type Config struct {
	Iranian       []string
	International []string
	CorsRelays    []string
}

// Pool is the shared rotation state. It is safe for concurrent use.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	excluded  map[string]struct{}
	cursor    int

	now    func() time.Time
	logger zerolog.Logger
}

// New builds a pool from the union of the configured lists, in the order
// Iranian, International, CorsRelay. Blank and duplicate addresses are dropped.
func New(cfg Config) *Pool {
	p := &Pool{
		excluded: make(map[string]struct{}),
		now:      time.Now,
		logger:   log.With().Str("component", "proxypool").Logger(),
	}

	seen := make(map[string]struct{})
	add := func(addresses []string, kind Kind) {
		for _, addr := range addresses {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			p.endpoints = append(p.endpoints, &Endpoint{Address: addr, Kind: kind})
		}
	}
	add(cfg.Iranian, KindIranian)
	add(cfg.International, KindInternational)
	add(cfg.CorsRelays, KindCorsRelay)

	p.logger.Debug().Int("endpoints", len(p.endpoints)).Msg("Proxy pool initialised")
	return p
}

// Size returns the number of configured endpoints.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Next returns the next non-excluded endpoint in round-robin order. When every
// endpoint is excluded the exclusions are cleared and the first endpoint is
// returned. ok is false only when the pool is empty.
func (p *Pool) Next() (Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	if n == 0 {
		return Endpoint{}, false
	}

	if len(p.excluded) >= n {
		p.logger.Info().Int("endpoints", n).Msg("All proxies excluded, resetting pool")
		p.resetLocked()
		p.cursor = 1 % n
		return p.useLocked(p.endpoints[0]), true
	}

	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		ep := p.endpoints[idx]
		if _, bad := p.excluded[ep.Address]; bad {
			continue
		}
		p.cursor = (idx + 1) % n
		return p.useLocked(ep), true
	}

	// Unreachable while len(excluded) < n, kept for safety.
	p.resetLocked()
	p.cursor = 1 % n
	return p.useLocked(p.endpoints[0]), true
}

// MarkFailed excludes the endpoint until the next reset and bumps its failure count.
func (p *Pool) MarkFailed(ep Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.endpoints {
		if e.Address == ep.Address {
			e.ConsecutiveFailures++
			p.excluded[e.Address] = struct{}{}
			p.logger.Debug().
				Str("proxy", e.Address).
				Str("kind", e.Kind.String()).
				Int("consecutive_failures", e.ConsecutiveFailures).
				Int("excluded", len(p.excluded)).
				Msg("Proxy marked as failed")
			return
		}
	}
}

// MarkSucceeded clears the endpoint's consecutive failure count.
func (p *Pool) MarkSucceeded(ep Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.endpoints {
		if e.Address == ep.Address {
			e.ConsecutiveFailures = 0
			return
		}
	}
}

// Reset makes every endpoint eligible again. The rotation cursor is kept.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

// ExcludedCount returns how many endpoints are currently excluded.
func (p *Pool) ExcludedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.excluded)
}

// EndpointStatus is a point-in-time view of one endpoint.
type EndpointStatus struct {
	Endpoint
	Kind     string `json:"kind"`
	Excluded bool   `json:"excluded"`
}

// Stats returns a snapshot of every endpoint in pool order.
func (p *Pool) Stats() []EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]EndpointStatus, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		_, bad := p.excluded[e.Address]
		out = append(out, EndpointStatus{Endpoint: *e, Kind: e.Kind.String(), Excluded: bad})
	}
	return out
}

func (p *Pool) resetLocked() {
	clear(p.excluded)
}

func (p *Pool) useLocked(ep *Endpoint) Endpoint {
	ep.LastUsedAt = p.now()
	return *ep
}
