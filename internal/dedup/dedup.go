// Package dedup remembers recently fetched URLs so repeated scrape requests
// within a TTL can be skipped.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/cache"
	"github.com/Harvey-AU/legal-archive-scraper/internal/util"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a fetched URL counts as recent.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "crawled:"

// Tracker records fetched URLs.
type Tracker interface {
	Seen(ctx context.Context, url string) (bool, error)
	Mark(ctx context.Context, url string) error
}

// Redis tracks URLs as expiring keys.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to addr. The connection is lazy; call Ping to verify it.
func NewRedis(addr string, ttl time.Duration) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// key normalises url so trivially different spellings share an entry.
func key(url string) string {
	if n := util.NormaliseURL(url); n != "" {
		url = n
	}
	return keyPrefix + url
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Seen reports whether url was marked within the TTL.
func (r *Redis) Seen(ctx context.Context, url string) (bool, error) {
	n, err := r.client.Exists(ctx, key(url)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check recent fetch: %w", err)
	}
	return n == 1, nil
}

// Mark records url as fetched now.
func (r *Redis) Mark(ctx context.Context, url string) error {
	if err := r.client.Set(ctx, key(url), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark fetch: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Memory is the in-process tracker used when no Redis address is configured.
type Memory struct {
	seen *cache.TTLCache[struct{}]
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{seen: cache.New[struct{}](ttl)}
}

func (m *Memory) Seen(ctx context.Context, url string) (bool, error) {
	_, ok := m.seen.Get(key(url))
	return ok, nil
}

func (m *Memory) Mark(ctx context.Context, url string) error {
	m.seen.Set(key(url), struct{}{})
	return nil
}

// Prune drops expired entries and returns how many were removed and how many
// remain.
func (m *Memory) Prune() (removed, remaining int) {
	removed = m.seen.Purge()
	return removed, m.seen.Len()
}
