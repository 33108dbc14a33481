// Package ratelimit provides the process-wide request admission window shared by
// every fetch strategy.
package ratelimit

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config controls the size of the sliding admission window.
type Config struct {
	Limit  int
	Window time.Duration
}

// DefaultConfig returns the window used when nothing is configured.
func DefaultConfig() Config {
	cfg := Config{
		Limit:  100,
		Window: time.Minute,
	}

	if v, ok := os.LookupEnv("SCRAPER_RATE_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limit = n
		}
	}
	if v, ok := os.LookupEnv("SCRAPER_RATE_WINDOW_MS"); ok {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Window = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg
}

// Window admits at most Limit requests per window. It is safe for concurrent use.
type Window struct {
	mu sync.Mutex

	limit       int
	duration    time.Duration
	windowStart time.Time
	count       int

	now func() time.Time
}

// New creates a Window. Non-positive values fall back to DefaultConfig.
func New(cfg Config) *Window {
	def := DefaultConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}

	w := &Window{
		limit:    cfg.Limit,
		duration: cfg.Window,
		now:      time.Now,
	}
	w.windowStart = w.now()
	return w
}

// Admit reports whether one more request fits in the current window and, if so,
// counts it. It never blocks.
func (w *Window) Admit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rollLocked()

	if w.count+1 > w.limit {
		log.Debug().
			Int("limit", w.limit).
			Time("window_reset_at", w.windowStart.Add(w.duration)).
			Msg("Request denied by rate window")
		return false
	}

	w.count++
	return true
}

// Remaining returns how many admissions are left in the current window.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rollLocked()
	return w.limit - w.count
}

// ResetAt returns when the current window closes.
func (w *Window) ResetAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rollLocked()
	return w.windowStart.Add(w.duration)
}

// Limit returns the configured admissions per window.
func (w *Window) Limit() int {
	return w.limit
}

func (w *Window) rollLocked() {
	now := w.now()
	if now.Sub(w.windowStart) > w.duration {
		w.windowStart = now
		w.count = 0
	}
}
