package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/observability"
	"github.com/rs/zerolog/log"
)

// Admitter gates every strategy invocation.
type Admitter interface {
	Admit() bool
}

// Executor walks the strategy list for each attempt until one strategy returns 2xx.
type Executor struct {
	cfg        Config
	limiter    Admitter
	strategies []Strategy

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor over an explicit strategy list.
func NewExecutor(cfg Config, limiter Admitter, strategies []Strategy) *Executor {
	return &Executor{
		cfg:        cfg,
		limiter:    limiter,
		strategies: strategies,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Strategies returns the configured strategy kinds in execution order.
func (e *Executor) Strategies() []Kind {
	kinds := make([]Kind, len(e.strategies))
	for i, s := range e.strategies {
		kinds[i] = s.Kind()
	}
	return kinds
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParseTarget validates an absolute http(s) URL.
func ParseTarget(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	return u, nil
}

// Fetch runs up to MaxAttempts passes over the strategy list. Strategy failures
// are recorded on the result and never returned; the result is always non-nil.
// A rate limit denial ends the fetch with ErrRateLimited.
func (e *Executor) Fetch(ctx context.Context, rawURL string, opts Options) *ScrapeResult {
	opts = opts.Normalise()
	res := &ScrapeResult{
		URL:       rawURL,
		Timestamp: e.now().Unix(),
	}

	u, err := ParseTarget(rawURL)
	if err != nil {
		res.Fail(err)
		return res
	}
	target := &Target{URL: u, Options: opts}

	var (
		invoked     bool
		failures    int
		lastStatus  int
		lastFailure error
	)

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		invokedThisAttempt := false

		for _, s := range e.strategies {
			if ctx.Err() != nil {
				return e.cancelled(res)
			}

			if p, ok := s.(preparer); ok {
				p.Prepare(ctx, target)
			}
			if !s.Enabled(target) {
				res.Attempts = append(res.Attempts, FetchAttempt{
					URL:          rawURL,
					Strategy:     s.Kind(),
					AttemptIndex: attempt,
					Outcome:      OutcomeSkipped,
				})
				continue
			}

			var delay time.Duration
			if invokedThisAttempt {
				delay = e.cfg.StrategyDelay
			} else if invoked {
				delay = e.cfg.AttemptDelay
			}
			if delay > 0 {
				if err := e.sleep(ctx, delay); err != nil {
					return e.cancelled(res)
				}
			}
			invoked, invokedThisAttempt = true, true

			if !e.limiter.Admit() {
				res.Attempts = append(res.Attempts, FetchAttempt{
					URL:          rawURL,
					Strategy:     s.Kind(),
					AttemptIndex: attempt,
					Outcome:      OutcomeRateLimited,
					Error:        ErrRateLimited.Error(),
				})
				observability.RecordStrategy(ctx, observability.StrategyMetrics{
					Strategy: s.Kind().String(),
					Outcome:  string(OutcomeRateLimited),
				})
				log.Warn().
					AnErr("last_error", lastFailure).
					Str("url", rawURL).
					Str("strategy", s.Kind().String()).
					Int("attempt", attempt).
					Int("failures", failures).
					Msg("Rate limit denied strategy, abandoning fetch")
				res.StatusCode = lastStatus
				res.Fail(ErrRateLimited)
				return res
			}

			start := e.now()
			resp, err := s.Execute(ctx, target)
			latency := e.now().Sub(start)

			fa := FetchAttempt{
				URL:          rawURL,
				Strategy:     s.Kind(),
				AttemptIndex: attempt,
				LatencyMs:    latency.Milliseconds(),
			}
			if resp != nil {
				fa.StatusCode = resp.StatusCode
			}

			if err == nil && resp != nil {
				fa.Outcome = OutcomeSuccess
				res.Attempts = append(res.Attempts, fa)
				observability.RecordStrategy(ctx, observability.StrategyMetrics{
					Strategy: s.Kind().String(),
					Outcome:  string(fa.Outcome),
					Latency:  latency,
				})

				res.Success = true
				res.StatusCode = resp.StatusCode
				res.StrategyUsed = s.Kind().String()
				res.Proxy = resp.Proxy
				res.Body = resp.Body
				res.Headers = resp.Headers
				res.Performance = resp.Performance

				log.Info().
					Str("url", rawURL).
					Str("strategy", res.StrategyUsed).
					Int("attempt", attempt).
					Int("status", resp.StatusCode).
					Dur("duration_ms", latency).
					Msg("Fetched URL")
				return res
			}

			if err == nil {
				err = fmt.Errorf("%w: empty response", ErrNetwork)
			}
			failures++
			lastFailure = &FetchError{Strategy: s.Kind(), Err: err}

			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				fa.Outcome = OutcomeHTTPError
				lastStatus = httpErr.StatusCode
			} else {
				fa.Outcome = OutcomeNetworkError
			}
			fa.Error = err.Error()
			res.Attempts = append(res.Attempts, fa)

			observability.RecordStrategy(ctx, observability.StrategyMetrics{
				Strategy: s.Kind().String(),
				Outcome:  string(fa.Outcome),
				Latency:  latency,
			})
			log.Debug().
				Err(err).
				Str("url", rawURL).
				Str("strategy", s.Kind().String()).
				Int("attempt", attempt).
				Int("status", fa.StatusCode).
				Msg("Strategy failed")
		}
	}

	if ctx.Err() != nil {
		return e.cancelled(res)
	}

	res.StatusCode = lastStatus
	res.Fail(ErrExhaustedRetries)

	log.Warn().
		AnErr("last_error", lastFailure).
		Str("url", rawURL).
		Int("attempts", opts.MaxAttempts).
		Int("failures", failures).
		Str("error_kind", res.ErrorKind).
		Msg("All strategies failed")
	return res
}

func (e *Executor) cancelled(res *ScrapeResult) *ScrapeResult {
	res.Fail(ErrCancelled)
	log.Debug().Str("url", res.URL).Msg("Fetch cancelled")
	return res
}
