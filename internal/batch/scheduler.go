// Package batch drives scrapes over a URL list in fixed-size concurrent chunks
// with pacing between chunks.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/crawler"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// ScrapeFunc scrapes one URL. It must return a non-nil result.
type ScrapeFunc func(ctx context.Context, url string) *crawler.ScrapeResult

// Scheduler has no shared state of its own; one instance can run many batches.
type Scheduler struct {
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a Scheduler.
func New() *Scheduler {
	return &Scheduler{
		sleep: sleepContext,
		now:   time.Now,
	}
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

// RunBatch partitions urls into chunks of opts.Concurrency, runs each chunk's
// members concurrently and waits for all of them before pausing
// opts.InterBatchDelayMs and starting the next chunk. Results are in input order.
// After cancellation no further members are started; those URLs are reported
// with ErrorKind "cancelled".
func (s *Scheduler) RunBatch(ctx context.Context, urls []string, opts crawler.Options, fn ScrapeFunc) []*crawler.ScrapeResult {
	opts = opts.Normalise()
	results := make([]*crawler.ScrapeResult, len(urls))
	size := opts.Concurrency
	delay := time.Duration(opts.InterBatchDelayMs) * time.Millisecond
	chunks := (len(urls) + size - 1) / size

	log.Info().
		Int("urls", len(urls)).
		Int("concurrency", size).
		Int("chunks", chunks).
		Msg("Starting batch")

	for chunk := 0; chunk < chunks; chunk++ {
		start := chunk * size
		end := min(start+size, len(urls))

		if chunk > 0 {
			if err := s.sleep(ctx, delay); err != nil {
				s.markCancelled(results, urls, start)
				break
			}
		}
		if ctx.Err() != nil {
			s.markCancelled(results, urls, start)
			break
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				results[i] = s.cancelledResult(urls[i])
				continue
			}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = s.runMember(ctx, urls[i], fn)
			}(i)
		}
		wg.Wait()

		log.Debug().
			Int("chunk", chunk+1).
			Int("of", chunks).
			Int("size", end-start).
			Msg("Batch chunk settled")
	}

	stats := Summarize(results)
	log.Info().
		Int("total", stats.Total).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Msg("Batch finished")

	return results
}

func (s *Scheduler) runMember(ctx context.Context, url string, fn ScrapeFunc) (res *crawler.ScrapeResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while scraping %s: %v", url, r)
			sentry.CaptureException(err)
			log.Error().
				Interface("panic", r).
				Str("url", url).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in batch member")

			res = &crawler.ScrapeResult{URL: url, Timestamp: s.now().Unix()}
			res.Fail(err)
		}
	}()

	res = fn(ctx, url)
	if res == nil {
		res = &crawler.ScrapeResult{URL: url, Timestamp: s.now().Unix()}
		res.Fail(errors.New("scrape returned no result"))
	}
	return res
}

func (s *Scheduler) markCancelled(results []*crawler.ScrapeResult, urls []string, from int) {
	for i := from; i < len(urls); i++ {
		results[i] = s.cancelledResult(urls[i])
	}
	log.Info().Int("not_started", len(urls)-from).Msg("Batch cancelled")
}

func (s *Scheduler) cancelledResult(url string) *crawler.ScrapeResult {
	res := &crawler.ScrapeResult{URL: url, Timestamp: s.now().Unix()}
	res.Fail(crawler.ErrCancelled)
	return res
}
