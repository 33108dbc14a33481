package batch

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/crawler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind string // "start", "end" or "delay"
	url  string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func newTestScheduler(rec *recorder) *Scheduler {
	s := New()
	s.sleep = func(ctx context.Context, d time.Duration) error {
		rec.add(event{kind: "delay"})
		return ctx.Err()
	}
	return s
}

func TestRunBatchChunksInOrder(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(rec)

	fn := func(ctx context.Context, url string) *crawler.ScrapeResult {
		rec.add(event{kind: "start", url: url})
		time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)
		rec.add(event{kind: "end", url: url})
		return &crawler.ScrapeResult{URL: url, Success: true, StrategyUsed: "direct"}
	}

	urls := []string{"a", "b", "c", "d", "e"}
	results := s.RunBatch(context.Background(), urls, crawler.Options{Concurrency: 2, InterBatchDelayMs: 100}, fn)

	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, urls[i], r.URL)
	}

	// Split the event log on delays: each segment is exactly one chunk.
	var chunks [][]string
	current := []string{}
	delays := 0
	for _, e := range rec.snapshot() {
		switch e.kind {
		case "delay":
			delays++
			chunks = append(chunks, current)
			current = []string{}
		case "start":
			current = append(current, e.url)
		}
	}
	chunks = append(chunks, current)

	assert.Equal(t, 2, delays)
	require.Len(t, chunks, 3)
	assert.ElementsMatch(t, []string{"a", "b"}, chunks[0])
	assert.ElementsMatch(t, []string{"c", "d"}, chunks[1])
	assert.Equal(t, []string{"e"}, chunks[2])
}

func TestRunBatchChunkMembersRunConcurrently(t *testing.T) {
	s := newTestScheduler(&recorder{})

	var inFlight, peak atomic.Int32
	fn := func(ctx context.Context, url string) *crawler.ScrapeResult {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return &crawler.ScrapeResult{URL: url, Success: true}
	}

	s.RunBatch(context.Background(), []string{"1", "2", "3", "4", "5", "6"}, crawler.Options{Concurrency: 3}, fn)

	assert.Equal(t, int32(3), peak.Load())
}

func TestRunBatchFailureDoesNotCancelSiblings(t *testing.T) {
	s := newTestScheduler(&recorder{})

	fn := func(ctx context.Context, url string) *crawler.ScrapeResult {
		switch url {
		case "boom":
			panic("parser exploded")
		case "nil":
			return nil
		case "fail":
			res := &crawler.ScrapeResult{URL: url}
			res.Fail(crawler.ErrExhaustedRetries)
			return res
		}
		return &crawler.ScrapeResult{URL: url, Success: true, StrategyUsed: "proxy"}
	}

	results := s.RunBatch(context.Background(), []string{"ok1", "boom", "fail", "nil", "ok2"}, crawler.Options{Concurrency: 5}, fn)

	require.Len(t, results, 5)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, crawler.ErrorKindInternal, results[1].ErrorKind)
	assert.Contains(t, results[1].Error, "parser exploded")
	assert.Equal(t, crawler.ErrorKindExhaustedRetries, results[2].ErrorKind)
	assert.Equal(t, "nil", results[3].URL)
	assert.False(t, results[3].Success)
	assert.True(t, results[4].Success)
}

func TestRunBatchCancellationStopsNewChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New()
	s.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	var calls atomic.Int32
	fn := func(ctx context.Context, url string) *crawler.ScrapeResult {
		calls.Add(1)
		return &crawler.ScrapeResult{URL: url, Success: true}
	}

	results := s.RunBatch(ctx, []string{"a", "b", "c", "d", "e"}, crawler.Options{Concurrency: 2}, fn)

	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, results, 5)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	for _, r := range results[2:] {
		assert.False(t, r.Success)
		assert.Equal(t, crawler.ErrorKindCancelled, r.ErrorKind)
	}
}

func TestRunBatchEmpty(t *testing.T) {
	rec := &recorder{}
	results := newTestScheduler(rec).RunBatch(context.Background(), nil, crawler.Options{}, func(ctx context.Context, url string) *crawler.ScrapeResult {
		t.Fatal("should not be called")
		return nil
	})

	assert.Empty(t, results)
	assert.Empty(t, rec.snapshot())
}

func TestSummarize(t *testing.T) {
	failed := func(err error) *crawler.ScrapeResult {
		r := &crawler.ScrapeResult{}
		r.Fail(err)
		return r
	}
	results := []*crawler.ScrapeResult{
		{Success: true, StrategyUsed: "direct"},
		{Success: true, StrategyUsed: "direct"},
		{Success: true, StrategyUsed: "cors-relay", Skipped: true},
		failed(crawler.ErrRateLimited),
		failed(crawler.ErrExhaustedRetries),
		{Success: false},
		nil,
	}

	st := Summarize(results)

	assert.Equal(t, 6, st.Total)
	assert.Equal(t, 3, st.Succeeded)
	assert.Equal(t, 3, st.Failed)
	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, map[string]int{"direct": 2, "cors-relay": 1}, st.ByStrategy)
	assert.Equal(t, map[string]int{
		crawler.ErrorKindRateLimited:      1,
		crawler.ErrorKindExhaustedRetries: 1,
		crawler.ErrorKindInternal:         1,
	}, st.ByErrorKind)
	assert.InDelta(t, 0.5, st.SuccessRate, 0.0001)
}
