// Package scraper wires fetching, extraction, classification and persistence
// into the scrapeOne/scrapeMany operations exposed to callers.
package scraper

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/batch"
	"github.com/Harvey-AU/legal-archive-scraper/internal/classify"
	"github.com/Harvey-AU/legal-archive-scraper/internal/crawler"
	"github.com/Harvey-AU/legal-archive-scraper/internal/dedup"
	"github.com/Harvey-AU/legal-archive-scraper/internal/extract"
	"github.com/Harvey-AU/legal-archive-scraper/internal/observability"
	"github.com/Harvey-AU/legal-archive-scraper/internal/proxypool"
	"github.com/Harvey-AU/legal-archive-scraper/internal/store"
	"github.com/Harvey-AU/legal-archive-scraper/internal/util"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Fetcher is satisfied by *crawler.Executor.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts crawler.Options) *crawler.ScrapeResult
}

// TechDetector is satisfied by *techdetect.Detector.
type TechDetector interface {
	Detect(headers http.Header, body []byte) map[string][]string
}

// Deps are the collaborators of a Service. Store, Dedup, Detector and Pool are
// optional.
type Deps struct {
	Fetcher    Fetcher
	Extractor  *extract.Extractor
	Classifier *classify.Classifier
	Store      store.Store
	Dedup      dedup.Tracker
	Detector   TechDetector
	Pool       *proxypool.Pool
	Scheduler  *batch.Scheduler
}

// Service is safe for concurrent use.
type Service struct {
	fetcher    Fetcher
	extractor  *extract.Extractor
	classifier *classify.Classifier
	store      store.Store
	dedup      dedup.Tracker
	detector   TechDetector
	pool       *proxypool.Pool
	scheduler  *batch.Scheduler

	now func() time.Time
}

func New(deps Deps) *Service {
	s := &Service{
		fetcher:    deps.Fetcher,
		extractor:  deps.Extractor,
		classifier: deps.Classifier,
		store:      deps.Store,
		dedup:      deps.Dedup,
		detector:   deps.Detector,
		pool:       deps.Pool,
		scheduler:  deps.Scheduler,
		now:        time.Now,
	}
	if s.extractor == nil {
		s.extractor = extract.New(nil)
	}
	if s.classifier == nil {
		s.classifier = classify.Default()
	}
	if s.scheduler == nil {
		s.scheduler = batch.New()
	}
	return s
}

// ScrapeOne fetches, extracts, classifies and optionally stores one URL. The
// result is never nil and failures are reported on it, not returned.
func (s *Service) ScrapeOne(ctx context.Context, rawURL string, opts crawler.Options) *crawler.ScrapeResult {
	start := s.now()
	host := util.Hostname(rawURL)

	ctx, span := observability.StartScrapeSpan(ctx, observability.ScrapeSpanInfo{URL: rawURL, Host: host})
	defer span.End()

	if opts.SkipRecent && s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, rawURL)
		if err != nil {
			log.Warn().Err(err).Str("url", rawURL).Msg("Recent fetch check failed, fetching anyway")
		} else if seen {
			log.Debug().Str("url", rawURL).Msg("Skipping recently fetched URL")
			span.SetAttributes(attribute.Bool("scrape.skipped", true))
			return &crawler.ScrapeResult{
				URL:       rawURL,
				Success:   true,
				Skipped:   true,
				Timestamp: start.Unix(),
			}
		}
	}

	res := s.fetcher.Fetch(ctx, rawURL, opts)
	if res.Success {
		s.process(ctx, res, opts)
	}

	span.SetAttributes(
		attribute.Bool("scrape.success", res.Success),
		attribute.String("scrape.strategy", res.StrategyUsed),
		attribute.Int("scrape.attempts", len(res.Attempts)),
	)
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}

	observability.RecordScrape(ctx, observability.ScrapeMetrics{
		Host:      host,
		Strategy:  res.StrategyUsed,
		ErrorKind: res.ErrorKind,
		Success:   res.Success,
		Duration:  s.now().Sub(start),
	})

	res.Body = nil
	return res
}

func (s *Service) process(ctx context.Context, res *crawler.ScrapeResult, opts crawler.Options) {
	doc := s.extractor.Extract(string(res.Body), res.URL)
	if doc.Degraded {
		log.Info().
			Err(crawler.ErrExtractionDegraded).
			Str("url", res.URL).
			Msg("No host rule matched the page content")
	}

	doc.LegalCategories = s.classifier.Classify(doc.Title + "\n" + doc.Content)
	slices.SortStableFunc(doc.LegalCategories, func(a, b classify.CategoryScore) int {
		return b.Score - a.Score
	})
	doc.Relevance = classify.Relevance(doc.LegalCategories)
	res.Document = doc

	top := classify.Top(doc.LegalCategories)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("scrape.top_category", top),
		attribute.Int("scrape.relevance", doc.Relevance),
	)
	log.Debug().
		Str("url", res.URL).
		Str("top_category", top).
		Int("relevance", doc.Relevance).
		Msg("Document classified")

	if opts.DetectTech && s.detector != nil {
		res.Technologies = s.detector.Detect(res.Headers, res.Body)
	}

	if !opts.SkipPersist && s.store != nil {
		id, err := s.store.Put(ctx, doc)
		if err != nil {
			// Left unmarked so the next request fetches it again.
			log.Error().Err(err).Str("url", res.URL).Msg("Failed to store document")
			return
		}
		doc.ID = id
	}

	if s.dedup != nil {
		if err := s.dedup.Mark(ctx, res.URL); err != nil {
			log.Warn().Err(err).Str("url", res.URL).Msg("Failed to record fetch")
		}
	}
}

// ScrapeMany runs ScrapeOne over urls through the batch scheduler. Results are
// in input order.
func (s *Service) ScrapeMany(ctx context.Context, urls []string, opts crawler.Options) []*crawler.ScrapeResult {
	return s.scheduler.RunBatch(ctx, urls, opts, func(ctx context.Context, u string) *crawler.ScrapeResult {
		return s.ScrapeOne(ctx, u, opts)
	})
}

// ProxyStats snapshots the proxy pool. It is empty when no pool is configured.
func (s *Service) ProxyStats() []proxypool.EndpointStatus {
	if s.pool == nil {
		return []proxypool.EndpointStatus{}
	}
	return s.pool.Stats()
}
