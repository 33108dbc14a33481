package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/batch"
	"github.com/Harvey-AU/legal-archive-scraper/internal/crawler"
	"github.com/Harvey-AU/legal-archive-scraper/internal/notifications"
	"github.com/Harvey-AU/legal-archive-scraper/internal/proxypool"
	"github.com/Harvey-AU/legal-archive-scraper/internal/store"
	"github.com/rs/zerolog/log"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "0.1.0"

const (
	serviceName = "legal-archive-scraper"

	// maxRequestBytes bounds request bodies; a full batch of long URLs fits.
	maxRequestBytes = 1 << 20

	notifyTimeout = 10 * time.Second
)

// Scraper is satisfied by *scraper.Service.
type Scraper interface {
	ScrapeOne(ctx context.Context, rawURL string, opts crawler.Options) *crawler.ScrapeResult
	ScrapeMany(ctx context.Context, urls []string, opts crawler.Options) []*crawler.ScrapeResult
	ProxyStats() []proxypool.EndpointStatus
}

// Pinger is a dependency reported by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerConfig carries the optional parts of a Handler.
type HandlerConfig struct {
	Defaults     crawler.Options
	MaxBatchURLs int
	Notifier     *notifications.Service
	// RetryAfter reports how long until the outbound fetch window reopens.
	RetryAfter   func() time.Duration
	HealthChecks map[string]Pinger
}

// Handler holds dependencies for API handlers
type Handler struct {
	scraper Scraper
	docs    store.Store
	cfg     HandlerConfig
}

// NewHandler creates a new API handler. docs may be nil, in which case the
// document endpoints answer 503.
func NewHandler(scraper Scraper, docs store.Store, cfg HandlerConfig) *Handler {
	if cfg.MaxBatchURLs <= 0 {
		cfg.MaxBatchURLs = 200
	}
	if cfg.Defaults == (crawler.Options{}) {
		cfg.Defaults = crawler.DefaultOptions()
	}
	if cfg.RetryAfter == nil {
		cfg.RetryAfter = func() time.Duration { return time.Second }
	}
	return &Handler{scraper: scraper, docs: docs, cfg: cfg}
}

// SetupRoutes configures all API routes
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)

	mux.HandleFunc("/v1/scrape", h.Scrape)
	mux.HandleFunc("/v1/scrape/batch", h.ScrapeBatch)
	mux.HandleFunc("/v1/documents/search", h.SearchDocuments)
	mux.HandleFunc("/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("/v1/proxies", h.ProxyStats)
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		MethodNotAllowed(w, r)
		return
	}

	if len(h.cfg.HealthChecks) == 0 {
		WriteHealthy(w, r, serviceName, Version, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.cfg.HealthChecks))
	healthy := true
	for name, p := range h.cfg.HealthChecks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "healthy"
	}

	if !healthy {
		WriteUnhealthy(w, r, serviceName, checks)
		return
	}
	WriteHealthy(w, r, serviceName, Version, checks)
}

type scrapeRequest struct {
	URL     string          `json:"url"`
	Options json.RawMessage `json:"options,omitempty"`
}

type batchRequest struct {
	URLs    []string        `json:"urls"`
	Options json.RawMessage `json:"options,omitempty"`
}

// BatchResponse is the body of a batch scrape.
type BatchResponse struct {
	Results []*crawler.ScrapeResult `json:"results"`
	Stats   batch.Stats             `json:"stats"`
}

// options overlays the supplied JSON onto the configured defaults so omitted
// fields keep their default values.
func (h *Handler) options(raw json.RawMessage) (crawler.Options, error) {
	opts := h.cfg.Defaults
	if len(raw) == 0 || string(raw) == "null" {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return opts, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON request body: %w", err)
	}
	return nil
}

// Scrape handles POST /v1/scrape
func (h *Handler) Scrape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req scrapeRequest
	if err := decodeBody(w, r, &req); err != nil {
		BadRequest(w, r, err.Error())
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		WriteErrorMessage(w, r, "url is required", http.StatusBadRequest, ErrCodeValidation)
		return
	}
	opts, err := h.options(req.Options)
	if err != nil {
		BadRequest(w, r, err.Error())
		return
	}

	res := h.scraper.ScrapeOne(r.Context(), req.URL, opts)

	switch res.ErrorKind {
	case crawler.ErrorKindInvalidURL:
		WriteErrorMessage(w, r, res.Error, http.StatusBadRequest, ErrCodeInvalidURL)
	case crawler.ErrorKindRateLimited:
		TooManyRequests(w, r, res.Error, h.cfg.RetryAfter())
	case crawler.ErrorKindCancelled:
		ServiceUnavailable(w, r, res.Error)
	default:
		message := "Document fetched"
		if !res.Success {
			message = "All fetch strategies failed"
		} else if res.Skipped {
			message = "Recently fetched, skipped"
		}
		WriteSuccess(w, r, res, message)
	}
}

// ScrapeBatch handles POST /v1/scrape/batch
func (h *Handler) ScrapeBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		BadRequest(w, r, err.Error())
		return
	}
	if len(req.URLs) == 0 {
		WriteErrorMessage(w, r, "urls must not be empty", http.StatusBadRequest, ErrCodeValidation)
		return
	}
	if len(req.URLs) > h.cfg.MaxBatchURLs {
		WriteErrorMessage(w, r,
			fmt.Sprintf("too many urls: %d (max %d)", len(req.URLs), h.cfg.MaxBatchURLs),
			http.StatusBadRequest, ErrCodeValidation)
		return
	}
	opts, err := h.options(req.Options)
	if err != nil {
		BadRequest(w, r, err.Error())
		return
	}

	start := time.Now()
	results := h.scraper.ScrapeMany(r.Context(), req.URLs, opts)
	stats := batch.Summarize(results)

	log.Info().
		Str("request_id", GetRequestID(r)).
		Int("total", stats.Total).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Dur("duration", time.Since(start)).
		Msg("Batch scrape finished")

	h.notifyBatch(r, results, stats, time.Since(start))

	WriteSuccess(w, r, BatchResponse{Results: results, Stats: stats},
		fmt.Sprintf("%d of %d documents fetched", stats.Succeeded, stats.Total))
}

// notifyBatch sends the summary without holding up the response.
func (h *Handler) notifyBatch(r *http.Request, results []*crawler.ScrapeResult, stats batch.Stats, took time.Duration) {
	if !h.cfg.Notifier.Enabled() {
		return
	}

	var failed []string
	for _, res := range results {
		if res != nil && !res.Success {
			failed = append(failed, res.URL)
		}
	}
	summary := notifications.NewBatchSummary(stats, took, failed)

	ctx := context.WithoutCancel(r.Context())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		h.cfg.Notifier.NotifyBatch(ctx, summary)
	}()
}

// SearchResponse is the body of a document search.
type SearchResponse struct {
	Query    string        `json:"query"`
	Category string        `json:"category,omitempty"`
	Count    int           `json:"count"`
	Matches  []store.Match `json:"matches"`
}

// SearchDocuments handles GET /v1/documents/search?q=&category=&limit=
func (h *Handler) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}
	if h.docs == nil {
		ServiceUnavailable(w, r, "Document store is not configured")
		return
	}

	params := r.URL.Query()
	q := store.Query{
		Text:     strings.TrimSpace(params.Get("q")),
		Category: strings.TrimSpace(params.Get("category")),
	}
	if q.Text == "" {
		WriteErrorMessage(w, r, "q is required", http.StatusBadRequest, ErrCodeValidation)
		return
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteErrorMessage(w, r, "limit must be a non-negative integer", http.StatusBadRequest, ErrCodeValidation)
			return
		}
		q.Limit = limit
	}

	matches, err := h.docs.Search(r.Context(), q)
	if err != nil {
		StoreError(w, r, err)
		return
	}
	if matches == nil {
		matches = []store.Match{}
	}

	WriteSuccess(w, r, SearchResponse{
		Query:    q.Text,
		Category: q.Category,
		Count:    len(matches),
		Matches:  matches,
	}, "")
}

// GetDocument handles GET /v1/documents/{id}
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}
	if h.docs == nil {
		ServiceUnavailable(w, r, "Document store is not configured")
		return
	}

	id := r.PathValue("id")
	doc, err := h.docs.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		NotFound(w, r, "Document not found")
		return
	}
	if err != nil {
		StoreError(w, r, err)
		return
	}

	WriteSuccess(w, r, doc, "")
}

// ProxyStatsResponse lists the pool endpoints.
type ProxyStatsResponse struct {
	Endpoints []proxypool.EndpointStatus `json:"endpoints"`
	Excluded  int                        `json:"excluded"`
}

// ProxyStats handles GET /v1/proxies
func (h *Handler) ProxyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	endpoints := h.scraper.ProxyStats()
	excluded := 0
	for _, ep := range endpoints {
		if ep.Excluded {
			excluded++
		}
	}

	WriteSuccess(w, r, ProxyStatsResponse{Endpoints: endpoints, Excluded: excluded}, "")
}
