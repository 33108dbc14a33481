package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/api"
	"github.com/Harvey-AU/legal-archive-scraper/internal/classify"
	"github.com/Harvey-AU/legal-archive-scraper/internal/config"
	"github.com/Harvey-AU/legal-archive-scraper/internal/crawler"
	"github.com/Harvey-AU/legal-archive-scraper/internal/dedup"
	"github.com/Harvey-AU/legal-archive-scraper/internal/dns"
	"github.com/Harvey-AU/legal-archive-scraper/internal/extract"
	"github.com/Harvey-AU/legal-archive-scraper/internal/notifications"
	"github.com/Harvey-AU/legal-archive-scraper/internal/observability"
	"github.com/Harvey-AU/legal-archive-scraper/internal/proxypool"
	"github.com/Harvey-AU/legal-archive-scraper/internal/ratelimit"
	"github.com/Harvey-AU/legal-archive-scraper/internal/scraper"
	"github.com/Harvey-AU/legal-archive-scraper/internal/store"
	"github.com/Harvey-AU/legal-archive-scraper/internal/techdetect"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "legal-archive-scraper"

const (
	clientPruneInterval = 5 * time.Minute
	clientMaxIdle       = 10 * time.Minute
	dedupPruneInterval  = 15 * time.Minute
)

func main() {
	// Local env files are optional; real deployments set the environment directly.
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		_ = godotenv.Load()
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg)

	if cfg.App.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.App.SentryDSN,
			Environment:      cfg.App.Env,
			Release:          api.Version,
			TracesSampleRate: sampleRate(cfg.App.Env),
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info().Str("environment", cfg.App.Env).Msg("Sentry initialised")
		}
	} else {
		log.Warn().Msg("SENTRY_DSN not set, error reporting disabled")
	}

	obsProviders := startObservability(cfg)
	if obsProviders != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := obsProviders.Shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
			}
		}()
	}

	healthChecks := make(map[string]api.Pinger)

	docs, closeStore, err := openStore(cfg)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to open document store")
	}
	defer closeStore()
	if p, ok := docs.(api.Pinger); ok {
		healthChecks["store"] = p
	}

	var tracker dedup.Tracker
	if cfg.Storage.RedisAddr != "" {
		rd := dedup.NewRedis(cfg.Storage.RedisAddr, cfg.Storage.DedupTTL)
		defer rd.Close()
		tracker = rd
		healthChecks["redis"] = rd
		log.Info().Str("addr", cfg.Storage.RedisAddr).Msg("Using Redis for recent fetch tracking")
	} else {
		tracker = dedup.NewMemory(cfg.Storage.DedupTTL)
	}

	var detector scraper.TechDetector
	if cfg.Fetch.DetectTech {
		d, err := techdetect.New()
		if err != nil {
			log.Warn().Err(err).Msg("Technology detection unavailable")
		} else {
			detector = d
		}
	}

	pool := proxypool.New(cfg.ProxyConfig())
	resolver := dns.New(cfg.DNSConfig(), nil)
	window := ratelimit.New(cfg.RateLimitConfig())
	crawlerCfg := cfg.CrawlerConfig()
	executor := crawler.NewExecutor(crawlerCfg, window, crawler.DefaultStrategies(crawlerCfg, pool, resolver))

	svc := scraper.New(scraper.Deps{
		Fetcher:    executor,
		Extractor:  extract.New(cfg.ExtractionRules()),
		Classifier: classify.Default(),
		Store:      docs,
		Dedup:      tracker,
		Detector:   detector,
		Pool:       pool,
	})

	notifier := notifications.NewService()
	if cfg.Notifications.SlackWebhookURL != "" {
		notifier.AddChannel(notifications.NewSlackChannel(cfg.Notifications.SlackWebhookURL))
	}

	log.Info().
		Int("proxies", pool.Size()).
		Strs("strategies", strategyNames(executor.Strategies())).
		Int("window_limit", window.Limit()).
		Bool("notifications", notifier.Enabled()).
		Msg("Scraper configured")

	apiHandler := api.NewHandler(svc, docs, api.HandlerConfig{
		Defaults:     cfg.Options(),
		MaxBatchURLs: cfg.API.MaxBatchURLs,
		Notifier:     notifier,
		RetryAfter:   func() time.Duration { return time.Until(window.ResetAt()) },
		HealthChecks: healthChecks,
	})

	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)

	limiter := api.NewClientLimiter(cfg.API.RequestsPerSecond, cfg.API.Burst)
	ctx, stopPruning := context.WithCancel(context.Background())
	defer stopPruning()
	go pruneClients(ctx, limiter)
	if mem, ok := tracker.(*dedup.Memory); ok {
		go pruneRecentFetches(ctx, mem, dedupPruneInterval)
	}

	// Middleware in reverse order (outermost last)
	var handler http.Handler = limiter.Middleware(mux)
	handler = api.RecoveryMiddleware(handler)
	handler = api.LoggingMiddleware(handler)
	handler = api.RequestIDMiddleware(handler)
	handler = api.SecurityHeadersMiddleware(handler)
	handler = api.CrossOriginProtectionMiddleware(handler)
	handler = api.CORSMiddleware(handler)
	handler = observability.WrapHandler(handler, obsProviders)

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		<-stop
		log.Info().Msg("Shutting down server...")

		// Batches in flight can run for minutes; give them a bounded grace period.
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		close(done)
	}()

	log.Info().
		Str("port", cfg.App.Port).
		Str("env", cfg.App.Env).
		Str("health", fmt.Sprintf("http://localhost:%s/health", cfg.App.Port)).
		Msg("Starting server")

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	<-done
	log.Info().Msg("Server stopped")
}

func sampleRate(env string) float64 {
	if env == "production" {
		return 0.1
	}
	return 1.0
}

// startObservability initialises telemetry and serves metrics on their own
// listener. It returns nil when observability is off or failed to start.
func startObservability(cfg *config.Config) *observability.Providers {
	if !cfg.Observability.Enabled {
		return nil
	}

	prov, err := observability.Init(context.Background(), observability.Config{
		Enabled:      true,
		ServiceName:  serviceName,
		Environment:  cfg.App.Env,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		OTLPHeaders:  cfg.OTLPHeaders(),
		OTLPInsecure: cfg.Observability.OTLPInsecure,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise observability providers")
		return nil
	}

	if prov.MetricsHandler != nil && cfg.Observability.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              cfg.Observability.MetricsAddr,
			Handler:           prov.MetricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Observability.MetricsAddr).Msg("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sentry.CaptureException(err)
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()

		shutdown := prov.Shutdown
		prov.Shutdown = func(ctx context.Context) error {
			if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
			}
			return shutdown(ctx)
		}
	}

	return prov
}

// openStore selects the document store from config. The returned close func
// is always non-nil.
func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pg, err := store.OpenPostgres(ctx, store.PostgresConfig{DatabaseURL: cfg.Storage.DatabaseURL})
		if err != nil {
			return nil, func() {}, err
		}
		log.Info().Msg("Connected to PostgreSQL document store")
		return pg, func() {
			if err := pg.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close PostgreSQL connection")
			}
		}, nil
	default:
		log.Info().Msg("Using in-memory document store")
		return store.NewMemory(), func() {}, nil
	}
}

func pruneClients(ctx context.Context, limiter *api.ClientLimiter) {
	ticker := time.NewTicker(clientPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Prune(clientMaxIdle); n > 0 {
				log.Debug().Int("removed", n).Msg("Pruned idle client rate limiters")
			}
		}
	}
}

func pruneRecentFetches(ctx context.Context, seen *dedup.Memory, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, remaining := seen.Prune(); removed > 0 {
				log.Debug().
					Int("removed", removed).
					Int("remaining", remaining).
					Msg("Pruned expired recent fetch entries")
			}
		}
	}
}

func strategyNames(kinds []crawler.Kind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

// setupLogging configures the global logger
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.App.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		return
	}

	log.Logger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}
