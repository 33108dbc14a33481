package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "legal-archive-scraper/scraper"

// Config controls observability initialisation.
type Config struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

var (
	initOnce sync.Once

	scrapeTracer trace.Tracer

	scrapeDuration  metric.Float64Histogram
	scrapeTotal     metric.Int64Counter
	strategyTotal   metric.Int64Counter
	strategyLatency metric.Float64Histogram
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "legal-archive-scraper"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{
			endpointOption(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			// Tracing is optional; keep serving without it.
			log.Warn().Err(err).Str("endpoint", cfg.OTLPEndpoint).Msg("Failed to create OTLP trace exporter, traces disabled")
		} else {
			spanExporter = exp
			log.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("OTLP trace exporter initialised")
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		scrapeTracer = tracerProvider.Tracer(instrumentationName)
		if err := initScrapeInstruments(meterProvider); err != nil {
			log.Warn().Err(err).Msg("Failed to create scrape instruments")
		}
	})

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     prop,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
		Config:         cfg,
	}, nil
}

func endpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// WrapHandler applies OpenTelemetry instrumentation to an http.Handler when the providers are active.
func WrapHandler(handler http.Handler, prov *Providers) http.Handler {
	if prov == nil || prov.TracerProvider == nil {
		return handler
	}

	options := []otelhttp.Option{
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	}

	return otelhttp.NewHandler(handler, "http.server", options...)
}

func initScrapeInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter(instrumentationName)

	var err error
	scrapeDuration, err = meter.Float64Histogram(
		"scraper.scrape.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to fetch, extract and classify one URL"),
	)
	if err != nil {
		return err
	}

	scrapeTotal, err = meter.Int64Counter(
		"scraper.scrape.total",
		metric.WithDescription("Counts scrape outcomes"),
	)
	if err != nil {
		return err
	}

	strategyTotal, err = meter.Int64Counter(
		"scraper.strategy.total",
		metric.WithDescription("Counts strategy invocations by outcome"),
	)
	if err != nil {
		return err
	}

	strategyLatency, err = meter.Float64Histogram(
		"scraper.strategy.latency_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of individual strategy invocations"),
	)
	return err
}

// ScrapeSpanInfo describes the attributes used when starting a scrape span.
type ScrapeSpanInfo struct {
	URL  string
	Host string
}

// ScrapeMetrics describes a finished scrape for metric recording.
type ScrapeMetrics struct {
	Host      string
	Strategy  string
	ErrorKind string
	Success   bool
	Duration  time.Duration
}

// StrategyMetrics describes one strategy invocation.
type StrategyMetrics struct {
	Strategy string
	Outcome  string
	Latency  time.Duration
}

// StartScrapeSpan starts a span for a single URL scrape.
func StartScrapeSpan(ctx context.Context, info ScrapeSpanInfo) (context.Context, trace.Span) {
	t := scrapeTracer
	if t == nil {
		t = otel.Tracer(instrumentationName)
	}

	return t.Start(ctx, "scraper.scrape_url", trace.WithAttributes(
		attribute.String("scrape.url", info.URL),
		attribute.String("scrape.host", info.Host),
	))
}

// RecordScrape emits scrape metrics when instrumentation is initialised.
func RecordScrape(ctx context.Context, m ScrapeMetrics) {
	status := "success"
	if !m.Success {
		status = "failed"
	}
	attrs := metric.WithAttributes(
		attribute.String("scrape.host", m.Host),
		attribute.String("scrape.status", status),
		attribute.String("scrape.strategy", m.Strategy),
		attribute.String("scrape.error_kind", m.ErrorKind),
	)

	if scrapeDuration != nil {
		scrapeDuration.Record(ctx, float64(m.Duration.Milliseconds()), attrs)
	}
	if scrapeTotal != nil {
		scrapeTotal.Add(ctx, 1, attrs)
	}
}

// RecordStrategy emits per-strategy outcome metrics when instrumentation is initialised.
func RecordStrategy(ctx context.Context, m StrategyMetrics) {
	attrs := metric.WithAttributes(
		attribute.String("strategy.name", m.Strategy),
		attribute.String("strategy.outcome", m.Outcome),
	)

	if strategyTotal != nil {
		strategyTotal.Add(ctx, 1, attrs)
	}
	if strategyLatency != nil {
		strategyLatency.Record(ctx, float64(m.Latency.Milliseconds()), attrs)
	}
}
