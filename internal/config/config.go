// Package config loads service configuration from defaults, an optional YAML
// file and the environment, then validates it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/crawler"
	"github.com/Harvey-AU/legal-archive-scraper/internal/dns"
	"github.com/Harvey-AU/legal-archive-scraper/internal/extract"
	"github.com/Harvey-AU/legal-archive-scraper/internal/proxypool"
	"github.com/Harvey-AU/legal-archive-scraper/internal/ratelimit"
	"github.com/Harvey-AU/legal-archive-scraper/internal/util"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "SCRAPER"

type Config struct {
	App           AppConfig           `mapstructure:"app" validate:"required"`
	API           APIConfig           `mapstructure:"api" validate:"required"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit" validate:"required"`
	Fetch         FetchConfig         `mapstructure:"fetch" validate:"required"`
	Proxies       ProxiesConfig       `mapstructure:"proxies"`
	DNS           DNSConfig           `mapstructure:"dns" validate:"required"`
	Batch         BatchConfig         `mapstructure:"batch" validate:"required"`
	Storage       StorageConfig       `mapstructure:"storage" validate:"required"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Extraction    []HostRules         `mapstructure:"extraction_rules" validate:"dive"`
}

type AppConfig struct {
	Port      string `mapstructure:"port" validate:"required,numeric"`
	Env       string `mapstructure:"env" validate:"required,oneof=development staging production test"`
	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=trace debug info warn error"`
	SentryDSN string `mapstructure:"sentry_dsn" validate:"omitempty,url"`
}

// APIConfig bounds inbound traffic per client IP.
type APIConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"min=1"`
	MaxBatchURLs      int     `mapstructure:"max_batch_urls" validate:"min=1,max=1000"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit" validate:"min=1"`
	Window time.Duration `mapstructure:"window" validate:"min=1s"`
}

type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" validate:"min=1s,max=5m"`
	MaxAttempts   int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	StrategyDelay time.Duration `mapstructure:"strategy_delay" validate:"min=0"`
	AttemptDelay  time.Duration `mapstructure:"attempt_delay" validate:"min=0"`
	UseProxy      bool          `mapstructure:"use_proxy"`
	UseDNS        bool          `mapstructure:"use_dns"`
	UseCorsRelay  bool          `mapstructure:"use_cors_relay"`
	DetectTech    bool          `mapstructure:"detect_tech"`
	CorsRelays    []string      `mapstructure:"cors_relays" validate:"dive,url"`
}

type ProxiesConfig struct {
	Iranian       []string `mapstructure:"iranian" validate:"dive,url"`
	International []string `mapstructure:"international" validate:"dive,url"`
}

type DNSConfig struct {
	Providers []string      `mapstructure:"providers" validate:"min=1,dive,url"`
	Fanout    int           `mapstructure:"fanout" validate:"min=1,max=10"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"min=100ms,max=1m"`
}

type BatchConfig struct {
	Concurrency     int           `mapstructure:"concurrency" validate:"min=1,max=50"`
	InterBatchDelay time.Duration `mapstructure:"inter_batch_delay" validate:"min=0"`
}

type StorageConfig struct {
	Driver      string        `mapstructure:"driver" validate:"required,oneof=memory postgres"`
	DatabaseURL string        `mapstructure:"database_url" validate:"required_if=Driver postgres"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	DedupTTL    time.Duration `mapstructure:"dedup_ttl" validate:"min=1m"`
}

type ObservabilityConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string `mapstructure:"otlp_headers"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

type NotificationsConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url" validate:"omitempty,url"`
}

// HostRules is one extraction rule set in list form. Hosts contain dots, which
// viper treats as key separators, so rules cannot be keyed by host in YAML.
type HostRules struct {
	Host            string `mapstructure:"host" validate:"required"`
	extract.RuleSet `mapstructure:",squash"`
}

// bareEnv are the unprefixed variable names shared with other deployments.
var bareEnv = map[string]string{
	"app.port":                        "PORT",
	"app.env":                         "APP_ENV",
	"app.log_level":                   "LOG_LEVEL",
	"app.sentry_dsn":                  "SENTRY_DSN",
	"storage.database_url":            "DATABASE_URL",
	"storage.redis_addr":              "REDIS_ADDR",
	"observability.metrics_addr":      "METRICS_ADDR",
	"observability.otlp_endpoint":     "OTEL_EXPORTER_OTLP_ENDPOINT",
	"observability.otlp_headers":      "OTEL_EXPORTER_OTLP_HEADERS",
	"observability.otlp_insecure":     "OTEL_EXPORTER_OTLP_INSECURE",
	"notifications.slack_webhook_url": "SLACK_WEBHOOK_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.sentry_dsn", "")

	v.SetDefault("api.requests_per_second", 20)
	v.SetDefault("api.burst", 10)
	v.SetDefault("api.max_batch_urls", 200)

	rl := ratelimit.DefaultConfig()
	v.SetDefault("rate_limit.limit", rl.Limit)
	v.SetDefault("rate_limit.window", rl.Window)

	opts := crawler.DefaultOptions()
	cc := crawler.DefaultConfig()
	v.SetDefault("fetch.timeout", opts.Timeout())
	v.SetDefault("fetch.max_attempts", opts.MaxAttempts)
	v.SetDefault("fetch.strategy_delay", cc.StrategyDelay)
	v.SetDefault("fetch.attempt_delay", cc.AttemptDelay)
	v.SetDefault("fetch.use_proxy", !opts.DisableProxy)
	v.SetDefault("fetch.use_dns", !opts.DisableDNS)
	v.SetDefault("fetch.use_cors_relay", !opts.DisableCorsRelay)
	v.SetDefault("fetch.detect_tech", false)
	v.SetDefault("fetch.cors_relays", cc.CorsRelays)

	v.SetDefault("proxies.iranian", []string{})
	v.SetDefault("proxies.international", []string{})

	dc := dns.DefaultConfig()
	v.SetDefault("dns.providers", dc.Providers)
	v.SetDefault("dns.fanout", dc.Fanout)
	v.SetDefault("dns.timeout", dc.Timeout)

	v.SetDefault("batch.concurrency", opts.Concurrency)
	v.SetDefault("batch.inter_batch_delay", time.Duration(opts.InterBatchDelayMs)*time.Millisecond)

	v.SetDefault("storage.driver", "")
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.dedup_ttl", 24*time.Hour)

	v.SetDefault("observability.enabled", true)
	v.SetDefault("observability.metrics_addr", ":9464")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_headers", "")
	v.SetDefault("observability.otlp_insecure", false)

	v.SetDefault("notifications.slack_webhook_url", "")
}

// Load reads configuration. An empty configPath searches for config.yaml in the
// working directory and ./config; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range bareEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug().Msg("No config file found, using defaults and environment variables")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
		if cfg.Storage.DatabaseURL != "" {
			cfg.Storage.Driver = "postgres"
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Options returns the default per-call fetch options.
func (c *Config) Options() crawler.Options {
	return crawler.Options{
		TimeoutMs:         int(c.Fetch.Timeout / time.Millisecond),
		MaxAttempts:       c.Fetch.MaxAttempts,
		DisableProxy:      !c.Fetch.UseProxy,
		DisableDNS:        !c.Fetch.UseDNS,
		DisableCorsRelay:  !c.Fetch.UseCorsRelay,
		Concurrency:       c.Batch.Concurrency,
		InterBatchDelayMs: int(c.Batch.InterBatchDelay / time.Millisecond),
		DetectTech:        c.Fetch.DetectTech,
	}
}

func (c *Config) CrawlerConfig() crawler.Config {
	cc := crawler.DefaultConfig()
	cc.StrategyDelay = c.Fetch.StrategyDelay
	cc.AttemptDelay = c.Fetch.AttemptDelay
	cc.DefaultTimeout = c.Fetch.Timeout
	if len(c.Fetch.CorsRelays) > 0 {
		cc.CorsRelays = c.Fetch.CorsRelays
	}
	return cc
}

func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{Limit: c.RateLimit.Limit, Window: c.RateLimit.Window}
}

func (c *Config) DNSConfig() dns.Config {
	return dns.Config{Providers: c.DNS.Providers, Fanout: c.DNS.Fanout, Timeout: c.DNS.Timeout}
}

// ProxyConfig builds the pool config. CORS relays join the pool as a third
// endpoint class.
func (c *Config) ProxyConfig() proxypool.Config {
	return proxypool.Config{
		Iranian:       c.Proxies.Iranian,
		International: c.Proxies.International,
		CorsRelays:    c.Fetch.CorsRelays,
	}
}

// ExtractionRules merges configured rules over the built-in ones. Hosts are
// normalised, so "www." and ports in config are ignored.
func (c *Config) ExtractionRules() map[string]extract.RuleSet {
	rules := extract.DefaultRules()
	for _, hr := range c.Extraction {
		rules[util.NormaliseHost(hr.Host)] = hr.RuleSet
	}
	return rules
}

// OTLPHeaders parses "k=v,k2=v2".
func (c *Config) OTLPHeaders() map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(c.Observability.OTLPHeaders, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
