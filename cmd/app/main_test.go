package main

import (
	"context"
	"testing"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/api"
	"github.com/Harvey-AU/legal-archive-scraper/internal/config"
	"github.com/Harvey-AU/legal-archive-scraper/internal/crawler"
	"github.com/Harvey-AU/legal-archive-scraper/internal/dedup"
	"github.com/Harvey-AU/legal-archive-scraper/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRate(t *testing.T) {
	assert.Equal(t, 0.1, sampleRate("production"))
	assert.Equal(t, 1.0, sampleRate("staging"))
	assert.Equal(t, 1.0, sampleRate("development"))
}

func TestStrategyNames(t *testing.T) {
	names := strategyNames([]crawler.Kind{crawler.KindDirect, crawler.KindProxy, crawler.KindCrawlerAgent})
	assert.Equal(t, []string{"direct", "proxy", "crawler-agent"}, names)
}

func TestOpenStoreMemory(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "memory"}}

	docs, closeStore, err := openStore(cfg)
	require.NoError(t, err)
	require.NotNil(t, closeStore)
	defer closeStore()

	assert.IsType(t, &store.Memory{}, docs)
}

func TestOpenStorePostgresRequiresURL(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "postgres"}}

	_, closeStore, err := openStore(cfg)
	assert.Error(t, err)
	assert.NotNil(t, closeStore)
}

func TestSetupLogging(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	setupLogging(&config.Config{App: config.AppConfig{Env: "production", LogLevel: "debug"}})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	setupLogging(&config.Config{App: config.AppConfig{Env: "test", LogLevel: "loud"}})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestStartObservabilityDisabled(t *testing.T) {
	assert.Nil(t, startObservability(&config.Config{}))
}

func TestPruneClientsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pruneClients(ctx, api.NewClientLimiter(1, 1))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruneClients did not return after cancel")
	}
}

func TestPruneRecentFetchesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seen := dedup.NewMemory(time.Nanosecond)
	require.NoError(t, seen.Mark(ctx, "https://eadl.ir/a"))

	done := make(chan struct{})
	go func() {
		pruneRecentFetches(ctx, seen, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, remaining := seen.Prune()
		return remaining == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruneRecentFetches did not return after cancel")
	}
}
