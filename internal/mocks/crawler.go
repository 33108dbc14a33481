package mocks

import (
	"context"

	"github.com/Harvey-AU/legal-archive-scraper/internal/crawler"
	"github.com/stretchr/testify/mock"
)

// MockFetcher is a mock implementation of scraper.Fetcher
type MockFetcher struct {
	mock.Mock
}

// Fetch mocks the Fetch method
func (m *MockFetcher) Fetch(ctx context.Context, rawURL string, opts crawler.Options) *crawler.ScrapeResult {
	args := m.Called(ctx, rawURL, opts)

	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(*crawler.ScrapeResult)
}
