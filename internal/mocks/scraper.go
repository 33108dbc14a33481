package mocks

import (
	"context"

	"github.com/Harvey-AU/legal-archive-scraper/internal/crawler"
	"github.com/Harvey-AU/legal-archive-scraper/internal/proxypool"
	"github.com/stretchr/testify/mock"
)

// MockScraper is a mock implementation of api.Scraper
type MockScraper struct {
	mock.Mock
}

// ScrapeOne mocks the ScrapeOne method
func (m *MockScraper) ScrapeOne(ctx context.Context, rawURL string, opts crawler.Options) *crawler.ScrapeResult {
	args := m.Called(ctx, rawURL, opts)

	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(*crawler.ScrapeResult)
}

// ScrapeMany mocks the ScrapeMany method
func (m *MockScraper) ScrapeMany(ctx context.Context, urls []string, opts crawler.Options) []*crawler.ScrapeResult {
	args := m.Called(ctx, urls, opts)

	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]*crawler.ScrapeResult)
}

// ProxyStats mocks the ProxyStats method
func (m *MockScraper) ProxyStats() []proxypool.EndpointStatus {
	args := m.Called()

	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]proxypool.EndpointStatus)
}
