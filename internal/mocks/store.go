package mocks

import (
	"context"

	"github.com/Harvey-AU/legal-archive-scraper/internal/extract"
	"github.com/Harvey-AU/legal-archive-scraper/internal/store"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of store.Store
type MockStore struct {
	mock.Mock
}

// Put mocks the Put method
func (m *MockStore) Put(ctx context.Context, doc *extract.Document) (string, error) {
	args := m.Called(ctx, doc)
	return args.String(0), args.Error(1)
}

// Get mocks the Get method
func (m *MockStore) Get(ctx context.Context, id string) (*extract.Document, error) {
	args := m.Called(ctx, id)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*extract.Document), args.Error(1)
}

// Search mocks the Search method
func (m *MockStore) Search(ctx context.Context, q store.Query) ([]store.Match, error) {
	args := m.Called(ctx, q)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]store.Match), args.Error(1)
}
