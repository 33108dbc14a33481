package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockTracker is a mock implementation of dedup.Tracker
type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) Seen(ctx context.Context, url string) (bool, error) {
	args := m.Called(ctx, url)
	return args.Bool(0), args.Error(1)
}

func (m *MockTracker) Mark(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}
