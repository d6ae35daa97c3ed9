package helpers

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

// MockQueueStore is a testify mock of crawler.QueueStore, for tests that
// assert on exactly which queue calls a code path makes (the CLI's sweep and
// stats commands, mostly). Pipeline-level tests prefer MemStore.
type MockQueueStore struct {
	mock.Mock
}

var _ crawler.QueueStore = (*MockQueueStore)(nil)

// Enqueue implements crawler.QueueStore.
func (m *MockQueueStore) Enqueue(ctx context.Context, items []crawler.QueueItem) (int, error) {
	args := m.Called(ctx, items)
	return args.Int(0), args.Error(1)
}

// LeaseBatch implements crawler.QueueStore.
func (m *MockQueueStore) LeaseBatch(ctx context.Context, n int) ([]crawler.QueueEntry, error) {
	args := m.Called(ctx, n)
	entries, _ := args.Get(0).([]crawler.QueueEntry)
	return entries, args.Error(1)
}

// Complete implements crawler.QueueStore.
func (m *MockQueueStore) Complete(ctx context.Context, id int64, ok bool, errMsg string) error {
	args := m.Called(ctx, id, ok, errMsg)
	return args.Error(0)
}

// Skip implements crawler.QueueStore.
func (m *MockQueueStore) Skip(ctx context.Context, id int64, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

// Interrupt implements crawler.QueueStore.
func (m *MockQueueStore) Interrupt(ctx context.Context, ids []int64) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

// SweepStuck implements crawler.QueueStore.
func (m *MockQueueStore) SweepStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

// CountStuck implements crawler.QueueStore.
func (m *MockQueueStore) CountStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

// IsActivelyQueued implements crawler.QueueStore.
func (m *MockQueueStore) IsActivelyQueued(ctx context.Context, url string) (bool, error) {
	args := m.Called(ctx, url)
	return args.Bool(0), args.Error(1)
}

// Stats implements crawler.QueueStore.
func (m *MockQueueStore) Stats(ctx context.Context) (crawler.QueueStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(crawler.QueueStats), args.Error(1)
}
