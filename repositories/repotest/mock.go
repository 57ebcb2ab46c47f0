// Package repotest provides a testify mock of the record store for service
// and handler tests.
package repotest

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/repositories"
)

// MockCallRecordRepository is a mock implementation of CallRecordRepository.
// Inserted records are kept in Inserted for inspection.
type MockCallRecordRepository struct {
	mock.Mock

	mu       sync.Mutex
	Inserted []*models.CallRecord
}

var _ repositories.CallRecordRepository = (*MockCallRecordRepository)(nil)

func (m *MockCallRecordRepository) Insert(ctx context.Context, record *models.CallRecord) (int64, error) {
	args := m.Called(ctx, record)

	m.mu.Lock()
	defer m.mu.Unlock()
	if args.Error(1) == nil {
		record.ID = int64(len(m.Inserted) + 1)
		m.Inserted = append(m.Inserted, record)
	}
	return record.ID, args.Error(1)
}

// InsertedRecords returns a snapshot of the records accepted by Insert
func (m *MockCallRecordRepository) InsertedRecords() []*models.CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.CallRecord(nil), m.Inserted...)
}

func (m *MockCallRecordRepository) GetByID(ctx context.Context, id int64) (*models.CallRecord, error) {
	args := m.Called(ctx, id)
	if record := args.Get(0); record != nil {
		return record.(*models.CallRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallRecordRepository) ListRecent(ctx context.Context, limit int) ([]*models.CallRecord, error) {
	args := m.Called(ctx, limit)
	if records := args.Get(0); records != nil {
		return records.([]*models.CallRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallRecordRepository) ListRecentErrors(ctx context.Context, limit int) ([]*models.CallRecord, error) {
	args := m.Called(ctx, limit)
	if records := args.Get(0); records != nil {
		return records.([]*models.CallRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallRecordRepository) UpdateFeedback(ctx context.Context, id int64, rating *int, comment *string) (bool, error) {
	args := m.Called(ctx, id, rating, comment)
	return args.Bool(0), args.Error(1)
}

func (m *MockCallRecordRepository) Stats(ctx context.Context) (*repositories.CallStats, error) {
	args := m.Called(ctx)
	if stats := args.Get(0); stats != nil {
		return stats.(*repositories.CallStats), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallRecordRepository) SessionStats(ctx context.Context, sessionID string) (*repositories.SessionStats, error) {
	args := m.Called(ctx, sessionID)
	if stats := args.Get(0); stats != nil {
		return stats.(*repositories.SessionStats), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallRecordRepository) MostUsedModel(ctx context.Context, sessionID *string) (*string, error) {
	args := m.Called(ctx, sessionID)
	if model := args.Get(0); model != nil {
		return model.(*string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallRecordRepository) LatestLatencyAbove(ctx context.Context, thresholdMs float64) (*models.CallRecord, error) {
	args := m.Called(ctx, thresholdMs)
	if record := args.Get(0); record != nil {
		return record.(*models.CallRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallRecordRepository) LatestTokenSpike(ctx context.Context, tokensIn, tokensOut int) (*models.CallRecord, error) {
	args := m.Called(ctx, tokensIn, tokensOut)
	if record := args.Get(0); record != nil {
		return record.(*models.CallRecord), args.Error(1)
	}
	return nil, args.Error(1)
}
