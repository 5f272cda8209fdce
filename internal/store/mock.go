package store

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tallystack/tally/internal/models"
)

// MockStore is a testify/mock implementation of the Store interface.
type MockStore struct {
	mock.Mock
}

// Ensure MockStore satisfies the Store interface at compile time.
var _ Store = (*MockStore)(nil)

// Close mocks the Close method.
func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Ping mocks the Ping method.
func (m *MockStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}

// GetCounter mocks the GetCounter method.
func (m *MockStore) GetCounter(key models.CounterKey) (*models.Counter, error) {
	args := m.Called(key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Counter), args.Error(1)
}

// CreateCounter mocks the CreateCounter method.
func (m *MockStore) CreateCounter(c *models.Counter) error {
	args := m.Called(c)
	return args.Error(0)
}

// UpdateCounter mocks the UpdateCounter method.
func (m *MockStore) UpdateCounter(c *models.Counter) error {
	args := m.Called(c)
	return args.Error(0)
}

// UpsertCounters mocks the UpsertCounters method.
func (m *MockStore) UpsertCounters(cs []*models.Counter) error {
	args := m.Called(cs)
	return args.Error(0)
}

// ListCounters mocks the ListCounters method.
func (m *MockStore) ListCounters(q CounterQuery) ([]*models.Counter, error) {
	args := m.Called(q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Counter), args.Error(1)
}

// RemoveCounters mocks the RemoveCounters method.
func (m *MockStore) RemoveCounters(q CounterQuery) (int64, error) {
	args := m.Called(q)
	return args.Get(0).(int64), args.Error(1)
}

// CountCounters mocks the CountCounters method.
func (m *MockStore) CountCounters() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

// InsertSnapshots mocks the InsertSnapshots method.
func (m *MockStore) InsertSnapshots(rows []*models.Snapshot) error {
	args := m.Called(rows)
	return args.Error(0)
}

// SnapshotsAtBucket mocks the SnapshotsAtBucket method.
func (m *MockStore) SnapshotsAtBucket(bucket time.Time) ([]*models.Snapshot, error) {
	args := m.Called(bucket)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Snapshot), args.Error(1)
}

// LatestSnapshotAtOrBefore mocks the LatestSnapshotAtOrBefore method.
func (m *MockStore) LatestSnapshotAtOrBefore(counterID string, bound time.Time) (*models.Snapshot, error) {
	args := m.Called(counterID, bound)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Snapshot), args.Error(1)
}

// RunIncrementalVacuum mocks the RunIncrementalVacuum method.
func (m *MockStore) RunIncrementalVacuum() error {
	args := m.Called()
	return args.Error(0)
}

// GetDatabaseSizeBytes mocks the GetDatabaseSizeBytes method.
func (m *MockStore) GetDatabaseSizeBytes() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}
