package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"storytime-server/internal/lock"
	"storytime-server/internal/messaging"
	"storytime-server/internal/model"
	"storytime-server/internal/repository"
	"storytime-server/internal/storage"
)

// MockStoryRepository is a mock type for the StoryRepository type
type MockStoryRepository struct {
	mock.Mock
}

// Create provides a mock function with given fields: ctx, rec
func (_m *MockStoryRepository) Create(ctx context.Context, rec *model.StoryRecord) error {
	ret := _m.Called(ctx, rec)
	return ret.Error(0)
}

// Update provides a mock function with given fields: ctx, id, patch
func (_m *MockStoryRepository) Update(ctx context.Context, id uuid.UUID, patch model.StoryPatch) error {
	ret := _m.Called(ctx, id, patch)
	return ret.Error(0)
}

// GetByID provides a mock function with given fields: ctx, id
func (_m *MockStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.StoryRecord, error) {
	ret := _m.Called(ctx, id)

	var r0 *model.StoryRecord
	if rf, ok := ret.Get(0).(func(context.Context, uuid.UUID) *model.StoryRecord); ok {
		r0 = rf(ctx, id)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.StoryRecord)
	}
	return r0, ret.Error(1)
}

// NewMockStoryRepository creates a new instance of MockStoryRepository.
func NewMockStoryRepository(t interface {
	mock.TestingT
	Helper()
}) *MockStoryRepository {
	m := &MockStoryRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockObjectStorage is a mock type for the ObjectStorage type
type MockObjectStorage struct {
	mock.Mock
}

// Put provides a mock function with given fields: ctx, data, contentType, meta
func (_m *MockObjectStorage) Put(ctx context.Context, data []byte, contentType string, meta storage.Metadata) (string, error) {
	ret := _m.Called(ctx, data, contentType, meta)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, []byte, string, storage.Metadata) string); ok {
		r0 = rf(ctx, data, contentType, meta)
	} else {
		r0 = ret.String(0)
	}
	return r0, ret.Error(1)
}

// Get provides a mock function with given fields: ctx, url
func (_m *MockObjectStorage) Get(ctx context.Context, url string) (storage.Object, error) {
	ret := _m.Called(ctx, url)

	var r0 storage.Object
	if rf, ok := ret.Get(0).(func(context.Context, string) storage.Object); ok {
		r0 = rf(ctx, url)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(storage.Object)
	}
	return r0, ret.Error(1)
}

// NewMockObjectStorage creates a new instance of MockObjectStorage.
func NewMockObjectStorage(t interface {
	mock.TestingT
	Helper()
}) *MockObjectStorage {
	m := &MockObjectStorage{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockNotifier is a mock type for the Notifier type
type MockNotifier struct {
	mock.Mock
}

// NotifyStatus provides a mock function with given fields: ctx, event
func (_m *MockNotifier) NotifyStatus(ctx context.Context, event messaging.StoryStatusEvent) error {
	ret := _m.Called(ctx, event)
	return ret.Error(0)
}

// NewMockNotifier creates a new instance of MockNotifier.
func NewMockNotifier(t interface {
	mock.TestingT
	Helper()
}) *MockNotifier {
	m := &MockNotifier{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockLocker is a mock type for the Locker type
type MockLocker struct {
	mock.Mock
}

// Acquire provides a mock function with given fields: ctx, storyID
func (_m *MockLocker) Acquire(ctx context.Context, storyID uuid.UUID) (lock.ReleaseFunc, error) {
	ret := _m.Called(ctx, storyID)

	var r0 lock.ReleaseFunc
	if rf, ok := ret.Get(0).(lock.ReleaseFunc); ok {
		r0 = rf
	} else if rf, ok := ret.Get(0).(func()); ok {
		r0 = rf
	}
	return r0, ret.Error(1)
}

// NewMockLocker creates a new instance of MockLocker.
func NewMockLocker(t interface {
	mock.TestingT
	Helper()
}) *MockLocker {
	m := &MockLocker{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var (
	_ repository.StoryRepository = (*MockStoryRepository)(nil)
	_ storage.ObjectStorage      = (*MockObjectStorage)(nil)
	_ messaging.Notifier         = (*MockNotifier)(nil)
	_ lock.Locker                = (*MockLocker)(nil)
)
