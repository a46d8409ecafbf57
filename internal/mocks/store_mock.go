package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"bedtime-stories/server/internal/interfaces"
)

// MockVectorIndex is a mock type for the VectorIndex type
type MockVectorIndex struct {
	mock.Mock
}

// Upsert provides a mock function with given fields: ctx, id, vector, metadata
func (_m *MockVectorIndex) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	ret := _m.Called(ctx, id, vector, metadata)
	return ret.Error(0)
}

// Query provides a mock function with given fields: ctx, query
func (_m *MockVectorIndex) Query(ctx context.Context, query interfaces.VectorQuery) ([]interfaces.VectorMatch, error) {
	ret := _m.Called(ctx, query)

	var r0 []interfaces.VectorMatch
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]interfaces.VectorMatch)
	}
	return r0, ret.Error(1)
}

// NewMockVectorIndex creates a new instance of MockVectorIndex and registers t on it.
func NewMockVectorIndex(t interface {
	mock.TestingT
	Helper()
}) *MockVectorIndex {
	m := &MockVectorIndex{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.VectorIndex = (*MockVectorIndex)(nil)

// MockStoryKeeper is a mock type for the StoryKeeper type
type MockStoryKeeper struct {
	mock.Mock
}

// Resolve provides a mock function with given fields: ctx, userID, title
func (_m *MockStoryKeeper) Resolve(ctx context.Context, userID, title string) (*interfaces.UserStoryRequest, error) {
	ret := _m.Called(ctx, userID, title)

	var r0 *interfaces.UserStoryRequest
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*interfaces.UserStoryRequest)
	}
	return r0, ret.Error(1)
}

// Save provides a mock function with given fields: ctx, req
func (_m *MockStoryKeeper) Save(ctx context.Context, req interfaces.SaveStoryRequest) (*interfaces.StoryRecord, error) {
	ret := _m.Called(ctx, req)

	var r0 *interfaces.StoryRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*interfaces.StoryRecord)
	}
	return r0, ret.Error(1)
}

// ListTitles provides a mock function with given fields: ctx, userID
func (_m *MockStoryKeeper) ListTitles(ctx context.Context, userID string) ([]interfaces.StoryListing, error) {
	ret := _m.Called(ctx, userID)

	var r0 []interfaces.StoryListing
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]interfaces.StoryListing)
	}
	return r0, ret.Error(1)
}

// NewMockStoryKeeper creates a new instance of MockStoryKeeper and registers t on it.
func NewMockStoryKeeper(t interface {
	mock.TestingT
	Helper()
}) *MockStoryKeeper {
	m := &MockStoryKeeper{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.StoryKeeper = (*MockStoryKeeper)(nil)
