package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"bedtime-stories/server/internal/interfaces"
)

// MockCompleter is a mock type for the Completer type
type MockCompleter struct {
	mock.Mock
}

// Complete provides a mock function with given fields: ctx, messages, maxTokens
func (_m *MockCompleter) Complete(ctx context.Context, messages []interfaces.Message, maxTokens int) (*interfaces.Completion, error) {
	ret := _m.Called(ctx, messages, maxTokens)

	var r0 *interfaces.Completion
	if rf, ok := ret.Get(0).(func(context.Context, []interfaces.Message, int) *interfaces.Completion); ok {
		r0 = rf(ctx, messages, maxTokens)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*interfaces.Completion)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, []interfaces.Message, int) error); ok {
		r1 = rf(ctx, messages, maxTokens)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockCompleter creates a new instance of MockCompleter and registers t on it.
func NewMockCompleter(t interface {
	mock.TestingT
	Helper()
}) *MockCompleter {
	m := &MockCompleter{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.Completer = (*MockCompleter)(nil)

// MockEmbedder is a mock type for the Embedder type
type MockEmbedder struct {
	mock.Mock
}

// Embed provides a mock function with given fields: ctx, text
func (_m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ret := _m.Called(ctx, text)

	var r0 []float32
	if rf, ok := ret.Get(0).(func(context.Context, string) []float32); ok {
		r0 = rf(ctx, text)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]float32)
		}
	}

	return r0, ret.Error(1)
}

// NewMockEmbedder creates a new instance of MockEmbedder and registers t on it.
func NewMockEmbedder(t interface {
	mock.TestingT
	Helper()
}) *MockEmbedder {
	m := &MockEmbedder{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.Embedder = (*MockEmbedder)(nil)
