// Package mocks provides test doubles for the audience client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	audience "github.com/sells-group/lead-sourcing/pkg/audience"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Preview provides a mock function with given fields: ctx, f
func (_m *MockClient) Preview(ctx context.Context, f audience.Filters) (*audience.PreviewResponse, error) {
	ret := _m.Called(ctx, f)

	if len(ret) == 0 {
		panic("no return value specified for Preview")
	}

	var r0 *audience.PreviewResponse
	if rf, ok := ret.Get(0).(func(context.Context, audience.Filters) (*audience.PreviewResponse, error)); ok {
		return rf(ctx, f)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*audience.PreviewResponse)
	}
	return r0, ret.Error(1)
}

// CreateQuery provides a mock function with given fields: ctx, name, f
func (_m *MockClient) CreateQuery(ctx context.Context, name string, f audience.Filters) (*audience.Query, error) {
	ret := _m.Called(ctx, name, f)

	if len(ret) == 0 {
		panic("no return value specified for CreateQuery")
	}

	var r0 *audience.Query
	if rf, ok := ret.Get(0).(func(context.Context, string, audience.Filters) (*audience.Query, error)); ok {
		return rf(ctx, name, f)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*audience.Query)
	}
	return r0, ret.Error(1)
}

// FetchPage provides a mock function with given fields: ctx, queryID, page, pageSize
func (_m *MockClient) FetchPage(ctx context.Context, queryID string, page int, pageSize int) (*audience.Page, error) {
	ret := _m.Called(ctx, queryID, page, pageSize)

	if len(ret) == 0 {
		panic("no return value specified for FetchPage")
	}

	var r0 *audience.Page
	if rf, ok := ret.Get(0).(func(context.Context, string, int, int) (*audience.Page, error)); ok {
		return rf(ctx, queryID, page, pageSize)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*audience.Page)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new MockClient and registers cleanup assertions.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
