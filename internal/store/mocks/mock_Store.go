// Package mocks provides test doubles for the store interfaces.
package mocks

import (
	"context"
	"time"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/lead-sourcing/internal/model"
	store "github.com/sells-group/lead-sourcing/internal/store"
)

// MockStore is a mock type for the Store interface.
type MockStore struct {
	mock.Mock
}

// ListActivePreferences provides a mock function with given fields: ctx
func (_m *MockStore) ListActivePreferences(ctx context.Context) ([]model.TargetingPreference, error) {
	ret := _m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) ([]model.TargetingPreference, error)); ok {
		return rf(ctx)
	}
	var r0 []model.TargetingPreference
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.TargetingPreference)
	}
	return r0, ret.Error(1)
}

// FindLeadByEmail provides a mock function with given fields: ctx, workspaceID, email
func (_m *MockStore) FindLeadByEmail(ctx context.Context, workspaceID string, email string) (*model.Lead, error) {
	ret := _m.Called(ctx, workspaceID, email)
	var r0 *model.Lead
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Lead)
	}
	return r0, ret.Error(1)
}

// InsertLead provides a mock function with given fields: ctx, lead
func (_m *MockStore) InsertLead(ctx context.Context, lead *model.Lead) (bool, error) {
	ret := _m.Called(ctx, lead)
	return ret.Bool(0), ret.Error(1)
}

// ListLeadsSince provides a mock function with given fields: ctx, source, since, limit
func (_m *MockStore) ListLeadsSince(ctx context.Context, source string, since time.Time, limit int) ([]model.Lead, error) {
	ret := _m.Called(ctx, source, since, limit)
	var r0 []model.Lead
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.Lead)
	}
	return r0, ret.Error(1)
}

// InsertAssignment provides a mock function with given fields: ctx, a
func (_m *MockStore) InsertAssignment(ctx context.Context, a *model.LeadAssignment) (bool, error) {
	ret := _m.Called(ctx, a)
	return ret.Bool(0), ret.Error(1)
}

// SetAssignedUserIfUnset provides a mock function with given fields: ctx, leadID, userID
func (_m *MockStore) SetAssignedUserIfUnset(ctx context.Context, leadID string, userID string) (bool, error) {
	ret := _m.Called(ctx, leadID, userID)
	return ret.Bool(0), ret.Error(1)
}

// IncrementQuota provides a mock function with given fields: ctx, preferenceID
func (_m *MockStore) IncrementQuota(ctx context.Context, preferenceID string) error {
	ret := _m.Called(ctx, preferenceID)
	return ret.Error(0)
}

// CreateRun provides a mock function with given fields: ctx, trigger
func (_m *MockStore) CreateRun(ctx context.Context, trigger model.Trigger) (*model.Run, error) {
	ret := _m.Called(ctx, trigger)
	var r0 *model.Run
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Run)
	}
	return r0, ret.Error(1)
}

// UpdateRunStatus provides a mock function with given fields: ctx, runID, status
func (_m *MockStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	ret := _m.Called(ctx, runID, status)
	return ret.Error(0)
}

// CompleteRun provides a mock function with given fields: ctx, runID, summary
func (_m *MockStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	ret := _m.Called(ctx, runID, summary)
	return ret.Error(0)
}

// GetRun provides a mock function with given fields: ctx, runID
func (_m *MockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	ret := _m.Called(ctx, runID)
	var r0 *model.Run
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Run)
	}
	return r0, ret.Error(1)
}

// ListRuns provides a mock function with given fields: ctx, filter
func (_m *MockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	ret := _m.Called(ctx, filter)
	var r0 []model.Run
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.Run)
	}
	return r0, ret.Error(1)
}

// CreateStep provides a mock function with given fields: ctx, runID, name
func (_m *MockStore) CreateStep(ctx context.Context, runID string, name string) (*model.RunStep, error) {
	ret := _m.Called(ctx, runID, name)
	var r0 *model.RunStep
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.RunStep)
	}
	return r0, ret.Error(1)
}

// CompleteStep provides a mock function with given fields: ctx, step
func (_m *MockStore) CompleteStep(ctx context.Context, step *model.RunStep) error {
	ret := _m.Called(ctx, step)
	return ret.Error(0)
}

// SavePreference provides a mock function with given fields: ctx, p
func (_m *MockStore) SavePreference(ctx context.Context, p *model.TargetingPreference) error {
	ret := _m.Called(ctx, p)
	return ret.Error(0)
}

// Migrate provides a mock function with given fields: ctx
func (_m *MockStore) Migrate(ctx context.Context) error {
	ret := _m.Called(ctx)
	return ret.Error(0)
}

// Close provides a mock function with no fields
func (_m *MockStore) Close() error {
	ret := _m.Called()
	return ret.Error(0)
}

var _ store.Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore and registers cleanup assertions.
func NewMockStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStore {
	m := &MockStore{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
