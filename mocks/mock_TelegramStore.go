package mocks

import (
	context "context"
	time "time"

	domain "github.com/resident-x/go-p1/internal/domain"
	mock "github.com/stretchr/testify/mock"
)

// MockTelegramStore is a mock type for the domain.TelegramStore type
type MockTelegramStore struct {
	mock.Mock
}

type MockTelegramStore_Expecter struct {
	mock *mock.Mock
}

func (_m *MockTelegramStore) EXPECT() *MockTelegramStore_Expecter {
	return &MockTelegramStore_Expecter{mock: &_m.Mock}
}

// Close provides a mock function with no fields
func (_m *MockTelegramStore) Close() error {
	ret := _m.Called()
	return ret.Error(0)
}

// MockTelegramStore_Close_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Close'
type MockTelegramStore_Close_Call struct {
	*mock.Call
}

// Close is a helper method to define mock.On call
func (_e *MockTelegramStore_Expecter) Close() *MockTelegramStore_Close_Call {
	return &MockTelegramStore_Close_Call{Call: _e.mock.On("Close")}
}

func (_c *MockTelegramStore_Close_Call) Return(_a0 error) *MockTelegramStore_Close_Call {
	_c.Call.Return(_a0)
	return _c
}

// Prune provides a mock function with given fields: ctx, before
func (_m *MockTelegramStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	ret := _m.Called(ctx, before)

	var r0 int64
	if rf, ok := ret.Get(0).(func(context.Context, time.Time) int64); ok {
		r0 = rf(ctx, before)
	} else {
		r0 = ret.Get(0).(int64)
	}

	return r0, ret.Error(1)
}

// MockTelegramStore_Prune_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Prune'
type MockTelegramStore_Prune_Call struct {
	*mock.Call
}

// Prune is a helper method to define mock.On call
//   - ctx context.Context
//   - before time.Time
func (_e *MockTelegramStore_Expecter) Prune(ctx interface{}, before interface{}) *MockTelegramStore_Prune_Call {
	return &MockTelegramStore_Prune_Call{Call: _e.mock.On("Prune", ctx, before)}
}

func (_c *MockTelegramStore_Prune_Call) Return(_a0 int64, _a1 error) *MockTelegramStore_Prune_Call {
	_c.Call.Return(_a0, _a1)
	return _c
}

// Recent provides a mock function with given fields: ctx, limit
func (_m *MockTelegramStore) Recent(ctx context.Context, limit int) ([]*domain.Telegram, error) {
	ret := _m.Called(ctx, limit)

	var r0 []*domain.Telegram
	if rf, ok := ret.Get(0).(func(context.Context, int) []*domain.Telegram); ok {
		r0 = rf(ctx, limit)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*domain.Telegram)
	}

	return r0, ret.Error(1)
}

// MockTelegramStore_Recent_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Recent'
type MockTelegramStore_Recent_Call struct {
	*mock.Call
}

// Recent is a helper method to define mock.On call
//   - ctx context.Context
//   - limit int
func (_e *MockTelegramStore_Expecter) Recent(ctx interface{}, limit interface{}) *MockTelegramStore_Recent_Call {
	return &MockTelegramStore_Recent_Call{Call: _e.mock.On("Recent", ctx, limit)}
}

func (_c *MockTelegramStore_Recent_Call) Return(_a0 []*domain.Telegram, _a1 error) *MockTelegramStore_Recent_Call {
	_c.Call.Return(_a0, _a1)
	return _c
}

// Save provides a mock function with given fields: ctx, telegram
func (_m *MockTelegramStore) Save(ctx context.Context, telegram *domain.Telegram) error {
	ret := _m.Called(ctx, telegram)
	return ret.Error(0)
}

// MockTelegramStore_Save_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Save'
type MockTelegramStore_Save_Call struct {
	*mock.Call
}

// Save is a helper method to define mock.On call
//   - ctx context.Context
//   - telegram *domain.Telegram
func (_e *MockTelegramStore_Expecter) Save(ctx interface{}, telegram interface{}) *MockTelegramStore_Save_Call {
	return &MockTelegramStore_Save_Call{Call: _e.mock.On("Save", ctx, telegram)}
}

func (_c *MockTelegramStore_Save_Call) Return(_a0 error) *MockTelegramStore_Save_Call {
	_c.Call.Return(_a0)
	return _c
}

// NewMockTelegramStore creates a new instance of MockTelegramStore. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockTelegramStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTelegramStore {
	mock := &MockTelegramStore{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
