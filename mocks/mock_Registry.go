package mocks

import (
	domain "github.com/resident-x/go-p1/internal/domain"
	mock "github.com/stretchr/testify/mock"
)

// MockRegistry is a mock type for the domain.Registry type
type MockRegistry struct {
	mock.Mock
}

type MockRegistry_Expecter struct {
	mock *mock.Mock
}

func (_m *MockRegistry) EXPECT() *MockRegistry_Expecter {
	return &MockRegistry_Expecter{mock: &_m.Mock}
}

// Latest provides a mock function with no fields
func (_m *MockRegistry) Latest() (*domain.Telegram, bool) {
	ret := _m.Called()

	var r0 *domain.Telegram
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*domain.Telegram)
	}

	return r0, ret.Bool(1)
}

// MockRegistry_Latest_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Latest'
type MockRegistry_Latest_Call struct {
	*mock.Call
}

// Latest is a helper method to define mock.On call
func (_e *MockRegistry_Expecter) Latest() *MockRegistry_Latest_Call {
	return &MockRegistry_Latest_Call{Call: _e.mock.On("Latest")}
}

func (_c *MockRegistry_Latest_Call) Return(_a0 *domain.Telegram, _a1 bool) *MockRegistry_Latest_Call {
	_c.Call.Return(_a0, _a1)
	return _c
}

// RecordFailure provides a mock function with given fields: kind
func (_m *MockRegistry) RecordFailure(kind domain.FailureKind) {
	_m.Called(kind)
}

// MockRegistry_RecordFailure_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'RecordFailure'
type MockRegistry_RecordFailure_Call struct {
	*mock.Call
}

// RecordFailure is a helper method to define mock.On call
//   - kind domain.FailureKind
func (_e *MockRegistry_Expecter) RecordFailure(kind interface{}) *MockRegistry_RecordFailure_Call {
	return &MockRegistry_RecordFailure_Call{Call: _e.mock.On("RecordFailure", kind)}
}

func (_c *MockRegistry_RecordFailure_Call) Return() *MockRegistry_RecordFailure_Call {
	_c.Call.Return()
	return _c
}

// RecordTelegram provides a mock function with given fields: telegram
func (_m *MockRegistry) RecordTelegram(telegram *domain.Telegram) {
	_m.Called(telegram)
}

// MockRegistry_RecordTelegram_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'RecordTelegram'
type MockRegistry_RecordTelegram_Call struct {
	*mock.Call
}

// RecordTelegram is a helper method to define mock.On call
//   - telegram *domain.Telegram
func (_e *MockRegistry_Expecter) RecordTelegram(telegram interface{}) *MockRegistry_RecordTelegram_Call {
	return &MockRegistry_RecordTelegram_Call{Call: _e.mock.On("RecordTelegram", telegram)}
}

func (_c *MockRegistry_RecordTelegram_Call) Return() *MockRegistry_RecordTelegram_Call {
	_c.Call.Return()
	return _c
}

// SetLink provides a mock function with given fields: port, up
func (_m *MockRegistry) SetLink(port string, up bool) {
	_m.Called(port, up)
}

// MockRegistry_SetLink_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'SetLink'
type MockRegistry_SetLink_Call struct {
	*mock.Call
}

// SetLink is a helper method to define mock.On call
//   - port string
//   - up bool
func (_e *MockRegistry_Expecter) SetLink(port interface{}, up interface{}) *MockRegistry_SetLink_Call {
	return &MockRegistry_SetLink_Call{Call: _e.mock.On("SetLink", port, up)}
}

func (_c *MockRegistry_SetLink_Call) Return() *MockRegistry_SetLink_Call {
	_c.Call.Return()
	return _c
}

// Status provides a mock function with no fields
func (_m *MockRegistry) Status() domain.MeterStatus {
	ret := _m.Called()
	return ret.Get(0).(domain.MeterStatus)
}

// MockRegistry_Status_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Status'
type MockRegistry_Status_Call struct {
	*mock.Call
}

// Status is a helper method to define mock.On call
func (_e *MockRegistry_Expecter) Status() *MockRegistry_Status_Call {
	return &MockRegistry_Status_Call{Call: _e.mock.On("Status")}
}

func (_c *MockRegistry_Status_Call) Return(_a0 domain.MeterStatus) *MockRegistry_Status_Call {
	_c.Call.Return(_a0)
	return _c
}

// NewMockRegistry creates a new instance of MockRegistry. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockRegistry(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockRegistry {
	mock := &MockRegistry{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
