package mocks

import (
	time "time"

	mock "github.com/stretchr/testify/mock"
)

// MockToken is a mock type for the mqtt.Token type
type MockToken struct {
	mock.Mock
}

type MockToken_Expecter struct {
	mock *mock.Mock
}

func (_m *MockToken) EXPECT() *MockToken_Expecter {
	return &MockToken_Expecter{mock: &_m.Mock}
}

// Done provides a mock function with no fields
func (_m *MockToken) Done() <-chan struct{} {
	ret := _m.Called()

	var r0 <-chan struct{}
	if rf, ok := ret.Get(0).(func() <-chan struct{}); ok {
		r0 = rf()
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(<-chan struct{})
	}

	return r0
}

// MockToken_Done_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Done'
type MockToken_Done_Call struct {
	*mock.Call
}

// Done is a helper method to define mock.On call
func (_e *MockToken_Expecter) Done() *MockToken_Done_Call {
	return &MockToken_Done_Call{Call: _e.mock.On("Done")}
}

func (_c *MockToken_Done_Call) Return(_a0 <-chan struct{}) *MockToken_Done_Call {
	_c.Call.Return(_a0)
	return _c
}

// Error provides a mock function with no fields
func (_m *MockToken) Error() error {
	ret := _m.Called()
	return ret.Error(0)
}

// MockToken_Error_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Error'
type MockToken_Error_Call struct {
	*mock.Call
}

// Error is a helper method to define mock.On call
func (_e *MockToken_Expecter) Error() *MockToken_Error_Call {
	return &MockToken_Error_Call{Call: _e.mock.On("Error")}
}

func (_c *MockToken_Error_Call) Return(_a0 error) *MockToken_Error_Call {
	_c.Call.Return(_a0)
	return _c
}

// Wait provides a mock function with no fields
func (_m *MockToken) Wait() bool {
	ret := _m.Called()
	return ret.Bool(0)
}

// MockToken_Wait_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Wait'
type MockToken_Wait_Call struct {
	*mock.Call
}

// Wait is a helper method to define mock.On call
func (_e *MockToken_Expecter) Wait() *MockToken_Wait_Call {
	return &MockToken_Wait_Call{Call: _e.mock.On("Wait")}
}

func (_c *MockToken_Wait_Call) Return(_a0 bool) *MockToken_Wait_Call {
	_c.Call.Return(_a0)
	return _c
}

// WaitTimeout provides a mock function with given fields: _a0
func (_m *MockToken) WaitTimeout(_a0 time.Duration) bool {
	ret := _m.Called(_a0)
	return ret.Bool(0)
}

// NewMockToken creates a new instance of MockToken. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockToken(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockToken {
	m := &MockToken{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
