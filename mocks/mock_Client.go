package mocks

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the mqtt.Client type
type MockClient struct {
	mock.Mock
}

type MockClient_Expecter struct {
	mock *mock.Mock
}

func (_m *MockClient) EXPECT() *MockClient_Expecter {
	return &MockClient_Expecter{mock: &_m.Mock}
}

// AddRoute provides a mock function with given fields: topic, callback
func (_m *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	_m.Called(topic, callback)
}

// Connect provides a mock function with no fields
func (_m *MockClient) Connect() mqtt.Token {
	ret := _m.Called()

	var r0 mqtt.Token
	if rf, ok := ret.Get(0).(func() mqtt.Token); ok {
		r0 = rf()
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(mqtt.Token)
	}

	return r0
}

// MockClient_Connect_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Connect'
type MockClient_Connect_Call struct {
	*mock.Call
}

// Connect is a helper method to define mock.On call
func (_e *MockClient_Expecter) Connect() *MockClient_Connect_Call {
	return &MockClient_Connect_Call{Call: _e.mock.On("Connect")}
}

func (_c *MockClient_Connect_Call) Return(_a0 mqtt.Token) *MockClient_Connect_Call {
	_c.Call.Return(_a0)
	return _c
}

// Disconnect provides a mock function with given fields: quiesce
func (_m *MockClient) Disconnect(quiesce uint) {
	_m.Called(quiesce)
}

// MockClient_Disconnect_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Disconnect'
type MockClient_Disconnect_Call struct {
	*mock.Call
}

// Disconnect is a helper method to define mock.On call
//   - quiesce uint
func (_e *MockClient_Expecter) Disconnect(quiesce interface{}) *MockClient_Disconnect_Call {
	return &MockClient_Disconnect_Call{Call: _e.mock.On("Disconnect", quiesce)}
}

func (_c *MockClient_Disconnect_Call) Return() *MockClient_Disconnect_Call {
	_c.Call.Return()
	return _c
}

// IsConnected provides a mock function with no fields
func (_m *MockClient) IsConnected() bool {
	ret := _m.Called()
	return ret.Bool(0)
}

// MockClient_IsConnected_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'IsConnected'
type MockClient_IsConnected_Call struct {
	*mock.Call
}

// IsConnected is a helper method to define mock.On call
func (_e *MockClient_Expecter) IsConnected() *MockClient_IsConnected_Call {
	return &MockClient_IsConnected_Call{Call: _e.mock.On("IsConnected")}
}

func (_c *MockClient_IsConnected_Call) Return(_a0 bool) *MockClient_IsConnected_Call {
	_c.Call.Return(_a0)
	return _c
}

// IsConnectionOpen provides a mock function with no fields
func (_m *MockClient) IsConnectionOpen() bool {
	ret := _m.Called()
	return ret.Bool(0)
}

// OptionsReader provides a mock function with no fields
func (_m *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	ret := _m.Called()
	return ret.Get(0).(mqtt.ClientOptionsReader)
}

// Publish provides a mock function with given fields: topic, qos, retained, payload
func (_m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	ret := _m.Called(topic, qos, retained, payload)

	var r0 mqtt.Token
	if rf, ok := ret.Get(0).(func(string, byte, bool, interface{}) mqtt.Token); ok {
		r0 = rf(topic, qos, retained, payload)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(mqtt.Token)
	}

	return r0
}

// MockClient_Publish_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Publish'
type MockClient_Publish_Call struct {
	*mock.Call
}

// Publish is a helper method to define mock.On call
//   - topic string
//   - qos byte
//   - retained bool
//   - payload interface{}
func (_e *MockClient_Expecter) Publish(topic interface{}, qos interface{}, retained interface{}, payload interface{}) *MockClient_Publish_Call {
	return &MockClient_Publish_Call{Call: _e.mock.On("Publish", topic, qos, retained, payload)}
}

func (_c *MockClient_Publish_Call) Run(run func(topic string, qos byte, retained bool, payload interface{})) *MockClient_Publish_Call {
	_c.Call.Run(func(args mock.Arguments) {
		run(args[0].(string), args[1].(byte), args[2].(bool), args[3])
	})
	return _c
}

func (_c *MockClient_Publish_Call) Return(_a0 mqtt.Token) *MockClient_Publish_Call {
	_c.Call.Return(_a0)
	return _c
}

// Subscribe provides a mock function with given fields: topic, qos, callback
func (_m *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	ret := _m.Called(topic, qos, callback)

	var r0 mqtt.Token
	if rf, ok := ret.Get(0).(func(string, byte, mqtt.MessageHandler) mqtt.Token); ok {
		r0 = rf(topic, qos, callback)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(mqtt.Token)
	}

	return r0
}

// SubscribeMultiple provides a mock function with given fields: filters, callback
func (_m *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	ret := _m.Called(filters, callback)
	return ret.Get(0).(mqtt.Token)
}

// Unsubscribe provides a mock function with given fields: topics
func (_m *MockClient) Unsubscribe(topics ...string) mqtt.Token {
	ret := _m.Called(topics)
	return ret.Get(0).(mqtt.Token)
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
