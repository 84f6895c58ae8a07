package serialport

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by MockPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// MockPort implements Port for tests. Queued chunks are returned one per
// Read; an empty queue behaves like an expired read timeout.
type MockPort struct {
	mu sync.Mutex

	chunks      [][]byte
	readErr     error
	writeBuffer bytes.Buffer
	closed      bool
	readTimeout time.Duration
	readCalls   int
}

// NewMockPort creates a port that will return the given chunks in order.
func NewMockPort(chunks ...[]byte) *MockPort {
	return &MockPort{chunks: chunks, readTimeout: 5 * time.Millisecond}
}

// AddReadData queues another chunk.
func (m *MockPort) AddReadData(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, append([]byte(nil), data...))
}

// FailAfterData makes Read return err once the queued chunks are consumed.
func (m *MockPort) FailAfterData(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// Read implements io.Reader.
func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	m.readCalls++
	if m.closed {
		m.mu.Unlock()
		return 0, ErrPortClosed
	}
	if len(m.chunks) > 0 {
		chunk := m.chunks[0]
		n := copy(p, chunk)
		if n < len(chunk) {
			m.chunks[0] = chunk[n:]
		} else {
			m.chunks = m.chunks[1:]
		}
		m.mu.Unlock()
		return n, nil
	}
	if m.readErr != nil {
		err := m.readErr
		m.readErr = nil
		m.mu.Unlock()
		return 0, err
	}
	timeout := m.readTimeout
	m.mu.Unlock()

	time.Sleep(timeout)
	return 0, nil
}

// Write implements io.Writer.
func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrPortClosed
	}
	return m.writeBuffer.Write(p)
}

// Close implements io.Closer.
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Written returns everything written to the port.
func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.writeBuffer.Bytes()...)
}

// ReadCalls returns the number of Read calls.
func (m *MockPort) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// MockOpener hands out the given ports in order, then fails with
// ErrNoMorePorts.
type MockOpener struct {
	mu    sync.Mutex
	ports []Port
	errs  []error
	calls int
}

// ErrNoMorePorts is returned once MockOpener is exhausted.
var ErrNoMorePorts = errors.New("no more mock ports")

// NewMockOpener creates an opener over ports.
func NewMockOpener(ports ...Port) *MockOpener {
	return &MockOpener{ports: ports}
}

// FailNext makes the next Open calls fail with err before any port is handed out.
func (o *MockOpener) FailNext(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

// Open satisfies Opener.
func (o *MockOpener) Open(ctx context.Context, _ PortOptions) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		return nil, err
	}
	if len(o.ports) == 0 {
		return nil, ErrNoMorePorts
	}
	port := o.ports[0]
	o.ports = o.ports[1:]
	return port, nil
}

// Calls returns the number of Open calls.
func (o *MockOpener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}
