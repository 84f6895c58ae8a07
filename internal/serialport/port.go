package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

// Port is the minimal interface the read loop needs.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the meter link. Tests substitute their own.
type Opener func(ctx context.Context, opts PortOptions) (Port, error)

// Open opens a serial device or dials a tcp:// bridge. Reads on the returned
// port return (0, nil) when the read timeout expires without data.
func Open(ctx context.Context, opts PortOptions) (Port, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	if opts.IsTCP() {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", opts.Address())
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", opts.Address(), err)
		}
		return &tcpPort{Conn: conn, timeout: opts.ReadTimeout}, nil
	}

	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(opts.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", opts.Device, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", opts.Device, err)
	}
	return port, nil
}

// AvailablePorts lists the serial devices present on the host.
func AvailablePorts() ([]string, error) {
	return serial.GetPortsList()
}

// tcpPort gives a network connection the timeout semantics of a serial port.
type tcpPort struct {
	net.Conn
	timeout time.Duration
}

func (p *tcpPort) Read(b []byte) (int, error) {
	if err := p.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
		return 0, err
	}
	n, err := p.Conn.Read(b)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	return n, err
}
