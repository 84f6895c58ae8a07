// Package serialport opens the byte stream of the P1 logger, either a local
// serial device or a serial-over-TCP bridge such as ser2net.
package serialport

import (
	"fmt"
	"strings"
	"time"

	"github.com/resident-x/go-p1/internal/config"
	"go.bug.st/serial"
)

// TCPScheme prefixes a device string that names a network bridge.
const TCPScheme = "tcp://"

// PortOptions describes how to open the meter link.
type PortOptions struct {
	Device      string
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      string
	ReadTimeout time.Duration
}

// OptionsFromConfig extracts the serial section of the configuration.
func OptionsFromConfig(cfg *config.Config) PortOptions {
	return PortOptions{
		Device:      cfg.Serial.Device,
		BaudRate:    cfg.Serial.BaudRate,
		DataBits:    cfg.Serial.DataBits,
		StopBits:    cfg.Serial.StopBits,
		Parity:      cfg.Serial.Parity,
		ReadTimeout: cfg.ReadTimeout(),
	}
}

// IsTCP reports whether the device is a network bridge.
func (o PortOptions) IsTCP() bool {
	return strings.HasPrefix(o.Device, TCPScheme)
}

// Address returns the host:port of a network bridge.
func (o PortOptions) Address() string {
	return strings.TrimPrefix(o.Device, TCPScheme)
}

// Normalize validates the options and applies the P1 logger defaults
// (1200 baud, 8N1, one second read timeout) for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.Device == "" {
		return opts, fmt.Errorf("no serial device configured")
	}

	if opts.BaudRate <= 0 {
		opts.BaudRate = 1200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity

	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Second
	}

	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}

	return mode, nil
}

// String renders the link as "/dev/ttyUSB0 1200 8N1".
func (o PortOptions) String() string {
	if o.IsTCP() {
		return o.Device
	}
	return fmt.Sprintf("%s %d %d%s%d", o.Device, o.BaudRate, o.DataBits, o.Parity, o.StopBits)
}
