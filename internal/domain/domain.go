// Package domain provides core domain models and interfaces for the go-p1 application
package domain

import (
	"context"
	"time"
)

// Result is one outcome of feeding bytes to a decoder: either a telegram or
// a link-level error (frame sync, CRC mismatch).
type Result struct {
	Telegram *Telegram
	Err      error
}

// FrameDecoder turns a raw byte stream into decode results.
type FrameDecoder interface {
	// Push appends data to the decoder buffer and returns every result that
	// became available, in stream order
	Push(data []byte) []Result
}

// MessagePublisher defines the interface for publishing decoded telegrams.
type MessagePublisher interface {
	// Connect establishes a connection to the messaging system
	Connect(ctx context.Context) error

	// Publish sends data to the specified topic
	Publish(ctx context.Context, topic string, data interface{}) error

	// Close terminates the connection to the messaging system
	Close() error
}

// MonitoringService defines the interface for external monitoring services.
type MonitoringService interface {
	// Send publishes meter data to the monitoring service
	Send(ctx context.Context, telegram *Telegram) error

	// Connect establishes a connection to the service
	Connect() error

	// Close terminates the connection to the service
	Close() error
}

// TelegramStore keeps a history of decoded telegrams.
type TelegramStore interface {
	Save(ctx context.Context, telegram *Telegram) error
	Recent(ctx context.Context, limit int) ([]*Telegram, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Registry keeps track of the meter link and its telegram statistics.
type Registry interface {
	// SetLink records that the serial link came up or went down
	SetLink(port string, up bool)

	// RecordTelegram records a decoded telegram, including device error telegrams
	RecordTelegram(telegram *Telegram)

	// RecordFailure records a frame that produced no telegram
	RecordFailure(kind FailureKind)

	// Status returns a snapshot of the meter state
	Status() MeterStatus

	// Latest returns the most recent telegram carrying measurements
	Latest() (*Telegram, bool)
}

// FailureKind names why a received frame produced no usable telegram.
type FailureKind int

const (
	FailureSync FailureKind = iota
	FailureCRC
	FailureInsane
)

func (k FailureKind) String() string {
	switch k {
	case FailureSync:
		return "sync_error"
	case FailureCRC:
		return "crc_error"
	case FailureInsane:
		return "insane"
	default:
		return "unknown"
	}
}

// MeterStatus is a snapshot of the meter link.
type MeterStatus struct {
	DeviceID       string     `json:"device_id"`
	Port           string     `json:"port"`
	Connected      bool       `json:"connected"`
	ConnectedAt    time.Time  `json:"connected_at"`
	LastContact    time.Time  `json:"last_contact"`
	Reconnects     int64      `json:"reconnects"`
	Attempts       int64      `json:"attempts"`
	Telegrams      int64      `json:"telegrams"`
	DeviceErrors   int64      `json:"device_errors"`
	SyncFailures   int64      `json:"sync_failures"`
	CRCFailures    int64      `json:"crc_failures"`
	InsaneFailures int64      `json:"insane_failures"`
	LastError      *ErrorCode `json:"-"`
	LastErrorText  string     `json:"last_device_error,omitempty"`
}
