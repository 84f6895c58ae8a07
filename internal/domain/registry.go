// Package domain provides core domain implementations.
package domain

import (
	"sync"
	"time"
)

// MeterRegistry implements the Registry interface for a single meter link.
type MeterRegistry struct {
	status MeterStatus
	latest *Telegram
	mutex  sync.RWMutex
	now    func() time.Time
}

// NewMeterRegistry creates a new meter registry.
func NewMeterRegistry(deviceID string) *MeterRegistry {
	return &MeterRegistry{
		status: MeterStatus{DeviceID: deviceID},
		now:    time.Now,
	}
}

// SetLink records a link state change. Every transition to up after the
// first one counts as a reconnect.
func (r *MeterRegistry) SetLink(port string, up bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if up && !r.status.Connected {
		if !r.status.ConnectedAt.IsZero() {
			r.status.Reconnects++
		}
		r.status.ConnectedAt = r.now()
	}
	r.status.Port = port
	r.status.Connected = up
}

// RecordTelegram records a decoded telegram.
func (r *MeterRegistry) RecordTelegram(telegram *Telegram) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.status.Attempts++
	r.status.LastContact = r.now()
	if !telegram.OK() {
		code := telegram.ErrorCode
		r.status.DeviceErrors++
		r.status.LastError = &code
		r.status.LastErrorText = code.String()
		return
	}
	r.status.Telegrams++
	r.latest = telegram
}

// RecordFailure records a frame that produced no telegram.
func (r *MeterRegistry) RecordFailure(kind FailureKind) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.status.Attempts++
	switch kind {
	case FailureSync:
		r.status.SyncFailures++
	case FailureCRC:
		r.status.CRCFailures++
	case FailureInsane:
		r.status.InsaneFailures++
	}
}

// Status returns a snapshot of the meter state.
func (r *MeterRegistry) Status() MeterStatus {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.status
}

// Latest returns the most recent telegram carrying measurements.
func (r *MeterRegistry) Latest() (*Telegram, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.latest, r.latest != nil
}
