// Package protocol implements the P1 logger wire format: frame synchronization,
// CRC verification, the fixed 60-byte field layout and the device error codes
// carried in the timestamp field.
package protocol

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
)

// FrameSize is the fixed length of a telegram frame.
const FrameSize = 60

// Frame markers.
var (
	LeadingMarker  = [3]byte{0x42, 0x42, 0xFF}
	TrailingMarker = [2]byte{0x55, 0xAA}
)

// Sync failure reasons reported by FrameSyncError.
const (
	ReasonNoLeadingMarker = "no leading marker"
	ReasonTrailingMarker  = "trailing marker mismatch"
	ReasonFrameLength     = "invalid frame length"
	ReasonLeadingMarker   = "leading marker mismatch"
)

// ErrNeedMoreData is returned by FrameScanner.Next when the buffer holds no
// complete frame candidate.
var ErrNeedMoreData = errors.New("need more data")

// RawFrame is a 60-byte frame whose markers have been verified.
type RawFrame [FrameSize]byte

// Hex returns the frame as a lowercase hex string.
func (f RawFrame) Hex() string {
	return hex.EncodeToString(f[:])
}

// FrameSyncError reports bytes discarded while looking for a frame.
// It is a diagnostic, scanning continues after it.
type FrameSyncError struct {
	Discarded int
	Reason    string
}

func (e *FrameSyncError) Error() string {
	return fmt.Sprintf("frame sync: %s (%d bytes discarded)", e.Reason, e.Discarded)
}

// ParseFrame validates a buffer that must hold exactly one frame.
func ParseFrame(b []byte) (RawFrame, error) {
	var f RawFrame
	if len(b) != FrameSize {
		return f, &FrameSyncError{Discarded: len(b), Reason: ReasonFrameLength}
	}
	if !bytes.Equal(b[:len(LeadingMarker)], LeadingMarker[:]) {
		return f, &FrameSyncError{Discarded: len(b), Reason: ReasonLeadingMarker}
	}
	if !bytes.Equal(b[FrameSize-len(TrailingMarker):], TrailingMarker[:]) {
		return f, &FrameSyncError{Discarded: len(b), Reason: ReasonTrailingMarker}
	}
	copy(f[:], b)
	return f, nil
}

// FrameScanner extracts frames from an append-only byte stream. It survives
// noise, truncation and concatenation; its only state is the retained buffer,
// so feeding more bytes resumes where the last call stopped.
//
// A FrameScanner is not safe for concurrent use.
type FrameScanner struct {
	buf []byte
}

// NewFrameScanner creates an empty scanner.
func NewFrameScanner() *FrameScanner {
	return &FrameScanner{buf: make([]byte, 0, 2*FrameSize)}
}

// Write appends stream bytes. It never fails.
func (s *FrameScanner) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting to be scanned.
func (s *FrameScanner) Buffered() int {
	return len(s.buf)
}

// Reset drops all buffered bytes.
func (s *FrameScanner) Reset() {
	s.buf = s.buf[:0]
}

// Next returns the next frame. A contiguous run of discarded bytes is reported
// once as *FrameSyncError before the frame that follows it; ErrNeedMoreData
// means the caller has to Write more bytes.
func (s *FrameScanner) Next() (RawFrame, error) {
	var frame RawFrame
	discarded := 0
	reason := ""

	fail := func(r string, n int) {
		s.consume(n)
		discarded += n
		if reason == "" {
			reason = r
		}
	}

	for {
		idx := bytes.Index(s.buf, LeadingMarker[:])
		if idx < 0 {
			fail(ReasonNoLeadingMarker, len(s.buf)-markerPrefixLen(s.buf))
			return frame, s.pending(discarded, reason)
		}
		if idx > 0 {
			fail(ReasonNoLeadingMarker, idx)
			continue
		}
		if len(s.buf) < FrameSize {
			return frame, s.pending(discarded, reason)
		}
		if !bytes.Equal(s.buf[FrameSize-len(TrailingMarker):FrameSize], TrailingMarker[:]) {
			// Step over this leading marker only, a real frame may start inside.
			fail(ReasonTrailingMarker, 1)
			continue
		}
		if discarded > 0 {
			return frame, &FrameSyncError{Discarded: discarded, Reason: reason}
		}
		copy(frame[:], s.buf[:FrameSize])
		s.consume(FrameSize)
		return frame, nil
	}
}

func (s *FrameScanner) pending(discarded int, reason string) error {
	if discarded > 0 {
		return &FrameSyncError{Discarded: discarded, Reason: reason}
	}
	return ErrNeedMoreData
}

func (s *FrameScanner) consume(n int) {
	if n <= 0 {
		return
	}
	s.buf = append(s.buf[:0], s.buf[n:]...)
}

// markerPrefixLen returns how many trailing bytes of b could be the start of
// a leading marker.
func markerPrefixLen(b []byte) int {
	for n := len(LeadingMarker) - 1; n > 0; n-- {
		if len(b) >= n && bytes.Equal(b[len(b)-n:], LeadingMarker[:n]) {
			return n
		}
	}
	return 0
}
