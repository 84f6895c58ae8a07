package protocol

import (
	"time"

	"github.com/resident-x/go-p1/internal/domain"
)

// Device error codes carried in the timestamp field. Any value with the most
// significant bit set is an error.
const (
	CodeBlankTelegram     uint32 = 0xFFFFFFFF
	CodeTelegramTimeout   uint32 = 0x80000000
	CodeDeviceCRCMismatch uint32 = 0x80000002

	errorFlag uint32 = 0x80000000
)

// Epoch2000 is 2000-01-01T00:00:00Z in Unix seconds; meter timestamps count
// from it.
const Epoch2000 int64 = 946684800

// ClassifyTimestamp maps the timestamp field to a device condition.
func ClassifyTimestamp(ts uint32) domain.ErrorCode {
	if ts&errorFlag == 0 {
		return domain.ErrorCode{Kind: domain.ErrorNone}
	}

	code := domain.ErrorCode{Raw: ts}
	switch ts {
	case CodeBlankTelegram:
		code.Kind = domain.ErrorBlankTelegram
	case CodeTelegramTimeout:
		code.Kind = domain.ErrorTelegramTimeout
	case CodeDeviceCRCMismatch:
		code.Kind = domain.ErrorDeviceCRCMismatch
	default:
		code.Kind = domain.ErrorUnknownDevice
	}
	return code
}

// MeterTime converts a non-error timestamp to UTC time.
func MeterTime(ts uint32) time.Time {
	return time.Unix(Epoch2000+int64(ts), 0).UTC()
}

// TimestampFor is the inverse of MeterTime. Times before the epoch clamp to 0.
func TimestampFor(t time.Time) uint32 {
	secs := t.Unix() - Epoch2000
	if secs < 0 {
		return 0
	}
	return uint32(secs) &^ errorFlag
}
