package simulator

import (
	"testing"
	"time"

	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/parser"
	"github.com/resident-x/go-p1/internal/protocol"
	"github.com/resident-x/go-p1/internal/validation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeter_FramesDecodeAndPassValidation(t *testing.T) {
	meter := NewMeter(DefaultOptions())
	p := parser.NewParserWithCRC(protocol.DefaultCRCParams)
	validator := validation.NewSanityValidator(validation.ValidationLevelStrict, zerolog.Nop())

	at := time.Date(2024, 6, 18, 12, 0, 0, 0, time.UTC)
	var previous *domain.Telegram
	for i := 0; i < 50; i++ {
		frame := meter.Frame(at)
		telegram, err := p.Decode(frame)
		require.NoError(t, err)
		require.True(t, telegram.OK())
		assert.Equal(t, at, telegram.Timestamp)

		result := validator.Validate(telegram, previous)
		assert.True(t, result.Valid, result.Summary())

		previous = telegram
		at = at.Add(2 * time.Second)
	}
	assert.Equal(t, 50, meter.Count())
}

func TestMeter_RegistersIncrease(t *testing.T) {
	meter := NewMeter(Options{Seed: 7, Phases: 3, BaseLoad: 500})

	at := time.Date(2024, 6, 18, 12, 0, 0, 0, time.UTC) // Tuesday, tariff 1
	first := meter.Next(at)
	second := meter.Next(at.Add(time.Hour))

	assert.Equal(t, uint8(1), second.Tariff)
	assert.Greater(t, second.MeterDeliveredT1, first.MeterDeliveredT1)
	assert.Equal(t, first.MeterDeliveredT2, second.MeterDeliveredT2)
	assert.Equal(t, uint16(0), second.SumPowerInjected, "no solar configured")
	assert.Equal(t, uint32(0xFFFFFFFF), second.GasVolume, "gas disabled")
}

func TestMeter_SinglePhase(t *testing.T) {
	meter := NewMeter(Options{Seed: 3, Phases: 1, BaseLoad: 400})
	raw := meter.Next(time.Date(2024, 6, 18, 12, 0, 0, 0, time.UTC))

	assert.NotEqual(t, uint16(0xFFFF), raw.VoltagePerPhase[0])
	assert.Equal(t, uint16(0xFFFF), raw.VoltagePerPhase[1])
	assert.Equal(t, uint16(0xFFFF), raw.CurrentPerPhase[2])
}

func TestMeter_ErrorFrame(t *testing.T) {
	meter := NewMeter(DefaultOptions())
	p := parser.NewParserWithCRC(protocol.DefaultCRCParams)

	for _, kind := range []domain.ErrorKind{domain.ErrorBlankTelegram, domain.ErrorTelegramTimeout, domain.ErrorDeviceCRCMismatch} {
		ts, ok := ErrorKindTimestamp(kind)
		require.True(t, ok)

		telegram, err := p.Decode(meter.ErrorFrame(ts))
		require.NoError(t, err)
		assert.Equal(t, kind, telegram.ErrorCode.Kind)
		assert.Empty(t, telegram.Measurements)
	}

	_, ok := ErrorKindTimestamp(domain.ErrorNone)
	assert.False(t, ok)
}

func TestMeter_Corrupt(t *testing.T) {
	meter := NewMeter(DefaultOptions())
	p := parser.NewParserWithCRC(protocol.DefaultCRCParams)

	frame := meter.Corrupt(meter.Frame(time.Now()))
	_, err := p.Decode(frame)

	var crcErr *protocol.CrcMismatchError
	assert.ErrorAs(t, err, &crcErr)
}

func TestMeter_NoiseResynchronizes(t *testing.T) {
	meter := NewMeter(DefaultOptions())
	p := parser.NewParserWithCRC(protocol.DefaultCRCParams)

	at := time.Date(2024, 6, 18, 12, 0, 0, 0, time.UTC)
	frame := meter.Frame(at)

	stream := append(meter.Noise(17), frame[:]...)
	results := p.Push(stream)

	require.Len(t, results, 2)
	var syncErr *protocol.FrameSyncError
	require.ErrorAs(t, results[0].Err, &syncErr)
	assert.Equal(t, 17, syncErr.Discarded)
	require.NotNil(t, results[1].Telegram)
	assert.Equal(t, at, results[1].Telegram.Timestamp)
}

func TestTariff(t *testing.T) {
	tests := []struct {
		at       time.Time
		expected uint8
	}{
		{time.Date(2024, 6, 18, 12, 0, 0, 0, time.UTC), 1}, // Tuesday noon
		{time.Date(2024, 6, 18, 6, 59, 0, 0, time.UTC), 2},
		{time.Date(2024, 6, 18, 22, 0, 0, 0, time.UTC), 2},
		{time.Date(2024, 6, 22, 12, 0, 0, 0, time.UTC), 2}, // Saturday
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, Tariff(tt.at), tt.at.String())
	}
}
