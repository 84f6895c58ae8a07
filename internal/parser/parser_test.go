package parser

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/resident-x/go-p1/internal/config"
	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 17, 8, 30, 5, 0, time.UTC)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := NewParser(config.DefaultConfig())
	require.NoError(t, err)
	p.now = func() time.Time { return fixedNow }
	return p
}

func encode(raw protocol.RawTelegram) protocol.RawFrame {
	return protocol.EncodePacket(raw, protocol.NewCRCValidator(protocol.DefaultCRCParams))
}

func sampleRaw() protocol.RawTelegram {
	return protocol.RawTelegram{
		Timestamp:              772000000,
		MeterDeliveredT1:       1234567,
		MeterDeliveredT2:       2345678,
		MeterInjectedT1:        34567,
		MeterInjectedT2:        45678,
		SumPowerDelivered:      1520,
		PowerPerPhaseDelivered: [3]uint16{500, 520, 500},
		VoltagePerPhase:        [3]uint16{2305, 2311, 2298},
		CurrentPerPhase:        [3]uint16{218, 226, 217},
		GasVolume:              3456789,
		Tariff:                 2,
	}
}

func TestNewParser(t *testing.T) {
	p, err := NewParser(config.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultCRCParams.Name, p.CRCName())

	cfg := config.DefaultConfig()
	cfg.Decoder.CRCVariant = "crc-7"
	_, err = NewParser(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crc variant")
}

func TestDecodeAllZeroFrame(t *testing.T) {
	p := newTestParser(t)
	frame := encode(protocol.RawTelegram{Tariff: 1})

	telegram, err := p.DecodeBytes(frame[:])
	require.NoError(t, err)
	require.True(t, telegram.OK())
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), telegram.Timestamp)
	assert.Equal(t, fixedNow, telegram.Received)
	require.Len(t, telegram.Measurements, len(domain.Quantities))

	for _, m := range telegram.Measurements {
		assert.True(t, m.Present, "%s should be present", m.Quantity)
		if m.Quantity == domain.Tariff {
			assert.Equal(t, uint64(1), m.Raw)
			continue
		}
		assert.Zero(t, m.Raw, "%s", m.Quantity)
	}
}

func TestDecodeAbsentSumPower(t *testing.T) {
	p := newTestParser(t)
	frame := encode(protocol.RawTelegram{Tariff: 1, SumPowerDelivered: 0xFFFF})

	telegram, err := p.DecodeBytes(frame[:])
	require.NoError(t, err)

	for _, m := range telegram.Measurements {
		if m.Quantity == domain.SumPowerDelivered {
			assert.False(t, m.Present)
			continue
		}
		assert.True(t, m.Present, "%s should be unaffected", m.Quantity)
	}
}

func TestDecodeBlankTelegramWithGarbage(t *testing.T) {
	p := newTestParser(t)
	rng := rand.New(rand.NewSource(7))

	var frame protocol.RawFrame
	rng.Read(frame[:])
	copy(frame[:], protocol.LeadingMarker[:])
	binary.LittleEndian.PutUint32(frame[3:], 0xFFFFFFFF)
	copy(frame[58:], protocol.TrailingMarker[:])
	crc := protocol.NewCRCValidator(protocol.DefaultCRCParams)
	binary.LittleEndian.PutUint16(frame[56:], crc.Checksum(frame))

	telegram, err := p.DecodeBytes(frame[:])
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorBlankTelegram, telegram.ErrorCode.Kind)
	assert.Equal(t, uint32(0xFFFFFFFF), telegram.ErrorCode.Raw)
	assert.Empty(t, telegram.Measurements)
	assert.True(t, telegram.Timestamp.IsZero())
}

func TestDecodeErrorCodes(t *testing.T) {
	p := newTestParser(t)

	tests := []struct {
		ts   uint32
		kind domain.ErrorKind
	}{
		{0xFFFFFFFF, domain.ErrorBlankTelegram},
		{0x80000000, domain.ErrorTelegramTimeout},
		{0x80000002, domain.ErrorDeviceCRCMismatch},
		{0x80000001, domain.ErrorUnknownDevice},
		{0x7FFFFFFF, domain.ErrorNone},
	}

	for _, tt := range tests {
		raw := sampleRaw()
		raw.Timestamp = tt.ts
		frame := encode(raw)

		telegram, err := p.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, tt.kind, telegram.ErrorCode.Kind, "timestamp 0x%08x", tt.ts)
		if tt.kind != domain.ErrorNone {
			assert.Equal(t, tt.ts, telegram.ErrorCode.Raw)
			assert.Nil(t, telegram.Measurements)
		}
	}

	stats := p.Stats()
	assert.Equal(t, int64(5), stats.Frames)
	assert.Equal(t, int64(4), stats.DeviceErrors)
	assert.Equal(t, int64(1), stats.Telegrams)
}

func TestDecodeScaling(t *testing.T) {
	p := newTestParser(t)
	frame := encode(sampleRaw())

	telegram, err := p.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 18, 4, 26, 40, 0, time.UTC), telegram.Timestamp)

	expected := map[domain.Quantity]string{
		domain.MeterDeliveredT1:  "1234.567",
		domain.MeterDeliveredT2:  "2345.678",
		domain.MeterInjectedT1:   "34.567",
		domain.MeterInjectedT2:   "45.678",
		domain.SumPowerDelivered: "1520",
		domain.SumPowerInjected:  "0",
		domain.PowerDeliveredL2:  "520",
		domain.VoltageL1:         "230.5",
		domain.VoltageL3:         "229.8",
		domain.CurrentL1:         "2.18",
		domain.CurrentL2:         "2.26",
		domain.GasVolume:         "3456.789",
		domain.Tariff:            "2",
	}
	for q, want := range expected {
		m, ok := telegram.Present(q)
		require.True(t, ok, "%s", q)
		assert.Equal(t, want, m.Decimal(), "%s", q)
	}

	voltage, _ := telegram.Present(domain.VoltageL1)
	assert.Equal(t, domain.UnitVolt, voltage.Unit)
	assert.Equal(t, 1, voltage.Phase)

	delivered, ok := telegram.EnergyDelivered()
	require.True(t, ok)
	assert.Equal(t, "3580.245", delivered.Decimal())
	assert.Equal(t, domain.UnitKiloWattHour, delivered.Unit)
}

func TestSentinelPerFieldWidth(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*protocol.RawTelegram)
		quantity domain.Quantity
		present  bool
	}{
		{"tariff 0xFF", func(r *protocol.RawTelegram) { r.Tariff = 0xFF }, domain.Tariff, false},
		{"tariff 0xFE", func(r *protocol.RawTelegram) { r.Tariff = 0xFE }, domain.Tariff, true},
		{"voltage 0xFFFF", func(r *protocol.RawTelegram) { r.VoltagePerPhase[1] = 0xFFFF }, domain.VoltageL2, false},
		{"voltage 0xFFFE", func(r *protocol.RawTelegram) { r.VoltagePerPhase[1] = 0xFFFE }, domain.VoltageL2, true},
		{"current 0xFFFF", func(r *protocol.RawTelegram) { r.CurrentPerPhase[2] = 0xFFFF }, domain.CurrentL3, false},
		{"injected power 0xFFFF", func(r *protocol.RawTelegram) { r.PowerPerPhaseInjected[0] = 0xFFFF }, domain.PowerInjectedL1, false},
		{"gas 0xFFFFFFFF", func(r *protocol.RawTelegram) { r.GasVolume = 0xFFFFFFFF }, domain.GasVolume, false},
		{"gas 0x0000FFFF", func(r *protocol.RawTelegram) { r.GasVolume = 0xFFFF }, domain.GasVolume, true},
		{"meter 0xFFFFFFFF", func(r *protocol.RawTelegram) { r.MeterInjectedT2 = 0xFFFFFFFF }, domain.MeterInjectedT2, false},
		{"meter 0xFFFFFFFE", func(r *protocol.RawTelegram) { r.MeterInjectedT2 = 0xFFFFFFFE }, domain.MeterInjectedT2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := sampleRaw()
			tt.mutate(&raw)

			telegram := MapTelegram(raw, fixedNow)
			m, ok := telegram.Measurement(tt.quantity)
			require.True(t, ok)
			assert.Equal(t, tt.present, m.Present)
			if !tt.present {
				_, has := m.Float()
				assert.False(t, has)
			}
		})
	}
}

func TestDecodeCRCMismatch(t *testing.T) {
	p := newTestParser(t)
	frame := encode(sampleRaw())
	frame[20] ^= 0x01

	telegram, err := p.Decode(frame)
	assert.Nil(t, telegram)
	var mismatch *protocol.CrcMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(1), p.Stats().CRCErrors)
	assert.Zero(t, p.Stats().Telegrams)
}

func TestDecodeBytesStructuralRejection(t *testing.T) {
	p := newTestParser(t)
	frame := encode(sampleRaw())

	for _, data := range [][]byte{frame[:59], append(append([]byte{}, frame[:]...), 0x55)} {
		telegram, err := p.DecodeBytes(data)
		assert.Nil(t, telegram)
		var syncErr *protocol.FrameSyncError
		assert.True(t, errors.As(err, &syncErr))
	}
}

func TestPushMixedStream(t *testing.T) {
	p := newTestParser(t)

	good := encode(sampleRaw())
	corrupt := good
	corrupt[30] ^= 0x80
	timeoutRaw := sampleRaw()
	timeoutRaw.Timestamp = 0x80000000
	timeout := encode(timeoutRaw)

	var stream []byte
	stream = append(stream, 0x00, 0x13, 0x37)
	stream = append(stream, good[:]...)
	stream = append(stream, corrupt[:]...)
	stream = append(stream, timeout[:]...)
	stream = append(stream, good[:]...)

	results := p.Push(stream)
	require.Len(t, results, 5)

	var syncErr *protocol.FrameSyncError
	require.ErrorAs(t, results[0].Err, &syncErr)
	assert.Equal(t, 3, syncErr.Discarded)
	assert.Nil(t, results[0].Telegram)

	require.NotNil(t, results[1].Telegram)
	assert.True(t, results[1].Telegram.OK())

	var mismatch *protocol.CrcMismatchError
	require.ErrorAs(t, results[2].Err, &mismatch)
	assert.Nil(t, results[2].Telegram)

	require.NotNil(t, results[3].Telegram)
	assert.Equal(t, domain.ErrorTelegramTimeout, results[3].Telegram.ErrorCode.Kind)

	require.NotNil(t, results[4].Telegram)
	assert.True(t, results[4].Telegram.OK())

	assert.Zero(t, p.Buffered())
	assert.Equal(t, Stats{Frames: 4, Telegrams: 2, DeviceErrors: 1, SyncErrors: 1, CRCErrors: 1, Discarded: 3}, p.Stats())
}

func TestPushByteByByte(t *testing.T) {
	p := newTestParser(t)
	frame := encode(sampleRaw())

	var results []domain.Result
	for i := range frame {
		results = append(results, p.Push(frame[i:i+1])...)
	}

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.True(t, results[0].Telegram.OK())
}

func TestPushResetDropsPartialFrame(t *testing.T) {
	p := newTestParser(t)
	frame := encode(sampleRaw())

	assert.Empty(t, p.Push(frame[:25]))
	assert.Equal(t, 25, p.Buffered())
	p.Reset()
	assert.Zero(t, p.Buffered())

	results := p.Push(frame[:])
	require.Len(t, results, 1)
	assert.NotNil(t, results[0].Telegram)
}

func TestDecodeConcurrent(t *testing.T) {
	p := newTestParser(t)
	frame := encode(sampleRaw())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				telegram, err := p.Decode(frame)
				assert.NoError(t, err)
				assert.True(t, telegram.OK())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(400), p.Stats().Telegrams)
}
