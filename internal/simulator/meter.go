// Package simulator synthesizes P1 logger frames from a simple household
// load model. It feeds the p1-sim tool and the read loop tests.
package simulator

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/protocol"
)

// Device error timestamps the logger sends instead of a meter time.
const (
	TimestampBlank     uint32 = 0xFFFFFFFF
	TimestampTimeout   uint32 = 0x80000000
	TimestampDeviceCRC uint32 = 0x80000002
)

// Options shape the simulated installation.
type Options struct {
	Seed      uint64
	Phases    int     // 1 or 3
	Gas       bool    // report a gas meter
	SolarPeak float64 // W of injected power at noon, 0 for none
	BaseLoad  float64 // W drawn around the clock
}

// DefaultOptions is a three phase household with gas and a small PV system.
func DefaultOptions() Options {
	return Options{
		Seed:      1,
		Phases:    3,
		Gas:       true,
		SolarPeak: 3000,
		BaseLoad:  350,
	}
}

// Meter keeps the register state between telegrams.
type Meter struct {
	opts  Options
	rng   *rand.Rand
	crc   *protocol.CRCValidator
	last  time.Time
	regs  [4]float64 // delivered t1, t2, injected t1, t2 in Wh
	gas   float64    // dm³
	count int
}

// NewMeter creates a meter whose registers start at plausible values.
func NewMeter(opts Options) *Meter {
	if opts.Phases != 1 {
		opts.Phases = 3
	}
	return &Meter{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5eed)),
		crc:  protocol.NewCRCValidator(protocol.DefaultCRCParams),
		regs: [4]float64{1234567, 2345678, 345678, 45678},
		gas:  4567890,
	}
}

// Tariff returns the tariff code in force: 1 (normal) on weekdays between
// 7:00 and 22:00, 2 (low) otherwise.
func Tariff(at time.Time) uint8 {
	switch at.Weekday() {
	case time.Saturday, time.Sunday:
		return 2
	}
	if h := at.Hour(); h >= 7 && h < 22 {
		return 1
	}
	return 2
}

// Next advances the registers to at and returns the telegram the meter
// would report.
func (m *Meter) Next(at time.Time) protocol.RawTelegram {
	m.count++
	tariff := Tariff(at)

	load := m.opts.BaseLoad + m.rng.Float64()*800
	if h := at.Hour(); h >= 17 && h < 21 {
		load += 1200
	}
	solar := m.solar(at)
	net := load - solar

	var delivered, injected float64
	if net >= 0 {
		delivered = net
	} else {
		injected = -net
	}

	if !m.last.IsZero() && at.After(m.last) {
		hours := at.Sub(m.last).Hours()
		idx := int(tariff - 1)
		m.regs[idx] += delivered * hours
		m.regs[2+idx] += injected * hours
		if m.opts.Gas {
			m.gas += (40 + m.rng.Float64()*20) * hours
		}
	}
	m.last = at

	raw := protocol.RawTelegram{
		Timestamp:         protocol.TimestampFor(at),
		MeterDeliveredT1:  uint32(m.regs[0]),
		MeterDeliveredT2:  uint32(m.regs[1]),
		MeterInjectedT1:   uint32(m.regs[2]),
		MeterInjectedT2:   uint32(m.regs[3]),
		SumPowerDelivered: uint16(delivered),
		SumPowerInjected:  uint16(injected),
		GasVolume:         math.MaxUint32,
		Tariff:            tariff,
	}
	if m.opts.Gas {
		raw.GasVolume = uint32(m.gas)
	}

	for phase := 0; phase < 3; phase++ {
		if phase >= m.opts.Phases {
			raw.PowerPerPhaseDelivered[phase] = math.MaxUint16
			raw.PowerPerPhaseInjected[phase] = math.MaxUint16
			raw.VoltagePerPhase[phase] = math.MaxUint16
			raw.CurrentPerPhase[phase] = math.MaxUint16
			continue
		}
		share := 1.0 / float64(m.opts.Phases)
		voltage := 2300 + (m.rng.Float64()-0.5)*80 // 0.1 V
		raw.PowerPerPhaseDelivered[phase] = uint16(delivered * share)
		raw.PowerPerPhaseInjected[phase] = uint16(injected * share)
		raw.VoltagePerPhase[phase] = uint16(voltage)
		raw.CurrentPerPhase[phase] = uint16((delivered + injected) * share / (voltage / 10) * 100)
	}

	return raw
}

func (m *Meter) solar(at time.Time) float64 {
	if m.opts.SolarPeak <= 0 {
		return 0
	}
	hour := float64(at.Hour()) + float64(at.Minute())/60
	if hour < 6 || hour > 20 {
		return 0
	}
	return m.opts.SolarPeak * math.Sin((hour-6)/14*math.Pi) * (0.7 + 0.3*m.rng.Float64())
}

// Frame encodes the next telegram with a valid checksum.
func (m *Meter) Frame(at time.Time) protocol.RawFrame {
	return protocol.EncodePacket(m.Next(at), m.crc)
}

// ErrorFrame encodes a device error telegram. Measurement bytes are left at
// their absent value.
func (m *Meter) ErrorFrame(timestamp uint32) protocol.RawFrame {
	raw := protocol.RawTelegram{
		Timestamp:              timestamp,
		MeterDeliveredT1:       math.MaxUint32,
		MeterDeliveredT2:       math.MaxUint32,
		MeterInjectedT1:        math.MaxUint32,
		MeterInjectedT2:        math.MaxUint32,
		SumPowerDelivered:      math.MaxUint16,
		SumPowerInjected:       math.MaxUint16,
		PowerPerPhaseDelivered: [3]uint16{math.MaxUint16, math.MaxUint16, math.MaxUint16},
		PowerPerPhaseInjected:  [3]uint16{math.MaxUint16, math.MaxUint16, math.MaxUint16},
		VoltagePerPhase:        [3]uint16{math.MaxUint16, math.MaxUint16, math.MaxUint16},
		CurrentPerPhase:        [3]uint16{math.MaxUint16, math.MaxUint16, math.MaxUint16},
		GasVolume:              math.MaxUint32,
		Tariff:                 math.MaxUint8,
	}
	return protocol.EncodePacket(raw, m.crc)
}

// Corrupt flips one payload bit so the checksum no longer matches.
func (m *Meter) Corrupt(f protocol.RawFrame) protocol.RawFrame {
	// Stay clear of the markers and the checksum itself
	pos := 3 + m.rng.IntN(53)
	f[pos] ^= 1 << m.rng.IntN(8)
	return f
}

// Noise returns n random bytes that never contain a leading marker.
func (m *Meter) Noise(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		b := byte(m.rng.IntN(256))
		if b == 0x42 {
			b = 0x24
		}
		out[i] = b
	}
	return out
}

// Count returns the number of telegrams generated so far.
func (m *Meter) Count() int {
	return m.count
}

// ErrorKindTimestamp maps a device error kind to the timestamp that reports it.
func ErrorKindTimestamp(kind domain.ErrorKind) (uint32, bool) {
	switch kind {
	case domain.ErrorBlankTelegram:
		return TimestampBlank, true
	case domain.ErrorTelegramTimeout:
		return TimestampTimeout, true
	case domain.ErrorDeviceCRCMismatch:
		return TimestampDeviceCRC, true
	default:
		return 0, false
	}
}
