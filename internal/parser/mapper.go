package parser

import (
	"time"

	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/protocol"
)

// rawField is a register value together with its wire width in bits.
type rawField struct {
	value uint64
	bits  uint
}

// absent reports the all-bits-set sentinel for the field width.
func (f rawField) absent() bool {
	return f.value == (uint64(1)<<f.bits)-1
}

func u8(v uint8) rawField   { return rawField{value: uint64(v), bits: 8} }
func u16(v uint16) rawField { return rawField{value: uint64(v), bits: 16} }
func u32(v uint32) rawField { return rawField{value: uint64(v), bits: 32} }

// fieldFor selects the register carrying q.
func fieldFor(raw *protocol.RawTelegram, q domain.Quantity) (rawField, bool) {
	switch q {
	case domain.MeterDeliveredT1:
		return u32(raw.MeterDeliveredT1), true
	case domain.MeterDeliveredT2:
		return u32(raw.MeterDeliveredT2), true
	case domain.MeterInjectedT1:
		return u32(raw.MeterInjectedT1), true
	case domain.MeterInjectedT2:
		return u32(raw.MeterInjectedT2), true
	case domain.SumPowerDelivered:
		return u16(raw.SumPowerDelivered), true
	case domain.SumPowerInjected:
		return u16(raw.SumPowerInjected), true
	case domain.PowerDeliveredL1, domain.PowerDeliveredL2, domain.PowerDeliveredL3:
		return u16(raw.PowerPerPhaseDelivered[phaseIndex(q)]), true
	case domain.PowerInjectedL1, domain.PowerInjectedL2, domain.PowerInjectedL3:
		return u16(raw.PowerPerPhaseInjected[phaseIndex(q)]), true
	case domain.VoltageL1, domain.VoltageL2, domain.VoltageL3:
		return u16(raw.VoltagePerPhase[phaseIndex(q)]), true
	case domain.CurrentL1, domain.CurrentL2, domain.CurrentL3:
		return u16(raw.CurrentPerPhase[phaseIndex(q)]), true
	case domain.GasVolume:
		return u32(raw.GasVolume), true
	case domain.Tariff:
		return u8(raw.Tariff), true
	}
	return rawField{}, false
}

func phaseIndex(q domain.Quantity) int {
	def, _ := domain.LookupQuantity(q)
	return def.Phase - 1
}

// MapTelegram turns decoded registers into a Telegram. Error telegrams stop
// after the timestamp: nothing behind it is interpreted.
func MapTelegram(raw protocol.RawTelegram, received time.Time) *domain.Telegram {
	telegram := &domain.Telegram{
		ErrorCode:    protocol.ClassifyTimestamp(raw.Timestamp),
		RawTimestamp: raw.Timestamp,
		Received:     received,
	}
	if !telegram.OK() {
		return telegram
	}

	telegram.Timestamp = protocol.MeterTime(raw.Timestamp)
	telegram.Measurements = make([]domain.Measurement, 0, len(domain.Quantities))
	for _, def := range domain.Quantities {
		field, ok := fieldFor(&raw, def.Quantity)
		if !ok || field.absent() {
			telegram.Measurements = append(telegram.Measurements, domain.AbsentMeasurement(def))
			continue
		}
		telegram.Measurements = append(telegram.Measurements, domain.NewMeasurement(def, field.value))
	}

	return telegram
}
