package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Quantity identifies a physical measurement carried by a telegram.
type Quantity string

// Quantities in telegram order.
const (
	MeterDeliveredT1    Quantity = "meter_delivered_t1"
	MeterDeliveredT2    Quantity = "meter_delivered_t2"
	MeterInjectedT1     Quantity = "meter_injected_t1"
	MeterInjectedT2     Quantity = "meter_injected_t2"
	SumPowerDelivered   Quantity = "sum_power_delivered"
	SumPowerInjected    Quantity = "sum_power_injected"
	PowerDeliveredL1    Quantity = "power_per_phase_delivered_1"
	PowerDeliveredL2    Quantity = "power_per_phase_delivered_2"
	PowerDeliveredL3    Quantity = "power_per_phase_delivered_3"
	PowerInjectedL1     Quantity = "power_per_phase_injected_1"
	PowerInjectedL2     Quantity = "power_per_phase_injected_2"
	PowerInjectedL3     Quantity = "power_per_phase_injected_3"
	VoltageL1           Quantity = "voltage_per_phase_1"
	VoltageL2           Quantity = "voltage_per_phase_2"
	VoltageL3           Quantity = "voltage_per_phase_3"
	CurrentL1           Quantity = "current_per_phase_1"
	CurrentL2           Quantity = "current_per_phase_2"
	CurrentL3           Quantity = "current_per_phase_3"
	GasVolume           Quantity = "gas_volume"
	Tariff              Quantity = "tariff"
	MeterDeliveredTotal Quantity = "meter_delivered_total"
	MeterInjectedTotal  Quantity = "meter_injected_total"
)

// Unit is the physical unit a measurement value is expressed in.
type Unit string

// Units exposed by the decoder.
const (
	UnitKiloWattHour Unit = "kWh"
	UnitWatt         Unit = "W"
	UnitVolt         Unit = "V"
	UnitAmpere       Unit = "A"
	UnitCubicMeter   Unit = "m³"
	UnitNone         Unit = ""
)

// QuantitySpec describes how a raw register value becomes a physical value:
// value = raw * 10^Scale in Unit.
type QuantitySpec struct {
	Quantity Quantity
	Unit     Unit
	Scale    int
	Tariff   int // 1 or 2 for tariff registers, 0 otherwise
	Phase    int // 1..3 for per-phase values, 0 otherwise
}

// Quantities lists every measurement of a telegram in wire order.
var Quantities = []QuantitySpec{
	{Quantity: MeterDeliveredT1, Unit: UnitKiloWattHour, Scale: -3, Tariff: 1},
	{Quantity: MeterDeliveredT2, Unit: UnitKiloWattHour, Scale: -3, Tariff: 2},
	{Quantity: MeterInjectedT1, Unit: UnitKiloWattHour, Scale: -3, Tariff: 1},
	{Quantity: MeterInjectedT2, Unit: UnitKiloWattHour, Scale: -3, Tariff: 2},
	{Quantity: SumPowerDelivered, Unit: UnitWatt},
	{Quantity: SumPowerInjected, Unit: UnitWatt},
	{Quantity: PowerDeliveredL1, Unit: UnitWatt, Phase: 1},
	{Quantity: PowerDeliveredL2, Unit: UnitWatt, Phase: 2},
	{Quantity: PowerDeliveredL3, Unit: UnitWatt, Phase: 3},
	{Quantity: PowerInjectedL1, Unit: UnitWatt, Phase: 1},
	{Quantity: PowerInjectedL2, Unit: UnitWatt, Phase: 2},
	{Quantity: PowerInjectedL3, Unit: UnitWatt, Phase: 3},
	{Quantity: VoltageL1, Unit: UnitVolt, Scale: -1, Phase: 1},
	{Quantity: VoltageL2, Unit: UnitVolt, Scale: -1, Phase: 2},
	{Quantity: VoltageL3, Unit: UnitVolt, Scale: -1, Phase: 3},
	{Quantity: CurrentL1, Unit: UnitAmpere, Scale: -2, Phase: 1},
	{Quantity: CurrentL2, Unit: UnitAmpere, Scale: -2, Phase: 2},
	{Quantity: CurrentL3, Unit: UnitAmpere, Scale: -2, Phase: 3},
	{Quantity: GasVolume, Unit: UnitCubicMeter, Scale: -3},
	{Quantity: Tariff, Unit: UnitNone},
}

// LookupQuantity returns the def of a wire quantity.
func LookupQuantity(q Quantity) (QuantitySpec, bool) {
	for _, def := range Quantities {
		if def.Quantity == q {
			return def, true
		}
	}
	return QuantitySpec{}, false
}

// Measurement is a single decoded value. An absent measurement has
// Present=false and a zero Raw.
type Measurement struct {
	QuantitySpec
	Raw     uint64
	Present bool
}

// NewMeasurement returns a present measurement.
func NewMeasurement(def QuantitySpec, raw uint64) Measurement {
	return Measurement{QuantitySpec: def, Raw: raw, Present: true}
}

// AbsentMeasurement returns a measurement the meter did not report.
func AbsentMeasurement(def QuantitySpec) Measurement {
	return Measurement{QuantitySpec: def}
}

// Float returns the physical value. The conversion happens only here, raw
// integers are kept everywhere else.
func (m Measurement) Float() (float64, bool) {
	if !m.Present {
		return 0, false
	}
	v := float64(m.Raw)
	if m.Scale < 0 {
		return v / math.Pow10(-m.Scale), true
	}
	return v * math.Pow10(m.Scale), true
}

// Decimal formats the physical value exactly, keeping the source resolution
// ("230.5", "0.05", "1234.567").
func (m Measurement) Decimal() string {
	if !m.Present {
		return ""
	}
	digits := strconv.FormatUint(m.Raw, 10)
	if m.Scale >= 0 {
		return digits + strings.Repeat("0", m.Scale)
	}
	frac := -m.Scale
	if len(digits) <= frac {
		digits = strings.Repeat("0", frac-len(digits)+1) + digits
	}
	cut := len(digits) - frac
	return digits[:cut] + "." + digits[cut:]
}

// ErrorKind classifies the device condition reported in the timestamp field.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorDeviceCRCMismatch
	ErrorBlankTelegram
	ErrorTelegramTimeout
	ErrorUnknownDevice
)

var errorKindNames = map[ErrorKind]string{
	ErrorNone:              "none",
	ErrorDeviceCRCMismatch: "device_crc_mismatch",
	ErrorBlankTelegram:     "blank_telegram",
	ErrorTelegramTimeout:   "telegram_timeout",
	ErrorUnknownDevice:     "unknown_device_error",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return "invalid"
}

// ParseErrorKind is the inverse of ErrorKind.String.
func ParseErrorKind(s string) (ErrorKind, bool) {
	for kind, name := range errorKindNames {
		if name == s {
			return kind, true
		}
	}
	return ErrorNone, false
}

// ErrorCode is the classified timestamp field. Raw holds the transmitted
// value for every kind other than ErrorNone.
type ErrorCode struct {
	Kind ErrorKind
	Raw  uint32
}

func (e ErrorCode) String() string {
	if e.Kind == ErrorNone {
		return e.Kind.String()
	}
	return e.Kind.String() + "(0x" + strconv.FormatUint(uint64(e.Raw), 16) + ")"
}

// Telegram is the decoded content of one received frame. Error telegrams
// carry no measurements.
type Telegram struct {
	ErrorCode    ErrorCode
	RawTimestamp uint32
	Timestamp    time.Time
	Received     time.Time
	Measurements []Measurement
}

// OK reports whether the meter delivered measurements.
func (t *Telegram) OK() bool {
	return t.ErrorCode.Kind == ErrorNone
}

// Measurement returns the measurement for q.
func (t *Telegram) Measurement(q Quantity) (Measurement, bool) {
	for _, m := range t.Measurements {
		if m.Quantity == q {
			return m, true
		}
	}
	return Measurement{}, false
}

// Present returns the measurement for q only when the meter reported it.
func (t *Telegram) Present(q Quantity) (Measurement, bool) {
	m, ok := t.Measurement(q)
	if !ok || !m.Present {
		return Measurement{}, false
	}
	return m, true
}

// EnergyDelivered sums both tariff registers of delivered energy.
func (t *Telegram) EnergyDelivered() (Measurement, bool) {
	return t.tariffTotal(MeterDeliveredTotal, MeterDeliveredT1, MeterDeliveredT2)
}

// EnergyInjected sums both tariff registers of injected energy.
func (t *Telegram) EnergyInjected() (Measurement, bool) {
	return t.tariffTotal(MeterInjectedTotal, MeterInjectedT1, MeterInjectedT2)
}

func (t *Telegram) tariffTotal(total, t1, t2 Quantity) (Measurement, bool) {
	m1, ok1 := t.Present(t1)
	m2, ok2 := t.Present(t2)
	if !ok1 || !ok2 {
		return Measurement{}, false
	}
	def := m1.QuantitySpec
	def.Quantity = total
	def.Tariff = 0
	return NewMeasurement(def, m1.Raw+m2.Raw), true
}

// Fields flattens the telegram into the JSON shape used by the publisher and
// the HTTP API. Absent measurements map to nil.
func (t *Telegram) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"updated": t.Received.UTC().Format(time.RFC3339),
	}
	if !t.OK() {
		fields["error"] = t.ErrorCode.Kind.String()
		fields["error_code"] = t.ErrorCode.Raw
		return fields
	}
	fields["timestamp"] = t.Timestamp.UTC().Format(time.RFC3339)
	for _, m := range t.Measurements {
		if v, ok := m.Float(); ok {
			fields[string(m.Quantity)] = v
		} else {
			fields[string(m.Quantity)] = nil
		}
	}
	return fields
}

// MarshalJSON encodes the flattened telegram.
func (t *Telegram) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Fields())
}
