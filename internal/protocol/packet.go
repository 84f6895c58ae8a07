package protocol

import "encoding/binary"

// Field offsets within a frame.
const (
	offTimestamp              = 3
	offMeterDeliveredT1       = 7
	offMeterDeliveredT2       = 11
	offMeterInjectedT1        = 15
	offMeterInjectedT2        = 19
	offSumPowerDelivered      = 23
	offSumPowerInjected       = 25
	offPowerPerPhaseDelivered = 27
	offPowerPerPhaseInjected  = 33
	offVoltagePerPhase        = 39
	offCurrentPerPhase        = 45
	offGasVolume              = 51
	offTariff                 = 55
	offPost                   = 58
)

// RawTelegram holds every frame field as transmitted, before scaling.
type RawTelegram struct {
	Pre                    [3]uint8
	Timestamp              uint32
	MeterDeliveredT1       uint32 // Wh
	MeterDeliveredT2       uint32 // Wh
	MeterInjectedT1        uint32 // Wh
	MeterInjectedT2        uint32 // Wh
	SumPowerDelivered      uint16 // W
	SumPowerInjected       uint16 // W
	PowerPerPhaseDelivered [3]uint16
	PowerPerPhaseInjected  [3]uint16
	VoltagePerPhase        [3]uint16 // 0.1 V
	CurrentPerPhase        [3]uint16 // 0.01 A
	GasVolume              uint32    // 0.001 m³
	Tariff                 uint8
	Checksum               uint16
	Post                   [2]uint8
}

// DecodePacket splits a frame into its fields. It cannot fail: markers were
// checked when the frame was built.
func DecodePacket(f RawFrame) RawTelegram {
	le := binary.LittleEndian
	var t RawTelegram

	copy(t.Pre[:], f[:offTimestamp])
	t.Timestamp = le.Uint32(f[offTimestamp:])
	t.MeterDeliveredT1 = le.Uint32(f[offMeterDeliveredT1:])
	t.MeterDeliveredT2 = le.Uint32(f[offMeterDeliveredT2:])
	t.MeterInjectedT1 = le.Uint32(f[offMeterInjectedT1:])
	t.MeterInjectedT2 = le.Uint32(f[offMeterInjectedT2:])
	t.SumPowerDelivered = le.Uint16(f[offSumPowerDelivered:])
	t.SumPowerInjected = le.Uint16(f[offSumPowerInjected:])
	for i := 0; i < 3; i++ {
		t.PowerPerPhaseDelivered[i] = le.Uint16(f[offPowerPerPhaseDelivered+2*i:])
		t.PowerPerPhaseInjected[i] = le.Uint16(f[offPowerPerPhaseInjected+2*i:])
		t.VoltagePerPhase[i] = le.Uint16(f[offVoltagePerPhase+2*i:])
		t.CurrentPerPhase[i] = le.Uint16(f[offCurrentPerPhase+2*i:])
	}
	t.GasVolume = le.Uint32(f[offGasVolume:])
	t.Tariff = f[offTariff]
	t.Checksum = le.Uint16(f[checksumOffset:])
	copy(t.Post[:], f[offPost:])

	return t
}

// EncodePacket lays out t as a frame with the standard markers and a checksum
// computed by v. The Pre, Post and Checksum fields of t are ignored.
func EncodePacket(t RawTelegram, v *CRCValidator) RawFrame {
	le := binary.LittleEndian
	var f RawFrame

	copy(f[:], LeadingMarker[:])
	le.PutUint32(f[offTimestamp:], t.Timestamp)
	le.PutUint32(f[offMeterDeliveredT1:], t.MeterDeliveredT1)
	le.PutUint32(f[offMeterDeliveredT2:], t.MeterDeliveredT2)
	le.PutUint32(f[offMeterInjectedT1:], t.MeterInjectedT1)
	le.PutUint32(f[offMeterInjectedT2:], t.MeterInjectedT2)
	le.PutUint16(f[offSumPowerDelivered:], t.SumPowerDelivered)
	le.PutUint16(f[offSumPowerInjected:], t.SumPowerInjected)
	for i := 0; i < 3; i++ {
		le.PutUint16(f[offPowerPerPhaseDelivered+2*i:], t.PowerPerPhaseDelivered[i])
		le.PutUint16(f[offPowerPerPhaseInjected+2*i:], t.PowerPerPhaseInjected[i])
		le.PutUint16(f[offVoltagePerPhase+2*i:], t.VoltagePerPhase[i])
		le.PutUint16(f[offCurrentPerPhase+2*i:], t.CurrentPerPhase[i])
	}
	le.PutUint32(f[offGasVolume:], t.GasVolume)
	f[offTariff] = t.Tariff
	copy(f[offPost:], TrailingMarker[:])
	le.PutUint16(f[checksumOffset:], v.Checksum(f))

	return f
}
