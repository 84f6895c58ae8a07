package protocol

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/resident-x/go-p1/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketLayout(t *testing.T) {
	raw := sampleTelegram()
	frame := validFrame(t)
	le := binary.LittleEndian

	assert.Equal(t, []byte{0x42, 0x42, 0xFF}, frame[0:3])
	assert.Equal(t, raw.Timestamp, le.Uint32(frame[3:7]))
	assert.Equal(t, raw.MeterDeliveredT1, le.Uint32(frame[7:11]))
	assert.Equal(t, raw.MeterDeliveredT2, le.Uint32(frame[11:15]))
	assert.Equal(t, raw.MeterInjectedT1, le.Uint32(frame[15:19]))
	assert.Equal(t, raw.MeterInjectedT2, le.Uint32(frame[19:23]))
	assert.Equal(t, raw.SumPowerDelivered, le.Uint16(frame[23:25]))
	assert.Equal(t, raw.SumPowerInjected, le.Uint16(frame[25:27]))
	assert.Equal(t, raw.PowerPerPhaseDelivered[1], le.Uint16(frame[29:31]))
	assert.Equal(t, raw.PowerPerPhaseInjected[2], le.Uint16(frame[37:39]))
	assert.Equal(t, raw.VoltagePerPhase[0], le.Uint16(frame[39:41]))
	assert.Equal(t, raw.CurrentPerPhase[2], le.Uint16(frame[49:51]))
	assert.Equal(t, raw.GasVolume, le.Uint32(frame[51:55]))
	assert.Equal(t, raw.Tariff, frame[55])
	assert.Equal(t, []byte{0x55, 0xAA}, frame[58:60])
}

func TestPacketRoundTrip(t *testing.T) {
	v := NewCRCValidator(DefaultCRCParams)
	rng := rand.New(rand.NewSource(1))

	telegrams := []RawTelegram{sampleTelegram(), {}}
	for i := 0; i < 50; i++ {
		telegrams = append(telegrams, RawTelegram{
			Timestamp:              rng.Uint32() &^ 0x80000000,
			MeterDeliveredT1:       rng.Uint32(),
			MeterDeliveredT2:       rng.Uint32(),
			MeterInjectedT1:        rng.Uint32(),
			MeterInjectedT2:        rng.Uint32(),
			SumPowerDelivered:      uint16(rng.Uint32()),
			SumPowerInjected:       uint16(rng.Uint32()),
			PowerPerPhaseDelivered: [3]uint16{uint16(rng.Uint32()), uint16(rng.Uint32()), uint16(rng.Uint32())},
			PowerPerPhaseInjected:  [3]uint16{uint16(rng.Uint32()), uint16(rng.Uint32()), uint16(rng.Uint32())},
			VoltagePerPhase:        [3]uint16{uint16(rng.Uint32()), uint16(rng.Uint32()), uint16(rng.Uint32())},
			CurrentPerPhase:        [3]uint16{uint16(rng.Uint32()), uint16(rng.Uint32()), uint16(rng.Uint32())},
			GasVolume:              rng.Uint32(),
			Tariff:                 uint8(rng.Uint32()),
		})
	}

	for _, want := range telegrams {
		frame := EncodePacket(want, v)
		require.NoError(t, v.Validate(frame))

		parsed, err := ParseFrame(frame[:])
		require.NoError(t, err)
		got := DecodePacket(parsed)

		want.Pre = LeadingMarker
		want.Post = TrailingMarker
		want.Checksum = v.Checksum(frame)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, domain.ErrorNone, ClassifyTimestamp(got.Timestamp).Kind)
	}
}

func TestEncodeIgnoresEnvelopeFields(t *testing.T) {
	v := NewCRCValidator(DefaultCRCParams)
	raw := sampleTelegram()
	raw.Pre = [3]uint8{1, 2, 3}
	raw.Post = [2]uint8{4, 5}
	raw.Checksum = 0xBEEF

	assert.Equal(t, validFrame(t), EncodePacket(raw, v))
}
