package protocol

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/sigurn/crc16"
)

// The checksum covers bytes 0..55 and is stored little-endian at 56.
const (
	checksumOffset = 56
	checksumSize   = 2
)

// DefaultCRCParams is the CRC16 variant used by the logger firmware.
var DefaultCRCParams = crc16.CRC16_MODBUS

var crcVariants = map[string]crc16.Params{
	"modbus":      crc16.CRC16_MODBUS,
	"arc":         crc16.CRC16_ARC,
	"ccitt-false": crc16.CRC16_CCITT_FALSE,
	"kermit":      crc16.CRC16_KERMIT,
	"xmodem":      crc16.CRC16_XMODEM,
	"x25":         crc16.CRC16_X_25,
	"usb":         crc16.CRC16_USB,
}

// CRCParamsByName resolves a configured variant name.
func CRCParamsByName(name string) (crc16.Params, error) {
	if name == "" {
		return DefaultCRCParams, nil
	}
	params, ok := crcVariants[strings.ToLower(name)]
	if !ok {
		return crc16.Params{}, fmt.Errorf("unknown crc variant %q (supported: %s)", name, strings.Join(CRCVariantNames(), ", "))
	}
	return params, nil
}

// CRCVariantNames lists the accepted variant names.
func CRCVariantNames() []string {
	names := make([]string, 0, len(crcVariants))
	for name := range crcVariants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CrcMismatchError reports a frame whose stored checksum does not match.
type CrcMismatchError struct {
	Expected uint16 // carried by the frame
	Computed uint16
}

func (e *CrcMismatchError) Error() string {
	return fmt.Sprintf("crc mismatch: frame carries 0x%04x, computed 0x%04x", e.Expected, e.Computed)
}

// CRCValidator checks frame checksums. It is safe for concurrent use.
type CRCValidator struct {
	params crc16.Params
	table  *crc16.Table
}

// NewCRCValidator builds the lookup table for params.
func NewCRCValidator(params crc16.Params) *CRCValidator {
	return &CRCValidator{
		params: params,
		table:  crc16.MakeTable(params),
	}
}

// Name returns the variant name, e.g. "CRC-16/MODBUS".
func (v *CRCValidator) Name() string {
	return v.params.Name
}

// Checksum computes the CRC over bytes 0..55.
func (v *CRCValidator) Checksum(f RawFrame) uint16 {
	return crc16.Checksum(f[:checksumOffset], v.table)
}

// Validate returns *CrcMismatchError when the stored checksum is wrong.
func (v *CRCValidator) Validate(f RawFrame) error {
	expected := binary.LittleEndian.Uint16(f[checksumOffset : checksumOffset+checksumSize])
	computed := v.Checksum(f)
	if expected != computed {
		return &CrcMismatchError{Expected: expected, Computed: computed}
	}
	return nil
}
