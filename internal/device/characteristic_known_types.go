package device

import (
	"fmt"
	"strings"
)

// littleEndian decodes up to size bytes of data as an unsigned little-endian integer.
// Shorter payloads are accepted; some sensors truncate trailing zero feature bytes.
func littleEndian(data []byte, size int) uint64 {
	var v uint64
	for i := 0; i < len(data) && i < size; i++ {
		v |= uint64(data[i]) << (8 * i)
	}
	return v
}

// ParseBatteryLevel parses the Battery Level characteristic (0x2A19) into a percentage.
func ParseBatteryLevel(value []byte) (int, error) {
	if len(value) == 0 {
		return 0, fmt.Errorf("%w: battery level is empty", ErrMalformed)
	}
	level := int(value[0])
	if level > 100 {
		return 0, fmt.Errorf("%w: battery level %d%% out of range", ErrMalformed, level)
	}
	return level, nil
}

// ParseManufacturerName parses the Manufacturer Name String characteristic (0x2A29).
func ParseManufacturerName(value []byte) string {
	name := strings.TrimRight(string(value), "\x00")
	return strings.TrimSpace(name)
}

// ParseCSCFeature parses the CSC Feature characteristic (0x2A5C) into its raw bitmask.
func ParseCSCFeature(value []byte) (uint16, error) {
	if len(value) == 0 {
		return 0, fmt.Errorf("%w: CSC feature is empty", ErrMalformed)
	}
	return uint16(littleEndian(value, 2)), nil
}

// ParsePowerFeature parses the Cycling Power Feature characteristic (0x2A65) into its raw bitmask.
func ParsePowerFeature(value []byte) (uint32, error) {
	if len(value) == 0 {
		return 0, fmt.Errorf("%w: cycling power feature is empty", ErrMalformed)
	}
	return uint32(littleEndian(value, 4)), nil
}
