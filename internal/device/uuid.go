package device

import (
	"fmt"

	"github.com/srg/blefit/internal/bledb"
)

// Well-known GATT service UUIDs (16-bit short form, normalized)
const (
	ServiceDeviceInformation    = "180a"
	ServiceHeartRate            = "180d"
	ServiceBattery              = "180f"
	ServiceRunningSpeedCadence  = "1814"
	ServiceCyclingSpeedCadence  = "1816"
	ServiceCyclingPower         = "1818"
	ServiceEnvironmentalSensing = "181a"
)

// Well-known GATT characteristic UUIDs (16-bit short form, normalized)
const (
	CharacteristicBatteryLevel     = "2a19"
	CharacteristicManufacturerName = "2a29"
	CharacteristicHeartRate        = "2a37"
	CharacteristicRSCMeasurement   = "2a53"
	CharacteristicCSCMeasurement   = "2a5b"
	CharacteristicCSCFeature       = "2a5c"
	CharacteristicPowerMeasurement = "2a63"
	CharacteristicPowerFeature     = "2a65"
	CharacteristicTemperature      = "2a6e"
)

// NormalizeUUID is re-exported from bledb for convenience.
// It converts a UUID string to the internal BLE library format (lowercase, no dashes).
func NormalizeUUID(uuid string) string {
	return bledb.NormalizeUUID(uuid)
}

// DisplayName returns "name (uuid)" for known UUIDs and the bare UUID otherwise.
func DisplayName(uuid string) string {
	n := NormalizeUUID(uuid)
	if name := bledb.LookupCharacteristic(n); name != "" {
		return fmt.Sprintf("%s (%s)", name, n)
	}
	if name := bledb.LookupService(n); name != "" {
		return fmt.Sprintf("%s (%s)", name, n)
	}
	return n
}
