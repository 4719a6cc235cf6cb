// Package discovery finds fitness sensors of a requested category.
//
// The Engine owns the scan lifecycle. Every address sighted during a scan gets a Session, an
// explicit state machine that connects, enumerates services, drains a serialized metadata read
// queue and classifies the device. Transport callbacks, engine commands and session transitions
// all run on a single work queue, so sessions never race with themselves.
package discovery

import (
	"fmt"
	"strings"

	"github.com/srg/blefit/internal/device"
	"github.com/srg/blefit/internal/sensor"
)

// Category is the classified kind of a sensor device.
type Category int

const (
	CategoryNone Category = iota
	CategoryHeartRate
	CategoryBikeSpeed
	CategoryBikeCadence
	CategoryBikeSpeedCadence
	CategoryBikePower
	CategoryRunSpeed
	CategoryEnvironment
)

var categoryNames = map[Category]string{
	CategoryHeartRate:        "heart-rate",
	CategoryBikeSpeed:        "bike-speed",
	CategoryBikeCadence:      "bike-cadence",
	CategoryBikeSpeedCadence: "bike-speed-and-cadence",
	CategoryBikePower:        "bike-power",
	CategoryRunSpeed:         "run-speed",
	CategoryEnvironment:      "environment",
}

// String returns the category identifier.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "none"
}

// MarshalText encodes the category by its identifier.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes an identifier produced by MarshalText.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory parses a category identifier. Case and '_' versus '-' are not significant.
func ParseCategory(s string) (Category, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for c, name := range categoryNames {
		if name == norm {
			return c, nil
		}
	}
	return CategoryNone, fmt.Errorf("unknown device category %q", s)
}

// Categories returns every scannable category.
func Categories() []Category {
	return []Category{
		CategoryHeartRate,
		CategoryBikeSpeed,
		CategoryBikeCadence,
		CategoryBikeSpeedCadence,
		CategoryBikePower,
		CategoryRunSpeed,
		CategoryEnvironment,
	}
}

// Service returns the GATT service that identifies devices of this category in advertisements.
func (c Category) Service() string {
	switch c {
	case CategoryHeartRate:
		return device.ServiceHeartRate
	case CategoryBikeSpeed, CategoryBikeCadence, CategoryBikeSpeedCadence:
		return device.ServiceCyclingSpeedCadence
	case CategoryBikePower:
		return device.ServiceCyclingPower
	case CategoryRunSpeed:
		return device.ServiceRunningSpeedCadence
	case CategoryEnvironment:
		return device.ServiceEnvironmentalSensing
	default:
		return ""
	}
}

// NeedsFeature reports whether the category can only be confirmed by reading a feature
// characteristic.
func (c Category) NeedsFeature() bool {
	switch c {
	case CategoryBikeSpeed, CategoryBikeCadence, CategoryBikeSpeedCadence, CategoryBikePower:
		return true
	default:
		return false
	}
}

// speedCadence reports whether the category shares the cycling speed and cadence service.
func (c Category) speedCadence() bool {
	return c == CategoryBikeSpeed || c == CategoryBikeCadence || c == CategoryBikeSpeedCadence
}

// SensorTypes lists the metrics a device of this category streams.
func (c Category) SensorTypes() []sensor.Type {
	switch c {
	case CategoryHeartRate:
		return []sensor.Type{sensor.TypeHeartRate}
	case CategoryBikeSpeed:
		return []sensor.Type{sensor.TypeSpeed}
	case CategoryBikeCadence:
		return []sensor.Type{sensor.TypeCadence}
	case CategoryBikeSpeedCadence, CategoryRunSpeed:
		return []sensor.Type{sensor.TypeSpeed, sensor.TypeCadence}
	case CategoryBikePower:
		return []sensor.Type{sensor.TypePower}
	case CategoryEnvironment:
		return []sensor.Type{sensor.TypeTemperature}
	default:
		return nil
	}
}

// CategoryFromCSCFeature classifies a cycling speed and cadence device from the two low bits
// of its feature characteristic: 01 speed, 10 cadence, 11 both. Anything else is CategoryNone.
func CategoryFromCSCFeature(flags uint16) Category {
	switch flags & 0x03 {
	case 0x01:
		return CategoryBikeSpeed
	case 0x02:
		return CategoryBikeCadence
	case 0x03:
		return CategoryBikeSpeedCadence
	default:
		return CategoryNone
	}
}
