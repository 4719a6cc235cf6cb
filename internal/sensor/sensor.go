// Package sensor models raw, timestamped sensor readings and the streams that deliver them.
//
// A Stream carries samples for one metric of one device. A Hub indexes the streams that are
// currently available and announces when that set changes.
package sensor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type identifies the metric a stream carries.
type Type int

const (
	TypeUnknown Type = iota
	TypeHeartRate
	TypeCadence
	TypeSpeed
	TypePower
	TypeTemperature
)

var typeNames = map[Type]string{
	TypeHeartRate:   "heart_rate",
	TypeCadence:     "cadence",
	TypeSpeed:       "speed",
	TypePower:       "power",
	TypeTemperature: "temperature",
}

// String returns the stable identifier used in filter keys and configuration files.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the type by its identifier.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes an identifier produced by MarshalText.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Unit returns the unit samples of this type are expressed in.
func (t Type) Unit() string {
	switch t {
	case TypeHeartRate:
		return "bpm"
	case TypeCadence:
		return "rpm"
	case TypeSpeed:
		return "km/h"
	case TypePower:
		return "W"
	case TypeTemperature:
		return "°C"
	default:
		return ""
	}
}

// Format renders a raw value with the precision that makes sense for the type.
func (t Type) Format(v float64) string {
	prec := 0
	switch t {
	case TypeSpeed, TypeTemperature:
		prec = 1
	case TypeUnknown:
		prec = -1
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// ParseType parses the identifier produced by Type.String. Case and dashes are tolerated.
func ParseType(s string) (Type, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for t, name := range typeNames {
		if name == key {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown sensor type %q", s)
}

// Types returns every known sensor type in declaration order.
func Types() []Type {
	return []Type{TypeHeartRate, TypeCadence, TypeSpeed, TypePower, TypeTemperature}
}

// Sample is one raw reading.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Listener receives samples pushed by a Stream. Implementations must be comparable
// (pointer receivers) so they can be unsubscribed.
type Listener interface {
	OnSample(Sample)
}

