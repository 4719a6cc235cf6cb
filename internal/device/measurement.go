package device

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/srg/blefit/internal/sensor"
)

// DefaultWheelCircumference is the circumference of a 700x25c wheel, in meters.
const DefaultWheelCircumference = 2.105

// Reading is one metric decoded from a measurement notification.
type Reading struct {
	Type  sensor.Type
	Value float64
}

// MeasurementDecoder turns measurement notification payloads into readings.
// Decoders of cumulative counters are stateful; use one decoder per characteristic.
type MeasurementDecoder interface {
	Decode(value []byte) ([]Reading, error)
}

// MeasurementTypes lists the sensor types each measurement characteristic can produce.
var MeasurementTypes = map[string][]sensor.Type{
	CharacteristicHeartRate:        {sensor.TypeHeartRate},
	CharacteristicCSCMeasurement:   {sensor.TypeSpeed, sensor.TypeCadence},
	CharacteristicPowerMeasurement: {sensor.TypePower, sensor.TypeCadence},
	CharacteristicRSCMeasurement:   {sensor.TypeSpeed, sensor.TypeCadence},
	CharacteristicTemperature:      {sensor.TypeTemperature},
}

// NewMeasurementDecoder returns a fresh decoder for the measurement characteristic uuid.
// wheelCircumference (meters) is used for CSC speed; zero selects the default.
func NewMeasurementDecoder(uuid string, wheelCircumference float64) (MeasurementDecoder, bool) {
	if wheelCircumference <= 0 {
		wheelCircumference = DefaultWheelCircumference
	}

	switch NormalizeUUID(uuid) {
	case CharacteristicHeartRate:
		return decoderFunc(decodeHeartRate), true
	case CharacteristicCSCMeasurement:
		return &cscDecoder{circumference: wheelCircumference}, true
	case CharacteristicPowerMeasurement:
		return &powerDecoder{}, true
	case CharacteristicRSCMeasurement:
		return decoderFunc(decodeRSC), true
	case CharacteristicTemperature:
		return decoderFunc(decodeTemperature), true
	default:
		return nil, false
	}
}

type decoderFunc func([]byte) ([]Reading, error)

func (f decoderFunc) Decode(value []byte) ([]Reading, error) {
	return f(value)
}

func tooShort(what string, value []byte, want int) error {
	return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMalformed, what, want, len(value))
}

// decodeHeartRate decodes 0x2A37. Flag bit 0 selects a 16-bit value.
func decodeHeartRate(value []byte) ([]Reading, error) {
	if len(value) < 2 {
		return nil, tooShort("heart rate measurement", value, 2)
	}
	bpm := float64(value[1])
	if value[0]&0x01 != 0 {
		if len(value) < 3 {
			return nil, tooShort("heart rate measurement", value, 3)
		}
		bpm = float64(binary.LittleEndian.Uint16(value[1:3]))
	}
	return []Reading{{Type: sensor.TypeHeartRate, Value: bpm}}, nil
}

// decodeRSC decodes 0x2A53: speed in 1/256 m/s and cadence in steps per minute.
func decodeRSC(value []byte) ([]Reading, error) {
	if len(value) < 4 {
		return nil, tooShort("RSC measurement", value, 4)
	}
	speed := float64(binary.LittleEndian.Uint16(value[1:3])) / 256 * 3.6
	return []Reading{
		{Type: sensor.TypeSpeed, Value: speed},
		{Type: sensor.TypeCadence, Value: float64(value[3])},
	}, nil
}

// decodeTemperature decodes 0x2A6E: signed hundredths of a degree Celsius.
func decodeTemperature(value []byte) ([]Reading, error) {
	if len(value) < 2 {
		return nil, tooShort("temperature", value, 2)
	}
	celsius := float64(int16(binary.LittleEndian.Uint16(value[0:2]))) / 100
	return []Reading{{Type: sensor.TypeTemperature, Value: celsius}}, nil
}

// revolutions turns cumulative revolution counters and event times (1/1024 s, wrapping at
// 16 bits) into a rate in revolutions per second.
type revolutions struct {
	revs  uint32
	time  uint16
	valid bool
}

// update returns the rate since the previous event; ok is false for the first event and for
// repeated notifications of the same event.
func (r *revolutions) update(revs uint32, eventTime uint16, revMask uint32) (perSecond float64, ok bool) {
	prev := *r
	r.revs, r.time, r.valid = revs, eventTime, true
	if !prev.valid {
		return 0, false
	}

	dt := eventTime - prev.time // wraps naturally
	dRevs := (revs - prev.revs) & revMask
	if dt == 0 {
		return 0, false
	}
	return float64(dRevs) / (float64(dt) / 1024), true
}

// cscDecoder decodes 0x2A5B cumulative wheel and crank data.
type cscDecoder struct {
	mu            sync.Mutex
	circumference float64
	wheel         revolutions
	crank         revolutions
}

func (d *cscDecoder) Decode(value []byte) ([]Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(value) < 1 {
		return nil, tooShort("CSC measurement", value, 1)
	}
	flags := value[0]
	offset := 1
	var readings []Reading

	if flags&0x01 != 0 {
		if len(value) < offset+6 {
			return nil, tooShort("CSC wheel data", value, offset+6)
		}
		revs := binary.LittleEndian.Uint32(value[offset : offset+4])
		at := binary.LittleEndian.Uint16(value[offset+4 : offset+6])
		offset += 6
		if rate, ok := d.wheel.update(revs, at, 0xffffffff); ok {
			readings = append(readings, Reading{Type: sensor.TypeSpeed, Value: rate * d.circumference * 3.6})
		}
	}

	if flags&0x02 != 0 {
		if len(value) < offset+4 {
			return nil, tooShort("CSC crank data", value, offset+4)
		}
		revs := uint32(binary.LittleEndian.Uint16(value[offset : offset+2]))
		at := binary.LittleEndian.Uint16(value[offset+2 : offset+4])
		if rate, ok := d.crank.update(revs, at, 0xffff); ok {
			readings = append(readings, Reading{Type: sensor.TypeCadence, Value: rate * 60})
		}
	}
	return readings, nil
}

// Cycling power measurement flag bits that add optional fields before the crank data.
const (
	powerFlagPedalBalance = 1 << 0
	powerFlagTorque       = 1 << 2
	powerFlagWheel        = 1 << 4
	powerFlagCrank        = 1 << 5
)

// powerDecoder decodes 0x2A63: instantaneous power and, when present, crank cadence.
type powerDecoder struct {
	mu    sync.Mutex
	crank revolutions
}

func (d *powerDecoder) Decode(value []byte) ([]Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(value) < 4 {
		return nil, tooShort("cycling power measurement", value, 4)
	}
	flags := binary.LittleEndian.Uint16(value[0:2])
	watts := float64(int16(binary.LittleEndian.Uint16(value[2:4])))
	readings := []Reading{{Type: sensor.TypePower, Value: watts}}

	if flags&powerFlagCrank == 0 {
		return readings, nil
	}

	offset := 4
	if flags&powerFlagPedalBalance != 0 {
		offset++
	}
	if flags&powerFlagTorque != 0 {
		offset += 2
	}
	if flags&powerFlagWheel != 0 {
		offset += 6
	}
	if len(value) < offset+4 {
		return nil, tooShort("cycling power crank data", value, offset+4)
	}
	revs := uint32(binary.LittleEndian.Uint16(value[offset : offset+2]))
	at := binary.LittleEndian.Uint16(value[offset+2 : offset+4])
	if rate, ok := d.crank.update(revs, at, 0xffff); ok {
		readings = append(readings, Reading{Type: sensor.TypeCadence, Value: rate * 60})
	}
	return readings, nil
}
