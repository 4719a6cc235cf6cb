package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/blefit/internal/sensor"
)

// Spec declares a requested filtered value. Two specs with identical fields denote the
// same logical filter.
type Spec struct {
	// Device names the sensor's device; empty selects the best available sensor of the type.
	Device    string
	Sensor    sensor.Type
	Kind      Kind
	Parameter float64
}

// Key returns the identity key "device-sensor-kind-parameter".
//
// Sensor, kind and parameter identifiers never contain '-', so the key is parsed from the
// right and device names may contain any character. The format is persisted by callers
// and must not change.
func (s Spec) Key() string {
	return s.Device + "-" + s.Sensor.String() + "-" + s.Kind.String() + "-" + formatParameter(s.Parameter)
}

func (s Spec) String() string {
	return s.Key()
}

// Validate reports whether the spec can be turned into a filter.
func (s Spec) Validate() error {
	if s.Sensor == sensor.TypeUnknown {
		return fmt.Errorf("%w: sensor type is required", ErrInvalidSpec)
	}
	if _, ok := kindNames[s.Kind]; !ok {
		return fmt.Errorf("%w: unknown filter kind %d", ErrInvalidSpec, int(s.Kind))
	}
	return s.Kind.ValidateParameter(s.Parameter)
}

// ParseKey is the inverse of Spec.Key.
func ParseKey(key string) (Spec, error) {
	parts := make([]string, 3)
	rest := key
	for i := 2; i >= 0; i-- {
		idx := strings.LastIndexByte(rest, '-')
		if idx < 0 {
			return Spec{}, fmt.Errorf("%w: malformed key %q", ErrInvalidSpec, key)
		}
		parts[i] = rest[idx+1:]
		rest = rest[:idx]
	}

	typ, err := sensor.ParseType(parts[0])
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	kind, err := ParseKind(parts[1])
	if err != nil {
		return Spec{}, err
	}
	param, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: bad parameter in key %q", ErrInvalidSpec, key)
	}

	spec := Spec{Device: rest, Sensor: typ, Kind: kind, Parameter: param}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func formatParameter(p float64) string {
	if p == 0 {
		p = 0 // folds -0
	}
	return strconv.FormatFloat(p, 'f', -1, 64)
}
