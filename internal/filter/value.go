package filter

import (
	"github.com/srg/blefit/internal/sensor"
)

// Placeholder is the formatted rendition of an absent value.
const Placeholder = "--"

// FilteredValue is an immutable snapshot of a filter's current state.
type FilteredValue struct {
	Sensor    sensor.Type `json:"sensor"`
	Value     float64     `json:"value"`
	Present   bool        `json:"present"`
	Formatted string      `json:"formatted"`
	Device    string      `json:"device"`
	Kind      Kind        `json:"-"`
	KindName  string      `json:"kind"`
	Parameter float64     `json:"parameter"`
}

// Snapshot reads f and builds the FilteredValue for spec.
func Snapshot(spec Spec, f Filter) FilteredValue {
	v, ok := f.Value()
	fv := FilteredValue{
		Sensor:    spec.Sensor,
		Present:   ok,
		Formatted: Placeholder,
		Device:    spec.Device,
		Kind:      f.Kind(),
		KindName:  f.Kind().String(),
		Parameter: f.Parameter(),
	}
	if ok {
		fv.Value = v
		fv.Formatted = spec.Sensor.Format(v)
	}
	return fv
}
