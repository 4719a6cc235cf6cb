// Package filter turns raw sensor streams into smoothed, display-ready values.
//
// A Filter is an incremental numeric transform attached to one sensor.Stream. Every variant
// guards its accumulator with its own mutex, so producers (stream deliveries) and consumers
// (Value polls) may run on different goroutines without observing a torn update.
//
// The Registry binds declarative Spec requests to live streams as they become available.
package filter

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/srg/blefit/internal/sensor"
)

var (
	// ErrInvalidSpec marks a filter request whose kind or parameter cannot be honoured.
	ErrInvalidSpec = errors.New("invalid filter spec")

	// ErrRegistryClosed is returned by Registry operations after Shutdown.
	ErrRegistryClosed = errors.New("filter registry is shut down")
)

// Filter is an incremental transform over a single sensor stream.
type Filter interface {
	sensor.Listener

	// Record feeds one raw value into the filter.
	Record(v float64)
	// Value returns the current filtered value; ok is false when there is none yet.
	Value() (v float64, ok bool)
	Kind() Kind
	Parameter() float64
}

type options struct {
	clock clock.Clock
}

// Option configures filter construction.
type Option func(*options)

// WithClock sets the time source used by time-windowed filters.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// New constructs the filter variant for kind with the given parameter.
// Returns ErrInvalidSpec when the parameter is not valid for the kind.
func New(kind Kind, parameter float64, opts ...Option) (Filter, error) {
	if err := kind.ValidateParameter(parameter); err != nil {
		return nil, err
	}

	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	switch kind {
	case KindInstantaneous:
		return &Instantaneous{}, nil
	case KindRunningAverage:
		return &RunningAverage{}, nil
	case KindExponentialSmoothing:
		return &ExponentialSmoothing{alpha: parameter}, nil
	case KindMovingAverage:
		return NewMovingAverage(int(parameter)), nil
	case KindTimeWindowAverage:
		window := time.Duration(parameter * float64(time.Second))
		return &TimeWindowAverage{window: window, seconds: parameter, clock: o.clock}, nil
	case KindRunningMaximum:
		return &RunningMaximum{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown filter kind %d", ErrInvalidSpec, int(kind))
	}
}

// MustNew is like New but panics on an invalid parameter.
func MustNew(kind Kind, parameter float64, opts ...Option) Filter {
	f, err := New(kind, parameter, opts...)
	if err != nil {
		panic(err)
	}
	return f
}
