package filter

import (
	"fmt"
	"math"
	"strings"
)

// Kind selects the numeric transform a filter applies.
type Kind int

const (
	KindInstantaneous Kind = iota
	KindRunningAverage
	KindExponentialSmoothing
	KindMovingAverage     // last N samples
	KindTimeWindowAverage // samples of the last N seconds
	KindRunningMaximum
)

// Kind identifiers never contain '-' so the spec key stays parseable.
var kindNames = map[Kind]string{
	KindInstantaneous:        "instant",
	KindRunningAverage:       "average",
	KindExponentialSmoothing: "smoothing",
	KindMovingAverage:        "moving_average",
	KindTimeWindowAverage:    "time_average",
	KindRunningMaximum:       "maximum",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses the identifier produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for k, name := range kindNames {
		if name == key {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown filter kind %q", ErrInvalidSpec, s)
}

// ValidateParameter checks that p is meaningful for k.
func (k Kind) ValidateParameter(p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return fmt.Errorf("%w: %s parameter must be finite", ErrInvalidSpec, k)
	}
	if p < 0 {
		return fmt.Errorf("%w: %s parameter %g must not be negative", ErrInvalidSpec, k, p)
	}

	switch k {
	case KindInstantaneous, KindRunningAverage, KindRunningMaximum:
		return nil
	case KindExponentialSmoothing:
		if p > 1 {
			return fmt.Errorf("%w: smoothing factor %g outside [0, 1]", ErrInvalidSpec, p)
		}
	case KindMovingAverage:
		if p < 1 || p != math.Trunc(p) {
			return fmt.Errorf("%w: moving average window %g must be a whole number >= 1", ErrInvalidSpec, p)
		}
	case KindTimeWindowAverage:
		if p <= 0 {
			return fmt.Errorf("%w: time window %gs must be positive", ErrInvalidSpec, p)
		}
	default:
		return fmt.Errorf("%w: unknown filter kind %d", ErrInvalidSpec, int(k))
	}
	return nil
}
