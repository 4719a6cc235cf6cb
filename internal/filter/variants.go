package filter

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/srg/blefit/internal/sensor"
)

// Instantaneous reports the last recorded value.
type Instantaneous struct {
	mu    sync.Mutex
	value float64
	ok    bool
}

func (f *Instantaneous) OnSample(s sensor.Sample) { f.Record(s.Value) }

func (f *Instantaneous) Record(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value, f.ok = v, true
}

func (f *Instantaneous) Value() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.ok
}

func (f *Instantaneous) Kind() Kind         { return KindInstantaneous }
func (f *Instantaneous) Parameter() float64 { return 0 }

// RunningAverage reports the mean of every value recorded so far.
type RunningAverage struct {
	mu    sync.Mutex
	sum   float64
	count int
}

func (f *RunningAverage) OnSample(s sensor.Sample) { f.Record(s.Value) }

func (f *RunningAverage) Record(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sum += v
	f.count++
}

func (f *RunningAverage) Value() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count == 0 {
		return 0, false
	}
	return f.sum / float64(f.count), true
}

func (f *RunningAverage) Kind() Kind         { return KindRunningAverage }
func (f *RunningAverage) Parameter() float64 { return 0 }

// ExponentialSmoothing applies state = alpha*v + (1-alpha)*state, starting from zero.
// Its value is always present.
type ExponentialSmoothing struct {
	mu    sync.Mutex
	alpha float64
	state float64
}

func (f *ExponentialSmoothing) OnSample(s sensor.Sample) { f.Record(s.Value) }

func (f *ExponentialSmoothing) Record(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = f.alpha*v + (1-f.alpha)*f.state
}

func (f *ExponentialSmoothing) Value() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, true
}

func (f *ExponentialSmoothing) Kind() Kind         { return KindExponentialSmoothing }
func (f *ExponentialSmoothing) Parameter() float64 { return f.alpha }

// MovingAverage reports the mean of the last N recorded values.
type MovingAverage struct {
	mu     sync.Mutex
	buf    []float64
	next   int
	filled int
}

// NewMovingAverage creates a count-windowed average over size samples. size must be >= 1.
func NewMovingAverage(size int) *MovingAverage {
	if size < 1 {
		panic("filter: moving average size must be >= 1")
	}
	return &MovingAverage{buf: make([]float64, size)}
}

func (f *MovingAverage) OnSample(s sensor.Sample) { f.Record(s.Value) }

func (f *MovingAverage) Record(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf[f.next] = v
	f.next = (f.next + 1) % len(f.buf)
	if f.filled < len(f.buf) {
		f.filled++
	}
}

func (f *MovingAverage) Value() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filled == 0 {
		return 0, false
	}
	// Until the ring wraps, the samples occupy buf[0:filled].
	sum := 0.0
	for _, v := range f.buf[:f.filled] {
		sum += v
	}
	return sum / float64(f.filled), true
}

func (f *MovingAverage) Kind() Kind         { return KindMovingAverage }
func (f *MovingAverage) Parameter() float64 { return float64(len(f.buf)) }

type timedValue struct {
	at    time.Time
	value float64
}

// TimeWindowAverage reports the mean of the values recorded within the last window.
// Samples keep their own timestamp; Record stamps with the filter clock. Entries are evicted
// against the filter clock on every Record and Value.
type TimeWindowAverage struct {
	mu      sync.Mutex
	window  time.Duration
	seconds float64
	clock   clock.Clock
	entries []timedValue
}

func (f *TimeWindowAverage) OnSample(s sensor.Sample) {
	at := s.Timestamp
	if at.IsZero() {
		at = f.clock.Now()
	}
	f.recordAt(at, s.Value)
}

func (f *TimeWindowAverage) Record(v float64) { f.recordAt(f.clock.Now(), v) }

// recordAt inserts the entry in timestamp order. An entry already outside the window is dropped.
func (f *TimeWindowAverage) recordAt(at time.Time, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	f.evict(now)
	if at.Before(now.Add(-f.window)) {
		return
	}
	i := len(f.entries)
	for i > 0 && f.entries[i-1].at.After(at) {
		i--
	}
	f.entries = append(f.entries, timedValue{})
	copy(f.entries[i+1:], f.entries[i:])
	f.entries[i] = timedValue{at: at, value: v}
}

func (f *TimeWindowAverage) Value() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evict(f.clock.Now())
	if len(f.entries) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, e := range f.entries {
		sum += e.value
	}
	return sum / float64(len(f.entries)), true
}

// evict trims the prefix of entries older than now-window. Caller holds f.mu.
func (f *TimeWindowAverage) evict(now time.Time) {
	cutoff := now.Add(-f.window)
	i := 0
	for i < len(f.entries) && f.entries[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		f.entries = append(f.entries[:0], f.entries[i:]...)
	}
}

// Len returns the number of samples currently inside the window, without evicting.
func (f *TimeWindowAverage) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *TimeWindowAverage) Kind() Kind         { return KindTimeWindowAverage }
func (f *TimeWindowAverage) Parameter() float64 { return f.seconds }

// RunningMaximum reports the largest value recorded so far. The maximum is seeded at zero,
// so a stream of negative values reports 0.
type RunningMaximum struct {
	mu  sync.Mutex
	max float64
	ok  bool
}

func (f *RunningMaximum) OnSample(s sensor.Sample) { f.Record(s.Value) }

func (f *RunningMaximum) Record(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v > f.max {
		f.max = v
	}
	f.ok = true
}

func (f *RunningMaximum) Value() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.max, f.ok
}

func (f *RunningMaximum) Kind() Kind         { return KindRunningMaximum }
func (f *RunningMaximum) Parameter() float64 { return 0 }
