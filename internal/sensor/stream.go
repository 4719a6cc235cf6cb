package sensor

import (
	"sync"
	"time"
)

// Stream is a push-based source of samples for one metric of one device.
//
// Publish snapshots the listener set before delivering, so listeners may subscribe or
// unsubscribe from inside OnSample and a slow listener never holds the stream lock.
type Stream struct {
	device string
	typ    Type

	mu        sync.RWMutex
	listeners []Listener
	last      Sample
	hasLast   bool
}

// NewStream creates an empty stream for the given device and metric.
func NewStream(device string, typ Type) *Stream {
	return &Stream{device: device, typ: typ}
}

// Device returns the name of the device producing the stream.
func (s *Stream) Device() string {
	return s.device
}

// Type returns the metric carried by the stream.
func (s *Stream) Type() Type {
	return s.typ
}

// Subscribe registers l for every subsequent sample. Subscribing twice is a no-op.
func (s *Stream) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.listeners {
		if existing == l {
			return
		}
	}
	s.listeners = append(s.listeners, l)
}

// Unsubscribe removes l. Unknown listeners are ignored.
func (s *Stream) Unsubscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Listeners returns the number of subscribed listeners.
func (s *Stream) Listeners() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// Publish delivers a sample to all listeners.
func (s *Stream) Publish(sample Sample) {
	s.mu.Lock()
	s.last = sample
	s.hasLast = true
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnSample(sample)
	}
}

// PublishValue publishes v stamped with the current wall time.
func (s *Stream) PublishValue(v float64) {
	s.Publish(Sample{Timestamp: time.Now(), Value: v})
}

// Last returns the most recent sample, if any.
func (s *Stream) Last() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}
