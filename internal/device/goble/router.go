package goble

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/srg/blefit/internal/device"
	"github.com/srg/blefit/internal/sensor"
)

// Router decodes the measurement notifications of one device and publishes the readings to
// hub streams. A stream is registered on the first reading of its type, so the hub only
// announces sensors that actually deliver data.
type Router struct {
	hub           *sensor.Hub
	device        string
	circumference float64
	clock         clock.Clock
	logger        *logrus.Entry

	mu       sync.Mutex
	decoders map[string]device.MeasurementDecoder
	streams  map[sensor.Type]*sensor.Stream
	closed   bool
}

// NewRouter creates a router publishing under deviceName. clk may be nil.
func NewRouter(hub *sensor.Hub, deviceName string, wheelCircumference float64, clk clock.Clock, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Router{
		hub:           hub,
		device:        deviceName,
		circumference: wheelCircumference,
		clock:         clk,
		logger:        logger.WithField("device", deviceName),
		decoders:      make(map[string]device.MeasurementDecoder),
		streams:       make(map[sensor.Type]*sensor.Stream),
	}
}

// Accepts reports whether characteristic carries measurements the router can decode.
func (r *Router) Accepts(characteristic string) bool {
	_, ok := device.MeasurementTypes[device.NormalizeUUID(characteristic)]
	return ok
}

// Handle decodes one notification payload and publishes its readings.
func (r *Router) Handle(characteristic string, payload []byte) {
	char := device.NormalizeUUID(characteristic)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	dec, ok := r.decoders[char]
	if !ok {
		dec, ok = device.NewMeasurementDecoder(char, r.circumference)
		if !ok {
			r.mu.Unlock()
			r.logger.WithField("characteristic", char).Debug("Ignoring notification of non-measurement characteristic")
			return
		}
		r.decoders[char] = dec
	}
	r.mu.Unlock()

	readings, err := dec.Decode(payload)
	if err != nil {
		r.logger.WithField("characteristic", device.DisplayName(char)).WithError(err).Warn("Dropping malformed measurement")
		return
	}

	now := r.clock.Now()
	for _, rd := range readings {
		stream := r.stream(rd.Type)
		if stream == nil {
			return
		}
		stream.Publish(sensor.Sample{Timestamp: now, Value: rd.Value})
	}
}

func (r *Router) stream(typ sensor.Type) *sensor.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if s, ok := r.streams[typ]; ok {
		return s
	}
	s := r.hub.Add(r.device, typ)
	r.streams[typ] = s
	return s
}

// Close unregisters every stream the router added.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	types := make([]sensor.Type, 0, len(r.streams))
	for typ := range r.streams {
		types = append(types, typ)
	}
	r.mu.Unlock()

	for _, typ := range types {
		r.hub.Remove(r.device, typ)
	}
}
