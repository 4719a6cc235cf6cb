package sensor

import (
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Hub is the in-memory registry of available sensor streams.
//
// Streams are kept in registration order; the "best" stream of a type is the one that
// delivered the most recent sample, falling back to the earliest registered.
// Change callbacks run after the hub lock is released, so they may call back into the hub.
type Hub struct {
	mu        sync.Mutex
	streams   *orderedmap.OrderedMap[string, *Stream]
	observers map[int]func()
	nextID    int
	logger    *logrus.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		streams:   orderedmap.New[string, *Stream](),
		observers: make(map[int]func()),
		logger:    logger,
	}
}

func streamKey(device string, typ Type) string {
	return device + "/" + typ.String()
}

// Add registers a stream for device/typ and returns it. If one already exists it is
// returned unchanged and no change is announced.
func (h *Hub) Add(device string, typ Type) *Stream {
	h.mu.Lock()
	key := streamKey(device, typ)
	if existing, ok := h.streams.Get(key); ok {
		h.mu.Unlock()
		return existing
	}
	stream := NewStream(device, typ)
	h.streams.Set(key, stream)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"device": device,
		"sensor": typ.String(),
	}).Info("Sensor available")

	h.notify()
	return stream
}

// Remove drops the stream for device/typ. Listeners stay attached to the removed stream;
// it simply stops being resolvable.
func (h *Hub) Remove(device string, typ Type) bool {
	h.mu.Lock()
	_, removed := h.streams.Delete(streamKey(device, typ))
	h.mu.Unlock()

	if removed {
		h.logger.WithFields(logrus.Fields{
			"device": device,
			"sensor": typ.String(),
		}).Info("Sensor removed")
		h.notify()
	}
	return removed
}

// Lookup resolves a stream of typ. An empty device selects the best available stream.
func (h *Hub) Lookup(typ Type, device string) (*Stream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if device != "" {
		return h.streams.Get(streamKey(device, typ))
	}

	var best *Stream
	var bestSample Sample
	for pair := h.streams.Oldest(); pair != nil; pair = pair.Next() {
		s := pair.Value
		if s.Type() != typ {
			continue
		}
		last, ok := s.Last()
		if best == nil {
			best, bestSample = s, last
			continue
		}
		if ok && last.Timestamp.After(bestSample.Timestamp) {
			best, bestSample = s, last
		}
	}
	return best, best != nil
}

// Streams returns every registered stream in registration order.
func (h *Hub) Streams() []*Stream {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]*Stream, 0, h.streams.Len())
	for pair := h.streams.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// OnChange registers fn to be called whenever the set of streams changes.
// The returned function cancels the registration.
func (h *Hub) OnChange(fn func()) (cancel func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.observers[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.observers, id)
		h.mu.Unlock()
	}
}

func (h *Hub) notify() {
	h.mu.Lock()
	observers := make([]func(), 0, len(h.observers))
	for _, fn := range h.observers {
		observers = append(observers, fn)
	}
	h.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}
