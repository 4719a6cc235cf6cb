package filter

import (
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blefit/internal/sensor"
)

// SensorProvider resolves sensor streams and announces when the available set changes.
// OnChange callbacks must not be invoked while the provider holds locks that Lookup takes.
type SensorProvider interface {
	Lookup(typ sensor.Type, device string) (*sensor.Stream, bool)
	OnChange(fn func()) (cancel func())
}

// SpecSource supplies the full list of desired filters and announces when it changes.
type SpecSource interface {
	Specs() []Spec
	OnChange(fn func()) (cancel func())
}

type binding struct {
	spec   Spec
	filter Filter
	stream *sensor.Stream
}

// Registry owns the active filters.
//
// Requests for sensors that are not available yet are parked in a FIFO work queue and
// retried on every sensor-set or filter-set change. A filter whose sensor later disappears
// stays bound and keeps its last value.
//
// Lock order: Registry.mu, then provider and stream locks, then filter locks.
// Filter values are read after Registry.mu is released.
type Registry struct {
	provider   SensorProvider
	source     SpecSource
	filterOpts []Option
	logger     *logrus.Logger

	mu      sync.Mutex
	bound   map[string]*binding
	pending *orderedmap.OrderedMap[string, Spec]
	cancels []func()
	closed  bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSpecSource makes the registry reconcile against src on construction and on every
// filter-set change.
func WithSpecSource(src SpecSource) RegistryOption {
	return func(r *Registry) {
		r.source = src
	}
}

// WithFilterOptions passes opts to every filter the registry constructs.
func WithFilterOptions(opts ...Option) RegistryOption {
	return func(r *Registry) {
		r.filterOpts = append(r.filterOpts, opts...)
	}
}

// NewRegistry creates a registry bound to provider and subscribes to its change notifications.
func NewRegistry(provider SensorProvider, logger *logrus.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = logrus.New()
	}

	r := &Registry{
		provider: provider,
		logger:   logger,
		bound:    make(map[string]*binding),
		pending:  orderedmap.New[string, Spec](),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.cancels = append(r.cancels, provider.OnChange(r.OnSensorsChanged))
	if r.source != nil {
		r.cancels = append(r.cancels, r.source.OnChange(r.OnFilterSetChanged))
		r.OnFilterSetChanged()
	}
	return r
}

// RequestFilter makes sure a filter for spec exists. If its sensor is not resolvable yet the
// spec is parked and retried on later change notifications. Requesting an existing or already
// pending spec is a no-op.
func (r *Registry) RequestFilter(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	key := spec.Key()
	if _, ok := r.bound[key]; ok {
		return nil
	}
	if _, ok := r.pending.Get(key); ok {
		return nil
	}

	resolved, err := r.resolveLocked(spec)
	if err != nil {
		return err
	}
	if !resolved {
		r.pending.Set(key, spec)
		r.logger.WithField("spec", key).Debug("Sensor not available, filter parked")
	}
	return nil
}

// resolveLocked binds spec to its sensor if one is available. Caller holds r.mu.
func (r *Registry) resolveLocked(spec Spec) (bool, error) {
	stream, ok := r.provider.Lookup(spec.Sensor, spec.Device)
	if !ok {
		return false, nil
	}

	f, err := New(spec.Kind, spec.Parameter, r.filterOpts...)
	if err != nil {
		return false, err
	}
	stream.Subscribe(f)

	key := spec.Key()
	r.bound[key] = &binding{spec: spec, filter: f, stream: stream}
	r.logger.WithFields(logrus.Fields{
		"spec":   key,
		"device": stream.Device(),
	}).Debug("Filter bound to sensor")
	return true, nil
}

// OnSensorsChanged drains the pending queue once, binding every spec whose sensor is now
// available. Unresolved specs keep their relative order.
func (r *Registry) OnSensorsChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	for n := r.pending.Len(); n > 0; n-- {
		oldest := r.pending.Oldest()
		key, spec := oldest.Key, oldest.Value
		r.pending.Delete(key)

		resolved, err := r.resolveLocked(spec)
		if err != nil {
			// Specs are validated before parking; this only trips on a broken provider.
			r.logger.WithError(err).WithField("spec", key).Warn("Dropping pending filter")
			continue
		}
		if !resolved {
			r.pending.Set(key, spec)
		}
	}
}

// OnFilterSetChanged requests every spec of the configured source; existing filters are kept.
func (r *Registry) OnFilterSetChanged() {
	if r.source == nil {
		return
	}

	for _, spec := range r.source.Specs() {
		err := r.RequestFilter(spec)
		switch {
		case errors.Is(err, ErrRegistryClosed):
			return
		case err != nil:
			r.logger.WithError(err).WithField("spec", spec.Key()).Warn("Ignoring invalid filter spec")
		}
	}
}

// FilteredValue returns the current value of the filter registered for spec.
// It never triggers resolution.
func (r *Registry) FilteredValue(spec Spec) (FilteredValue, bool) {
	r.mu.Lock()
	b, ok := r.bound[spec.Key()]
	r.mu.Unlock()

	if !ok {
		return FilteredValue{}, false
	}
	return Snapshot(b.spec, b.filter), true
}

// FilteredValues returns a snapshot of every registered filter, sorted by spec key.
func (r *Registry) FilteredValues() []FilteredValue {
	r.mu.Lock()
	bindings := make([]*binding, 0, len(r.bound))
	for _, b := range r.bound {
		bindings = append(bindings, b)
	}
	r.mu.Unlock()

	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].spec.Key() < bindings[j].spec.Key()
	})

	values := make([]FilteredValue, 0, len(bindings))
	for _, b := range bindings {
		values = append(values, Snapshot(b.spec, b.filter))
	}
	return values
}

// Pending returns the parked specs in retry order.
func (r *Registry) Pending() []Spec {
	r.mu.Lock()
	defer r.mu.Unlock()

	specs := make([]Spec, 0, r.pending.Len())
	for pair := r.pending.Oldest(); pair != nil; pair = pair.Next() {
		specs = append(specs, pair.Value)
	}
	return specs
}

// Len returns the number of bound filters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bound)
}

// Shutdown detaches every filter from its stream and releases the change subscriptions.
// The registry is unusable afterwards; calling Shutdown again is a no-op.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	for key, b := range r.bound {
		b.stream.Unsubscribe(b.filter)
		delete(r.bound, key)
	}
	r.pending = orderedmap.New[string, Spec]()
	cancels := r.cancels
	r.cancels = nil
	r.mu.Unlock()

	// Cancel outside r.mu: providers take their own lock to unregister.
	for _, cancel := range cancels {
		cancel()
	}
	r.logger.Debug("Filter registry shut down")
}
