package discovery

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// ErrEngineClosed is returned by StartScan after Close.
var ErrEngineClosed = errors.New("discovery engine is closed")

// Listener receives discovery results. Callbacks run on the engine's work queue; they may call
// StartScan and StopScan but must not block.
type Listener interface {
	// OnNewDeviceFound is called at most once per address per scan.
	OnNewDeviceFound(dev FoundDevice)
	// OnSearchStopped is called once a StopScan has been processed.
	OnSearchStopped()
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFeatureStore records the sensor types of discovered power meters in store.
func WithFeatureStore(store FeatureStore) EngineOption {
	return func(e *Engine) {
		e.store = store
	}
}

// Engine drives discovery sessions for every device sighted during a scan.
//
// Transport events, StartScan and StopScan are all serialized on one work queue. Sessions that
// fail stay tracked until the scan stops, so a device is never retried within one scan.
type Engine struct {
	transport Transport
	listener  Listener
	store     FeatureStore
	logger    *logrus.Logger

	queue *workQueue

	// only touched from the work queue
	category Category
	sessions *hashmap.Map[string, *Session]

	informed   *hashmap.Map[string, FoundDevice]
	informedMu sync.RWMutex // guards replacing informed

	scanning  atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewEngine creates an engine and attaches it to transport.
func NewEngine(transport Transport, listener Listener, logger *logrus.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = logrus.New()
	}

	e := &Engine{
		transport: transport,
		listener:  listener,
		logger:    logger,
		sessions:  hashmap.New[string, *Session](),
		informed:  hashmap.New[string, FoundDevice](),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.queue = newWorkQueue("discovery-engine")
	transport.Attach(e.post)
	return e
}

// StartScan begins discovering devices of category. It is a no-op while a scan is running.
// Transport failures to start scanning are logged and leave the engine idle.
func (e *Engine) StartScan(category Category) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if category.Service() == "" {
		return fmt.Errorf("cannot scan for category %s", category)
	}
	if !e.scanning.CompareAndSwap(false, true) {
		return nil
	}

	e.queue.post(func() {
		e.category = category
		e.resetInformed()
		e.clearSessions()

		log := e.logger.WithField("category", category.String())
		if err := e.transport.StartScan([]string{category.Service()}); err != nil {
			log.WithError(err).Error("Failed to start scan")
			e.scanning.Store(false)
			return
		}
		log.Info("Discovery scan started")
	})
	return nil
}

// StopScan stops sightings and disconnects every tracked device, whatever its session state.
// It is a no-op when no scan is running and does not wait for the disconnects to complete.
func (e *Engine) StopScan() {
	if !e.scanning.CompareAndSwap(true, false) {
		return
	}

	e.queue.post(func() {
		if err := e.transport.StopScan(); err != nil {
			e.logger.WithError(err).Warn("Failed to stop scan")
		}
		e.sessions.Range(func(address string, _ *Session) bool {
			e.transport.Disconnect(address)
			return true
		})
		e.clearSessions()

		e.logger.WithField("found", e.informedMap().Len()).Info("Discovery scan stopped")
		if e.listener != nil {
			e.listener.OnSearchStopped()
		}
	})
}

// IsScanning reports whether a scan has been started and not stopped.
func (e *Engine) IsScanning() bool {
	return e.scanning.Load()
}

// Devices returns the devices reported during the current or most recent scan, by address.
func (e *Engine) Devices() []FoundDevice {
	informed := e.informedMap()
	devs := make([]FoundDevice, 0, informed.Len())
	informed.Range(func(_ string, d FoundDevice) bool {
		devs = append(devs, d)
		return true
	})
	sort.Slice(devs, func(i, j int) bool { return devs[i].Address < devs[j].Address })
	return devs
}

// Close stops any scan, processes the remaining events and stops the work queue.
// It must not be called from a Listener callback.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.StopScan()
		e.closed.Store(true)
		e.queue.close()
	})
}

func (e *Engine) post(ev Event) {
	if !e.queue.post(func() { e.handle(ev) }) {
		e.logger.WithField("address", ev.address()).Debug("Dropping event after close")
	}
}

func (e *Engine) handle(ev Event) {
	if s, ok := ev.(Sighting); ok {
		e.onSighting(s)
		return
	}

	address := ev.address()
	s, ok := e.sessions.Get(address)
	if !ok {
		e.logger.WithFields(logrus.Fields{
			"address": address,
			"event":   fmt.Sprintf("%T", ev),
		}).Debug("Event for untracked device")
		return
	}

	var (
		action Action
		err    error
	)
	switch ev := ev.(type) {
	case Connected:
		action, err = s.OnConnected()
	case ServicesDiscovered:
		action, err = s.OnServicesDiscovered(ev.Services)
	case CharacteristicRead:
		action, err = s.OnCharacteristicRead(ev.Characteristic, ev.Value, ev.Err)
	case Disconnected:
		if err = s.OnDisconnected(); err == nil && ev.Err != nil {
			e.logger.WithField("address", address).WithError(ev.Err).Debug("Discovery session failed")
		}
	}
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"address":  address,
			"state":    s.State().String(),
			"category": s.Requested().String(),
		}).WithError(err).Debug("Ignoring discovery event")
		return
	}
	e.apply(s, action)
}

func (e *Engine) onSighting(ev Sighting) {
	if !e.scanning.Load() {
		return
	}
	if _, tracked := e.sessions.Get(ev.Address); tracked {
		return
	}

	s := NewSession(ev.Address, ev.Name, e.category, e.store, e.logger)
	e.sessions.Set(ev.Address, s)
	e.logger.WithFields(logrus.Fields{
		"address": ev.Address,
		"name":    ev.Name,
		"rssi":    ev.RSSI,
	}).Info("Sighted candidate device")

	action, err := s.Start()
	if err != nil {
		e.logger.WithField("address", ev.Address).WithError(err).Debug("Ignoring sighting")
		return
	}
	e.apply(s, action)
}

func (e *Engine) apply(s *Session, action Action) {
	address := s.Address()
	switch action.Kind {
	case ActionConnect:
		e.transport.Connect(address)
	case ActionDiscoverServices:
		e.transport.DiscoverServices(address)
	case ActionRead:
		e.transport.ReadCharacteristic(address, action.Characteristic)
	case ActionDisconnect:
		e.transport.Disconnect(address)
	case ActionReport:
		e.report(s.Device())
	}
}

func (e *Engine) report(dev FoundDevice) {
	if _, loaded := e.informedMap().GetOrInsert(dev.Address, dev); loaded {
		return
	}
	e.logger.WithFields(logrus.Fields{
		"address":      dev.Address,
		"category":     dev.Category.String(),
		"name":         dev.Name,
		"manufacturer": dev.Manufacturer,
	}).Info("Found device")
	if e.listener != nil {
		e.listener.OnNewDeviceFound(dev)
	}
}

func (e *Engine) informedMap() *hashmap.Map[string, FoundDevice] {
	e.informedMu.RLock()
	defer e.informedMu.RUnlock()
	return e.informed
}

func (e *Engine) resetInformed() {
	e.informedMu.Lock()
	e.informed = hashmap.New[string, FoundDevice]()
	e.informedMu.Unlock()
}

func (e *Engine) clearSessions() {
	e.sessions = hashmap.New[string, *Session]()
}
