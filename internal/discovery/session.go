package discovery

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/blefit/internal/device"
)

// State is the position of a Session in its lifecycle.
type State int

const (
	StateSighted State = iota
	StateConnecting
	StateServiceDiscovery
	StateReadingMetadata
	StateResolved
	StateDiscarded
	StateFailed
)

var stateNames = [...]string{
	StateSighted:          "sighted",
	StateConnecting:       "connecting",
	StateServiceDiscovery: "service_discovery",
	StateReadingMetadata:  "reading_metadata",
	StateResolved:         "resolved",
	StateDiscarded:        "discarded",
	StateFailed:           "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateDiscarded || s == StateFailed
}

// ActionKind is the transport request a transition asks the engine to issue.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionConnect
	ActionDiscoverServices
	ActionRead
	ActionReport
	ActionDisconnect
)

// Action is the outcome of a transition. Characteristic is set for ActionRead.
type Action struct {
	Kind           ActionKind
	Characteristic string
}

// TransitionError is returned when an event does not apply to the session's current state.
type TransitionError struct {
	State State
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %s not valid in state %s", e.Event, e.State)
}

// metadataReads maps a service to the characteristic read for it, in queue order.
var metadataReads = []struct{ service, characteristic string }{
	{device.ServiceDeviceInformation, device.CharacteristicManufacturerName},
	{device.ServiceBattery, device.CharacteristicBatteryLevel},
	{device.ServiceCyclingSpeedCadence, device.CharacteristicCSCFeature},
	{device.ServiceCyclingPower, device.CharacteristicPowerFeature},
}

// FoundDevice is a classified device as reported to the engine listener.
type FoundDevice struct {
	Category     Category `json:"category"`
	Address      string   `json:"address"`
	Name         string   `json:"name,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	// Battery is the charge percentage, nil when the device exposes no battery level.
	Battery *int `json:"battery,omitempty"`
}

// Session classifies one sighted device.
//
// Each On* method is the transition for one event kind. It returns the next transport request
// or a *TransitionError when the event does not apply. A Session is not safe for concurrent use;
// the engine only touches it from its work queue.
type Session struct {
	address      string
	name         string
	manufacturer string
	battery      *int
	requested    Category
	category     Category
	state        State

	queue    []string
	inFlight string

	powerFeature    PowerFeature
	hasPowerFeature bool
	store           FeatureStore

	logger *logrus.Entry
}

// NewSession creates a session in StateSighted for a device advertising under name.
// store may be nil.
func NewSession(address, name string, requested Category, store FeatureStore, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		address:   address,
		name:      name,
		requested: requested,
		store:     store,
		logger: logger.WithFields(logrus.Fields{
			"address":  address,
			"category": requested.String(),
		}),
	}
}

func (s *Session) Address() string     { return s.address }
func (s *Session) State() State        { return s.state }
func (s *Session) Category() Category  { return s.category }
func (s *Session) Requested() Category { return s.requested }
func (s *Session) Pending() []string   { return append([]string(nil), s.queue...) }
func (s *Session) InFlight() string    { return s.inFlight }

// PowerFeature returns the power feature bitmask if it was read.
func (s *Session) PowerFeature() (PowerFeature, bool) {
	return s.powerFeature, s.hasPowerFeature
}

// Device returns the device as currently known.
func (s *Session) Device() FoundDevice {
	d := FoundDevice{
		Category:     s.category,
		Address:      s.address,
		Name:         s.name,
		Manufacturer: s.manufacturer,
	}
	if s.battery != nil {
		b := *s.battery
		d.Battery = &b
	}
	return d
}

func (s *Session) transition(to State) {
	s.logger.WithFields(logrus.Fields{
		"from":  s.state.String(),
		"state": to.String(),
	}).Debug("Discovery session transition")
	s.state = to
}

func (s *Session) expect(state State, event string) error {
	if s.state != state {
		return &TransitionError{State: s.state, Event: event}
	}
	return nil
}

// Start moves a sighted device to StateConnecting.
func (s *Session) Start() (Action, error) {
	if err := s.expect(StateSighted, "start"); err != nil {
		return Action{}, err
	}
	s.transition(StateConnecting)
	return Action{Kind: ActionConnect}, nil
}

// OnConnected requests service enumeration.
func (s *Session) OnConnected() (Action, error) {
	if err := s.expect(StateConnecting, "connected"); err != nil {
		return Action{}, err
	}
	s.transition(StateServiceDiscovery)
	return Action{Kind: ActionDiscoverServices}, nil
}

// OnServicesDiscovered builds the metadata read queue from the services present and issues
// its first read.
func (s *Session) OnServicesDiscovered(services []string) (Action, error) {
	if err := s.expect(StateServiceDiscovery, "services_discovered"); err != nil {
		return Action{}, err
	}

	present := make(map[string]struct{}, len(services))
	for _, svc := range services {
		present[device.NormalizeUUID(svc)] = struct{}{}
	}
	s.queue = s.queue[:0]
	for _, r := range metadataReads {
		if _, ok := present[r.service]; ok {
			s.queue = append(s.queue, r.characteristic)
		}
	}

	s.logger.WithField("queue", s.queue).Debug("Metadata read queue built")
	s.transition(StateReadingMetadata)
	return s.next(), nil
}

// OnCharacteristicRead consumes the outstanding read and issues the next one, or finishes
// classification.
func (s *Session) OnCharacteristicRead(characteristic string, value []byte, readErr error) (Action, error) {
	if err := s.expect(StateReadingMetadata, "characteristic_read"); err != nil {
		return Action{}, err
	}
	char := device.NormalizeUUID(characteristic)
	log := s.logger.WithField("characteristic", device.DisplayName(char))
	if char != s.inFlight {
		log.WithField("in_flight", s.inFlight).Warn("Unrecognized characteristic read, skipping")
		return Action{}, nil
	}
	s.inFlight = ""

	if readErr != nil {
		log.WithError(readErr).Warn("Metadata read failed, skipping")
		return s.next(), nil
	}

	switch char {
	case device.CharacteristicManufacturerName:
		s.manufacturer = device.ParseManufacturerName(value)

	case device.CharacteristicBatteryLevel:
		level, err := device.ParseBatteryLevel(value)
		if err != nil {
			log.WithError(err).Warn("Ignoring battery level")
			break
		}
		s.battery = &level

	case device.CharacteristicCSCFeature:
		flags, err := device.ParseCSCFeature(value)
		if err != nil {
			log.WithError(err).Warn("Ignoring CSC feature")
			break
		}
		if !s.requested.speedCadence() {
			log.WithField("flags", flags).Debug("CSC feature recorded for a non speed/cadence scan")
			break
		}
		if got := CategoryFromCSCFeature(flags); got == s.requested {
			return s.resolve(got), nil
		}
		log.WithField("flags", flags).Debug("CSC feature does not match requested category")
		return s.discard(), nil

	case device.CharacteristicPowerFeature:
		raw, err := device.ParsePowerFeature(value)
		if err != nil {
			log.WithError(err).Warn("Ignoring cycling power feature")
			break
		}
		s.powerFeature, s.hasPowerFeature = PowerFeature(raw), true
		if s.store != nil {
			if err := s.store.StoreSensorTypes(s.address, s.powerFeature.SensorTypes()); err != nil {
				log.WithError(err).Warn("Failed to store power meter sensor types")
			}
		}
		if s.requested == CategoryBikePower {
			return s.resolve(CategoryBikePower), nil
		}
	}

	return s.next(), nil
}

// OnDisconnected abandons a session that has not reached a terminal state.
func (s *Session) OnDisconnected() error {
	if s.state.Terminal() {
		return &TransitionError{State: s.state, Event: "disconnected"}
	}
	s.inFlight = ""
	s.queue = nil
	s.transition(StateFailed)
	return nil
}

// next dequeues one read, or finishes classification once the queue is empty.
func (s *Session) next() Action {
	if len(s.queue) > 0 {
		s.inFlight, s.queue = s.queue[0], s.queue[1:]
		return Action{Kind: ActionRead, Characteristic: s.inFlight}
	}
	if s.requested.NeedsFeature() {
		s.logger.Debug("Metadata drained without a feature read")
		return s.discard()
	}
	return s.resolve(s.requested)
}

func (s *Session) resolve(c Category) Action {
	s.category = c
	s.queue = nil
	s.transition(StateResolved)
	return Action{Kind: ActionReport}
}

func (s *Session) discard() Action {
	s.queue = nil
	s.transition(StateDiscarded)
	return Action{Kind: ActionDisconnect}
}
