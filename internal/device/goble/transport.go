package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blefit/internal/bledb"
	"github.com/srg/blefit/internal/device"
	"github.com/srg/blefit/internal/discovery"
	"github.com/srg/blefit/internal/groutine"
)

// DefaultConnectTimeout bounds a single dial attempt.
const DefaultConnectTimeout = 10 * time.Second

var _ discovery.Transport = (*Transport)(nil)

// link is one discovery connection.
type link struct {
	cancel  context.CancelFunc
	client  ble.Client
	profile *ble.Profile
}

// Transport implements discovery.Transport on a go-ble device. Every request runs on its own
// named goroutine and reports back through the attached handler.
type Transport struct {
	logger         *logrus.Logger
	connectTimeout time.Duration
	group          *groutine.Group

	mu         sync.Mutex
	dev        ble.Device
	handler    func(discovery.Event)
	scanCancel context.CancelFunc
	links      map[string]*link
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.connectTimeout = d
		}
	}
}

// WithDevice uses dev instead of the shared platform device.
func WithDevice(dev ble.Device) TransportOption {
	return func(t *Transport) {
		t.dev = dev
	}
}

// NewTransport creates a transport. The radio is opened on the first scan.
func NewTransport(logger *logrus.Logger, opts ...TransportOption) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	t := &Transport{
		logger:         logger,
		connectTimeout: DefaultConnectTimeout,
		group:          groutine.NewGroup(context.Background()),
		links:          make(map[string]*link),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Attach sets the handler that receives every event.
func (t *Transport) Attach(handler func(discovery.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *Transport) emit(ev discovery.Event) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := sharedDevice()
	if err != nil {
		return nil, err
	}
	t.dev = dev
	return dev, nil
}

// StartScan starts delivering sightings of devices advertising any of services.
func (t *Transport) StartScan(services []string) error {
	wanted := make([]ble.UUID, 0, len(services))
	for _, s := range services {
		u, err := ble.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid service UUID %q: %w", s, err)
		}
		wanted = append(wanted, u)
	}

	dev, err := t.device()
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.scanCancel != nil {
		t.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(t.group.Context())
	t.scanCancel = cancel
	t.mu.Unlock()

	t.logger.WithField("services", services).Debug("Starting BLE scan")
	t.group.Go("ble-discovery-scan", func(context.Context) {
		err := dev.Scan(ctx, false, func(adv ble.Advertisement) {
			if !advertises(adv, wanted) {
				return
			}
			t.emit(discovery.Sighting{
				Address:  adv.Addr().String(),
				Name:     adv.LocalName(),
				RSSI:     adv.RSSI(),
				Services: uuidStrings(adv.Services()),
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.logger.WithError(device.NormalizeError(err)).Error("BLE scan stopped")
		}
	})
	return nil
}

// StopScan stops the running scan, if any.
func (t *Transport) StopScan() error {
	t.mu.Lock()
	cancel := t.scanCancel
	t.scanCancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Connect dials address and reports Connected or Disconnected.
func (t *Transport) Connect(address string) {
	dev, err := t.device()
	if err != nil {
		t.emit(discovery.Disconnected{Address: address, Err: err})
		return
	}

	ctx, cancel := context.WithCancel(t.group.Context())
	t.mu.Lock()
	if _, exists := t.links[address]; exists {
		t.mu.Unlock()
		cancel()
		t.emit(discovery.Disconnected{Address: address, Err: device.ErrAlreadyConnected})
		return
	}
	l := &link{cancel: cancel}
	t.links[address] = l
	t.mu.Unlock()

	t.group.Go("ble-discovery-connect", func(context.Context) {
		dialCtx, dialCancel := context.WithTimeout(ctx, t.connectTimeout)
		defer dialCancel()

		log := t.logger.WithField("address", address)
		log.Debug("Dialing BLE device...")
		client, err := dev.Dial(dialCtx, ble.NewAddr(address))
		if err != nil {
			t.drop(address, l)
			t.emit(discovery.Disconnected{Address: address, Err: device.NormalizeError(err)})
			return
		}

		t.mu.Lock()
		current, ok := t.links[address]
		if ok && current == l {
			l.client = client
		}
		t.mu.Unlock()
		if !ok || current != l {
			// released while dialing
			_ = client.CancelConnection()
			return
		}

		t.watch(ctx, address, client)
		t.emit(discovery.Connected{Address: address})
	})
}

// watch reports a Disconnected event when the peer drops the link.
func (t *Transport) watch(ctx context.Context, address string, client ble.Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	t.group.Go("ble-discovery-link-monitor", func(context.Context) {
		select {
		case <-dc.Disconnected():
			t.mu.Lock()
			l := t.links[address]
			t.mu.Unlock()
			if l != nil && l.client == client {
				t.drop(address, l)
				t.emit(discovery.Disconnected{Address: address, Err: device.ErrNotConnected})
			}
		case <-ctx.Done():
		}
	})
}

// DiscoverServices enumerates the profile of a connected device.
func (t *Transport) DiscoverServices(address string) {
	l, err := t.connected(address)
	if err != nil {
		t.emit(discovery.Disconnected{Address: address, Err: err})
		return
	}

	t.group.Go("ble-discovery-profile", func(context.Context) {
		profile, err := l.client.DiscoverProfile(true)
		if err != nil {
			t.fail(address, l, err)
			return
		}

		t.mu.Lock()
		l.profile = profile
		t.mu.Unlock()

		uuids := make([]ble.UUID, 0, len(profile.Services))
		for _, svc := range profile.Services {
			uuids = append(uuids, svc.UUID)
		}
		t.emit(discovery.ServicesDiscovered{Address: address, Services: uuidStrings(uuids)})
	})
}

// ReadCharacteristic reads one characteristic from the discovered profile.
func (t *Transport) ReadCharacteristic(address, characteristic string) {
	l, err := t.connected(address)
	if err != nil {
		t.emit(discovery.Disconnected{Address: address, Err: err})
		return
	}

	t.group.Go("ble-discovery-read", func(context.Context) {
		t.mu.Lock()
		profile := l.profile
		t.mu.Unlock()

		char := findCharacteristic(profile, characteristic)
		if char == nil {
			t.emit(discovery.CharacteristicRead{
				Address:        address,
				Characteristic: characteristic,
				Err:            &device.NotFoundError{Resource: "characteristic", UUIDs: []string{characteristic}},
			})
			return
		}

		value, err := l.client.ReadCharacteristic(char)
		t.emit(discovery.CharacteristicRead{
			Address:        address,
			Characteristic: characteristic,
			Value:          value,
			Err:            device.NormalizeError(err),
		})
	})
}

// Disconnect releases the link to address. Unknown addresses are ignored.
func (t *Transport) Disconnect(address string) {
	t.mu.Lock()
	l, ok := t.links[address]
	if ok {
		delete(t.links, address)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	l.cancel()
	if l.client != nil {
		if err := l.client.CancelConnection(); err != nil {
			t.logger.WithField("address", address).WithError(err).Debug("Cancel connection failed")
		}
	}
}

// Close stops scanning, releases every link and waits for outstanding requests.
func (t *Transport) Close() {
	_ = t.StopScan()

	t.mu.Lock()
	addresses := make([]string, 0, len(t.links))
	for addr := range t.links {
		addresses = append(addresses, addr)
	}
	t.mu.Unlock()

	for _, addr := range addresses {
		t.Disconnect(addr)
	}
	t.group.Stop()
}

func (t *Transport) connected(address string) (*link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.links[address]
	if !ok || l.client == nil {
		return nil, device.ErrNotConnected
	}
	return l, nil
}

func (t *Transport) drop(address string, l *link) {
	t.mu.Lock()
	if t.links[address] == l {
		delete(t.links, address)
	}
	t.mu.Unlock()
	l.cancel()
}

func (t *Transport) fail(address string, l *link, err error) {
	t.drop(address, l)
	_ = l.client.CancelConnection()
	t.emit(discovery.Disconnected{Address: address, Err: device.NormalizeError(err)})
}

func advertises(adv ble.Advertisement, wanted []ble.UUID) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, u := range adv.Services() {
		if ble.Contains(wanted, u) {
			return true
		}
	}
	return false
}

func uuidStrings(uuids []ble.UUID) []string {
	raw := make([]string, 0, len(uuids))
	for _, u := range uuids {
		raw = append(raw, u.String())
	}
	return bledb.NormalizeUUIDs(raw)
}

func findCharacteristic(profile *ble.Profile, uuid string) *ble.Characteristic {
	if profile == nil {
		return nil
	}
	want := device.NormalizeUUID(uuid)
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			if device.NormalizeUUID(c.UUID.String()) == want {
				return c
			}
		}
	}
	return nil
}
