package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blefit/internal/device"
	"github.com/srg/blefit/internal/groutine"
	"github.com/srg/blefit/internal/sensor"
)

// watched is one sensor link. client is nil while Watch is still connecting.
type watched struct {
	client ble.Client
	router *Router
	cancel context.CancelFunc
}

// Monitor connects to sensors and streams their measurement notifications into a sensor.Hub.
type Monitor struct {
	hub            *sensor.Hub
	logger         *logrus.Logger
	clock          clock.Clock
	circumference  float64
	connectTimeout time.Duration
	group          *groutine.Group

	mu      sync.Mutex
	dev     ble.Device
	watched map[string]*watched
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithWheelCircumference sets the wheel circumference, in meters, used for CSC speed.
func WithWheelCircumference(meters float64) MonitorOption {
	return func(m *Monitor) {
		m.circumference = meters
	}
}

// WithMonitorClock stamps samples with clk.
func WithMonitorClock(clk clock.Clock) MonitorOption {
	return func(m *Monitor) {
		m.clock = clk
	}
}

// WithMonitorConnectTimeout overrides DefaultConnectTimeout.
func WithMonitorConnectTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// WithMonitorDevice uses dev instead of the shared platform device.
func WithMonitorDevice(dev ble.Device) MonitorOption {
	return func(m *Monitor) {
		m.dev = dev
	}
}

// NewMonitor creates a monitor publishing into hub.
func NewMonitor(hub *sensor.Hub, logger *logrus.Logger, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	m := &Monitor{
		hub:            hub,
		logger:         logger,
		clock:          clock.New(),
		circumference:  device.DefaultWheelCircumference,
		connectTimeout: DefaultConnectTimeout,
		group:          groutine.NewGroup(context.Background()),
		watched:        make(map[string]*watched),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Watch connects to address and subscribes to every measurement characteristic it exposes.
// Streams are published under name, or under the address when name is empty. When the link
// drops the device's streams are removed from the hub.
func (m *Monitor) Watch(ctx context.Context, address, name string) error {
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("device address is empty")
	}
	if name == "" {
		name = address
	}

	m.mu.Lock()
	if _, ok := m.watched[address]; ok {
		m.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	m.watched[address] = &watched{}
	dev := m.dev
	m.mu.Unlock()

	client, subscribed, router, err := m.connect(ctx, dev, address, name)
	if err != nil {
		m.mu.Lock()
		delete(m.watched, address)
		m.mu.Unlock()
		return err
	}

	watchCtx, watchCancel := context.WithCancel(m.group.Context())
	w := &watched{client: client, router: router, cancel: watchCancel}
	m.mu.Lock()
	m.watched[address] = w
	m.mu.Unlock()

	log := m.logger.WithField("address", address)
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		m.group.Go("ble-monitor-link", func(context.Context) {
			select {
			case <-dc.Disconnected():
				log.Warn("Sensor disconnected")
				m.release(address, w)
			case <-watchCtx.Done():
			}
		})
	}

	log.WithFields(logrus.Fields{
		"name":            name,
		"characteristics": subscribed,
	}).Info("Sensor connected")
	return nil
}

// connect dials address and subscribes to its measurement characteristics.
func (m *Monitor) connect(ctx context.Context, dev ble.Device, address, name string) (ble.Client, int, *Router, error) {
	if dev == nil {
		var err error
		if dev, err = sharedDevice(); err != nil {
			return nil, 0, nil, err
		}
	}

	log := m.logger.WithField("address", address)
	log.Info("Connecting to sensor...")

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	client, err := dev.Dial(dialCtx, ble.NewAddr(address))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to connect to device with address %q: %w", address, device.NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return nil, 0, nil, fmt.Errorf("failed to discover profile: %w", device.NormalizeError(err))
	}

	router := NewRouter(m.hub, name, m.circumference, m.clock, m.logger)
	subscribed := 0
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			uuid := device.NormalizeUUID(c.UUID.String())
			if !router.Accepts(uuid) || c.Property&ble.CharNotify == 0 {
				continue
			}
			if err := client.Subscribe(c, false, func(data []byte) {
				router.Handle(uuid, data)
			}); err != nil {
				log.WithField("characteristic", device.DisplayName(uuid)).WithError(err).Warn("Failed to subscribe")
				continue
			}
			subscribed++
			log.WithField("characteristic", device.DisplayName(uuid)).Debug("Subscribed to measurement")
		}
	}
	if subscribed == 0 {
		_ = client.CancelConnection()
		return nil, 0, nil, &device.NotFoundError{Resource: "measurement characteristic"}
	}
	return client, subscribed, router, nil
}

// Unwatch disconnects address and removes its streams.
func (m *Monitor) Unwatch(address string) {
	m.mu.Lock()
	w, ok := m.watched[address]
	m.mu.Unlock()
	if !ok || w.client == nil {
		return
	}
	m.release(address, w)
	if err := w.client.CancelConnection(); err != nil {
		m.logger.WithField("address", address).WithError(err).Debug("Cancel connection failed")
	}
}

// Watched returns the addresses currently connected.
func (m *Monitor) Watched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.watched))
	for addr, w := range m.watched {
		if w.client != nil {
			out = append(out, addr)
		}
	}
	return out
}

// Close disconnects every device and waits for the link monitors to exit.
func (m *Monitor) Close() {
	for _, addr := range m.Watched() {
		m.Unwatch(addr)
	}
	m.group.Stop()
}

func (m *Monitor) release(address string, w *watched) {
	m.mu.Lock()
	if m.watched[address] == w {
		delete(m.watched, address)
	}
	m.mu.Unlock()
	w.cancel()
	w.router.Close()
}
