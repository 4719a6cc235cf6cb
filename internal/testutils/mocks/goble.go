// Package mocks provides testify mocks of the go-ble interfaces.
//
// Each mock embeds the interface it implements, so methods a test never stubs panic instead of
// silently returning zero values.
package mocks

import (
	"context"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice is a mock ble.Device.
type MockDevice struct {
	mock.Mock
	ble.Device
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

// DialFunc computes the result of Dial per call. Return it as the single value of a Dial expectation.
type DialFunc func(ctx context.Context, a ble.Addr) (ble.Client, error)

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	if fn, ok := args.Get(0).(DialFunc); ok {
		return fn(ctx, a)
	}
	client, _ := args.Get(0).(ble.Client)
	return client, args.Error(1)
}

func (m *MockDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockClient is a mock ble.Client. Subscribe keeps the notification handlers so tests can push
// values with Notify, and Drop simulates the peer going away.
type MockClient struct {
	mock.Mock
	ble.Client

	mu           sync.Mutex
	handlers     map[string]ble.NotificationHandler
	disconnected chan struct{}
	dropOnce     sync.Once
}

// NewMockClient creates a connected client.
func NewMockClient() *MockClient {
	return &MockClient{
		handlers:     make(map[string]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	profile, _ := args.Get(0).(*ble.Profile)
	return profile, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	value, _ := args.Get(0).([]byte)
	return value, args.Error(1)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handlers[strings.ToLower(c.UUID.String())] = h
	m.mu.Unlock()
	return nil
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Notify delivers data to the handler subscribed to characteristic uuid.
// It reports false when nothing is subscribed.
func (m *MockClient) Notify(uuid string, data []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[strings.ToLower(uuid)]
	m.mu.Unlock()
	if ok {
		h(data)
	}
	return ok
}

// Subscribed reports whether a handler is registered for uuid.
func (m *MockClient) Subscribed(uuid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[strings.ToLower(uuid)]
	return ok
}

// Drop closes the Disconnected channel.
func (m *MockClient) Drop() {
	m.dropOnce.Do(func() { close(m.disconnected) })
}

// MockAdvertisement is a mock ble.Advertisement.
type MockAdvertisement struct {
	mock.Mock
	ble.Advertisement
}

func (m *MockAdvertisement) LocalName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	args := m.Called()
	addr, _ := args.Get(0).(ble.Addr)
	return addr
}

func (m *MockAdvertisement) RSSI() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Services() []ble.UUID {
	args := m.Called()
	uuids, _ := args.Get(0).([]ble.UUID)
	return uuids
}
