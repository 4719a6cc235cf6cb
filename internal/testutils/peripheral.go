package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/srg/blefit/internal/testutils/mocks"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "read", "notify", "read,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig describes one mocked sensor: what it advertises and the GATT profile it serves.
type PeripheralConfig struct {
	Address    string          `json:"address"`
	Name       string          `json:"name,omitempty"`
	RSSI       int             `json:"rssi,omitempty"`
	Advertised []string        `json:"advertised,omitempty"`
	Services   []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds one mocked sensor.
type PeripheralBuilder struct {
	config PeripheralConfig
}

// NewPeripheralBuilder creates a builder for the sensor at address.
func NewPeripheralBuilder(address string) *PeripheralBuilder {
	return &PeripheralBuilder{config: PeripheralConfig{Address: address, RSSI: -60}}
}

// WithName sets the advertised local name.
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.config.Name = name
	return b
}

// WithRSSI sets the advertised signal strength.
func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.config.RSSI = rssi
	return b
}

// WithAdvertisedServices sets the service UUIDs in the advertisement.
func (b *PeripheralBuilder) WithAdvertisedServices(uuids ...string) *PeripheralBuilder {
	b.config.Advertised = append(b.config.Advertised, uuids...)
	return b
}

// WithService adds a service to the GATT profile.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.config.Services = append(b.config.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.config.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := &b.config.Services[len(b.config.Services)-1]
	last.Characteristics = append(last.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FromJSON replaces the configuration with the JSON document, keeping the address when the
// document has none.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...any) *PeripheralBuilder {
	var cfg PeripheralConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &cfg); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if cfg.Address == "" {
		cfg.Address = b.config.Address
	}
	b.config = cfg
	return b
}

// Config returns the configuration built so far.
func (b *PeripheralBuilder) Config() PeripheralConfig {
	return b.config
}

// BuildAdvertisement creates the advertisement the sensor broadcasts.
func (b *PeripheralBuilder) BuildAdvertisement() *mocks.MockAdvertisement {
	uuids := make([]ble.UUID, 0, len(b.config.Advertised))
	for _, s := range b.config.Advertised {
		uuids = append(uuids, ble.MustParse(s))
	}

	adv := &mocks.MockAdvertisement{}
	adv.On("Addr").Return(ble.NewAddr(b.config.Address)).Maybe()
	adv.On("LocalName").Return(b.config.Name).Maybe()
	adv.On("RSSI").Return(b.config.RSSI).Maybe()
	adv.On("Services").Return(uuids).Maybe()
	return adv
}

// BuildProfile creates the GATT profile the sensor serves.
func (b *PeripheralBuilder) BuildProfile() *ble.Profile {
	profile := &ble.Profile{}
	for _, svcConfig := range b.config.Services {
		svc := &ble.Service{UUID: ble.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &ble.Characteristic{
				UUID:     ble.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Value,
			})
		}
		profile.Services = append(profile.Services, svc)
	}
	return profile
}

// BuildClient creates the connected client for the sensor with reads and subscriptions stubbed.
func (b *PeripheralBuilder) BuildClient() *mocks.MockClient {
	profile := b.BuildProfile()
	client := mocks.NewMockClient()
	client.On("DiscoverProfile", true).Return(profile, nil).Maybe()
	client.On("CancelConnection").Return(nil).Maybe()

	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			if char.Property&ble.CharRead != 0 {
				client.On("ReadCharacteristic", char).Return(char.Value, nil).Maybe()
			} else {
				client.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read")).Maybe()
			}
			client.On("Subscribe", char, false, mock.Anything).Return(nil).Maybe()
		}
	}
	return client
}

// parseCharacteristicProperties converts a comma separated property list to ble.Property flags.
// An empty list means read and notify.
func parseCharacteristicProperties(props string) ble.Property {
	if props == "" {
		return ble.CharRead | ble.CharNotify
	}
	var property ble.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= ble.CharRead
		case "write":
			property |= ble.CharWrite
		case "notify":
			property |= ble.CharNotify
		case "indicate":
			property |= ble.CharIndicate
		}
	}
	return property
}

// MockRadio is a mocked host radio serving a set of peripherals. Scan delivers every
// advertisement once and blocks until cancelled; Dial returns the peripheral's client.
type MockRadio struct {
	Device *mocks.MockDevice

	mu      sync.Mutex
	clients map[string]*mocks.MockClient
}

// NewMockRadio builds a radio for peripherals.
func NewMockRadio(peripherals ...*PeripheralBuilder) *MockRadio {
	r := &MockRadio{
		Device:  &mocks.MockDevice{},
		clients: make(map[string]*mocks.MockClient),
	}

	ads := make([]ble.Advertisement, 0, len(peripherals))
	for _, p := range peripherals {
		ads = append(ads, p.BuildAdvertisement())
		r.clients[strings.ToUpper(p.config.Address)] = p.BuildClient()
	}

	r.Device.On("Scan", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		handler := args.Get(2).(ble.AdvHandler)
		for _, adv := range ads {
			handler(adv)
		}
		<-ctx.Done()
	}).Return(context.Canceled).Maybe()

	r.Device.On("Dial", mock.Anything, mock.Anything).Return(mocks.DialFunc(
		func(_ context.Context, a ble.Addr) (ble.Client, error) {
			c := r.Client(a.String())
			if c == nil {
				return nil, fmt.Errorf("device not found: %s", a)
			}
			return c, nil
		},
	)).Maybe()
	r.Device.On("Stop").Return(nil).Maybe()
	return r
}

// Client returns the client of the peripheral at address, or nil.
func (r *MockRadio) Client(address string) *mocks.MockClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[strings.ToUpper(address)]
}
