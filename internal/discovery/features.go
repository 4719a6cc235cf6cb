package discovery

import (
	"sync"

	"github.com/srg/blefit/internal/sensor"
)

// PowerFeature is the Cycling Power Feature bitmask (0x2A65).
type PowerFeature uint32

// Cycling Power Feature bits the monitor cares about.
const (
	PowerFeaturePedalBalance       PowerFeature = 1 << 0
	PowerFeatureAccumulatedTorque  PowerFeature = 1 << 1
	PowerFeatureWheelRevolutions   PowerFeature = 1 << 2
	PowerFeatureCrankRevolutions   PowerFeature = 1 << 3
	PowerFeatureExtremeMagnitudes  PowerFeature = 1 << 4
	PowerFeatureExtremeAngles      PowerFeature = 1 << 5
	PowerFeatureDeadSpotAngles     PowerFeature = 1 << 6
	PowerFeatureAccumulatedEnergy  PowerFeature = 1 << 7
	PowerFeatureOffsetCompensation PowerFeature = 1 << 8
)

// Has reports whether every bit of flag is set.
func (f PowerFeature) Has(flag PowerFeature) bool {
	return f&flag == flag
}

// SensorTypes returns the metrics a power meter with these features can stream.
// Power is always available.
func (f PowerFeature) SensorTypes() []sensor.Type {
	types := []sensor.Type{sensor.TypePower}
	if f.Has(PowerFeatureWheelRevolutions) {
		types = append(types, sensor.TypeSpeed)
	}
	if f.Has(PowerFeatureCrankRevolutions) {
		types = append(types, sensor.TypeCadence)
	}
	return types
}

// FeatureStore persists the supported sensor types of a power meter, keyed by device address.
type FeatureStore interface {
	StoreSensorTypes(address string, types []sensor.Type) error
}

// MemoryFeatureStore is an in-process FeatureStore.
type MemoryFeatureStore struct {
	mu    sync.RWMutex
	types map[string][]sensor.Type
}

// NewMemoryFeatureStore returns an empty store.
func NewMemoryFeatureStore() *MemoryFeatureStore {
	return &MemoryFeatureStore{types: make(map[string][]sensor.Type)}
}

// StoreSensorTypes replaces the sensor types recorded for address.
func (m *MemoryFeatureStore) StoreSensorTypes(address string, types []sensor.Type) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[address] = append([]sensor.Type(nil), types...)
	return nil
}

// SensorTypes returns the types recorded for address.
func (m *MemoryFeatureStore) SensorTypes(address string) ([]sensor.Type, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types, ok := m.types[address]
	if !ok {
		return nil, false
	}
	return append([]sensor.Type(nil), types...), true
}
