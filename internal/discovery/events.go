package discovery

// Event is a transport notification. The engine routes it to the session of its address.
type Event interface {
	address() string
}

// Sighting reports an advertisement received while scanning.
type Sighting struct {
	Address  string
	Name     string
	RSSI     int
	Services []string
}

// Connected reports that a Connect request completed.
type Connected struct {
	Address string
}

// ServicesDiscovered reports the services enumerated on a connected device.
type ServicesDiscovered struct {
	Address  string
	Services []string
}

// CharacteristicRead reports the completion of a ReadCharacteristic request.
// Err is set when the read failed; Value is then ignored.
type CharacteristicRead struct {
	Address        string
	Characteristic string
	Value          []byte
	Err            error
}

// Disconnected reports that the link to a device dropped or a request on it failed for good.
type Disconnected struct {
	Address string
	Err     error
}

func (e Sighting) address() string           { return e.Address }
func (e Connected) address() string          { return e.Address }
func (e ServicesDiscovered) address() string { return e.Address }
func (e CharacteristicRead) address() string { return e.Address }
func (e Disconnected) address() string       { return e.Address }

// Transport is the radio the engine drives. Every request is fire-and-forget: completion and
// failure come back as events through the handler given to Attach. Disconnect must tolerate
// addresses that are already disconnected.
type Transport interface {
	Attach(handler func(Event))
	StartScan(services []string) error
	StopScan() error
	Connect(address string)
	DiscoverServices(address string)
	ReadCharacteristic(address, characteristic string)
	Disconnect(address string)
}
