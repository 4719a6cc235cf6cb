package discovery

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blefit/internal/device"
	"github.com/srg/blefit/internal/testutils"
)

// fakeTransport records every request as a string command and lets tests inject events.
type fakeTransport struct {
	mu       sync.Mutex
	handler  func(Event)
	commands []string
	scanErr  error
}

func (f *fakeTransport) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, fmt.Sprintf(format, args...))
}

func (f *fakeTransport) Attach(handler func(Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeTransport) StartScan(services []string) error {
	f.record("scan %v", services)
	return f.scanErr
}

func (f *fakeTransport) StopScan() error {
	f.record("stop")
	return nil
}

func (f *fakeTransport) Connect(address string)          { f.record("connect %s", address) }
func (f *fakeTransport) DiscoverServices(address string) { f.record("discover %s", address) }
func (f *fakeTransport) Disconnect(address string)       { f.record("disconnect %s", address) }

func (f *fakeTransport) ReadCharacteristic(address, characteristic string) {
	f.record("read %s %s", address, characteristic)
}

func (f *fakeTransport) emit(ev Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

func (f *fakeTransport) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeTransport) count(cmd string) int {
	n := 0
	for _, c := range f.Commands() {
		if c == cmd {
			n++
		}
	}
	return n
}

// recordingListener collects engine callbacks.
type recordingListener struct {
	mu      sync.Mutex
	found   []FoundDevice
	stopped int
}

func (l *recordingListener) OnNewDeviceFound(dev FoundDevice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.found = append(l.found, dev)
}

func (l *recordingListener) OnSearchStopped() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped++
}

func (l *recordingListener) Found() []FoundDevice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]FoundDevice(nil), l.found...)
}

func (l *recordingListener) Stopped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// EngineTestSuite drives the engine through a fake transport.
type EngineTestSuite struct {
	suite.Suite
	helper    *testutils.TestHelper
	transport *fakeTransport
	listener  *recordingListener
	engine    *Engine
}

func (suite *EngineTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.transport = &fakeTransport{}
	suite.listener = &recordingListener{}
	suite.engine = NewEngine(suite.transport, suite.listener, suite.helper.Logger)
}

func (suite *EngineTestSuite) TearDownTest() {
	suite.engine.Close()
}

// flush waits until every job posted so far has run.
func (suite *EngineTestSuite) flush() {
	done := make(chan struct{})
	suite.Require().True(suite.engine.queue.post(func() { close(done) }), "queue MUST accept jobs")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		suite.FailNow("work queue MUST drain")
	}
}

func (suite *EngineTestSuite) expectCommand(cmd string) {
	suite.Eventually(func() bool {
		return suite.transport.count(cmd) > 0
	}, 2*time.Second, 5*time.Millisecond, "transport MUST receive %q, got %v", cmd, suite.transport.Commands())
}

func (suite *EngineTestSuite) TestCadenceScenario() {
	// GOAL: Verify a cadence sensor is reported exactly once with its metadata
	//
	// TEST SCENARIO: scan bike-cadence → sighting AA:BB → connected → services (device info + CSC)
	// → manufacturer, feature 0x02 → one report → repeat sighting → still one report

	suite.Require().NoError(suite.engine.StartScan(CategoryBikeCadence))
	suite.expectCommand("scan [1816]")
	suite.True(suite.engine.IsScanning())

	suite.transport.emit(Sighting{Address: "AA:BB", Name: "CADENCE 123", RSSI: -60})
	suite.expectCommand("connect AA:BB")

	suite.transport.emit(Connected{Address: "AA:BB"})
	suite.expectCommand("discover AA:BB")

	suite.transport.emit(ServicesDiscovered{Address: "AA:BB", Services: []string{"180A", "1816"}})
	suite.expectCommand("read AA:BB 2a29")

	suite.transport.emit(CharacteristicRead{Address: "AA:BB", Characteristic: "2a29", Value: []byte("Wahoo")})
	suite.expectCommand("read AA:BB 2a5c")

	suite.transport.emit(CharacteristicRead{Address: "AA:BB", Characteristic: "2a5c", Value: []byte{0x02}})
	suite.Eventually(func() bool { return len(suite.listener.Found()) == 1 }, 2*time.Second, 5*time.Millisecond)

	suite.transport.emit(Sighting{Address: "AA:BB", Name: "CADENCE 123"})
	suite.flush()

	found := suite.listener.Found()
	suite.Require().Len(found, 1, "repeat sighting MUST NOT report again")
	suite.Equal(FoundDevice{
		Category:     CategoryBikeCadence,
		Address:      "AA:BB",
		Name:         "CADENCE 123",
		Manufacturer: "Wahoo",
	}, found[0])
	suite.Equal(1, suite.transport.count("connect AA:BB"), "tracked address MUST NOT be reconnected")
	suite.Equal(found, suite.engine.Devices())
}

func (suite *EngineTestSuite) TestDuplicateSightingsInterleaved() {
	// GOAL: Verify no interleaving of duplicate sightings produces a second report
	//
	// TEST SCENARIO: sighting repeated between every step of a heart-rate discovery

	suite.Require().NoError(suite.engine.StartScan(CategoryHeartRate))
	steps := []Event{
		Sighting{Address: "11:22", Name: "HR"},
		Connected{Address: "11:22"},
		ServicesDiscovered{Address: "11:22", Services: []string{device.ServiceHeartRate, device.ServiceBattery}},
		CharacteristicRead{Address: "11:22", Characteristic: device.CharacteristicBatteryLevel, Value: []byte{50}},
	}
	for _, ev := range steps {
		suite.transport.emit(ev)
		suite.transport.emit(Sighting{Address: "11:22", Name: "HR"})
	}
	suite.transport.emit(CharacteristicRead{Address: "11:22", Characteristic: device.CharacteristicBatteryLevel, Value: []byte{50}})
	suite.flush()

	found := suite.listener.Found()
	suite.Require().Len(found, 1)
	suite.Require().NotNil(found[0].Battery)
	suite.Equal(50, *found[0].Battery)
}

func (suite *EngineTestSuite) TestWrongCategoryIsDiscarded() {
	suite.Require().NoError(suite.engine.StartScan(CategoryBikeSpeed))
	suite.transport.emit(Sighting{Address: "AA:BB"})
	suite.transport.emit(Connected{Address: "AA:BB"})
	suite.transport.emit(ServicesDiscovered{Address: "AA:BB", Services: []string{device.ServiceCyclingSpeedCadence}})
	suite.transport.emit(CharacteristicRead{Address: "AA:BB", Characteristic: device.CharacteristicCSCFeature, Value: []byte{0x02}})
	suite.flush()

	suite.Empty(suite.listener.Found(), "cadence sensor MUST NOT be reported to a speed scan")
	suite.Equal(1, suite.transport.count("disconnect AA:BB"), "discarded device MUST be released")
}

func (suite *EngineTestSuite) TestDisconnectAbandonsSessionWithoutRetry() {
	// GOAL: Verify a transport disconnect drops the session and the address is not retried
	//
	// TEST SCENARIO: connect → disconnect → late connected event and new sighting are ignored

	suite.Require().NoError(suite.engine.StartScan(CategoryHeartRate))
	suite.transport.emit(Sighting{Address: "11:22"})
	suite.transport.emit(Disconnected{Address: "11:22", Err: errors.New("connection timeout")})
	suite.transport.emit(Connected{Address: "11:22"})
	suite.transport.emit(Sighting{Address: "11:22"})
	suite.flush()

	suite.Empty(suite.listener.Found())
	suite.Equal(1, suite.transport.count("connect 11:22"))
	suite.Zero(suite.transport.count("discover 11:22"), "failed session MUST NOT advance")
}

func (suite *EngineTestSuite) TestStartScanIsIdempotent() {
	suite.Require().NoError(suite.engine.StartScan(CategoryHeartRate))
	suite.Require().NoError(suite.engine.StartScan(CategoryBikePower))
	suite.flush()

	suite.Equal([]string{"scan [180d]"}, suite.transport.Commands())
}

func (suite *EngineTestSuite) TestStopScanDisconnectsEverySession() {
	// GOAL: Verify StopScan releases every tracked device and fires OnSearchStopped once
	//
	// TEST SCENARIO: one failed, one resolved, one connecting session → stop twice → three disconnects, one callback

	suite.Require().NoError(suite.engine.StartScan(CategoryEnvironment))
	suite.transport.emit(Sighting{Address: "01"})
	suite.transport.emit(Sighting{Address: "02"})
	suite.transport.emit(Sighting{Address: "03"})
	suite.transport.emit(Disconnected{Address: "01"})
	suite.transport.emit(Connected{Address: "02"})
	suite.transport.emit(ServicesDiscovered{Address: "02", Services: []string{device.ServiceEnvironmentalSensing}})
	suite.flush()
	suite.Require().Len(suite.listener.Found(), 1)

	suite.engine.StopScan()
	suite.engine.StopScan()
	suite.flush()

	suite.False(suite.engine.IsScanning())
	suite.Equal(1, suite.listener.Stopped())
	suite.Equal(1, suite.transport.count("stop"))
	for _, addr := range []string{"01", "02", "03"} {
		suite.Equal(1, suite.transport.count("disconnect "+addr), "%s MUST be disconnected", addr)
	}

	suite.transport.emit(Connected{Address: "03"})
	suite.transport.emit(Sighting{Address: "04"})
	suite.flush()
	suite.Zero(suite.transport.count("discover 03"), "events after stop MUST be ignored")
	suite.Zero(suite.transport.count("connect 04"), "sightings after stop MUST be ignored")
}

func (suite *EngineTestSuite) TestNewScanResetsInformedSet() {
	suite.Require().NoError(suite.engine.StartScan(CategoryRunSpeed))
	suite.transport.emit(Sighting{Address: "R1"})
	suite.transport.emit(Connected{Address: "R1"})
	suite.transport.emit(ServicesDiscovered{Address: "R1", Services: []string{device.ServiceRunningSpeedCadence}})
	suite.flush()
	suite.engine.StopScan()

	suite.Require().NoError(suite.engine.StartScan(CategoryRunSpeed))
	suite.transport.emit(Sighting{Address: "R1"})
	suite.transport.emit(Connected{Address: "R1"})
	suite.transport.emit(ServicesDiscovered{Address: "R1", Services: []string{device.ServiceRunningSpeedCadence}})
	suite.flush()

	suite.Len(suite.listener.Found(), 2, "a new scan session MUST report the device again")
	suite.Len(suite.engine.Devices(), 1)
}

func (suite *EngineTestSuite) TestStartScanFailureLeavesEngineIdle() {
	suite.transport.scanErr = device.ErrBluetoothOff
	suite.Require().NoError(suite.engine.StartScan(CategoryHeartRate))
	suite.flush()

	suite.False(suite.engine.IsScanning())
	suite.Contains(suite.helper.Logs(), "Failed to start scan")
}

func (suite *EngineTestSuite) TestRejectsInvalidCategoryAndClosedEngine() {
	suite.Error(suite.engine.StartScan(CategoryNone))

	suite.engine.Close()
	suite.ErrorIs(suite.engine.StartScan(CategoryHeartRate), ErrEngineClosed)
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
