package goble

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blefit/internal/device"
	"github.com/srg/blefit/internal/sensor"
	"github.com/srg/blefit/internal/testutils"
	"github.com/srg/blefit/internal/testutils/mocks"
)

// MonitorTestSuite verifies subscriptions and link handling of the monitor.
type MonitorTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	radio   *testutils.MockRadio
	hub     *sensor.Hub
	monitor *Monitor
}

func (suite *MonitorTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	infoOnly := testutils.NewPeripheralBuilder("D1:00:00:00:00:01").
		WithName("Info").
		WithService(device.ServiceDeviceInformation).
		WithCharacteristic(device.CharacteristicManufacturerName, "read", []byte("Acme"))
	suite.radio = testutils.NewMockRadio(strapPeripheral(), crankPeripheral(), infoOnly)
	suite.hub = sensor.NewHub(suite.helper.Logger)
	suite.monitor = NewMonitor(suite.hub, suite.helper.Logger,
		WithMonitorDevice(suite.radio.Device),
		WithMonitorClock(clock.NewMock()),
		WithMonitorConnectTimeout(time.Second),
	)
}

func (suite *MonitorTestSuite) TearDownTest() {
	suite.monitor.Close()
}

func (suite *MonitorTestSuite) TestWatchSubscribesToMeasurements() {
	// GOAL: Verify only notify-capable measurement characteristics are subscribed
	//
	// TEST SCENARIO: strap with heart rate (notify) and battery (read,notify) → heart rate only;
	//                notification → stream under the given name

	suite.Require().NoError(suite.monitor.Watch(context.Background(), strapAddress, "Tickr"))

	client := suite.radio.Client(strapAddress)
	suite.True(client.Subscribed(device.CharacteristicHeartRate))
	suite.False(client.Subscribed(device.CharacteristicBatteryLevel), "battery is not a measurement")

	suite.Require().True(client.Notify(device.CharacteristicHeartRate, []byte{0x00, 142}))
	stream, ok := suite.hub.Lookup(sensor.TypeHeartRate, "Tickr")
	suite.Require().True(ok)
	sample, _ := stream.Last()
	suite.Equal(142.0, sample.Value)
	suite.Equal([]string{strapAddress}, suite.monitor.Watched())
}

func (suite *MonitorTestSuite) TestNameDefaultsToAddress() {
	suite.Require().NoError(suite.monitor.Watch(context.Background(), crankAddress, ""))

	client := suite.radio.Client(crankAddress)
	crank := func(revs, at uint16) []byte {
		return []byte{0x02, byte(revs), byte(revs >> 8), byte(at), byte(at >> 8)}
	}
	client.Notify(device.CharacteristicCSCMeasurement, crank(100, 0))
	client.Notify(device.CharacteristicCSCMeasurement, crank(101, 512))

	stream, ok := suite.hub.Lookup(sensor.TypeCadence, crankAddress)
	suite.Require().True(ok)
	sample, _ := stream.Last()
	suite.InDelta(120.0, sample.Value, 1e-9)
}

func (suite *MonitorTestSuite) TestWatchErrors() {
	suite.Error(suite.monitor.Watch(context.Background(), " ", ""))

	err := suite.monitor.Watch(context.Background(), "D1:00:00:00:00:01", "")
	var notFound *device.NotFoundError
	suite.ErrorAs(err, &notFound, "device without measurements MUST be rejected")
	suite.radio.Client("D1:00:00:00:00:01").AssertCalled(suite.T(), "CancelConnection")

	suite.Require().NoError(suite.monitor.Watch(context.Background(), strapAddress, "Tickr"))
	suite.ErrorIs(suite.monitor.Watch(context.Background(), strapAddress, "Tickr"), device.ErrAlreadyConnected)

	suite.Error(suite.monitor.Watch(context.Background(), "00:00:00:00:00:99", ""), "unknown device MUST fail to dial")
}

func (suite *MonitorTestSuite) TestLinkDropRemovesStreams() {
	// GOAL: Verify a dropped sensor disappears from the hub and can be watched again
	//
	// TEST SCENARIO: watch → reading → peer drops → stream removed, address released

	suite.Require().NoError(suite.monitor.Watch(context.Background(), strapAddress, "Tickr"))
	client := suite.radio.Client(strapAddress)
	client.Notify(device.CharacteristicHeartRate, []byte{0x00, 120})
	suite.Require().Len(suite.hub.Streams(), 1)

	client.Drop()

	suite.Eventually(func() bool {
		return len(suite.hub.Streams()) == 0 && len(suite.monitor.Watched()) == 0
	}, 2*time.Second, 5*time.Millisecond, "dropped link MUST release the device")
	suite.Contains(suite.helper.Logs(), "Sensor disconnected")
}

func (suite *MonitorTestSuite) TestUnwatch() {
	suite.Require().NoError(suite.monitor.Watch(context.Background(), strapAddress, "Tickr"))
	suite.radio.Client(strapAddress).Notify(device.CharacteristicHeartRate, []byte{0x00, 120})

	suite.monitor.Unwatch(strapAddress)
	suite.monitor.Unwatch(strapAddress)

	suite.Empty(suite.hub.Streams())
	suite.Empty(suite.monitor.Watched())
	suite.radio.Client(strapAddress).AssertNumberOfCalls(suite.T(), "CancelConnection", 1)
}

func (suite *MonitorTestSuite) TestConcurrentWatchDialsOnce() {
	// GOAL: Verify an address being connected is reserved until its Watch finishes
	//
	// TEST SCENARIO: first Watch blocks in dial → second Watch for the same address fails at once
	//                → dial released → one dial, one watched link

	var dials atomic.Int32
	release := make(chan struct{})
	client := strapPeripheral().BuildClient()
	dev := &mocks.MockDevice{}
	dev.On("Dial", mock.Anything, mock.Anything).Return(mocks.DialFunc(func(context.Context, ble.Addr) (ble.Client, error) {
		dials.Add(1)
		<-release
		return client, nil
	}))
	monitor := NewMonitor(suite.hub, suite.helper.Logger, WithMonitorDevice(dev), WithMonitorConnectTimeout(time.Second))
	defer monitor.Close()

	first := make(chan error, 1)
	go func() { first <- monitor.Watch(context.Background(), strapAddress, "Tickr") }()
	suite.Require().Eventually(func() bool { return dials.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	suite.ErrorIs(monitor.Watch(context.Background(), strapAddress, "Tickr"), device.ErrAlreadyConnected,
		"address being connected MUST be reserved")
	suite.Empty(monitor.Watched(), "pending connection MUST NOT be reported as watched")

	close(release)
	suite.Require().NoError(<-first)
	suite.Equal(int32(1), dials.Load())
	suite.Equal([]string{strapAddress}, monitor.Watched())
}

func (suite *MonitorTestSuite) TestFailedWatchReleasesAddress() {
	suite.Error(suite.monitor.Watch(context.Background(), "00:00:00:00:00:99", ""))
	suite.Empty(suite.monitor.Watched())

	suite.Require().NoError(suite.monitor.Watch(context.Background(), strapAddress, "Tickr"))
	suite.monitor.Unwatch(strapAddress)
	suite.Require().NoError(suite.monitor.Watch(context.Background(), strapAddress, "Tickr"),
		"address MUST be watchable again after Unwatch")
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}
