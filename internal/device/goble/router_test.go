package goble

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blefit/internal/device"
	"github.com/srg/blefit/internal/sensor"
	"github.com/srg/blefit/internal/testutils"
)

// RouterTestSuite verifies measurement notifications reach hub streams.
type RouterTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	clock   *clock.Mock
	hub     *sensor.Hub
	router  *Router
	changes int
}

func (suite *RouterTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.clock = clock.NewMock()
	suite.clock.Set(time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC))
	suite.hub = sensor.NewHub(suite.helper.Logger)
	suite.changes = 0
	suite.hub.OnChange(func() { suite.changes++ })
	suite.router = NewRouter(suite.hub, "Tickr", 0, suite.clock, suite.helper.Logger)
}

func (suite *RouterTestSuite) TestStreamRegisteredOnFirstReading() {
	// GOAL: Verify a stream appears in the hub only once data arrives
	//
	// TEST SCENARIO: no notification → no stream; heart rate notification → stream with stamped sample

	_, ok := suite.hub.Lookup(sensor.TypeHeartRate, "Tickr")
	suite.False(ok, "stream MUST NOT exist before the first reading")

	suite.router.Handle("2A37", []byte{0x00, 131})

	stream, ok := suite.hub.Lookup(sensor.TypeHeartRate, "Tickr")
	suite.Require().True(ok)
	sample, ok := stream.Last()
	suite.Require().True(ok)
	suite.Equal(131.0, sample.Value)
	suite.Equal(suite.clock.Now(), sample.Timestamp)
	suite.Equal(1, suite.changes)

	suite.router.Handle("2a37", []byte{0x00, 132})
	suite.Equal(1, suite.changes, "later readings MUST NOT re-announce the stream")
}

func (suite *RouterTestSuite) TestCSCRegistersOnlyDeliveredTypes() {
	// GOAL: Verify a crank-only CSC sensor never announces a speed stream
	//
	// TEST SCENARIO: two crank events → cadence stream only

	crank := func(revs, at uint16) []byte {
		return []byte{0x02, byte(revs), byte(revs >> 8), byte(at), byte(at >> 8)}
	}
	suite.router.Handle(device.CharacteristicCSCMeasurement, crank(10, 0))
	suite.router.Handle(device.CharacteristicCSCMeasurement, crank(11, 1024))

	_, ok := suite.hub.Lookup(sensor.TypeSpeed, "Tickr")
	suite.False(ok)
	stream, ok := suite.hub.Lookup(sensor.TypeCadence, "Tickr")
	suite.Require().True(ok)
	sample, _ := stream.Last()
	suite.InDelta(60.0, sample.Value, 1e-9)
}

func (suite *RouterTestSuite) TestMalformedAndUnknownPayloads() {
	suite.router.Handle(device.CharacteristicHeartRate, []byte{0x01})
	suite.router.Handle(device.CharacteristicBatteryLevel, []byte{50})

	suite.Empty(suite.hub.Streams())
	suite.Contains(suite.helper.Logs(), "Dropping malformed measurement")
	suite.False(suite.router.Accepts(device.CharacteristicBatteryLevel))
	suite.True(suite.router.Accepts("2A63"))
}

func (suite *RouterTestSuite) TestCloseRemovesStreams() {
	suite.router.Handle(device.CharacteristicPowerMeasurement, []byte{0x00, 0x00, 0xc8, 0x00})
	suite.Require().Len(suite.hub.Streams(), 1)

	suite.router.Close()
	suite.Empty(suite.hub.Streams(), "Close MUST remove the device's streams")

	suite.router.Handle(device.CharacteristicPowerMeasurement, []byte{0x00, 0x00, 0xc8, 0x00})
	suite.Empty(suite.hub.Streams(), "closed router MUST NOT register streams")
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}
