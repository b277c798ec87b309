//go:build test

package session_test

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bleflow/internal/session"
	"github.com/srg/bleflow/internal/testutils"
	"github.com/srg/bleflow/pkg/bluetooth"
)

// connectedSuite connects a session manager to the mocked peripheral.
// Suites embed it to share the connect and discover steps without inheriting tests.
type connectedSuite struct {
	testutils.MockPlatformSuite
	manager *session.Manager
}

func (s *connectedSuite) TearDownTest() {
	if s.manager != nil {
		s.NoError(s.manager.Close())
		s.manager = nil
	}
	s.MockPlatformSuite.TearDownTest()
}

// connect connects to the mocked peripheral and clears the recorded events.
func (s *connectedSuite) connect() *session.Session {
	s.manager = session.NewManager(s.Peripheral.Central, bluetooth.ManagerStatePoweredOn, s.Config, nil, s.Recorder, s.Logger)
	s.manager.Connect(peripheralID, nil)
	s.WaitFor("DidConnect", 1)

	sess, ok := s.manager.Peripheral(peripheralID)
	s.Require().True(ok)
	s.Recorder.Reset()
	return sess
}

// discover walks services, characteristics and descriptors, then clears the recorded events.
func (s *connectedSuite) discover(sess *session.Session) bluetooth.Peripheral {
	sess.DiscoverServices(nil)
	p := s.WaitFor("DidDiscoverServices", 1)[0].Peripheral

	chars := 0
	for i, svc := range p.Services {
		sess.DiscoverCharacteristics(nil, svc)
		got := s.WaitFor("DidDiscoverCharacteristics", i+1)[i]
		s.Require().Nil(got.Err)
		for _, c := range got.Service.Characteristics {
			chars++
			sess.DiscoverDescriptors(c)
			s.WaitFor("DidDiscoverDescriptors", chars)
		}
	}

	s.Recorder.Reset()
	return sess.Snapshot()
}

// GATTTestSuite tests discovery and attribute operations of a connected session.
type GATTTestSuite struct {
	connectedSuite
}

func batteryLevel() bluetooth.Characteristic {
	return bluetooth.Characteristic{UUID: "2a19", ServiceUUID: "180f"}
}

func (s *GATTTestSuite) TestDiscovery_BuildsTreeInOrder() {
	// GOAL: Verify discovery fills the GATT tree service by service in discovery order
	//
	// TEST SCENARIO: Two services with characteristics and descriptors → full discovery → snapshot mirrors the profile

	s.Peripheral = s.WithPeripheral().FromJSON(`
	{
		"name": "Sensor",
		"services": [
			{ "uuid": "180D", "characteristics": [
				{ "uuid": "2A37", "properties": "notify" },
				{ "uuid": "2A38", "properties": "read", "value": [1], "descriptors": ["2901"] }
			]},
			{ "uuid": "180A", "characteristics": [
				{ "uuid": "2A29", "properties": "read", "value": [65, 67, 77, 69] }
			]}
		]
	}`).Build()
	sess := s.connect()
	p := s.discover(sess)

	s.Require().Len(p.Services, 2)
	s.Equal(bluetooth.UUID("180d"), p.Services[0].UUID)
	s.Equal(bluetooth.UUID("180a"), p.Services[1].UUID)
	s.True(p.Services[0].IsPrimary)

	hr := p.Services[0]
	s.Require().Len(hr.Characteristics, 2)
	s.Equal(bluetooth.UUID("2a37"), hr.Characteristics[0].UUID)
	s.Equal(bluetooth.UUID("180d"), hr.Characteristics[0].ServiceUUID)
	s.True(hr.Characteristics[0].Properties.Has(bluetooth.PropertyNotify))

	cccd, ok := hr.Characteristics[0].Descriptor(bluetooth.CCCDUUID)
	s.True(ok, "notifying characteristics MUST expose their CCCD")
	s.Equal(bluetooth.UUID("2a37"), cccd.CharacteristicUUID)

	_, ok = hr.Characteristics[1].Descriptor("2901")
	s.True(ok)
}

func (s *GATTTestSuite) TestOperations_RequireDiscovery() {
	// GOAL: Verify attributes are only addressable after their discovery step
	//
	// TEST SCENARIO: Each operation before its prerequisite discovery → invalidParameters

	sess := s.connect()

	sess.DiscoverCharacteristics(nil, bluetooth.Service{UUID: "180f"})
	s.ErrorIs(s.WaitFor("DidDiscoverCharacteristics", 1)[0].Err, bluetooth.ErrInvalidParameters,
		"characteristic discovery MUST require service discovery")

	sess.ReadCharacteristic(batteryLevel())
	s.ErrorIs(s.WaitFor("DidUpdateValue", 1)[0].Err, bluetooth.ErrInvalidParameters)

	sess.DiscoverServices(nil)
	s.WaitFor("DidDiscoverServices", 1)

	sess.DiscoverDescriptors(batteryLevel())
	s.ErrorIs(s.WaitFor("DidDiscoverDescriptors", 1)[0].Err, bluetooth.ErrInvalidParameters,
		"descriptor discovery MUST require characteristic discovery")

	svc, _ := sess.Snapshot().Service("180f")
	sess.DiscoverCharacteristics(nil, svc)
	s.WaitFor("DidDiscoverCharacteristics", 2)

	sess.ReadDescriptor(bluetooth.Descriptor{UUID: bluetooth.CCCDUUID, CharacteristicUUID: "2a19"})
	s.ErrorIs(s.WaitFor("DidUpdateDescriptorValue", 1)[0].Err, bluetooth.ErrInvalidParameters,
		"descriptor access MUST require descriptor discovery")

	s.Peripheral.Client.AssertNotCalled(s.T(), "ReadCharacteristic", mock.Anything)
	s.Peripheral.Client.AssertNotCalled(s.T(), "ReadDescriptor", mock.Anything)
}

func (s *GATTTestSuite) TestOperations_NotConnected() {
	sess := s.connect()
	s.manager.CancelConnection(peripheralID)
	s.WaitFor("DidDisconnect", 1)

	sess.DiscoverServices(nil)
	s.ErrorIs(s.WaitFor("DidDiscoverServices", 1)[0].Err, bluetooth.ErrNotConnected)

	sess.ReadRSSI()
	s.ErrorIs(s.WaitFor("DidReadRSSI", 1)[0].Err, bluetooth.ErrNotConnected)

	sess.WriteCharacteristic([]byte{1}, batteryLevel(), bluetooth.WriteWithResponse)
	s.ErrorIs(s.WaitFor("DidWriteValue", 1)[0].Err, bluetooth.ErrNotConnected)
}

func (s *GATTTestSuite) TestReadWrite() {
	// GOAL: Verify reads update the cached value and writes are acknowledged
	//
	// TEST SCENARIO: Read battery level → 50 → write with response → DidWriteValue without error

	sess := s.connect()
	s.discover(sess)

	sess.ReadCharacteristic(batteryLevel())
	read := s.WaitFor("DidUpdateValue", 1)[0]
	s.Nil(read.Err)
	s.Equal([]byte{50}, read.Characteristic.Value)

	c, _ := sess.Snapshot().Services[0].Characteristic("2a19")
	s.Equal([]byte{50}, c.Value, "reads MUST update the cached value")

	sess.WriteCharacteristic([]byte{42}, batteryLevel(), bluetooth.WriteWithResponse)
	write := s.WaitFor("DidWriteValue", 1)[0]
	s.Nil(write.Err)
	s.Equal(bluetooth.UUID("2a19"), write.Characteristic.UUID)

	s.Peripheral.Client.AssertCalled(s.T(), "WriteCharacteristic", s.Peripheral.Characteristic("2A19"), []byte{42}, false)
}

func (s *GATTTestSuite) TestRead_NotPermitted() {
	s.Peripheral = s.WithPeripheral().
		WithService("180F").
		WithCharacteristic("2A19", "write", nil).
		Build()
	sess := s.connect()
	s.discover(sess)

	sess.ReadCharacteristic(batteryLevel())
	err := s.WaitFor("DidUpdateValue", 1)[0].Err

	s.ErrorIs(err, bluetooth.NewATTError(bluetooth.ATTReadNotPermitted), "ATT error responses MUST keep their code")
}

func (s *GATTTestSuite) TestDescriptors() {
	sess := s.connect()
	s.discover(sess)

	cccd := bluetooth.Descriptor{UUID: bluetooth.CCCDUUID, CharacteristicUUID: "2a19"}

	sess.ReadDescriptor(cccd)
	read := s.WaitFor("DidUpdateDescriptorValue", 1)[0]
	s.Nil(read.Err)
	s.Equal([]byte{0, 0}, read.Descriptor.Value)
	s.Equal(bluetooth.UUID("180f"), read.Descriptor.ServiceUUID)

	sess.WriteDescriptor([]byte{1, 0}, cccd)
	write := s.WaitFor("DidWriteDescriptorValue", 1)[0]
	s.Nil(write.Err)
	s.Equal([]byte{1, 0}, write.Descriptor.Value)
}

func (s *GATTTestSuite) TestNotifications() {
	// GOAL: Verify subscribed values arrive as DidUpdateValue in order
	//
	// TEST SCENARIO: Enable notify → peripheral pushes three values → three updates in order → disable

	sess := s.connect()
	s.discover(sess)

	sess.SetNotify(true, batteryLevel())
	state := s.WaitFor("DidUpdateNotificationState", 1)[0]
	s.Nil(state.Err)
	s.True(state.Characteristic.IsNotifying)

	handle := s.Peripheral.Characteristic("2A19")
	for _, v := range []byte{10, 20, 30} {
		s.Require().True(s.Peripheral.Client.Notify(handle, []byte{v}))
	}

	updates := s.WaitFor("DidUpdateValue", 3)
	s.Equal([]byte{10}, updates[0].Characteristic.Value)
	s.Equal([]byte{20}, updates[1].Characteristic.Value)
	s.Equal([]byte{30}, updates[2].Characteristic.Value)

	sess.SetNotify(false, batteryLevel())
	state = s.WaitFor("DidUpdateNotificationState", 2)[1]
	s.False(state.Characteristic.IsNotifying)
	s.Peripheral.Client.AssertCalled(s.T(), "Unsubscribe", handle, false)
}

func (s *GATTTestSuite) TestNotifications_IndicateOnly() {
	s.Peripheral = s.WithPeripheral().
		WithService("1801").
		WithCharacteristic("2A05", "indicate", nil).
		Build()
	sess := s.connect()
	s.discover(sess)

	sess.SetNotify(true, bluetooth.Characteristic{UUID: "2a05"})
	s.Nil(s.WaitFor("DidUpdateNotificationState", 1)[0].Err)

	s.Peripheral.Client.AssertCalled(s.T(), "Subscribe", s.Peripheral.Characteristic("2A05"), true, mock.Anything)
}

func (s *GATTTestSuite) TestNotifications_NotSupported() {
	s.Peripheral = s.WithPeripheral().
		WithService("180A").
		WithCharacteristic("2A29", "read", []byte("ACME")).
		Build()
	sess := s.connect()
	s.discover(sess)

	sess.SetNotify(true, bluetooth.Characteristic{UUID: "2a29", ServiceUUID: "180a"})
	s.ErrorIs(s.WaitFor("DidUpdateNotificationState", 1)[0].Err, bluetooth.ErrOperationNotSupported)
	s.Peripheral.Client.AssertNotCalled(s.T(), "Subscribe", mock.Anything, mock.Anything, mock.Anything)
}

func (s *GATTTestSuite) TestNotifications_ClearedOnDisconnect() {
	sess := s.connect()
	s.discover(sess)

	sess.SetNotify(true, batteryLevel())
	s.WaitFor("DidUpdateNotificationState", 1)

	s.Peripheral.Client.DropLink()
	p := s.WaitFor("DidDisconnect", 1)[0].Peripheral

	c, _ := p.Services[0].Characteristic("2a19")
	s.False(c.IsNotifying, "a dropped link MUST reset notifying flags")
}

func (s *GATTTestSuite) TestDiscoverServices_ReportsModifiedServices() {
	// GOAL: Verify a service that moved to another handle is reported as invalidated
	//
	// TEST SCENARIO: Discover → peripheral re-registers the service → rediscover → DidModifyServices before DidDiscoverServices

	sess := s.connect()
	s.discover(sess)

	old := s.Peripheral.Services[0]
	s.Peripheral.Services[0] = &ble.Service{UUID: old.UUID, Handle: old.EndHandle + 1, EndHandle: old.EndHandle + 10}

	sess.DiscoverServices(nil)
	s.WaitFor("DidDiscoverServices", 1)

	s.Equal([]string{"DidModifyServices", "DidDiscoverServices"}, s.Recorder.Names())
	modified := s.Recorder.Named("DidModifyServices")[0]
	s.Require().Len(modified.Invalidated, 1)
	s.Equal(bluetooth.UUID("180f"), modified.Invalidated[0].UUID)
	s.Require().Len(modified.Invalidated[0].Characteristics, 1, "invalidated services MUST carry what was discovered")

	svc, ok := sess.Snapshot().Service("180f")
	s.Require().True(ok)
	s.Empty(svc.Characteristics, "a moved service MUST be rediscovered from scratch")
}

func (s *GATTTestSuite) TestDiscoverServices_KeepsUnchangedTree() {
	sess := s.connect()
	s.discover(sess)

	sess.DiscoverServices(nil)
	s.WaitFor("DidDiscoverServices", 1)

	s.Empty(s.Recorder.Named("DidModifyServices"))
	svc, _ := sess.Snapshot().Service("180f")
	s.Len(svc.Characteristics, 1, "services at the same handle MUST keep their characteristics")
}

func (s *GATTTestSuite) TestWriteWithoutResponse_Pacing() {
	// GOAL: Verify unacknowledged writes are paced and readiness is reported after back-pressure
	//
	// TEST SCENARIO: Burst of one → three writes → two paced writes → IsReadyToSendWriteWithoutResponse → no DidWriteValue

	s.Config.WriteWithoutResponseRate = 50
	s.Config.WriteWithoutResponseBurst = 1
	s.Peripheral = s.WithPeripheral().
		WithService("FFE0").
		WithCharacteristic("FFE1", "write-without-response", nil).
		Build()
	sess := s.connect()
	s.discover(sess)

	c := bluetooth.Characteristic{UUID: "ffe1"}
	for i := byte(0); i < 3; i++ {
		sess.WriteCharacteristic([]byte{i}, c, bluetooth.WriteWithoutResponse)
	}

	s.WaitFor("IsReadyToSendWriteWithoutResponse", 2)
	s.Empty(s.Recorder.Named("DidWriteValue"), "unacknowledged writes MUST NOT report DidWriteValue")
	s.Peripheral.Client.AssertNumberOfCalls(s.T(), "WriteCharacteristic", 3)
	s.True(sess.Snapshot().CanSendWriteWithoutResponse)
}

func (s *GATTTestSuite) TestMaximumWriteValueLength() {
	sess := s.connect()

	s.Equal(512, sess.MaximumWriteValueLength(bluetooth.WriteWithResponse))
	s.Equal(182, sess.MaximumWriteValueLength(bluetooth.WriteWithoutResponse), "MUST be the negotiated MTU minus the ATT header")
}

func (s *GATTTestSuite) TestReadRSSI() {
	sess := s.connect()

	sess.ReadRSSI()
	event := s.WaitFor("DidReadRSSI", 1)[0]

	s.Nil(event.Err)
	s.Equal(-60, event.RSSI)
}

func (s *GATTTestSuite) TestOpenL2CAPChannel_Unsupported() {
	sess := s.connect()

	sess.OpenL2CAPChannel(0x0080)
	event := s.WaitFor("DidOpenL2CAPChannel", 1)[0]

	s.ErrorIs(event.Err, bluetooth.ErrOperationNotSupported)
	s.Nil(event.Channel)
}

func TestGATTTestSuite(t *testing.T) {
	suite.Run(t, new(GATTTestSuite))
}
