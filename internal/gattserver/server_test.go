//go:build test

package gattserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/internal/testutils"
	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/config"
)

const centralID = "11:22:33:44:55:66"

// fakeNotifier stands in for a central's notification channel.
type fakeNotifier struct {
	ctx    context.Context
	cancel context.CancelFunc
	cap    int

	mu   sync.Mutex
	sent [][]byte
}

func newFakeNotifier(capacity int) *fakeNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeNotifier{ctx: ctx, cancel: cancel, cap: capacity}
}

func (n *fakeNotifier) Context() context.Context { return n.ctx }
func (n *fakeNotifier) Cap() int                 { return n.cap }

func (n *fakeNotifier) Write(b []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, append([]byte(nil), b...))
	return len(b), nil
}

func (n *fakeNotifier) Sent() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.sent...)
}

// l2capServer is a platform server that can publish L2CAP channels.
type l2capServer struct {
	*testutils.MockServer
	accept chan platform.L2CAPConn
}

func (s *l2capServer) PublishL2CAP(encrypted bool) (uint16, <-chan platform.L2CAPConn, error) {
	return 0x80, s.accept, nil
}

func (s *l2capServer) UnpublishL2CAP(psm uint16) error {
	return nil
}

// ServerTestSuite tests the GATT server over a mocked platform server.
type ServerTestSuite struct {
	suite.Suite

	logger   *logrus.Logger
	cfg      config.PeripheralConfig
	platform *testutils.MockServer
	recorder *testutils.ServerRecorder
	server   *Server
}

func (s *ServerTestSuite) SetupTest() {
	s.logger = logrus.New()
	s.logger.SetLevel(logrus.DebugLevel)

	s.cfg = config.DefaultConfig().Peripheral
	s.cfg.RequestTimeout = 2 * time.Second
	s.cfg.RestoreDir = s.T().TempDir()

	s.platform = testutils.NewMockServer()
	s.recorder = testutils.NewServerRecorder()
	s.server = New(s.platform, bluetooth.ManagerStatePoweredOn, s.cfg, nil, s.recorder, s.logger)
}

func (s *ServerTestSuite) TearDownTest() {
	s.NoError(s.server.Close())
}

func (s *ServerTestSuite) waitFor(name string, count int) []testutils.ServerEvent {
	events, ok := s.recorder.WaitFor(name, count, 2*time.Second)
	s.Require().True(ok, "MUST receive %d %s event(s), got %d; recorded: %v", count, name, len(events), s.recorder.Names())
	return events
}

func heartRate() bluetooth.MutableService {
	return bluetooth.MutableService{
		UUID:      "180D",
		IsPrimary: true,
		Characteristics: []bluetooth.MutableCharacteristic{
			{UUID: "2A37", Properties: bluetooth.PropertyNotify | bluetooth.PropertyRead, Permissions: bluetooth.PermissionReadable},
			{UUID: "2A39", Properties: bluetooth.PropertyWrite, Permissions: bluetooth.PermissionWriteable},
			{UUID: "2A38", Properties: bluetooth.PropertyRead, Value: []byte{1}, Permissions: bluetooth.PermissionReadable},
		},
	}
}

func (s *ServerTestSuite) publish() *localCharacteristic {
	s.server.AddService(heartRate())
	added := s.waitFor("DidAddService", 1)
	s.Require().Nil(added[0].Err, "publishing a valid service MUST succeed")

	lc, ok := s.server.characteristic("", "2A37")
	s.Require().True(ok)
	return lc
}

func (s *ServerTestSuite) TestAddService_Publishes() {
	// GOAL: Verify a MutableService becomes a platform service with matching characteristics
	//
	// TEST SCENARIO: Publish heart rate service → DidAddService without error → platform got three characteristics

	s.publish()

	added := s.recorder.Named("DidAddService")[0]
	s.Equal(bluetooth.UUID("180d"), added.Service.UUID)
	s.Len(added.Service.Characteristics, 3)

	s.platform.AssertCalled(s.T(), "AddService", mock.MatchedBy(func(svc *ble.Service) bool {
		if len(svc.Characteristics) != 3 {
			return false
		}
		return svc.Characteristics[0].Property == ble.CharRead|ble.CharNotify &&
			svc.Characteristics[1].Property == ble.CharWrite
	}))
	s.Len(s.server.Services(), 1)
}

func (s *ServerTestSuite) TestAddService_RejectsDuplicate() {
	// GOAL: Verify publishing the same service twice fails
	//
	// TEST SCENARIO: Publish twice → second DidAddService carries invalidParameters

	s.publish()
	s.server.AddService(heartRate())

	added := s.waitFor("DidAddService", 2)
	s.Require().NotNil(added[1].Err, "duplicate service MUST be rejected")
	s.Equal(bluetooth.CodeInvalidParameters, added[1].Err.Code)
	s.platform.AssertNumberOfCalls(s.T(), "AddService", 1)
}

func (s *ServerTestSuite) TestAddService_RejectsWritableCachedValue() {
	// GOAL: Verify a cached value on a writable characteristic is rejected before reaching the platform
	//
	// TEST SCENARIO: Characteristic with value and write property → invalidParameters

	s.server.AddService(bluetooth.MutableService{
		UUID: "FFE0",
		Characteristics: []bluetooth.MutableCharacteristic{
			{UUID: "FFE1", Properties: bluetooth.PropertyRead | bluetooth.PropertyWrite, Value: []byte{1}},
		},
	})

	added := s.waitFor("DidAddService", 1)
	s.Require().NotNil(added[0].Err)
	s.Equal(bluetooth.CodeInvalidParameters, added[0].Err.Code)
	s.platform.AssertNotCalled(s.T(), "AddService", mock.Anything)
}

func (s *ServerTestSuite) TestRemoveService() {
	// GOAL: Verify removing a service rebuilds the database without it
	//
	// TEST SCENARIO: Publish → remove → SetServices with no services → removing again fails

	s.publish()
	s.Require().NoError(s.server.RemoveService(heartRate()))

	s.platform.AssertCalled(s.T(), "SetServices", []*ble.Service{})
	s.Empty(s.server.Services())
	s.Error(s.server.RemoveService(heartRate()), "removing an unpublished service MUST fail")
}

func (s *ServerTestSuite) TestRead_RoundTrip() {
	// GOAL: Verify a central's read waits for Respond and returns the answered value
	//
	// TEST SCENARIO: Read at offset 2 → DidReceiveRead → Respond "hello" → central gets "llo"

	lc := s.publish()

	type result struct {
		code  bluetooth.ATTErrorCode
		value []byte
	}
	done := make(chan result, 1)
	go func() {
		code, value := s.server.handleRead(lc, bluetooth.Central{Identifier: centralID}, 2)
		done <- result{code, value}
	}()

	req := s.waitFor("DidReceiveRead", 1)[0].Requests[0]
	s.NotEmpty(req.ID, "request MUST carry an identifier")
	s.Equal(centralID, req.Central.Identifier)
	s.Equal(bluetooth.UUID("2a37"), req.Characteristic.UUID)
	s.Equal(1, s.server.Pending())

	req.Value = []byte("hello")
	s.Require().NoError(s.server.Respond(req, bluetooth.ATTSuccess))

	select {
	case r := <-done:
		s.Equal(bluetooth.ATTSuccess, r.code)
		s.Equal([]byte("llo"), r.value, "read response MUST start at the requested offset")
	case <-time.After(2 * time.Second):
		s.FailNow("read MUST complete after Respond")
	}
	s.Zero(s.server.Pending())
	s.Error(s.server.Respond(req, bluetooth.ATTSuccess), "answering twice MUST fail")
}

func (s *ServerTestSuite) TestRead_InvalidOffset() {
	// GOAL: Verify an offset beyond the answered value yields invalidOffset
	//
	// TEST SCENARIO: Read at offset 10 → Respond "hi" → invalidOffset

	lc := s.publish()
	done := make(chan bluetooth.ATTErrorCode, 1)
	go func() {
		code, _ := s.server.handleRead(lc, bluetooth.Central{Identifier: centralID}, 10)
		done <- code
	}()

	req := s.waitFor("DidReceiveRead", 1)[0].Requests[0]
	req.Value = []byte("hi")
	s.Require().NoError(s.server.Respond(req, bluetooth.ATTSuccess))
	s.Equal(bluetooth.ATTInvalidOffset, <-done)
}

func (s *ServerTestSuite) TestRead_Timeout() {
	// GOAL: Verify an unanswered request is failed with unlikelyError
	//
	// TEST SCENARIO: Request timeout 20ms → nobody responds → unlikelyError and no pending request left

	s.server.cfg.RequestTimeout = 20 * time.Millisecond
	lc := s.publish()

	code, value := s.server.handleRead(lc, bluetooth.Central{Identifier: centralID}, 0)
	s.Equal(bluetooth.ATTUnlikelyError, code)
	s.Nil(value)
	s.Zero(s.server.Pending(), "timed out request MUST be removed")

	req := s.recorder.Named("DidReceiveRead")[0].Requests[0]
	s.Error(s.server.Respond(req, bluetooth.ATTSuccess), "answering a timed out request MUST fail")
}

func (s *ServerTestSuite) TestRespond_UnknownRequest() {
	// GOAL: Verify responding to an unknown request fails
	//
	// TEST SCENARIO: Respond with made up id → invalidParameters

	err := s.server.Respond(bluetooth.ATTRequest{ID: "nope"}, bluetooth.ATTSuccess)
	s.Require().Error(err)
	s.ErrorIs(err, bluetooth.ErrInvalidParameters)
}

func (s *ServerTestSuite) TestWrite_RoundTrip() {
	// GOAL: Verify a central's write is forwarded with its value and answered by Respond
	//
	// TEST SCENARIO: Write "on" → DidReceiveWrite with one request → Respond writeNotPermitted → central gets it

	s.publish()
	lc, ok := s.server.characteristic("180D", "2A39")
	s.Require().True(ok)

	done := make(chan bluetooth.ATTErrorCode, 1)
	go func() {
		done <- s.server.handleWrite(lc, bluetooth.Central{Identifier: centralID}, 0, []byte("on"))
	}()

	reqs := s.waitFor("DidReceiveWrite", 1)[0].Requests
	s.Require().Len(reqs, 1)
	s.Equal([]byte("on"), reqs[0].Value)

	s.Require().NoError(s.server.Respond(reqs[0], bluetooth.ATTWriteNotPermitted))
	s.Equal(bluetooth.ATTWriteNotPermitted, <-done)
}

func (s *ServerTestSuite) TestSubscription_Lifecycle() {
	// GOAL: Verify subscribe, update and unsubscribe of one central
	//
	// TEST SCENARIO: Central subscribes → UpdateValue reaches it → notifier closes → DidUnsubscribeFrom

	lc := s.publish()
	n := newFakeNotifier(20)
	served := make(chan struct{})
	go func() {
		s.server.serveSubscription(lc, bluetooth.Central{Identifier: centralID}, n, false)
		close(served)
	}()

	sub := s.waitFor("DidSubscribeTo", 1)[0]
	s.Equal(centralID, sub.Central.Identifier)
	s.Equal(20, sub.Central.MaximumUpdateValueLength)
	s.Len(s.server.Subscribers("2A37"), 1)

	s.True(s.server.UpdateValue([]byte{72}, heartRate().Characteristics[0], nil))
	s.Equal([][]byte{{72}}, n.Sent())

	n.cancel()
	<-served
	s.waitFor("DidUnsubscribeFrom", 1)
	s.Empty(s.server.Subscribers("2A37"))
}

func (s *ServerTestSuite) TestUpdateValue_TargetsGivenCentrals() {
	// GOAL: Verify UpdateValue only reaches the listed centrals
	//
	// TEST SCENARIO: Two subscribers → update for one → only that one receives

	lc := s.publish()
	first, second := newFakeNotifier(20), newFakeNotifier(20)
	defer first.cancel()
	defer second.cancel()
	go s.server.serveSubscription(lc, bluetooth.Central{Identifier: "first"}, first, false)
	go s.server.serveSubscription(lc, bluetooth.Central{Identifier: "second"}, second, false)
	s.waitFor("DidSubscribeTo", 2)

	s.True(s.server.UpdateValue([]byte{1}, heartRate().Characteristics[0], []bluetooth.Central{{Identifier: "second"}}))
	s.Empty(first.Sent())
	s.Equal([][]byte{{1}}, second.Sent())
}

func (s *ServerTestSuite) TestUpdateValue_ReadyAfterFailure() {
	// GOAL: Verify a failed update is followed by IsReadyToUpdateSubscribers once an update succeeds
	//
	// TEST SCENARIO: Value larger than notifier capacity → false → small value → true + IsReadyToUpdateSubscribers

	lc := s.publish()
	n := newFakeNotifier(2)
	defer n.cancel()
	go s.server.serveSubscription(lc, bluetooth.Central{Identifier: centralID}, n, false)
	s.waitFor("DidSubscribeTo", 1)

	char := heartRate().Characteristics[0]
	s.False(s.server.UpdateValue([]byte{1, 2, 3}, char, nil), "oversized update MUST fail")
	s.Empty(s.recorder.Named("IsReadyToUpdateSubscribers"))

	s.True(s.server.UpdateValue([]byte{1, 2}, char, nil))
	s.waitFor("IsReadyToUpdateSubscribers", 1)

	s.True(s.server.UpdateValue([]byte{3}, char, nil))
	s.Len(s.recorder.Named("IsReadyToUpdateSubscribers"), 1, "readiness MUST only follow a failure")
}

func (s *ServerTestSuite) TestUpdateValue_SameCharacteristicInTwoServices() {
	// GOAL: Verify a characteristic UUID shared by two services keeps separate subscriptions
	//
	// TEST SCENARIO: 180D and FFF0 both publish 2A37 → one central subscribes to both → update targeting FFF0 reaches only its subscription

	lc := s.publish()
	other := heartRate()
	other.UUID = "FFF0"
	other.Characteristics = other.Characteristics[:1]
	s.server.AddService(other)
	s.Require().Nil(s.waitFor("DidAddService", 2)[1].Err)

	otherChar, ok := s.server.characteristic("FFF0", "2A37")
	s.Require().True(ok)
	s.Require().NotSame(lc, otherChar)

	hr, custom := newFakeNotifier(20), newFakeNotifier(20)
	defer hr.cancel()
	defer custom.cancel()
	go s.server.serveSubscription(lc, bluetooth.Central{Identifier: centralID}, hr, false)
	go s.server.serveSubscription(otherChar, bluetooth.Central{Identifier: centralID}, custom, false)
	s.waitFor("DidSubscribeTo", 2)
	s.Len(s.server.Subscribers("2A37"), 2, "subscriptions to both services MUST be kept")

	char := heartRate().Characteristics[0]
	char.ServiceUUID = "FFF0"
	s.True(s.server.UpdateValue([]byte{9}, char, nil))
	s.Empty(hr.Sent())
	s.Equal([][]byte{{9}}, custom.Sent())

	s.True(s.server.UpdateValue([]byte{7}, heartRate().Characteristics[0], nil))
	s.Equal([][]byte{{7}}, hr.Sent(), "without a service the first published one MUST be used")
}

func (s *ServerTestSuite) TestUpdateValue_UnknownCharacteristic() {
	// GOAL: Verify updating an unpublished characteristic fails while a published one without subscribers succeeds
	//
	// TEST SCENARIO: Unknown UUID → false; published UUID without subscribers → true

	s.publish()
	s.False(s.server.UpdateValue([]byte{1}, bluetooth.MutableCharacteristic{UUID: "FFFF"}, nil))
	s.True(s.server.UpdateValue([]byte{1}, heartRate().Characteristics[0], nil))
}

func (s *ServerTestSuite) TestAdvertising() {
	// GOAL: Verify advertising start, duplicate start and stop
	//
	// TEST SCENARIO: Start → true; start again → alreadyAdvertising; stop → false

	s.server.StartAdvertising(&bluetooth.AdvertisementData{LocalName: "bleflow", ServiceUUIDs: []bluetooth.UUID{"180d"}})
	started := s.waitFor("DidUpdateAdvertisingState", 1)[0]
	s.True(started.Advertising)
	s.Nil(started.Err)
	s.True(s.server.IsAdvertising())

	s.server.StartAdvertising(nil)
	again := s.waitFor("DidUpdateAdvertisingState", 2)[1]
	s.False(again.Advertising)
	s.Require().NotNil(again.Err)
	s.Equal(bluetooth.CodeAlreadyAdvertising, again.Err.Code)

	s.server.StopAdvertising()
	stopped := s.waitFor("DidUpdateAdvertisingState", 3)[2]
	s.False(stopped.Advertising)
	s.Nil(stopped.Err)
	s.False(s.server.IsAdvertising())

	s.platform.AssertCalled(s.T(), "Advertise", mock.Anything, "bleflow", mock.Anything)
}

func (s *ServerTestSuite) TestSetDesiredConnectionLatency() {
	// GOAL: Verify latency is validated and recorded per connected central
	//
	// TEST SCENARIO: Unknown central → unknownDevice; known central → recorded; invalid value → invalidParameters

	central := bluetooth.Central{Identifier: centralID}
	err := s.server.SetDesiredConnectionLatency(bluetooth.ConnectionLatencyLow, central)
	s.ErrorIs(err, bluetooth.ErrUnknownDevice)

	s.server.centrals.Set(centralID, central)
	s.Require().NoError(s.server.SetDesiredConnectionLatency(bluetooth.ConnectionLatencyHigh, central))
	latency, ok := s.server.Latency(centralID)
	s.True(ok)
	s.Equal(bluetooth.ConnectionLatencyHigh, latency)

	s.ErrorIs(s.server.SetDesiredConnectionLatency(bluetooth.ConnectionLatency(9), central), bluetooth.ErrInvalidParameters)
}

func (s *ServerTestSuite) TestL2CAP_NotSupported() {
	// GOAL: Verify L2CAP calls fail when the adapter cannot publish channels
	//
	// TEST SCENARIO: Publish and unpublish on plain server → operationNotSupported

	s.server.PublishL2CAPChannel(false)
	s.server.UnpublishL2CAPChannel(0x80)

	published := s.waitFor("DidPublishL2CAPChannel", 1)[0]
	s.Require().NotNil(published.Err)
	s.Equal(bluetooth.CodeOperationNotSupported, published.Err.Code)

	unpublished := s.waitFor("DidUnpublishL2CAPChannel", 1)[0]
	s.Require().NotNil(unpublished.Err)
	s.Equal(bluetooth.CodeOperationNotSupported, unpublished.Err.Code)
}

func (s *ServerTestSuite) TestL2CAP_Publish() {
	// GOAL: Verify accepted channels are reported when the adapter supports L2CAP
	//
	// TEST SCENARIO: Publish → psm reported → inbound connection → DidOpen with stream

	accept := make(chan platform.L2CAPConn, 1)
	srv := New(&l2capServer{MockServer: testutils.NewMockServer(), accept: accept}, bluetooth.ManagerStatePoweredOn, s.cfg, nil, s.recorder, s.logger)
	defer srv.Close()

	srv.PublishL2CAPChannel(true)
	published := s.waitFor("DidPublishL2CAPChannel", 1)[0]
	s.Nil(published.Err)
	s.Equal(uint16(0x80), published.PSM)

	stream, peer := net.Pipe()
	defer stream.Close()
	defer peer.Close()
	accept <- platform.L2CAPConn{PSM: 0x80, PeerID: centralID, Stream: stream}

	opened := s.waitFor("DidOpen", 1)[0]
	s.Require().NotNil(opened.Channel)
	s.Equal(centralID, opened.Channel.PeerID)
	s.Equal(stream, opened.Channel.Stream)
}

func (s *ServerTestSuite) TestRestoration() {
	// GOAL: Verify published services and advertising data survive a restart
	//
	// TEST SCENARIO: Restore id → publish + advertise → close → new server republishes and reports what was restored

	opts := &bluetooth.InitializationOptions{RestoreIdentifier: "bleflow-test"}
	first := New(testutils.NewMockServer(), bluetooth.ManagerStatePoweredOn, s.cfg, opts, s.recorder, s.logger)
	s.Nil(first.Restored(), "a first start MUST have nothing to restore")

	first.AddService(heartRate())
	first.StartAdvertising(&bluetooth.AdvertisementData{LocalName: "bleflow"})
	s.waitFor("DidUpdateAdvertisingState", 1)
	s.Require().NoError(first.Close())

	restoredPlatform := testutils.NewMockServer()
	second := New(restoredPlatform, bluetooth.ManagerStatePoweredOn, s.cfg, opts, s.recorder, s.logger)
	defer second.Close()

	restored := second.Restored()
	s.Require().NotNil(restored, "saved state MUST be restored")
	s.Equal([]bluetooth.UUID{"180d"}, restored.Services)
	s.Require().NotNil(restored.AdvertisementData)
	s.Equal("bleflow", restored.AdvertisementData.LocalName)

	restoredPlatform.AssertNumberOfCalls(s.T(), "AddService", 1)
	s.Len(second.Services(), 1)
	s.False(second.IsAdvertising(), "advertising MUST NOT restart on its own")
}

func (s *ServerTestSuite) TestUnavailableAdapter() {
	// GOAL: Verify a server without an adapter reports why every call fails
	//
	// TEST SCENARIO: nil platform with poweredOff → AddService, StartAdvertising and L2CAP calls fail with the state

	srv := New(nil, bluetooth.ManagerStatePoweredOff, s.cfg, nil, s.recorder, s.logger)
	defer srv.Close()
	s.Equal(bluetooth.ManagerStatePoweredOff, srv.State())

	srv.AddService(heartRate())
	added := s.waitFor("DidAddService", 1)[0]
	s.Require().NotNil(added.Err)
	s.Contains(added.Err.Error(), "poweredOff")

	srv.StartAdvertising(nil)
	adv := s.waitFor("DidUpdateAdvertisingState", 1)[0]
	s.False(adv.Advertising)
	s.NotNil(adv.Err)

	srv.PublishL2CAPChannel(false)
	published := s.waitFor("DidPublishL2CAPChannel", 1)[0]
	s.Require().NotNil(published.Err)
	s.Contains(published.Err.Error(), "poweredOff", "a missing adapter MUST NOT be reported as unsupported")
	s.NotErrorIs(published.Err, bluetooth.ErrOperationNotSupported)

	srv.UnpublishL2CAPChannel(0x80)
	unpublished := s.waitFor("DidUnpublishL2CAPChannel", 1)[0]
	s.Require().NotNil(unpublished.Err)
	s.Contains(unpublished.Err.Error(), "poweredOff")
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
