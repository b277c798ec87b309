//go:build test

package central_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/internal/testutils"
	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/central"
)

const peripheralID = "AA:BB:CC:DD:EE:FF"

// LiveTestSuite drives the live client over the mocked platform.
type LiveTestSuite struct {
	testutils.MockPlatformSuite

	originalFactory func(*logrus.Logger) (platform.Central, error)
	client          *central.Live
	actions         <-chan central.Action
	cancel          context.CancelFunc
}

func (s *LiveTestSuite) SetupSuite() {
	s.MockPlatformSuite.SetupSuite()
	s.originalFactory = central.PlatformFactory
}

func (s *LiveTestSuite) TearDownSuite() {
	central.PlatformFactory = s.originalFactory
}

func (s *LiveTestSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.client != nil {
		s.NoError(s.client.Close())
		s.client = nil
	}
	s.MockPlatformSuite.TearDownTest()
}

// start opens a live client over the mocked central and subscribes to its delegate.
// It returns once the subscription delivered its opening DidUpdateState, so
// actions caused afterwards are never missed.
func (s *LiveTestSuite) start() central.DidUpdateState {
	central.PlatformFactory = func(*logrus.Logger) (platform.Central, error) {
		return s.Peripheral.Central, nil
	}

	client, err := central.NewLive(s.Config, nil, s.Logger)
	s.Require().NoError(err)
	s.client = client

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.actions = client.Delegate().Stream(ctx)

	return s.next(func(a central.Action) bool { _, ok := a.(central.DidUpdateState); return ok }).(central.DidUpdateState)
}

// next returns the first action for which match returns true.
func (s *LiveTestSuite) next(match func(central.Action) bool) central.Action {
	timeout := time.After(s.TestTimeout)
	for {
		select {
		case a, ok := <-s.actions:
			s.Require().True(ok, "delegate stream MUST stay open")
			if match(a) {
				return a
			}
		case <-timeout:
			s.FailNow("timed out waiting for action")
			return nil
		}
	}
}

// nextFor returns the first peripheral action of type T.
func nextFor[T central.PeripheralAction](s *LiveTestSuite) T {
	a := s.next(func(a central.Action) bool {
		ev, ok := a.(central.PeripheralEvent)
		if !ok {
			return false
		}
		_, ok = ev.Action.(T)
		return ok
	})
	return a.(central.PeripheralEvent).Action.(T)
}

// nextCharacteristic returns the first characteristic action of type T.
func nextCharacteristic[T central.CharacteristicAction](s *LiveTestSuite) T {
	a := s.next(func(a central.Action) bool {
		ev, ok := a.(central.PeripheralEvent)
		if !ok {
			return false
		}
		ce, ok := ev.Action.(central.CharacteristicEvent)
		if !ok {
			return false
		}
		_, ok = ce.Action.(T)
		return ok
	})
	return a.(central.PeripheralEvent).Action.(central.CharacteristicEvent).Action.(T)
}

func (s *LiveTestSuite) TestDelegate_StartsWithState() {
	// GOAL: Verify the delegate stream opens with the current manager state
	//
	// TEST SCENARIO: Powered adapter → first action is DidUpdateState(poweredOn)

	first := s.start()
	s.Equal(central.DidUpdateState{State: bluetooth.ManagerStatePoweredOn}, first)
	s.Equal(bluetooth.ManagerStatePoweredOn, s.client.State())
}

func (s *LiveTestSuite) TestConnectDiscoverRead() {
	// GOAL: Verify connect, discovery and read results arrive as nested actions
	//
	// TEST SCENARIO: Connect → DidConnect → discover services and characteristics → read battery level → DidUpdateValue [50]

	s.start()

	target := bluetooth.Peripheral{Identifier: peripheralID}
	s.client.Connect(target, nil).Execute(context.Background(), nil)
	connected := nextFor[central.DidConnect](s)
	s.Equal(bluetooth.PeripheralStateConnected, connected.Peripheral.State)
	s.Equal("Battery", connected.Peripheral.Name)

	p, ok := s.client.Peripheral(peripheralID)
	s.Require().True(ok, "connected peripheral MUST have an environment")

	p.DiscoverServices(nil).Execute(context.Background(), nil)
	discovered := nextFor[central.DidDiscoverServices](s)
	s.Require().Nil(discovered.Err)
	s.Require().Len(discovered.Peripheral.Services, 1)

	svc := discovered.Peripheral.Services[0]
	p.DiscoverCharacteristics(nil, svc).Execute(context.Background(), nil)
	chars := s.next(func(a central.Action) bool {
		ev, ok := a.(central.PeripheralEvent)
		if !ok {
			return false
		}
		se, ok := ev.Action.(central.ServiceEvent)
		return ok && se.UUID == svc.UUID
	}).(central.PeripheralEvent).Action.(central.ServiceEvent).Action.(central.DidDiscoverCharacteristics)
	s.Require().Nil(chars.Err)
	s.Require().Len(chars.Service.Characteristics, 1)

	p.ReadCharacteristic(chars.Service.Characteristics[0]).Execute(context.Background(), nil)
	read := nextCharacteristic[central.DidUpdateValue](s)
	s.Nil(read.Err)
	s.Equal([]byte{50}, read.Characteristic.Value)

	s.Equal([]bluetooth.Peripheral{p.Snapshot()}, s.client.RetrieveConnectedPeripherals(nil))
}

func (s *LiveTestSuite) TestCancelConnection() {
	// GOAL: Verify a requested disconnect is reported without an error
	//
	// TEST SCENARIO: Connect → cancel → DidDisconnect with nil Err

	s.start()

	target := bluetooth.Peripheral{Identifier: peripheralID}
	s.client.Connect(target, nil).Execute(context.Background(), nil)
	nextFor[central.DidConnect](s)

	s.client.CancelConnection(target).Execute(context.Background(), nil)
	disconnected := nextFor[central.DidDisconnect](s)
	s.Nil(disconnected.Err, "requested disconnect MUST NOT carry an error")
}

func (s *LiveTestSuite) TestScan() {
	// GOAL: Verify scanning reports its state and discovered peripherals
	//
	// TEST SCENARIO: One advertisement → DidUpdateScanningState(true) → DidDiscover → stop → DidUpdateScanningState(false)

	s.PeripheralBuilder = testutils.CreateMockPeripheral().
		WithScanAdvertisements(testutils.CreateMockAdvertisement("Thermo", peripheralID, -48, "181A"))
	s.Peripheral = s.PeripheralBuilder.Build()
	s.start()

	s.client.ScanForPeripherals(nil, nil).Execute(context.Background(), nil)
	s.Equal(central.DidUpdateScanningState{Scanning: true},
		s.next(func(a central.Action) bool { _, ok := a.(central.DidUpdateScanningState); return ok }))

	found := s.next(func(a central.Action) bool { _, ok := a.(central.DidDiscover); return ok }).(central.DidDiscover)
	s.Equal(peripheralID, found.Peripheral.Identifier)
	s.Equal("Thermo", found.Advertisement.LocalName)
	s.Equal(-48, found.RSSI)

	s.client.StopScan().Execute(context.Background(), nil)
	s.Equal(central.DidUpdateScanningState{Scanning: false},
		s.next(func(a central.Action) bool { _, ok := a.(central.DidUpdateScanningState); return ok }))
}

func (s *LiveTestSuite) TestOpenWriter() {
	// GOAL: Verify OpenWriter sends its bytes to the characteristic
	//
	// TEST SCENARIO: Connected, discovered peripheral → write "hello" → close → platform write with "hello"

	s.start()

	s.client.Connect(bluetooth.Peripheral{Identifier: peripheralID}, nil).Execute(context.Background(), nil)
	nextFor[central.DidConnect](s)
	p, _ := s.client.Peripheral(peripheralID)

	p.DiscoverServices(nil).Execute(context.Background(), nil)
	svc := nextFor[central.DidDiscoverServices](s).Peripheral.Services[0]
	p.DiscoverCharacteristics(nil, svc).Execute(context.Background(), nil)
	nextFor[central.ServiceEvent](s)

	char := bluetooth.Characteristic{UUID: "2a19", ServiceUUID: "180f"}
	w := p.OpenWriter(char, bluetooth.WriteWithResponse)
	_, err := w.Write([]byte("hello"))
	s.Require().NoError(err)
	s.Require().NoError(w.Close())

	s.Peripheral.Client.AssertCalled(s.T(), "WriteCharacteristic", s.Peripheral.Characteristic("2A19"), []byte("hello"), false)
}

func (s *LiveTestSuite) TestBluetoothOff() {
	// GOAL: Verify an adapter that is off yields a client reporting poweredOff instead of an error
	//
	// TEST SCENARIO: Factory fails with ErrBluetoothOff → state poweredOff → Connect → DidFailToConnect

	central.PlatformFactory = func(*logrus.Logger) (platform.Central, error) {
		return nil, fmt.Errorf("failed to create BLE device: %w", platform.ErrBluetoothOff)
	}
	client, err := central.NewLive(s.Config, nil, s.Logger)
	s.Require().NoError(err, "bluetooth being off MUST NOT fail construction")
	s.client = client

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.actions = client.Delegate().Stream(ctx)

	s.Equal(central.DidUpdateState{State: bluetooth.ManagerStatePoweredOff}, s.next(func(central.Action) bool { return true }))

	client.Connect(bluetooth.Peripheral{Identifier: peripheralID}, nil).Execute(context.Background(), nil)
	failed := nextFor[central.DidFailToConnect](s)
	s.NotNil(failed.Err)
}

func (s *LiveTestSuite) TestFactoryError() {
	// GOAL: Verify an unexpected adapter failure is returned
	//
	// TEST SCENARIO: Factory fails with an unknown error → NewLive returns it

	central.PlatformFactory = func(*logrus.Logger) (platform.Central, error) {
		return nil, errors.New("hci0: device busy")
	}
	_, err := central.NewLive(s.Config, nil, s.Logger)
	s.Require().Error(err)
	s.Contains(err.Error(), "device busy")
}

func TestLiveTestSuite(t *testing.T) {
	suite.Run(t, new(LiveTestSuite))
}
