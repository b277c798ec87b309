//go:build test

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bleflow/internal/testutils"
)

type CommandsTestSuite struct {
	CommandTestSuite
}

func TestCommandsTestSuite(t *testing.T) {
	suite.Run(t, new(CommandsTestSuite))
}

func (s *CommandsTestSuite) TestScan_JSONSortedBySignal() {
	// GOAL: Verify scan reports every advertiser once, strongest first
	//
	// TEST SCENARIO: Two advertisers → scan for 300ms as JSON → HeartRate (-50) before Battery (-70)

	s.UsePeripheral(testutils.NewPeripheralBuilder().WithScanAdvertisements(
		testutils.CreateMockAdvertisement("Battery", "AA:AA:AA:AA:AA:01", -70, "180F"),
		testutils.CreateMockAdvertisement("HeartRate", "AA:AA:AA:AA:AA:02", -50, "180D"),
	))

	stdout, _, err := s.ExecuteCommand("scan", "--duration", "300ms", "--format", "json")
	s.Require().NoError(err, "scan ending on its duration MUST succeed")

	testutils.NewJSONAsserter(s.T()).Assert(stdout, `[
		{"advertisement": {"local_name": "HeartRate", "service_uuids": ["180d"], "is_connectable": true}, "rssi": -50},
		{"advertisement": {"local_name": "Battery", "service_uuids": ["180f"]}, "rssi": -70}
	]`)
}

func (s *CommandsTestSuite) TestScan_NameFilterTable() {
	s.UsePeripheral(testutils.NewPeripheralBuilder().WithScanAdvertisements(
		testutils.CreateMockAdvertisement("Battery", "AA:AA:AA:AA:AA:01", -70, "180F"),
		testutils.CreateMockAdvertisement("HeartRate", "AA:AA:AA:AA:AA:02", -50, "180D"),
	))

	stdout, _, err := s.ExecuteCommand("scan", "-d", "300ms", "--name", "batt")
	s.Require().NoError(err)
	s.Contains(stdout, "NAME", "table MUST have a header")
	s.Contains(stdout, "Battery")
	s.NotContains(stdout, "HeartRate", "name filter MUST drop other advertisers")
}

func (s *CommandsTestSuite) TestScan_NothingFound() {
	s.UsePeripheral(testutils.NewPeripheralBuilder())

	stdout, _, err := s.ExecuteCommand("scan", "-d", "200ms")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(stdout, "No peripherals discovered\n")
}

func (s *CommandsTestSuite) TestScan_InvalidService() {
	_, _, err := s.ExecuteCommand("scan", "-d", "200ms", "--services", "not-a-uuid")
	s.ErrorContains(err, "invalid service UUID")
}

func (s *CommandsTestSuite) TestRead_RepeatedRuns() {
	// GOAL: Verify a command can run again after an earlier run's context ended
	//
	// TEST SCENARIO: read 2a19 → read 2a19 again → both succeed with the same output

	first, _, err := s.ExecuteCommand("read", TestDeviceAddress, "2a19", "--hex")
	s.Require().NoError(err)

	second, _, err := s.ExecuteCommand("read", TestDeviceAddress, "2a19", "--hex")
	s.Require().NoError(err, "second run MUST NOT inherit the first run's canceled context")
	s.Equal(first, second)
	s.Equal("32\n", second)
}

func (s *CommandsTestSuite) TestRead_Table() {
	// GOAL: Verify read connects, resolves the characteristic and prints its value
	//
	// TEST SCENARIO: read 2a19 → table with service, attribute and hex/text value

	stdout, _, err := s.ExecuteCommand("read", TestDeviceAddress, "2A19")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(stdout, `
SERVICE  ATTRIBUTE  VALUE
180f     2a19       32 ("2")
`[1:])
	s.Peripheral.Client.AssertCalled(s.T(), "ReadCharacteristic", s.Peripheral.Characteristic("2a19"))
}

func (s *CommandsTestSuite) TestRead_HexAndJSON() {
	stdout, _, err := s.ExecuteCommand("read", TestDeviceAddress, "ffe1", "--hex")
	s.Require().NoError(err)
	s.Equal("6869\n", stdout, "--hex MUST print only the value")

	resetFlags()
	stdout, _, err = s.ExecuteCommand("read", TestDeviceAddress, "2a19", "--service", "180f", "-f", "json")
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(stdout, `[{"service": "180f", "characteristic": "2a19", "value": "Mg=="}]`)
}

func (s *CommandsTestSuite) TestRead_Descriptor() {
	stdout, _, err := s.ExecuteCommand("read", TestDeviceAddress, "2a19", "--desc", "2902")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(stdout, `
SERVICE  ATTRIBUTE  VALUE
180f     2a19/2902  0000
`[1:])
}

func (s *CommandsTestSuite) TestRead_UnknownCharacteristic() {
	_, _, err := s.ExecuteCommand("read", TestDeviceAddress, "2a37")
	s.ErrorIs(err, ErrNotFound, "unknown characteristic MUST report not found")
}

func (s *CommandsTestSuite) TestRead_DialFails() {
	s.UsePeripheral(testutils.NewPeripheralBuilder().WithDialError(errors.New("dial failed")))

	_, _, err := s.ExecuteCommand("read", TestDeviceAddress, "2a19", "--timeout", "2s")
	s.Error(err, "failed connection MUST fail the command")
}

func (s *CommandsTestSuite) TestWrite_WithResponse() {
	// GOAL: Verify write sends the data with a write request and confirms it
	//
	// TEST SCENARIO: write ffe1 "hello" → WriteCharacteristic(noRsp=false) → confirmation line

	stdout, _, err := s.ExecuteCommand("write", TestDeviceAddress, "ffe1", "hello")
	s.Require().NoError(err)

	s.Equal("Wrote 5 bytes to ffe1\n", stdout)
	s.Peripheral.Client.AssertCalled(s.T(), "WriteCharacteristic", s.Peripheral.Characteristic("ffe1"), []byte("hello"), false)
}

func (s *CommandsTestSuite) TestWrite_WithoutResponseHex() {
	stdout, _, err := s.ExecuteCommand("write", TestDeviceAddress, "ffe1", "01:02", "--hex", "--no-response", "-f", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(stdout, `{"written": 2}`)
	s.Peripheral.Client.AssertCalled(s.T(), "WriteCharacteristic", s.Peripheral.Characteristic("ffe1"), []byte{0x01, 0x02}, true)
}

func (s *CommandsTestSuite) TestWrite_ReadOnlyCharacteristic() {
	_, _, err := s.ExecuteCommand("write", TestDeviceAddress, "2a19", "x")
	s.ErrorContains(err, "not writable")
	s.Peripheral.Client.AssertNotCalled(s.T(), "WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything)
}

func (s *CommandsTestSuite) TestSubscribe_StopsAfterCount() {
	// GOAL: Verify subscribe prints each notification and stops after --count values
	//
	// TEST SCENARIO: subscribe 2a19 -n 2 as JSON → two notifications → two JSON lines → exit

	char := s.Peripheral.Characteristic("2a19")
	notified := make(chan struct{})
	go func() {
		defer close(notified)
		s.Eventually(func() bool {
			return s.Peripheral.Client.Notify(char, []byte("3"))
		}, 3*time.Second, 10*time.Millisecond, "subscription MUST be established")
		s.Peripheral.Client.Notify(char, []byte("4"))
	}()

	stdout, _, err := s.ExecuteCommand("subscribe", TestDeviceAddress, "2a19", "-n", "2", "-f", "json")
	<-notified
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).AssertLines(stdout, `[
		{"service": "180f", "characteristic": "2a19", "value": "Mw==", "received": "<<ANY>>"},
		{"service": "180f", "characteristic": "2a19", "value": "NA==", "received": "<<ANY>>"}
	]`)
	s.Peripheral.Client.AssertCalled(s.T(), "Subscribe", char, false, mock.Anything)
}

func (s *CommandsTestSuite) TestSubscribe_Duration() {
	stdout, _, err := s.ExecuteCommand("subscribe", TestDeviceAddress, "2a19", "-d", "300ms")
	s.Require().NoError(err, "subscribe ending on its duration MUST succeed")
	s.Contains(stdout, "subscribed 2a19")
}

func (s *CommandsTestSuite) TestSubscribe_NotNotifiable() {
	s.UsePeripheral(testutils.NewPeripheralBuilder().
		WithService("180A").
		WithCharacteristic("2A29", "read", []byte("ACME")))

	_, _, err := s.ExecuteCommand("subscribe", TestDeviceAddress, "2a29", "-d", "2s")
	s.ErrorContains(err, "notif")
}

func (s *CommandsTestSuite) TestInspect_JSON() {
	// GOAL: Verify inspect discovers the whole database and reads values on request
	//
	// TEST SCENARIO: inspect --read as JSON → both services with characteristic values

	stdout, _, err := s.ExecuteCommand("inspect", TestDeviceAddress, "--read", "-f", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(stdout, `{
		"services": [
			{"uuid": "180f", "characteristics": [{"uuid": "2a19", "value": "Mg==", "descriptors": [{"uuid": "2902"}]}]},
			{"uuid": "ffe0", "characteristics": [{"uuid": "ffe1", "value": "aGk="}]}
		]
	}`)
}

func (s *CommandsTestSuite) TestInspect_Tree() {
	stdout, _, err := s.ExecuteCommand("inspect", TestDeviceAddress)
	s.Require().NoError(err)
	s.Contains(stdout, "service 180f")
	s.Contains(stdout, "characteristic 2a19")
	s.Contains(stdout, "[read,notify]")
	s.Contains(stdout, "descriptor 2902")
	s.NotContains(stdout, "value ", "values MUST only be shown with --read")
}

func (s *CommandsTestSuite) TestAdvertise_FromFlags() {
	// GOAL: Verify advertise publishes the service and starts advertising
	//
	// TEST SCENARIO: --service 180f --char 2a19 for 300ms → AddService → Advertise("demo") → clean exit

	stdout, _, err := s.ExecuteCommand("advertise", "--name", "demo", "--service", "180f", "--char", "2a19",
		"--value", "32", "--hex", "-d", "300ms")
	s.Require().NoError(err, "advertise ending on its duration MUST succeed")

	s.Contains(stdout, "published service 180f")
	s.Contains(stdout, `advertising as "demo"`)
	s.Server.AssertCalled(s.T(), "AddService", mock.MatchedBy(func(svc *ble.Service) bool {
		return len(svc.Characteristics) == 1
	}))
	s.Server.AssertCalled(s.T(), "Advertise", mock.Anything, "demo", mock.Anything)
}

func (s *CommandsTestSuite) TestAdvertise_FromProfile() {
	path := filepath.Join(s.T().TempDir(), "profile.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(`
- uuid: "180a"
  is_primary: true
  characteristics:
    - uuid: "2a29"
      properties: read
      permissions: 1
      value: [65, 67, 77, 69]
`), 0o600))

	stdout, _, err := s.ExecuteCommand("advertise", "--profile", path, "-d", "300ms")
	s.Require().NoError(err)
	s.Contains(stdout, "published service 180a")
	s.Server.AssertCalled(s.T(), "Advertise", mock.Anything, "bleflow", mock.Anything)
}

func (s *CommandsTestSuite) TestAdvertise_ConflictingSources() {
	_, _, err := s.ExecuteCommand("advertise", "--profile", "x.yaml", "--service", "180f")
	s.ErrorContains(err, "either --profile or --service")
	s.Server.AssertNotCalled(s.T(), "Advertise", mock.Anything, mock.Anything, mock.Anything)
}

func (s *CommandsTestSuite) TestInvalidFormat() {
	_, _, err := s.ExecuteCommand("read", TestDeviceAddress, "2a19", "-f", "xml")
	s.Error(err, "unknown output format MUST be rejected")
}
