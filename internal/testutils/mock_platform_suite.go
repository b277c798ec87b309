//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bleflow/pkg/config"
)

// MockPlatformSuite provides a reusable test suite with a mocked BLE platform.
//
// The suite builds a MockPeripheral before each test from PeripheralBuilder
// (a battery service by default) and records delegate callbacks.
//
// Custom profile usage:
//
//	type InspectSuite struct {
//	    testutils.MockPlatformSuite
//	}
//
//	func (s *InspectSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{80})
//
//	    s.MockPlatformSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockPlatformSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	TestTimeout time.Duration
	Config      config.CentralConfig

	PeripheralBuilder *PeripheralBuilder
	Peripheral        *MockPeripheral
	Recorder          *DelegateRecorder
}

// SetupSuite runs once before all tests in the suite.
func (s *MockPlatformSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
	s.Logger.Debug("Suite setup completed")
}

// SetupTest builds the configured peripheral before each test.
func (s *MockPlatformSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = createDefaultPeripheralBuilder()
	}
	s.Peripheral = s.PeripheralBuilder.Build()
	s.Recorder = NewDelegateRecorder()
	s.Config = TestCentralConfig(s.T())

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest resets the peripheral builder after each test.
func (s *MockPlatformSuite) TearDownTest() {
	s.PeripheralBuilder = nil
	s.Peripheral = nil
}

// WithPeripheral returns the peripheral builder for fluent configuration.
func (s *MockPlatformSuite) WithPeripheral() *PeripheralBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralBuilder()
	}
	return s.PeripheralBuilder
}

// WaitFor waits for count delegate events named name and fails the test on timeout.
func (s *MockPlatformSuite) WaitFor(name string, count int) []DelegateEvent {
	events, ok := s.Recorder.WaitFor(name, count, s.TestTimeout)
	s.Require().True(ok, "MUST receive %d %s event(s), got %d; recorded: %v", count, name, len(events), s.Recorder.Names())
	return events
}

// createDefaultPeripheralBuilder creates a peripheral with Battery Service (180F)
// and Battery Level characteristic (2A19) set to 50%.
func createDefaultPeripheralBuilder() *PeripheralBuilder {
	return NewPeripheralBuilder().
		FromJSON(`
		{
			"name": "Battery",
			"services": [
				{
					"uuid": "180F",
					"characteristics": [
						{ "uuid": "2A19", "properties": "read,notify", "value": [50] }
					]
				}
			]
		}`)
}
