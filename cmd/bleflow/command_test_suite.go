//go:build test

package main

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/internal/testutils"
	"github.com/srg/bleflow/pkg/central"
	"github.com/srg/bleflow/pkg/peripheral"
)

// TestDeviceAddress identifies the mocked peripheral.
const TestDeviceAddress = "00:00:00:00:00:01"

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs bleflow commands against a mocked adapter.
// All cmd/bleflow suites embed it.
type CommandTestSuite struct {
	testutils.MockPlatformSuite

	Server *testutils.MockServer

	originalCentral    func(*logrus.Logger) (platform.Central, error)
	originalPeripheral func(*logrus.Logger) (platform.Server, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.MockPlatformSuite.SetupSuite()
	s.originalCentral = central.PlatformFactory
	s.originalPeripheral = peripheral.PlatformFactory
}

func (s *CommandTestSuite) TearDownSuite() {
	central.PlatformFactory = s.originalCentral
	peripheral.PlatformFactory = s.originalPeripheral
}

// SetupTest exposes a battery service and a writable vendor service unless the
// embedding suite configured a profile.
func (s *CommandTestSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = testutils.NewPeripheralBuilder().
			WithName("Battery").
			WithService("180F").
			WithCharacteristic("2A19", "read,notify", []byte{50}).
			WithService("FFE0").
			WithCharacteristic("FFE1", "read,write,write-without-response,notify", []byte("hi"))
	}
	s.MockPlatformSuite.SetupTest()
	s.Server = testutils.NewMockServer()

	central.PlatformFactory = func(*logrus.Logger) (platform.Central, error) {
		return s.Peripheral.Central, nil
	}
	peripheral.PlatformFactory = func(*logrus.Logger) (platform.Server, error) {
		return s.Server, nil
	}
	resetFlags()
}

// UsePeripheral replaces the mocked peripheral for the current test.
func (s *CommandTestSuite) UsePeripheral(b *testutils.PeripheralBuilder) {
	s.PeripheralBuilder = b
	s.Peripheral = b.Build()
}

// ExecuteCommand runs bleflow with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	var stdout, stderr syncBuffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	clearContexts(rootCmd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// clearContexts drops the contexts cobra stored on cmd and its subcommands
// during a previous Execute, so the next run inherits the new root context.
func clearContexts(cmd *cobra.Command) {
	cmd.SetContext(nil)
	for _, sub := range cmd.Commands() {
		clearContexts(sub)
	}
}

// resetFlags restores every flag variable to its default.
func resetFlags() {
	for _, name := range []string{"config", "log-level", "format"} {
		_ = rootCmd.PersistentFlags().Set(name, "")
	}
	_ = rootCmd.PersistentFlags().Set("trace", "false")

	scanDuration = 10 * time.Second
	scanServices = nil
	scanName = ""
	scanAllowDuplicates = false
	scanWatch = false

	inspectRead = false
	inspectTimeout = 60 * time.Second

	readAttribute = attributeFlags{}
	readHex = false
	readTimeout = 30 * time.Second

	writeAttribute = attributeFlags{}
	writeHex = false
	writeNoResponse = false
	writeTimeout = 30 * time.Second

	subscribeAttribute = attributeFlags{}
	subscribeCount = 0
	subscribeDuration = 0

	advertiseName = "bleflow"
	advertiseProfile = ""
	advertiseService = ""
	advertiseChars = nil
	advertiseValue = ""
	advertiseHex = false
	advertiseL2CAP = false
	advertiseRestore = ""
	advertiseDuration = 0
}
