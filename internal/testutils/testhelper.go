//go:build test

package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/config"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// TestCentralConfig returns central settings with short timeouts for tests.
func TestCentralConfig(t *testing.T) config.CentralConfig {
	cfg := config.DefaultConfig().Central
	cfg.ConnectTimeout = 2 * time.Second
	cfg.OperationTimeout = 2 * time.Second
	cfg.RestoreDir = t.TempDir()
	return cfg
}

// CreateMockAdvertisement builds an advertisement report for scan mocks.
func CreateMockAdvertisement(name, address string, rssi int, services ...string) platform.Advertisement {
	connectable := true
	adv := platform.Advertisement{
		Address: address,
		RSSI:    rssi,
		Data: bluetooth.AdvertisementData{
			LocalName:     name,
			IsConnectable: &connectable,
		},
	}
	for _, s := range services {
		adv.Data.ServiceUUIDs = append(adv.Data.ServiceUUIDs, bluetooth.MustParseUUID(s))
	}
	return adv
}

func CreateMockPeripheral() *PeripheralBuilder {
	return NewPeripheralBuilder()
}

func CreateMockPeripheralFromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(jsonStrFmt, args...)
}
