package goble

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/pkg/bluetooth"
)

// central adapts a go-ble device to platform.Central.
type central struct {
	dev    ble.Device
	logger *logrus.Logger
}

// NewCentral opens the local adapter in the central role.
// Adapter availability failures are returned wrapped with the platform sentinels.
func NewCentral(logger *logrus.Logger) (platform.Central, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := CentralDeviceFactory()
	if err != nil {
		logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return &central{dev: dev, logger: logger}, nil
}

// State reports poweredOn: go-ble only hands out a device once the adapter is usable.
func (c *central) State() bluetooth.ManagerState {
	return bluetooth.ManagerStatePoweredOn
}

func (c *central) Authorization() bluetooth.Authorization {
	return bluetooth.AuthorizationAllowedAlways
}

func (c *central) Scan(ctx context.Context, allowDuplicates bool, h func(platform.Advertisement)) error {
	err := c.dev.Scan(ctx, allowDuplicates, func(a ble.Advertisement) {
		h(convertAdvertisement(a))
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return nil
}

func (c *central) Dial(ctx context.Context, address string) (platform.Client, error) {
	c.logger.WithField("address", address).Debug("Dialing BLE device...")

	cln, err := c.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NormalizeError(err)
	}
	return &client{cln: cln}, nil
}

func (c *central) Stop() error {
	return NormalizeError(c.dev.Stop())
}
