//go:build !darwin && !linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/bleflow/internal/platform"
)

func newCentralDevice() (ble.Device, error) {
	return nil, platform.ErrUnsupported
}

func newServerDevice() (ble.Device, error) {
	return nil, platform.ErrUnsupported
}
