//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

func newCentralDevice() (ble.Device, error) {
	return darwin.NewDevice(darwin.OptCentralRole())
}

func newServerDevice() (ble.Device, error) {
	return darwin.NewDevice(darwin.OptPeripheralRole())
}
