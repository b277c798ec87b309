//go:build linux

package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

const hciTimeout = 20 * time.Second

func newCentralDevice() (ble.Device, error) {
	return linux.NewDevice(ble.OptListenerTimeout(hciTimeout), ble.OptDialerTimeout(hciTimeout))
}

func newServerDevice() (ble.Device, error) {
	return linux.NewDevice(ble.OptListenerTimeout(hciTimeout))
}
