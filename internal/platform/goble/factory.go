// Package goble implements the platform interfaces over go-ble. Attribute
// values, UUIDs and errors are converted at this boundary.
package goble

import (
	"github.com/go-ble/ble"
)

// CentralDeviceFactory creates the ble.Device used for the central role (can be overridden in tests).
//
//nolint:revive // exported for test substitution
var CentralDeviceFactory = func() (ble.Device, error) {
	return newCentralDevice()
}

// ServerDeviceFactory creates the ble.Device used for the peripheral role (can be overridden in tests).
//
//nolint:revive // exported for test substitution
var ServerDeviceFactory = func() (ble.Device, error) {
	return newServerDevice()
}
