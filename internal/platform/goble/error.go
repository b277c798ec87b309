package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/pkg/bluetooth"
)

// NormalizeError maps go-ble errors onto the module's error model.
//
// Adapter availability problems are wrapped with the platform sentinels so
// callers can turn them into a manager state. ATT error responses and the
// link-level failures go-ble reports as plain strings become known
// *bluetooth.Error values. Anything else is returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var attErr ble.ATTError
	if errors.As(err, &attErr) {
		return bluetooth.NewATTError(bluetooth.ATTErrorCode(attErr))
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", platform.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"), containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", platform.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "have=2"), containsIgnoreCase(msg, "unsupported"):
		return fmt.Errorf("%w: %v", platform.ErrUnsupported, err)
	case containsIgnoreCase(msg, "have=3"), containsIgnoreCase(msg, "unauthorized"):
		return fmt.Errorf("%w: %v", platform.ErrUnauthorized, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "not connected"):
		return bluetooth.NewKnownError(bluetooth.CodeNotConnected, "%s", msg)
	case containsIgnoreCase(msg, "disconnected"):
		return bluetooth.NewKnownError(bluetooth.CodePeripheralDisconnected, "%s", msg)
	case containsIgnoreCase(msg, "already connected"):
		return bluetooth.NewKnownError(bluetooth.CodeConnectionLimitReached, "%s", msg)
	case containsIgnoreCase(msg, "already advertising"):
		return bluetooth.NewKnownError(bluetooth.CodeAlreadyAdvertising, "%s", msg)
	case containsIgnoreCase(msg, "can't dial"), containsIgnoreCase(msg, "failed to connect"):
		return bluetooth.NewKnownError(bluetooth.CodeConnectionFailed, "%s", msg)
	case containsIgnoreCase(msg, "not implemented"), containsIgnoreCase(msg, "not supported"):
		return bluetooth.NewKnownError(bluetooth.CodeOperationNotSupported, "%s", msg)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
