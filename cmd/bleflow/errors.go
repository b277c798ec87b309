package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/bleflow/pkg/bluetooth"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the peripheral disconnected before the command finished.
	ErrConnectionLost = errors.New("connection lost")
	// ErrNotFound indicates the requested attribute is not in the discovered database.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguous indicates a UUID matched attributes in several services.
	ErrAmbiguous = errors.New("ambiguous UUID")
)

// FormatUserError turns errors into a single line a user can act on.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "operation timed out"
	}

	var bleErr *bluetooth.Error
	if errors.As(err, &bleErr) {
		switch {
		case bleErr.Code == bluetooth.CodeATT:
			return fmt.Sprintf("device rejected the request: %s", bleErr.ATT)
		case bleErr.Code == bluetooth.CodeConnectionTimeout:
			return "device did not respond in time; make sure it is powered on and in range"
		case bleErr.Code == bluetooth.CodeConnectionFailed:
			return "failed to connect to device; make sure it is advertising and connectable"
		case bleErr.Code == bluetooth.CodePeripheralDisconnected:
			return "device disconnected"
		case bleErr.Code == bluetooth.CodeUnknownDevice:
			return "unknown device; scan for it first"
		}
	}
	return err.Error()
}
