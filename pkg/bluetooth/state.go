package bluetooth

import "fmt"

// ManagerState is the power/availability state of the local Bluetooth adapter.
type ManagerState int

const (
	ManagerStateUnknown ManagerState = iota
	ManagerStateResetting
	ManagerStateUnsupported
	ManagerStateUnauthorized
	ManagerStatePoweredOff
	ManagerStatePoweredOn
)

var managerStateNames = [...]string{
	ManagerStateUnknown:      "unknown",
	ManagerStateResetting:    "resetting",
	ManagerStateUnsupported:  "unsupported",
	ManagerStateUnauthorized: "unauthorized",
	ManagerStatePoweredOff:   "poweredOff",
	ManagerStatePoweredOn:    "poweredOn",
}

func (s ManagerState) String() string {
	if s < 0 || int(s) >= len(managerStateNames) {
		return fmt.Sprintf("ManagerState(%d)", int(s))
	}
	return managerStateNames[s]
}

func (s ManagerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PeripheralState is the link state of a remote peripheral.
type PeripheralState int

const (
	PeripheralStateDisconnected PeripheralState = iota
	PeripheralStateConnecting
	PeripheralStateConnected
	PeripheralStateDisconnecting
)

func (s PeripheralState) String() string {
	switch s {
	case PeripheralStateDisconnected:
		return "disconnected"
	case PeripheralStateConnecting:
		return "connecting"
	case PeripheralStateConnected:
		return "connected"
	case PeripheralStateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("PeripheralState(%d)", int(s))
	}
}

func (s PeripheralState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Authorization is the application's permission to use Bluetooth.
type Authorization int

const (
	AuthorizationNotDetermined Authorization = iota
	AuthorizationRestricted
	AuthorizationDenied
	AuthorizationAllowedAlways
)

func (a Authorization) String() string {
	switch a {
	case AuthorizationNotDetermined:
		return "notDetermined"
	case AuthorizationRestricted:
		return "restricted"
	case AuthorizationDenied:
		return "denied"
	case AuthorizationAllowedAlways:
		return "allowedAlways"
	default:
		return fmt.Sprintf("Authorization(%d)", int(a))
	}
}

// WriteType selects between acknowledged and unacknowledged characteristic writes.
type WriteType int

const (
	WriteWithResponse WriteType = iota
	WriteWithoutResponse
)

func (w WriteType) String() string {
	if w == WriteWithoutResponse {
		return "withoutResponse"
	}
	return "withResponse"
}

// ConnectionLatency is the desired connection interval class for a central.
type ConnectionLatency int

const (
	ConnectionLatencyLow ConnectionLatency = iota
	ConnectionLatencyMedium
	ConnectionLatencyHigh
)

func (l ConnectionLatency) String() string {
	switch l {
	case ConnectionLatencyLow:
		return "low"
	case ConnectionLatencyMedium:
		return "medium"
	case ConnectionLatencyHigh:
		return "high"
	default:
		return fmt.Sprintf("ConnectionLatency(%d)", int(l))
	}
}

// ConnectionEvent is delivered to observers registered for connection events.
type ConnectionEvent int

const (
	ConnectionEventPeerDisconnected ConnectionEvent = iota
	ConnectionEventPeerConnected
)

func (e ConnectionEvent) String() string {
	if e == ConnectionEventPeerConnected {
		return "peerConnected"
	}
	return "peerDisconnected"
}

// Feature is an optional capability of the local adapter.
type Feature int

const (
	FeatureExtendedScanAndConnect Feature = iota
)

func (f Feature) String() string {
	if f == FeatureExtendedScanAndConnect {
		return "extendedScanAndConnect"
	}
	return fmt.Sprintf("Feature(%d)", int(f))
}
