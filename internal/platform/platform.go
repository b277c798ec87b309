// Package platform declares the narrow surface of the host BLE stack that the
// session core depends on. The go-ble backed implementation lives in
// platform/goble; tests substitute testify mocks.
//
// GATT attributes are exchanged as go-ble values (*ble.Service,
// *ble.Characteristic, *ble.Descriptor) because they carry the handles the
// stack needs to address them.
package platform

import (
	"context"
	"errors"
	"io"

	"github.com/go-ble/ble"
	"github.com/srg/bleflow/pkg/bluetooth"
)

// Adapter availability errors. Factories wrap them so callers can map them
// to a manager state instead of failing.
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnsupported  = errors.New("bluetooth is not supported on this platform")
	ErrUnauthorized = errors.New("bluetooth access is not authorized")
)

// StateFromError maps a factory error to the manager state it implies.
func StateFromError(err error) (bluetooth.ManagerState, bool) {
	switch {
	case err == nil:
		return bluetooth.ManagerStatePoweredOn, true
	case errors.Is(err, ErrBluetoothOff):
		return bluetooth.ManagerStatePoweredOff, true
	case errors.Is(err, ErrUnsupported):
		return bluetooth.ManagerStateUnsupported, true
	case errors.Is(err, ErrUnauthorized):
		return bluetooth.ManagerStateUnauthorized, true
	default:
		return bluetooth.ManagerStateUnknown, false
	}
}

// Advertisement is one received advertising report.
type Advertisement struct {
	Address string
	RSSI    int
	Data    bluetooth.AdvertisementData
}

// Central is the local adapter in the central role.
type Central interface {
	// Scan blocks, reporting advertisements to h until ctx is done.
	Scan(ctx context.Context, allowDuplicates bool, h func(Advertisement)) error
	// Dial connects to the peripheral at address.
	Dial(ctx context.Context, address string) (Client, error)
	// Stop releases the adapter.
	Stop() error
}

// Client is a connected GATT client link to one peripheral.
type Client interface {
	Address() string
	Name() string

	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverIncludedServices(filter []ble.UUID, s *ble.Service) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)

	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadDescriptor(d *ble.Descriptor) ([]byte, error)
	WriteDescriptor(d *ble.Descriptor, value []byte) error

	ReadRSSI() int
	ExchangeMTU(rxMTU int) (int, error)

	Subscribe(c *ble.Characteristic, indication bool, h func(data []byte)) error
	Unsubscribe(c *ble.Characteristic, indication bool) error
	ClearSubscriptions() error

	CancelConnection() error
	// Disconnected is closed when the link drops. Nil if the stack cannot report it.
	Disconnected() <-chan struct{}
}

// Server is the local adapter in the peripheral role.
type Server interface {
	AddService(s *ble.Service) error
	RemoveAllServices() error
	SetServices(ss []*ble.Service) error
	// Advertise blocks advertising name and services until ctx is done.
	Advertise(ctx context.Context, name string, services []ble.UUID) error
	Stop() error
}

// StateReporter is implemented by adapters that can report their power state.
type StateReporter interface {
	State() bluetooth.ManagerState
}

// Authorizer is implemented by adapters that expose the app's Bluetooth permission.
type Authorizer interface {
	Authorization() bluetooth.Authorization
}

// L2CAPOpener is implemented by clients that can open connection-oriented channels.
type L2CAPOpener interface {
	OpenL2CAP(ctx context.Context, psm uint16) (io.ReadWriteCloser, error)
}

// L2CAPPublisher is implemented by servers that can listen on connection-oriented channels.
type L2CAPPublisher interface {
	PublishL2CAP(encrypted bool) (psm uint16, accept <-chan L2CAPConn, err error)
	UnpublishL2CAP(psm uint16) error
}

// L2CAPConn is an inbound connection-oriented channel.
type L2CAPConn struct {
	PSM    uint16
	PeerID string
	Stream io.ReadWriteCloser
}
