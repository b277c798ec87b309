package central

import (
	"io"

	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/effect"
)

// Client is the central manager surface. Effect-returning calls emit
// nothing; their outcome arrives on the Delegate stream.
type Client interface {
	// Delegate streams every action until its context is done. A WillRestore
	// for restored state and a DidUpdateState with the current state come first.
	Delegate() effect.Effect[Action]

	Connect(p bluetooth.Peripheral, opts *bluetooth.ConnectionOptions) effect.Effect[Action]
	CancelConnection(p bluetooth.Peripheral) effect.Effect[Action]

	// RetrieveConnectedPeripherals returns connected peripherals exposing any
	// of services, or every connected peripheral when services is empty.
	RetrieveConnectedPeripherals(services []bluetooth.UUID) []bluetooth.Peripheral
	// RetrievePeripherals returns the known peripherals with the given identifiers.
	RetrievePeripherals(ids []string) []bluetooth.Peripheral

	ScanForPeripherals(services []bluetooth.UUID, opts *bluetooth.ScanOptions) effect.Effect[Action]
	StopScan() effect.Effect[Action]

	State() bluetooth.ManagerState
	Authorization() bluetooth.Authorization
	Supports(f bluetooth.Feature) bool

	// Peripheral returns the environment of a known peripheral.
	Peripheral(id string) (PeripheralClient, bool)

	RegisterForConnectionEvents(opts *bluetooth.ConnectionEventOptions) effect.Effect[Action]
}

// PeripheralClient is the surface of one remote peripheral.
type PeripheralClient interface {
	Snapshot() bluetooth.Peripheral

	ReadRSSI() effect.Effect[Action]
	DiscoverServices(services []bluetooth.UUID) effect.Effect[Action]
	DiscoverIncludedServices(services []bluetooth.UUID, s bluetooth.Service) effect.Effect[Action]
	DiscoverCharacteristics(chars []bluetooth.UUID, s bluetooth.Service) effect.Effect[Action]
	DiscoverDescriptors(c bluetooth.Characteristic) effect.Effect[Action]

	ReadCharacteristic(c bluetooth.Characteristic) effect.Effect[Action]
	ReadDescriptor(d bluetooth.Descriptor) effect.Effect[Action]
	WriteCharacteristic(data []byte, c bluetooth.Characteristic, t bluetooth.WriteType) effect.Effect[Action]
	WriteDescriptor(data []byte, d bluetooth.Descriptor) effect.Effect[Action]
	SetNotify(enabled bool, c bluetooth.Characteristic) effect.Effect[Action]
	OpenL2CAPChannel(psm uint16) effect.Effect[Action]

	MaximumWriteValueLength(t bluetooth.WriteType) int

	// OpenWriter returns a writer sending its bytes to c in chunks of
	// MaximumWriteValueLength. Close flushes what is buffered.
	OpenWriter(c bluetooth.Characteristic, t bluetooth.WriteType) io.WriteCloser
}
