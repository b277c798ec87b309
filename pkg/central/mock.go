package central

import (
	"io"

	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/effect"
)

// Mock is a Client whose behavior is given by its func fields. Calling an
// operation whose field is nil reports it through Reporter and returns a
// zero value or an effect that does nothing.
type Mock struct {
	Reporter effect.Reporter

	DelegateFunc                     func() effect.Effect[Action]
	ConnectFunc                      func(bluetooth.Peripheral, *bluetooth.ConnectionOptions) effect.Effect[Action]
	CancelConnectionFunc             func(bluetooth.Peripheral) effect.Effect[Action]
	RetrieveConnectedPeripheralsFunc func([]bluetooth.UUID) []bluetooth.Peripheral
	RetrievePeripheralsFunc          func([]string) []bluetooth.Peripheral
	ScanForPeripheralsFunc           func([]bluetooth.UUID, *bluetooth.ScanOptions) effect.Effect[Action]
	StopScanFunc                     func() effect.Effect[Action]
	StateFunc                        func() bluetooth.ManagerState
	AuthorizationFunc                func() bluetooth.Authorization
	SupportsFunc                     func(bluetooth.Feature) bool
	PeripheralFunc                   func(string) (PeripheralClient, bool)
	RegisterForConnectionEventsFunc  func(*bluetooth.ConnectionEventOptions) effect.Effect[Action]

	failing bool
}

var _ Client = (*Mock)(nil)

// Failing returns a Client on which every operation is a test failure:
// effects report when executed, other calls report immediately.
func Failing(r effect.Reporter) *Mock {
	return &Mock{Reporter: r, failing: true}
}

func missingEffect(r effect.Reporter, failing bool, name string) effect.Effect[Action] {
	if failing {
		return effect.Failing[Action](r, name)
	}
	return effect.Unimplemented[effect.Effect[Action]](r, name)
}

func missing[T any](r effect.Reporter, failing bool, name string) T {
	if failing {
		var zero T
		if r != nil {
			r.Errorf("%s: failing endpoint was called", name)
		}
		return zero
	}
	return effect.Unimplemented[T](r, name)
}

func (m *Mock) Delegate() effect.Effect[Action] {
	if m.DelegateFunc == nil {
		return missingEffect(m.Reporter, m.failing, "central.Delegate")
	}
	return m.DelegateFunc()
}

func (m *Mock) Connect(p bluetooth.Peripheral, opts *bluetooth.ConnectionOptions) effect.Effect[Action] {
	if m.ConnectFunc == nil {
		return missingEffect(m.Reporter, m.failing, "central.Connect")
	}
	return m.ConnectFunc(p, opts)
}

func (m *Mock) CancelConnection(p bluetooth.Peripheral) effect.Effect[Action] {
	if m.CancelConnectionFunc == nil {
		return missingEffect(m.Reporter, m.failing, "central.CancelConnection")
	}
	return m.CancelConnectionFunc(p)
}

func (m *Mock) RetrieveConnectedPeripherals(services []bluetooth.UUID) []bluetooth.Peripheral {
	if m.RetrieveConnectedPeripheralsFunc == nil {
		return missing[[]bluetooth.Peripheral](m.Reporter, m.failing, "central.RetrieveConnectedPeripherals")
	}
	return m.RetrieveConnectedPeripheralsFunc(services)
}

func (m *Mock) RetrievePeripherals(ids []string) []bluetooth.Peripheral {
	if m.RetrievePeripheralsFunc == nil {
		return missing[[]bluetooth.Peripheral](m.Reporter, m.failing, "central.RetrievePeripherals")
	}
	return m.RetrievePeripheralsFunc(ids)
}

func (m *Mock) ScanForPeripherals(services []bluetooth.UUID, opts *bluetooth.ScanOptions) effect.Effect[Action] {
	if m.ScanForPeripheralsFunc == nil {
		return missingEffect(m.Reporter, m.failing, "central.ScanForPeripherals")
	}
	return m.ScanForPeripheralsFunc(services, opts)
}

func (m *Mock) StopScan() effect.Effect[Action] {
	if m.StopScanFunc == nil {
		return missingEffect(m.Reporter, m.failing, "central.StopScan")
	}
	return m.StopScanFunc()
}

func (m *Mock) State() bluetooth.ManagerState {
	if m.StateFunc == nil {
		return missing[bluetooth.ManagerState](m.Reporter, m.failing, "central.State")
	}
	return m.StateFunc()
}

func (m *Mock) Authorization() bluetooth.Authorization {
	if m.AuthorizationFunc == nil {
		return missing[bluetooth.Authorization](m.Reporter, m.failing, "central.Authorization")
	}
	return m.AuthorizationFunc()
}

func (m *Mock) Supports(f bluetooth.Feature) bool {
	if m.SupportsFunc == nil {
		return missing[bool](m.Reporter, m.failing, "central.Supports")
	}
	return m.SupportsFunc(f)
}

func (m *Mock) Peripheral(id string) (PeripheralClient, bool) {
	if m.PeripheralFunc == nil {
		missing[struct{}](m.Reporter, m.failing, "central.Peripheral")
		return nil, false
	}
	return m.PeripheralFunc(id)
}

func (m *Mock) RegisterForConnectionEvents(opts *bluetooth.ConnectionEventOptions) effect.Effect[Action] {
	if m.RegisterForConnectionEventsFunc == nil {
		return missingEffect(m.Reporter, m.failing, "central.RegisterForConnectionEvents")
	}
	return m.RegisterForConnectionEventsFunc(opts)
}

// MockPeripheral is a PeripheralClient whose behavior is given by its func fields.
type MockPeripheral struct {
	Reporter effect.Reporter

	SnapshotFunc                 func() bluetooth.Peripheral
	ReadRSSIFunc                 func() effect.Effect[Action]
	DiscoverServicesFunc         func([]bluetooth.UUID) effect.Effect[Action]
	DiscoverIncludedServicesFunc func([]bluetooth.UUID, bluetooth.Service) effect.Effect[Action]
	DiscoverCharacteristicsFunc  func([]bluetooth.UUID, bluetooth.Service) effect.Effect[Action]
	DiscoverDescriptorsFunc      func(bluetooth.Characteristic) effect.Effect[Action]
	ReadCharacteristicFunc       func(bluetooth.Characteristic) effect.Effect[Action]
	ReadDescriptorFunc           func(bluetooth.Descriptor) effect.Effect[Action]
	WriteCharacteristicFunc      func([]byte, bluetooth.Characteristic, bluetooth.WriteType) effect.Effect[Action]
	WriteDescriptorFunc          func([]byte, bluetooth.Descriptor) effect.Effect[Action]
	SetNotifyFunc                func(bool, bluetooth.Characteristic) effect.Effect[Action]
	OpenL2CAPChannelFunc         func(uint16) effect.Effect[Action]
	MaximumWriteValueLengthFunc  func(bluetooth.WriteType) int
	OpenWriterFunc               func(bluetooth.Characteristic, bluetooth.WriteType) io.WriteCloser

	failing bool
}

var _ PeripheralClient = (*MockPeripheral)(nil)

// FailingPeripheral returns a PeripheralClient on which every operation is a test failure.
func FailingPeripheral(r effect.Reporter) *MockPeripheral {
	return &MockPeripheral{Reporter: r, failing: true}
}

func (m *MockPeripheral) Snapshot() bluetooth.Peripheral {
	if m.SnapshotFunc == nil {
		return missing[bluetooth.Peripheral](m.Reporter, m.failing, "peripheral.Snapshot")
	}
	return m.SnapshotFunc()
}

func (m *MockPeripheral) ReadRSSI() effect.Effect[Action] {
	if m.ReadRSSIFunc == nil {
		return missingEffect(m.Reporter, m.failing, "peripheral.ReadRSSI")
	}
	return m.ReadRSSIFunc()
}

func (m *MockPeripheral) DiscoverServices(services []bluetooth.UUID) effect.Effect[Action] {
	if m.DiscoverServicesFunc == nil {
		return missingEffect(m.Reporter, m.failing, "peripheral.DiscoverServices")
	}
	return m.DiscoverServicesFunc(services)
}

func (m *MockPeripheral) DiscoverIncludedServices(services []bluetooth.UUID, s bluetooth.Service) effect.Effect[Action] {
	if m.DiscoverIncludedServicesFunc == nil {
		return missingEffect(m.Reporter, m.failing, "peripheral.DiscoverIncludedServices")
	}
	return m.DiscoverIncludedServicesFunc(services, s)
}

func (m *MockPeripheral) DiscoverCharacteristics(chars []bluetooth.UUID, s bluetooth.Service) effect.Effect[Action] {
	if m.DiscoverCharacteristicsFunc == nil {
		return missingEffect(m.Reporter, m.failing, "peripheral.DiscoverCharacteristics")
	}
	return m.DiscoverCharacteristicsFunc(chars, s)
}

func (m *MockPeripheral) DiscoverDescriptors(c bluetooth.Characteristic) effect.Effect[Action] {
	if m.DiscoverDescriptorsFunc == nil {
		return missingEffect(m.Reporter, m.failing, "peripheral.DiscoverDescriptors")
	}
	return m.DiscoverDescriptorsFunc(c)
}

func (m *MockPeripheral) ReadCharacteristic(c bluetooth.Characteristic) effect.Effect[Action] {
	if m.ReadCharacteristicFunc == nil {
		return missingEffect(m.Reporter, m.failing, "peripheral.ReadCharacteristic")
	}
	return m.ReadCharacteristicFunc(c)
}

func (m *MockPeripheral) ReadDescriptor(d bluetooth.Descriptor) effect.Effect[Action] {
	if m.ReadDescriptorFunc == nil {
		return missingEffect(m.Reporter, m.failing, "peripheral.ReadDescriptor")
	}
	return m.ReadDescriptorFunc(d)
}

func (m *MockPeripheral) WriteCharacteristic(data []byte, c bluetooth.Characteristic, t bluetooth.WriteType) effect.Effect[Action] {
	if m.WriteCharacteristicFunc == nil {
		return missingEffect(m.Reporter, m.failing, "peripheral.WriteCharacteristic")
	}
	return m.WriteCharacteristicFunc(data, c, t)
}

func (m *MockPeripheral) WriteDescriptor(data []byte, d bluetooth.Descriptor) effect.Effect[Action] {
	if m.WriteDescriptorFunc == nil {
		return missingEffect(m.Reporter, m.failing, "peripheral.WriteDescriptor")
	}
	return m.WriteDescriptorFunc(data, d)
}

func (m *MockPeripheral) SetNotify(enabled bool, c bluetooth.Characteristic) effect.Effect[Action] {
	if m.SetNotifyFunc == nil {
		return missingEffect(m.Reporter, m.failing, "peripheral.SetNotify")
	}
	return m.SetNotifyFunc(enabled, c)
}

func (m *MockPeripheral) OpenL2CAPChannel(psm uint16) effect.Effect[Action] {
	if m.OpenL2CAPChannelFunc == nil {
		return missingEffect(m.Reporter, m.failing, "peripheral.OpenL2CAPChannel")
	}
	return m.OpenL2CAPChannelFunc(psm)
}

func (m *MockPeripheral) MaximumWriteValueLength(t bluetooth.WriteType) int {
	if m.MaximumWriteValueLengthFunc == nil {
		return missing[int](m.Reporter, m.failing, "peripheral.MaximumWriteValueLength")
	}
	return m.MaximumWriteValueLengthFunc(t)
}

func (m *MockPeripheral) OpenWriter(c bluetooth.Characteristic, t bluetooth.WriteType) io.WriteCloser {
	if m.OpenWriterFunc == nil {
		return missing[io.WriteCloser](m.Reporter, m.failing, "peripheral.OpenWriter")
	}
	return m.OpenWriterFunc(c, t)
}
