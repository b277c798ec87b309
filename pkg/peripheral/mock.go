package peripheral

import (
	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/effect"
)

// Mock is a Manager whose behavior is given by its func fields. Calling an
// operation whose field is nil reports it through Reporter.
type Mock struct {
	Reporter effect.Reporter

	CreateFunc                      func(any, *bluetooth.InitializationOptions) effect.Effect[Action]
	DestroyFunc                     func(any) effect.Effect[Action]
	AddServiceFunc                  func(any, MutableService) effect.Effect[Action]
	RemoveServiceFunc               func(any, MutableService) effect.Effect[Action]
	RemoveAllServicesFunc           func(any) effect.Effect[Action]
	StartAdvertisingFunc            func(any, *bluetooth.AdvertisementData) effect.Effect[Action]
	StopAdvertisingFunc             func(any) effect.Effect[Action]
	UpdateValueFunc                 func(any, []byte, MutableCharacteristic, []bluetooth.Central) effect.Effect[bool]
	RespondFunc                     func(any, bluetooth.ATTRequest, bluetooth.ATTErrorCode) effect.Effect[Action]
	SetDesiredConnectionLatencyFunc func(any, bluetooth.ConnectionLatency, bluetooth.Central) effect.Effect[Action]
	PublishL2CAPChannelFunc         func(any, bool) effect.Effect[Action]
	UnpublishL2CAPChannelFunc       func(any, uint16) effect.Effect[Action]
	StateFunc                       func(any) bluetooth.ManagerState
	AuthorizationFunc               func() bluetooth.Authorization

	failing bool
}

var _ Manager = (*Mock)(nil)

// Failing returns a Manager on which every operation is a test failure.
func Failing(r effect.Reporter) *Mock {
	return &Mock{Reporter: r, failing: true}
}

func missingEffect[A any](r effect.Reporter, failing bool, name string) effect.Effect[A] {
	if failing {
		return effect.Failing[A](r, name)
	}
	return effect.Unimplemented[effect.Effect[A]](r, name)
}

func (m *Mock) Create(id any, opts *bluetooth.InitializationOptions) effect.Effect[Action] {
	if m.CreateFunc == nil {
		return missingEffect[Action](m.Reporter, m.failing, "peripheralManager.Create")
	}
	return m.CreateFunc(id, opts)
}

func (m *Mock) Destroy(id any) effect.Effect[Action] {
	if m.DestroyFunc == nil {
		return missingEffect[Action](m.Reporter, m.failing, "peripheralManager.Destroy")
	}
	return m.DestroyFunc(id)
}

func (m *Mock) AddService(id any, s MutableService) effect.Effect[Action] {
	if m.AddServiceFunc == nil {
		return missingEffect[Action](m.Reporter, m.failing, "peripheralManager.AddService")
	}
	return m.AddServiceFunc(id, s)
}

func (m *Mock) RemoveService(id any, s MutableService) effect.Effect[Action] {
	if m.RemoveServiceFunc == nil {
		return missingEffect[Action](m.Reporter, m.failing, "peripheralManager.RemoveService")
	}
	return m.RemoveServiceFunc(id, s)
}

func (m *Mock) RemoveAllServices(id any) effect.Effect[Action] {
	if m.RemoveAllServicesFunc == nil {
		return missingEffect[Action](m.Reporter, m.failing, "peripheralManager.RemoveAllServices")
	}
	return m.RemoveAllServicesFunc(id)
}

func (m *Mock) StartAdvertising(id any, data *bluetooth.AdvertisementData) effect.Effect[Action] {
	if m.StartAdvertisingFunc == nil {
		return missingEffect[Action](m.Reporter, m.failing, "peripheralManager.StartAdvertising")
	}
	return m.StartAdvertisingFunc(id, data)
}

func (m *Mock) StopAdvertising(id any) effect.Effect[Action] {
	if m.StopAdvertisingFunc == nil {
		return missingEffect[Action](m.Reporter, m.failing, "peripheralManager.StopAdvertising")
	}
	return m.StopAdvertisingFunc(id)
}

func (m *Mock) UpdateValue(id any, data []byte, c MutableCharacteristic, centrals []bluetooth.Central) effect.Effect[bool] {
	if m.UpdateValueFunc == nil {
		return missingEffect[bool](m.Reporter, m.failing, "peripheralManager.UpdateValue")
	}
	return m.UpdateValueFunc(id, data, c, centrals)
}

func (m *Mock) Respond(id any, req bluetooth.ATTRequest, code bluetooth.ATTErrorCode) effect.Effect[Action] {
	if m.RespondFunc == nil {
		return missingEffect[Action](m.Reporter, m.failing, "peripheralManager.Respond")
	}
	return m.RespondFunc(id, req, code)
}

func (m *Mock) SetDesiredConnectionLatency(id any, latency bluetooth.ConnectionLatency, central bluetooth.Central) effect.Effect[Action] {
	if m.SetDesiredConnectionLatencyFunc == nil {
		return missingEffect[Action](m.Reporter, m.failing, "peripheralManager.SetDesiredConnectionLatency")
	}
	return m.SetDesiredConnectionLatencyFunc(id, latency, central)
}

func (m *Mock) PublishL2CAPChannel(id any, withEncryption bool) effect.Effect[Action] {
	if m.PublishL2CAPChannelFunc == nil {
		return missingEffect[Action](m.Reporter, m.failing, "peripheralManager.PublishL2CAPChannel")
	}
	return m.PublishL2CAPChannelFunc(id, withEncryption)
}

func (m *Mock) UnpublishL2CAPChannel(id any, psm uint16) effect.Effect[Action] {
	if m.UnpublishL2CAPChannelFunc == nil {
		return missingEffect[Action](m.Reporter, m.failing, "peripheralManager.UnpublishL2CAPChannel")
	}
	return m.UnpublishL2CAPChannelFunc(id, psm)
}

func (m *Mock) State(id any) bluetooth.ManagerState {
	if m.StateFunc == nil {
		return effect.Unimplemented[bluetooth.ManagerState](m.Reporter, "peripheralManager.State")
	}
	return m.StateFunc(id)
}

func (m *Mock) Authorization() bluetooth.Authorization {
	if m.AuthorizationFunc == nil {
		return effect.Unimplemented[bluetooth.Authorization](m.Reporter, "peripheralManager.Authorization")
	}
	return m.AuthorizationFunc()
}
