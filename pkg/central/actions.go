package central

import (
	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/effect"
)

// Action is everything a central manager reports.
type Action interface{ isAction() }

// PeripheralAction is an event of one remote peripheral.
type PeripheralAction interface{ isPeripheralAction() }

// ServiceAction is an event of one discovered service.
type ServiceAction interface{ isServiceAction() }

// CharacteristicAction is an event of one discovered characteristic.
type CharacteristicAction interface{ isCharacteristicAction() }

// DescriptorAction is an event of one discovered descriptor.
type DescriptorAction interface{ isDescriptorAction() }

// Manager actions.
type (
	DidUpdateState struct {
		State bluetooth.ManagerState
	}
	DidUpdateScanningState struct {
		Scanning bool
	}
	DidDiscover struct {
		Peripheral    bluetooth.Peripheral
		Advertisement bluetooth.AdvertisementData
		RSSI          int
	}
	WillRestore struct {
		Options bluetooth.RestorationOptions
	}
	// PeripheralEvent routes a PeripheralAction to the peripheral it concerns.
	PeripheralEvent struct {
		ID     string
		Action PeripheralAction
	}
)

func (DidUpdateState) isAction()         {}
func (DidUpdateScanningState) isAction() {}
func (DidDiscover) isAction()            {}
func (WillRestore) isAction()            {}
func (PeripheralEvent) isAction()        {}

// Peripheral actions.
type (
	IsReadyToSendWriteWithoutResponse struct {
		Peripheral bluetooth.Peripheral
	}
	DidUpdateName struct {
		Peripheral bluetooth.Peripheral
	}
	DidUpdatePeripheralState struct {
		Peripheral bluetooth.Peripheral
	}
	DidModifyServices struct {
		Peripheral  bluetooth.Peripheral
		Invalidated []bluetooth.Service
	}
	DidReadRSSI struct {
		Peripheral bluetooth.Peripheral
		RSSI       int
		Err        *bluetooth.Error
	}
	DidOpenL2CAPChannel struct {
		Peripheral bluetooth.Peripheral
		Channel    *bluetooth.L2CAPChannel
		Err        *bluetooth.Error
	}
	DidDiscoverServices struct {
		Peripheral bluetooth.Peripheral
		Err        *bluetooth.Error
	}
	DidConnect struct {
		Peripheral bluetooth.Peripheral
	}
	// DidDisconnect carries a nil Err when the disconnect was requested.
	DidDisconnect struct {
		Peripheral bluetooth.Peripheral
		Err        *bluetooth.Error
	}
	DidFailToConnect struct {
		Peripheral bluetooth.Peripheral
		Err        *bluetooth.Error
	}
	DidUpdateANCSAuthorization struct {
		Peripheral bluetooth.Peripheral
		Authorized bool
	}
	ConnectionEventDidOccur struct {
		Peripheral bluetooth.Peripheral
		Event      bluetooth.ConnectionEvent
	}
	ServiceEvent struct {
		UUID   bluetooth.UUID
		Action ServiceAction
	}
	CharacteristicEvent struct {
		UUID   bluetooth.UUID
		Action CharacteristicAction
	}
	DescriptorEvent struct {
		UUID   bluetooth.UUID
		Action DescriptorAction
	}
)

func (IsReadyToSendWriteWithoutResponse) isPeripheralAction() {}
func (DidUpdateName) isPeripheralAction()                     {}
func (DidUpdatePeripheralState) isPeripheralAction()          {}
func (DidModifyServices) isPeripheralAction()                 {}
func (DidReadRSSI) isPeripheralAction()                       {}
func (DidOpenL2CAPChannel) isPeripheralAction()               {}
func (DidDiscoverServices) isPeripheralAction()               {}
func (DidConnect) isPeripheralAction()                        {}
func (DidDisconnect) isPeripheralAction()                     {}
func (DidFailToConnect) isPeripheralAction()                  {}
func (DidUpdateANCSAuthorization) isPeripheralAction()        {}
func (ConnectionEventDidOccur) isPeripheralAction()           {}
func (ServiceEvent) isPeripheralAction()                      {}
func (CharacteristicEvent) isPeripheralAction()               {}
func (DescriptorEvent) isPeripheralAction()                   {}

// Service actions.
type (
	DidDiscoverIncludedServices struct {
		Peripheral bluetooth.Peripheral
		Service    bluetooth.Service
		Err        *bluetooth.Error
	}
	DidDiscoverCharacteristics struct {
		Peripheral bluetooth.Peripheral
		Service    bluetooth.Service
		Err        *bluetooth.Error
	}
)

func (DidDiscoverIncludedServices) isServiceAction() {}
func (DidDiscoverCharacteristics) isServiceAction()  {}

// Characteristic actions.
type (
	DidDiscoverDescriptors struct {
		Peripheral     bluetooth.Peripheral
		Characteristic bluetooth.Characteristic
		Err            *bluetooth.Error
	}
	// DidUpdateValue reports a read result or a notification.
	DidUpdateValue struct {
		Peripheral     bluetooth.Peripheral
		Characteristic bluetooth.Characteristic
		Err            *bluetooth.Error
	}
	DidWriteValue struct {
		Peripheral     bluetooth.Peripheral
		Characteristic bluetooth.Characteristic
		Err            *bluetooth.Error
	}
	DidUpdateNotificationState struct {
		Peripheral     bluetooth.Peripheral
		Characteristic bluetooth.Characteristic
		Err            *bluetooth.Error
	}
)

func (DidDiscoverDescriptors) isCharacteristicAction()     {}
func (DidUpdateValue) isCharacteristicAction()             {}
func (DidWriteValue) isCharacteristicAction()              {}
func (DidUpdateNotificationState) isCharacteristicAction() {}

// Descriptor actions.
type (
	DidUpdateDescriptorValue struct {
		Peripheral bluetooth.Peripheral
		Descriptor bluetooth.Descriptor
		Err        *bluetooth.Error
	}
	DidWriteDescriptorValue struct {
		Peripheral bluetooth.Peripheral
		Descriptor bluetooth.Descriptor
		Err        *bluetooth.Error
	}
)

func (DidUpdateDescriptorValue) isDescriptorAction() {}
func (DidWriteDescriptorValue) isDescriptorAction()  {}

// PeripheralActions narrows a delegate stream to the actions of one peripheral.
func PeripheralActions(e effect.Effect[Action], id string) effect.Effect[PeripheralAction] {
	matching := effect.Filter(e, func(a Action) bool {
		ev, ok := a.(PeripheralEvent)
		return ok && ev.ID == id
	})
	return effect.Map(matching, func(a Action) PeripheralAction {
		return a.(PeripheralEvent).Action
	})
}
