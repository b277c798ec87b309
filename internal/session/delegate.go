package session

import "github.com/srg/bleflow/pkg/bluetooth"

// Delegate receives every event produced by a Manager and its sessions.
//
// Calls are made from manager goroutines, never while a session lock is
// held, and must not block. Peripheral values are snapshots.
type Delegate interface {
	DidUpdateState(state bluetooth.ManagerState)
	DidUpdateScanningState(scanning bool)
	DidDiscover(p bluetooth.Peripheral, adv bluetooth.AdvertisementData, rssi int)
	WillRestore(opts bluetooth.RestorationOptions)

	DidConnect(p bluetooth.Peripheral)
	DidFailToConnect(p bluetooth.Peripheral, err *bluetooth.Error)
	DidDisconnect(p bluetooth.Peripheral, err *bluetooth.Error)
	DidUpdatePeripheralState(p bluetooth.Peripheral)
	DidUpdateName(p bluetooth.Peripheral)
	DidModifyServices(p bluetooth.Peripheral, invalidated []bluetooth.Service)
	ConnectionEventDidOccur(p bluetooth.Peripheral, event bluetooth.ConnectionEvent)
	IsReadyToSendWriteWithoutResponse(p bluetooth.Peripheral)

	DidReadRSSI(p bluetooth.Peripheral, rssi int, err *bluetooth.Error)
	DidOpenL2CAPChannel(p bluetooth.Peripheral, ch *bluetooth.L2CAPChannel, err *bluetooth.Error)
	DidDiscoverServices(p bluetooth.Peripheral, err *bluetooth.Error)
	DidDiscoverIncludedServices(p bluetooth.Peripheral, s bluetooth.Service, err *bluetooth.Error)
	DidDiscoverCharacteristics(p bluetooth.Peripheral, s bluetooth.Service, err *bluetooth.Error)
	DidDiscoverDescriptors(p bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error)
	DidUpdateValue(p bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error)
	DidWriteValue(p bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error)
	DidUpdateNotificationState(p bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error)
	DidUpdateDescriptorValue(p bluetooth.Peripheral, d bluetooth.Descriptor, err *bluetooth.Error)
	DidWriteDescriptorValue(p bluetooth.Peripheral, d bluetooth.Descriptor, err *bluetooth.Error)
}
