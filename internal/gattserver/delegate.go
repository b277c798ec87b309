package gattserver

import "github.com/srg/bleflow/pkg/bluetooth"

// Delegate receives everything that happens to a Server.
// Calls come from server goroutines and platform handlers; implementations must not block.
type Delegate interface {
	DidUpdateState(state bluetooth.ManagerState)
	DidAddService(svc bluetooth.Service, err *bluetooth.Error)
	DidSubscribeTo(c bluetooth.Characteristic, central bluetooth.Central)
	DidUnsubscribeFrom(c bluetooth.Characteristic, central bluetooth.Central)
	IsReadyToUpdateSubscribers()
	DidReceiveRead(req bluetooth.ATTRequest)
	DidReceiveWrite(reqs []bluetooth.ATTRequest)
	DidPublishL2CAPChannel(psm uint16, err *bluetooth.Error)
	DidUnpublishL2CAPChannel(psm uint16, err *bluetooth.Error)
	DidOpen(ch *bluetooth.L2CAPChannel, err *bluetooth.Error)
	DidUpdateAdvertisingState(advertising bool, err *bluetooth.Error)
}
