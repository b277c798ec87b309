package peripheral

import "github.com/srg/bleflow/pkg/bluetooth"

// Local GATT database definitions.
type (
	MutableService        = bluetooth.MutableService
	MutableCharacteristic = bluetooth.MutableCharacteristic
	MutableDescriptor     = bluetooth.MutableDescriptor
)

// Action is everything a peripheral manager instance reports.
type Action interface{ isAction() }

type (
	WillRestore struct {
		Options bluetooth.PeripheralRestorationOptions
	}
	DidAddService struct {
		Service bluetooth.Service
		Err     *bluetooth.Error
	}
	DidSubscribeTo struct {
		Characteristic bluetooth.Characteristic
		Central        bluetooth.Central
	}
	DidUnsubscribeFrom struct {
		Characteristic bluetooth.Characteristic
		Central        bluetooth.Central
	}
	// IsReadyToUpdateSubscribers follows an UpdateValue that returned false.
	IsReadyToUpdateSubscribers struct{}
	// DidReceiveRead must be answered with Respond.
	DidReceiveRead struct {
		Request bluetooth.ATTRequest
	}
	// DidReceiveWrite must be answered once, with Respond on the first request.
	DidReceiveWrite struct {
		Requests []bluetooth.ATTRequest
	}
	DidPublishL2CAPChannel struct {
		PSM uint16
		Err *bluetooth.Error
	}
	DidUnpublishL2CAPChannel struct {
		PSM uint16
		Err *bluetooth.Error
	}
	DidOpen struct {
		Channel *bluetooth.L2CAPChannel
		Err     *bluetooth.Error
	}
	DidUpdateState struct {
		State bluetooth.ManagerState
	}
	DidUpdateAdvertisingState struct {
		Advertising bool
		Err         *bluetooth.Error
	}
)

func (WillRestore) isAction()                {}
func (DidAddService) isAction()              {}
func (DidSubscribeTo) isAction()             {}
func (DidUnsubscribeFrom) isAction()         {}
func (IsReadyToUpdateSubscribers) isAction() {}
func (DidReceiveRead) isAction()             {}
func (DidReceiveWrite) isAction()            {}
func (DidPublishL2CAPChannel) isAction()     {}
func (DidUnpublishL2CAPChannel) isAction()   {}
func (DidOpen) isAction()                    {}
func (DidUpdateState) isAction()             {}
func (DidUpdateAdvertisingState) isAction()  {}
