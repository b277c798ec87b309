package peripheral

import (
	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/effect"
)

// Manager is the peripheral manager surface. Instances are addressed by the
// id given to Create; calls for an unknown id do nothing.
type Manager interface {
	// Create starts the instance if needed and streams its actions. A
	// WillRestore for restored state and a DidUpdateState come first.
	Create(id any, opts *bluetooth.InitializationOptions) effect.Effect[Action]
	// Destroy closes the instance and ends its Create streams.
	Destroy(id any) effect.Effect[Action]

	AddService(id any, s MutableService) effect.Effect[Action]
	RemoveService(id any, s MutableService) effect.Effect[Action]
	RemoveAllServices(id any) effect.Effect[Action]

	StartAdvertising(id any, data *bluetooth.AdvertisementData) effect.Effect[Action]
	StopAdvertising(id any) effect.Effect[Action]

	// UpdateValue notifies the subscribed centrals, or only those listed. It
	// emits false when the update could not be sent; IsReadyToUpdateSubscribers
	// follows once sending is possible again.
	UpdateValue(id any, data []byte, c MutableCharacteristic, centrals []bluetooth.Central) effect.Effect[bool]
	Respond(id any, req bluetooth.ATTRequest, code bluetooth.ATTErrorCode) effect.Effect[Action]
	SetDesiredConnectionLatency(id any, latency bluetooth.ConnectionLatency, central bluetooth.Central) effect.Effect[Action]

	PublishL2CAPChannel(id any, withEncryption bool) effect.Effect[Action]
	UnpublishL2CAPChannel(id any, psm uint16) effect.Effect[Action]

	State(id any) bluetooth.ManagerState
	Authorization() bluetooth.Authorization
}
