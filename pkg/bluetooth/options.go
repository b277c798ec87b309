package bluetooth

import "time"

// InitializationOptions configure a central or peripheral manager instance.
type InitializationOptions struct {
	// ShowPowerAlert asks the platform to warn the user when Bluetooth is off.
	ShowPowerAlert bool
	// RestoreIdentifier enables state preservation under this key.
	RestoreIdentifier string
}

// ConnectionOptions tune a single connect request.
type ConnectionOptions struct {
	NotifyOnConnection      bool
	NotifyOnDisconnection   bool
	NotifyOnNotification    bool
	EnableTransportBridging bool
	RequiresANCS            bool
	// StartDelay postpones the dial.
	StartDelay time.Duration
	// Timeout bounds the dial; zero uses the configured default.
	Timeout time.Duration
}

// ScanOptions tune a scan.
type ScanOptions struct {
	// AllowDuplicates reports every advertisement instead of the first per peripheral.
	AllowDuplicates bool `yaml:"allow_duplicates"`
	// SolicitedServiceUUIDs also matches peripherals soliciting these services.
	SolicitedServiceUUIDs []UUID `yaml:"solicited_service_uuids,omitempty"`
}

// ConnectionEventOptions select the peripherals reported through connection events.
// A peripheral matches if its identifier is listed or it exposes a listed service.
type ConnectionEventOptions struct {
	PeripheralIdentifiers []string
	ServiceUUIDs          []UUID
}

// Matches reports whether a peripheral with the given id and services is selected.
// Empty options match everything.
func (o ConnectionEventOptions) Matches(id string, services []UUID) bool {
	if len(o.PeripheralIdentifiers) == 0 && len(o.ServiceUUIDs) == 0 {
		return true
	}
	for _, pid := range o.PeripheralIdentifiers {
		if pid == id {
			return true
		}
	}
	for _, s := range services {
		if ContainsUUID(o.ServiceUUIDs, s) {
			return true
		}
	}
	return false
}

// RestorationOptions is the central state handed back after a restart.
type RestorationOptions struct {
	Peripherals     []Peripheral
	ScannedServices []UUID
	ScanOptions     *ScanOptions
}

// PeripheralRestorationOptions is the peripheral manager state handed back after a restart.
type PeripheralRestorationOptions struct {
	Services          []UUID
	AdvertisementData *AdvertisementData
}
