package bluetooth

// AdvertisementData is the decoded payload of an advertising or scan response packet.
// It is also used to describe what a local peripheral manager should advertise.
type AdvertisementData struct {
	LocalName             string          `json:"local_name,omitempty" yaml:"local_name,omitempty"`
	ManufacturerData      []byte          `json:"manufacturer_data,omitempty" yaml:"manufacturer_data,omitempty"`
	ServiceData           map[UUID][]byte `json:"service_data,omitempty" yaml:"service_data,omitempty"`
	ServiceUUIDs          []UUID          `json:"service_uuids,omitempty" yaml:"service_uuids,omitempty"`
	OverflowServiceUUIDs  []UUID          `json:"overflow_service_uuids,omitempty" yaml:"overflow_service_uuids,omitempty"`
	SolicitedServiceUUIDs []UUID          `json:"solicited_service_uuids,omitempty" yaml:"solicited_service_uuids,omitempty"`
	TxPowerLevel          *int            `json:"tx_power_level,omitempty" yaml:"tx_power_level,omitempty"`
	IsConnectable         *bool           `json:"is_connectable,omitempty" yaml:"is_connectable,omitempty"`
}

// AdvertisesAny reports whether the advertisement lists any of services,
// including the overflow area. An empty filter matches everything.
func (a AdvertisementData) AdvertisesAny(services []UUID) bool {
	if len(services) == 0 {
		return true
	}
	for _, s := range services {
		if ContainsUUID(a.ServiceUUIDs, s) || ContainsUUID(a.OverflowServiceUUIDs, s) {
			return true
		}
		if _, ok := a.ServiceData[UUID(NormalizeUUID(string(s)))]; ok {
			return true
		}
	}
	return false
}

// SolicitsAny reports whether the advertisement solicits any of services.
func (a AdvertisementData) SolicitsAny(services []UUID) bool {
	for _, s := range services {
		if ContainsUUID(a.SolicitedServiceUUIDs, s) {
			return true
		}
	}
	return false
}
