package bluetooth

import "io"

// Peripheral is a snapshot of a remote peripheral as seen by the central role.
// A fresh value is produced for every event; it never aliases session state.
type Peripheral struct {
	Identifier                  string          `json:"identifier"`
	Name                        string          `json:"name,omitempty"`
	State                       PeripheralState `json:"state"`
	CanSendWriteWithoutResponse bool            `json:"can_send_write_without_response"`
	IsANCSAuthorized            bool            `json:"is_ancs_authorized"`
	Services                    []Service       `json:"services,omitempty"`
}

// Service looks up a discovered service by UUID.
func (p Peripheral) Service(u UUID) (Service, bool) {
	for _, s := range p.Services {
		if s.UUID.Equal(u) {
			return s, true
		}
	}
	return Service{}, false
}

// DisplayName returns the name, falling back to the identifier.
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return p.Identifier
	}
	return p.Name
}

// Service is a discovered GATT service.
type Service struct {
	UUID             UUID             `json:"uuid"`
	IsPrimary        bool             `json:"is_primary"`
	Characteristics  []Characteristic `json:"characteristics,omitempty"`
	IncludedServices []UUID           `json:"included_services,omitempty"`
}

// Characteristic looks up a discovered characteristic of s by UUID.
func (s Service) Characteristic(u UUID) (Characteristic, bool) {
	for _, c := range s.Characteristics {
		if c.UUID.Equal(u) {
			return c, true
		}
	}
	return Characteristic{}, false
}

// KnownName returns the assigned SIG name of the service, if any.
func (s Service) KnownName() string {
	return LookupService(s.UUID)
}

// Characteristic is a discovered GATT characteristic. Value holds the last
// value read or notified.
type Characteristic struct {
	UUID        UUID         `json:"uuid"`
	ServiceUUID UUID         `json:"service_uuid"`
	Properties  Properties   `json:"properties"`
	Value       []byte       `json:"value,omitempty"`
	Descriptors []Descriptor `json:"descriptors,omitempty"`
	IsNotifying bool         `json:"is_notifying"`
}

// Descriptor looks up a discovered descriptor of c by UUID.
func (c Characteristic) Descriptor(u UUID) (Descriptor, bool) {
	for _, d := range c.Descriptors {
		if d.UUID.Equal(u) {
			return d, true
		}
	}
	return Descriptor{}, false
}

func (c Characteristic) KnownName() string {
	return LookupCharacteristic(c.UUID)
}

// Descriptor is a discovered GATT descriptor.
type Descriptor struct {
	UUID               UUID   `json:"uuid"`
	ServiceUUID        UUID   `json:"service_uuid"`
	CharacteristicUUID UUID   `json:"characteristic_uuid"`
	Value              []byte `json:"value,omitempty"`
}

func (d Descriptor) KnownName() string {
	return LookupDescriptor(d.UUID)
}

// Central is a remote central connected to a local peripheral manager.
type Central struct {
	Identifier               string `json:"identifier"`
	MaximumUpdateValueLength int    `json:"maximum_update_value_length"`
}

// ATTRequest is a read or write issued by a remote central against a local characteristic.
// ID correlates the request with the Respond call answering it.
type ATTRequest struct {
	ID             string         `json:"id"`
	Central        Central        `json:"central"`
	Characteristic Characteristic `json:"characteristic"`
	Offset         int            `json:"offset"`
	Value          []byte         `json:"value,omitempty"`
}

// L2CAPChannel is an open connection-oriented channel.
type L2CAPChannel struct {
	PSM    uint16             `json:"psm"`
	PeerID string             `json:"peer_id"`
	Stream io.ReadWriteCloser `json:"-"`
}
