package bluetooth

import "fmt"

// MutableService is a service definition published by a local peripheral manager.
type MutableService struct {
	UUID             UUID                    `json:"uuid" yaml:"uuid"`
	IsPrimary        bool                    `json:"is_primary" yaml:"is_primary"`
	Characteristics  []MutableCharacteristic `json:"characteristics,omitempty" yaml:"characteristics,omitempty"`
	IncludedServices []MutableService        `json:"included_services,omitempty" yaml:"included_services,omitempty"`
}

// MutableCharacteristic is a characteristic of a MutableService.
//
// A non-nil Value is cached and served by the stack without involving the
// application; such characteristics must be read-only. Without a value every
// read and write is forwarded as an ATT request that must be answered.
type MutableCharacteristic struct {
	UUID        UUID                `json:"uuid" yaml:"uuid"`
	Properties  Properties          `json:"properties" yaml:"properties"`
	Value       []byte              `json:"value,omitempty" yaml:"value,omitempty"`
	Permissions Permissions         `json:"permissions" yaml:"permissions"`
	Descriptors []MutableDescriptor `json:"descriptors,omitempty" yaml:"descriptors,omitempty"`

	// ServiceUUID picks the owning service when updating a characteristic
	// whose UUID is published by more than one service.
	ServiceUUID UUID `json:"-" yaml:"-"`
}

// MutableDescriptor is a static descriptor of a MutableCharacteristic.
type MutableDescriptor struct {
	UUID  UUID   `json:"uuid" yaml:"uuid"`
	Value []byte `json:"value,omitempty" yaml:"value,omitempty"`
}

// Validate checks the definition can be published.
func (s MutableService) Validate() error {
	if NormalizeUUID(string(s.UUID)) == "" {
		return fmt.Errorf("invalid service UUID %q", s.UUID)
	}
	seen := make(map[string]bool, len(s.Characteristics))
	for _, c := range s.Characteristics {
		u := NormalizeUUID(string(c.UUID))
		if u == "" {
			return fmt.Errorf("service %s: invalid characteristic UUID %q", s.UUID, c.UUID)
		}
		if seen[u] {
			return fmt.Errorf("service %s: duplicate characteristic %s", s.UUID, u)
		}
		seen[u] = true
		if c.Value != nil && c.Properties&^(PropertyRead|PropertyBroadcast|PropertyExtendedProperties) != 0 {
			return fmt.Errorf("characteristic %s: a cached value requires a read-only characteristic", u)
		}
		for _, d := range c.Descriptors {
			if NormalizeUUID(string(d.UUID)) == "" {
				return fmt.Errorf("characteristic %s: invalid descriptor UUID %q", u, d.UUID)
			}
		}
	}
	return nil
}

// Snapshot converts the definition into the read-only model.
func (s MutableService) Snapshot() Service {
	u := UUID(NormalizeUUID(string(s.UUID)))
	svc := Service{UUID: u, IsPrimary: s.IsPrimary}
	for _, c := range s.Characteristics {
		svc.Characteristics = append(svc.Characteristics, c.Snapshot(u))
	}
	for _, inc := range s.IncludedServices {
		svc.IncludedServices = append(svc.IncludedServices, UUID(NormalizeUUID(string(inc.UUID))))
	}
	return svc
}

// Snapshot converts the definition into the read-only model of a characteristic of service.
func (c MutableCharacteristic) Snapshot(service UUID) Characteristic {
	u := UUID(NormalizeUUID(string(c.UUID)))
	out := Characteristic{
		UUID:        u,
		ServiceUUID: service,
		Properties:  c.Properties,
		Value:       append([]byte(nil), c.Value...),
	}
	for _, d := range c.Descriptors {
		out.Descriptors = append(out.Descriptors, Descriptor{
			UUID:               UUID(NormalizeUUID(string(d.UUID))),
			ServiceUUID:        service,
			CharacteristicUUID: u,
			Value:              append([]byte(nil), d.Value...),
		})
	}
	return out
}
