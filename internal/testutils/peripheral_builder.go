//go:build test

package testutils

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/internal/platform/goble"
	"github.com/srg/bleflow/pkg/bluetooth"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID        string   `json:"uuid"`
	Properties  string   `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value       []byte   `json:"value,omitempty"`
	Descriptors []string `json:"descriptors,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralProfileConfig represents the complete peripheral profile for mocking
type PeripheralProfileConfig struct {
	Name     string          `json:"name,omitempty"`
	MTU      int             `json:"mtu,omitempty"`
	RSSI     int             `json:"rssi,omitempty"`
	Services []ServiceConfig `json:"services"`
}

// MockPeripheral is the result of PeripheralBuilder.Build: a central that
// dials a single client exposing the configured GATT profile.
type MockPeripheral struct {
	Central  *MockCentral
	Client   *MockClient
	Services []*ble.Service
}

// Characteristic returns the platform characteristic with the given UUID.
func (p *MockPeripheral) Characteristic(uuid string) *ble.Characteristic {
	want := bluetooth.MustParseUUID(uuid)
	for _, s := range p.Services {
		for _, c := range s.Characteristics {
			if goble.FromBLEUUID(c.UUID) == want {
				return c
			}
		}
	}
	panic(fmt.Sprintf("MockPeripheral: characteristic %s not configured", uuid))
}

// PeripheralBuilder builds a mocked platform with full service/characteristic support
type PeripheralBuilder struct {
	profile            PeripheralProfileConfig
	scanAdvertisements []platform.Advertisement
	dialErr            error
}

// NewPeripheralBuilder creates a new peripheral builder
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{
		profile: PeripheralProfileConfig{
			Name:     "MockPeripheral",
			MTU:      185,
			RSSI:     -60,
			Services: []ServiceConfig{},
		},
	}
}

// WithName sets the GAP name the client reports after connecting.
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.profile.Name = name
	return b
}

// WithMTU sets the MTU the client negotiates.
func (b *PeripheralBuilder) WithMTU(mtu int) *PeripheralBuilder {
	b.profile.MTU = mtu
	return b
}

// WithService adds a service to the peripheral profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte, descriptors ...string) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:        uuid,
		Properties:  properties,
		Value:       value,
		Descriptors: descriptors,
	})
	return b
}

// FromJSON fills the peripheral profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	config := PeripheralProfileConfig{Name: b.profile.Name, MTU: b.profile.MTU, RSSI: b.profile.RSSI}
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// WithScanAdvertisements makes Scan report advs before blocking until cancelled.
func (b *PeripheralBuilder) WithScanAdvertisements(advs ...platform.Advertisement) *PeripheralBuilder {
	b.scanAdvertisements = append(b.scanAdvertisements, advs...)
	return b
}

// WithDialError makes every Dial fail with err.
func (b *PeripheralBuilder) WithDialError(err error) *PeripheralBuilder {
	b.dialErr = err
	return b
}

// GetServices returns the configured services
func (b *PeripheralBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}

// parseCharacteristicProperties converts property string to ble.Property flags
func parseCharacteristicProperties(props string) ble.Property {
	if props == "" {
		return ble.CharRead | ble.CharWrite | ble.CharNotify // default
	}
	parsed, err := bluetooth.ParseProperties(props)
	if err != nil {
		panic(fmt.Sprintf("PeripheralBuilder: %v", err))
	}
	return goble.ToBLEProperty(parsed)
}

func mustBLEUUID(s string) ble.UUID {
	u, err := goble.ToBLEUUID(bluetooth.MustParseUUID(s))
	if err != nil {
		panic(fmt.Sprintf("PeripheralBuilder: invalid UUID %q: %v", s, err))
	}
	return u
}

// Build creates the mocked central and client with the configured profile.
// Every expectation is optional so tests only assert on what they exercise.
func (b *PeripheralBuilder) Build() *MockPeripheral {
	central := &MockCentral{}
	client := NewMockClient()

	var handle uint16 = 1
	next := func() uint16 {
		h := handle
		handle++
		return h
	}

	var services []*ble.Service
	for _, svcConfig := range b.profile.Services {
		svc := &ble.Service{UUID: mustBLEUUID(svcConfig.UUID), Handle: next()}

		for _, charConfig := range svcConfig.Characteristics {
			char := &ble.Characteristic{
				UUID:     mustBLEUUID(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Value,
				Handle:   next(),
			}
			char.ValueHandle = next()

			for _, d := range charConfig.Descriptors {
				char.Descriptors = append(char.Descriptors, &ble.Descriptor{UUID: mustBLEUUID(d), Handle: next()})
			}
			if char.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
				cccd := &ble.Descriptor{UUID: ble.ClientCharacteristicConfigUUID, Handle: next()}
				char.CCCD = cccd
				char.Descriptors = append(char.Descriptors, cccd)
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		svc.EndHandle = handle - 1
		services = append(services, svc)
	}

	if b.dialErr != nil {
		central.On("Dial", mock.Anything, mock.Anything).Return(nil, b.dialErr).Maybe()
	} else {
		central.On("Dial", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { client.Relink() }).
			Return(client, nil).Maybe()
	}
	central.On("Stop").Return(nil).Maybe()

	advs := b.scanAdvertisements
	central.On("Scan", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			h := args.Get(2).(func(platform.Advertisement))
			for _, adv := range advs {
				h(adv)
			}
			<-ctx.Done()
		}).
		Return(nil).Maybe()

	client.On("Name").Return(b.profile.Name).Maybe()
	client.On("Address").Return("").Maybe()
	client.On("ExchangeMTU", mock.Anything).Return(b.profile.MTU, nil).Maybe()
	client.On("ReadRSSI").Return(b.profile.RSSI).Maybe()
	client.On("DiscoverServices", mock.Anything).Return(services, nil).Maybe()
	client.On("ClearSubscriptions").Return(nil).Maybe()
	client.On("CancelConnection").Return(nil).Maybe()

	for _, svc := range services {
		client.On("DiscoverCharacteristics", mock.Anything, svc).Return(svc.Characteristics, nil).Maybe()
		client.On("DiscoverIncludedServices", mock.Anything, svc).Return([]*ble.Service(nil), nil).Maybe()

		for _, char := range svc.Characteristics {
			client.On("DiscoverDescriptors", mock.Anything, char).Return(char.Descriptors, nil).Maybe()
			client.On("WriteCharacteristic", char, mock.Anything, mock.Anything).Return(nil).Maybe()
			client.On("Subscribe", char, mock.Anything, mock.Anything).Return(nil).Maybe()
			client.On("Unsubscribe", char, mock.Anything).Return(nil).Maybe()

			if char.Property&ble.CharRead != 0 {
				client.On("ReadCharacteristic", char).Return(char.Value, nil).Maybe()
			} else {
				client.On("ReadCharacteristic", char).Return(nil, goble.NormalizeError(ble.ErrReadNotPerm)).Maybe()
			}

			for _, d := range char.Descriptors {
				client.On("ReadDescriptor", d).Return([]byte{0x00, 0x00}, nil).Maybe()
				client.On("WriteDescriptor", d, mock.Anything).Return(nil).Maybe()
			}
		}
	}

	return &MockPeripheral{Central: central, Client: client, Services: services}
}
