package goble

import (
	"github.com/go-ble/ble"
)

// client adapts a go-ble client to platform.Client, normalizing every error.
type client struct {
	cln ble.Client
}

func (c *client) Address() string {
	return c.cln.Addr().String()
}

func (c *client) Name() string {
	return c.cln.Name()
}

func (c *client) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	ss, err := c.cln.DiscoverServices(filter)
	return ss, NormalizeError(err)
}

func (c *client) DiscoverIncludedServices(filter []ble.UUID, s *ble.Service) ([]*ble.Service, error) {
	ss, err := c.cln.DiscoverIncludedServices(filter, s)
	return ss, NormalizeError(err)
}

func (c *client) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	cs, err := c.cln.DiscoverCharacteristics(filter, s)
	return cs, NormalizeError(err)
}

func (c *client) DiscoverDescriptors(filter []ble.UUID, ch *ble.Characteristic) ([]*ble.Descriptor, error) {
	ds, err := c.cln.DiscoverDescriptors(filter, ch)
	return ds, NormalizeError(err)
}

func (c *client) ReadCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	v, err := c.cln.ReadCharacteristic(ch)
	return v, NormalizeError(err)
}

func (c *client) WriteCharacteristic(ch *ble.Characteristic, value []byte, noRsp bool) error {
	return NormalizeError(c.cln.WriteCharacteristic(ch, value, noRsp))
}

func (c *client) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	v, err := c.cln.ReadDescriptor(d)
	return v, NormalizeError(err)
}

func (c *client) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	return NormalizeError(c.cln.WriteDescriptor(d, value))
}

func (c *client) ReadRSSI() int {
	return c.cln.ReadRSSI()
}

func (c *client) ExchangeMTU(rxMTU int) (int, error) {
	mtu, err := c.cln.ExchangeMTU(rxMTU)
	return mtu, NormalizeError(err)
}

func (c *client) Subscribe(ch *ble.Characteristic, indication bool, h func(data []byte)) error {
	return NormalizeError(c.cln.Subscribe(ch, indication, h))
}

func (c *client) Unsubscribe(ch *ble.Characteristic, indication bool) error {
	return NormalizeError(c.cln.Unsubscribe(ch, indication))
}

func (c *client) ClearSubscriptions() error {
	return NormalizeError(c.cln.ClearSubscriptions())
}

func (c *client) CancelConnection() error {
	return NormalizeError(c.cln.CancelConnection())
}

// Disconnected returns the client's disconnect channel when the backend
// exposes one (CoreBluetooth and HCI both do in the forked stack).
func (c *client) Disconnected() <-chan struct{} {
	if d, ok := c.cln.(interface{ Disconnected() <-chan struct{} }); ok {
		return d.Disconnected()
	}
	return nil
}
