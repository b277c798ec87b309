package main

import (
	"fmt"
	"strings"

	"github.com/srg/bleflow/pkg/bluetooth"
)

// attributeFlags select the attribute a read, write or subscribe acts on.
type attributeFlags struct {
	service    string
	descriptor string
}

// target is a parsed attribute selection. Service and Descriptor are empty
// when not given.
type target struct {
	Service        bluetooth.UUID
	Characteristic bluetooth.UUID
	Descriptor     bluetooth.UUID
}

func parseTarget(char string, f attributeFlags) (target, error) {
	var t target
	var err error
	if t.Characteristic, err = bluetooth.ParseUUID(char); err != nil {
		return t, fmt.Errorf("invalid characteristic UUID: %w", err)
	}
	if f.service != "" {
		if t.Service, err = bluetooth.ParseUUID(f.service); err != nil {
			return t, fmt.Errorf("invalid service UUID: %w", err)
		}
	}
	if f.descriptor != "" {
		if t.Descriptor, err = bluetooth.ParseUUID(f.descriptor); err != nil {
			return t, fmt.Errorf("invalid descriptor UUID: %w", err)
		}
	}
	return t, nil
}

// services is the discovery filter for t.
func (t target) services() []bluetooth.UUID {
	if t.Service == "" {
		return nil
	}
	return []bluetooth.UUID{t.Service}
}

// resolveCharacteristic finds t's characteristic in the discovered database.
// Without a service the characteristic UUID must be unique across services.
func resolveCharacteristic(p bluetooth.Peripheral, t target) (bluetooth.Characteristic, error) {
	if t.Service != "" {
		svc, ok := p.Service(t.Service)
		if !ok {
			return bluetooth.Characteristic{}, fmt.Errorf("service %s: %w", t.Service, ErrNotFound)
		}
		c, ok := svc.Characteristic(t.Characteristic)
		if !ok {
			return bluetooth.Characteristic{}, fmt.Errorf("characteristic %s in service %s: %w", t.Characteristic, t.Service, ErrNotFound)
		}
		return c, nil
	}

	var found []bluetooth.Characteristic
	for _, svc := range p.Services {
		if c, ok := svc.Characteristic(t.Characteristic); ok {
			found = append(found, c)
		}
	}

	switch len(found) {
	case 0:
		return bluetooth.Characteristic{}, fmt.Errorf("characteristic %s: %w", t.Characteristic, ErrNotFound)
	case 1:
		return found[0], nil
	default:
		services := make([]string, len(found))
		for i, c := range found {
			services[i] = string(c.ServiceUUID)
		}
		return bluetooth.Characteristic{}, fmt.Errorf("characteristic %s is in services %s, use --service: %w",
			t.Characteristic, strings.Join(services, ", "), ErrAmbiguous)
	}
}

// resolveDescriptor finds t's descriptor below c.
func resolveDescriptor(c bluetooth.Characteristic, t target) (bluetooth.Descriptor, error) {
	d, ok := c.Descriptor(t.Descriptor)
	if !ok {
		return bluetooth.Descriptor{}, fmt.Errorf("descriptor %s of characteristic %s: %w", t.Descriptor, c.UUID, ErrNotFound)
	}
	return d, nil
}
