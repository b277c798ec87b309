package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/central"
	"github.com/srg/bleflow/pkg/effect"
)

// gattState is the state of a command working on one connected peripheral.
type gattState struct {
	outcome

	address     string
	filter      []bluetooth.UUID
	descriptors bool

	requested  bool
	connected  bool
	pending    int
	discovered bool

	peripheral bluetooth.Peripheral
	values     []valueRecord
	expected   int
}

// valueRecord is one value read or notified.
type valueRecord struct {
	Service        bluetooth.UUID `json:"service"`
	Characteristic bluetooth.UUID `json:"characteristic"`
	Descriptor     bluetooth.UUID `json:"descriptor,omitempty"`
	Value          []byte         `json:"value"`
}

func gattFinished(s gattState) outcome {
	return s.outcome
}

// gattFlow connects to s.address, discovers its database and hands over to
// ready. Later characteristic and descriptor actions go to handle.
type gattFlow struct {
	client central.Client
	logger *logrus.Logger

	ready  func(s *gattState, p central.PeripheralClient) effect.Effect[action]
	handle func(s *gattState, p central.PeripheralClient, a central.PeripheralAction) effect.Effect[action]
}

func (f *gattFlow) reduce(s *gattState, a action) effect.Effect[action] {
	if s.done {
		return effect.None[action]()
	}

	switch a := a.(type) {
	case started:
		return fromCentral(f.client.Delegate())

	case written:
		s.finish(a.err)

	case centralAction:
		switch ca := a.Action.(type) {
		case central.DidUpdateState:
			if ca.State != bluetooth.ManagerStatePoweredOn {
				s.finish(fmt.Errorf("bluetooth is %s", ca.State))
				return effect.None[action]()
			}
			if s.requested {
				return effect.None[action]()
			}
			s.requested = true
			f.logger.WithField("peripheral", s.address).Debug("Connecting")
			return fromCentral(f.client.Connect(bluetooth.Peripheral{Identifier: s.address}, nil))

		case central.PeripheralEvent:
			if ca.ID != s.address {
				return effect.None[action]()
			}
			return f.reducePeripheral(s, ca.Action)
		}
	}
	return effect.None[action]()
}

func (f *gattFlow) reducePeripheral(s *gattState, a central.PeripheralAction) effect.Effect[action] {
	switch a := a.(type) {
	case central.DidFailToConnect:
		s.finish(errorOr(a.Err, fmt.Errorf("failed to connect to %s", s.address)))
		return effect.None[action]()

	case central.DidDisconnect:
		if a.Err != nil {
			s.finish(fmt.Errorf("%w: %w", ErrConnectionLost, a.Err))
		} else {
			s.finish(ErrConnectionLost)
		}
		return effect.None[action]()
	}

	p, ok := f.client.Peripheral(s.address)
	if !ok {
		s.finish(fmt.Errorf("peripheral %s: %w", s.address, ErrConnectionLost))
		return effect.None[action]()
	}

	switch a := a.(type) {
	case central.DidConnect:
		s.connected = true
		s.peripheral = a.Peripheral
		s.pending = 1
		return fromCentral(p.DiscoverServices(s.filter))

	case central.DidDiscoverServices:
		s.pending--
		s.peripheral = a.Peripheral
		if a.Err != nil {
			s.finish(a.Err)
			return effect.None[action]()
		}
		var next []effect.Effect[action]
		for _, svc := range a.Peripheral.Services {
			s.pending++
			next = append(next, fromCentral(p.DiscoverCharacteristics(nil, svc)))
		}
		return effect.Merge(append(next, f.settle(s, p))...)

	case central.ServiceEvent:
		if d, ok := a.Action.(central.DidDiscoverCharacteristics); ok {
			s.pending--
			s.peripheral = d.Peripheral
			if d.Err != nil {
				s.finish(d.Err)
				return effect.None[action]()
			}
			var next []effect.Effect[action]
			if s.descriptors {
				for _, c := range d.Service.Characteristics {
					s.pending++
					next = append(next, fromCentral(p.DiscoverDescriptors(c)))
				}
			}
			return effect.Merge(append(next, f.settle(s, p))...)
		}

	case central.CharacteristicEvent:
		if d, ok := a.Action.(central.DidDiscoverDescriptors); ok && !s.discovered {
			s.pending--
			s.peripheral = d.Peripheral
			if d.Err != nil {
				f.logger.WithFields(logrus.Fields{
					"characteristic": d.Characteristic.UUID,
					"error":          d.Err,
				}).Warn("Failed to discover descriptors")
			}
			return f.settle(s, p)
		}
		if s.discovered && f.handle != nil {
			return f.handle(s, p, a)
		}

	case central.DescriptorEvent:
		if s.discovered && f.handle != nil {
			return f.handle(s, p, a)
		}
	}
	return effect.None[action]()
}

// settle hands over to ready once every discovery request was answered.
func (f *gattFlow) settle(s *gattState, p central.PeripheralClient) effect.Effect[action] {
	if s.pending > 0 || s.discovered || s.done {
		return effect.None[action]()
	}
	s.discovered = true
	s.peripheral = p.Snapshot()
	f.logger.WithFields(logrus.Fields{
		"peripheral": s.address,
		"services":   len(s.peripheral.Services),
	}).Debug("Discovery completed")

	if f.ready == nil {
		s.finish(nil)
		return effect.None[action]()
	}
	return f.ready(s, p)
}

// errorOr returns err unless it is nil, in which case fallback is returned.
func errorOr(err *bluetooth.Error, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
