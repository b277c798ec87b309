package session

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/srg/bleflow/internal/groutine"
	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/internal/platform/goble"
	"github.com/srg/bleflow/internal/tracing"
	"github.com/srg/bleflow/pkg/bluetooth"
)

// key normalizes a caller supplied UUID for tree lookups.
func key(u bluetooth.UUID) bluetooth.UUID {
	return bluetooth.UUID(bluetooth.NormalizeUUID(string(u)))
}

func (s *Session) notConnected() *bluetooth.Error {
	return bluetooth.NewKnownError(bluetooth.CodeNotConnected, "peripheral %s is not connected", s.id)
}

func undiscovered(kind string, u bluetooth.UUID) *bluetooth.Error {
	return bluetooth.NewKnownError(bluetooth.CodeInvalidParameters, "%s %s has not been discovered", kind, u)
}

func (s *Session) findServiceLocked(u bluetooth.UUID) (*serviceNode, bool) {
	return s.services.Get(key(u))
}

// findCharacteristicLocked looks a characteristic up in its service, or in
// every service when the service UUID is empty.
func (s *Session) findCharacteristicLocked(service, char bluetooth.UUID) (*characteristicNode, bool) {
	if service != "" {
		sn, ok := s.findServiceLocked(service)
		if !ok {
			return nil, false
		}
		return sn.characteristics.Get(key(char))
	}
	for sp := s.services.Oldest(); sp != nil; sp = sp.Next() {
		if cn, ok := sp.Value.characteristics.Get(key(char)); ok {
			return cn, true
		}
	}
	return nil, false
}

func (s *Session) findDescriptorLocked(d bluetooth.Descriptor) (*characteristicNode, *descriptorNode, bool) {
	cn, ok := s.findCharacteristicLocked(d.ServiceUUID, d.CharacteristicUUID)
	if !ok {
		return nil, nil, false
	}
	dn, ok := cn.descriptors.Get(key(d.UUID))
	return cn, dn, ok
}

// serviceEvent snapshots the peripheral and one service, falling back to fallback when it is gone.
func (s *Session) serviceEvent(fallback bluetooth.Service) (bluetooth.Peripheral, bluetooth.Service) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sn, ok := s.findServiceLocked(fallback.UUID); ok {
		return s.snapshotLocked(), sn.snapshot()
	}
	return s.snapshotLocked(), fallback
}

func (s *Session) characteristicEvent(fallback bluetooth.Characteristic) (bluetooth.Peripheral, bluetooth.Characteristic) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cn, ok := s.findCharacteristicLocked(fallback.ServiceUUID, fallback.UUID); ok {
		return s.snapshotLocked(), cn.snapshot()
	}
	return s.snapshotLocked(), fallback
}

func (s *Session) descriptorEvent(fallback bluetooth.Descriptor) (bluetooth.Peripheral, bluetooth.Descriptor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cn, dn, ok := s.findDescriptorLocked(fallback); ok {
		return s.snapshotLocked(), bluetooth.Descriptor{
			UUID:               dn.uuid,
			ServiceUUID:        cn.service,
			CharacteristicUUID: cn.uuid,
			Value:              append([]byte(nil), dn.value...),
		}
	}
	return s.snapshotLocked(), fallback
}

// ReadRSSI reads the signal strength of the link.
func (s *Session) ReadRSSI() {
	l := s.currentLink()
	if l == nil {
		s.m.delegate.DidReadRSSI(s.Snapshot(), 0, s.notConnected())
		return
	}

	var rssi int
	l.queue.enqueue(&op{
		name: "read_rssi",
		run: func(context.Context) error {
			rssi = l.client.ReadRSSI()
			return nil
		},
		done: func(err *bluetooth.Error) {
			if err != nil {
				s.m.delegate.DidReadRSSI(s.Snapshot(), 0, err)
				return
			}
			s.m.delegate.DidReadRSSI(s.Snapshot(), rssi, nil)
		},
	})
}

// DiscoverServices discovers primary services. An empty filter discovers
// everything and replaces the tree; services that disappear are reported
// through DidModifyServices.
func (s *Session) DiscoverServices(filter []bluetooth.UUID) {
	l := s.currentLink()
	if l == nil {
		s.m.delegate.DidDiscoverServices(s.Snapshot(), s.notConnected())
		return
	}

	var found []*ble.Service
	l.queue.enqueue(&op{
		name:  "discover_services",
		attrs: []attribute.KeyValue{attribute.Int("ble.filter", len(filter))},
		run: func(context.Context) error {
			var err error
			found, err = l.client.DiscoverServices(goble.ToBLEUUIDs(filter))
			return err
		},
		done: func(err *bluetooth.Error) {
			if err != nil {
				s.m.delegate.DidDiscoverServices(s.Snapshot(), err)
				return
			}
			invalidated := s.mergeServices(filter, found)
			p := s.Snapshot()
			if len(invalidated) > 0 {
				s.logger.WithField("invalidated", len(invalidated)).Info("Services modified")
				s.m.delegate.DidModifyServices(p, invalidated)
			}
			s.m.delegate.DidDiscoverServices(p, nil)
		},
	})
}

// mergeServices installs discovered services and returns the ones that are gone.
// A service found again at the same handle keeps its discovered characteristics.
func (s *Session) mergeServices(filter []bluetooth.UUID, found []*ble.Service) []bluetooth.Service {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := orderedmap.New[bluetooth.UUID, *serviceNode]()
	if len(filter) > 0 {
		for sp := s.services.Oldest(); sp != nil; sp = sp.Next() {
			next.Set(sp.Key, sp.Value)
		}
	}

	var invalidated []bluetooth.Service
	seen := make(map[bluetooth.UUID]bool, len(found))
	for _, svc := range found {
		u := goble.FromBLEUUID(svc.UUID)
		seen[u] = true
		if old, ok := s.services.Get(u); ok && old.svc != nil && old.svc.Handle == svc.Handle {
			old.svc = svc
			next.Set(u, old)
			continue
		}
		if old, ok := s.services.Get(u); ok {
			invalidated = append(invalidated, old.snapshot())
		}
		next.Set(u, &serviceNode{
			svc:             svc,
			uuid:            u,
			characteristics: orderedmap.New[bluetooth.UUID, *characteristicNode](),
		})
	}

	for sp := s.services.Oldest(); sp != nil; sp = sp.Next() {
		if seen[sp.Key] {
			continue
		}
		if len(filter) > 0 && !bluetooth.ContainsUUID(filter, sp.Key) {
			continue
		}
		invalidated = append(invalidated, sp.Value.snapshot())
		next.Delete(sp.Key)
	}

	s.services = next
	return invalidated
}

// DiscoverIncludedServices discovers the services included by svc.
func (s *Session) DiscoverIncludedServices(filter []bluetooth.UUID, svc bluetooth.Service) {
	l := s.currentLink()
	if l == nil {
		s.m.delegate.DidDiscoverIncludedServices(s.Snapshot(), svc, s.notConnected())
		return
	}

	s.mu.RLock()
	sn, ok := s.findServiceLocked(svc.UUID)
	var handle *ble.Service
	if ok {
		handle = sn.svc
	}
	s.mu.RUnlock()
	if !ok {
		s.m.delegate.DidDiscoverIncludedServices(s.Snapshot(), svc, undiscovered("service", svc.UUID))
		return
	}

	var found []*ble.Service
	l.queue.enqueue(&op{
		name:  "discover_included_services",
		attrs: []attribute.KeyValue{tracing.UUID("ble.service", svc.UUID.String())},
		run: func(context.Context) error {
			var err error
			found, err = l.client.DiscoverIncludedServices(goble.ToBLEUUIDs(filter), handle)
			return err
		},
		done: func(err *bluetooth.Error) {
			if err == nil {
				s.mu.Lock()
				if sn, ok := s.findServiceLocked(svc.UUID); ok {
					sn.included = sn.included[:0]
					for _, inc := range found {
						sn.included = append(sn.included, goble.FromBLEUUID(inc.UUID))
					}
				}
				s.mu.Unlock()
			}
			p, snap := s.serviceEvent(svc)
			s.m.delegate.DidDiscoverIncludedServices(p, snap, err)
		},
	})
}

// DiscoverCharacteristics discovers characteristics of a discovered service.
func (s *Session) DiscoverCharacteristics(filter []bluetooth.UUID, svc bluetooth.Service) {
	l := s.currentLink()
	if l == nil {
		s.m.delegate.DidDiscoverCharacteristics(s.Snapshot(), svc, s.notConnected())
		return
	}

	s.mu.RLock()
	sn, ok := s.findServiceLocked(svc.UUID)
	var handle *ble.Service
	if ok {
		handle = sn.svc
	}
	s.mu.RUnlock()
	if !ok {
		s.m.delegate.DidDiscoverCharacteristics(s.Snapshot(), svc, undiscovered("service", svc.UUID))
		return
	}

	var found []*ble.Characteristic
	l.queue.enqueue(&op{
		name:  "discover_characteristics",
		attrs: []attribute.KeyValue{tracing.UUID("ble.service", svc.UUID.String())},
		run: func(context.Context) error {
			var err error
			found, err = l.client.DiscoverCharacteristics(goble.ToBLEUUIDs(filter), handle)
			return err
		},
		done: func(err *bluetooth.Error) {
			if err == nil {
				s.mergeCharacteristics(svc.UUID, filter, found)
			}
			p, snap := s.serviceEvent(svc)
			s.m.delegate.DidDiscoverCharacteristics(p, snap, err)
		},
	})
}

func (s *Session) mergeCharacteristics(service bluetooth.UUID, filter []bluetooth.UUID, found []*ble.Characteristic) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sn, ok := s.findServiceLocked(service)
	if !ok {
		return
	}

	next := orderedmap.New[bluetooth.UUID, *characteristicNode]()
	if len(filter) > 0 {
		for cp := sn.characteristics.Oldest(); cp != nil; cp = cp.Next() {
			if !bluetooth.ContainsUUID(filter, cp.Key) {
				next.Set(cp.Key, cp.Value)
			}
		}
	}
	for _, c := range found {
		u := goble.FromBLEUUID(c.UUID)
		if old, ok := sn.characteristics.Get(u); ok && old.char != nil && old.char.ValueHandle == c.ValueHandle {
			old.char = c
			old.properties = goble.FromBLEProperty(c.Property)
			next.Set(u, old)
			continue
		}
		next.Set(u, &characteristicNode{
			char:        c,
			uuid:        u,
			service:     sn.uuid,
			properties:  goble.FromBLEProperty(c.Property),
			descriptors: orderedmap.New[bluetooth.UUID, *descriptorNode](),
		})
	}
	sn.characteristics = next
}

// characteristicHandle resolves c to its platform handle. The error is nil when found.
func (s *Session) characteristicHandle(c bluetooth.Characteristic) (*ble.Characteristic, bluetooth.Properties, bluetooth.UUID, *bluetooth.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cn, ok := s.findCharacteristicLocked(c.ServiceUUID, c.UUID)
	if !ok {
		return nil, 0, "", undiscovered("characteristic", c.UUID)
	}
	return cn.char, cn.properties, cn.service, nil
}

// DiscoverDescriptors discovers the descriptors of a discovered characteristic.
func (s *Session) DiscoverDescriptors(c bluetooth.Characteristic) {
	l := s.currentLink()
	if l == nil {
		s.m.delegate.DidDiscoverDescriptors(s.Snapshot(), c, s.notConnected())
		return
	}
	handle, _, service, lookupErr := s.characteristicHandle(c)
	if lookupErr != nil {
		s.m.delegate.DidDiscoverDescriptors(s.Snapshot(), c, lookupErr)
		return
	}
	c.ServiceUUID = service

	var found []*ble.Descriptor
	l.queue.enqueue(&op{
		name:  "discover_descriptors",
		attrs: []attribute.KeyValue{tracing.UUID("ble.characteristic", c.UUID.String())},
		run: func(context.Context) error {
			var err error
			found, err = l.client.DiscoverDescriptors(nil, handle)
			return err
		},
		done: func(err *bluetooth.Error) {
			if err == nil {
				s.mu.Lock()
				if cn, ok := s.findCharacteristicLocked(c.ServiceUUID, c.UUID); ok {
					next := orderedmap.New[bluetooth.UUID, *descriptorNode]()
					for _, d := range found {
						u := goble.FromBLEUUID(d.UUID)
						node := &descriptorNode{desc: d, uuid: u}
						if old, ok := cn.descriptors.Get(u); ok && old.desc != nil && old.desc.Handle == d.Handle {
							node.value = old.value
						}
						next.Set(u, node)
					}
					cn.descriptors = next
				}
				s.mu.Unlock()
			}
			p, snap := s.characteristicEvent(c)
			s.m.delegate.DidDiscoverDescriptors(p, snap, err)
		},
	})
}

// ReadCharacteristic reads the value; it arrives as DidUpdateValue.
func (s *Session) ReadCharacteristic(c bluetooth.Characteristic) {
	l := s.currentLink()
	if l == nil {
		s.m.delegate.DidUpdateValue(s.Snapshot(), c, s.notConnected())
		return
	}
	handle, _, service, lookupErr := s.characteristicHandle(c)
	if lookupErr != nil {
		s.m.delegate.DidUpdateValue(s.Snapshot(), c, lookupErr)
		return
	}
	c.ServiceUUID = service

	var value []byte
	l.queue.enqueue(&op{
		name:  "read_characteristic",
		attrs: []attribute.KeyValue{tracing.UUID("ble.characteristic", c.UUID.String())},
		run: func(context.Context) error {
			var err error
			value, err = l.client.ReadCharacteristic(handle)
			return err
		},
		done: func(err *bluetooth.Error) {
			if err == nil {
				s.setCharacteristicValue(c.ServiceUUID, c.UUID, value)
			}
			p, snap := s.characteristicEvent(c)
			s.m.delegate.DidUpdateValue(p, snap, err)
		},
	})
}

func (s *Session) setCharacteristicValue(service, char bluetooth.UUID, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cn, ok := s.findCharacteristicLocked(service, char)
	if ok {
		cn.value = value
	}
	return ok
}

// WriteCharacteristic writes data. Acknowledged writes report DidWriteValue;
// unacknowledged writes are paced and only report readiness after back-pressure.
func (s *Session) WriteCharacteristic(data []byte, c bluetooth.Characteristic, t bluetooth.WriteType) {
	s.writeCharacteristic(data, c, t, nil)
}

// writeCharacteristic is WriteCharacteristic with an optional completion
// callback; when set, the outcome goes to the callback instead of the delegate.
func (s *Session) writeCharacteristic(data []byte, c bluetooth.Characteristic, t bluetooth.WriteType, complete func(*bluetooth.Error)) {
	report := func(err *bluetooth.Error) {
		if complete != nil {
			complete(err)
			return
		}
		if t == bluetooth.WriteWithResponse {
			p, snap := s.characteristicEvent(c)
			s.m.delegate.DidWriteValue(p, snap, err)
		} else if err != nil {
			s.logger.WithFields(logrus.Fields{
				"characteristic": c.UUID,
				"error":          err,
			}).Warn("Write without response failed")
		}
	}

	l := s.currentLink()
	if l == nil {
		report(s.notConnected())
		return
	}
	handle, _, service, lookupErr := s.characteristicHandle(c)
	if lookupErr != nil {
		report(lookupErr)
		return
	}
	c.ServiceUUID = service

	noRsp := t == bluetooth.WriteWithoutResponse
	paced := false
	l.queue.enqueue(&op{
		name: "write_characteristic",
		attrs: []attribute.KeyValue{
			tracing.UUID("ble.characteristic", c.UUID.String()),
			tracing.Size(len(data)),
			attribute.Bool("ble.without_response", noRsp),
		},
		run: func(ctx context.Context) error {
			if noRsp && !l.limiter.Allow() {
				paced = true
				s.setCanSendWriteWithoutResponse(false)
				if err := l.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			return l.client.WriteCharacteristic(handle, data, noRsp)
		},
		done: func(err *bluetooth.Error) {
			if err == nil && paced {
				s.setCanSendWriteWithoutResponse(true)
				s.m.delegate.IsReadyToSendWriteWithoutResponse(s.Snapshot())
			}
			report(err)
		},
	})
}

func (s *Session) setCanSendWriteWithoutResponse(v bool) {
	s.mu.Lock()
	s.canSendWNR = v
	s.mu.Unlock()
}

// ReadDescriptor reads a discovered descriptor; the value arrives as DidUpdateDescriptorValue.
func (s *Session) ReadDescriptor(d bluetooth.Descriptor) {
	l := s.currentLink()
	if l == nil {
		s.m.delegate.DidUpdateDescriptorValue(s.Snapshot(), d, s.notConnected())
		return
	}
	handle, lookupErr := s.descriptorHandle(&d)
	if lookupErr != nil {
		s.m.delegate.DidUpdateDescriptorValue(s.Snapshot(), d, lookupErr)
		return
	}

	var value []byte
	l.queue.enqueue(&op{
		name:  "read_descriptor",
		attrs: []attribute.KeyValue{tracing.UUID("ble.descriptor", d.UUID.String())},
		run: func(context.Context) error {
			var err error
			value, err = l.client.ReadDescriptor(handle)
			return err
		},
		done: func(err *bluetooth.Error) {
			if err == nil {
				s.mu.Lock()
				if _, dn, ok := s.findDescriptorLocked(d); ok {
					dn.value = value
				}
				s.mu.Unlock()
			}
			p, snap := s.descriptorEvent(d)
			s.m.delegate.DidUpdateDescriptorValue(p, snap, err)
		},
	})
}

// WriteDescriptor writes a discovered descriptor.
func (s *Session) WriteDescriptor(data []byte, d bluetooth.Descriptor) {
	l := s.currentLink()
	if l == nil {
		s.m.delegate.DidWriteDescriptorValue(s.Snapshot(), d, s.notConnected())
		return
	}
	handle, lookupErr := s.descriptorHandle(&d)
	if lookupErr != nil {
		s.m.delegate.DidWriteDescriptorValue(s.Snapshot(), d, lookupErr)
		return
	}

	l.queue.enqueue(&op{
		name: "write_descriptor",
		attrs: []attribute.KeyValue{
			tracing.UUID("ble.descriptor", d.UUID.String()),
			tracing.Size(len(data)),
		},
		run: func(context.Context) error {
			return l.client.WriteDescriptor(handle, data)
		},
		done: func(err *bluetooth.Error) {
			if err == nil {
				s.mu.Lock()
				if _, dn, ok := s.findDescriptorLocked(d); ok {
					dn.value = append([]byte(nil), data...)
				}
				s.mu.Unlock()
			}
			p, snap := s.descriptorEvent(d)
			s.m.delegate.DidWriteDescriptorValue(p, snap, err)
		},
	})
}

// descriptorHandle resolves d and fills in its service UUID.
func (s *Session) descriptorHandle(d *bluetooth.Descriptor) (*ble.Descriptor, *bluetooth.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cn, ok := s.findCharacteristicLocked(d.ServiceUUID, d.CharacteristicUUID)
	if !ok {
		return nil, undiscovered("characteristic", d.CharacteristicUUID)
	}
	dn, ok := cn.descriptors.Get(key(d.UUID))
	if !ok {
		return nil, undiscovered("descriptor", d.UUID)
	}
	d.ServiceUUID = cn.service
	return dn.desc, nil
}

// SetNotify enables or disables notifications (or indications when the
// characteristic only supports those).
func (s *Session) SetNotify(enabled bool, c bluetooth.Characteristic) {
	l := s.currentLink()
	if l == nil {
		s.m.delegate.DidUpdateNotificationState(s.Snapshot(), c, s.notConnected())
		return
	}
	handle, props, service, lookupErr := s.characteristicHandle(c)
	if lookupErr != nil {
		s.m.delegate.DidUpdateNotificationState(s.Snapshot(), c, lookupErr)
		return
	}
	c.ServiceUUID = service

	if !props.CanNotify() {
		p, snap := s.characteristicEvent(c)
		s.m.delegate.DidUpdateNotificationState(p, snap,
			bluetooth.NewKnownError(bluetooth.CodeOperationNotSupported, "characteristic %s supports neither notify nor indicate", c.UUID))
		return
	}
	indication := !props.Has(bluetooth.PropertyNotify)
	charUUID := key(c.UUID)

	l.queue.enqueue(&op{
		name: "set_notify",
		attrs: []attribute.KeyValue{
			tracing.UUID("ble.characteristic", c.UUID.String()),
			attribute.Bool("ble.enabled", enabled),
			attribute.Bool("ble.indication", indication),
		},
		run: func(context.Context) error {
			if !enabled {
				return l.client.Unsubscribe(handle, indication)
			}
			return l.client.Subscribe(handle, indication, func(data []byte) {
				l.demux.push(service, charUUID, data)
			})
		},
		done: func(err *bluetooth.Error) {
			if err == nil {
				s.mu.Lock()
				if cn, ok := s.findCharacteristicLocked(service, c.UUID); ok {
					cn.notifying = enabled
				}
				s.mu.Unlock()
			}
			p, snap := s.characteristicEvent(c)
			s.m.delegate.DidUpdateNotificationState(p, snap, err)
		},
	})
}

// deliverNotification stores a demultiplexed value and reports it.
func (s *Session) deliverNotification(n notification) {
	if !s.setCharacteristicValue(n.service, n.characteristic, n.data) {
		s.logger.WithField("characteristic", n.characteristic).Debug("Dropping notification for unknown characteristic")
		return
	}
	p, snap := s.characteristicEvent(bluetooth.Characteristic{UUID: n.characteristic, ServiceUUID: n.service})
	s.m.delegate.DidUpdateValue(p, snap, nil)
}

// OpenL2CAPChannel opens a connection-oriented channel when the adapter supports it.
func (s *Session) OpenL2CAPChannel(psm uint16) {
	l := s.currentLink()
	if l == nil {
		s.m.delegate.DidOpenL2CAPChannel(s.Snapshot(), nil, s.notConnected())
		return
	}
	opener, ok := l.client.(platform.L2CAPOpener)
	if !ok {
		s.m.delegate.DidOpenL2CAPChannel(s.Snapshot(), nil,
			bluetooth.NewKnownError(bluetooth.CodeOperationNotSupported, "L2CAP channels are not supported by this adapter"))
		return
	}

	groutine.Go(s.m.ctx, "l2cap-open-"+s.id, func(ctx context.Context) {
		stream, err := opener.OpenL2CAP(ctx, psm)
		if err != nil {
			s.m.delegate.DidOpenL2CAPChannel(s.Snapshot(), nil, bluetooth.NewError(goble.NormalizeError(err)))
			return
		}
		s.m.delegate.DidOpenL2CAPChannel(s.Snapshot(), &bluetooth.L2CAPChannel{
			PSM:    psm,
			PeerID: s.id,
			Stream: stream,
		}, nil)
	})
}
