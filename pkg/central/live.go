package central

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/internal/platform/goble"
	"github.com/srg/bleflow/internal/session"
	"github.com/srg/bleflow/internal/stream"
	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/config"
	"github.com/srg/bleflow/pkg/effect"
)

// PlatformFactory opens the local adapter in the central role (can be overridden in tests).
var PlatformFactory = goble.NewCentral

// writerCapacity is the number of bytes an OpenWriter buffers between chunks.
const writerCapacity = 4096

// Live is the Client backed by the host Bluetooth stack.
type Live struct {
	manager *session.Manager
	actions *stream.Broadcaster[Action]
	logger  *logrus.Logger
}

var _ Client = (*Live)(nil)

// NewLive opens the adapter and starts a central manager. An adapter that is
// off, unsupported or unauthorized is not an error: the client reports that
// state and every operation fails.
func NewLive(cfg config.CentralConfig, opts *bluetooth.InitializationOptions, logger *logrus.Logger) (*Live, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := PlatformFactory(logger)
	state, known := platform.StateFromError(err)
	if !known {
		return nil, fmt.Errorf("failed to open central: %w", err)
	}
	if err != nil {
		logger.WithFields(logrus.Fields{
			"state": state,
			"error": err,
		}).Warn("Bluetooth is not available")
		dev = nil
	}

	l := &Live{
		actions: stream.NewBroadcaster[Action]("central", cfg.ActionBuffer, logger),
		logger:  logger,
	}
	l.manager = session.NewManager(dev, state, cfg, opts, &publisher{out: l.actions}, logger)
	return l, nil
}

// Close disconnects every peripheral, stops scanning and ends every Delegate stream.
func (l *Live) Close() error {
	err := l.manager.Close()
	l.actions.Close()
	return err
}

func (l *Live) Delegate() effect.Effect[Action] {
	return effect.Run(func(ctx context.Context, send effect.Send[Action]) {
		sub := l.actions.Subscribe()
		defer sub.Cancel()

		if restored := l.manager.Restored(); restored != nil {
			send(WillRestore{Options: *restored})
		}
		send(DidUpdateState{State: l.manager.State()})

		for {
			select {
			case a, ok := <-sub.C():
				if !ok {
					return
				}
				send(a)
			case <-ctx.Done():
				if dropped := sub.Dropped(); dropped > 0 {
					l.logger.WithField("dropped", dropped).Debug("Delegate stream ended with dropped actions")
				}
				return
			}
		}
	})
}

func (l *Live) Connect(p bluetooth.Peripheral, opts *bluetooth.ConnectionOptions) effect.Effect[Action] {
	return effect.FireAndForget[Action](func(context.Context) {
		l.manager.Connect(p.Identifier, opts)
	})
}

func (l *Live) CancelConnection(p bluetooth.Peripheral) effect.Effect[Action] {
	return effect.FireAndForget[Action](func(context.Context) {
		l.manager.CancelConnection(p.Identifier)
	})
}

func (l *Live) RetrieveConnectedPeripherals(services []bluetooth.UUID) []bluetooth.Peripheral {
	return l.manager.RetrieveConnectedPeripherals(services)
}

func (l *Live) RetrievePeripherals(ids []string) []bluetooth.Peripheral {
	return l.manager.RetrievePeripherals(ids)
}

func (l *Live) ScanForPeripherals(services []bluetooth.UUID, opts *bluetooth.ScanOptions) effect.Effect[Action] {
	return effect.FireAndForget[Action](func(context.Context) {
		l.manager.Scan(services, opts)
	})
}

func (l *Live) StopScan() effect.Effect[Action] {
	return effect.FireAndForget[Action](func(context.Context) {
		l.manager.StopScan()
	})
}

func (l *Live) State() bluetooth.ManagerState {
	return l.manager.State()
}

func (l *Live) Authorization() bluetooth.Authorization {
	return l.manager.Authorization()
}

func (l *Live) Supports(f bluetooth.Feature) bool {
	return l.manager.Supports(f)
}

func (l *Live) Peripheral(id string) (PeripheralClient, bool) {
	s, ok := l.manager.Peripheral(id)
	if !ok {
		return nil, false
	}
	return &livePeripheral{s: s}, true
}

func (l *Live) RegisterForConnectionEvents(opts *bluetooth.ConnectionEventOptions) effect.Effect[Action] {
	return effect.FireAndForget[Action](func(context.Context) {
		l.manager.RegisterForConnectionEvents(opts)
	})
}

// livePeripheral is the PeripheralClient of one session.
type livePeripheral struct {
	s *session.Session
}

func (p *livePeripheral) do(fn func()) effect.Effect[Action] {
	return effect.FireAndForget[Action](func(context.Context) { fn() })
}

func (p *livePeripheral) Snapshot() bluetooth.Peripheral {
	return p.s.Snapshot()
}

func (p *livePeripheral) ReadRSSI() effect.Effect[Action] {
	return p.do(p.s.ReadRSSI)
}

func (p *livePeripheral) DiscoverServices(services []bluetooth.UUID) effect.Effect[Action] {
	return p.do(func() { p.s.DiscoverServices(services) })
}

func (p *livePeripheral) DiscoverIncludedServices(services []bluetooth.UUID, s bluetooth.Service) effect.Effect[Action] {
	return p.do(func() { p.s.DiscoverIncludedServices(services, s) })
}

func (p *livePeripheral) DiscoverCharacteristics(chars []bluetooth.UUID, s bluetooth.Service) effect.Effect[Action] {
	return p.do(func() { p.s.DiscoverCharacteristics(chars, s) })
}

func (p *livePeripheral) DiscoverDescriptors(c bluetooth.Characteristic) effect.Effect[Action] {
	return p.do(func() { p.s.DiscoverDescriptors(c) })
}

func (p *livePeripheral) ReadCharacteristic(c bluetooth.Characteristic) effect.Effect[Action] {
	return p.do(func() { p.s.ReadCharacteristic(c) })
}

func (p *livePeripheral) ReadDescriptor(d bluetooth.Descriptor) effect.Effect[Action] {
	return p.do(func() { p.s.ReadDescriptor(d) })
}

func (p *livePeripheral) WriteCharacteristic(data []byte, c bluetooth.Characteristic, t bluetooth.WriteType) effect.Effect[Action] {
	return p.do(func() { p.s.WriteCharacteristic(data, c, t) })
}

func (p *livePeripheral) WriteDescriptor(data []byte, d bluetooth.Descriptor) effect.Effect[Action] {
	return p.do(func() { p.s.WriteDescriptor(data, d) })
}

func (p *livePeripheral) SetNotify(enabled bool, c bluetooth.Characteristic) effect.Effect[Action] {
	return p.do(func() { p.s.SetNotify(enabled, c) })
}

func (p *livePeripheral) OpenL2CAPChannel(psm uint16) effect.Effect[Action] {
	return p.do(func() { p.s.OpenL2CAPChannel(psm) })
}

func (p *livePeripheral) MaximumWriteValueLength(t bluetooth.WriteType) int {
	return p.s.MaximumWriteValueLength(t)
}

func (p *livePeripheral) OpenWriter(c bluetooth.Characteristic, t bluetooth.WriteType) io.WriteCloser {
	return p.s.NewChunkWriter(c, t, writerCapacity)
}

// publisher turns session callbacks into actions.
type publisher struct {
	out *stream.Broadcaster[Action]
}

func (p *publisher) peripheral(id string, a PeripheralAction) {
	p.out.Publish(PeripheralEvent{ID: id, Action: a})
}

func (p *publisher) DidUpdateState(state bluetooth.ManagerState) {
	p.out.Publish(DidUpdateState{State: state})
}

func (p *publisher) DidUpdateScanningState(scanning bool) {
	p.out.Publish(DidUpdateScanningState{Scanning: scanning})
}

func (p *publisher) DidDiscover(per bluetooth.Peripheral, adv bluetooth.AdvertisementData, rssi int) {
	p.out.Publish(DidDiscover{Peripheral: per, Advertisement: adv, RSSI: rssi})
}

func (p *publisher) WillRestore(opts bluetooth.RestorationOptions) {
	p.out.Publish(WillRestore{Options: opts})
}

func (p *publisher) DidConnect(per bluetooth.Peripheral) {
	p.peripheral(per.Identifier, DidConnect{Peripheral: per})
}

func (p *publisher) DidFailToConnect(per bluetooth.Peripheral, err *bluetooth.Error) {
	p.peripheral(per.Identifier, DidFailToConnect{Peripheral: per, Err: err})
}

func (p *publisher) DidDisconnect(per bluetooth.Peripheral, err *bluetooth.Error) {
	p.peripheral(per.Identifier, DidDisconnect{Peripheral: per, Err: err})
}

func (p *publisher) DidUpdatePeripheralState(per bluetooth.Peripheral) {
	p.peripheral(per.Identifier, DidUpdatePeripheralState{Peripheral: per})
}

func (p *publisher) DidUpdateName(per bluetooth.Peripheral) {
	p.peripheral(per.Identifier, DidUpdateName{Peripheral: per})
}

func (p *publisher) DidModifyServices(per bluetooth.Peripheral, invalidated []bluetooth.Service) {
	p.peripheral(per.Identifier, DidModifyServices{Peripheral: per, Invalidated: invalidated})
}

func (p *publisher) ConnectionEventDidOccur(per bluetooth.Peripheral, event bluetooth.ConnectionEvent) {
	p.peripheral(per.Identifier, ConnectionEventDidOccur{Peripheral: per, Event: event})
}

func (p *publisher) IsReadyToSendWriteWithoutResponse(per bluetooth.Peripheral) {
	p.peripheral(per.Identifier, IsReadyToSendWriteWithoutResponse{Peripheral: per})
}

func (p *publisher) DidReadRSSI(per bluetooth.Peripheral, rssi int, err *bluetooth.Error) {
	p.peripheral(per.Identifier, DidReadRSSI{Peripheral: per, RSSI: rssi, Err: err})
}

func (p *publisher) DidOpenL2CAPChannel(per bluetooth.Peripheral, ch *bluetooth.L2CAPChannel, err *bluetooth.Error) {
	p.peripheral(per.Identifier, DidOpenL2CAPChannel{Peripheral: per, Channel: ch, Err: err})
}

func (p *publisher) DidDiscoverServices(per bluetooth.Peripheral, err *bluetooth.Error) {
	p.peripheral(per.Identifier, DidDiscoverServices{Peripheral: per, Err: err})
}

func (p *publisher) DidDiscoverIncludedServices(per bluetooth.Peripheral, s bluetooth.Service, err *bluetooth.Error) {
	p.peripheral(per.Identifier, ServiceEvent{UUID: s.UUID, Action: DidDiscoverIncludedServices{Peripheral: per, Service: s, Err: err}})
}

func (p *publisher) DidDiscoverCharacteristics(per bluetooth.Peripheral, s bluetooth.Service, err *bluetooth.Error) {
	p.peripheral(per.Identifier, ServiceEvent{UUID: s.UUID, Action: DidDiscoverCharacteristics{Peripheral: per, Service: s, Err: err}})
}

func (p *publisher) DidDiscoverDescriptors(per bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error) {
	p.peripheral(per.Identifier, CharacteristicEvent{UUID: c.UUID, Action: DidDiscoverDescriptors{Peripheral: per, Characteristic: c, Err: err}})
}

func (p *publisher) DidUpdateValue(per bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error) {
	p.peripheral(per.Identifier, CharacteristicEvent{UUID: c.UUID, Action: DidUpdateValue{Peripheral: per, Characteristic: c, Err: err}})
}

func (p *publisher) DidWriteValue(per bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error) {
	p.peripheral(per.Identifier, CharacteristicEvent{UUID: c.UUID, Action: DidWriteValue{Peripheral: per, Characteristic: c, Err: err}})
}

func (p *publisher) DidUpdateNotificationState(per bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error) {
	p.peripheral(per.Identifier, CharacteristicEvent{UUID: c.UUID, Action: DidUpdateNotificationState{Peripheral: per, Characteristic: c, Err: err}})
}

func (p *publisher) DidUpdateDescriptorValue(per bluetooth.Peripheral, d bluetooth.Descriptor, err *bluetooth.Error) {
	p.peripheral(per.Identifier, DescriptorEvent{UUID: d.UUID, Action: DidUpdateDescriptorValue{Peripheral: per, Descriptor: d, Err: err}})
}

func (p *publisher) DidWriteDescriptorValue(per bluetooth.Peripheral, d bluetooth.Descriptor, err *bluetooth.Error) {
	p.peripheral(per.Identifier, DescriptorEvent{UUID: d.UUID, Action: DidWriteDescriptorValue{Peripheral: per, Descriptor: d, Err: err}})
}
