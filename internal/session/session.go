package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/time/rate"

	"github.com/srg/bleflow/internal/groutine"
	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/pkg/bluetooth"
)

const (
	defaultATTMTU = 23
	attHeaderSize = 3
	// maxAttributeValueLength is the largest value a prepared write can carry.
	maxAttributeValueLength = 512
)

type serviceNode struct {
	svc             *ble.Service
	uuid            bluetooth.UUID
	included        []bluetooth.UUID
	characteristics *orderedmap.OrderedMap[bluetooth.UUID, *characteristicNode]
}

type characteristicNode struct {
	char        *ble.Characteristic
	uuid        bluetooth.UUID
	service     bluetooth.UUID
	properties  bluetooth.Properties
	value       []byte
	notifying   bool
	descriptors *orderedmap.OrderedMap[bluetooth.UUID, *descriptorNode]
}

type descriptorNode struct {
	desc  *ble.Descriptor
	uuid  bluetooth.UUID
	value []byte
}

// link is everything that only exists while connected.
type link struct {
	client  platform.Client
	queue   *opQueue
	demux   *demux
	limiter *rate.Limiter
	mtu     int
	cancel  context.CancelFunc
}

// Session is the state of one peripheral: connection state, the discovered
// GATT tree in discovery order, and the live link while connected.
type Session struct {
	id     string
	m      *Manager
	logger *logrus.Entry

	mu          sync.RWMutex
	state       bluetooth.PeripheralState
	name        string
	advertised  []bluetooth.UUID
	services    *orderedmap.OrderedMap[bluetooth.UUID, *serviceNode]
	canSendWNR  bool
	dialCancel  context.CancelFunc
	cancelled   bool
	link        *link
	connectOpts bluetooth.ConnectionOptions
}

func newSession(m *Manager, id string) *Session {
	return &Session{
		id:         id,
		m:          m,
		logger:     m.logger.WithField("peripheral", id),
		services:   orderedmap.New[bluetooth.UUID, *serviceNode](),
		canSendWNR: true,
	}
}

// ID returns the peripheral identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current connection state.
func (s *Session) State() bluetooth.PeripheralState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the peripheral as currently known.
func (s *Session) Snapshot() bluetooth.Peripheral {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() bluetooth.Peripheral {
	p := bluetooth.Peripheral{
		Identifier:                  s.id,
		Name:                        s.name,
		State:                       s.state,
		CanSendWriteWithoutResponse: s.state == bluetooth.PeripheralStateConnected && s.canSendWNR,
	}
	for pair := s.services.Oldest(); pair != nil; pair = pair.Next() {
		p.Services = append(p.Services, pair.Value.snapshot())
	}
	return p
}

func (n *serviceNode) snapshot() bluetooth.Service {
	svc := bluetooth.Service{
		UUID:             n.uuid,
		IsPrimary:        true,
		IncludedServices: append([]bluetooth.UUID(nil), n.included...),
	}
	for pair := n.characteristics.Oldest(); pair != nil; pair = pair.Next() {
		svc.Characteristics = append(svc.Characteristics, pair.Value.snapshot())
	}
	return svc
}

func (n *characteristicNode) snapshot() bluetooth.Characteristic {
	c := bluetooth.Characteristic{
		UUID:        n.uuid,
		ServiceUUID: n.service,
		Properties:  n.properties,
		Value:       append([]byte(nil), n.value...),
		IsNotifying: n.notifying,
	}
	for pair := n.descriptors.Oldest(); pair != nil; pair = pair.Next() {
		c.Descriptors = append(c.Descriptors, bluetooth.Descriptor{
			UUID:               pair.Value.uuid,
			ServiceUUID:        n.service,
			CharacteristicUUID: n.uuid,
			Value:              append([]byte(nil), pair.Value.value...),
		})
	}
	return c
}

// serviceUUIDs lists discovered services, falling back to advertised ones.
func (s *Session) serviceUUIDs() []bluetooth.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]bluetooth.UUID, 0, s.services.Len()+len(s.advertised))
	for pair := s.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return append(out, s.advertised...)
}

// exposesAny reports whether the peripheral has any of services. Empty matches everything.
func (s *Session) exposesAny(services []bluetooth.UUID) bool {
	if len(services) == 0 {
		return true
	}
	for _, u := range s.serviceUUIDs() {
		if bluetooth.ContainsUUID(services, u) {
			return true
		}
	}
	return false
}

// observe records an advertisement.
func (s *Session) observe(adv platform.Advertisement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if adv.Data.LocalName != "" {
		s.name = adv.Data.LocalName
	}
	for _, u := range adv.Data.ServiceUUIDs {
		if !bluetooth.ContainsUUID(s.advertised, u) {
			s.advertised = append(s.advertised, u)
		}
	}
}

// beginConnect moves a disconnected session to connecting. It returns false
// when a connect is already in flight or the peripheral is connected.
func (s *Session) beginConnect(parent context.Context, opts bluetooth.ConnectionOptions) (context.Context, bool) {
	s.mu.Lock()
	if s.state != bluetooth.PeripheralStateDisconnected {
		s.mu.Unlock()
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	s.state = bluetooth.PeripheralStateConnecting
	s.dialCancel = cancel
	s.cancelled = false
	s.connectOpts = opts
	p := s.snapshotLocked()
	s.mu.Unlock()

	s.m.delegate.DidUpdatePeripheralState(p)
	return ctx, true
}

// connect dials the peripheral and attaches the link. Runs on its own goroutine.
func (s *Session) connect(ctx context.Context, central platform.Central) {
	s.mu.RLock()
	opts := s.connectOpts
	release := s.dialCancel
	s.mu.RUnlock()
	defer release()

	if opts.StartDelay > 0 {
		select {
		case <-time.After(opts.StartDelay):
		case <-ctx.Done():
			s.finishConnect(nil, nil)
			return
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.m.cfg.ConnectTimeout
	}

	s.logger.WithField("timeout", timeout).Info("Connecting to peripheral...")

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	client, err := central.Dial(dialCtx, s.id)
	cancel()

	switch {
	case ctx.Err() != nil:
		if client != nil {
			_ = client.CancelConnection()
		}
		s.finishConnect(nil, nil)
	case err != nil:
		s.finishConnect(nil, bluetooth.NewError(err))
	default:
		s.finishConnect(client, nil)
	}
}

// finishConnect settles a connect attempt: attached with a client,
// failed with an error, or cancelled with neither.
func (s *Session) finishConnect(client platform.Client, failure *bluetooth.Error) {
	if client == nil {
		s.mu.Lock()
		s.state = bluetooth.PeripheralStateDisconnected
		s.dialCancel = nil
		p := s.snapshotLocked()
		s.mu.Unlock()

		s.m.delegate.DidUpdatePeripheralState(p)
		if failure != nil {
			s.logger.WithField("error", failure).Warn("Failed to connect")
			s.m.delegate.DidFailToConnect(p, failure)
		} else {
			s.logger.Info("Connect cancelled")
			s.m.delegate.DidDisconnect(p, nil)
		}
		return
	}

	mtu := defaultATTMTU
	if pref := s.m.cfg.PreferredMTU; pref > 0 {
		if got, err := client.ExchangeMTU(pref); err != nil {
			s.logger.WithField("error", err).Debug("MTU exchange failed, using default")
		} else if got > 0 {
			mtu = got
		}
	}

	ctx, cancel := context.WithCancel(s.m.ctx)
	l := &link{
		client:  client,
		queue:   newOpQueue(s.id, s.m.cfg.OperationQueueSize, s.m.cfg.OperationTimeout, s.m.logger),
		limiter: newWriteLimiter(s.m.cfg.WriteWithoutResponseRate, s.m.cfg.WriteWithoutResponseBurst),
		mtu:     mtu,
		cancel:  cancel,
	}
	l.demux = newDemux(s.id, s.m.cfg.NotificationBuffer, s.deliverNotification, s.m.logger)

	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		cancel()
		_ = client.CancelConnection()
		s.finishConnect(nil, nil)
		return
	}
	s.link = l
	s.dialCancel = nil
	s.state = bluetooth.PeripheralStateConnected
	s.canSendWNR = true
	renamed := false
	if name := client.Name(); name != "" && name != s.name {
		s.name = name
		renamed = true
	}
	p := s.snapshotLocked()
	s.mu.Unlock()

	l.queue.start(ctx)
	l.demux.start(ctx)
	groutine.Go(ctx, "link-monitor-"+s.id, func(ctx context.Context) {
		s.monitor(ctx, l)
	})

	s.logger.WithField("mtu", mtu).Info("Connected")

	if renamed {
		s.m.delegate.DidUpdateName(p)
	}
	s.m.delegate.DidUpdatePeripheralState(p)
	s.m.delegate.DidConnect(p)
	s.m.connectionEvent(s, bluetooth.ConnectionEventPeerConnected)
	s.m.persist()
}

func newWriteLimiter(perSecond float64, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (s *Session) monitor(ctx context.Context, l *link) {
	disconnected := l.client.Disconnected()
	if disconnected == nil {
		return
	}
	select {
	case <-ctx.Done():
	case <-disconnected:
		s.linkLost(l)
	}
}

// linkLost tears down after the peripheral dropped the link.
func (s *Session) linkLost(l *link) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.mu.Unlock()

	reason := bluetooth.NewKnownError(bluetooth.CodePeripheralDisconnected, "peripheral %s disconnected", s.id)
	s.logger.Warn("Link lost")
	s.closeLink(l, reason, false)
	s.finishDisconnect(reason)
}

// cancel aborts a pending connect or disconnects.
func (s *Session) cancel() {
	s.mu.Lock()
	switch {
	case s.state == bluetooth.PeripheralStateConnecting && s.dialCancel != nil:
		cancel := s.dialCancel
		s.cancelled = true
		s.mu.Unlock()
		cancel()
		return
	case s.link != nil:
		l := s.link
		s.link = nil
		s.state = bluetooth.PeripheralStateDisconnecting
		p := s.snapshotLocked()
		s.mu.Unlock()

		s.m.delegate.DidUpdatePeripheralState(p)
		s.closeLink(l, bluetooth.NewKnownError(bluetooth.CodeOperationCancelled, "connection to %s cancelled", s.id), true)
		s.finishDisconnect(nil)
	default:
		s.mu.Unlock()
		s.logger.Debug("Cancel ignored, peripheral is not connected")
	}
}

func (s *Session) closeLink(l *link, reason *bluetooth.Error, requested bool) {
	l.queue.close(reason)
	if requested {
		if err := l.client.ClearSubscriptions(); err != nil {
			s.logger.WithField("error", err).Debug("Failed to clear subscriptions")
		}
		if err := l.client.CancelConnection(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to cancel connection")
		}
	}
	l.cancel()
}

func (s *Session) finishDisconnect(err *bluetooth.Error) {
	s.mu.Lock()
	s.state = bluetooth.PeripheralStateDisconnected
	for sp := s.services.Oldest(); sp != nil; sp = sp.Next() {
		for cp := sp.Value.characteristics.Oldest(); cp != nil; cp = cp.Next() {
			cp.Value.notifying = false
		}
	}
	p := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("Disconnected")
	s.m.delegate.DidUpdatePeripheralState(p)
	s.m.delegate.DidDisconnect(p, err)
	s.m.connectionEvent(s, bluetooth.ConnectionEventPeerDisconnected)
	s.m.persist()
}

// currentLink returns the live link, or nil when not connected.
func (s *Session) currentLink() *link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != bluetooth.PeripheralStateConnected {
		return nil
	}
	return s.link
}

// MaximumWriteValueLength returns the largest value a single write of type t can carry.
func (s *Session) MaximumWriteValueLength(t bluetooth.WriteType) int {
	if t == bluetooth.WriteWithResponse {
		return maxAttributeValueLength
	}
	mtu := defaultATTMTU
	if l := s.currentLink(); l != nil {
		mtu = l.mtu
	}
	return mtu - attHeaderSize
}
