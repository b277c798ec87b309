package session

import (
	"context"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/groutine"
	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/config"
)

// scan is one running scan.
type scan struct {
	services []bluetooth.UUID
	opts     bluetooth.ScanOptions
	seen     *hashmap.Map[string, struct{}]
	cancel   context.CancelFunc
	done     chan struct{}
}

// Manager is the central-role connection manager.
//
// It owns the peripheral registry (one Session per identifier, created on
// discovery or on connect), runs at most one scan at a time, and enforces a
// single in-flight connect per peripheral.
type Manager struct {
	central  platform.Central
	state    bluetooth.ManagerState
	cfg      config.CentralConfig
	delegate Delegate
	logger   *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sessions *hashmap.Map[string, *Session]

	mu         sync.Mutex
	scan       *scan
	connEvents *bluetooth.ConnectionEventOptions
	restore    *restoreStore
	restored   *bluetooth.RestorationOptions
	closed     bool
}

// NewManager creates a manager over central. A nil central means the adapter
// is unavailable; state then says why and every operation fails.
func NewManager(central platform.Central, state bluetooth.ManagerState, cfg config.CentralConfig, opts *bluetooth.InitializationOptions, delegate Delegate, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if central == nil && state == bluetooth.ManagerStatePoweredOn {
		state = bluetooth.ManagerStateUnknown
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		central:  central,
		state:    state,
		cfg:      cfg,
		delegate: delegate,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: hashmap.New[string, *Session](),
	}

	if opts != nil && opts.RestoreIdentifier != "" {
		m.loadRestoration(opts.RestoreIdentifier)
	}
	return m
}

func (m *Manager) loadRestoration(identifier string) {
	store, err := newRestoreStore(m.cfg.RestoreDir, identifier)
	if err != nil {
		m.logger.WithField("error", err).Warn("State restoration disabled")
		return
	}
	m.restore = store

	rec, err := store.load()
	if err != nil {
		m.logger.WithField("error", err).Warn("Failed to load restored state")
		return
	}
	if rec == nil {
		return
	}

	for _, p := range rec.Peripherals {
		s := m.session(p.Identifier)
		s.mu.Lock()
		s.name = p.Name
		s.advertised = append(s.advertised, p.Services...)
		s.mu.Unlock()
	}
	opts := rec.options()
	m.restored = &opts

	m.logger.WithFields(logrus.Fields{
		"identifier":  identifier,
		"peripherals": len(rec.Peripherals),
		"scanning":    rec.Scanning,
	}).Info("Loaded restored state")
}

// Restored returns the state saved by a previous run, or nil.
func (m *Manager) Restored() *bluetooth.RestorationOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restored
}

// State returns the adapter state.
func (m *Manager) State() bluetooth.ManagerState {
	if r, ok := m.central.(platform.StateReporter); ok {
		return r.State()
	}
	return m.state
}

// Authorization returns the application's Bluetooth permission.
func (m *Manager) Authorization() bluetooth.Authorization {
	if a, ok := m.central.(platform.Authorizer); ok {
		return a.Authorization()
	}
	if m.state == bluetooth.ManagerStateUnauthorized {
		return bluetooth.AuthorizationDenied
	}
	return bluetooth.AuthorizationAllowedAlways
}

// Supports reports optional adapter features. go-ble exposes none of them.
func (m *Manager) Supports(bluetooth.Feature) bool {
	return false
}

// session returns the registered session for id, creating it when missing.
func (m *Manager) session(id string) *Session {
	if s, ok := m.sessions.Get(id); ok {
		return s
	}
	s, _ := m.sessions.GetOrInsert(id, newSession(m, id))
	return s
}

// Peripheral returns the session of a known peripheral.
func (m *Manager) Peripheral(id string) (*Session, bool) {
	return m.sessions.Get(id)
}

func (m *Manager) unavailable() *bluetooth.Error {
	return bluetooth.NewKnownError(bluetooth.CodeUnknown, "bluetooth is %s", m.State())
}

// Connect starts connecting to the peripheral with the given identifier.
// The call is ignored while a connect is in flight or the peripheral is connected.
func (m *Manager) Connect(id string, opts *bluetooth.ConnectionOptions) {
	if id == "" {
		m.delegate.DidFailToConnect(bluetooth.Peripheral{},
			bluetooth.NewKnownError(bluetooth.CodeInvalidParameters, "peripheral identifier is empty"))
		return
	}

	s := m.session(id)
	if m.central == nil {
		m.delegate.DidFailToConnect(s.Snapshot(), m.unavailable())
		return
	}

	var o bluetooth.ConnectionOptions
	if opts != nil {
		o = *opts
	}

	ctx, ok := s.beginConnect(m.ctx, o)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"peripheral": id,
			"state":      s.State(),
		}).Warn("Connect ignored, peripheral is already connecting or connected")
		return
	}

	groutine.Go(ctx, "connect-"+id, func(ctx context.Context) {
		s.connect(ctx, m.central)
	})
}

// CancelConnection aborts a pending connect or disconnects.
func (m *Manager) CancelConnection(id string) {
	s, ok := m.sessions.Get(id)
	if !ok {
		m.logger.WithField("peripheral", id).Debug("Cancel ignored, unknown peripheral")
		return
	}
	s.cancel()
}

// RetrievePeripherals returns the known peripherals among ids, in order.
func (m *Manager) RetrievePeripherals(ids []string) []bluetooth.Peripheral {
	out := make([]bluetooth.Peripheral, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.sessions.Get(id); ok {
			out = append(out, s.Snapshot())
		}
	}
	return out
}

// RetrieveConnectedPeripherals returns connected peripherals exposing any of services.
func (m *Manager) RetrieveConnectedPeripherals(services []bluetooth.UUID) []bluetooth.Peripheral {
	var out []bluetooth.Peripheral
	m.sessions.Range(func(_ string, s *Session) bool {
		if s.State() == bluetooth.PeripheralStateConnected && s.exposesAny(services) {
			out = append(out, s.Snapshot())
		}
		return true
	})
	return out
}

// RegisterForConnectionEvents reports connects and disconnects of matching
// peripherals through ConnectionEventDidOccur. Nil stops reporting.
func (m *Manager) RegisterForConnectionEvents(opts *bluetooth.ConnectionEventOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts == nil {
		m.connEvents = nil
		return
	}
	o := *opts
	m.connEvents = &o
}

func (m *Manager) connectionEvent(s *Session, event bluetooth.ConnectionEvent) {
	m.mu.Lock()
	opts := m.connEvents
	m.mu.Unlock()

	if opts == nil || !opts.Matches(s.ID(), s.serviceUUIDs()) {
		return
	}
	m.delegate.ConnectionEventDidOccur(s.Snapshot(), event)
}

// IsScanning reports whether a scan is running.
func (m *Manager) IsScanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scan != nil
}

// Scan starts scanning for peripherals advertising any of services (all
// when empty). A running scan is replaced.
func (m *Manager) Scan(services []bluetooth.UUID, opts *bluetooth.ScanOptions) {
	if m.central == nil {
		m.logger.WithField("state", m.State()).Warn("Scan ignored, bluetooth is unavailable")
		m.delegate.DidUpdateScanningState(false)
		return
	}

	sc := &scan{
		services: append([]bluetooth.UUID(nil), services...),
		seen:     hashmap.New[string, struct{}](),
		done:     make(chan struct{}),
	}
	if opts != nil {
		sc.opts = *opts
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	prev := m.scan
	ctx, cancel := context.WithCancel(m.ctx)
	sc.cancel = cancel
	m.scan = sc
	m.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	} else {
		m.delegate.DidUpdateScanningState(true)
	}

	m.logger.WithFields(logrus.Fields{
		"services":         len(sc.services),
		"allow_duplicates": sc.opts.AllowDuplicates,
	}).Info("Scanning for peripherals...")

	groutine.Go(ctx, "scan", func(ctx context.Context) {
		defer close(sc.done)

		err := m.central.Scan(ctx, sc.opts.AllowDuplicates, func(adv platform.Advertisement) {
			m.handleAdvertisement(sc, adv)
		})
		if err != nil {
			m.logger.WithField("error", err).Error("Scan failed")
		}

		m.mu.Lock()
		current := m.scan == sc
		if current {
			m.scan = nil
		}
		m.mu.Unlock()

		if current {
			m.logger.WithField("peripherals", sc.seen.Len()).Info("Scan stopped")
			m.delegate.DidUpdateScanningState(false)
			m.persist()
		}
	})

	m.persist()
}

// StopScan stops the running scan, if any, and waits for it to end.
func (m *Manager) StopScan() {
	m.mu.Lock()
	sc := m.scan
	m.mu.Unlock()
	if sc == nil {
		return
	}
	sc.cancel()
	<-sc.done
}

func (m *Manager) handleAdvertisement(sc *scan, adv platform.Advertisement) {
	if !matchesScan(adv.Data, sc) {
		return
	}
	if _, seen := sc.seen.GetOrInsert(adv.Address, struct{}{}); seen && !sc.opts.AllowDuplicates {
		return
	}

	s := m.session(adv.Address)
	s.observe(adv)
	m.delegate.DidDiscover(s.Snapshot(), adv.Data, adv.RSSI)
}

func matchesScan(data bluetooth.AdvertisementData, sc *scan) bool {
	if len(sc.services) == 0 {
		return true
	}
	if data.AdvertisesAny(sc.services) {
		return true
	}
	return len(sc.opts.SolicitedServiceUUIDs) > 0 && data.SolicitsAny(sc.opts.SolicitedServiceUUIDs)
}

// persist saves connected peripherals and the running scan when restoration is enabled.
func (m *Manager) persist() {
	m.mu.Lock()
	store := m.restore
	sc := m.scan
	closed := m.closed
	m.mu.Unlock()
	if store == nil || closed {
		return
	}

	rec := &restoreRecord{}
	if sc != nil {
		rec.Scanning = true
		rec.ScanServices = sc.services
		opts := sc.opts
		rec.ScanOptions = &opts
	}
	m.sessions.Range(func(id string, s *Session) bool {
		if s.State() != bluetooth.PeripheralStateConnected {
			return true
		}
		p := s.Snapshot()
		rp := restoredPeripheral{Identifier: id, Name: p.Name}
		for _, svc := range p.Services {
			rp.Services = append(rp.Services, svc.UUID)
		}
		rec.Peripherals = append(rec.Peripherals, rp)
		return true
	})

	if err := store.save(rec); err != nil {
		m.logger.WithField("error", err).Warn("Failed to save restore state")
	}
}

// Close stops scanning, disconnects every peripheral and releases the adapter.
// Restoration state is saved as it was before closing.
func (m *Manager) Close() error {
	m.persist()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.StopScan()
	m.sessions.Range(func(_ string, s *Session) bool {
		s.cancel()
		return true
	})
	m.cancel()

	if m.central != nil {
		return m.central.Stop()
	}
	return nil
}
