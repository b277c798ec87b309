package gattserver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/internal/platform/goble"
	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/config"
)

// localService is a published service and the platform service built from it.
type localService struct {
	def             bluetooth.MutableService
	svc             *ble.Service
	characteristics map[bluetooth.UUID]*localCharacteristic
}

// localCharacteristic is a published characteristic. value is the last value
// sent to subscribers, or the cached value.
type localCharacteristic struct {
	uuid    bluetooth.UUID
	service bluetooth.UUID
	def     bluetooth.MutableCharacteristic

	mu    sync.RWMutex
	value []byte
}

func (c *localCharacteristic) snapshot() bluetooth.Characteristic {
	snap := c.def.Snapshot(c.service)
	c.mu.RLock()
	snap.Value = append([]byte(nil), c.value...)
	c.mu.RUnlock()
	return snap
}

// Server is one peripheral manager instance.
type Server struct {
	platform platform.Server
	state    bluetooth.ManagerState
	cfg      config.PeripheralConfig
	delegate Delegate
	logger   *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	services *orderedmap.OrderedMap[bluetooth.UUID, *localService]
	adv      *advertisement
	restore  *restoreStore
	restored *bluetooth.PeripheralRestorationOptions
	closed   bool

	pending     *hashmap.Map[string, *pendingRequest]
	subscribers *hashmap.Map[string, *subscriber]
	centrals    *hashmap.Map[string, bluetooth.Central]
	latencies   *hashmap.Map[string, bluetooth.ConnectionLatency]
	needsReady  atomic.Bool
}

// New creates a server over srv. A nil srv means the adapter is unavailable;
// state then says why and every operation fails.
func New(srv platform.Server, state bluetooth.ManagerState, cfg config.PeripheralConfig, opts *bluetooth.InitializationOptions, delegate Delegate, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if srv == nil && state == bluetooth.ManagerStatePoweredOn {
		state = bluetooth.ManagerStateUnknown
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		platform:    srv,
		state:       state,
		cfg:         cfg,
		delegate:    delegate,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		services:    orderedmap.New[bluetooth.UUID, *localService](),
		pending:     hashmap.New[string, *pendingRequest](),
		subscribers: hashmap.New[string, *subscriber](),
		centrals:    hashmap.New[string, bluetooth.Central](),
		latencies:   hashmap.New[string, bluetooth.ConnectionLatency](),
	}

	if opts != nil && opts.RestoreIdentifier != "" {
		s.loadRestoration(opts.RestoreIdentifier)
	}
	return s
}

// State returns the adapter state.
func (s *Server) State() bluetooth.ManagerState {
	if r, ok := s.platform.(platform.StateReporter); ok {
		return r.State()
	}
	return s.state
}

// Authorization returns the application's Bluetooth permission.
func (s *Server) Authorization() bluetooth.Authorization {
	if a, ok := s.platform.(platform.Authorizer); ok {
		return a.Authorization()
	}
	if s.state == bluetooth.ManagerStateUnauthorized {
		return bluetooth.AuthorizationDenied
	}
	return bluetooth.AuthorizationAllowedAlways
}

// Restored returns the state saved by a previous run, or nil.
func (s *Server) Restored() *bluetooth.PeripheralRestorationOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restored
}

func (s *Server) unavailable() *bluetooth.Error {
	return bluetooth.NewKnownError(bluetooth.CodeUnknown, "bluetooth is %s", s.State())
}

// Services returns the published services in the order they were added.
func (s *Server) Services() []bluetooth.Service {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]bluetooth.Service, 0, s.services.Len())
	for pair := s.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, s.serviceSnapshotLocked(pair.Value))
	}
	return out
}

func (s *Server) serviceSnapshotLocked(ls *localService) bluetooth.Service {
	svc := ls.def.Snapshot()
	for i, c := range svc.Characteristics {
		if lc, ok := ls.characteristics[c.UUID]; ok {
			svc.Characteristics[i] = lc.snapshot()
		}
	}
	return svc
}

// AddService publishes def and reports the outcome through DidAddService.
func (s *Server) AddService(def bluetooth.MutableService) {
	svc, err := s.addService(def)
	s.delegate.DidAddService(svc, err)
	if err == nil {
		s.persist()
	}
}

func (s *Server) addService(def bluetooth.MutableService) (bluetooth.Service, *bluetooth.Error) {
	snap := def.Snapshot()
	if s.platform == nil {
		return snap, s.unavailable()
	}
	if err := def.Validate(); err != nil {
		return snap, bluetooth.NewKnownError(bluetooth.CodeInvalidParameters, "%s", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services.Get(snap.UUID); exists {
		return snap, bluetooth.NewKnownError(bluetooth.CodeInvalidParameters, "service %s is already published", snap.UUID)
	}

	ls, err := s.build(def)
	if err != nil {
		return snap, bluetooth.NewKnownError(bluetooth.CodeInvalidParameters, "%s", err.Error())
	}
	if len(def.IncludedServices) > 0 {
		s.logger.WithField("service", snap.UUID).Debug("Included services are not published by this adapter")
	}
	if err := s.platform.AddService(ls.svc); err != nil {
		return snap, bluetooth.NewError(err)
	}
	s.services.Set(snap.UUID, ls)

	s.logger.WithFields(logrus.Fields{
		"service":         snap.UUID,
		"characteristics": len(def.Characteristics),
	}).Info("Service published")
	return s.serviceSnapshotLocked(ls), nil
}

// build converts def into a platform service wired to the server's handlers.
func (s *Server) build(def bluetooth.MutableService) (*localService, error) {
	su := bluetooth.UUID(bluetooth.NormalizeUUID(string(def.UUID)))
	bu, err := goble.ToBLEUUID(su)
	if err != nil {
		return nil, err
	}

	ls := &localService{
		def:             def,
		svc:             ble.NewService(bu),
		characteristics: make(map[bluetooth.UUID]*localCharacteristic, len(def.Characteristics)),
	}
	for _, cd := range def.Characteristics {
		cu := bluetooth.UUID(bluetooth.NormalizeUUID(string(cd.UUID)))
		bcu, err := goble.ToBLEUUID(cu)
		if err != nil {
			return nil, err
		}

		lc := &localCharacteristic{uuid: cu, service: su, def: cd, value: append([]byte(nil), cd.Value...)}
		c := ls.svc.NewCharacteristic(bcu)
		switch {
		case cd.Value != nil:
			c.SetValue(cd.Value)
		default:
			if cd.Properties&bluetooth.PropertyRead != 0 {
				c.HandleRead(s.readHandler(lc))
			}
			if cd.Properties&(bluetooth.PropertyWrite|bluetooth.PropertyWriteWithoutResponse) != 0 {
				c.HandleWrite(s.writeHandler(lc))
			}
			if cd.Properties&bluetooth.PropertyNotify != 0 {
				c.HandleNotify(s.notifyHandler(lc, false))
			}
			if cd.Properties&bluetooth.PropertyIndicate != 0 {
				c.HandleIndicate(s.notifyHandler(lc, true))
			}
		}
		c.Property = goble.ToBLEProperty(cd.Properties)

		for _, dd := range cd.Descriptors {
			du, err := goble.ToBLEUUID(bluetooth.UUID(bluetooth.NormalizeUUID(string(dd.UUID))))
			if err != nil {
				return nil, err
			}
			c.NewDescriptor(du).SetValue(dd.Value)
		}
		ls.characteristics[cu] = lc
	}
	return ls, nil
}

// RemoveService unpublishes the service with def's UUID.
func (s *Server) RemoveService(def bluetooth.MutableService) error {
	if s.platform == nil {
		return s.unavailable()
	}
	u := bluetooth.UUID(bluetooth.NormalizeUUID(string(def.UUID)))

	s.mu.Lock()
	if _, ok := s.services.Get(u); !ok {
		s.mu.Unlock()
		return bluetooth.NewKnownError(bluetooth.CodeInvalidParameters, "service %s is not published", def.UUID)
	}
	s.services.Delete(u)
	remaining := make([]*ble.Service, 0, s.services.Len())
	for pair := s.services.Oldest(); pair != nil; pair = pair.Next() {
		remaining = append(remaining, pair.Value.svc)
	}
	s.mu.Unlock()

	if err := s.platform.SetServices(remaining); err != nil {
		return fmt.Errorf("failed to remove service %s: %w", u, err)
	}
	s.logger.WithField("service", u).Info("Service removed")
	s.persist()
	return nil
}

// RemoveAllServices clears the database.
func (s *Server) RemoveAllServices() error {
	if s.platform == nil {
		return s.unavailable()
	}
	s.mu.Lock()
	s.services = orderedmap.New[bluetooth.UUID, *localService]()
	s.mu.Unlock()

	if err := s.platform.RemoveAllServices(); err != nil {
		return fmt.Errorf("failed to remove services: %w", err)
	}
	s.logger.Info("All services removed")
	s.persist()
	return nil
}

// characteristic finds a published characteristic, searching every service when service is empty.
func (s *Server) characteristic(service, char bluetooth.UUID) (*localCharacteristic, bool) {
	cu := bluetooth.UUID(bluetooth.NormalizeUUID(string(char)))
	su := bluetooth.UUID(bluetooth.NormalizeUUID(string(service)))

	s.mu.Lock()
	defer s.mu.Unlock()
	for pair := s.services.Oldest(); pair != nil; pair = pair.Next() {
		if su != "" && pair.Key != su {
			continue
		}
		if lc, ok := pair.Value.characteristics[cu]; ok {
			return lc, true
		}
	}
	return nil, false
}

// SetDesiredConnectionLatency records the latency wanted for a connected central.
// The adapter offers no connection parameter update, so nothing is sent.
func (s *Server) SetDesiredConnectionLatency(latency bluetooth.ConnectionLatency, central bluetooth.Central) error {
	if latency < bluetooth.ConnectionLatencyLow || latency > bluetooth.ConnectionLatencyHigh {
		return bluetooth.NewKnownError(bluetooth.CodeInvalidParameters, "invalid connection latency %d", int(latency))
	}
	if _, ok := s.centrals.Get(central.Identifier); !ok {
		return bluetooth.NewKnownError(bluetooth.CodeUnknownDevice, "central %s is not connected", central.Identifier)
	}
	s.latencies.Set(central.Identifier, latency)
	s.logger.WithFields(logrus.Fields{
		"central": central.Identifier,
		"latency": latency,
	}).Debug("Desired connection latency recorded")
	return nil
}

// Latency returns the latency recorded for a central.
func (s *Server) Latency(centralID string) (bluetooth.ConnectionLatency, bool) {
	return s.latencies.Get(centralID)
}

// Close stops advertising, fails pending requests and releases the adapter.
func (s *Server) Close() error {
	s.persist()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.StopAdvertising()
	s.cancel()

	if s.platform != nil {
		return s.platform.Stop()
	}
	return nil
}
