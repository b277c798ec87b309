package peripheral

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bleflow/internal/gattserver"
	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/internal/platform/goble"
	"github.com/srg/bleflow/internal/stream"
	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/config"
	"github.com/srg/bleflow/pkg/effect"
)

// PlatformFactory opens the local adapter in the peripheral role (can be overridden in tests).
var PlatformFactory = goble.NewServer

// instance is one created peripheral manager.
type instance struct {
	server  *gattserver.Server
	actions *stream.Broadcaster[Action]
}

// Live is the Manager backed by the host Bluetooth stack. Ids must be
// comparable values.
type Live struct {
	cfg    config.PeripheralConfig
	logger *logrus.Logger

	mu        sync.Mutex
	instances *orderedmap.OrderedMap[any, *instance]
}

var _ Manager = (*Live)(nil)

// NewLive creates a manager without instances.
func NewLive(cfg config.PeripheralConfig, logger *logrus.Logger) *Live {
	if logger == nil {
		logger = logrus.New()
	}
	return &Live{
		cfg:       cfg,
		logger:    logger,
		instances: orderedmap.New[any, *instance](),
	}
}

// Close destroys every instance.
func (l *Live) Close() error {
	l.mu.Lock()
	var all []*instance
	for pair := l.instances.Oldest(); pair != nil; pair = pair.Next() {
		all = append(all, pair.Value)
	}
	l.instances = orderedmap.New[any, *instance]()
	l.mu.Unlock()

	var firstErr error
	for _, inst := range all {
		if err := inst.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (inst *instance) close() error {
	err := inst.server.Close()
	inst.actions.Close()
	return err
}

// open returns the instance for id, creating it on first use.
func (l *Live) open(id any, opts *bluetooth.InitializationOptions) *instance {
	l.mu.Lock()
	defer l.mu.Unlock()

	if inst, ok := l.instances.Get(id); ok {
		return inst
	}

	logger := l.logger.WithField("instance", fmt.Sprint(id))
	srv, err := PlatformFactory(l.logger)
	state, known := platform.StateFromError(err)
	if err != nil {
		if known {
			logger.WithField("state", state).Warn("Bluetooth is not available")
		} else {
			logger.WithField("error", err).Error("Failed to open peripheral manager")
		}
		srv = nil
	}

	actions := stream.NewBroadcaster[Action](fmt.Sprintf("peripheral-%v", id), l.cfg.ActionBuffer, l.logger)
	inst := &instance{
		server:  gattserver.New(srv, state, l.cfg, opts, &publisher{out: actions}, l.logger),
		actions: actions,
	}
	l.instances.Set(id, inst)
	logger.Info("Peripheral manager created")
	return inst
}

func (l *Live) lookup(id any) (*instance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.instances.Get(id)
}

// with runs fn against the instance for id; unknown ids are logged and skipped.
func (l *Live) with(id any, op string, fn func(*instance)) effect.Effect[Action] {
	return effect.FireAndForget[Action](func(context.Context) {
		inst, ok := l.lookup(id)
		if !ok {
			l.logger.WithFields(logrus.Fields{
				"instance":  fmt.Sprint(id),
				"operation": op,
			}).Warn("Ignored, peripheral manager was not created")
			return
		}
		fn(inst)
	})
}

func (l *Live) Create(id any, opts *bluetooth.InitializationOptions) effect.Effect[Action] {
	return effect.Run(func(ctx context.Context, send effect.Send[Action]) {
		inst := l.open(id, opts)
		sub := inst.actions.Subscribe()
		defer sub.Cancel()

		if restored := inst.server.Restored(); restored != nil {
			send(WillRestore{Options: *restored})
		}
		send(DidUpdateState{State: inst.server.State()})

		for {
			select {
			case a, ok := <-sub.C():
				if !ok {
					return
				}
				send(a)
			case <-ctx.Done():
				return
			}
		}
	})
}

func (l *Live) Destroy(id any) effect.Effect[Action] {
	return effect.FireAndForget[Action](func(context.Context) {
		l.mu.Lock()
		inst, ok := l.instances.Get(id)
		if ok {
			l.instances.Delete(id)
		}
		l.mu.Unlock()

		if !ok {
			return
		}
		if err := inst.close(); err != nil {
			l.logger.WithFields(logrus.Fields{
				"instance": fmt.Sprint(id),
				"error":    err,
			}).Warn("Failed to close peripheral manager")
		}
		l.logger.WithField("instance", fmt.Sprint(id)).Info("Peripheral manager destroyed")
	})
}

func (l *Live) AddService(id any, s MutableService) effect.Effect[Action] {
	return l.with(id, "add_service", func(inst *instance) {
		inst.server.AddService(s)
	})
}

func (l *Live) RemoveService(id any, s MutableService) effect.Effect[Action] {
	return l.with(id, "remove_service", func(inst *instance) {
		if err := inst.server.RemoveService(s); err != nil {
			l.logger.WithField("error", err).Warn("Failed to remove service")
		}
	})
}

func (l *Live) RemoveAllServices(id any) effect.Effect[Action] {
	return l.with(id, "remove_all_services", func(inst *instance) {
		if err := inst.server.RemoveAllServices(); err != nil {
			l.logger.WithField("error", err).Warn("Failed to remove services")
		}
	})
}

func (l *Live) StartAdvertising(id any, data *bluetooth.AdvertisementData) effect.Effect[Action] {
	return l.with(id, "start_advertising", func(inst *instance) {
		inst.server.StartAdvertising(data)
	})
}

func (l *Live) StopAdvertising(id any) effect.Effect[Action] {
	return l.with(id, "stop_advertising", func(inst *instance) {
		inst.server.StopAdvertising()
	})
}

func (l *Live) UpdateValue(id any, data []byte, c MutableCharacteristic, centrals []bluetooth.Central) effect.Effect[bool] {
	return effect.Task(func(context.Context) bool {
		inst, ok := l.lookup(id)
		if !ok {
			l.logger.WithField("instance", fmt.Sprint(id)).Warn("Update ignored, peripheral manager was not created")
			return false
		}
		return inst.server.UpdateValue(data, c, centrals)
	})
}

func (l *Live) Respond(id any, req bluetooth.ATTRequest, code bluetooth.ATTErrorCode) effect.Effect[Action] {
	return l.with(id, "respond", func(inst *instance) {
		if err := inst.server.Respond(req, code); err != nil {
			l.logger.WithFields(logrus.Fields{
				"request": req.ID,
				"error":   err,
			}).Warn("Failed to respond to request")
		}
	})
}

func (l *Live) SetDesiredConnectionLatency(id any, latency bluetooth.ConnectionLatency, central bluetooth.Central) effect.Effect[Action] {
	return l.with(id, "set_desired_connection_latency", func(inst *instance) {
		if err := inst.server.SetDesiredConnectionLatency(latency, central); err != nil {
			l.logger.WithField("error", err).Warn("Failed to set connection latency")
		}
	})
}

func (l *Live) PublishL2CAPChannel(id any, withEncryption bool) effect.Effect[Action] {
	return l.with(id, "publish_l2cap_channel", func(inst *instance) {
		inst.server.PublishL2CAPChannel(withEncryption)
	})
}

func (l *Live) UnpublishL2CAPChannel(id any, psm uint16) effect.Effect[Action] {
	return l.with(id, "unpublish_l2cap_channel", func(inst *instance) {
		inst.server.UnpublishL2CAPChannel(psm)
	})
}

func (l *Live) State(id any) bluetooth.ManagerState {
	inst, ok := l.lookup(id)
	if !ok {
		return bluetooth.ManagerStateUnknown
	}
	return inst.server.State()
}

// Authorization asks the oldest instance; without instances nothing was asked yet.
func (l *Live) Authorization() bluetooth.Authorization {
	l.mu.Lock()
	oldest := l.instances.Oldest()
	l.mu.Unlock()

	if oldest == nil {
		return bluetooth.AuthorizationNotDetermined
	}
	return oldest.Value.server.Authorization()
}

// publisher turns server callbacks into actions.
type publisher struct {
	out *stream.Broadcaster[Action]
}

func (p *publisher) DidUpdateState(state bluetooth.ManagerState) {
	p.out.Publish(DidUpdateState{State: state})
}

func (p *publisher) DidAddService(svc bluetooth.Service, err *bluetooth.Error) {
	p.out.Publish(DidAddService{Service: svc, Err: err})
}

func (p *publisher) DidSubscribeTo(c bluetooth.Characteristic, central bluetooth.Central) {
	p.out.Publish(DidSubscribeTo{Characteristic: c, Central: central})
}

func (p *publisher) DidUnsubscribeFrom(c bluetooth.Characteristic, central bluetooth.Central) {
	p.out.Publish(DidUnsubscribeFrom{Characteristic: c, Central: central})
}

func (p *publisher) IsReadyToUpdateSubscribers() {
	p.out.Publish(IsReadyToUpdateSubscribers{})
}

func (p *publisher) DidReceiveRead(req bluetooth.ATTRequest) {
	p.out.Publish(DidReceiveRead{Request: req})
}

func (p *publisher) DidReceiveWrite(reqs []bluetooth.ATTRequest) {
	p.out.Publish(DidReceiveWrite{Requests: reqs})
}

func (p *publisher) DidPublishL2CAPChannel(psm uint16, err *bluetooth.Error) {
	p.out.Publish(DidPublishL2CAPChannel{PSM: psm, Err: err})
}

func (p *publisher) DidUnpublishL2CAPChannel(psm uint16, err *bluetooth.Error) {
	p.out.Publish(DidUnpublishL2CAPChannel{PSM: psm, Err: err})
}

func (p *publisher) DidOpen(ch *bluetooth.L2CAPChannel, err *bluetooth.Error) {
	p.out.Publish(DidOpen{Channel: ch, Err: err})
}

func (p *publisher) DidUpdateAdvertisingState(advertising bool, err *bluetooth.Error) {
	p.out.Publish(DidUpdateAdvertisingState{Advertising: advertising, Err: err})
}
