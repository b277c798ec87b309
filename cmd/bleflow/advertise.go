package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/effect"
	"github.com/srg/bleflow/pkg/peripheral"
)

var advertiseCmd = &cobra.Command{
	Use:   "advertise",
	Short: "Publish a GATT service and advertise it",
	Long: `Runs a local peripheral: publishes GATT services, advertises them and
answers reads and writes from centrals until interrupted. Written values are
stored and pushed to subscribed centrals.

The services come from a YAML profile or from --service/--char flags.

Profile example:
  - uuid: "180f"
    is_primary: true
    characteristics:
      - uuid: "2a19"
        properties: read,notify
        permissions: 1      # readable

Examples:
  # One service with one read/write/notify characteristic
  bleflow advertise --name demo --service 180f --char 2a19 --value 50 --hex

  # Services from a profile, also accepting an L2CAP channel
  bleflow advertise --name demo --profile services.yaml --l2cap`,
	Args: cobra.NoArgs,
	RunE: runAdvertise,
}

var (
	advertiseName     string
	advertiseProfile  string
	advertiseService  string
	advertiseChars    []string
	advertiseValue    string
	advertiseHex      bool
	advertiseL2CAP    bool
	advertiseRestore  string
	advertiseDuration time.Duration
)

func init() {
	advertiseCmd.Flags().StringVar(&advertiseName, "name", "bleflow", "Advertised local name")
	advertiseCmd.Flags().StringVar(&advertiseProfile, "profile", "", "YAML file listing the services to publish")
	advertiseCmd.Flags().StringVar(&advertiseService, "service", "", "UUID of a primary service to publish")
	advertiseCmd.Flags().StringSliceVar(&advertiseChars, "char", nil, "Characteristic UUIDs of --service (read, write, notify)")
	advertiseCmd.Flags().StringVar(&advertiseValue, "value", "", "Initial value of every --char characteristic")
	advertiseCmd.Flags().BoolVar(&advertiseHex, "hex", false, "--value is hex")
	advertiseCmd.Flags().BoolVar(&advertiseL2CAP, "l2cap", false, "Publish an L2CAP channel echoing what it receives")
	advertiseCmd.Flags().StringVar(&advertiseRestore, "restore-id", "", "Keep published services across runs under this identifier")
	advertiseCmd.Flags().DurationVarP(&advertiseDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
}

// loadProfile reads services from a YAML file.
func loadProfile(path string) ([]bluetooth.MutableService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	var services []bluetooth.MutableService
	if err := yaml.Unmarshal(data, &services); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	for _, s := range services {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", path, err)
		}
	}
	return services, nil
}

// flagService builds the service described by --service and --char.
func flagService(service string, chars []string) (bluetooth.MutableService, error) {
	svcUUID, err := bluetooth.ParseUUID(service)
	if err != nil {
		return bluetooth.MutableService{}, fmt.Errorf("invalid service UUID: %w", err)
	}
	charUUIDs, err := bluetooth.ParseUUIDs(chars...)
	if err != nil {
		return bluetooth.MutableService{}, fmt.Errorf("invalid characteristic UUID: %w", err)
	}

	svc := bluetooth.MutableService{UUID: svcUUID, IsPrimary: true}
	for _, u := range charUUIDs {
		svc.Characteristics = append(svc.Characteristics, bluetooth.MutableCharacteristic{
			UUID:        u,
			Properties:  bluetooth.PropertyRead | bluetooth.PropertyWrite | bluetooth.PropertyNotify,
			Permissions: bluetooth.PermissionReadable | bluetooth.PermissionWriteable,
		})
	}
	return svc, svc.Validate()
}

type advertiseState struct {
	outcome

	services    []bluetooth.MutableService
	restored    []bluetooth.UUID
	requested   bool
	adding      int
	advertising bool

	// values holds the current value per characteristic; map values are
	// replaced, never mutated in place.
	values  map[bluetooth.UUID][]byte
	pending map[bluetooth.UUID]bool
}

// advertiseFlow is the advertise command reducer and its dependencies.
type advertiseFlow struct {
	manager peripheral.Manager
	id      string
	opts    *bluetooth.InitializationOptions
	data    *bluetooth.AdvertisementData
	l2cap   bool
	out     *printer
	logger  *logrus.Logger
}

func (f *advertiseFlow) reduce(s *advertiseState, a action) effect.Effect[action] {
	if s.done {
		return effect.None[action]()
	}

	switch a := a.(type) {
	case started:
		return fromPeripheral(f.manager.Create(f.id, f.opts))

	case updateSent:
		if !a.ok {
			f.logger.WithField("characteristic", a.characteristic).Debug("Notification queue full, retrying when ready")
			if s.pending == nil {
				s.pending = make(map[bluetooth.UUID]bool)
			}
			s.pending[a.characteristic] = true
		}

	case peripheralAction:
		return f.reducePeripheral(s, a.Action)
	}
	return effect.None[action]()
}

func (f *advertiseFlow) reducePeripheral(s *advertiseState, a peripheral.Action) effect.Effect[action] {
	switch a := a.(type) {
	case peripheral.WillRestore:
		s.restored = a.Options.Services
		return f.say("restored", "%d service(s)", len(a.Options.Services))

	case peripheral.DidUpdateState:
		if a.State != bluetooth.ManagerStatePoweredOn {
			s.finish(fmt.Errorf("bluetooth is %s", a.State))
			return effect.None[action]()
		}
		if s.requested {
			return effect.None[action]()
		}
		s.requested = true

		var adds []effect.Effect[action]
		for _, svc := range s.services {
			if bluetooth.ContainsUUID(s.restored, svc.UUID) {
				continue
			}
			s.adding++
			adds = append(adds, fromPeripheral(f.manager.AddService(f.id, svc)))
		}
		if s.adding == 0 {
			return f.advertise()
		}
		return effect.Concatenate(adds...)

	case peripheral.DidAddService:
		if a.Err != nil {
			s.finish(fmt.Errorf("failed to publish service %s: %w", a.Service.UUID, a.Err))
			return effect.None[action]()
		}
		s.adding--
		say := f.say("published", "service %s%s", a.Service.UUID, known(a.Service.KnownName()))
		if s.adding == 0 {
			return effect.Merge(say, f.advertise())
		}
		return say

	case peripheral.DidUpdateAdvertisingState:
		switch {
		case a.Err != nil:
			s.finish(fmt.Errorf("failed to advertise: %w", a.Err))
		case a.Advertising:
			s.advertising = true
			return f.say("advertising", "as %q", f.data.LocalName)
		case s.advertising:
			s.finish(errors.New("advertising stopped"))
		}

	case peripheral.DidSubscribeTo:
		return f.say("subscribed", "%s to %s", a.Central.Identifier, a.Characteristic.UUID)

	case peripheral.DidUnsubscribeFrom:
		return f.say("unsubscribed", "%s from %s", a.Central.Identifier, a.Characteristic.UUID)

	case peripheral.DidReceiveRead:
		req := a.Request
		req.Value = s.values[bluetooth.UUID(bluetooth.NormalizeUUID(string(req.Characteristic.UUID)))]
		return effect.Merge(
			fromPeripheral(f.manager.Respond(f.id, req, bluetooth.ATTSuccess)),
			f.say("read", "%s by %s", req.Characteristic.UUID, req.Central.Identifier),
		)

	case peripheral.DidReceiveWrite:
		if len(a.Requests) == 0 {
			return effect.None[action]()
		}
		values := make(map[bluetooth.UUID][]byte, len(s.values)+len(a.Requests))
		for k, v := range s.values {
			values[k] = v
		}
		next := []effect.Effect[action]{
			fromPeripheral(f.manager.Respond(f.id, a.Requests[0], bluetooth.ATTSuccess)),
		}
		for _, req := range a.Requests {
			key := bluetooth.UUID(bluetooth.NormalizeUUID(string(req.Characteristic.UUID)))
			values[key] = writeAt(values[key], req.Offset, req.Value)
			next = append(next, f.say("write", "%s = %s by %s", req.Characteristic.UUID, formatValue(values[key]), req.Central.Identifier))
			if req.Characteristic.Properties.CanNotify() {
				next = append(next, f.notify(key, values[key]))
			}
		}
		s.values = values
		return effect.Merge(next...)

	case peripheral.IsReadyToUpdateSubscribers:
		var next []effect.Effect[action]
		for key := range s.pending {
			next = append(next, f.notify(key, s.values[key]))
		}
		s.pending = nil
		return effect.Merge(next...)

	case peripheral.DidPublishL2CAPChannel:
		if a.Err != nil {
			return f.say("l2cap", "not available: %s", a.Err)
		}
		return f.say("l2cap", "listening on PSM 0x%04x", a.PSM)

	case peripheral.DidOpen:
		if a.Err != nil || a.Channel == nil {
			return effect.None[action]()
		}
		return effect.Merge(
			f.say("l2cap", "channel from %s", a.Channel.PeerID),
			echo(a.Channel),
		)
	}
	return effect.None[action]()
}

func (f *advertiseFlow) advertise() effect.Effect[action] {
	start := fromPeripheral(f.manager.StartAdvertising(f.id, f.data))
	if !f.l2cap {
		return start
	}
	return effect.Merge(start, fromPeripheral(f.manager.PublishL2CAPChannel(f.id, false)))
}

// notify pushes v to every subscriber of the characteristic.
func (f *advertiseFlow) notify(key bluetooth.UUID, v []byte) effect.Effect[action] {
	c := bluetooth.MutableCharacteristic{UUID: key}
	return effect.Map(f.manager.UpdateValue(f.id, v, c, nil), func(ok bool) action {
		return updateSent{characteristic: key, ok: ok}
	})
}

func (f *advertiseFlow) say(label, format string, args ...any) effect.Effect[action] {
	return effect.FireAndForget[action](func(context.Context) {
		f.out.Event(label, format, args...)
	})
}

// writeAt returns a copy of current with data written at offset.
func writeAt(current []byte, offset int, data []byte) []byte {
	if offset <= 0 {
		return append([]byte(nil), data...)
	}
	if offset > len(current) {
		offset = len(current)
	}
	out := make([]byte, 0, offset+len(data))
	out = append(out, current[:offset]...)
	return append(out, data...)
}

// echo sends back whatever the channel receives until it closes or the store stops.
func echo(ch *bluetooth.L2CAPChannel) effect.Effect[action] {
	return effect.FireAndForget[action](func(ctx context.Context) {
		stop := context.AfterFunc(ctx, func() { _ = ch.Stream.Close() })
		defer stop()
		_, _ = io.Copy(ch.Stream, ch.Stream)
		_ = ch.Stream.Close()
	})
}

func runAdvertise(cmd *cobra.Command, args []string) error {
	var services []bluetooth.MutableService
	switch {
	case advertiseProfile != "" && advertiseService != "":
		return errors.New("use either --profile or --service, not both")
	case advertiseProfile != "":
		loaded, err := loadProfile(advertiseProfile)
		if err != nil {
			return err
		}
		services = loaded
	case advertiseService != "":
		svc, err := flagService(advertiseService, advertiseChars)
		if err != nil {
			return err
		}
		services = []bluetooth.MutableService{svc}
	}

	values := make(map[bluetooth.UUID][]byte)
	var advertised []bluetooth.UUID
	for _, svc := range services {
		advertised = append(advertised, svc.UUID)
		for _, c := range svc.Characteristics {
			values[bluetooth.UUID(bluetooth.NormalizeUUID(string(c.UUID)))] = c.Value
		}
	}
	if advertiseService != "" && advertiseValue != "" {
		value, err := parseWriteData(advertiseValue, advertiseHex)
		if err != nil {
			return err
		}
		for k := range values {
			values[k] = value
		}
	}

	env, err := setupEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	manager := peripheral.NewLive(env.cfg.Peripheral, env.logger)
	defer manager.Close()

	flow := &advertiseFlow{
		manager: manager,
		id:      "bleflow",
		opts:    &bluetooth.InitializationOptions{RestoreIdentifier: advertiseRestore},
		data:    &bluetooth.AdvertisementData{LocalName: advertiseName, ServiceUUIDs: advertised},
		l2cap:   advertiseL2CAP,
		out:     env.out,
		logger:  env.logger,
	}
	initial := advertiseState{services: services, values: values}

	ctx, cancel := interruptible(cmd, advertiseDuration)
	defer cancel()

	_, err = runStore(ctx, initial, flow.reduce, func(s advertiseState) outcome { return s.outcome }, env.logger)
	if errors.Is(err, context.Canceled) || (errors.Is(err, context.DeadlineExceeded) && advertiseDuration > 0) {
		return nil
	}
	return err
}
