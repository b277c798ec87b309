package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bleflow/pkg/central"
	"github.com/srg/bleflow/pkg/effect"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <address> <characteristic>",
	Short: "Print notifications or indications of a characteristic",
	Long: `Connects to a peripheral, enables notifications on one characteristic
and prints every value until interrupted.

Examples:
  # Heart rate measurements until Ctrl+C
  bleflow subscribe AA:BB:CC:DD:EE:FF 2a37

  # Stop after 10 values, one JSON object per line
  bleflow subscribe AA:BB:CC:DD:EE:FF 2a37 --count 10 --format json`,
	Args: cobra.ExactArgs(2),
	RunE: runSubscribe,
}

var (
	subscribeAttribute attributeFlags
	subscribeCount     int
	subscribeDuration  time.Duration
)

func init() {
	subscribeCmd.Flags().StringVar(&subscribeAttribute.service, "service", "", "Service UUID (required if the characteristic UUID is ambiguous)")
	subscribeCmd.Flags().IntVarP(&subscribeCount, "count", "n", 0, "Stop after this many values (0 for no limit)")
	subscribeCmd.Flags().DurationVarP(&subscribeDuration, "duration", "d", 0, "Stop after this long (0 for no limit)")
}

// notification is one printed value.
type notification struct {
	valueRecord
	Received time.Time `json:"received"`
}

// subscribeReady enables notifications on t.
func subscribeReady(t target) func(*gattState, central.PeripheralClient) effect.Effect[action] {
	return func(s *gattState, p central.PeripheralClient) effect.Effect[action] {
		c, err := resolveCharacteristic(s.peripheral, t)
		if err != nil {
			s.finish(err)
			return effect.None[action]()
		}
		if !c.Properties.CanNotify() {
			s.finish(fmt.Errorf("characteristic %s does not support notifications [%s]", c.UUID, c.Properties))
			return effect.None[action]()
		}
		return fromCentral(p.SetNotify(true, c))
	}
}

// subscribeHandle prints every value of t until count values were received.
func subscribeHandle(t target, out *printer, count int, now func() time.Time) func(*gattState, central.PeripheralClient, central.PeripheralAction) effect.Effect[action] {
	return func(s *gattState, _ central.PeripheralClient, a central.PeripheralAction) effect.Effect[action] {
		ev, ok := a.(central.CharacteristicEvent)
		if !ok || !ev.UUID.Equal(t.Characteristic) {
			return effect.None[action]()
		}

		switch u := ev.Action.(type) {
		case central.DidUpdateNotificationState:
			if u.Err != nil {
				s.finish(u.Err)
				return effect.None[action]()
			}
			if !u.Characteristic.IsNotifying {
				s.finish(errors.New("notifications were disabled by the peripheral"))
				return effect.None[action]()
			}
			if out.json() {
				return effect.None[action]()
			}
			return effect.FireAndForget[action](func(context.Context) {
				out.Event("subscribed", "%s", u.Characteristic.UUID)
			})

		case central.DidUpdateValue:
			if u.Err != nil {
				s.finish(u.Err)
				return effect.None[action]()
			}
			n := notification{
				valueRecord: valueRecord{
					Service:        u.Characteristic.ServiceUUID,
					Characteristic: u.Characteristic.UUID,
					Value:          u.Characteristic.Value,
				},
				Received: now(),
			}
			s.values = append(s.values, n.valueRecord)
			if count > 0 && len(s.values) >= count {
				s.finish(nil)
			}
			return effect.FireAndForget[action](func(context.Context) {
				if out.json() {
					_ = out.Line(n)
					return
				}
				out.Event(n.Received.Format("15:04:05.000"), "%s", formatValue(n.Value))
			})
		}
		return effect.None[action]()
	}
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	address := args[0]
	t, err := parseTarget(args[1], subscribeAttribute)
	if err != nil {
		return err
	}
	if subscribeCount < 0 {
		return fmt.Errorf("invalid count %d: must not be negative", subscribeCount)
	}

	env, err := setupEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	client, err := central.NewLive(env.cfg.Central, nil, env.logger)
	if err != nil {
		return err
	}
	defer client.Close()

	flow := &gattFlow{
		client: client,
		logger: env.logger,
		ready:  subscribeReady(t),
		handle: subscribeHandle(t, env.out, subscribeCount, time.Now),
	}
	initial := gattState{address: address, filter: t.services()}

	ctx, cancel := interruptible(cmd, subscribeDuration)
	defer cancel()

	_, err = runStore(ctx, initial, flow.reduce, gattFinished, env.logger)
	if errors.Is(err, context.DeadlineExceeded) && subscribeDuration > 0 {
		return nil
	}
	return err
}
