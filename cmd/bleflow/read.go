package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bleflow/pkg/central"
	"github.com/srg/bleflow/pkg/effect"
)

var readCmd = &cobra.Command{
	Use:   "read <address> <characteristic>",
	Short: "Read a characteristic or descriptor value",
	Long: `Connects to a peripheral and reads one characteristic or descriptor.

Examples:
  # Read Battery Level
  bleflow read AA:BB:CC:DD:EE:FF 2a19

  # Disambiguate a characteristic present in several services
  bleflow read AA:BB:CC:DD:EE:FF 2a37 --service 180d

  # Read the Client Characteristic Configuration descriptor
  bleflow read AA:BB:CC:DD:EE:FF 2a37 --desc 2902

  # Print only the hex value
  bleflow read AA:BB:CC:DD:EE:FF 2a19 --hex`,
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var (
	readAttribute attributeFlags
	readHex       bool
	readTimeout   time.Duration
)

func init() {
	readCmd.Flags().StringVar(&readAttribute.service, "service", "", "Service UUID (required if the characteristic UUID is ambiguous)")
	readCmd.Flags().StringVar(&readAttribute.descriptor, "desc", "", "Descriptor UUID (reads the descriptor instead of the characteristic)")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Print only the value as a hex string")
	readCmd.Flags().DurationVar(&readTimeout, "timeout", 30*time.Second, "Overall timeout")
}

// readReady issues the read of t once the database is known.
func readReady(t target) func(*gattState, central.PeripheralClient) effect.Effect[action] {
	return func(s *gattState, p central.PeripheralClient) effect.Effect[action] {
		c, err := resolveCharacteristic(s.peripheral, t)
		if err != nil {
			s.finish(err)
			return effect.None[action]()
		}
		if t.Descriptor == "" {
			return fromCentral(p.ReadCharacteristic(c))
		}
		d, err := resolveDescriptor(c, t)
		if err != nil {
			s.finish(err)
			return effect.None[action]()
		}
		return fromCentral(p.ReadDescriptor(d))
	}
}

// readHandle finishes on the value of t.
func readHandle(t target) func(*gattState, central.PeripheralClient, central.PeripheralAction) effect.Effect[action] {
	return func(s *gattState, _ central.PeripheralClient, a central.PeripheralAction) effect.Effect[action] {
		switch ev := a.(type) {
		case central.CharacteristicEvent:
			u, ok := ev.Action.(central.DidUpdateValue)
			if !ok || t.Descriptor != "" || !u.Characteristic.UUID.Equal(t.Characteristic) {
				break
			}
			if u.Err != nil {
				s.finish(u.Err)
				break
			}
			s.values = append(s.values, valueRecord{
				Service:        u.Characteristic.ServiceUUID,
				Characteristic: u.Characteristic.UUID,
				Value:          u.Characteristic.Value,
			})
			s.finish(nil)

		case central.DescriptorEvent:
			u, ok := ev.Action.(central.DidUpdateDescriptorValue)
			if !ok || t.Descriptor == "" || !u.Descriptor.UUID.Equal(t.Descriptor) {
				break
			}
			if u.Err != nil {
				s.finish(u.Err)
				break
			}
			s.values = append(s.values, valueRecord{
				Service:        u.Descriptor.ServiceUUID,
				Characteristic: u.Descriptor.CharacteristicUUID,
				Descriptor:     u.Descriptor.UUID,
				Value:          u.Descriptor.Value,
			})
			s.finish(nil)
		}
		return effect.None[action]()
	}
}

func runRead(cmd *cobra.Command, args []string) error {
	address := args[0]
	t, err := parseTarget(args[1], readAttribute)
	if err != nil {
		return err
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
		ready:  readReady(t),
		handle: readHandle(t),
	}
	initial := gattState{
		address:     address,
		filter:      t.services(),
		descriptors: t.Descriptor != "",
	}

	ctx, cancel := interruptible(cmd, readTimeout)
	defer cancel()

	prog := newProgress(cmd.ErrOrStderr(), fmt.Sprintf("Reading %s from %s", t.Characteristic, address), "Connecting")
	prog.Start()
	defer prog.Stop()

	final, err := runStore(ctx, initial, flow.reduce, gattFinished, env.logger)
	prog.Stop()
	if err != nil {
		return err
	}
	return displayValues(env.out, final.values, readHex)
}

// displayValues prints read or notified values.
func displayValues(out *printer, values []valueRecord, hexOnly bool) error {
	if out.json() {
		return out.JSON(values)
	}
	if hexOnly {
		for _, v := range values {
			out.Printf("%s\n", hex.EncodeToString(v.Value))
		}
		return nil
	}

	rows := make([][]string, len(values))
	for i, v := range values {
		attr := string(v.Characteristic)
		if v.Descriptor != "" {
			attr += "/" + string(v.Descriptor)
		}
		rows[i] = []string{string(v.Service), attr, formatValue(v.Value)}
	}
	return out.Table([]string{"SERVICE", "ATTRIBUTE", "VALUE"}, rows)
}
