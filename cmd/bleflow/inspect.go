package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/central"
	"github.com/srg/bleflow/pkg/effect"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <address>",
	Short: "Connect and list GATT services, characteristics and descriptors",
	Long: `Connects to a peripheral, discovers its GATT database and prints it.

Examples:
  # Print the GATT tree
  bleflow inspect AA:BB:CC:DD:EE:FF

  # Also read every readable characteristic
  bleflow inspect AA:BB:CC:DD:EE:FF --read

  # Machine readable
  bleflow inspect AA:BB:CC:DD:EE:FF --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectRead    bool
	inspectTimeout time.Duration
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectRead, "read", false, "Read the value of every readable characteristic")
	inspectCmd.Flags().DurationVar(&inspectTimeout, "timeout", 60*time.Second, "Overall timeout")
}

// inspectReady reads every readable characteristic when asked to, otherwise
// the command is done once discovery completed.
func inspectReady(read bool) func(*gattState, central.PeripheralClient) effect.Effect[action] {
	return func(s *gattState, p central.PeripheralClient) effect.Effect[action] {
		if !read {
			s.finish(nil)
			return effect.None[action]()
		}

		var reads []effect.Effect[action]
		for _, svc := range s.peripheral.Services {
			for _, c := range svc.Characteristics {
				if c.Properties.Has(bluetooth.PropertyRead) {
					reads = append(reads, fromCentral(p.ReadCharacteristic(c)))
				}
			}
		}
		s.expected = len(reads)
		if s.expected == 0 {
			s.finish(nil)
			return effect.None[action]()
		}
		return effect.Merge(reads...)
	}
}

// collectValues records read results until every expected value arrived.
// Read errors are kept as empty values so one protected characteristic does
// not fail the whole inspection.
func collectValues(s *gattState, p central.PeripheralClient, a central.PeripheralAction) effect.Effect[action] {
	ev, ok := a.(central.CharacteristicEvent)
	if !ok {
		return effect.None[action]()
	}
	u, ok := ev.Action.(central.DidUpdateValue)
	if !ok {
		return effect.None[action]()
	}

	s.values = append(s.values, valueRecord{
		Service:        u.Characteristic.ServiceUUID,
		Characteristic: u.Characteristic.UUID,
		Value:          u.Characteristic.Value,
	})
	if len(s.values) >= s.expected {
		s.peripheral = p.Snapshot()
		s.finish(nil)
	}
	return effect.None[action]()
}

func runInspect(cmd *cobra.Command, args []string) error {
	address := args[0]

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
		ready:  inspectReady(inspectRead),
		handle: collectValues,
	}

	ctx, cancel := interruptible(cmd, inspectTimeout)
	defer cancel()

	prog := newProgress(cmd.ErrOrStderr(), fmt.Sprintf("Inspecting %s", address), "Connecting")
	prog.Start()
	defer prog.Stop()

	final, err := runStore(ctx, gattState{address: address, descriptors: true}, flow.reduce, gattFinished, env.logger)
	prog.Stop()
	if err != nil {
		return err
	}
	return displayPeripheral(env.out, final.peripheral)
}

// displayPeripheral prints the GATT tree of p.
func displayPeripheral(out *printer, p bluetooth.Peripheral) error {
	if out.json() {
		return out.JSON(p)
	}

	out.Printf("%s %s\n", out.title.Sprint(p.DisplayName()), out.faint.Sprint(p.Identifier))
	if len(p.Services) == 0 {
		out.Printf("  no services\n")
		return nil
	}

	for _, svc := range p.Services {
		out.Printf("  service %s%s\n", out.accent.Sprint(svc.UUID), known(svc.KnownName()))
		for _, c := range svc.Characteristics {
			out.Printf("    characteristic %s%s [%s]\n", out.accent.Sprint(c.UUID), known(c.KnownName()), c.Properties)
			if len(c.Value) > 0 {
				out.Printf("      value %s\n", formatValue(c.Value))
			}
			for _, d := range c.Descriptors {
				out.Printf("      descriptor %s%s\n", d.UUID, known(d.KnownName()))
			}
		}
	}
	return nil
}

func known(name string) string {
	if name == "" {
		return ""
	}
	return " (" + name + ")"
}
