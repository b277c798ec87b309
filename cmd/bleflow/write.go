package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/central"
	"github.com/srg/bleflow/pkg/effect"
)

var writeCmd = &cobra.Command{
	Use:   "write <address> <characteristic> <data>",
	Short: "Write a characteristic or descriptor value",
	Long: `Connects to a peripheral and writes one characteristic or descriptor.

Data is sent as text unless --hex is given. Writes without response are
split into chunks of the negotiated maximum write length.

Examples:
  # Write text
  bleflow write AA:BB:CC:DD:EE:FF 2a39 hello

  # Write hex bytes
  bleflow write AA:BB:CC:DD:EE:FF 2a39 "01 02 ff" --hex

  # Stream a long value without waiting for acknowledgements
  bleflow write AA:BB:CC:DD:EE:FF 6e400002-b5a3-f393-e0a9-e50e24dcca9e "$(cat payload.txt)" --no-response

  # Enable notifications through the CCCD
  bleflow write AA:BB:CC:DD:EE:FF 2a37 0100 --desc 2902 --hex`,
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

var (
	writeAttribute  attributeFlags
	writeHex        bool
	writeNoResponse bool
	writeTimeout    time.Duration
)

func init() {
	writeCmd.Flags().StringVar(&writeAttribute.service, "service", "", "Service UUID (required if the characteristic UUID is ambiguous)")
	writeCmd.Flags().StringVar(&writeAttribute.descriptor, "desc", "", "Descriptor UUID (writes the descriptor instead of the characteristic)")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Data is hex (separators ' ', ':', '-' and 0x prefixes are ignored)")
	writeCmd.Flags().BoolVar(&writeNoResponse, "no-response", false, "Write without response")
	writeCmd.Flags().DurationVar(&writeTimeout, "timeout", 30*time.Second, "Overall timeout")
}

func parseWriteData(data string, hexMode bool) ([]byte, error) {
	if !hexMode {
		return []byte(data), nil
	}

	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(data)
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return decoded, nil
}

// writeType picks the write type c supports, preferring what was asked for.
func writeType(c bluetooth.Characteristic, noResponse bool) (bluetooth.WriteType, error) {
	withResponse := c.Properties.Has(bluetooth.PropertyWrite)
	withoutResponse := c.Properties.Has(bluetooth.PropertyWriteWithoutResponse)

	switch {
	case noResponse && withoutResponse:
		return bluetooth.WriteWithoutResponse, nil
	case !noResponse && withResponse:
		return bluetooth.WriteWithResponse, nil
	case withResponse:
		return bluetooth.WriteWithResponse, nil
	case withoutResponse:
		return bluetooth.WriteWithoutResponse, nil
	default:
		return 0, fmt.Errorf("characteristic %s is not writable [%s]", c.UUID, c.Properties)
	}
}

// writeReady issues the write of data to t.
func writeReady(t target, data []byte, noResponse bool) func(*gattState, central.PeripheralClient) effect.Effect[action] {
	return func(s *gattState, p central.PeripheralClient) effect.Effect[action] {
		c, err := resolveCharacteristic(s.peripheral, t)
		if err != nil {
			s.finish(err)
			return effect.None[action]()
		}

		if t.Descriptor != "" {
			d, err := resolveDescriptor(c, t)
			if err != nil {
				s.finish(err)
				return effect.None[action]()
			}
			return fromCentral(p.WriteDescriptor(data, d))
		}

		wt, err := writeType(c, noResponse)
		if err != nil {
			s.finish(err)
			return effect.None[action]()
		}
		if wt == bluetooth.WriteWithResponse {
			return fromCentral(p.WriteCharacteristic(data, c, wt))
		}

		// Unacknowledged writes are not reported back, so chunk them
		// through a writer and report when it was flushed.
		return effect.Task(func(context.Context) action {
			w := p.OpenWriter(c, wt)
			if _, err := w.Write(data); err != nil {
				_ = w.Close()
				return written{err: err}
			}
			return written{err: w.Close()}
		})
	}
}

// writeHandle finishes on the write confirmation of t.
func writeHandle(t target) func(*gattState, central.PeripheralClient, central.PeripheralAction) effect.Effect[action] {
	return func(s *gattState, _ central.PeripheralClient, a central.PeripheralAction) effect.Effect[action] {
		switch ev := a.(type) {
		case central.CharacteristicEvent:
			if w, ok := ev.Action.(central.DidWriteValue); ok && t.Descriptor == "" && w.Characteristic.UUID.Equal(t.Characteristic) {
				s.finish(errorOr(w.Err, nil))
			}
		case central.DescriptorEvent:
			if w, ok := ev.Action.(central.DidWriteDescriptorValue); ok && t.Descriptor != "" && w.Descriptor.UUID.Equal(t.Descriptor) {
				s.finish(errorOr(w.Err, nil))
			}
		}
		return effect.None[action]()
	}
}

func runWrite(cmd *cobra.Command, args []string) error {
	address := args[0]
	t, err := parseTarget(args[1], writeAttribute)
	if err != nil {
		return err
	}
	data, err := parseWriteData(args[2], writeHex)
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
		ready:  writeReady(t, data, writeNoResponse),
		handle: writeHandle(t),
	}
	initial := gattState{
		address:     address,
		filter:      t.services(),
		descriptors: t.Descriptor != "",
	}

	ctx, cancel := interruptible(cmd, writeTimeout)
	defer cancel()

	prog := newProgress(cmd.ErrOrStderr(), fmt.Sprintf("Writing %d bytes to %s", len(data), t.Characteristic), "Connecting")
	prog.Start()
	defer prog.Stop()

	if _, err := runStore(ctx, initial, flow.reduce, gattFinished, env.logger); err != nil {
		return err
	}
	prog.Stop()

	if env.out.json() {
		return env.out.JSON(map[string]any{
			"characteristic": t.Characteristic,
			"descriptor":     t.Descriptor,
			"written":        len(data),
		})
	}
	env.out.Printf("Wrote %d bytes to %s\n", len(data), t.Characteristic)
	return nil
}
