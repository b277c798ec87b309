package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/central"
	"github.com/srg/bleflow/pkg/effect"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE peripherals",
	Long: `Scan for Bluetooth Low Energy peripherals advertising nearby and list
their names, addresses, signal strength and advertised services.

Examples:
  # Scan for 10 seconds
  bleflow scan

  # Only heart rate monitors, printing each one as it is found
  bleflow scan --services 180d --watch

  # Scan until Ctrl+C and print JSON
  bleflow scan --duration 0 --format json`,
	RunE: runScan,
}

var (
	scanDuration        time.Duration
	scanServices        []string
	scanName            string
	scanAllowDuplicates bool
	scanWatch           bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 scans until interrupted)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Only report peripherals advertising these service UUIDs")
	scanCmd.Flags().StringVar(&scanName, "name", "", "Only report peripherals whose name contains this text")
	scanCmd.Flags().BoolVar(&scanAllowDuplicates, "allow-duplicates", false, "Report every advertisement instead of the first per peripheral")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Print peripherals as they are discovered")
}

// scanEntry is the latest advertisement of one peripheral.
type scanEntry struct {
	Peripheral    bluetooth.Peripheral        `json:"peripheral"`
	Advertisement bluetooth.AdvertisementData `json:"advertisement"`
	RSSI          int                         `json:"rssi"`
	LastSeen      time.Time                   `json:"last_seen"`
}

type scanState struct {
	outcome

	services  []bluetooth.UUID
	requested bool
	scanning  bool
	found     *orderedmap.OrderedMap[string, scanEntry]
}

// scanFlow is the scan command reducer and its dependencies.
type scanFlow struct {
	client  central.Client
	out     *printer
	logger  *logrus.Logger
	name    string
	options *bluetooth.ScanOptions
	watch   bool
	now     func() time.Time
}

func (f *scanFlow) reduce(s *scanState, a action) effect.Effect[action] {
	switch a := a.(type) {
	case started:
		return fromCentral(f.client.Delegate())

	case centralAction:
		switch ca := a.Action.(type) {
		case central.DidUpdateState:
			if ca.State != bluetooth.ManagerStatePoweredOn {
				s.finish(fmt.Errorf("bluetooth is %s", ca.State))
				return effect.None[action]()
			}
			if s.requested {
				return effect.None[action]()
			}
			s.requested = true
			return fromCentral(f.client.ScanForPeripherals(s.services, f.options))

		case central.DidUpdateScanningState:
			s.scanning = ca.Scanning
			f.logger.WithField("scanning", ca.Scanning).Debug("Scanning state changed")

		case central.DidDiscover:
			name := ca.Peripheral.Name
			if name == "" {
				name = ca.Advertisement.LocalName
			}
			if f.name != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(f.name)) {
				return effect.None[action]()
			}

			entry := scanEntry{
				Peripheral:    ca.Peripheral,
				Advertisement: ca.Advertisement,
				RSSI:          ca.RSSI,
				LastSeen:      f.now(),
			}
			_, seen := s.found.Get(ca.Peripheral.Identifier)
			s.found.Set(ca.Peripheral.Identifier, entry)
			if f.watch && (!seen || f.options.AllowDuplicates) {
				return f.print(entry)
			}
		}
	}
	return effect.None[action]()
}

func (f *scanFlow) print(e scanEntry) effect.Effect[action] {
	return effect.FireAndForget[action](func(context.Context) {
		if f.out.json() {
			_ = f.out.Line(e)
			return
		}
		f.out.Event("found", "%s  %s  %d dBm  %s",
			entryName(e), e.Peripheral.Identifier, e.RSSI, joinUUIDs(e.Advertisement.ServiceUUIDs))
	})
}

func runScan(cmd *cobra.Command, args []string) error {
	services, err := bluetooth.ParseUUIDs(scanServices...)
	if err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
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

	flow := &scanFlow{
		client:  client,
		out:     env.out,
		logger:  env.logger,
		name:    scanName,
		options: &bluetooth.ScanOptions{AllowDuplicates: scanAllowDuplicates},
		watch:   scanWatch,
		now:     time.Now,
	}
	initial := scanState{
		services: services,
		found:    orderedmap.New[string, scanEntry](),
	}

	ctx, cancel := interruptible(cmd, scanDuration)
	defer cancel()

	var prog *progress
	if !scanWatch {
		if scanDuration > 0 {
			prog = newCountdown(cmd.ErrOrStderr(), "Scanning for BLE peripherals", "remaining", scanDuration)
		} else {
			prog = newProgress(cmd.ErrOrStderr(), "Scanning for BLE peripherals", "Ctrl+C to stop")
		}
		prog.Start()
		defer prog.Stop()
	}

	final, err := runStore(ctx, initial, flow.reduce, func(s scanState) outcome { return s.outcome }, env.logger)
	if prog != nil {
		prog.Stop()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	if scanWatch {
		return nil
	}
	return displayScan(env.out, final.found)
}

// displayScan prints the discovered peripherals, strongest signal first.
func displayScan(out *printer, found *orderedmap.OrderedMap[string, scanEntry]) error {
	entries := make([]scanEntry, 0, found.Len())
	for pair := found.Oldest(); pair != nil; pair = pair.Next() {
		entries = append(entries, pair.Value)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RSSI > entries[j].RSSI
	})

	if out.json() {
		return out.JSON(entries)
	}
	if len(entries) == 0 {
		out.Printf("No peripherals discovered\n")
		return nil
	}

	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			truncate(entryName(e), 20),
			e.Peripheral.Identifier,
			fmt.Sprintf("%d dBm", e.RSSI),
			truncate(joinUUIDs(e.Advertisement.ServiceUUIDs), 30),
			connectable(e.Advertisement),
		}
	}
	return out.Table([]string{"NAME", "ADDRESS", "RSSI", "SERVICES", "CONNECTABLE"}, rows)
}

func entryName(e scanEntry) string {
	if e.Peripheral.Name != "" {
		return e.Peripheral.Name
	}
	if e.Advertisement.LocalName != "" {
		return e.Advertisement.LocalName
	}
	return "(unknown)"
}

func connectable(adv bluetooth.AdvertisementData) string {
	switch {
	case adv.IsConnectable == nil:
		return "-"
	case *adv.IsConnectable:
		return "yes"
	default:
		return "no"
	}
}

func joinUUIDs(us []bluetooth.UUID) string {
	parts := make([]string, len(us))
	for i, u := range us {
		parts[i] = string(u)
	}
	return strings.Join(parts, ",")
}
