package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/srg/bleflow/pkg/bluetooth"
)

// restoreRecord is the persisted manager state.
type restoreRecord struct {
	Peripherals  []restoredPeripheral   `yaml:"peripherals,omitempty"`
	ScanServices []bluetooth.UUID       `yaml:"scan_services,omitempty"`
	ScanOptions  *bluetooth.ScanOptions `yaml:"scan_options,omitempty"`
	Scanning     bool                   `yaml:"scanning"`
}

type restoredPeripheral struct {
	Identifier string           `yaml:"identifier"`
	Name       string           `yaml:"name,omitempty"`
	Services   []bluetooth.UUID `yaml:"services,omitempty"`
}

// restoreStore keeps one YAML file per restore identifier.
type restoreStore struct {
	path string

	mu sync.Mutex
}

func newRestoreStore(dir, identifier string) (*restoreStore, error) {
	if identifier == "" || strings.ContainsAny(identifier, `/\`) || identifier == "." || identifier == ".." {
		return nil, fmt.Errorf("invalid restore identifier %q", identifier)
	}
	return &restoreStore{path: filepath.Join(dir, identifier+".yaml")}, nil
}

// load returns nil without error when nothing was saved yet.
func (s *restoreStore) load() (*restoreRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read restore state %s: %w", s.path, err)
	}

	var rec restoreRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse restore state %s: %w", s.path, err)
	}
	return &rec, nil
}

func (s *restoreStore) save(rec *restoreRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode restore state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create restore directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write restore state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write restore state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write restore state: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

// options converts a record into the value handed to the delegate.
func (r *restoreRecord) options() bluetooth.RestorationOptions {
	opts := bluetooth.RestorationOptions{}
	for _, p := range r.Peripherals {
		opts.Peripherals = append(opts.Peripherals, bluetooth.Peripheral{
			Identifier: p.Identifier,
			Name:       p.Name,
			State:      bluetooth.PeripheralStateDisconnected,
		})
	}
	if r.Scanning {
		opts.ScannedServices = r.ScanServices
		opts.ScanOptions = r.ScanOptions
	}
	return opts
}
