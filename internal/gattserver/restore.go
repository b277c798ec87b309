package gattserver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/bleflow/pkg/bluetooth"
)

// restoreRecord is the persisted peripheral manager state.
type restoreRecord struct {
	Services    []bluetooth.MutableService    `yaml:"services,omitempty"`
	Advertising *bluetooth.AdvertisementData `yaml:"advertising,omitempty"`
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
	return &restoreStore{path: filepath.Join(dir, identifier+".peripheral.yaml")}, nil
}

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

// loadRestoration republishes the services saved under identifier and keeps
// what was restored for the WillRestore action.
func (s *Server) loadRestoration(identifier string) {
	logger := s.logger.WithField("restore_identifier", identifier)

	store, err := newRestoreStore(s.cfg.RestoreDir, identifier)
	if err != nil {
		logger.WithField("error", err).Warn("State restoration disabled")
		return
	}
	s.restore = store

	rec, err := store.load()
	if err != nil {
		logger.WithField("error", err).Warn("Ignoring saved peripheral manager state")
		return
	}
	if rec == nil {
		return
	}

	opts := &bluetooth.PeripheralRestorationOptions{AdvertisementData: rec.Advertising}
	for _, def := range rec.Services {
		if _, err := s.addService(def); err != nil {
			logger.WithFields(logrus.Fields{
				"service": def.UUID,
				"error":   err,
			}).Warn("Failed to restore service")
			continue
		}
		opts.Services = append(opts.Services, bluetooth.UUID(bluetooth.NormalizeUUID(string(def.UUID))))
	}

	s.mu.Lock()
	s.restored = opts
	s.mu.Unlock()
	logger.WithField("services", len(opts.Services)).Info("Restored peripheral manager state")
}

// persist saves the published services and advertising data. Nothing is
// saved without a restore identifier or after Close.
func (s *Server) persist() {
	if s.restore == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	rec := &restoreRecord{}
	for pair := s.services.Oldest(); pair != nil; pair = pair.Next() {
		rec.Services = append(rec.Services, pair.Value.def)
	}
	if s.adv != nil {
		data := s.adv.data
		rec.Advertising = &data
	}
	s.mu.Unlock()

	if err := s.restore.save(rec); err != nil {
		s.logger.WithField("error", err).Warn("Failed to save peripheral manager state")
	}
}
