package goble

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleflow/internal/platform"
)

// server adapts a go-ble device to platform.Server.
type server struct {
	dev    ble.Device
	logger *logrus.Logger
}

// NewServer opens the local adapter in the peripheral role.
func NewServer(logger *logrus.Logger) (platform.Server, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := ServerDeviceFactory()
	if err != nil {
		logger.WithField("error", err).Error("Failed to create BLE peripheral device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return &server{dev: dev, logger: logger}, nil
}

func (s *server) AddService(svc *ble.Service) error {
	return NormalizeError(s.dev.AddService(svc))
}

func (s *server) RemoveAllServices() error {
	return NormalizeError(s.dev.RemoveAllServices())
}

func (s *server) SetServices(ss []*ble.Service) error {
	return NormalizeError(s.dev.SetServices(ss))
}

func (s *server) Advertise(ctx context.Context, name string, services []ble.UUID) error {
	s.logger.WithFields(logrus.Fields{
		"name":     name,
		"services": len(services),
	}).Debug("Advertising...")

	err := s.dev.AdvertiseNameAndServices(ctx, name, services...)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return nil
}

func (s *server) Stop() error {
	return NormalizeError(s.dev.Stop())
}
