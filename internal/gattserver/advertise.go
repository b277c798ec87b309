package gattserver

import (
	"context"
	"errors"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/groutine"
	"github.com/srg/bleflow/internal/platform/goble"
	"github.com/srg/bleflow/pkg/bluetooth"
)

// advertisement is a running Advertise call.
type advertisement struct {
	data    bluetooth.AdvertisementData
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// StartAdvertising advertises the local name and service UUIDs of data until
// StopAdvertising. The outcome is reported through DidUpdateAdvertisingState.
func (s *Server) StartAdvertising(data *bluetooth.AdvertisementData) {
	if s.platform == nil {
		s.delegate.DidUpdateAdvertisingState(false, s.unavailable())
		return
	}

	var ad bluetooth.AdvertisementData
	if data != nil {
		ad = *data
	}
	services := make([]ble.UUID, 0, len(ad.ServiceUUIDs))
	for _, u := range ad.ServiceUUIDs {
		bu, err := goble.ToBLEUUID(u)
		if err != nil {
			s.delegate.DidUpdateAdvertisingState(false, bluetooth.NewKnownError(bluetooth.CodeInvalidParameters, "invalid service UUID %q", u))
			return
		}
		services = append(services, bu)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.delegate.DidUpdateAdvertisingState(false, bluetooth.NewKnownError(bluetooth.CodeOperationCancelled, "peripheral manager is closed"))
		return
	}
	if s.adv != nil {
		s.mu.Unlock()
		s.delegate.DidUpdateAdvertisingState(false, bluetooth.NewKnownError(bluetooth.CodeAlreadyAdvertising, "already advertising"))
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	adv := &advertisement{data: ad, cancel: cancel, done: make(chan struct{})}
	s.adv = adv
	s.mu.Unlock()

	logger := s.logger.WithFields(logrus.Fields{
		"name":     ad.LocalName,
		"services": ad.ServiceUUIDs,
	})
	if len(ad.ManufacturerData) > 0 || len(ad.ServiceData) > 0 {
		logger.Debug("Manufacturer and service data are not advertised by this adapter")
	}

	groutine.Go(ctx, "advertise", func(ctx context.Context) {
		defer close(adv.done)

		err := s.platform.Advertise(ctx, ad.LocalName, services)

		s.mu.Lock()
		stopped := adv.stopped
		if s.adv == adv {
			s.adv = nil
		}
		s.mu.Unlock()

		if stopped || ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		logger.WithField("error", err).Warn("Advertising ended")
		if err == nil {
			s.delegate.DidUpdateAdvertisingState(false, nil)
		} else {
			s.delegate.DidUpdateAdvertisingState(false, bluetooth.NewError(err))
		}
	})

	logger.Info("Advertising started")
	s.delegate.DidUpdateAdvertisingState(true, nil)
	s.persist()
}

// StopAdvertising stops a running advertisement and waits for the platform to release it.
func (s *Server) StopAdvertising() {
	s.mu.Lock()
	adv := s.adv
	if adv == nil {
		s.mu.Unlock()
		return
	}
	adv.stopped = true
	s.adv = nil
	s.mu.Unlock()

	adv.cancel()
	<-adv.done

	s.logger.Info("Advertising stopped")
	s.delegate.DidUpdateAdvertisingState(false, nil)
	s.persist()
}

// IsAdvertising reports whether an advertisement is running.
func (s *Server) IsAdvertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adv != nil
}
