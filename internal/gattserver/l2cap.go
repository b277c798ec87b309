package gattserver

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/groutine"
	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/pkg/bluetooth"
)

func l2capNotSupported() *bluetooth.Error {
	return bluetooth.NewKnownError(bluetooth.CodeOperationNotSupported, "L2CAP channels are not supported by this adapter")
}

// PublishL2CAPChannel listens for connection-oriented channels. Accepted
// channels are reported through DidOpen.
func (s *Server) PublishL2CAPChannel(encrypted bool) {
	if s.platform == nil {
		s.delegate.DidPublishL2CAPChannel(0, s.unavailable())
		return
	}
	pub, ok := s.platform.(platform.L2CAPPublisher)
	if !ok {
		s.delegate.DidPublishL2CAPChannel(0, l2capNotSupported())
		return
	}

	psm, accept, err := pub.PublishL2CAP(encrypted)
	if err != nil {
		s.delegate.DidPublishL2CAPChannel(0, bluetooth.NewError(err))
		return
	}
	s.logger.WithFields(logrus.Fields{
		"psm":       psm,
		"encrypted": encrypted,
	}).Info("L2CAP channel published")
	s.delegate.DidPublishL2CAPChannel(psm, nil)

	groutine.Go(s.ctx, "l2cap-accept", func(ctx context.Context) {
		for {
			select {
			case conn, ok := <-accept:
				if !ok {
					return
				}
				s.logger.WithFields(logrus.Fields{
					"psm":  conn.PSM,
					"peer": conn.PeerID,
				}).Info("L2CAP channel opened")
				s.delegate.DidOpen(&bluetooth.L2CAPChannel{PSM: conn.PSM, PeerID: conn.PeerID, Stream: conn.Stream}, nil)
			case <-ctx.Done():
				return
			}
		}
	})
}

// UnpublishL2CAPChannel stops listening on psm.
func (s *Server) UnpublishL2CAPChannel(psm uint16) {
	if s.platform == nil {
		s.delegate.DidUnpublishL2CAPChannel(psm, s.unavailable())
		return
	}
	pub, ok := s.platform.(platform.L2CAPPublisher)
	if !ok {
		s.delegate.DidUnpublishL2CAPChannel(psm, l2capNotSupported())
		return
	}
	if err := pub.UnpublishL2CAP(psm); err != nil {
		s.delegate.DidUnpublishL2CAPChannel(psm, bluetooth.NewError(err))
		return
	}
	s.logger.WithField("psm", psm).Info("L2CAP channel unpublished")
	s.delegate.DidUnpublishL2CAPChannel(psm, nil)
}
