package gattserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/pkg/bluetooth"
)

// notifier is the part of ble.Notifier the server uses.
type notifier interface {
	Context() context.Context
	Write(b []byte) (int, error)
	Cap() int
}

// subscriber is one central subscribed to one characteristic.
type subscriber struct {
	char     *localCharacteristic
	central  bluetooth.Central
	indicate bool

	mu sync.Mutex
	n  notifier
}

func subscriberKey(service, char bluetooth.UUID, central string) string {
	return string(service) + "/" + string(char) + "|" + central
}

func (s *Server) notifyHandler(lc *localCharacteristic, indicate bool) ble.NotifyHandlerFunc {
	return func(req ble.Request, n ble.Notifier) {
		s.serveSubscription(lc, centralFrom(req.Conn()), n, indicate)
	}
}

// serveSubscription registers a subscriber and blocks until it unsubscribes.
func (s *Server) serveSubscription(lc *localCharacteristic, central bluetooth.Central, n notifier, indicate bool) {
	if c := n.Cap(); c > 0 {
		central.MaximumUpdateValueLength = c
	}
	s.centrals.Set(central.Identifier, central)

	key := subscriberKey(lc.service, lc.uuid, central.Identifier)
	s.subscribers.Set(key, &subscriber{char: lc, central: central, indicate: indicate, n: n})

	logger := s.logger.WithFields(logrus.Fields{
		"central":        central.Identifier,
		"characteristic": lc.uuid,
		"indicate":       indicate,
	})
	logger.Info("Central subscribed")
	s.delegate.DidSubscribeTo(lc.snapshot(), central)

	select {
	case <-n.Context().Done():
	case <-s.ctx.Done():
	}

	s.subscribers.Del(key)
	logger.Info("Central unsubscribed")
	s.delegate.DidUnsubscribeFrom(lc.snapshot(), central)
}

// Subscribers returns the centrals subscribed to a characteristic.
func (s *Server) Subscribers(char bluetooth.UUID) []bluetooth.Central {
	u := bluetooth.UUID(bluetooth.NormalizeUUID(string(char)))
	var out []bluetooth.Central
	s.subscribers.Range(func(_ string, sub *subscriber) bool {
		if sub.char.uuid == u {
			out = append(out, sub.central)
		}
		return true
	})
	return out
}

// UpdateValue sends data to the centrals subscribed to c, or only to those
// listed in centrals. Without c.ServiceUUID the first published service
// carrying c.UUID is used. It returns false when any send failed; once a later
// send succeeds IsReadyToUpdateSubscribers is reported.
func (s *Server) UpdateValue(data []byte, c bluetooth.MutableCharacteristic, centrals []bluetooth.Central) bool {
	lc, ok := s.characteristic(c.ServiceUUID, c.UUID)
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"service":        c.ServiceUUID,
			"characteristic": c.UUID,
		}).Warn("Update ignored, characteristic is not published")
		return false
	}

	lc.mu.Lock()
	lc.value = append([]byte(nil), data...)
	lc.mu.Unlock()

	var targets []*subscriber
	s.subscribers.Range(func(_ string, sub *subscriber) bool {
		if sub.char == lc && wanted(sub.central, centrals) {
			targets = append(targets, sub)
		}
		return true
	})

	sent := true
	for _, sub := range targets {
		if err := sub.send(data); err != nil {
			sent = false
			s.logger.WithFields(logrus.Fields{
				"central":        sub.central.Identifier,
				"characteristic": lc.uuid,
				"error":          err,
			}).Warn("Failed to update subscriber")
		}
	}

	if !sent {
		s.needsReady.Store(true)
		return false
	}
	if len(targets) > 0 && s.needsReady.CompareAndSwap(true, false) {
		s.delegate.IsReadyToUpdateSubscribers()
	}
	return true
}

func wanted(central bluetooth.Central, centrals []bluetooth.Central) bool {
	if len(centrals) == 0 {
		return true
	}
	for _, c := range centrals {
		if c.Identifier == central.Identifier {
			return true
		}
	}
	return false
}

func (sub *subscriber) send(data []byte) error {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if max := sub.n.Cap(); max > 0 && len(data) > max {
		return fmt.Errorf("value of %d bytes exceeds the %d bytes the central accepts", len(data), max)
	}
	if _, err := sub.n.Write(data); err != nil {
		return err
	}
	return nil
}
