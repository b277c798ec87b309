package gattserver

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/pkg/bluetooth"
)

const attHeaderSize = 3

// response answers a pending request.
type response struct {
	code  bluetooth.ATTErrorCode
	value []byte
}

// pendingRequest is a central's read or write waiting for Respond.
type pendingRequest struct {
	request bluetooth.ATTRequest
	answer  chan response
}

// centralFrom identifies the remote central of a connection.
func centralFrom(conn ble.Conn) bluetooth.Central {
	if conn == nil {
		return bluetooth.Central{Identifier: "unknown"}
	}
	return bluetooth.Central{
		Identifier:               conn.RemoteAddr().String(),
		MaximumUpdateValueLength: conn.TxMTU() - attHeaderSize,
	}
}

func (s *Server) readHandler(lc *localCharacteristic) ble.ReadHandlerFunc {
	return func(req ble.Request, rsp ble.ResponseWriter) {
		code, value := s.handleRead(lc, centralFrom(req.Conn()), req.Offset())
		rsp.SetStatus(ble.ATTError(code))
		if code == bluetooth.ATTSuccess {
			if _, err := rsp.Write(value); err != nil {
				s.logger.WithField("error", err).Warn("Failed to write read response")
			}
		}
	}
}

func (s *Server) writeHandler(lc *localCharacteristic) ble.WriteHandlerFunc {
	return func(req ble.Request, rsp ble.ResponseWriter) {
		code := s.handleWrite(lc, centralFrom(req.Conn()), req.Offset(), req.Data())
		rsp.SetStatus(ble.ATTError(code))
	}
}

// handleRead forwards a read to the application and blocks for the answer.
func (s *Server) handleRead(lc *localCharacteristic, central bluetooth.Central, offset int) (bluetooth.ATTErrorCode, []byte) {
	s.centrals.Set(central.Identifier, central)

	p := s.register(bluetooth.ATTRequest{
		ID:             ulid.Make().String(),
		Central:        central,
		Characteristic: lc.snapshot(),
		Offset:         offset,
	})
	s.delegate.DidReceiveRead(p.request)

	r := s.await(p)
	return r.code, r.value
}

// handleWrite forwards a write to the application and blocks for the answer.
func (s *Server) handleWrite(lc *localCharacteristic, central bluetooth.Central, offset int, data []byte) bluetooth.ATTErrorCode {
	s.centrals.Set(central.Identifier, central)

	p := s.register(bluetooth.ATTRequest{
		ID:             ulid.Make().String(),
		Central:        central,
		Characteristic: lc.snapshot(),
		Offset:         offset,
		Value:          append([]byte(nil), data...),
	})
	s.delegate.DidReceiveWrite([]bluetooth.ATTRequest{p.request})

	return s.await(p).code
}

func (s *Server) register(req bluetooth.ATTRequest) *pendingRequest {
	p := &pendingRequest{request: req, answer: make(chan response, 1)}
	s.pending.Set(req.ID, p)

	s.logger.WithFields(logrus.Fields{
		"request":        req.ID,
		"central":        req.Central.Identifier,
		"characteristic": req.Characteristic.UUID,
	}).Debug("ATT request pending")
	return p
}

// await blocks until the request is answered; unanswered requests fail with unlikelyError.
func (s *Server) await(p *pendingRequest) response {
	defer s.pending.Del(p.request.ID)

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case r := <-p.answer:
		return r
	case <-timer.C:
		s.logger.WithFields(logrus.Fields{
			"request": p.request.ID,
			"timeout": s.cfg.RequestTimeout,
		}).Warn("ATT request was not answered in time")
	case <-s.ctx.Done():
	}
	return response{code: bluetooth.ATTUnlikelyError}
}

// Respond answers a pending request. For reads, req.Value is the value sent
// back; it is cut at req.Offset when the central asked for a continuation.
func (s *Server) Respond(req bluetooth.ATTRequest, code bluetooth.ATTErrorCode) error {
	p, ok := s.pending.Get(req.ID)
	if !ok {
		return bluetooth.NewKnownError(bluetooth.CodeInvalidParameters, "no pending request %s", req.ID)
	}

	value := req.Value
	if code == bluetooth.ATTSuccess && req.Offset > 0 {
		if req.Offset > len(value) {
			code, value = bluetooth.ATTInvalidOffset, nil
		} else {
			value = value[req.Offset:]
		}
	}

	select {
	case p.answer <- response{code: code, value: append([]byte(nil), value...)}:
	default:
		return bluetooth.NewKnownError(bluetooth.CodeInvalidParameters, "request %s was already answered", req.ID)
	}
	return nil
}

// Pending returns the number of requests waiting for Respond.
func (s *Server) Pending() int {
	return s.pending.Len()
}
