//go:build test

package testutils

import (
	"sync"
	"time"

	"github.com/srg/bleflow/pkg/bluetooth"
)

// ServerEvent is one recorded peripheral manager callback.
type ServerEvent struct {
	Name           string
	State          bluetooth.ManagerState
	Service        bluetooth.Service
	Characteristic bluetooth.Characteristic
	Central        bluetooth.Central
	Requests       []bluetooth.ATTRequest
	Channel        *bluetooth.L2CAPChannel
	PSM            uint16
	Advertising    bool
	Err            *bluetooth.Error
}

// ServerRecorder records every callback of the GATT server delegate in order.
type ServerRecorder struct {
	mu     sync.Mutex
	events []ServerEvent
	notify chan struct{}
}

// NewServerRecorder creates an empty recorder.
func NewServerRecorder() *ServerRecorder {
	return &ServerRecorder{notify: make(chan struct{})}
}

func (r *ServerRecorder) record(e ServerEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	close(r.notify)
	r.notify = make(chan struct{})
	r.mu.Unlock()
}

// Named returns the recorded events with the given callback name.
func (r *ServerRecorder) Named(name string) []ServerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ServerEvent
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Names returns the callback names in order.
func (r *ServerRecorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// WaitFor blocks until count events named name were recorded or timeout elapses.
func (r *ServerRecorder) WaitFor(name string, count int, timeout time.Duration) ([]ServerEvent, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		r.mu.Lock()
		wait := r.notify
		r.mu.Unlock()

		matched := r.Named(name)
		if len(matched) >= count {
			return matched, true
		}
		select {
		case <-wait:
		case <-deadline.C:
			return matched, false
		}
	}
}

func (r *ServerRecorder) DidUpdateState(state bluetooth.ManagerState) {
	r.record(ServerEvent{Name: "DidUpdateState", State: state})
}

func (r *ServerRecorder) DidAddService(svc bluetooth.Service, err *bluetooth.Error) {
	r.record(ServerEvent{Name: "DidAddService", Service: svc, Err: err})
}

func (r *ServerRecorder) DidSubscribeTo(c bluetooth.Characteristic, central bluetooth.Central) {
	r.record(ServerEvent{Name: "DidSubscribeTo", Characteristic: c, Central: central})
}

func (r *ServerRecorder) DidUnsubscribeFrom(c bluetooth.Characteristic, central bluetooth.Central) {
	r.record(ServerEvent{Name: "DidUnsubscribeFrom", Characteristic: c, Central: central})
}

func (r *ServerRecorder) IsReadyToUpdateSubscribers() {
	r.record(ServerEvent{Name: "IsReadyToUpdateSubscribers"})
}

func (r *ServerRecorder) DidReceiveRead(req bluetooth.ATTRequest) {
	r.record(ServerEvent{Name: "DidReceiveRead", Requests: []bluetooth.ATTRequest{req}})
}

func (r *ServerRecorder) DidReceiveWrite(reqs []bluetooth.ATTRequest) {
	r.record(ServerEvent{Name: "DidReceiveWrite", Requests: reqs})
}

func (r *ServerRecorder) DidPublishL2CAPChannel(psm uint16, err *bluetooth.Error) {
	r.record(ServerEvent{Name: "DidPublishL2CAPChannel", PSM: psm, Err: err})
}

func (r *ServerRecorder) DidUnpublishL2CAPChannel(psm uint16, err *bluetooth.Error) {
	r.record(ServerEvent{Name: "DidUnpublishL2CAPChannel", PSM: psm, Err: err})
}

func (r *ServerRecorder) DidOpen(ch *bluetooth.L2CAPChannel, err *bluetooth.Error) {
	r.record(ServerEvent{Name: "DidOpen", Channel: ch, Err: err})
}

func (r *ServerRecorder) DidUpdateAdvertisingState(advertising bool, err *bluetooth.Error) {
	r.record(ServerEvent{Name: "DidUpdateAdvertisingState", Advertising: advertising, Err: err})
}
