//go:build test

package testutils

import (
	"sync"
	"time"

	"github.com/srg/bleflow/pkg/bluetooth"
)

// DelegateEvent is one recorded delegate callback.
type DelegateEvent struct {
	Name           string
	Peripheral     bluetooth.Peripheral
	Service        bluetooth.Service
	Characteristic bluetooth.Characteristic
	Descriptor     bluetooth.Descriptor
	Advertisement  bluetooth.AdvertisementData
	Invalidated    []bluetooth.Service
	Restoration    bluetooth.RestorationOptions
	Channel        *bluetooth.L2CAPChannel
	State          bluetooth.ManagerState
	Event          bluetooth.ConnectionEvent
	Scanning       bool
	RSSI           int
	Err            *bluetooth.Error
}

// DelegateRecorder records every callback of the session delegate in order.
type DelegateRecorder struct {
	mu     sync.Mutex
	events []DelegateEvent
	notify chan struct{}
}

// NewDelegateRecorder creates an empty recorder.
func NewDelegateRecorder() *DelegateRecorder {
	return &DelegateRecorder{notify: make(chan struct{})}
}

func (r *DelegateRecorder) record(e DelegateEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	close(r.notify)
	r.notify = make(chan struct{})
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *DelegateRecorder) Events() []DelegateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DelegateEvent(nil), r.events...)
}

// Named returns the recorded events with the given callback name.
func (r *DelegateRecorder) Named(name string) []DelegateEvent {
	var out []DelegateEvent
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Names returns the callback names in order.
func (r *DelegateRecorder) Names() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name
	}
	return out
}

// WaitFor blocks until count events named name were recorded or timeout elapses.
// It returns the matching events recorded so far.
func (r *DelegateRecorder) WaitFor(name string, count int, timeout time.Duration) ([]DelegateEvent, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		r.mu.Lock()
		var matched []DelegateEvent
		for _, e := range r.events {
			if e.Name == name {
				matched = append(matched, e)
			}
		}
		wait := r.notify
		r.mu.Unlock()

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

// Reset discards recorded events.
func (r *DelegateRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *DelegateRecorder) DidUpdateState(state bluetooth.ManagerState) {
	r.record(DelegateEvent{Name: "DidUpdateState", State: state})
}

func (r *DelegateRecorder) DidUpdateScanningState(scanning bool) {
	r.record(DelegateEvent{Name: "DidUpdateScanningState", Scanning: scanning})
}

func (r *DelegateRecorder) DidDiscover(p bluetooth.Peripheral, adv bluetooth.AdvertisementData, rssi int) {
	r.record(DelegateEvent{Name: "DidDiscover", Peripheral: p, Advertisement: adv, RSSI: rssi})
}

func (r *DelegateRecorder) WillRestore(opts bluetooth.RestorationOptions) {
	r.record(DelegateEvent{Name: "WillRestore", Restoration: opts})
}

func (r *DelegateRecorder) DidConnect(p bluetooth.Peripheral) {
	r.record(DelegateEvent{Name: "DidConnect", Peripheral: p})
}

func (r *DelegateRecorder) DidFailToConnect(p bluetooth.Peripheral, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidFailToConnect", Peripheral: p, Err: err})
}

func (r *DelegateRecorder) DidDisconnect(p bluetooth.Peripheral, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidDisconnect", Peripheral: p, Err: err})
}

func (r *DelegateRecorder) DidUpdatePeripheralState(p bluetooth.Peripheral) {
	r.record(DelegateEvent{Name: "DidUpdatePeripheralState", Peripheral: p})
}

func (r *DelegateRecorder) DidUpdateName(p bluetooth.Peripheral) {
	r.record(DelegateEvent{Name: "DidUpdateName", Peripheral: p})
}

func (r *DelegateRecorder) DidModifyServices(p bluetooth.Peripheral, invalidated []bluetooth.Service) {
	r.record(DelegateEvent{Name: "DidModifyServices", Peripheral: p, Invalidated: invalidated})
}

func (r *DelegateRecorder) ConnectionEventDidOccur(p bluetooth.Peripheral, event bluetooth.ConnectionEvent) {
	r.record(DelegateEvent{Name: "ConnectionEventDidOccur", Peripheral: p, Event: event})
}

func (r *DelegateRecorder) IsReadyToSendWriteWithoutResponse(p bluetooth.Peripheral) {
	r.record(DelegateEvent{Name: "IsReadyToSendWriteWithoutResponse", Peripheral: p})
}

func (r *DelegateRecorder) DidReadRSSI(p bluetooth.Peripheral, rssi int, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidReadRSSI", Peripheral: p, RSSI: rssi, Err: err})
}

func (r *DelegateRecorder) DidOpenL2CAPChannel(p bluetooth.Peripheral, ch *bluetooth.L2CAPChannel, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidOpenL2CAPChannel", Peripheral: p, Channel: ch, Err: err})
}

func (r *DelegateRecorder) DidDiscoverServices(p bluetooth.Peripheral, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidDiscoverServices", Peripheral: p, Err: err})
}

func (r *DelegateRecorder) DidDiscoverIncludedServices(p bluetooth.Peripheral, s bluetooth.Service, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidDiscoverIncludedServices", Peripheral: p, Service: s, Err: err})
}

func (r *DelegateRecorder) DidDiscoverCharacteristics(p bluetooth.Peripheral, s bluetooth.Service, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidDiscoverCharacteristics", Peripheral: p, Service: s, Err: err})
}

func (r *DelegateRecorder) DidDiscoverDescriptors(p bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidDiscoverDescriptors", Peripheral: p, Characteristic: c, Err: err})
}

func (r *DelegateRecorder) DidUpdateValue(p bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidUpdateValue", Peripheral: p, Characteristic: c, Err: err})
}

func (r *DelegateRecorder) DidWriteValue(p bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidWriteValue", Peripheral: p, Characteristic: c, Err: err})
}

func (r *DelegateRecorder) DidUpdateNotificationState(p bluetooth.Peripheral, c bluetooth.Characteristic, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidUpdateNotificationState", Peripheral: p, Characteristic: c, Err: err})
}

func (r *DelegateRecorder) DidUpdateDescriptorValue(p bluetooth.Peripheral, d bluetooth.Descriptor, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidUpdateDescriptorValue", Peripheral: p, Descriptor: d, Err: err})
}

func (r *DelegateRecorder) DidWriteDescriptorValue(p bluetooth.Peripheral, d bluetooth.Descriptor, err *bluetooth.Error) {
	r.record(DelegateEvent{Name: "DidWriteDescriptorValue", Peripheral: p, Descriptor: d, Err: err})
}
