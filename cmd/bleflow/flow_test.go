package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/effect"
	"github.com/srg/bleflow/pkg/peripheral"
)

// collect executes e and returns what it sent.
func collect(t *testing.T, e effect.Effect[action]) []action {
	t.Helper()
	var mu sync.Mutex
	var out []action
	e.Execute(context.Background(), func(a action) {
		mu.Lock()
		out = append(out, a)
		mu.Unlock()
	})
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	return l
}

func TestParseWriteData(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hex      bool
		expected []byte
		wantErr  bool
	}{
		{name: "text", input: "hi", expected: []byte("hi")},
		{name: "simple hex", input: "0102", hex: true, expected: []byte{0x01, 0x02}},
		{name: "hex with spaces", input: "01 02 03", hex: true, expected: []byte{0x01, 0x02, 0x03}},
		{name: "hex with colons", input: "01:02:03", hex: true, expected: []byte{0x01, 0x02, 0x03}},
		{name: "hex with 0x prefix", input: "0x01 0X02", hex: true, expected: []byte{0x01, 0x02}},
		{name: "mixed separators", input: "0x01:02-03 04", hex: true, expected: []byte{0x01, 0x02, 0x03, 0x04}},
		{name: "invalid hex", input: "ZZZZ", hex: true, wantErr: true},
		{name: "odd length", input: "123", hex: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWriteData(tt.input, tt.hex)
			if tt.wantErr {
				assert.Error(t, err, "MUST fail on malformed hex")
				assert.Nil(t, got, "result MUST be nil on error")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got, "decoded bytes MUST match expected")
		})
	}
}

func TestWriteType(t *testing.T) {
	both := bluetooth.Characteristic{Properties: bluetooth.PropertyWrite | bluetooth.PropertyWriteWithoutResponse}
	withOnly := bluetooth.Characteristic{Properties: bluetooth.PropertyWrite}
	withoutOnly := bluetooth.Characteristic{Properties: bluetooth.PropertyWriteWithoutResponse}

	wt, err := writeType(both, true)
	require.NoError(t, err)
	assert.Equal(t, bluetooth.WriteWithoutResponse, wt)

	wt, err = writeType(withOnly, true)
	require.NoError(t, err)
	assert.Equal(t, bluetooth.WriteWithResponse, wt, "MUST fall back to the supported type")

	wt, err = writeType(withoutOnly, false)
	require.NoError(t, err)
	assert.Equal(t, bluetooth.WriteWithoutResponse, wt)

	_, err = writeType(bluetooth.Characteristic{Properties: bluetooth.PropertyRead}, false)
	assert.Error(t, err, "read-only characteristic MUST NOT be writable")
}

func TestResolveCharacteristic(t *testing.T) {
	// GOAL: Verify attribute lookup across services
	//
	// TEST SCENARIO: 2a19 unique, 2a00 in two services → explicit service resolves, implicit is ambiguous

	p := bluetooth.Peripheral{Services: []bluetooth.Service{
		{UUID: "180f", Characteristics: []bluetooth.Characteristic{
			{UUID: "2a19", ServiceUUID: "180f", Descriptors: []bluetooth.Descriptor{{UUID: "2902"}}},
			{UUID: "2a00", ServiceUUID: "180f"},
		}},
		{UUID: "1800", Characteristics: []bluetooth.Characteristic{
			{UUID: "2a00", ServiceUUID: "1800"},
		}},
	}}

	c, err := resolveCharacteristic(p, target{Characteristic: "2a19"})
	require.NoError(t, err)
	assert.Equal(t, bluetooth.UUID("180f"), c.ServiceUUID)

	_, err = resolveCharacteristic(p, target{Characteristic: "2a00"})
	assert.ErrorIs(t, err, ErrAmbiguous, "UUID in two services MUST be ambiguous")
	assert.Contains(t, err.Error(), "180f, 1800")

	c, err = resolveCharacteristic(p, target{Service: "1800", Characteristic: "2a00"})
	require.NoError(t, err)
	assert.Equal(t, bluetooth.UUID("1800"), c.ServiceUUID, "explicit service MUST disambiguate")

	_, err = resolveCharacteristic(p, target{Service: "180a", Characteristic: "2a00"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = resolveCharacteristic(p, target{Characteristic: "2a37"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = resolveDescriptor(p.Services[0].Characteristics[0], target{Descriptor: "2902"})
	assert.NoError(t, err)
	_, err = resolveDescriptor(p.Services[0].Characteristics[0], target{Descriptor: "2901"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseTarget(t *testing.T) {
	tg, err := parseTarget("2A19", attributeFlags{service: "0000180F-0000-1000-8000-00805F9B34FB"})
	require.NoError(t, err)
	assert.Equal(t, target{Service: "180f", Characteristic: "2a19"}, tg, "UUIDs MUST be normalized")
	assert.Equal(t, []bluetooth.UUID{"180f"}, tg.services())

	_, err = parseTarget("nope", attributeFlags{})
	assert.Error(t, err)
	_, err = parseTarget("2a19", attributeFlags{descriptor: "xyz"})
	assert.Error(t, err)
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{name: "timeout", err: fmt.Errorf("read: %w", context.DeadlineExceeded), contains: "timed out"},
		{name: "att", err: &bluetooth.Error{Code: bluetooth.CodeATT, ATT: bluetooth.ATTReadNotPermitted}, contains: "device rejected the request"},
		{name: "connection timeout", err: &bluetooth.Error{Code: bluetooth.CodeConnectionTimeout}, contains: "in range"},
		{name: "disconnected", err: fmt.Errorf("%w: %w", ErrConnectionLost, &bluetooth.Error{Code: bluetooth.CodePeripheralDisconnected}), contains: "device disconnected"},
		{name: "unknown device", err: &bluetooth.Error{Code: bluetooth.CodeUnknownDevice}, contains: "scan for it first"},
		{name: "plain", err: errors.New("boom"), contains: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}
	assert.Empty(t, FormatUserError(nil))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "-", formatValue(nil))
	assert.Equal(t, `6869 ("hi")`, formatValue([]byte("hi")))
	assert.Equal(t, "0001", formatValue([]byte{0x00, 0x01}), "binary values MUST print as hex only")
}

func TestWriteAt(t *testing.T) {
	assert.Equal(t, []byte{9}, writeAt([]byte{1, 2, 3}, 0, []byte{9}), "offset 0 MUST replace")
	assert.Equal(t, []byte{1, 9, 8}, writeAt([]byte{1, 2, 3}, 1, []byte{9, 8}))
	assert.Equal(t, []byte{1, 2, 7}, writeAt([]byte{1, 2}, 5, []byte{7}), "offset past the end MUST append")

	cur := []byte{1, 2, 3}
	_ = writeAt(cur, 1, []byte{5})
	assert.Equal(t, []byte{1, 2, 3}, cur, "current value MUST NOT be modified")
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- uuid: "180F"
  is_primary: true
  characteristics:
    - uuid: "2A19"
      properties: read,notify
      permissions: 1
`), 0o600))

	services, err := loadProfile(path)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, bluetooth.UUID("180F"), services[0].UUID)
	assert.Equal(t, bluetooth.PropertyRead|bluetooth.PropertyNotify, services[0].Characteristics[0].Properties)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
- uuid: "180f"
  characteristics:
    - uuid: "2a19"
    - uuid: "2A19"
`), 0o600))
	_, err = loadProfile(bad)
	assert.ErrorContains(t, err, "duplicate characteristic")

	_, err = loadProfile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFlagService(t *testing.T) {
	svc, err := flagService("180f", []string{"2a19", "2A1A"})
	require.NoError(t, err)
	assert.True(t, svc.IsPrimary)
	require.Len(t, svc.Characteristics, 2)
	assert.True(t, svc.Characteristics[0].Properties.CanNotify())
	assert.True(t, svc.Characteristics[1].Permissions.Writeable())
	assert.Nil(t, svc.Characteristics[0].Value, "values MUST be served by the application")

	_, err = flagService("zz", nil)
	assert.Error(t, err)
}

// advertiseHarness wires an advertiseFlow to a recording peripheral.Mock.
type advertiseHarness struct {
	flow    *advertiseFlow
	out     *bytes.Buffer
	mu      sync.Mutex
	calls   []string
	updates [][]byte
	replies []bluetooth.ATTRequest
	sent    bool
}

func newAdvertiseHarness(t *testing.T) *advertiseHarness {
	h := &advertiseHarness{out: &bytes.Buffer{}, sent: true}
	record := func(name string) {
		h.mu.Lock()
		h.calls = append(h.calls, name)
		h.mu.Unlock()
	}
	m := &peripheral.Mock{
		Reporter: t,
		CreateFunc: func(any, *bluetooth.InitializationOptions) effect.Effect[peripheral.Action] {
			record("Create")
			return effect.None[peripheral.Action]()
		},
		AddServiceFunc: func(_ any, s peripheral.MutableService) effect.Effect[peripheral.Action] {
			record("AddService " + string(s.UUID))
			return effect.None[peripheral.Action]()
		},
		StartAdvertisingFunc: func(_ any, data *bluetooth.AdvertisementData) effect.Effect[peripheral.Action] {
			record("StartAdvertising " + data.LocalName)
			return effect.None[peripheral.Action]()
		},
		PublishL2CAPChannelFunc: func(any, bool) effect.Effect[peripheral.Action] {
			record("PublishL2CAPChannel")
			return effect.None[peripheral.Action]()
		},
		RespondFunc: func(_ any, req bluetooth.ATTRequest, _ bluetooth.ATTErrorCode) effect.Effect[peripheral.Action] {
			h.mu.Lock()
			h.replies = append(h.replies, req)
			h.mu.Unlock()
			return effect.None[peripheral.Action]()
		},
		UpdateValueFunc: func(_ any, data []byte, _ peripheral.MutableCharacteristic, _ []bluetooth.Central) effect.Effect[bool] {
			h.mu.Lock()
			h.updates = append(h.updates, data)
			ok := h.sent
			h.mu.Unlock()
			return effect.Just(ok)
		},
	}
	h.flow = &advertiseFlow{
		manager: m,
		id:      "test",
		data:    &bluetooth.AdvertisementData{LocalName: "demo"},
		out:     newPrinter(h.out, "table"),
		logger:  quietLogger(),
	}
	return h
}

func (h *advertiseHarness) reduce(t *testing.T, s *advertiseState, a peripheral.Action) []action {
	return collect(t, h.flow.reduce(s, peripheralAction{a}))
}

func TestAdvertiseFlow_PublishesThenAdvertises(t *testing.T) {
	// GOAL: Verify services are published before advertising starts
	//
	// TEST SCENARIO: poweredOn → AddService per service → both added → StartAdvertising once

	h := newAdvertiseHarness(t)
	s := &advertiseState{services: []bluetooth.MutableService{{UUID: "180f"}, {UUID: "180a"}}}

	collect(t, h.flow.reduce(s, started{}))
	h.reduce(t, s, peripheral.DidUpdateState{State: bluetooth.ManagerStatePoweredOn})
	assert.Equal(t, []string{"Create", "AddService 180f", "AddService 180a"}, h.calls)

	h.reduce(t, s, peripheral.DidAddService{Service: bluetooth.Service{UUID: "180f"}})
	assert.NotContains(t, h.calls, "StartAdvertising demo", "advertising MUST wait for every service")

	h.reduce(t, s, peripheral.DidAddService{Service: bluetooth.Service{UUID: "180a"}})
	assert.Contains(t, h.calls, "StartAdvertising demo")

	h.reduce(t, s, peripheral.DidUpdateAdvertisingState{Advertising: true})
	assert.True(t, s.advertising)
	assert.False(t, s.done)
	assert.Contains(t, h.out.String(), `advertising as "demo"`)

	h.reduce(t, s, peripheral.DidUpdateAdvertisingState{Advertising: false})
	assert.True(t, s.done, "advertising stopping MUST end the command")
	assert.Error(t, s.err)
}

func TestAdvertiseFlow_SkipsRestoredServices(t *testing.T) {
	h := newAdvertiseHarness(t)
	h.flow.l2cap = true
	s := &advertiseState{services: []bluetooth.MutableService{{UUID: "180f"}}}

	h.reduce(t, s, peripheral.WillRestore{Options: bluetooth.PeripheralRestorationOptions{Services: []bluetooth.UUID{"180f"}}})
	h.reduce(t, s, peripheral.DidUpdateState{State: bluetooth.ManagerStatePoweredOn})

	assert.ElementsMatch(t, []string{"StartAdvertising demo", "PublishL2CAPChannel"}, h.calls,
		"restored services MUST NOT be added again")
}

func TestAdvertiseFlow_Failures(t *testing.T) {
	h := newAdvertiseHarness(t)
	s := &advertiseState{services: []bluetooth.MutableService{{UUID: "180f"}}}
	h.reduce(t, s, peripheral.DidUpdateState{State: bluetooth.ManagerStatePoweredOff})
	assert.True(t, s.done)
	assert.ErrorContains(t, s.err, "poweredOff")

	s = &advertiseState{services: []bluetooth.MutableService{{UUID: "180f"}}}
	h.reduce(t, s, peripheral.DidUpdateState{State: bluetooth.ManagerStatePoweredOn})
	h.reduce(t, s, peripheral.DidAddService{
		Service: bluetooth.Service{UUID: "180f"},
		Err:     &bluetooth.Error{Code: bluetooth.CodeInvalidParameters},
	})
	assert.True(t, s.done)
	assert.ErrorContains(t, s.err, "failed to publish service 180f")
}

func TestAdvertiseFlow_AnswersReadsAndWrites(t *testing.T) {
	// GOAL: Verify the advertiser serves stored values and pushes writes to subscribers
	//
	// TEST SCENARIO: read 2a19 → stored value; write "AB" → stored, answered once, notified;
	// queue full → retried on IsReadyToUpdateSubscribers

	h := newAdvertiseHarness(t)
	s := &advertiseState{values: map[bluetooth.UUID][]byte{"2a19": {50}}}
	c := bluetooth.Characteristic{UUID: "2a19", ServiceUUID: "180f", Properties: bluetooth.PropertyRead | bluetooth.PropertyWrite | bluetooth.PropertyNotify}
	central := bluetooth.Central{Identifier: "c1"}

	h.reduce(t, s, peripheral.DidReceiveRead{Request: bluetooth.ATTRequest{ID: "r1", Central: central, Characteristic: c}})
	require.Len(t, h.replies, 1)
	assert.Equal(t, []byte{50}, h.replies[0].Value, "read MUST be answered with the stored value")

	h.mu.Lock()
	h.sent = false
	h.mu.Unlock()
	out := h.reduce(t, s, peripheral.DidReceiveWrite{Requests: []bluetooth.ATTRequest{
		{ID: "w1", Central: central, Characteristic: c, Value: []byte("AB")},
	}})
	require.Len(t, h.replies, 2, "write MUST be answered exactly once")
	assert.Equal(t, "w1", h.replies[1].ID)
	assert.Equal(t, []byte("AB"), s.values["2a19"])
	assert.Equal(t, [][]byte{[]byte("AB")}, h.updates)
	assert.Contains(t, out, action(updateSent{characteristic: "2a19", ok: false}))

	collect(t, h.flow.reduce(s, updateSent{characteristic: "2a19", ok: false}))
	assert.True(t, s.pending["2a19"], "refused update MUST be kept for retry")

	h.mu.Lock()
	h.sent = true
	h.mu.Unlock()
	h.reduce(t, s, peripheral.IsReadyToUpdateSubscribers{})
	assert.Len(t, h.updates, 2, "pending update MUST be resent")
	assert.Empty(t, s.pending)

	assert.Contains(t, h.out.String(), `write 2a19 = 4142 ("AB") by c1`)
}
