package goble

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDConversion(t *testing.T) {
	t.Run("16-bit keeps short form", func(t *testing.T) {
		u, err := ToBLEUUID("180d")
		require.NoError(t, err)
		assert.True(t, u.Equal(ble.UUID16(0x180d)), "short UUID MUST compare equal to what the stack discovers")
		assert.Equal(t, bluetooth.UUID("180d"), FromBLEUUID(u))
	})

	t.Run("128-bit round trip", func(t *testing.T) {
		in := bluetooth.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
		u, err := ToBLEUUID(in)
		require.NoError(t, err)
		assert.Len(t, u, 16)
		assert.Equal(t, in, FromBLEUUID(u))
	})

	t.Run("filter skips invalid", func(t *testing.T) {
		out := ToBLEUUIDs([]bluetooth.UUID{"180d", "zz", "2a37"})
		assert.Len(t, out, 2)
		assert.Nil(t, ToBLEUUIDs(nil), "empty filter MUST stay nil so the stack discovers everything")
	})
}

func TestPropertyConversion(t *testing.T) {
	p := ble.CharRead | ble.CharNotify | ble.CharWriteNR
	got := FromBLEProperty(p)

	assert.True(t, got.Has(bluetooth.PropertyRead))
	assert.True(t, got.Has(bluetooth.PropertyNotify))
	assert.True(t, got.Has(bluetooth.PropertyWriteWithoutResponse))
	assert.False(t, got.Has(bluetooth.PropertyWrite))

	local := got | bluetooth.PropertyNotifyEncryptionRequired
	assert.Equal(t, p, ToBLEProperty(local), "local-only flags MUST be dropped")
}
