package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/bleflow/internal/platform"
	"github.com/srg/bleflow/pkg/bluetooth"
)

// txPowerUnavailable is the value go-ble reports when the packet has no TX power field.
const txPowerUnavailable = 127

// FromBLEUUID converts a go-ble UUID to the normalized form.
func FromBLEUUID(u ble.UUID) bluetooth.UUID {
	return bluetooth.UUID(bluetooth.NormalizeUUID(u.String()))
}

// ToBLEUUID converts a normalized UUID to go-ble's representation. 16 and
// 32-bit UUIDs keep their short length so they compare equal to what the
// stack discovers.
func ToBLEUUID(u bluetooth.UUID) (ble.UUID, error) {
	if len(u) == 4 || len(u) == 8 {
		return ble.Parse(string(u))
	}
	return ble.Parse(u.Canonical())
}

// ToBLEUUIDs converts a filter list; invalid entries are skipped.
func ToBLEUUIDs(us []bluetooth.UUID) []ble.UUID {
	if len(us) == 0 {
		return nil
	}
	out := make([]ble.UUID, 0, len(us))
	for _, u := range us {
		if b, err := ToBLEUUID(u); err == nil {
			out = append(out, b)
		}
	}
	return out
}

func fromBLEUUIDs(us []ble.UUID) []bluetooth.UUID {
	if len(us) == 0 {
		return nil
	}
	out := make([]bluetooth.UUID, len(us))
	for i, u := range us {
		out[i] = FromBLEUUID(u)
	}
	return out
}

// FromBLEProperty converts characteristic property flags. The GATT bits are identical.
func FromBLEProperty(p ble.Property) bluetooth.Properties {
	return bluetooth.Properties(p) & 0xff
}

// ToBLEProperty converts characteristic property flags, dropping local-only flags.
func ToBLEProperty(p bluetooth.Properties) ble.Property {
	return ble.Property(p & 0xff)
}

// convertAdvertisement decodes a go-ble advertisement into a platform report.
func convertAdvertisement(a ble.Advertisement) platform.Advertisement {
	data := bluetooth.AdvertisementData{
		LocalName:             a.LocalName(),
		ManufacturerData:      a.ManufacturerData(),
		ServiceUUIDs:          fromBLEUUIDs(a.Services()),
		OverflowServiceUUIDs:  fromBLEUUIDs(a.OverflowService()),
		SolicitedServiceUUIDs: fromBLEUUIDs(a.SolicitedService()),
	}

	if sd := a.ServiceData(); len(sd) > 0 {
		data.ServiceData = make(map[bluetooth.UUID][]byte, len(sd))
		for _, d := range sd {
			data.ServiceData[FromBLEUUID(d.UUID)] = d.Data
		}
	}

	if tx := int(a.TxPowerLevel()); tx != txPowerUnavailable {
		data.TxPowerLevel = &tx
	}

	connectable := a.Connectable()
	data.IsConnectable = &connectable

	return platform.Advertisement{
		Address: a.Addr().String(),
		RSSI:    a.RSSI(),
		Data:    data,
	}
}
