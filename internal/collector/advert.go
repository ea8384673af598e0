// Package collector receives accelerometer batches from paired wearables and
// forwards them to MQTT.
package collector

import (
	"encoding/binary"
	"fmt"
	"time"

	"pulsera/internal/ble"
)

// Advert is one observation of a wearable advertising the accelerometer marker.
type Advert struct {
	Address    string
	Name       string
	RSSI       int16
	Appearance uint16
	Locked     bool
	SeenAt     time.Time
}

// ManufacturerData is one manufacturer-specific AD structure.
type ManufacturerData struct {
	CompanyID uint16
	Data      []byte
}

// ParseMarker decodes the device marker: magic 0x01 0xD1, appearance uint16 LE,
// lock flag.
func ParseMarker(data []byte) (appearance uint16, locked bool, err error) {
	if len(data) < ble.AdvDataLen {
		return 0, false, fmt.Errorf("marker too short: %d", len(data))
	}
	if data[0] != ble.AdvMagic0 || data[1] != ble.AdvMagic1 {
		return 0, false, fmt.Errorf("invalid magic: %02X %02X", data[0], data[1])
	}
	return binary.LittleEndian.Uint16(data[2:4]), data[4] == 1, nil
}

// MatchAdvert reports whether a scan result is a named wearable carrying the
// marker, filling appearance and lock state into a.
func MatchAdvert(a *Advert, mfr []ManufacturerData) bool {
	if a.Name == "" {
		return false
	}
	for _, md := range mfr {
		if md.CompanyID != ble.AdvCompanyID {
			continue
		}
		app, locked, err := ParseMarker(md.Data)
		if err != nil {
			continue
		}
		a.Appearance = app
		a.Locked = locked
		return true
	}
	return false
}
