//go:build linux && !tinygo

package ble

import (
	"log/slog"

	"tinygo.org/x/bluetooth"
)

// NewBlueZStack returns a TinyGoStack on the named BlueZ adapter (e.g. "hci0").
func NewBlueZStack(adapterID string, logger *slog.Logger) (Stack, error) {
	if adapterID == "" {
		adapterID = "hci0"
	}
	return NewTinyGoStack(bluetooth.NewAdapter(adapterID), logger), nil
}
