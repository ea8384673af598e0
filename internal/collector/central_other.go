//go:build !linux || tinygo

package collector

import (
	"context"
	"log/slog"
	"time"

	"pulsera/internal/ble"
)

// Central is only implemented on Linux (BlueZ).
type Central struct{}

func NewCentral(string, time.Duration, *slog.Logger) *Central { return &Central{} }

func (*Central) Scan(context.Context, time.Duration) ([]Advert, error) {
	return nil, ble.ErrUnsupported
}

func (*Central) Connect(context.Context, string) (Link, error) {
	return nil, ble.ErrUnsupported
}
