//go:build !linux && !tinygo

package ble

import "log/slog"

// NewBlueZStack is only available on Linux.
func NewBlueZStack(string, *slog.Logger) (Stack, error) {
	return nil, ErrUnsupported
}
