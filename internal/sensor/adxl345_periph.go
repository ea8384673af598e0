//go:build !tinygo

package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// OpenADXL345 opens the named periph I2C bus ("" for the default) and the
// ADXL345 on it.
func OpenADXL345(busName string, addr uint16) (*ADXL345, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("i2c open %q: %w", busName, err)
	}
	s := NewADXL345(periphBus{bus}, addr)
	s.closer = bus.Close
	return s, nil
}

// periphBus adapts a periph i2c.Bus to drivers.I2C.
type periphBus struct {
	bus i2c.Bus
}

func (b periphBus) Tx(addr uint16, w, r []byte) error {
	return b.bus.Tx(addr, w, r)
}
