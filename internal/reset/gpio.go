//go:build !tinygo

package reset

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIOInput is an active-low button with the internal pull-up enabled.
type GPIOInput struct {
	pin gpio.PinIO
}

// OpenGPIO configures the named pin (e.g. "GPIO17") as a pulled-up input.
func OpenGPIO(name string) (*GPIOInput, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("reset pin %q not found", name)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("reset pin %q input: %w", name, err)
	}
	return &GPIOInput{pin: pin}, nil
}

func (g *GPIOInput) Pressed() (bool, error) {
	return g.pin.Read() == gpio.Low, nil
}
