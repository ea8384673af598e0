package sensor

import (
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/adxl345"

	"pulsera/internal/accel"
)

// ADXL345 reads raw counts from an ADXL345 on an I2C bus. The tinygo driver
// only needs Tx, so it runs unchanged on a periph bus or a board I2C port.
type ADXL345 struct {
	dev    adxl345.Device
	closer func() error
}

// NewADXL345 configures the device on bus at addr for 100 Hz, ±2 g.
func NewADXL345(bus drivers.I2C, addr uint16) *ADXL345 {
	dev := adxl345.New(bus)
	if addr != 0 {
		dev.Address = addr
	}
	dev.Configure()
	dev.SetRate(adxl345.RATE_100HZ)
	dev.SetRange(adxl345.RANGE_2G)
	return &ADXL345{dev: dev}
}

func (a *ADXL345) Read() (accel.Sample, error) {
	x, y, z := a.dev.ReadRawAcceleration()
	return accel.Sample{X: x, Y: y, Z: z}, nil
}

func (a *ADXL345) Close() error {
	a.dev.Halt()
	if a.closer != nil {
		return a.closer()
	}
	return nil
}
