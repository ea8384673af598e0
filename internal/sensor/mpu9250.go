//go:build !tinygo

package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"pulsera/internal/accel"
)

// MPU9250 reads the accelerometer of an MPU9250 over SPI.
type MPU9250 struct {
	imu *mpu9250.MPU9250
}

// NewMPU9250 opens spiDev (e.g. /dev/spidev0.0) with chip select on csPin and
// initialises the IMU.
func NewMPU9250(spiDev, csPin string) (*MPU9250, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("mpu9250 CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("mpu9250 SPI transport: %w", err)
	}

	imu, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250 new device: %w", err)
	}
	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250 init: %w", err)
	}
	return &MPU9250{imu: imu}, nil
}

func (m *MPU9250) Read() (accel.Sample, error) {
	x, err := m.imu.GetAccelerationX()
	if err != nil {
		return accel.Sample{}, fmt.Errorf("mpu9250 acc X: %w", err)
	}
	y, err := m.imu.GetAccelerationY()
	if err != nil {
		return accel.Sample{}, fmt.Errorf("mpu9250 acc Y: %w", err)
	}
	z, err := m.imu.GetAccelerationZ()
	if err != nil {
		return accel.Sample{}, fmt.Errorf("mpu9250 acc Z: %w", err)
	}
	return accel.Sample{X: x, Y: y, Z: z}, nil
}

func (m *MPU9250) Close() error { return nil }
