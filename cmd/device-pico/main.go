//go:build tinygo

// Command device-pico is the wearable firmware for a Pico 2 W with an ADXL345
// on I2C0 and a factory-reset button on GP15.
package main

import (
	"context"
	"log/slog"
	"machine"
	"time"

	"tinygo.org/x/bluetooth"

	"pulsera/internal/app"
	"pulsera/internal/ble"
	"pulsera/internal/config"
	"pulsera/internal/sensor"
)

const (
	deviceName = "Puls_1"
	resetPin   = machine.GP15
)

// buttonInput reads an active-low button with the internal pull-up.
type buttonInput struct {
	pin machine.Pin
}

func (b buttonInput) Pressed() (bool, error) {
	return !b.pin.Get(), nil
}

// halt keeps the serial console alive so the failure stays readable.
func halt(logger *slog.Logger, msg string, err error) {
	for {
		logger.Error(msg, "err", err)
		time.Sleep(5 * time.Second)
	}
}

func main() {
	machine.Serial.Configure(machine.UARTConfig{})
	// Give the host time to enumerate the USB serial device.
	time.Sleep(1500 * time.Millisecond)

	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("boot", "app", "pulsera-device-pico", "name", deviceName)

	cfg := config.Device{
		Common:            config.Common{AppEnv: "prod", LogLevel: slog.LevelInfo},
		DeviceName:        deviceName,
		SampleRateHz:      100,
		ResetHold:         5 * time.Second,
		ResetPollInterval: 100 * time.Millisecond,
		ResetCooldown:     2 * time.Second,
	}

	if err := machine.I2C0.Configure(machine.I2CConfig{
		SDA:       machine.GP4,
		SCL:       machine.GP5,
		Frequency: 400 * machine.KHz,
	}); err != nil {
		halt(logger, "i2c configure failed", err)
	}
	src := sensor.NewADXL345(machine.I2C0, 0x53)

	resetPin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	// Bonds live in RAM; a power cycle forgets them like a factory reset.
	dev, err := app.BuildDevice(cfg, app.Parts{
		Source: src,
		Stack:  ble.NewTinyGoStack(bluetooth.DefaultAdapter, logger),
		Bonds:  ble.NewMemoryBondStore(),
		Reset:  buttonInput{pin: resetPin},
	}, logger)
	if err != nil {
		halt(logger, "device init failed", err)
	}

	if err := dev.Run(context.Background()); err != nil {
		halt(logger, "device stopped", err)
	}
}
