//go:build !tinygo

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pulsera/internal/ble"
	"pulsera/internal/bondstore"
	"pulsera/internal/clock"
	"pulsera/internal/config"
	"pulsera/internal/db"
	"pulsera/internal/reset"
	"pulsera/internal/sensor"
)

// RunDevice opens the configured hardware in bring-up order (sensor, bond
// store, stack) and runs the device until ctx is done.
func RunDevice(ctx context.Context, cfg config.Device, logger *slog.Logger) error {
	logger.Info("initializing device",
		"name", cfg.DeviceName,
		"transport", cfg.BLETransport,
		"sensor", cfg.SensorKind,
		"rate_hz", cfg.SampleRateHz,
		"reset", cfg.ResetKind,
	)

	src, err := openSensor(cfg)
	if err != nil {
		return fmt.Errorf("sensor init: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("sensor close", "error", err)
		}
	}()

	conn, err := db.Open(cfg.BondDBPath, logger)
	if err != nil {
		return fmt.Errorf("bond store: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Error("db close", "err", err)
		}
	}()
	bonds, err := bondstore.New(conn, clock.System{}, logger)
	if err != nil {
		return err
	}

	stack, sim, err := openStack(cfg, logger)
	if err != nil {
		return fmt.Errorf("ble init: %w", err)
	}

	in, err := openResetInput(cfg)
	if err != nil {
		return fmt.Errorf("reset input: %w", err)
	}

	dev, err := BuildDevice(cfg, Parts{Source: src, Stack: stack, Bonds: bonds, Reset: in}, logger)
	if err != nil {
		return err
	}

	if sim != nil && cfg.SimPeer != "" {
		peer := &SimPeer{Stack: sim, Peer: ble.Address(cfg.SimPeer), Attr: dev.BatchAttr, State: dev.Controller.State, Logger: logger}
		go peer.Run(ctx)
	}

	err = dev.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("device shutting down")
	}
	return err
}

func openSensor(cfg config.Device) (sensor.Source, error) {
	switch cfg.SensorKind {
	case config.SensorMPU9250:
		return sensor.NewMPU9250(cfg.SensorSPIDevice, cfg.SensorCSPin)
	case config.SensorADXL345:
		return sensor.OpenADXL345(cfg.SensorI2CBus, cfg.SensorI2CAddress)
	default:
		return sensor.NewSimulated(cfg.SensorSeed, cfg.SampleRateHz)
	}
}

func openStack(cfg config.Device, logger *slog.Logger) (ble.Stack, *ble.SimStack, error) {
	if cfg.BLETransport == config.TransportSim {
		s := ble.NewSimStack()
		return s, s, nil
	}
	s, err := ble.NewBlueZStack(cfg.BLEAdapter, logger)
	return s, nil, err
}

func openResetInput(cfg config.Device) (reset.Input, error) {
	if cfg.ResetKind == config.ResetGPIO {
		return reset.OpenGPIO(cfg.ResetPin)
	}
	return reset.NoInput{}, nil
}
