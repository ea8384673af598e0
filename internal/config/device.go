package config

import (
	"fmt"
	"time"
)

const (
	TransportBlueZ = "bluez"
	TransportSim   = "sim"

	SensorSim     = "sim"
	SensorMPU9250 = "mpu9250"
	SensorADXL345 = "adxl345"

	ResetGPIO = "gpio"
	ResetNone = "none"
)

// Device configures the wearable.
type Device struct {
	Common

	DeviceName   string
	BLEAdapter   string
	BLETransport string
	SampleRateHz int

	SensorKind       string
	SensorSPIDevice  string
	SensorCSPin      string
	SensorI2CBus     string
	SensorI2CAddress uint16
	SensorSeed       int64

	ResetKind         string
	ResetPin          string
	ResetHold         time.Duration
	ResetPollInterval time.Duration
	ResetCooldown     time.Duration

	BondDBPath string
	// SimPeer, with the sim transport, connects a simulated collector at startup.
	SimPeer string
}

func LoadDeviceFromEnv() (Device, error) {
	common, err := loadCommon()
	if err != nil {
		return Device{}, err
	}
	cfg := Device{
		Common:          common,
		DeviceName:      env("DEVICE_NAME", "Puls_1"),
		BLEAdapter:      env("BLE_ADAPTER", "hci0"),
		BLETransport:    env("BLE_TRANSPORT", TransportBlueZ),
		SensorKind:      env("SENSOR_KIND", SensorSim),
		SensorSPIDevice: env("SENSOR_SPI_DEVICE", "/dev/spidev0.0"),
		SensorCSPin:     env("SENSOR_CS_PIN", "8"),
		SensorI2CBus:    env("SENSOR_I2C_BUS", ""),
		ResetKind:       env("RESET_KIND", ResetNone),
		ResetPin:        env("RESET_PIN", "GPIO17"),
		BondDBPath:      env("BOND_DB_PATH", "./data/bonds.db"),
		SimPeer:         env("SIM_PEER", ""),
	}

	if len(cfg.DeviceName) > 29 {
		return Device{}, fmt.Errorf("DEVICE_NAME %q too long for an advertising packet (max 29 bytes)", cfg.DeviceName)
	}
	if err := oneOf("BLE_TRANSPORT", cfg.BLETransport, TransportBlueZ, TransportSim); err != nil {
		return Device{}, err
	}
	if err := oneOf("SENSOR_KIND", cfg.SensorKind, SensorSim, SensorMPU9250, SensorADXL345); err != nil {
		return Device{}, err
	}
	if err := oneOf("RESET_KIND", cfg.ResetKind, ResetGPIO, ResetNone); err != nil {
		return Device{}, err
	}

	if cfg.SampleRateHz, err = envInt("SAMPLE_RATE_HZ", 100); err != nil {
		return Device{}, err
	}
	if cfg.SampleRateHz <= 0 || cfg.SampleRateHz > 1000 {
		return Device{}, fmt.Errorf("SAMPLE_RATE_HZ must be in 1..1000, got %d", cfg.SampleRateHz)
	}
	if cfg.SensorI2CAddress, err = envUint16("SENSOR_I2C_ADDRESS", "0x53"); err != nil {
		return Device{}, err
	}
	seed, err := envInt("SENSOR_SEED", 1)
	if err != nil {
		return Device{}, err
	}
	cfg.SensorSeed = int64(seed)

	if cfg.ResetHold, err = envPositiveDuration("RESET_HOLD", "5s"); err != nil {
		return Device{}, err
	}
	if cfg.ResetPollInterval, err = envPositiveDuration("RESET_POLL_INTERVAL", "100ms"); err != nil {
		return Device{}, err
	}
	if cfg.ResetCooldown, err = envPositiveDuration("RESET_COOLDOWN", "2s"); err != nil {
		return Device{}, err
	}
	if cfg.ResetPollInterval > cfg.ResetHold {
		return Device{}, fmt.Errorf("RESET_POLL_INTERVAL (%v) must not exceed RESET_HOLD (%v)", cfg.ResetPollInterval, cfg.ResetHold)
	}

	if cfg.SimPeer != "" && cfg.BLETransport != TransportSim {
		return Device{}, fmt.Errorf("SIM_PEER requires BLE_TRANSPORT=%s", TransportSim)
	}
	return cfg, nil
}
