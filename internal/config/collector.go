package config

import (
	"fmt"
	"strings"
	"time"
)

// Collector configures the host that receives batches and forwards them to MQTT.
type Collector struct {
	Common

	BLEAdapter      string
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
	RegistryDBPath  string
	ScanTimeout     time.Duration
	// HTTPAddr serves /healthz and /devices during listen; "off" disables it.
	HTTPAddr string
}

// HTTPDisabled is the HTTP_ADDR value that turns the status server off.
const HTTPDisabled = "off"

func LoadCollectorFromEnv() (Collector, error) {
	common, err := loadCommon()
	if err != nil {
		return Collector{}, err
	}
	cfg := Collector{
		Common:          common,
		BLEAdapter:      env("BLE_ADAPTER", "hci0"),
		MQTTBroker:      env("MQTT_BROKER", "localhost"),
		MQTTClientID:    env("MQTT_CLIENT_ID", "pulsera-collector"),
		MQTTTopicPrefix: strings.Trim(env("MQTT_TOPIC_PREFIX", "pulsera"), "/"),
		RegistryDBPath:  env("REGISTRY_DB_PATH", "./data/registry.db"),
		HTTPAddr:        env("HTTP_ADDR", "127.0.0.1:8080"),
	}

	if cfg.MQTTPort, err = envInt("MQTT_PORT", 1883); err != nil {
		return Collector{}, err
	}
	if cfg.MQTTPort <= 0 || cfg.MQTTPort > 65535 {
		return Collector{}, fmt.Errorf("MQTT_PORT out of range: %d", cfg.MQTTPort)
	}
	if cfg.MQTTTopicPrefix == "" || strings.ContainsAny(cfg.MQTTTopicPrefix, "#+") {
		return Collector{}, fmt.Errorf("invalid MQTT_TOPIC_PREFIX %q", cfg.MQTTTopicPrefix)
	}
	if cfg.ScanTimeout, err = envPositiveDuration("SCAN_TIMEOUT", "10s"); err != nil {
		return Collector{}, err
	}
	return cfg, nil
}
