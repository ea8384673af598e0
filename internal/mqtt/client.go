package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"pulsera/internal/config"
	"pulsera/internal/telemetry"
)

const publishTimeout = 5 * time.Second

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("client stopped")
)

type Client struct {
	client    mqtt.Client
	cfg       config.Collector
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// DeviceStatus is the retained presence document of one wearable.
type DeviceStatus struct {
	Device    string    `json:"device"`
	Position  string    `json:"position"`
	Online    bool      `json:"online"`
	SessionID string    `json:"session_id,omitempty"`
	Since     time.Time `json:"since"`
}

func NewClient(cfg config.Collector, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger.With("component", "mqtt"),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Subscribers learn the collector vanished without a clean shutdown.
	opts.SetWill(CollectorStatusTopic(cfg.MQTTTopicPrefix), "offline", 1, true)

	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		c.setConnected(true)
		c.logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		cl.Publish(CollectorStatusTopic(cfg.MQTTTopicPrefix), 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// BatchTopic is <prefix>/<position>/batches.
func BatchTopic(prefix, position string) string {
	return topic(prefix, position, "batches")
}

// StatusTopic is <prefix>/<position>/status.
func StatusTopic(prefix, position string) string {
	return topic(prefix, position, "status")
}

func CollectorStatusTopic(prefix string) string {
	return topic(prefix, "collector", "status")
}

func topic(parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.Trim(p, "/")
	}
	return strings.Join(parts, "/")
}

// Connect waits for the initial connection, honouring ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// The OnConnect handler runs asynchronously; publishers may go first.
			c.setConnected(true)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

// PublishBatch publishes msg at QoS 1 on the batch topic for position.
func (c *Client) PublishBatch(position string, msg telemetry.BatchMessage) error {
	msg.Position = position
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	t := BatchTopic(c.cfg.MQTTTopicPrefix, position)
	if err := c.publish(t, false, data); err != nil {
		return err
	}
	c.logger.Debug("published batch", "topic", t, "device", msg.Device, "seq", msg.SequenceID)
	return nil
}

// PublishStatus publishes a retained presence document for a device.
func (c *Client) PublishStatus(st DeviceStatus) error {
	if st.Since.IsZero() {
		st.Since = time.Now().UTC()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	t := StatusTopic(c.cfg.MQTTTopicPrefix, st.Position)
	if err := c.publish(t, true, data); err != nil {
		return err
	}
	c.logger.Debug("published device status", "topic", t, "device", st.Device, "online", st.Online)
	return nil
}

func (c *Client) publish(topic string, retained bool, data []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, 1, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		c.logger.Error("publish failed", "topic", topic, "error", err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect is idempotent. Connect returns ErrStopped afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		if c.IsConnected() {
			t := c.client.Publish(CollectorStatusTopic(c.cfg.MQTTTopicPrefix), 1, true, "offline")
			t.WaitTimeout(time.Second)
		}
		c.client.Disconnect(250)
	}
	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
