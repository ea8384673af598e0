//go:build !tinygo

package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"pulsera/internal/clock"
	"pulsera/internal/collector"
	"pulsera/internal/config"
	"pulsera/internal/db"
	"pulsera/internal/httpapi"
	"pulsera/internal/mqtt"
	"pulsera/internal/registry"
)

// Collector runs the host-side commands against a radio and the device registry.
type Collector struct {
	Cfg      config.Collector
	Radio    collector.Radio
	Registry *registry.Registry
	Clock    clock.Clock
	Out      io.Writer
	Logger   *slog.Logger

	conn *sql.DB
}

// OpenCollector opens the registry database and the BlueZ adapter.
func OpenCollector(cfg config.Collector, out io.Writer, logger *slog.Logger) (*Collector, error) {
	conn, err := db.Open(cfg.RegistryDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("registry db: %w", err)
	}
	reg, err := registry.New(conn, clock.System{}, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Collector{
		Cfg:      cfg,
		Radio:    collector.NewCentral(cfg.BLEAdapter, cfg.ScanTimeout, logger),
		Registry: reg,
		Clock:    clock.System{},
		Out:      out,
		Logger:   logger,
		conn:     conn,
	}, nil
}

func (c *Collector) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Scan prints nearby wearables, marking those already registered.
func (c *Collector) Scan(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.Cfg.ScanTimeout
	}
	fmt.Fprintf(c.Out, "Scanning for %s...\n", timeout)
	found, err := c.Radio.Scan(ctx, timeout)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintln(c.Out, "No wearables found.")
		return nil
	}

	tw := tabwriter.NewWriter(c.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI\tLOCKED\tREGISTERED")
	for _, a := range found {
		registered := "-"
		if d, err := c.Registry.Get(a.Address); err == nil {
			registered = string(d.Position)
		} else if !errors.Is(err, registry.ErrNotFound) {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%v\t%s\n", a.Address, a.Name, a.RSSI, a.Locked, registered)
	}
	return tw.Flush()
}

// Register pairs with address and stores it at position.
func (c *Collector) Register(ctx context.Context, address, position string) error {
	pos, err := registry.ParsePosition(position)
	if err != nil {
		return err
	}
	l := &collector.Listener{Radio: c.Radio, Clock: c.Clock, Logger: c.Logger}
	d, err := l.Register(ctx, c.Registry, address, pos)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Registered %s (%s) at %s\n", d.Name, d.Address, d.Position)
	return nil
}

func (c *Collector) List() error {
	devices, err := c.Registry.List()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(c.Out, "No devices registered.")
		return nil
	}
	tw := tabwriter.NewWriter(c.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tPOSITION\tREGISTERED")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Address, d.Name, d.Position, d.RegisteredAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (c *Collector) Remove(address string) error {
	if err := c.Registry.Remove(address); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Removed %s\n", registry.NormalizeAddress(address))
	return nil
}

// Listen forwards batches from every registered device to MQTT until ctx is done.
func (c *Collector) Listen(ctx context.Context) error {
	devices, err := c.Registry.List()
	if err != nil {
		return err
	}

	c.Logger.Info("initializing collector",
		"mqtt_broker", c.Cfg.MQTTBroker,
		"mqtt_port", c.Cfg.MQTTPort,
		"mqtt_client_id", c.Cfg.MQTTClientID,
		"topic_prefix", c.Cfg.MQTTTopicPrefix,
		"devices", len(devices),
	)

	mqttClient, err := mqtt.NewClient(c.Cfg, c.Logger)
	if err != nil {
		return err
	}
	defer mqttClient.Disconnect()
	go func() {
		if err := mqttClient.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.Logger.Error("mqtt connect failed", "error", err)
		}
	}()

	l := &collector.Listener{
		Radio:   c.Radio,
		Handler: collector.NewHandler(mqttClient, c.Clock, c.Logger.With("component", "handler")),
		Status:  mqttStatus{client: mqttClient, clock: c.Clock},
		Clock:   c.Clock,
		Logger:  c.Logger,
	}

	if c.Cfg.HTTPAddr != config.HTTPDisabled {
		srv := httpapi.NewServer(c.Cfg.HTTPAddr, httpapi.Deps{
			DB:       c.conn,
			Registry: c.Registry,
			Broker:   mqttClient,
			Sessions: l.Sessions,
			Logger:   c.Logger.With("component", "http"),
		})
		httpCtx, stopHTTP := context.WithCancel(ctx)
		httpDone := make(chan struct{})
		go func() {
			defer close(httpDone)
			if err := httpapi.Serve(httpCtx, srv, c.Logger); err != nil {
				c.Logger.Error("http server failed", "error", err)
			}
		}()
		defer func() {
			stopHTTP()
			<-httpDone
		}()
	}

	err = l.Listen(ctx, devices)
	if errors.Is(err, context.Canceled) {
		c.Logger.Info("collector shutting down")
	}
	return err
}

// statusClient is the part of the MQTT client used for presence.
type statusClient interface {
	PublishStatus(mqtt.DeviceStatus) error
}

type mqttStatus struct {
	client statusClient
	clock  clock.Clock
}

func (m mqttStatus) PublishOnline(s *collector.Session) error {
	return m.publish(s, true)
}

func (m mqttStatus) PublishOffline(s *collector.Session) error {
	return m.publish(s, false)
}

func (m mqttStatus) publish(s *collector.Session, online bool) error {
	return m.client.PublishStatus(mqtt.DeviceStatus{
		Device:    s.Device.Address,
		Position:  string(s.Device.Position),
		Online:    online,
		SessionID: s.ID.String(),
		Since:     m.clock.Now().UTC(),
	})
}
