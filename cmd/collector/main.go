package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"pulsera/internal/app"
	"pulsera/internal/config"
	"pulsera/internal/logging"
)

var version = "dev"
var appName = "pulsera-collector"

type globals struct {
	ctx    context.Context
	cfg    config.Collector
	logger *slog.Logger
}

func (g *globals) open() (*app.Collector, error) {
	return app.OpenCollector(g.cfg, os.Stdout, g.logger)
}

type scanCmd struct {
	Timeout time.Duration `help:"How long to scan. Defaults to SCAN_TIMEOUT."`
}

func (c *scanCmd) Run(g *globals) error {
	col, err := g.open()
	if err != nil {
		return err
	}
	defer col.Close()
	return col.Scan(g.ctx, c.Timeout)
}

type registerCmd struct {
	Address  string `arg:"" help:"Device address as shown by scan."`
	Position string `arg:"" help:"Body position: left-wrist, right-wrist, left-ankle, right-ankle, left-hip, right-hip, or 1-6."`
}

func (c *registerCmd) Run(g *globals) error {
	col, err := g.open()
	if err != nil {
		return err
	}
	defer col.Close()
	return col.Register(g.ctx, c.Address, c.Position)
}

type listCmd struct{}

func (c *listCmd) Run(g *globals) error {
	col, err := g.open()
	if err != nil {
		return err
	}
	defer col.Close()
	return col.List()
}

type removeCmd struct {
	Address string `arg:"" help:"Device address to forget."`
}

func (c *removeCmd) Run(g *globals) error {
	col, err := g.open()
	if err != nil {
		return err
	}
	defer col.Close()
	return col.Remove(c.Address)
}

type listenCmd struct{}

func (c *listenCmd) Run(g *globals) error {
	col, err := g.open()
	if err != nil {
		return err
	}
	defer col.Close()
	return col.Listen(g.ctx)
}

var cli struct {
	Scan     scanCmd     `cmd:"" help:"Scan for nearby wearables."`
	Register registerCmd `cmd:"" help:"Pair with a wearable and assign it a body position."`
	List     listCmd     `cmd:"" help:"List registered wearables."`
	Remove   removeCmd   `cmd:"" help:"Remove a registered wearable."`
	Listen   listenCmd   `cmd:"" default:"1" help:"Stream batches from registered wearables to MQTT."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("pulsera-collector"),
		kong.Description("Collects accelerometer batches from pulsera wearables and forwards them to MQTT."),
		kong.UsageOnError(),
	)

	cfg, err := config.LoadCollectorFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Common, version, appName)
	slog.SetDefault(logger)

	slog.Debug("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"command", kctx.Command(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = kctx.Run(&globals{ctx: ctx, cfg: cfg, logger: logger})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("command failed", "command", kctx.Command(), "err", err)
		os.Exit(1)
	}
}
