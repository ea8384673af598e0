package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pulsera/internal/accel"
	"pulsera/internal/ble"
	"pulsera/internal/clock"
	"pulsera/internal/config"
	"pulsera/internal/gap"
	"pulsera/internal/gatt"
	"pulsera/internal/reset"
	"pulsera/internal/sampler"
	"pulsera/internal/sensor"
)

const statusInterval = 30 * time.Second

// Device is the wired wearable: every component the device tasks share.
type Device struct {
	Stack      ble.Stack
	Bonds      ble.BondStore
	Assembler  *accel.Assembler
	Controller *gap.Controller
	Gate       *gatt.Gate
	Sampler    *sampler.Sampler
	Trigger    *reset.Trigger
	BatchAttr  ble.AttrHandle

	events chan ble.Event
	resetc chan struct{}
	wake   chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	overflow []ble.Event
}

// Parts are the hardware-facing collaborators of a Device.
type Parts struct {
	Source sensor.Source
	Stack  ble.Stack
	Bonds  ble.BondStore
	Reset  reset.Input
	Clock  clock.Clock
}

// BuildDevice enables the stack, registers the accelerometer service and wires
// the controller, gate, sampler and reset trigger. Nothing runs until Run.
func BuildDevice(cfg config.Device, p Parts, logger *slog.Logger) (*Device, error) {
	if p.Clock == nil {
		p.Clock = clock.System{}
	}
	if p.Reset == nil {
		p.Reset = reset.NoInput{}
	}
	d := &Device{
		Stack:  p.Stack,
		Bonds:  p.Bonds,
		events: make(chan ble.Event, 64),
		resetc: make(chan struct{}, 1),
		wake:   make(chan struct{}, 1),
		logger: logger,
	}

	// Events raised before the controller exists (Synced) wait in d.events.
	if err := p.Stack.Start(d.enqueue); err != nil {
		return nil, fmt.Errorf("ble start: %w", err)
	}

	d.Assembler = accel.NewAssembler(p.Clock)
	handles, err := p.Stack.RegisterService(gatt.AccelService(d.Assembler))
	if err != nil {
		return nil, fmt.Errorf("register gatt service: %w", err)
	}
	attr, ok := handles[gatt.AccelCharUUID]
	if !ok {
		return nil, fmt.Errorf("register gatt service: no handle for %#04x", gatt.AccelCharUUID)
	}
	d.BatchAttr = attr

	sub := gatt.NewSubscription()
	d.Gate = gatt.NewGate(p.Stack, sub, attr, logger)
	d.Controller = gap.NewController(gap.Options{
		Stack:         p.Stack,
		Bonds:         p.Bonds,
		Subscriptions: sub,
		Counters:      sub.Resetter(d.Assembler),
		BatchAttr:     attr,
		Name:          cfg.DeviceName,
		Logger:        logger,
	})

	d.Sampler, err = sampler.New(sampler.Options{
		Source:    p.Source,
		Assembler: d.Assembler,
		Gate:      d.Gate,
		Clock:     p.Clock,
		RateHz:    cfg.SampleRateHz,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	d.Trigger = reset.NewTrigger(p.Reset,
		reset.NewDetector(cfg.ResetHold, cfg.ResetCooldown),
		cfg.ResetPollInterval, p.Clock, logger)
	return d, nil
}

// enqueue is the host stack event handler and never blocks. Events that find
// the queue full wait in an overflow list, and later events queue behind them.
func (d *Device) enqueue(e ble.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.overflow) == 0 {
		select {
		case d.events <- e:
			return
		default:
		}
	}
	if len(d.overflow) == 0 {
		d.logger.Warn("ble event queue full, buffering", "event", e.EventName())
	}
	d.overflow = append(d.overflow, e)
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// requestReset asks the pump to submit a factory reset. Requests made while
// one is pending are merged.
func (d *Device) requestReset() {
	select {
	case d.resetc <- struct{}{}:
	default:
	}
}

// pump moves queued events and reset requests into the controller.
func (d *Device) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-d.events:
			if err := d.Controller.SubmitContext(ctx, e); err != nil {
				return err
			}
		case <-d.wake:
			if err := d.drainOverflow(ctx); err != nil {
				return err
			}
		case <-d.resetc:
			if err := d.Controller.SubmitContext(ctx, gap.FactoryReset{}); err != nil {
				return err
			}
		}
	}
}

// drainOverflow submits everything still in the queue, then the overflow
// list, so events reach the controller in arrival order.
func (d *Device) drainOverflow(ctx context.Context) error {
	for {
		d.mu.Lock()
		var (
			e  ble.Event
			ok bool
		)
		select {
		case e = <-d.events:
			ok = true
		default:
			if len(d.overflow) > 0 {
				e, ok = d.overflow[0], true
				d.overflow = d.overflow[1:]
			}
		}
		d.mu.Unlock()
		if !ok {
			return nil
		}
		if err := d.Controller.SubmitContext(ctx, e); err != nil {
			return err
		}
	}
}

// Run starts the device tasks and blocks until ctx is done or a task fails.
func (d *Device) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.Controller.Run(ctx) })
	g.Go(func() error { return d.pump(ctx) })
	g.Go(func() error { return d.Gate.Run(ctx) })
	g.Go(func() error { return d.Sampler.Run(ctx) })
	g.Go(func() error {
		return d.Trigger.Run(ctx, d.requestReset)
	})
	g.Go(func() error { return d.reportStatus(ctx) })

	return g.Wait()
}

func (d *Device) reportStatus(ctx context.Context) error {
	t := time.NewTicker(statusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			st := d.Gate.Stats()
			s := d.Controller.State()
			d.logger.Info("device status",
				"mode", s.Mode.String(),
				"connected", s.Active != ble.NoConn,
				"sent", st.Sent,
				"failed", st.Failed,
				"dropped", st.Dropped,
				"skipped", st.Skipped,
			)
		}
	}
}
