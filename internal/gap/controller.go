package gap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"pulsera/internal/ble"
)

const eventQueueSize = 64

// SubscriptionSink receives subscription changes for the gate.
type SubscriptionSink interface {
	Set(conn ble.ConnHandle, enabled bool)
	Clear(conn ble.ConnHandle)
}

// CounterResetter restarts batch numbering.
type CounterResetter interface {
	ResetCounters()
}

// Options configures a Controller.
type Options struct {
	Stack         ble.Stack
	Bonds         ble.BondStore
	Subscriptions SubscriptionSink
	Counters      CounterResetter
	BatchAttr     ble.AttrHandle

	Name       string
	Appearance uint16
	Logger     *slog.Logger
}

// Controller owns the admission state. Host stack callbacks and the reset
// trigger Submit events; Run applies them one at a time.
type Controller struct {
	stack      ble.Stack
	bonds      ble.BondStore
	subs       SubscriptionSink
	counters   CounterResetter
	batchAttr  ble.AttrHandle
	name       string
	appearance uint16
	logger     *slog.Logger

	events chan ble.Event

	mu    sync.Mutex
	state State
}

func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Appearance == 0 {
		opts.Appearance = AppearanceWristWorn
	}
	return &Controller{
		stack:      opts.Stack,
		bonds:      opts.Bonds,
		subs:       opts.Subscriptions,
		counters:   opts.Counters,
		batchAttr:  opts.BatchAttr,
		name:       opts.Name,
		appearance: opts.Appearance,
		logger:     opts.Logger.With("component", "gap"),
		events:     make(chan ble.Event, eventQueueSize),
		state:      State{Mode: ModeOpen, Active: ble.NoConn, BatchAttr: opts.BatchAttr},
	}
}

// Submit queues an event. It is safe to call from any goroutine and is used as
// the host stack event handler.
func (c *Controller) Submit(e ble.Event) {
	c.events <- e
}

// SubmitContext queues an event, giving up when ctx is done first.
func (c *Controller) SubmitContext(ctx context.Context, e ble.Event) error {
	select {
	case c.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run restores the lock state from the bond store and processes events until
// ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	peers, err := c.bonds.Peers()
	if err != nil {
		return fmt.Errorf("gap: read bonds: %w", err)
	}
	c.setState(InitialState(c.batchAttr, peers))
	c.logger.Info("gap: controller started", "mode", c.State().Mode.String(), "bonds", len(peers))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-c.events:
			c.step(e)
		}
	}
}

func (c *Controller) step(e ble.Event) {
	prev := c.State()
	next, effects := Transition(prev, e)
	c.setState(next)

	if next.Mode != prev.Mode {
		c.logger.Info("gap: mode changed", "event", e.EventName(), "from", prev.Mode.String(), "to", next.Mode.String(), "peer", string(next.LockedPeer))
	}
	c.logEvent(e)
	for _, eff := range effects {
		c.logger.Debug("gap: effect", "event", e.EventName(), "effect", eff.String())
		c.apply(eff)
	}
}

func (c *Controller) logEvent(e ble.Event) {
	switch ev := e.(type) {
	case ble.Connected:
		if ev.Err != nil {
			c.logger.Warn("gap: connection failed", "peer", string(ev.Peer), "error", ev.Err)
			return
		}
		c.logger.Info("gap: connected", "conn", ev.Handle, "peer", string(ev.Peer))
	case ble.Disconnected:
		c.logger.Info("gap: disconnected", "conn", ev.Handle, "reason", ev.Reason)
	case ble.Subscribed:
		c.logger.Info("gap: subscribe", "conn", ev.Handle, "attr", ev.Attr, "notify", ev.Notify)
	case ble.RepeatPairing:
		c.logger.Info("gap: repeat pairing", "conn", ev.Handle, "peer", string(ev.Peer))
	case FactoryReset:
		c.logger.Warn("gap: factory reset")
	}
}

func (c *Controller) apply(eff Effect) {
	switch e := eff.(type) {
	case StartAdvertising:
		c.startAdvertising(e.Mode)
	case RequestFastParams:
		if err := c.stack.UpdateConnectionParams(e.Conn, FastConnParams); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, ble.ErrUnsupported) {
				level = slog.LevelDebug
			}
			c.logger.Log(context.Background(), level, "gap: connection parameter update failed", "conn", e.Conn, "error", err)
		}
	case PersistBond:
		if err := c.bonds.Add(e.Peer); err != nil {
			c.logger.Warn("gap: persist bond failed", "peer", string(e.Peer), "error", err)
		}
	case Disconnect:
		if err := c.stack.Disconnect(e.Conn); err != nil {
			c.logger.Warn("gap: disconnect failed", "conn", e.Conn, "error", err)
		}
	case DeleteBonds:
		if err := c.bonds.DeleteAll(); err != nil {
			c.logger.Error("gap: delete bonds failed", "error", err)
		}
	case ResetCounters:
		c.counters.ResetCounters()
	case SetSubscription:
		c.subs.Set(e.Conn, e.Enabled)
	case ClearSubscription:
		c.subs.Clear(e.Conn)
	case ReplyRepeatPairing:
		select {
		case e.Reply <- e.Retry:
		default:
			c.logger.Warn("gap: repeat pairing reply dropped")
		}
	}
}

func (c *Controller) startAdvertising(mode Mode) {
	if err := c.stack.StopAdvertising(); err != nil {
		c.logger.Debug("gap: stop advertising", "error", err)
	}

	var whitelist []ble.Address
	if mode == ModeLocked {
		peers, err := c.bonds.Peers()
		if err != nil {
			c.logger.Warn("gap: read bonds for whitelist failed", "error", err)
		}
		if len(peers) > ble.MaxBonds {
			peers = peers[len(peers)-ble.MaxBonds:]
		}
		whitelist = peers
	}
	if err := c.stack.SetWhitelist(whitelist); err != nil {
		c.logger.Warn("gap: set whitelist failed", "error", err)
	}

	p := ble.AdvertiseParams{
		Discoverable: mode == ModeOpen,
		Filter:       mode == ModeLocked,
		Name:         c.name,
		Appearance:   c.appearance,
		IntervalMin:  AdvIntervalMin,
		IntervalMax:  AdvIntervalMax,
	}
	if err := c.stack.StartAdvertising(p); err != nil {
		c.logger.Error("gap: advertising start failed", "mode", mode.String(), "error", err)
		return
	}
	c.logger.Info("gap: advertising", "mode", mode.String(), "whitelist", len(whitelist))
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
