package gap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"pulsera/internal/accel"
	"pulsera/internal/ble"
	"pulsera/internal/gatt"
)

type counterSpy struct{ resets atomic.Int32 }

func (c *counterSpy) ResetCounters() { c.resets.Add(1) }

type harness struct {
	stack    *ble.SimStack
	bonds    *ble.MemoryBondStore
	subs     *gatt.Subscription
	counters *counterSpy
	ctrl     *Controller
	attr     ble.AttrHandle
}

func newHarness(t *testing.T, bonded ...ble.Address) *harness {
	t.Helper()
	h := &harness{
		stack:    ble.NewSimStack(),
		bonds:    ble.NewMemoryBondStore(),
		subs:     gatt.NewSubscription(),
		counters: &counterSpy{},
	}
	for _, p := range bonded {
		_ = h.bonds.Add(p)
	}

	attrs, err := h.stack.RegisterService(gatt.AccelService(nopSamples{}))
	if err != nil {
		t.Fatalf("RegisterService() error = %v", err)
	}
	h.attr = attrs[gatt.AccelCharUUID]

	h.ctrl = NewController(Options{
		Stack:         h.stack,
		Bonds:         h.bonds,
		Subscriptions: h.subs,
		Counters:      h.counters,
		BatchAttr:     h.attr,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	})

	if err := h.stack.Start(h.ctrl.Submit); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitAdvertising(t)
	return h
}

type nopSamples struct{}

func (nopSamples) LastSample() (accel.Sample, bool) { return accel.Sample{}, false }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) waitAdvertising(t *testing.T) ble.AdvertiseParams {
	t.Helper()
	var p ble.AdvertiseParams
	waitFor(t, "advertising", func() bool {
		var ok bool
		p, ok = h.stack.Advertising()
		return ok
	})
	return p
}

func TestController_OpenAdvertisingOnSync(t *testing.T) {
	h := newHarness(t)
	p := h.waitAdvertising(t)
	if !p.Discoverable || p.Filter {
		t.Errorf("advertising = %+v, want discoverable without filter", p)
	}
	if p.Name != DefaultName || p.Appearance != AppearanceWristWorn {
		t.Errorf("advertising identity = (%q, 0x%04X)", p.Name, p.Appearance)
	}
	if p.IntervalMin != 500*time.Millisecond || p.IntervalMax != 510*time.Millisecond {
		t.Errorf("interval = %v..%v, want 500ms..510ms", p.IntervalMin, p.IntervalMax)
	}
}

func TestController_LocksToFirstPeer(t *testing.T) {
	h := newHarness(t)

	conn, err := h.stack.Connect(peerA)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "lock", func() bool { return h.ctrl.State().Mode == ModeLocked })

	if got := h.ctrl.State(); got.LockedPeer != peerA || got.Active != conn {
		t.Errorf("state = %+v", got)
	}
	waitFor(t, "param update", func() bool { return len(h.stack.ParamUpdates()) == 1 })
	if peers, _ := h.bonds.Peers(); len(peers) != 1 || peers[0] != peerA {
		t.Errorf("bonds = %v, want [%s]", peers, peerA)
	}

	// The link drops; advertising resumes with the filter on and only peerA allowed.
	h.stack.PeerDisconnect(conn, "supervision timeout")
	p := h.waitAdvertising(t)
	if p.Discoverable || !p.Filter {
		t.Errorf("advertising after disconnect = %+v, want filtered", p)
	}
	if wl := h.stack.Whitelist(); len(wl) != 1 || wl[0] != peerA {
		t.Errorf("whitelist = %v, want [%s]", wl, peerA)
	}
	if _, err := h.stack.Connect(peerB); !errors.Is(err, ble.ErrFiltered) {
		t.Errorf("Connect(other) error = %v, want ErrFiltered", err)
	}
	if _, err := h.stack.Connect(peerA); err != nil {
		t.Errorf("Connect(locked peer) error = %v", err)
	}
}

func TestController_SubscriptionResetsCounters(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.stack.Connect(peerA)

	h.stack.Subscribe(conn, h.attr, true)
	waitFor(t, "subscription", func() bool {
		got, ok := h.subs.Snapshot()
		return ok && got == conn
	})
	if got := h.counters.resets.Load(); got != 1 {
		t.Errorf("resets after subscribe = %d, want 1", got)
	}

	h.stack.Subscribe(conn, h.attr, false)
	waitFor(t, "unsubscribe", func() bool {
		_, ok := h.subs.Snapshot()
		return !ok
	})
	if got := h.counters.resets.Load(); got != 1 {
		t.Errorf("resets after disable = %d, want 1", got)
	}

	h.stack.Subscribe(conn, h.attr, true)
	waitFor(t, "resubscribe", func() bool { return h.counters.resets.Load() == 2 })
	h.stack.PeerDisconnect(conn, "gone")
	waitFor(t, "subscription cleared", func() bool {
		_, ok := h.subs.Snapshot()
		return !ok
	})
}

func TestController_FactoryResetWhileConnected(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.stack.Connect(peerA)
	waitFor(t, "lock", func() bool { return h.ctrl.State().Mode == ModeLocked })

	h.ctrl.Submit(FactoryReset{})

	waitFor(t, "forced disconnect", func() bool { return len(h.stack.Disconnects()) == 1 })
	if got := h.stack.Disconnects()[0]; got != conn {
		t.Errorf("disconnected %d, want %d", got, conn)
	}
	p := h.waitAdvertising(t)
	if !p.Discoverable || p.Filter {
		t.Errorf("advertising after reset = %+v, want open", p)
	}
	if n, _ := h.bonds.Count(); n != 0 {
		t.Errorf("bonds after reset = %d, want 0", n)
	}
	st := h.ctrl.State()
	if st.Mode != ModeOpen || st.LockedPeer != "" || st.Active != ble.NoConn {
		t.Errorf("state after reset = %+v", st)
	}

	// Any peer may now take the device.
	if _, err := h.stack.Connect(peerB); err != nil {
		t.Fatalf("Connect(new peer) error = %v", err)
	}
	waitFor(t, "relock", func() bool { return h.ctrl.State().LockedPeer == peerB })
}

func TestController_FactoryResetWhileIdle(t *testing.T) {
	h := newHarness(t, peerA)
	if p := h.waitAdvertising(t); !p.Filter {
		t.Fatalf("boot with bonds advertising = %+v, want filtered", p)
	}
	before := len(h.stack.AdvertisingHistory())

	h.ctrl.Submit(FactoryReset{})
	waitFor(t, "open advertising", func() bool { return len(h.stack.AdvertisingHistory()) > before })

	p := h.waitAdvertising(t)
	if !p.Discoverable || p.Filter {
		t.Errorf("advertising = %+v, want open", p)
	}
	if len(h.stack.Disconnects()) != 0 {
		t.Errorf("disconnects = %v, want none", h.stack.Disconnects())
	}
	if len(h.stack.Whitelist()) != 0 {
		t.Errorf("whitelist = %v, want empty", h.stack.Whitelist())
	}
}

func TestController_BootRestoresLock(t *testing.T) {
	h := newHarness(t, peerA)
	waitFor(t, "restore", func() bool { return h.ctrl.State().Mode == ModeLocked })
	if _, err := h.stack.Connect(peerB); !errors.Is(err, ble.ErrFiltered) {
		t.Errorf("Connect(foreign) error = %v, want ErrFiltered", err)
	}
}

func TestController_FailedConnectionReadvertises(t *testing.T) {
	h := newHarness(t)
	before := len(h.stack.AdvertisingHistory())
	h.stack.FailConnect(peerA, errors.New("connection failed to be established"))
	waitFor(t, "readvertise", func() bool { return len(h.stack.AdvertisingHistory()) > before })
	if h.ctrl.State().Mode != ModeOpen {
		t.Errorf("mode = %v, want open", h.ctrl.State().Mode)
	}
}

func TestController_ParamUpdateFailureKeepsLink(t *testing.T) {
	h := newHarness(t)
	h.stack.ParamsErr = errors.New("rejected by peer")
	conn, _ := h.stack.Connect(peerA)
	waitFor(t, "param update", func() bool { return len(h.stack.ParamUpdates()) == 1 })
	if _, err := h.stack.LookupConnection(conn); err != nil {
		t.Errorf("link dropped after parameter update failure: %v", err)
	}
}

func TestController_RepeatPairing(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.stack.Connect(peerA)
	waitFor(t, "lock", func() bool { return h.ctrl.State().Active == conn })

	retry, answered := h.stack.RepeatPair(conn, 2*time.Second)
	if !answered || !retry {
		t.Errorf("RepeatPair(known) = (%v, %v), want (true, true)", retry, answered)
	}
	retry, answered = h.stack.RepeatPair(conn+1, 2*time.Second)
	if !answered || retry {
		t.Errorf("RepeatPair(unknown) = (%v, %v), want (false, true)", retry, answered)
	}
}
