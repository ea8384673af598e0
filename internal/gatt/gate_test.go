package gatt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pulsera/internal/accel"
	"pulsera/internal/ble"
	"pulsera/internal/clock"
)

type sent struct {
	conn    ble.ConnHandle
	attr    ble.AttrHandle
	payload []byte
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	out  chan sent
	seen int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{out: make(chan sent, 16)}
}

func (f *fakeNotifier) Notify(conn ble.ConnHandle, attr ble.AttrHandle, payload []byte) error {
	f.mu.Lock()
	f.seen++
	err := f.err
	f.mu.Unlock()
	f.out <- sent{conn: conn, attr: attr, payload: append([]byte(nil), payload...)}
	return err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fullAssembler(t *testing.T) *accel.Assembler {
	t.Helper()
	a := accel.NewAssembler(clock.NewManual(time.Unix(0, 0)))
	for i := 0; i < accel.BatchSize; i++ {
		a.Store(accel.Sample{X: int16(i)})
	}
	if !a.IsBatchReady() {
		t.Fatal("assembler not ready after a full batch")
	}
	return a
}

func TestGate_SendBatch_NotSubscribedDiscards(t *testing.T) {
	n := newFakeNotifier()
	g := NewGate(n, NewSubscription(), 7, discard())
	a := fullAssembler(t)

	if g.SendBatch(a) {
		t.Fatal("SendBatch() = true with no subscriber")
	}
	if a.IsBatchReady() {
		t.Error("batch still ready; SendBatch must take it even without a subscriber")
	}
	if got := g.Stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
	if len(g.mailbox) != 0 {
		t.Error("mailbox not empty")
	}
}

func TestGate_SendBatch_NotReadyIsNoop(t *testing.T) {
	sub := NewSubscription()
	sub.Set(1, true)
	g := NewGate(newFakeNotifier(), sub, 7, discard())
	a := accel.NewAssembler(clock.NewManual(time.Unix(0, 0)))
	a.Store(accel.Sample{})

	if g.SendBatch(a) {
		t.Fatal("SendBatch() = true before the batch is ready")
	}
	if a.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", a.Pending())
	}
	if g.Stats() != (Stats{}) {
		t.Errorf("Stats() = %+v, want zero", g.Stats())
	}
}

func TestGate_DeliversSubscribedBatch(t *testing.T) {
	n := newFakeNotifier()
	sub := NewSubscription()
	sub.Set(3, true)
	g := NewGate(n, sub, 7, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	a := fullAssembler(t)
	if !g.SendBatch(a) {
		t.Fatal("SendBatch() = false with a subscriber")
	}

	select {
	case s := <-n.out:
		if s.conn != 3 || s.attr != 7 {
			t.Errorf("notify target = (%d, %d), want (3, 7)", s.conn, s.attr)
		}
		if len(s.payload) != accel.BatchWireSize {
			t.Fatalf("payload = %d bytes, want %d", len(s.payload), accel.BatchWireSize)
		}
		var b accel.Batch
		if err := b.UnmarshalBinary(s.payload); err != nil {
			t.Fatalf("UnmarshalBinary() error = %v", err)
		}
		if b.SequenceID != 0 || b.Samples[34].X != 34 {
			t.Errorf("decoded batch = seq %d last.X %d", b.SequenceID, b.Samples[34].X)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification sent")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if got := g.Stats().Sent; got != 1 {
		t.Errorf("Sent = %d, want 1", got)
	}
}

func TestGate_DropsOldestUnsentBatch(t *testing.T) {
	n := newFakeNotifier()
	sub := NewSubscription()
	sub.Set(0, true)
	g := NewGate(n, sub, 7, discard())

	a := accel.NewAssembler(clock.NewManual(time.Unix(0, 0)))
	for batch := 0; batch < 3; batch++ {
		for i := 0; i < accel.BatchSize; i++ {
			a.Store(accel.Sample{X: int16(batch)})
		}
		if !g.SendBatch(a) {
			t.Fatalf("SendBatch() = false for batch %d", batch)
		}
	}
	if got := g.Stats().Dropped; got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = g.Run(ctx) }()

	select {
	case s := <-n.out:
		var b accel.Batch
		_ = b.UnmarshalBinary(s.payload)
		if b.SequenceID != 2 {
			t.Errorf("delivered seq = %d, want 2 (newest)", b.SequenceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification sent")
	}
	select {
	case s := <-n.out:
		t.Fatalf("unexpected second notification: % X", s.payload[:8])
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGate_NotifyErrorIsNotFatal(t *testing.T) {
	n := newFakeNotifier()
	n.err = errors.New("mbuf exhausted")
	sub := NewSubscription()
	sub.Set(1, true)
	g := NewGate(n, sub, 7, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = g.Run(ctx) }()

	for i := 0; i < 2; i++ {
		g.SendBatch(fullAssembler(t))
		select {
		case <-n.out:
		case <-time.After(2 * time.Second):
			t.Fatalf("notification %d not attempted", i)
		}
	}
	deadline := time.Now().Add(time.Second)
	for g.Stats().Failed != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := g.Stats().Failed; got != 2 {
		t.Errorf("Failed = %d, want 2", got)
	}
}

func TestGate_SkipsBatchForClosedLink(t *testing.T) {
	n := newFakeNotifier()
	sub := NewSubscription()
	sub.Set(1, true)
	g := NewGate(n, sub, 7, discard())

	g.SendBatch(fullAssembler(t))
	sub.Clear(1)
	g.send(<-g.mailbox)

	if n.seen != 0 {
		t.Errorf("notify called %d times after the link closed", n.seen)
	}
	if got := g.Stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
}

func fillBatch(a *accel.Assembler) {
	for i := 0; i < accel.BatchSize; i++ {
		a.Store(accel.Sample{X: int16(i)})
	}
}

func firstDelivered(t *testing.T, n *fakeNotifier) accel.Batch {
	t.Helper()
	select {
	case s := <-n.out:
		var b accel.Batch
		if err := b.UnmarshalBinary(s.payload); err != nil {
			t.Fatalf("UnmarshalBinary() error = %v", err)
		}
		return b
	default:
		t.Fatal("no notification sent")
		return accel.Batch{}
	}
}

func TestGate_FirstBatchAfterResubscribeIsZero(t *testing.T) {
	tests := []struct {
		name    string
		initial bool
	}{
		{name: "previously unsubscribed", initial: false},
		{name: "previously subscribed", initial: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newFakeNotifier()
			sub := NewSubscription()
			sub.Set(1, tt.initial)
			g := NewGate(n, sub, 7, discard())

			a := accel.NewAssembler(clock.NewManual(time.Unix(0, 0)))
			for i := 0; i < 3; i++ {
				fillBatch(a)
				a.GetBatch()
			}
			fillBatch(a)
			if got := g.SendBatch(a); got != tt.initial {
				t.Fatalf("SendBatch() = %v, want %v", got, tt.initial)
			}

			// Subscribe effects, in the order the controller applies them.
			sub.Resetter(a).ResetCounters()
			sub.Set(1, true)
			if tt.initial {
				g.send(<-g.mailbox)
				if n.seen != 0 {
					t.Fatalf("batch from before the reset sent")
				}
			}

			fillBatch(a)
			if !g.SendBatch(a) {
				t.Fatal("SendBatch() = false after resubscribe")
			}
			g.send(<-g.mailbox)
			if b := firstDelivered(t, n); b.SequenceID != 0 {
				t.Errorf("first delivered seq = %d, want 0", b.SequenceID)
			}
		})
	}
}

func TestGate_HoldsBatchBetweenResetAndSubscribe(t *testing.T) {
	n := newFakeNotifier()
	sub := NewSubscription()
	g := NewGate(n, sub, 7, discard())
	a := accel.NewAssembler(clock.NewManual(time.Unix(0, 0)))

	sub.Resetter(a).ResetCounters()
	fillBatch(a)
	if g.SendBatch(a) {
		t.Fatal("SendBatch() = true before the subscription is set")
	}
	if !a.IsBatchReady() {
		t.Fatal("batch taken while held")
	}
	if got := g.Stats().Skipped; got != 0 {
		t.Errorf("Skipped = %d, want 0", got)
	}

	sub.Set(1, true)
	if !g.SendBatch(a) {
		t.Fatal("SendBatch() = false after Set")
	}
	g.send(<-g.mailbox)
	if b := firstDelivered(t, n); b.SequenceID != 0 {
		t.Errorf("first delivered seq = %d, want 0", b.SequenceID)
	}
}

func TestGate_SkipsBatchQueuedBeforeReenable(t *testing.T) {
	n := newFakeNotifier()
	sub := NewSubscription()
	sub.Set(1, true)
	g := NewGate(n, sub, 7, discard())

	if !g.SendBatch(fullAssembler(t)) {
		t.Fatal("SendBatch() = false with a subscriber")
	}
	sub.Set(1, false)
	sub.Set(1, true)
	g.send(<-g.mailbox)

	if n.seen != 0 {
		t.Errorf("notify called %d times for a batch from the previous subscription", n.seen)
	}
	if got := g.Stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
}

func TestSubscription_ClearOnlyMatchingConn(t *testing.T) {
	s := NewSubscription()
	if _, ok := s.Snapshot(); ok {
		t.Fatal("new subscription reports enabled")
	}
	s.Set(4, true)
	s.Clear(5)
	if conn, ok := s.Snapshot(); !ok || conn != 4 {
		t.Fatalf("Snapshot() = (%d, %v), want (4, true)", conn, ok)
	}
	s.Clear(4)
	if conn, ok := s.Snapshot(); ok || conn != ble.NoConn {
		t.Fatalf("Snapshot() = (%d, %v), want (NoConn, false)", conn, ok)
	}
}

func TestAccelService_ReadReturnsLastSample(t *testing.T) {
	a := accel.NewAssembler(clock.NewManual(time.Unix(0, 0)))
	def := AccelService(a)
	if def.UUID != 0x00FF || len(def.Characteristics) != 1 || def.Characteristics[0].UUID != 0xFF01 {
		t.Fatalf("service = %+v", def)
	}
	read := def.Characteristics[0].OnRead

	if got := read(); !bytes.Equal(got, make([]byte, 6)) {
		t.Errorf("read before any sample = % X, want zeros", got)
	}
	a.Store(accel.Sample{X: 1, Y: -1, Z: 2})
	if got, want := read(), []byte{0x01, 0x00, 0xFF, 0xFF, 0x02, 0x00}; !bytes.Equal(got, want) {
		t.Errorf("read = % X, want % X", got, want)
	}
}
