package gatt

import (
	"context"
	"log/slog"
	"sync/atomic"

	"pulsera/internal/accel"
	"pulsera/internal/ble"
)

// BatchSource hands out completed batches.
type BatchSource interface {
	GetBatch() (accel.Batch, bool)
}

// Notifier sends a notification on a connection.
type Notifier interface {
	Notify(conn ble.ConnHandle, attr ble.AttrHandle, payload []byte) error
}

// Stats are cumulative gate counters.
type Stats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
	Skipped uint64
}

type pending struct {
	conn  ble.ConnHandle
	gen   uint64
	batch accel.Batch
}

// Gate decouples the sampler from the transport. SendBatch never blocks: it
// parks the batch in a one-slot mailbox, replacing any batch the sender has not
// picked up yet. Run drains the mailbox into the host stack.
type Gate struct {
	notifier Notifier
	sub      *Subscription
	attr     ble.AttrHandle
	logger   *slog.Logger
	mailbox  chan pending

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
	skipped atomic.Uint64
}

func NewGate(n Notifier, sub *Subscription, attr ble.AttrHandle, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		notifier: n,
		sub:      sub,
		attr:     attr,
		logger:   logger.With("component", "gate"),
		mailbox:  make(chan pending, 1),
	}
}

// SendBatch takes the completed batch from src. If a peer is subscribed the batch
// is queued for notification and SendBatch reports true; otherwise the batch is
// discarded. It returns false without side effects if no batch is ready, or if
// the counters were reset for a subscription that is not in place yet.
//
// The batch is taken under the subscription lock and stamped with its
// generation, so a counter reset or subscription change cannot fall between the
// two.
func (g *Gate) SendBatch(src BatchSource) bool {
	g.sub.mu.Lock()
	st := g.sub.stateLocked()
	if st.held {
		g.sub.mu.Unlock()
		return false
	}
	b, ok := src.GetBatch()
	g.sub.mu.Unlock()
	if !ok {
		return false
	}
	if !st.enabled {
		g.skipped.Add(1)
		return false
	}

	p := pending{conn: st.conn, gen: st.gen, batch: b}
	select {
	case g.mailbox <- p:
		return true
	default:
	}
	select {
	case old := <-g.mailbox:
		g.dropped.Add(1)
		g.logger.Debug("gate: replaced unsent batch", "seq", old.batch.SequenceID)
	default:
	}
	select {
	case g.mailbox <- p:
	default:
		// Lost the race against another producer; the mailbox already holds a newer batch.
		g.dropped.Add(1)
	}
	return true
}

// Run sends queued batches until ctx is done.
func (g *Gate) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-g.mailbox:
			g.send(p)
		}
	}
}

func (g *Gate) send(p pending) {
	// The link may have gone away, or resubscribed, while the batch sat in the mailbox.
	if st := g.sub.state(); !st.enabled || st.gen != p.gen {
		g.skipped.Add(1)
		return
	}
	payload, _ := p.batch.MarshalBinary()
	if err := g.notifier.Notify(p.conn, g.attr, payload); err != nil {
		g.failed.Add(1)
		g.logger.Warn("gate: notify failed", "conn", p.conn, "seq", p.batch.SequenceID, "error", err)
		return
	}
	g.sent.Add(1)
	g.logger.Debug("gate: batch sent", "conn", p.conn, "seq", p.batch.SequenceID, "ts_ms", p.batch.TimestampStartMS)
}

func (g *Gate) Stats() Stats {
	return Stats{
		Sent:    g.sent.Load(),
		Failed:  g.failed.Load(),
		Dropped: g.dropped.Load(),
		Skipped: g.skipped.Load(),
	}
}
