package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pulsera/internal/accel"
	"pulsera/internal/ble"
	"pulsera/internal/gap"
)

const simPeerPoll = 250 * time.Millisecond

// SimPeer plays a collector against a SimStack: it connects whenever the
// device advertises, subscribes to the batch characteristic and logs what
// arrives.
type SimPeer struct {
	Stack  *ble.SimStack
	Peer   ble.Address
	Attr   ble.AttrHandle
	State  func() gap.State
	Logger *slog.Logger
}

func (p *SimPeer) Run(ctx context.Context) {
	t := time.NewTicker(simPeerPoll)
	defer t.Stop()

	conn := ble.NoConn
	subscribed := false
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if conn != ble.NoConn {
			if _, err := p.Stack.LookupConnection(conn); err != nil {
				p.Logger.Info("sim peer: link dropped", "conn", conn)
				conn, subscribed = ble.NoConn, false
			}
		}

		if conn == ble.NoConn {
			if _, adv := p.Stack.Advertising(); !adv {
				continue
			}
			h, err := p.Stack.Connect(p.Peer)
			switch {
			case errors.Is(err, ble.ErrFiltered):
				p.Logger.Debug("sim peer: filtered by whitelist", "peer", p.Peer)
				continue
			case err != nil:
				p.Logger.Debug("sim peer: connect", "error", err)
				continue
			}
			conn = h
			continue
		}

		if !subscribed && p.State().Active == conn {
			p.Stack.Subscribe(conn, p.Attr, true)
			subscribed = true
			p.Logger.Info("sim peer: subscribed", "peer", p.Peer, "conn", conn)
		}

		seen = p.drain(conn, seen)
	}
}

// drain logs notifications recorded since the last call and returns the new total.
func (p *SimPeer) drain(conn ble.ConnHandle, seen int) int {
	total := p.Stack.NotifyCount()
	notes := p.Stack.Notifications()
	fresh := total - seen
	if fresh > len(notes) {
		fresh = len(notes)
	}
	for _, n := range notes[len(notes)-fresh:] {
		if n.Conn != conn {
			continue
		}
		var b accel.Batch
		if err := b.UnmarshalBinary(n.Payload); err != nil {
			p.Logger.Warn("sim peer: bad batch", "error", err)
			continue
		}
		last := b.Samples[accel.BatchSize-1]
		p.Logger.Debug("sim peer: batch", "seq", b.SequenceID, "ts_ms", b.TimestampStartMS, "x", last.X, "y", last.Y, "z", last.Z)
	}
	return total
}
