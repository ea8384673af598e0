package gap

import (
	"fmt"

	"pulsera/internal/ble"
)

// Effect is an action requested by Transition.
type Effect interface {
	fmt.Stringer
	effect()
}

type (
	// StartAdvertising (re)starts advertising for Mode. In ModeLocked the whitelist
	// is rebuilt from the bond store first.
	StartAdvertising struct{ Mode Mode }
	// RequestFastParams asks for FastConnParams on Conn.
	RequestFastParams struct{ Conn ble.ConnHandle }
	// PersistBond stores Peer in the bond store.
	PersistBond struct{ Peer ble.Address }
	// Disconnect terminates Conn.
	Disconnect struct{ Conn ble.ConnHandle }
	// DeleteBonds empties the bond store.
	DeleteBonds struct{}
	// ResetCounters restarts batch numbering.
	ResetCounters struct{}
	// SetSubscription records the notify state of Conn.
	SetSubscription struct {
		Conn    ble.ConnHandle
		Enabled bool
	}
	// ClearSubscription forgets any subscription held by Conn.
	ClearSubscription struct{ Conn ble.ConnHandle }
	// ReplyRepeatPairing answers a repeat pairing request.
	ReplyRepeatPairing struct {
		Reply chan<- bool
		Retry bool
	}
)

func (StartAdvertising) effect()   {}
func (RequestFastParams) effect()  {}
func (PersistBond) effect()        {}
func (Disconnect) effect()         {}
func (DeleteBonds) effect()        {}
func (ResetCounters) effect()      {}
func (SetSubscription) effect()    {}
func (ClearSubscription) effect()  {}
func (ReplyRepeatPairing) effect() {}

func (e StartAdvertising) String() string  { return "start_advertising(" + e.Mode.String() + ")" }
func (e RequestFastParams) String() string { return fmt.Sprintf("request_fast_params(%d)", e.Conn) }
func (e PersistBond) String() string       { return "persist_bond(" + string(e.Peer) + ")" }
func (e Disconnect) String() string        { return fmt.Sprintf("disconnect(%d)", e.Conn) }
func (DeleteBonds) String() string         { return "delete_bonds" }
func (ResetCounters) String() string       { return "reset_counters" }
func (e SetSubscription) String() string {
	return fmt.Sprintf("set_subscription(%d, %t)", e.Conn, e.Enabled)
}
func (e ClearSubscription) String() string  { return fmt.Sprintf("clear_subscription(%d)", e.Conn) }
func (e ReplyRepeatPairing) String() string { return fmt.Sprintf("reply_repeat_pairing(%t)", e.Retry) }

// Transition computes the next state and the effects to run for e.
func Transition(s State, e ble.Event) (State, []Effect) {
	switch ev := e.(type) {
	case ble.Synced:
		return s, []Effect{StartAdvertising{Mode: s.Mode}}

	case ble.Connected:
		if ev.Err != nil {
			return s, []Effect{StartAdvertising{Mode: s.Mode}}
		}
		switch s.Mode {
		case ModeOpen:
			s.Mode = ModeLocked
			s.LockedPeer = ev.Peer
			s.Active = ev.Handle
			return s, []Effect{PersistBond{Peer: ev.Peer}, RequestFastParams{Conn: ev.Handle}}
		default:
			if s.LockedPeer != "" && ev.Peer != s.LockedPeer {
				return s, []Effect{Disconnect{Conn: ev.Handle}}
			}
			s.Active = ev.Handle
			return s, []Effect{RequestFastParams{Conn: ev.Handle}}
		}

	case ble.Disconnected:
		if ev.Handle == s.Active {
			s.Active = ble.NoConn
		}
		return s, []Effect{ClearSubscription{Conn: ev.Handle}, StartAdvertising{Mode: s.Mode}}

	case ble.Subscribed:
		// Only the admitted link may change the stream.
		if ev.Attr != s.BatchAttr || ev.Handle == ble.NoConn || ev.Handle != s.Active {
			return s, nil
		}
		// Counters restart before the gate can deliver, so the first batch is 0.
		var effects []Effect
		if ev.Notify {
			effects = append(effects, ResetCounters{})
		}
		effects = append(effects, SetSubscription{Conn: ev.Handle, Enabled: ev.Notify})
		return s, effects

	case ble.RepeatPairing:
		known := s.Active != ble.NoConn && ev.Handle == s.Active
		return s, []Effect{ReplyRepeatPairing{Reply: ev.Reply, Retry: known}}

	case FactoryReset:
		s.Mode = ModeOpen
		s.LockedPeer = ""
		if s.Active != ble.NoConn {
			// Advertising restarts when the Disconnected event arrives.
			return s, []Effect{DeleteBonds{}, Disconnect{Conn: s.Active}}
		}
		return s, []Effect{DeleteBonds{}, StartAdvertising{Mode: ModeOpen}}
	}
	return s, nil
}
