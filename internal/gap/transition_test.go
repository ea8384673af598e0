package gap

import (
	"errors"
	"reflect"
	"testing"

	"pulsera/internal/ble"
)

const (
	batchAttr ble.AttrHandle = 3
	peerA     ble.Address    = "AA:AA:AA:AA:AA:01"
	peerB     ble.Address    = "BB:BB:BB:BB:BB:02"
)

func open() State {
	return State{Mode: ModeOpen, Active: ble.NoConn, BatchAttr: batchAttr}
}

func locked(active ble.ConnHandle) State {
	return State{Mode: ModeLocked, LockedPeer: peerA, Active: active, BatchAttr: batchAttr}
}

func TestTransition(t *testing.T) {
	reply := make(chan bool, 1)

	tests := []struct {
		name        string
		state       State
		event       ble.Event
		wantState   State
		wantEffects []Effect
	}{
		{
			name:        "sync while open advertises open",
			state:       open(),
			event:       ble.Synced{},
			wantState:   open(),
			wantEffects: []Effect{StartAdvertising{Mode: ModeOpen}},
		},
		{
			name:        "sync while locked advertises locked",
			state:       locked(ble.NoConn),
			event:       ble.Synced{},
			wantState:   locked(ble.NoConn),
			wantEffects: []Effect{StartAdvertising{Mode: ModeLocked}},
		},
		{
			name:        "first connection locks to peer",
			state:       open(),
			event:       ble.Connected{Handle: 1, Peer: peerA},
			wantState:   locked(1),
			wantEffects: []Effect{PersistBond{Peer: peerA}, RequestFastParams{Conn: 1}},
		},
		{
			name:        "failed connection while open re-advertises",
			state:       open(),
			event:       ble.Connected{Handle: ble.NoConn, Peer: peerA, Err: errors.New("timeout")},
			wantState:   open(),
			wantEffects: []Effect{StartAdvertising{Mode: ModeOpen}},
		},
		{
			name:        "failed connection while locked re-advertises locked",
			state:       locked(ble.NoConn),
			event:       ble.Connected{Handle: ble.NoConn, Peer: peerA, Err: errors.New("timeout")},
			wantState:   locked(ble.NoConn),
			wantEffects: []Effect{StartAdvertising{Mode: ModeLocked}},
		},
		{
			name:        "locked peer reconnects",
			state:       locked(ble.NoConn),
			event:       ble.Connected{Handle: 4, Peer: peerA},
			wantState:   locked(4),
			wantEffects: []Effect{RequestFastParams{Conn: 4}},
		},
		{
			name:        "foreign peer while locked is dropped",
			state:       locked(ble.NoConn),
			event:       ble.Connected{Handle: 5, Peer: peerB},
			wantState:   locked(ble.NoConn),
			wantEffects: []Effect{Disconnect{Conn: 5}},
		},
		{
			name:        "disconnect keeps lock",
			state:       locked(1),
			event:       ble.Disconnected{Handle: 1},
			wantState:   locked(ble.NoConn),
			wantEffects: []Effect{ClearSubscription{Conn: 1}, StartAdvertising{Mode: ModeLocked}},
		},
		{
			name:        "disconnect while open",
			state:       State{Mode: ModeOpen, Active: 2, BatchAttr: batchAttr},
			event:       ble.Disconnected{Handle: 2},
			wantState:   open(),
			wantEffects: []Effect{ClearSubscription{Conn: 2}, StartAdvertising{Mode: ModeOpen}},
		},
		{
			name:        "notify enable resets counters",
			state:       locked(1),
			event:       ble.Subscribed{Handle: 1, Attr: batchAttr, Notify: true},
			wantState:   locked(1),
			wantEffects: []Effect{ResetCounters{}, SetSubscription{Conn: 1, Enabled: true}},
		},
		{
			name:        "notify disable",
			state:       locked(1),
			event:       ble.Subscribed{Handle: 1, Attr: batchAttr, Notify: false},
			wantState:   locked(1),
			wantEffects: []Effect{SetSubscription{Conn: 1, Enabled: false}},
		},
		{
			name:      "subscribe to another attribute is ignored",
			state:     locked(1),
			event:     ble.Subscribed{Handle: 1, Attr: batchAttr + 1, Notify: true},
			wantState: locked(1),
		},
		{
			name:      "subscribe from a link other than the active one is ignored",
			state:     locked(1),
			event:     ble.Subscribed{Handle: 2, Attr: batchAttr, Notify: true},
			wantState: locked(1),
		},
		{
			name:      "unsubscribe from a stale link is ignored",
			state:     locked(3),
			event:     ble.Subscribed{Handle: 1, Attr: batchAttr, Notify: false},
			wantState: locked(3),
		},
		{
			name:      "subscribe with no active link is ignored",
			state:     open(),
			event:     ble.Subscribed{Handle: 1, Attr: batchAttr, Notify: true},
			wantState: open(),
		},
		{
			name:        "repeat pairing from known peer retries",
			state:       locked(1),
			event:       ble.RepeatPairing{Handle: 1, Peer: peerA, Reply: reply},
			wantState:   locked(1),
			wantEffects: []Effect{ReplyRepeatPairing{Reply: reply, Retry: true}},
		},
		{
			name:        "repeat pairing from unknown link is ignored",
			state:       locked(1),
			event:       ble.RepeatPairing{Handle: 9, Peer: peerB, Reply: reply},
			wantState:   locked(1),
			wantEffects: []Effect{ReplyRepeatPairing{Reply: reply, Retry: false}},
		},
		{
			name:        "factory reset while connected drops the link",
			state:       locked(1),
			event:       FactoryReset{},
			wantState:   State{Mode: ModeOpen, Active: 1, BatchAttr: batchAttr},
			wantEffects: []Effect{DeleteBonds{}, Disconnect{Conn: 1}},
		},
		{
			name:        "factory reset while idle advertises open",
			state:       locked(ble.NoConn),
			event:       FactoryReset{},
			wantState:   open(),
			wantEffects: []Effect{DeleteBonds{}, StartAdvertising{Mode: ModeOpen}},
		},
		{
			name:        "factory reset while open",
			state:       open(),
			event:       FactoryReset{},
			wantState:   open(),
			wantEffects: []Effect{DeleteBonds{}, StartAdvertising{Mode: ModeOpen}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotState, gotEffects := Transition(tt.state, tt.event)
			if gotState != tt.wantState {
				t.Errorf("state = %+v, want %+v", gotState, tt.wantState)
			}
			if !reflect.DeepEqual(gotEffects, tt.wantEffects) {
				t.Errorf("effects = %v, want %v", gotEffects, tt.wantEffects)
			}
		})
	}
}

func TestTransition_ResetThenDisconnectAdvertisesOpen(t *testing.T) {
	s, _ := Transition(locked(1), FactoryReset{})
	s, effects := Transition(s, ble.Disconnected{Handle: 1})
	if s != open() {
		t.Fatalf("state = %+v, want %+v", s, open())
	}
	want := []Effect{ClearSubscription{Conn: 1}, StartAdvertising{Mode: ModeOpen}}
	if !reflect.DeepEqual(effects, want) {
		t.Errorf("effects = %v, want %v", effects, want)
	}
}

func TestInitialState(t *testing.T) {
	if got := InitialState(batchAttr, nil); got != open() {
		t.Errorf("InitialState(no bonds) = %+v, want %+v", got, open())
	}
	got := InitialState(batchAttr, []ble.Address{peerB, peerA})
	if got.Mode != ModeLocked || got.LockedPeer != peerA || got.Active != ble.NoConn {
		t.Errorf("InitialState(bonds) = %+v, want locked to newest bond", got)
	}
}
