package ble

// Event is a host stack notification delivered to the Start handler.
type Event interface {
	EventName() string
}

// Synced reports that the host and controller are ready.
type Synced struct{}

// Connected reports the outcome of a connection attempt. Err is nil on success.
type Connected struct {
	Handle ConnHandle
	Peer   Address
	Err    error
}

// Disconnected reports a terminated link.
type Disconnected struct {
	Handle ConnHandle
	Reason string
}

// Subscribed reports a change of the client characteristic configuration of Attr.
type Subscribed struct {
	Handle ConnHandle
	Attr   AttrHandle
	Notify bool
}

// RepeatPairing reports a pairing request from a peer that already has a bond.
// The receiver answers on Reply with true to retry pairing, false to ignore it.
type RepeatPairing struct {
	Handle ConnHandle
	Peer   Address
	Reply  chan<- bool
}

func (Synced) EventName() string        { return "synced" }
func (Connected) EventName() string     { return "connected" }
func (Disconnected) EventName() string  { return "disconnected" }
func (Subscribed) EventName() string    { return "subscribed" }
func (RepeatPairing) EventName() string { return "repeat_pairing" }
