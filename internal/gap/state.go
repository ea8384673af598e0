// Package gap is the admission controller. It decides who may connect, locks the
// device to the first collector that does, and drives advertising.
//
// The decision logic is the pure function Transition; Controller owns the
// state and executes the effects Transition asks for.
package gap

import (
	"fmt"
	"time"

	"pulsera/internal/ble"
)

const (
	DefaultName = "Puls_1"
	// AppearanceWristWorn is the GAP appearance value of a generic watch, wrist worn.
	AppearanceWristWorn uint16 = 0x03C0

	AdvIntervalMin = 500 * time.Millisecond
	AdvIntervalMax = 510 * time.Millisecond
)

// FastConnParams are requested on every new link.
var FastConnParams = ble.ConnParams{
	IntervalMin:        7500 * time.Microsecond,
	IntervalMax:        15 * time.Millisecond,
	Latency:            0,
	SupervisionTimeout: time.Second,
}

// Mode is the admission mode.
type Mode int

const (
	// ModeOpen advertises discoverably and accepts any peer.
	ModeOpen Mode = iota
	// ModeLocked advertises to bonded peers only.
	ModeLocked
)

func (m Mode) String() string {
	switch m {
	case ModeOpen:
		return "unbonded_open"
	case ModeLocked:
		return "locked"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// State is the controller state. It is owned by the controller goroutine.
type State struct {
	Mode       Mode
	LockedPeer ble.Address
	Active     ble.ConnHandle
	// BatchAttr is the value handle of the batch characteristic.
	BatchAttr ble.AttrHandle
}

// InitialState returns the boot state. A device with stored bonds boots locked
// to the newest one.
func InitialState(batchAttr ble.AttrHandle, bonded []ble.Address) State {
	s := State{Mode: ModeOpen, Active: ble.NoConn, BatchAttr: batchAttr}
	if len(bonded) > 0 {
		s.Mode = ModeLocked
		s.LockedPeer = bonded[len(bonded)-1]
	}
	return s
}

// FactoryReset asks the controller to forget all bonds and unlock.
type FactoryReset struct{}

func (FactoryReset) EventName() string { return "factory_reset" }
