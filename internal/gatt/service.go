// Package gatt defines the accelerometer GATT service and the notification gate
// that moves completed batches from the sampler to the host stack.
package gatt

import (
	"sync"

	"pulsera/internal/accel"
	"pulsera/internal/ble"
)

const (
	ServiceUUID   uint16 = 0x00FF
	AccelCharUUID uint16 = 0xFF01

	// PreferredMTU fits a full batch notification in one ATT packet.
	PreferredMTU = 256
)

// SampleSource serves the most recent sample for characteristic reads.
type SampleSource interface {
	LastSample() (accel.Sample, bool)
}

// AccelService returns the service definition. Reads return the latest sample
// (zeros before the first one); notifications carry batches.
func AccelService(src SampleSource) ble.ServiceDef {
	return ble.ServiceDef{
		UUID: ServiceUUID,
		Characteristics: []ble.CharacteristicDef{{
			UUID:          AccelCharUUID,
			Read:          true,
			ReadEncrypted: true,
			Notify:        true,
			OnRead: func() []byte {
				s, _ := src.LastSample()
				return accel.AppendSample(make([]byte, 0, accel.SampleWireSize), s)
			},
		}},
	}
}

// Subscription tracks which connection has notifications enabled on the batch
// characteristic. Written by the admission controller, read by the gate.
//
// Every Set, every effective Clear and every counter reset made through
// Resetter starts a new generation. After such a reset the gate takes no batch
// until the next Set or Clear, so the first batch taken for a new subscriber is
// the first one assembled after the reset.
type Subscription struct {
	mu      sync.Mutex
	conn    ble.ConnHandle
	enabled bool
	gen     uint64
	held    bool
}

// subState is one consistent view of a Subscription.
type subState struct {
	conn    ble.ConnHandle
	enabled bool
	gen     uint64
	held    bool
}

func NewSubscription() *Subscription {
	return &Subscription{conn: ble.NoConn}
}

// Set records the subscription state of conn.
func (s *Subscription) Set(conn ble.ConnHandle, enabled bool) {
	s.mu.Lock()
	s.conn = conn
	s.enabled = enabled
	s.gen++
	s.held = false
	s.mu.Unlock()
}

// Clear drops the subscription if it belongs to conn.
func (s *Subscription) Clear(conn ble.ConnHandle) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = ble.NoConn
		s.enabled = false
		s.gen++
		s.held = false
	}
	s.mu.Unlock()
}

// Snapshot returns the subscribed connection and whether notifications are on.
func (s *Subscription) Snapshot() (ble.ConnHandle, bool) {
	st := s.state()
	return st.conn, st.enabled
}

func (s *Subscription) state() subState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Subscription) stateLocked() subState {
	return subState{
		conn:    s.conn,
		enabled: s.enabled && s.conn != ble.NoConn,
		gen:     s.gen,
		held:    s.held,
	}
}

// CounterResetter restarts batch numbering.
type CounterResetter interface {
	ResetCounters()
}

// Resetter wraps r so that its resets are ordered against batch takes. The
// admission controller resets through it in place of r.
func (s *Subscription) Resetter(r CounterResetter) CounterResetter {
	return subResetter{sub: s, r: r}
}

type subResetter struct {
	sub *Subscription
	r   CounterResetter
}

func (x subResetter) ResetCounters() {
	x.sub.mu.Lock()
	defer x.sub.mu.Unlock()
	x.r.ResetCounters()
	x.sub.gen++
	x.sub.held = true
}
