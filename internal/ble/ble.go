// Package ble is the boundary between the device logic and a BLE host stack.
//
// The admission controller and the notification gate only talk to the Stack
// interface. TinyGoStack drives a real adapter through tinygo.org/x/bluetooth;
// SimStack is an in-memory stack used by tests and by BLE_TRANSPORT=sim.
package ble

import (
	"errors"
	"time"
)

// Address is a peer address in its canonical string form (AA:BB:CC:DD:EE:FF).
type Address string

// Manufacturer data layout advertised by the device:
// [0:2] magic 0x01 0xD1, [2:4] appearance uint16 LE, [4] 1 when locked.
const (
	AdvCompanyID = 0xFFFF
	AdvMagic0    = 0x01
	AdvMagic1    = 0xD1
	AdvDataLen   = 5
)

// ConnHandle identifies a live connection.
type ConnHandle uint16

// NoConn is the invalid connection handle.
const NoConn ConnHandle = 0xFFFF

// AttrHandle identifies a GATT attribute value handle.
type AttrHandle uint16

var (
	// ErrNoConnection is returned when the handle does not refer to a live link.
	ErrNoConnection = errors.New("ble: no such connection")
	// ErrUnsupported is returned by stacks that cannot perform the operation.
	ErrUnsupported = errors.New("ble: operation not supported by host stack")
	// ErrNotStarted is returned when the stack is used before Start.
	ErrNotStarted = errors.New("ble: stack not started")
)

// CharacteristicDef describes one characteristic of a registered service.
type CharacteristicDef struct {
	UUID          uint16
	Read          bool
	ReadEncrypted bool
	Notify        bool
	// OnRead returns the current value served to read requests.
	OnRead func() []byte
}

// ServiceDef describes a primary service.
type ServiceDef struct {
	UUID            uint16
	Characteristics []CharacteristicDef
}

// AdvertiseParams configures one advertising run.
type AdvertiseParams struct {
	// Discoverable selects general discoverable mode; otherwise the device does not
	// announce its name and only whitelisted peers may connect.
	Discoverable bool
	// Filter restricts scan and connect requests to the whitelist.
	Filter      bool
	Name        string
	Appearance  uint16
	IntervalMin time.Duration
	IntervalMax time.Duration
}

// ConnParams are the link parameters requested after a connection.
type ConnParams struct {
	IntervalMin        time.Duration
	IntervalMax        time.Duration
	Latency            uint16
	SupervisionTimeout time.Duration
}

// Conn describes a live connection.
type Conn struct {
	Handle ConnHandle
	Peer   Address
}

// Stack is the host stack surface used by the device.
//
// Start delivers Synced once the stack is ready; afterwards every connection
// lifecycle event is passed to the handler. Handlers must not block.
type Stack interface {
	Start(handler func(Event)) error
	RegisterService(def ServiceDef) (map[uint16]AttrHandle, error)
	StartAdvertising(p AdvertiseParams) error
	StopAdvertising() error
	Notify(conn ConnHandle, attr AttrHandle, payload []byte) error
	LookupConnection(conn ConnHandle) (Conn, error)
	UpdateConnectionParams(conn ConnHandle, p ConnParams) error
	Disconnect(conn ConnHandle) error
	SetWhitelist(peers []Address) error
}

// BondStore persists the addresses of bonded peers.
type BondStore interface {
	Peers() ([]Address, error)
	Count() (int, error)
	Add(peer Address) error
	DeleteAll() error
}
