package ble

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrFiltered is returned by SimStack.Connect when the whitelist rejects the peer.
var ErrFiltered = errors.New("ble: peer rejected by whitelist")

// ErrNotAdvertising is returned by SimStack.Connect when the device is not connectable.
var ErrNotAdvertising = errors.New("ble: not advertising")

// simNotifyHistory bounds the recorded notifications of a long-running SimStack.
const simNotifyHistory = 256

// Notification is one notification recorded by SimStack.
type Notification struct {
	Conn    ConnHandle
	Attr    AttrHandle
	Payload []byte
}

// SimStack is an in-memory host stack. It enforces the whitelist the way a
// controller link layer would and records every outbound operation.
//
// Events are delivered synchronously on the goroutine that caused them, without
// SimStack's lock held.
type SimStack struct {
	mu       sync.Mutex
	handler  func(Event)
	nextAttr AttrHandle
	nextConn ConnHandle
	chars    map[AttrHandle]CharacteristicDef
	conns    map[ConnHandle]Address

	advertising bool
	adv         AdvertiseParams
	advHistory  []AdvertiseParams
	whitelist   []Address

	notifications []Notification
	notifyCount   int
	paramUpdates  []ConnHandle
	disconnects   []ConnHandle

	// NotifyErr, when set, is returned by Notify after recording the attempt.
	NotifyErr error
	// ParamsErr, when set, is returned by UpdateConnectionParams.
	ParamsErr error
}

func NewSimStack() *SimStack {
	return &SimStack{
		nextAttr: 1,
		chars:    make(map[AttrHandle]CharacteristicDef),
		conns:    make(map[ConnHandle]Address),
	}
}

func (s *SimStack) Start(handler func(Event)) error {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
	s.emit(Synced{})
	return nil
}

func (s *SimStack) RegisterService(def ServiceDef) (map[uint16]AttrHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint16]AttrHandle, len(def.Characteristics))
	for _, c := range def.Characteristics {
		h := s.nextAttr
		s.nextAttr++
		s.chars[h] = c
		out[c.UUID] = h
	}
	return out, nil
}

func (s *SimStack) StartAdvertising(p AdvertiseParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return ErrNotStarted
	}
	s.advertising = true
	s.adv = p
	s.advHistory = append(s.advHistory, p)
	return nil
}

func (s *SimStack) StopAdvertising() error {
	s.mu.Lock()
	s.advertising = false
	s.mu.Unlock()
	return nil
}

func (s *SimStack) Notify(conn ConnHandle, attr AttrHandle, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; !ok {
		return ErrNoConnection
	}
	c, ok := s.chars[attr]
	if !ok || !c.Notify {
		return fmt.Errorf("ble: attribute %d is not notifiable", attr)
	}
	s.notifyCount++
	s.notifications = append(s.notifications, Notification{
		Conn:    conn,
		Attr:    attr,
		Payload: append([]byte(nil), payload...),
	})
	if n := len(s.notifications); n > simNotifyHistory {
		s.notifications = append(s.notifications[:0], s.notifications[n-simNotifyHistory:]...)
	}
	return s.NotifyErr
}

func (s *SimStack) LookupConnection(conn ConnHandle) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.conns[conn]
	if !ok {
		return Conn{}, ErrNoConnection
	}
	return Conn{Handle: conn, Peer: peer}, nil
}

func (s *SimStack) UpdateConnectionParams(conn ConnHandle, _ ConnParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; !ok {
		return ErrNoConnection
	}
	s.paramUpdates = append(s.paramUpdates, conn)
	return s.ParamsErr
}

// Disconnect terminates a link from the device side and reports Disconnected.
func (s *SimStack) Disconnect(conn ConnHandle) error {
	s.mu.Lock()
	if _, ok := s.conns[conn]; !ok {
		s.mu.Unlock()
		return ErrNoConnection
	}
	delete(s.conns, conn)
	s.disconnects = append(s.disconnects, conn)
	s.mu.Unlock()

	s.emit(Disconnected{Handle: conn, Reason: "local host terminated connection"})
	return nil
}

func (s *SimStack) SetWhitelist(peers []Address) error {
	s.mu.Lock()
	s.whitelist = append([]Address(nil), peers...)
	s.mu.Unlock()
	return nil
}

// Connect simulates a central connecting to the device. Advertising stops on a
// successful connection.
func (s *SimStack) Connect(peer Address) (ConnHandle, error) {
	s.mu.Lock()
	if !s.advertising {
		s.mu.Unlock()
		return NoConn, ErrNotAdvertising
	}
	if s.adv.Filter && !containsAddr(s.whitelist, peer) {
		s.mu.Unlock()
		return NoConn, ErrFiltered
	}
	h := s.nextConn
	s.nextConn++
	s.conns[h] = peer
	s.advertising = false
	s.mu.Unlock()

	s.emit(Connected{Handle: h, Peer: peer})
	return h, nil
}

// FailConnect reports a connection attempt that failed before a link existed.
func (s *SimStack) FailConnect(peer Address, err error) {
	s.mu.Lock()
	s.advertising = false
	s.mu.Unlock()
	s.emit(Connected{Handle: NoConn, Peer: peer, Err: err})
}

// PeerDisconnect simulates the central dropping the link.
func (s *SimStack) PeerDisconnect(conn ConnHandle, reason string) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.emit(Disconnected{Handle: conn, Reason: reason})
}

// Subscribe simulates a CCCD write by the central.
func (s *SimStack) Subscribe(conn ConnHandle, attr AttrHandle, notify bool) {
	s.emit(Subscribed{Handle: conn, Attr: attr, Notify: notify})
}

// RepeatPair simulates a pairing request from a peer that is already bonded and
// waits up to timeout for the answer. answered is false on timeout.
func (s *SimStack) RepeatPair(conn ConnHandle, timeout time.Duration) (retry, answered bool) {
	s.mu.Lock()
	peer := s.conns[conn]
	s.mu.Unlock()

	reply := make(chan bool, 1)
	s.emit(RepeatPairing{Handle: conn, Peer: peer, Reply: reply})
	select {
	case r := <-reply:
		return r, true
	case <-time.After(timeout):
		return false, false
	}
}

// Read serves a read request on attr.
func (s *SimStack) Read(attr AttrHandle) ([]byte, error) {
	s.mu.Lock()
	c, ok := s.chars[attr]
	s.mu.Unlock()
	if !ok || !c.Read || c.OnRead == nil {
		return nil, fmt.Errorf("ble: attribute %d is not readable", attr)
	}
	return c.OnRead(), nil
}

// Advertising returns the current advertising parameters, if advertising.
func (s *SimStack) Advertising() (AdvertiseParams, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adv, s.advertising
}

func (s *SimStack) AdvertisingHistory() []AdvertiseParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AdvertiseParams(nil), s.advHistory...)
}

func (s *SimStack) Whitelist() []Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Address(nil), s.whitelist...)
}

func (s *SimStack) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

// NotifyCount is the number of notifications recorded since creation,
// including those trimmed from Notifications.
func (s *SimStack) NotifyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyCount
}

func (s *SimStack) ParamUpdates() []ConnHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConnHandle(nil), s.paramUpdates...)
}

// Disconnects returns the handles terminated by the device.
func (s *SimStack) Disconnects() []ConnHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConnHandle(nil), s.disconnects...)
}

func (s *SimStack) Connections() []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conn, 0, len(s.conns))
	for h, p := range s.conns {
		out = append(out, Conn{Handle: h, Peer: p})
	}
	return out
}

func (s *SimStack) emit(e Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(e)
	}
}

func containsAddr(list []Address, a Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}
