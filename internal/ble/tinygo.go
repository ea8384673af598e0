//go:build linux || tinygo

package ble

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoStack adapts a tinygo.org/x/bluetooth adapter to Stack.
//
// The library exposes neither a controller whitelist nor CCCD writes, so the
// whitelist is enforced when a connection comes in, and a notify subscription
// is reported for every notifiable characteristic as soon as a peer connects.
// Reads return the last notified value.
type TinyGoStack struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	logger  *slog.Logger

	mu          sync.Mutex
	handler     func(Event)
	services    []bluetooth.UUID
	chars       map[AttrHandle]*bluetooth.Characteristic
	notifyAttrs []AttrHandle
	nextAttr    AttrHandle
	devices     map[ConnHandle]bluetooth.Device
	handles     map[string]ConnHandle
	nextConn    ConnHandle
	filter      bool
	whitelist   map[Address]bool
	configured  *AdvertiseParams
}

// NewTinyGoStack wraps adapter. The adapter is enabled by Start.
func NewTinyGoStack(adapter *bluetooth.Adapter, logger *slog.Logger) *TinyGoStack {
	if logger == nil {
		logger = slog.Default()
	}
	return &TinyGoStack{
		adapter:   adapter,
		logger:    logger.With("component", "ble"),
		chars:     make(map[AttrHandle]*bluetooth.Characteristic),
		nextAttr:  1,
		devices:   make(map[ConnHandle]bluetooth.Device),
		handles:   make(map[string]ConnHandle),
		whitelist: make(map[Address]bool),
	}
}

func (s *TinyGoStack) Start(handler func(Event)) error {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()

	s.adapter.SetConnectHandler(s.onConnect)

	s.logger.Info("ble: enabling adapter")
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable: %w", err)
	}
	s.adv = s.adapter.DefaultAdvertisement()
	s.logger.Info("ble: adapter enabled")

	handler(Synced{})
	return nil
}

func (s *TinyGoStack) RegisterService(def ServiceDef) (map[uint16]AttrHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uint16]AttrHandle, len(def.Characteristics))
	handles := make([]bluetooth.Characteristic, len(def.Characteristics))
	cfgs := make([]bluetooth.CharacteristicConfig, 0, len(def.Characteristics))
	for i, c := range def.Characteristics {
		var flags bluetooth.CharacteristicPermissions
		if c.Read || c.ReadEncrypted {
			flags |= bluetooth.CharacteristicReadPermission
		}
		if c.Notify {
			flags |= bluetooth.CharacteristicNotifyPermission
		}
		var value []byte
		if c.OnRead != nil {
			value = c.OnRead()
		}
		cfgs = append(cfgs, bluetooth.CharacteristicConfig{
			Handle: &handles[i],
			UUID:   bluetooth.New16BitUUID(c.UUID),
			Value:  value,
			Flags:  flags,
		})
		h := s.nextAttr
		s.nextAttr++
		s.chars[h] = &handles[i]
		if c.Notify {
			s.notifyAttrs = append(s.notifyAttrs, h)
		}
		out[c.UUID] = h
	}

	uuid := bluetooth.New16BitUUID(def.UUID)
	if err := s.adapter.AddService(&bluetooth.Service{UUID: uuid, Characteristics: cfgs}); err != nil {
		return nil, fmt.Errorf("ble add service 0x%04X: %w", def.UUID, err)
	}
	s.services = append(s.services, uuid)
	return out, nil
}

func (s *TinyGoStack) StartAdvertising(p AdvertiseParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adv == nil {
		return ErrNotStarted
	}

	s.filter = p.Filter
	if s.configured == nil || *s.configured != p {
		if err := s.adv.Configure(s.advertisementOptions(p)); err != nil {
			return fmt.Errorf("ble adv configure: %w", err)
		}
		cp := p
		s.configured = &cp
	}
	if err := s.adv.Start(); err != nil {
		return fmt.Errorf("ble adv start: %w", err)
	}
	return nil
}

func (s *TinyGoStack) advertisementOptions(p AdvertiseParams) bluetooth.AdvertisementOptions {
	data := make([]byte, AdvDataLen)
	data[0], data[1] = AdvMagic0, AdvMagic1
	binary.LittleEndian.PutUint16(data[2:4], p.Appearance)
	if !p.Discoverable {
		data[4] = 1
	}
	opts := bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeInd,
		ServiceUUIDs:      append([]bluetooth.UUID(nil), s.services...),
		Interval:          bluetooth.NewDuration(p.IntervalMin),
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: AdvCompanyID, Data: data},
		},
	}
	if p.Discoverable {
		opts.LocalName = p.Name
	}
	return opts
}

func (s *TinyGoStack) StopAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adv == nil {
		return ErrNotStarted
	}
	return s.adv.Stop()
}

func (s *TinyGoStack) Notify(conn ConnHandle, attr AttrHandle, payload []byte) error {
	s.mu.Lock()
	_, live := s.devices[conn]
	ch := s.chars[attr]
	s.mu.Unlock()
	if !live {
		return ErrNoConnection
	}
	if ch == nil {
		return fmt.Errorf("ble: unknown attribute %d", attr)
	}
	if _, err := ch.Write(payload); err != nil {
		return fmt.Errorf("ble notify: %w", err)
	}
	return nil
}

func (s *TinyGoStack) LookupConnection(conn ConnHandle) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[conn]
	if !ok {
		return Conn{}, ErrNoConnection
	}
	return Conn{Handle: conn, Peer: Address(d.Address.String())}, nil
}

// UpdateConnectionParams is not exposed by the library on the peripheral side.
func (s *TinyGoStack) UpdateConnectionParams(conn ConnHandle, _ ConnParams) error {
	if _, err := s.LookupConnection(conn); err != nil {
		return err
	}
	return ErrUnsupported
}

func (s *TinyGoStack) Disconnect(conn ConnHandle) error {
	s.mu.Lock()
	d, ok := s.devices[conn]
	s.mu.Unlock()
	if !ok {
		return ErrNoConnection
	}
	if err := d.Disconnect(); err != nil {
		return fmt.Errorf("ble disconnect: %w", err)
	}
	return nil
}

func (s *TinyGoStack) SetWhitelist(peers []Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelist = make(map[Address]bool, len(peers))
	for _, p := range peers {
		s.whitelist[p] = true
	}
	return nil
}

func (s *TinyGoStack) onConnect(device bluetooth.Device, connected bool) {
	addr := device.Address.String()
	peer := Address(addr)

	s.mu.Lock()
	handler := s.handler
	if !connected {
		h, ok := s.handles[addr]
		if ok {
			delete(s.handles, addr)
			delete(s.devices, h)
		}
		s.mu.Unlock()
		if ok && handler != nil {
			handler(Disconnected{Handle: h, Reason: "link terminated"})
		}
		return
	}

	if s.filter && !s.whitelist[peer] {
		s.mu.Unlock()
		s.logger.Warn("ble: rejecting peer outside whitelist", "peer", addr)
		if err := device.Disconnect(); err != nil {
			s.logger.Warn("ble: reject disconnect failed", "peer", addr, "error", err)
		}
		return
	}

	h := s.nextConn
	s.nextConn++
	if s.nextConn == NoConn {
		s.nextConn = 0
	}
	s.devices[h] = device
	s.handles[addr] = h
	attrs := append([]AttrHandle(nil), s.notifyAttrs...)
	s.mu.Unlock()

	if handler == nil {
		return
	}
	handler(Connected{Handle: h, Peer: peer})
	for _, a := range attrs {
		handler(Subscribed{Handle: h, Attr: a, Notify: true})
	}
}
