//go:build linux && !tinygo

package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"pulsera/internal/accel"
	"pulsera/internal/ble"
	"pulsera/internal/gatt"
	"pulsera/internal/registry"
	"pulsera/internal/utils"
)

// Central drives a BlueZ adapter in the central role.
type Central struct {
	adapter     *bluetooth.Adapter
	adapterID   string
	scanTimeout time.Duration
	logger      *slog.Logger

	enableOnce sync.Once
	enableErr  error

	mu    sync.Mutex
	seen  map[string]seenDevice
	links map[string]*centralLink
}

type seenDevice struct {
	addr bluetooth.Address
	name string
}

var _ Radio = (*Central)(nil)

// NewCentral opens the named adapter (e.g. "hci0"). scanTimeout bounds the
// implicit scan Connect runs for addresses not seen yet.
func NewCentral(adapterID string, scanTimeout time.Duration, logger *slog.Logger) *Central {
	if adapterID == "" {
		adapterID = "hci0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Central{
		adapter:     bluetooth.NewAdapter(adapterID),
		adapterID:   adapterID,
		scanTimeout: scanTimeout,
		logger:      logger.With("component", "central"),
		seen:        make(map[string]seenDevice),
		links:       make(map[string]*centralLink),
	}
}

func (c *Central) enable() error {
	c.enableOnce.Do(func() {
		c.adapter.SetConnectHandler(c.onConnect)
		c.logger.Info("ble: enabling adapter", "adapter", c.adapterID)
		if err := c.adapter.Enable(); err != nil {
			c.enableErr = fmt.Errorf("ble enable (%s): %w", c.adapterID, err)
		}
	})
	return c.enableErr
}

func (c *Central) onConnect(d bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := registry.NormalizeAddress(d.Address.String())
	c.mu.Lock()
	l := c.links[addr]
	delete(c.links, addr)
	c.mu.Unlock()
	if l != nil {
		l.markDown()
	}
}

// Scan collects marker-carrying adverts until timeout or ctx is done.
func (c *Central) Scan(ctx context.Context, timeout time.Duration) ([]Advert, error) {
	var (
		mu    sync.Mutex
		found []Advert
		index = make(map[string]int)
	)
	err := c.scan(ctx, timeout, func(a Advert) bool {
		mu.Lock()
		defer mu.Unlock()
		if i, ok := index[a.Address]; ok {
			found[i] = a
			return false
		}
		index[a.Address] = len(found)
		found = append(found, a)
		return false
	})
	return found, err
}

// scan runs until timeout, ctx, or onMatch returning true.
func (c *Central) scan(ctx context.Context, timeout time.Duration, onMatch func(Advert) bool) error {
	if err := c.enable(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = c.adapter.StopScan()
	}()

	c.logger.Debug("ble: scanning started",
		"timeout", timeout,
		"filter_company", utils.Hex4(ble.AdvCompanyID),
		"filter_prefix", utils.BytesToHex([]byte{ble.AdvMagic0, ble.AdvMagic1}),
	)

	err := c.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		adv := Advert{
			Address: registry.NormalizeAddress(r.Address.String()),
			Name:    r.LocalName(),
			RSSI:    r.RSSI,
			SeenAt:  time.Now(),
		}
		var mfr []ManufacturerData
		for _, md := range r.ManufacturerData() {
			mfr = append(mfr, ManufacturerData{CompanyID: md.CompanyID, Data: md.Data})
		}
		if !MatchAdvert(&adv, mfr) {
			return
		}

		c.mu.Lock()
		c.seen[adv.Address] = seenDevice{addr: r.Address, name: adv.Name}
		c.mu.Unlock()

		if onMatch(adv) {
			_ = a.StopScan()
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble scan: %w", err)
	}
	// A scan cut short by its own timeout is a normal end.
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return nil
}

func (c *Central) lookup(ctx context.Context, address string) (seenDevice, error) {
	c.mu.Lock()
	d, ok := c.seen[address]
	c.mu.Unlock()
	if ok {
		return d, nil
	}
	err := c.scan(ctx, c.scanTimeout, func(a Advert) bool { return a.Address == address })
	if err != nil {
		return seenDevice{}, err
	}
	c.mu.Lock()
	d, ok = c.seen[address]
	c.mu.Unlock()
	if !ok {
		return seenDevice{}, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	return d, nil
}

func (c *Central) Connect(ctx context.Context, address string) (Link, error) {
	address = registry.NormalizeAddress(address)
	sd, err := c.lookup(ctx, address)
	if err != nil {
		return nil, err
	}

	c.logger.Info("ble: connecting", "device", address, "name", sd.name)
	dev, err := c.adapter.Connect(sd.addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("ble connect: %w", err)
	}

	char, err := discoverAccel(dev)
	if err != nil {
		_ = dev.Disconnect()
		return nil, err
	}

	l := &centralLink{address: address, name: sd.name, dev: dev, char: char, done: make(chan struct{})}
	c.mu.Lock()
	c.links[address] = l
	c.mu.Unlock()
	c.logger.Info("ble: connected", "device", address)
	return l, nil
}

func discoverAccel(dev bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	svcUUID := bluetooth.New16BitUUID(gatt.ServiceUUID)
	charUUID := bluetooth.New16BitUUID(gatt.AccelCharUUID)

	services, err := dev.DiscoverServices(nil)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover services: %w", err)
	}
	for i := range services {
		if services[i].UUID() != svcUUID {
			continue
		}
		chars, err := services[i].DiscoverCharacteristics(nil)
		if err != nil {
			return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover characteristics: %w", err)
		}
		for j := range chars {
			if chars[j].UUID() == charUUID {
				return chars[j], nil
			}
		}
	}
	return bluetooth.DeviceCharacteristic{}, ErrServiceMissing
}

type centralLink struct {
	address string
	name    string
	dev     bluetooth.Device
	char    bluetooth.DeviceCharacteristic

	downOnce sync.Once
	done     chan struct{}
}

func (l *centralLink) Address() string       { return l.address }
func (l *centralLink) Name() string          { return l.name }
func (l *centralLink) Done() <-chan struct{} { return l.done }

func (l *centralLink) markDown() {
	l.downOnce.Do(func() { close(l.done) })
}

func (l *centralLink) Subscribe(fn func([]byte)) error {
	return l.char.EnableNotifications(func(buf []byte) {
		fn(append([]byte(nil), buf...))
	})
}

func (l *centralLink) ReadSample() (accel.Sample, error) {
	buf := make([]byte, gatt.PreferredMTU)
	n, err := l.char.Read(buf)
	if err != nil {
		return accel.Sample{}, err
	}
	return SampleFromRead(buf[:n])
}

func (l *centralLink) Disconnect() error {
	err := l.dev.Disconnect()
	l.markDown()
	return err
}
