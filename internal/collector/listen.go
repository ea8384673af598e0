package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulsera/internal/clock"
	"pulsera/internal/registry"
)

// ErrAllDisconnected is returned by Listen once every link has dropped.
var ErrAllDisconnected = errors.New("all devices disconnected")

// StatusPublisher announces device presence. May be nil.
type StatusPublisher interface {
	PublishOnline(s *Session) error
	PublishOffline(s *Session) error
}

type Listener struct {
	Radio   Radio
	Handler *Handler
	Status  StatusPublisher
	Clock   clock.Clock
	Logger  *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// Sessions returns the sessions currently streaming, oldest first.
func (l *Listener) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Device.Address < out[j].Device.Address
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (l *Listener) track(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessions == nil {
		l.sessions = make(map[uuid.UUID]*Session)
	}
	l.sessions[s.ID] = s
}

func (l *Listener) untrack(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, s.ID)
}

// Register connects once to address so the wearable locks to this host,
// verifies the accelerometer characteristic and stores the device.
func (l *Listener) Register(ctx context.Context, reg *registry.Registry, address string, pos registry.Position) (registry.Device, error) {
	link, err := l.Radio.Connect(ctx, address)
	if err != nil {
		return registry.Device{}, fmt.Errorf("connect %s: %w", address, err)
	}
	defer func() {
		if err := link.Disconnect(); err != nil {
			l.logger().Warn("disconnect after register", "device", address, "error", err)
		}
	}()

	s, err := link.ReadSample()
	if err != nil {
		return registry.Device{}, fmt.Errorf("read sample from %s: %w", address, err)
	}
	l.logger().Info("device answered", "device", link.Address(), "x", s.X, "y", s.Y, "z", s.Z)

	return reg.Add(registry.Device{Address: link.Address(), Name: link.Name(), Position: pos})
}

// Listen subscribes to every device and forwards batches until ctx is done
// or all links have dropped. Devices that cannot be reached are skipped.
func (l *Listener) Listen(ctx context.Context, devices []registry.Device) error {
	if len(devices) == 0 {
		return errors.New("no devices registered")
	}
	logger := l.logger()
	c := l.Clock
	if c == nil {
		c = clock.System{}
	}

	type active struct {
		link    Link
		session *Session
	}
	var links []active
	for _, dev := range devices {
		link, err := l.Radio.Connect(ctx, dev.Address)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("device unreachable", "device", dev.Address, "position", dev.Position, "error", err)
			continue
		}
		s := NewSession(dev, c.Now())
		if err := link.Subscribe(func(p []byte) { _ = l.Handler.Handle(s, p) }); err != nil {
			logger.Warn("subscribe failed", "device", dev.Address, "error", err)
			_ = link.Disconnect()
			continue
		}
		logger.Info("listening", "device", dev.Address, "position", dev.Position, "session", s.ID)
		if l.Status != nil {
			if err := l.Status.PublishOnline(s); err != nil {
				logger.Warn("publish online status", "device", dev.Address, "error", err)
			}
		}
		l.track(s)
		links = append(links, active{link: link, session: s})
	}
	if len(links) == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.New("no registered device could be reached")
	}

	var wg sync.WaitGroup
	for _, a := range links {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-a.link.Done():
				logger.Warn("device disconnected", "device", a.session.Device.Address, "position", a.session.Device.Position)
			case <-ctx.Done():
				if err := a.link.Disconnect(); err != nil {
					logger.Warn("disconnect", "device", a.session.Device.Address, "error", err)
				}
			}
			l.untrack(a.session)
			if l.Status != nil {
				if err := l.Status.PublishOffline(a.session); err != nil {
					logger.Debug("publish offline status", "device", a.session.Device.Address, "error", err)
				}
			}
			st := a.session.Stats()
			logger.Info("session ended",
				"device", a.session.Device.Address,
				"session", a.session.ID,
				"duration", c.Now().Sub(a.session.StartedAt).Round(time.Second),
				"received", st.Received,
				"lost", st.Lost,
				"restarts", st.Restarts,
				"rejected", st.Rejected,
			)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrAllDisconnected
}

func (l *Listener) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
