package reset

import (
	"context"
	"log/slog"
	"time"

	"pulsera/internal/clock"
)

// Input is a digital input; Pressed reports the asserted level.
type Input interface {
	Pressed() (bool, error)
}

// Trigger polls an Input and calls fire once per qualifying press.
type Trigger struct {
	input    Input
	detector *Detector
	poll     time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

func NewTrigger(in Input, d *Detector, poll time.Duration, c clock.Clock, logger *slog.Logger) *Trigger {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		input:    in,
		detector: d,
		poll:     poll,
		clock:    c,
		logger:   logger.With("component", "reset"),
	}
}

// Run polls until ctx is done.
func (t *Trigger) Run(ctx context.Context, fire func()) error {
	t.logger.Info("reset: watching input", "hold", t.detector.Hold, "poll", t.poll)
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Poll(fire)
		}
	}
}

// Poll samples the input once. Read errors count as released.
func (t *Trigger) Poll(fire func()) {
	pressed, err := t.input.Pressed()
	if err != nil {
		t.logger.Warn("reset: input read failed", "error", err)
		pressed = false
	}
	if t.detector.Update(t.clock.Now(), pressed) {
		t.logger.Warn("reset: button held, requesting factory reset")
		fire()
	}
}

// NoInput never asserts.
type NoInput struct{}

func (NoInput) Pressed() (bool, error) { return false, nil }
