// Package reset turns a held button into a single factory-reset request.
package reset

import "time"

const (
	DefaultHold         = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultCooldown     = 2 * time.Second
)

type phase int

const (
	idle phase = iota
	holding
	fired
	cooldown
)

// Detector is a press-and-hold state machine fed with polled input levels.
// It fires once when the input has been asserted for Hold, waits for release,
// then ignores the input for Cooldown before re-arming. A release during the
// hold restarts it, which also filters contact bounce.
type Detector struct {
	Hold     time.Duration
	Cooldown time.Duration

	phase phase
	since time.Time
}

func NewDetector(hold, cooldown time.Duration) *Detector {
	return &Detector{Hold: hold, Cooldown: cooldown}
}

// Update feeds one observation and reports whether the reset fires now.
func (d *Detector) Update(now time.Time, pressed bool) bool {
	switch d.phase {
	case idle:
		if pressed {
			d.phase, d.since = holding, now
		}
	case holding:
		if !pressed {
			d.phase = idle
			return false
		}
		if now.Sub(d.since) >= d.Hold {
			d.phase = fired
			return true
		}
	case fired:
		if !pressed {
			d.phase, d.since = cooldown, now
		}
	case cooldown:
		if now.Sub(d.since) >= d.Cooldown {
			d.phase = idle
			if pressed {
				d.phase, d.since = holding, now
			}
		}
	}
	return false
}

// Armed reports whether a new press would start a hold.
func (d *Detector) Armed() bool {
	return d.phase == idle
}
