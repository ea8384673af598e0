// Package sampler runs the fixed-rate acquisition loop that feeds the batch
// assembler and hands completed batches to the notification gate.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pulsera/internal/accel"
	"pulsera/internal/clock"
	"pulsera/internal/gatt"
)

// DefaultRateHz is the sampling frequency.
const DefaultRateHz = 100

// Reader is the sensor side of the loop.
type Reader interface {
	Read() (accel.Sample, error)
}

// BatchSender takes completed batches off the assembler.
type BatchSender interface {
	SendBatch(src gatt.BatchSource) bool
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures a Sampler.
type Options struct {
	Source    Reader
	Assembler *accel.Assembler
	Gate      BatchSender
	Clock     clock.Clock
	RateHz    int
	// Sleep overrides the timer used between ticks.
	Sleep  SleepFunc
	Logger *slog.Logger
}

// Sampler takes one sample per period. Wake-ups are scheduled on absolute
// deadlines (previous deadline + period) so the rate does not drift with the
// time spent inside a tick.
type Sampler struct {
	src    Reader
	asm    *accel.Assembler
	gate   BatchSender
	clock  clock.Clock
	period time.Duration
	sleep  SleepFunc
	logger *slog.Logger

	readErrors uint64
	overruns   uint64
}

func New(opts Options) (*Sampler, error) {
	if opts.Source == nil || opts.Assembler == nil || opts.Gate == nil {
		return nil, fmt.Errorf("sampler: source, assembler and gate are required")
	}
	if opts.RateHz == 0 {
		opts.RateHz = DefaultRateHz
	}
	if opts.RateHz < 0 || opts.RateHz > 1000 {
		return nil, fmt.Errorf("sampler: invalid rate %d Hz", opts.RateHz)
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sampler{
		src:    opts.Source,
		asm:    opts.Assembler,
		gate:   opts.Gate,
		clock:  opts.Clock,
		period: time.Second / time.Duration(opts.RateHz),
		sleep:  opts.Sleep,
		logger: opts.Logger.With("component", "sampler"),
	}, nil
}

// Period is the sampling period.
func (s *Sampler) Period() time.Duration { return s.period }

// BatchPeriod is the time it takes to fill one batch.
func (s *Sampler) BatchPeriod() time.Duration { return s.period * accel.BatchSize }

// Run samples until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Info("sampler: started", "period", s.period, "batch_period", s.BatchPeriod())
	next := s.clock.Now()
	for {
		s.SampleAndStore()
		if s.asm.IsBatchReady() {
			s.gate.SendBatch(s.asm)
		}

		next = next.Add(s.period)
		d := next.Sub(s.clock.Now())
		if d < 0 {
			s.overruns++
			if s.overruns == 1 || s.overruns%100 == 0 {
				s.logger.Warn("sampler: deadline missed", "late", -d, "overruns", s.overruns)
			}
			d = 0
		}
		if err := s.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// SampleAndStore reads one sample and appends it to the current batch. A failed
// read repeats the last good sample so batches keep their fixed cadence.
func (s *Sampler) SampleAndStore() {
	v, err := s.src.Read()
	if err != nil {
		s.readErrors++
		if s.readErrors == 1 || s.readErrors%100 == 0 {
			s.logger.Warn("sampler: sensor read failed", "error", err, "count", s.readErrors)
		}
		v, _ = s.asm.LastSample()
	}
	s.asm.Store(v)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
