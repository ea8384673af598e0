// Package sensor provides accelerometer sources: a deterministic simulator and
// drivers for the MPU9250 (SPI) and ADXL345 (I2C).
package sensor

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"pulsera/internal/accel"
)

// Source produces one raw acceleration sample per Read.
type Source interface {
	Read() (accel.Sample, error)
	Close() error
}

// OneG is the simulated gravity reading in counts (±2 g full scale, 16-bit).
const OneG = 16384

// Simulated synthesizes a wrist-like motion: slow sinusoids on X and Y, gravity
// on Z, plus seeded noise. The same seed and rate give the same sequence.
type Simulated struct {
	mu    sync.Mutex
	rng   *rand.Rand
	step  time.Duration
	t     time.Duration
	noise float64
}

// NewSimulated returns a simulator advancing by 1/rateHz per Read.
func NewSimulated(seed int64, rateHz int) (*Simulated, error) {
	if rateHz <= 0 {
		return nil, fmt.Errorf("sensor: invalid rate %d Hz", rateHz)
	}
	return &Simulated{
		rng:   rand.New(rand.NewSource(seed)),
		step:  time.Second / time.Duration(rateHz),
		noise: 120,
	}, nil
}

func (s *Simulated) Read() (accel.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.t.Seconds()
	s.t += s.step

	x := 4000*math.Sin(2*math.Pi*1.2*sec) + s.rng.NormFloat64()*s.noise
	y := 2500*math.Sin(2*math.Pi*0.7*sec+0.5) + s.rng.NormFloat64()*s.noise
	z := OneG + 800*math.Cos(2*math.Pi*1.2*sec) + s.rng.NormFloat64()*s.noise
	return accel.Sample{X: clamp16(x), Y: clamp16(y), Z: clamp16(z)}, nil
}

func (s *Simulated) Close() error { return nil }

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(v))
	}
}
