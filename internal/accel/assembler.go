package accel

import (
	"sync"
	"time"

	"pulsera/internal/clock"
)

// Assembler accumulates samples into the in-progress batch.
//
// It is written by the sampler goroutine (Store, GetBatch) and by the event loop
// (ResetCounters on subscription), and read by GATT reads (LastSample), so every
// method takes the lock. A batch handed out by GetBatch is a copy; the sampler
// never writes into a batch that is being sent.
type Assembler struct {
	clock clock.Clock

	mu      sync.Mutex
	epoch   time.Time
	nextSeq uint32
	count   int
	current Batch
	last    Sample
	hasLast bool
}

// NewAssembler returns an assembler whose timestamp epoch is the clock's current time.
func NewAssembler(c clock.Clock) *Assembler {
	if c == nil {
		c = clock.System{}
	}
	return &Assembler{clock: c, epoch: c.Now()}
}

// Store appends one sample to the current batch. The first sample of a batch stamps
// the batch with the pending sequence id and the elapsed time since the last reset.
//
// If the previous batch was completed but never taken it is discarded and its
// sequence id reused, so ids stay contiguous across delivered batches.
func (a *Assembler) Store(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count == BatchSize {
		a.count = 0
	}
	if a.count == 0 {
		a.current.SequenceID = a.nextSeq
		a.current.TimestampStartMS = a.elapsedMS()
	}
	a.current.Samples[a.count] = s
	a.count++
	a.last = s
	a.hasLast = true
}

// IsBatchReady reports whether BatchSize samples were stored since the last GetBatch.
func (a *Assembler) IsBatchReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count == BatchSize
}

// GetBatch returns the completed batch and starts the next one. It returns false,
// and changes nothing, if the batch is not complete yet.
func (a *Assembler) GetBatch() (Batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count != BatchSize {
		return Batch{}, false
	}
	b := a.current
	a.count = 0
	a.nextSeq++
	return b, true
}

// ResetCounters restarts sequence numbering at 0, drops the in-progress batch and
// rebases the timestamp epoch to now.
func (a *Assembler) ResetCounters() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSeq = 0
	a.count = 0
	a.epoch = a.clock.Now()
}

// LastSample returns the most recently stored sample.
func (a *Assembler) LastSample() (Sample, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.hasLast
}

// Pending returns the number of samples in the in-progress batch.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func (a *Assembler) elapsedMS() uint32 {
	d := a.clock.Now().Sub(a.epoch)
	if d < 0 {
		return 0
	}
	return uint32(d.Milliseconds())
}
