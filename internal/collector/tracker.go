package collector

// Gap describes how a batch sequence id relates to the previous one.
type Gap struct {
	// Lost counts sequence ids skipped since the previous batch.
	Lost uint32
	// Restarted is set when the sequence went back, e.g. to 0 after a resubscribe.
	Restarted bool
	// Repeated is set when the same id arrived twice in a row.
	Repeated bool
}

// Tracker follows the batch sequence of one device. Not safe for concurrent use.
type Tracker struct {
	seen bool
	last uint32

	Received uint64
	Lost     uint64
	Restarts int
}

func (t *Tracker) Observe(seq uint32) Gap {
	t.Received++
	if !t.seen {
		t.seen = true
		t.last = seq
		return Gap{}
	}

	prev := t.last
	t.last = seq
	switch {
	case seq == prev+1:
		return Gap{}
	case seq == prev:
		return Gap{Repeated: true}
	case seq < prev:
		t.Restarts++
		return Gap{Restarted: true}
	default:
		lost := seq - prev - 1
		t.Lost += uint64(lost)
		return Gap{Lost: lost}
	}
}

// Last returns the most recent sequence id, false before the first batch.
func (t *Tracker) Last() (uint32, bool) {
	return t.last, t.seen
}
