package rtp

import (
	"github.com/lanikai/rtspsource/internal/media"
)

// Verdict classifies a packet by its sequence number relative to the last
// accepted packet of the stream.
type Verdict int

const (
	// First packet since the tracker was reset.
	Initial Verdict = iota

	// Exactly one past the last accepted packet.
	Contiguous

	// Ahead of the last accepted packet, with packets missing in between.
	Skipped

	// At or behind the last accepted packet. Discarded.
	RolledBack
)

func (v Verdict) String() string {
	switch v {
	case Initial:
		return "initial"
	case Contiguous:
		return "contiguous"
	case Skipped:
		return "skipped"
	case RolledBack:
		return "rolled back"
	}
	return "invalid"
}

// Accepted reports whether a packet with this verdict is passed on for
// reassembly.
func (v Verdict) Accepted() bool {
	return v != RolledBack
}

// Position locates an accepted packet on the stream's presentation timeline.
type Position struct {
	// RTP clock ticks since the first packet after the last reset.
	Ticks uint64

	// Ticks scaled to media.TimeBase.
	Time media.SampleTime

	// Set on the first packet after a reset and after lost packets.
	Discontinuity bool
}

// TrackerStats counts packets by verdict.
type TrackerStats struct {
	Initial    uint64
	Contiguous uint64
	Skipped    uint64
	RolledBack uint64
}

// Tracker follows the sequence numbers and timestamps of one RTP stream and
// accumulates a presentation clock that survives 32-bit timestamp wraparound.
// A Tracker is not safe for concurrent use.
type Tracker struct {
	ClockRate uint32

	started bool
	lastSeq uint16
	lastTS  uint32
	ticks   uint64

	stats TrackerStats
}

func NewTracker(clockRate uint32) *Tracker {
	return &Tracker{ClockRate: clockRate}
}

// Update classifies the packet with the given sequence number and timestamp.
// Unless the verdict is RolledBack, the tracker advances to the packet and the
// returned Position is valid. A rolled back packet leaves the tracker
// unchanged.
func (t *Tracker) Update(seq uint16, ts uint32) (Position, Verdict) {
	if !t.started {
		t.started = true
		t.lastSeq = seq
		t.lastTS = ts
		t.ticks = 0
		t.stats.Initial++
		return Position{Discontinuity: true}, Initial
	}

	v := t.classify(seq, ts)
	switch v {
	case Contiguous:
		t.stats.Contiguous++
	case Skipped:
		t.stats.Skipped++
	case RolledBack:
		t.stats.RolledBack++
		return Position{}, v
	}

	// Unsigned subtraction accumulates across timestamp wraparound.
	t.ticks += uint64(ts - t.lastTS)
	t.lastSeq = seq
	t.lastTS = ts
	return Position{
		Ticks:         t.ticks,
		Time:          media.ToSampleTime(t.ticks, t.ClockRate),
		Discontinuity: v != Contiguous,
	}, v
}

func (t *Tracker) classify(seq uint16, ts uint32) Verdict {
	if t.lastSeq == 0xffff {
		switch {
		case seq == 0:
			return Contiguous
		case ts >= t.lastTS:
			return Skipped
		default:
			return RolledBack
		}
	}

	switch {
	case seq == t.lastSeq+1:
		return Contiguous
	case seq > t.lastSeq+1:
		return Skipped
	default:
		return RolledBack
	}
}

// Reset forgets all tracking state. The next packet is treated as the first.
func (t *Tracker) Reset() {
	t.started = false
	t.lastSeq = 0
	t.lastTS = 0
	t.ticks = 0
}

// Stats returns counts of the verdicts handed out since the tracker was
// created. Reset does not clear them.
func (t *Tracker) Stats() TrackerStats {
	return t.stats
}
