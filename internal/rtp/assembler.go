package rtp

import (
	"github.com/lanikai/rtspsource/internal/media"
)

// AssemblerStats summarises one stream's packet and sample counts.
type AssemblerStats struct {
	TrackerStats

	// Samples committed by the depacketizer.
	Samples uint64
}

// Assembler is the receive path of one logical stream: it orders packets with
// a Tracker and hands accepted payloads to a Depacketizer. An Assembler is not
// safe for concurrent use.
type Assembler struct {
	Kind media.Kind

	tracker      *Tracker
	depacketizer Depacketizer
	samples      uint64
}

func NewAssembler(kind media.Kind, clockRate uint32, d Depacketizer) *Assembler {
	return &Assembler{
		Kind:         kind,
		tracker:      NewTracker(clockRate),
		depacketizer: d,
	}
}

// Feed processes one received packet and returns the sample it completes, if
// any.
func (a *Assembler) Feed(p *Packet) *media.Sample {
	pos, verdict := a.tracker.Update(p.SequenceNumber, p.Timestamp)
	switch verdict {
	case RolledBack:
		log.Debug("%v: discarding stale packet %d", a.Kind, p.SequenceNumber)
		return nil
	case Skipped:
		log.Debug("%v: sequence skipped to %d", a.Kind, p.SequenceNumber)
	}

	s := a.depacketizer.Depacketize(pos, p.Payload)
	if s != nil {
		a.samples++
		log.Trace(2, "%v: committed %v", a.Kind, s)
	}
	return s
}

// Reset discards tracking and fragment state. The next packet starts a new
// timeline at zero.
func (a *Assembler) Reset() {
	a.tracker.Reset()
	a.depacketizer.Reset()
}

func (a *Assembler) Stats() AssemblerStats {
	return AssemblerStats{TrackerStats: a.tracker.Stats(), Samples: a.samples}
}
