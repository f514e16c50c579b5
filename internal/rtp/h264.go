package rtp

import (
	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/media/h264"
)

// RTP depacketization of H.264 video streams, non-interleaved mode.
// See [RFC 6184](https://tools.ietf.org/html/rfc6184).

// Typical size of a fragmented slice. The writer grows past it as needed.
const fragmentBufferSize = 64 * 1024

type fragment struct {
	*unitWriter
	pos      Position
	keyFrame bool
}

// H264Depacketizer emits one sample per single-NAL packet and one per
// completed FU-A sequence. The stream's SPS and PPS are inserted ahead of the
// first sample after a reset, so that decoders expecting in-band parameter
// sets can start.
type H264Depacketizer struct {
	sps []byte
	pps []byte

	// At most one NAL unit is in flight.
	pending *fragment

	// Whether a sample has been committed since the last reset.
	primed bool

	// Packets were lost since the last committed sample.
	discontinuity bool

	dropped uint64
}

func NewH264Depacketizer(sps, pps []byte) *H264Depacketizer {
	return &H264Depacketizer{sps: sps, pps: pps}
}

func (d *H264Depacketizer) Reset() {
	d.pending = nil
	d.primed = false
	d.discontinuity = false
}

// Dropped returns the number of payloads discarded as unusable.
func (d *H264Depacketizer) Dropped() uint64 {
	return d.dropped
}

func (d *H264Depacketizer) drop(format string, a ...interface{}) {
	d.dropped++
	log.Debug(format, a...)
}

// The first sample carries the parameter sets.
func (d *H264Depacketizer) needParameterSets(pos Position) bool {
	return pos.Ticks == 0 || !d.primed
}

func (d *H264Depacketizer) Depacketize(pos Position, payload []byte) *media.Sample {
	if pos.Discontinuity {
		d.discontinuity = true
		if d.pending != nil {
			d.pending = nil
			d.drop("Discarding incomplete fragment after discontinuity")
		}
	}
	if len(payload) == 0 {
		d.drop("Empty H.264 payload")
		return nil
	}

	typ := h264.NALU(payload).Type()
	switch {
	case typ.Single():
		return d.single(pos, h264.NALU(payload))
	case typ == h264.TypeFUA:
		return d.fragmentUnit(pos, payload)
	case typ == h264.TypeSTAPA:
		d.drop("STAP-A packets are not supported")
	default:
		d.drop("Unsupported NAL unit type %d", typ)
	}
	return nil
}

// See https://tools.ietf.org/html/rfc6184#section-5.6
func (d *H264Depacketizer) single(pos Position, nalu h264.NALU) *media.Sample {
	u := newUnitWriter(len(nalu) + len(d.sps) + len(d.pps) + 3*len(h264.StartCode))
	if d.needParameterSets(pos) {
		u.addUnit(d.sps)
		u.addUnit(d.pps)
	}
	u.addUnit(nalu)
	return d.commit(u, pos, nalu.Type() == h264.TypeIDR)
}

// FU-A payloads start with an indicator byte, carrying the F and NRI bits of
// the original NAL header, then a header byte:
//
//	+---------------+
//	|0|1|2|3|4|5|6|7|
//	+-+-+-+-+-+-+-+-+
//	|S|E|R|  Type   |
//	+---------------+
//
// See https://tools.ietf.org/html/rfc6184#section-5.8
func (d *H264Depacketizer) fragmentUnit(pos Position, payload []byte) *media.Sample {
	if len(payload) < 2 {
		d.drop("Short FU-A payload (%d bytes)", len(payload))
		return nil
	}
	indicator, header := payload[0], payload[1]
	start := header&0x80 != 0
	end := header&0x40 != 0
	typ := h264.UnitType(header & 0x1f)
	data := payload[2:]

	switch {
	case start:
		if d.pending != nil {
			log.Warn("FU-A start while a fragment is pending; discarding %d bytes", d.pending.w.Length())
			d.dropped++
		}
		f := &fragment{
			unitWriter: newUnitWriter(fragmentBufferSize),
			pos:        pos,
			keyFrame:   typ == h264.TypeIDR,
		}
		if d.needParameterSets(pos) {
			f.addUnit(d.sps)
			f.addUnit(d.pps)
		}
		f.begin()
		f.append([]byte{indicator&0xe0 | byte(typ)})
		f.append(data)
		d.pending = f
	case pos.Discontinuity:
		// The start of this unit was lost.
		d.drop("FU-A continuation after discontinuity")
		return nil
	case d.pending == nil:
		d.drop("FU-A continuation without a pending fragment")
		return nil
	default:
		d.pending.append(data)
	}

	if !end {
		return nil
	}
	f := d.pending
	d.pending = nil
	return d.commit(f.unitWriter, f.pos, f.keyFrame)
}

func (d *H264Depacketizer) commit(u *unitWriter, pos Position, keyFrame bool) *media.Sample {
	s := u.sample(pos)
	s.KeyFrame = keyFrame
	s.Discontinuity = d.discontinuity
	d.discontinuity = false
	d.primed = true
	return s
}
