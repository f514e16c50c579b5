package rtp

import (
	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/packet"
)

// RTP depacketization of MPEG-4 audio in AAC-hbr mode, with one access unit
// per packet: a 16-bit AU-headers-length, one 16-bit AU header (13-bit size,
// 3-bit index), then the access unit.
// See https://tools.ietf.org/html/rfc3640#section-3.2

const auHeadersLength = 16

type AACDepacketizer struct {
	discontinuity bool
	dropped       uint64
}

func NewAACDepacketizer() *AACDepacketizer {
	return &AACDepacketizer{}
}

func (d *AACDepacketizer) Reset() {
	d.discontinuity = false
}

// Dropped returns the number of payloads discarded as unusable.
func (d *AACDepacketizer) Dropped() uint64 {
	return d.dropped
}

func (d *AACDepacketizer) Depacketize(pos Position, payload []byte) *media.Sample {
	if pos.Discontinuity {
		d.discontinuity = true
	}

	r := packet.NewReader(payload)
	if err := r.CheckRemaining(4); err != nil {
		d.dropped++
		log.Debug("Short AAC payload: %v", err)
		return nil
	}
	if n := r.ReadUint16(); n != auHeadersLength {
		d.dropped++
		log.Debug("Unsupported AU-headers-length %d", n)
		return nil
	}
	size := int(r.ReadUint16() >> 3)
	if err := r.CheckRemaining(size); err != nil {
		d.dropped++
		log.Debug("AU size %d exceeds payload: %v", size, err)
		return nil
	}

	data := make([]byte, size)
	copy(data, r.ReadSlice(size))
	s := &media.Sample{
		Data:          data,
		Time:          pos.Time,
		Discontinuity: d.discontinuity,
		Lengths:       []int{size},
	}
	d.discontinuity = false
	return s
}
