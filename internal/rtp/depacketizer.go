package rtp

import (
	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/media/h264"
	"github.com/lanikai/rtspsource/internal/packet"
)

// A Depacketizer reassembles access units from the payloads of accepted RTP
// packets, in arrival order. Depacketize returns nil until a sample is
// complete. Implementations are not safe for concurrent use.
type Depacketizer interface {
	Depacketize(pos Position, payload []byte) *media.Sample
	Reset()
}

// unitWriter accumulates the NAL units of one video sample, each prefixed with
// a start code, and records their lengths as it goes.
type unitWriter struct {
	w       *packet.Writer
	lengths []int
}

func newUnitWriter(size int) *unitWriter {
	return &unitWriter{w: packet.NewWriterSize(size)}
}

// Begin a new unit. Subsequent appends extend it.
func (u *unitWriter) begin() {
	u.w.WriteSlice(h264.StartCode)
	u.lengths = append(u.lengths, len(h264.StartCode))
}

func (u *unitWriter) append(p []byte) {
	u.w.WriteSlice(p)
	u.lengths[len(u.lengths)-1] += len(p)
}

func (u *unitWriter) addUnit(p []byte) {
	u.begin()
	u.append(p)
}

func (u *unitWriter) sample(pos Position) *media.Sample {
	return &media.Sample{
		Data:    u.w.Detach(),
		Time:    pos.Time,
		Lengths: u.lengths,
	}
}
