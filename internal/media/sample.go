package media

import (
	"fmt"
	"time"
)

// TimeBase is the number of SampleTime units per second (100 ns resolution),
// independent of the RTP clock rate of the stream.
const TimeBase = 10000000

// SampleTime is a presentation time in 100-nanosecond units, relative to the
// first packet of the stream.
type SampleTime int64

// ToSampleTime scales a tick count at the given clock rate to TimeBase units.
// The multiplication is split so that it cannot overflow for any tick count
// reachable by a 64-bit accumulator.
func ToSampleTime(ticks uint64, clockRate uint32) SampleTime {
	if clockRate == 0 {
		return 0
	}
	rate := uint64(clockRate)
	return SampleTime(ticks/rate*TimeBase + ticks%rate*TimeBase/rate)
}

func (t SampleTime) Duration() time.Duration {
	return time.Duration(t) * 100
}

func (t SampleTime) String() string {
	return t.Duration().String()
}

// Sample is a committed access unit: one video frame's NAL units or one audio
// frame. A Sample is immutable once committed.
type Sample struct {
	Data []byte

	Time SampleTime

	// KeyFrame marks a self-decodable video access unit (IDR). Always false
	// for audio.
	KeyFrame bool

	// Discontinuity is set on the first sample after packets were lost or
	// the stream was (re)started.
	Discontinuity bool

	// Lengths delimits the sub-units of Data. For video each entry covers one
	// NAL unit including its start code; the entries sum to len(Data).
	Lengths []int
}

// Size returns len(Data).
func (s *Sample) Size() int {
	return len(s.Data)
}

func (s *Sample) String() string {
	return fmt.Sprintf("sample{time=%v size=%d units=%d key=%t disc=%t}",
		s.Time, len(s.Data), len(s.Lengths), s.KeyFrame, s.Discontinuity)
}
