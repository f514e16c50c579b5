package source

import (
	"github.com/nareix/joy4/av"
	"github.com/pkg/errors"

	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/media/aac"
	"github.com/lanikai/rtspsource/internal/media/h264"
)

const defaultVideoClockRate = 90000

// StreamConfig is the negotiated description of one stream, as extracted from
// the session description.
type StreamConfig struct {
	// Video: comma-separated base64 SPS and PPS (sprop-parameter-sets).
	// Audio: hexadecimal AudioSpecificConfig (config=).
	// An empty string means the stream is absent.
	ParameterString string

	// RTP clock rate in Hz. Defaults to 90000 for video and to the sample
	// rate for audio.
	ClockRate uint32

	// Overrides the frame rate signalled in the SPS, if valid.
	FixedFrameRate media.Ratio

	// Bound on queued non-key samples. Zero means the delivery default.
	MaxQueueLength int
}

func (c StreamConfig) present() bool {
	return c.ParameterString != ""
}

// VideoMetadata describes an open video stream.
type VideoMetadata struct {
	h264.VideoParams

	ClockRate uint32

	SPS []byte
	PPS []byte

	CodecData av.CodecData
}

// AudioMetadata describes an open audio stream.
type AudioMetadata struct {
	aac.AudioParams

	ClockRate uint32

	Config []byte

	CodecData av.CodecData
}

func openVideo(c StreamConfig) (*VideoMetadata, error) {
	p, err := h264.Parse(c.ParameterString)
	if err != nil {
		return nil, errors.Wrap(err, "open video stream")
	}
	m := &VideoMetadata{
		VideoParams: p.VideoParams,
		ClockRate:   c.ClockRate,
		SPS:         p.SPS,
		PPS:         p.PPS,
		CodecData:   p.CodecData,
	}
	if m.ClockRate == 0 {
		m.ClockRate = defaultVideoClockRate
	}
	if c.FixedFrameRate.Valid() {
		m.FrameRate = c.FixedFrameRate
	}
	return m, nil
}

func openAudio(c StreamConfig) (*AudioMetadata, error) {
	p, err := aac.Parse(c.ParameterString)
	if err != nil {
		return nil, errors.Wrap(err, "open audio stream")
	}
	m := &AudioMetadata{
		AudioParams: p.AudioParams,
		ClockRate:   c.ClockRate,
		Config:      p.Config,
		CodecData:   p.CodecData,
	}
	if m.ClockRate == 0 {
		m.ClockRate = uint32(p.SampleRate)
	}
	return m, nil
}
