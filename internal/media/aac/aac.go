// Package aac decodes the MPEG-4 AudioSpecificConfig carried in SDP.
package aac

import (
	"encoding/hex"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/pkg/errors"

	"github.com/lanikai/rtspsource/internal/logging"
	"github.com/lanikai/rtspsource/internal/media"
)

var log = logging.DefaultLogger.WithTag("aac")

// ChannelMask is a WAVEFORMATEXTENSIBLE speaker position mask.
type ChannelMask uint32

const (
	FrontLeft    ChannelMask = 0x1
	FrontRight   ChannelMask = 0x2
	FrontCenter  ChannelMask = 0x4
	LowFrequency ChannelMask = 0x8
	BackLeft     ChannelMask = 0x10
	BackRight    ChannelMask = 0x20
	BackCenter   ChannelMask = 0x100
	SideLeft     ChannelMask = 0x200
	SideRight    ChannelMask = 0x400

	Stereo                = FrontLeft | FrontRight
	Quad                  = Stereo | BackLeft | BackRight
	Surround              = Stereo | FrontCenter | BackCenter
	FivePointOne          = Quad | FrontCenter | LowFrequency
	SevenPointOneSurround = FivePointOne | SideLeft | SideRight
)

// AudioParams is the stream metadata carried by an AudioSpecificConfig.
type AudioParams struct {
	ObjectType      uint
	SampleRateIndex uint
	SampleRate      int
	ChannelConfig   uint
	ChannelCount    int
	ChannelMask     ChannelMask
}

// ISO/IEC 14496-3 sampling frequency index table.
var sampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

type layout struct {
	count int
	mask  ChannelMask
}

// Indexed by channel configuration. Configuration 0 defers the layout to a
// program config element, which is not supported.
var layouts = [8]layout{
	{},
	{1, FrontCenter},
	{2, Stereo},
	{3, Stereo | FrontCenter},
	{4, Surround},
	{5, Quad | FrontCenter},
	{6, FivePointOne},
	{8, SevenPointOneSurround},
}

func decodeError(field string, err error) error {
	return &media.ParameterDecodeError{Codec: "aac", Field: field, Err: err}
}

// ParseAudioParameters decodes the leading 16 bits of an AudioSpecificConfig:
// 5-bit object type, 4-bit sampling frequency index and 4-bit channel
// configuration.
func ParseAudioParameters(config uint) (AudioParams, error) {
	p := AudioParams{
		ObjectType:      (config & 0xf800) >> 11,
		SampleRateIndex: (config & 0x0780) >> 7,
		ChannelConfig:   (config & 0x0078) >> 3,
	}
	if p.SampleRateIndex >= uint(len(sampleRates)) {
		return AudioParams{}, decodeError("sampling frequency index", errors.Errorf("%d out of range", p.SampleRateIndex))
	}
	p.SampleRate = sampleRates[p.SampleRateIndex]

	if p.ChannelConfig == 0 || p.ChannelConfig >= uint(len(layouts)) {
		return AudioParams{}, decodeError("channel configuration", errors.Errorf("unsupported value %d", p.ChannelConfig))
	}
	l := layouts[p.ChannelConfig]
	p.ChannelCount = l.count
	p.ChannelMask = l.mask
	return p, nil
}

// ParseConfigString decodes the hexadecimal config= value of an SDP fmtp
// line into the raw AudioSpecificConfig bytes.
func ParseConfigString(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, decodeError("config string", err)
	}
	if len(b) < 2 {
		return nil, decodeError("config string", errors.Errorf("%d bytes is too short", len(b)))
	}
	return b, nil
}

// ConfigWord returns the leading 16 bits of an AudioSpecificConfig.
func ConfigWord(config []byte) uint {
	return uint(config[0])<<8 | uint(config[1])
}

// NewCodecData builds joy4 codec data for the given AudioSpecificConfig.
func NewCodecData(config []byte) (aacparser.CodecData, error) {
	cd, err := aacparser.NewCodecDataFromMPEG4AudioConfigBytes(config)
	if err != nil {
		return cd, decodeError("codec data", err)
	}
	return cd, nil
}

// Parameters bundles the decoded configuration of an audio stream.
type Parameters struct {
	Config []byte

	AudioParams

	CodecData aacparser.CodecData
}

var cache = struct {
	sync.Mutex
	*lru.Cache
}{Cache: lru.New(8)}

// Parse decodes an SDP config= string. Results are memoised.
func Parse(s string) (*Parameters, error) {
	cache.Lock()
	v, ok := cache.Get(s)
	cache.Unlock()
	if ok {
		return v.(*Parameters), nil
	}

	config, err := ParseConfigString(s)
	if err != nil {
		return nil, err
	}
	ap, err := ParseAudioParameters(ConfigWord(config))
	if err != nil {
		return nil, err
	}
	cd, err := NewCodecData(config)
	if err != nil {
		return nil, err
	}
	p := &Parameters{Config: config, AudioParams: ap, CodecData: cd}
	log.Debug("Parsed audio parameters: object type %d, %d Hz, %d channels (mask %#x)",
		ap.ObjectType, ap.SampleRate, ap.ChannelCount, uint32(ap.ChannelMask))

	cache.Lock()
	cache.Add(s, p)
	cache.Unlock()
	return p, nil
}

// ADTSHeader returns the 7-byte ADTS header for one raw access unit, for
// writing a playable .aac elementary stream.
func (p *Parameters) ADTSHeader(payloadLength int) []byte {
	header := make([]byte, aacparser.ADTSHeaderLength)
	aacparser.FillADTSHeader(header, p.CodecData.Config, 1024, payloadLength)
	return header
}
