package h264

import (
	"encoding/base64"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/pkg/errors"
)

// Parameters bundles the decoded parameter sets of a video stream.
type Parameters struct {
	SPS []byte
	PPS []byte

	VideoParams

	// AVC decoder configuration for muxers and decoders that want the
	// parameter sets out of band.
	CodecData h264parser.CodecData
}

// ParseParameterSets decodes an SDP sprop-parameter-sets value: the base64
// SPS and PPS joined by a comma.
func ParseParameterSets(s string) (sps, pps []byte, err error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	if len(fields) < 2 {
		return nil, nil, decodeError("parameter string", errors.Errorf("expected 2 parameter sets, got %d", len(fields)))
	}
	if len(fields) > 2 {
		log.Debug("Ignoring %d extra parameter sets", len(fields)-2)
	}
	if sps, err = decodeBase64(fields[0]); err != nil {
		return nil, nil, decodeError("sps", err)
	}
	if pps, err = decodeBase64(fields[1]); err != nil {
		return nil, nil, decodeError("pps", err)
	}
	if len(sps) == 0 || len(pps) == 0 {
		return nil, nil, decodeError("parameter string", errors.New("empty parameter set"))
	}
	return sps, pps, nil
}

// Some servers strip the base64 padding.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// NewCodecData builds the AVC decoder configuration record for the given
// parameter sets.
func NewCodecData(sps, pps []byte) (h264parser.CodecData, error) {
	cd, err := h264parser.NewCodecDataFromSPSAndPPS(sps, pps)
	if err != nil {
		return cd, decodeError("codec data", err)
	}
	return cd, nil
}

const cacheSize = 8

var cache = struct {
	sync.Mutex
	*lru.Cache
}{Cache: lru.New(cacheSize)}

// Parse decodes a sprop-parameter-sets string into the stream's parameter
// sets, metadata and codec configuration. Results are memoised, since a
// reconnecting session opens again with the same string.
func Parse(s string) (*Parameters, error) {
	cache.Lock()
	v, ok := cache.Get(s)
	cache.Unlock()
	if ok {
		return v.(*Parameters), nil
	}

	sps, pps, err := ParseParameterSets(s)
	if err != nil {
		return nil, err
	}
	vp, err := ParseVideoParameters(sps, pps)
	if err != nil {
		return nil, err
	}
	cd, err := NewCodecData(sps, pps)
	if err != nil {
		return nil, err
	}
	p := &Parameters{SPS: sps, PPS: pps, VideoParams: vp, CodecData: cd}
	log.Debug("Parsed video parameters: profile %d level %d, %dx%d, SAR %v, %v fps",
		vp.Profile, vp.Level, vp.Width, vp.Height, vp.SampleAspectRatio, vp.FrameRate)

	cache.Lock()
	cache.Add(s, p)
	cache.Unlock()
	return p, nil
}
