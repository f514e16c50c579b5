package rtsp

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"

	"github.com/lanikai/rtspsource/internal/media"
)

// Encodings the pipeline can depacketize, by media kind.
var supportedEncodings = map[media.Kind]string{
	media.Video: "H264",
	media.Audio: "MPEG4-GENERIC",
}

// StreamInfo describes one media stream offered by a DESCRIBE response.
type StreamInfo struct {
	Kind media.Kind

	// Absolute URL to use for SETUP.
	Control string

	// Payload type number assigned by the `rtpmap` attribute.
	PayloadType uint8

	// Encoding name and clock rate, from the `rtpmap` attribute.
	Encoding  string
	ClockRate uint32
	Channels  int

	// Codec-specific format parameters, from the `fmtp` attribute. Names are
	// lowercase.
	Format map[string]string

	// From the `framerate` attribute, if any.
	FrameRate media.Ratio
}

// ParameterString returns the codec parameters the stream's depacketizer
// needs: sprop-parameter-sets for H.264, config for AAC.
func (s *StreamInfo) ParameterString() string {
	switch s.Kind {
	case media.Video:
		return s.Format["sprop-parameter-sets"]
	case media.Audio:
		return s.Format["config"]
	}
	return ""
}

// Description is a parsed DESCRIBE response.
type Description struct {
	// Base URL for relative control attributes.
	Base string

	SDP *sdp.SessionDescription

	// At most one stream per kind, in SDP order.
	Streams []StreamInfo
}

// Stream returns the stream of the given kind, if one was offered.
func (d *Description) Stream(kind media.Kind) (StreamInfo, bool) {
	for _, s := range d.Streams {
		if s.Kind == kind {
			return s, true
		}
	}
	return StreamInfo{}, false
}

// ParseDescription parses an SDP session description and extracts the first
// supported video and audio streams.
// See https://tools.ietf.org/html/rfc2326#appendix-C
func ParseDescription(base string, body []byte) (*Description, error) {
	sd := new(sdp.SessionDescription)
	if err := sd.Unmarshal(body); err != nil {
		return nil, errors.Wrap(err, "parse session description")
	}

	d := &Description{Base: base, SDP: sd}
	if control, ok := sd.Attribute("control"); ok && control != "*" {
		d.Base = resolveControl(base, control)
	}

	seen := make(map[media.Kind]bool)
	for _, md := range sd.MediaDescriptions {
		kind, ok := media.ParseKind(md.MediaName.Media)
		if !ok || seen[kind] {
			log.Debug("Ignoring %s stream", md.MediaName.Media)
			continue
		}
		info, err := parseMedia(d.Base, kind, md)
		if err != nil {
			log.Warn("Ignoring %s stream: %v", md.MediaName.Media, err)
			continue
		}
		seen[kind] = true
		d.Streams = append(d.Streams, info)
	}
	if len(d.Streams) == 0 {
		return nil, errors.New("no supported streams in session description")
	}
	return d, nil
}

func parseMedia(base string, kind media.Kind, md *sdp.MediaDescription) (StreamInfo, error) {
	info := StreamInfo{
		Kind:    kind,
		Control: base,
		Format:  make(map[string]string),
	}
	if len(md.MediaName.Formats) == 0 {
		return info, errors.New("no payload formats")
	}
	pt, err := strconv.ParseUint(md.MediaName.Formats[0], 10, 7)
	if err != nil {
		return info, errors.Errorf("invalid payload type %q", md.MediaName.Formats[0])
	}
	info.PayloadType = uint8(pt)

	for _, a := range md.Attributes {
		switch a.Key {
		case "rtpmap":
			// a=rtpmap:<payload type> <encoding name>/<clock rate>[/<encoding parameters>]
			if n, rest := split2(a.Value, ' '); n == md.MediaName.Formats[0] {
				parts := strings.Split(rest, "/")
				info.Encoding = strings.ToUpper(parts[0])
				if len(parts) > 1 {
					rate, _ := strconv.ParseUint(parts[1], 10, 32)
					info.ClockRate = uint32(rate)
				}
				if len(parts) > 2 {
					info.Channels, _ = strconv.Atoi(parts[2])
				}
			}
		case "fmtp":
			// a=fmtp:<payload type> <name>=<value>;...
			if n, rest := split2(a.Value, ' '); n == md.MediaName.Formats[0] {
				for name, value := range parseParams(rest) {
					info.Format[strings.ToLower(name)] = value
				}
			}
		case "control":
			info.Control = resolveControl(base, a.Value)
		case "framerate":
			info.FrameRate = parseFrameRate(a.Value)
		}
	}

	if want := supportedEncodings[kind]; info.Encoding != want {
		return info, errors.Errorf("unsupported encoding %q", info.Encoding)
	}
	if kind == media.Video {
		// Only single NAL unit and non-interleaved mode.
		if mode := info.Format["packetization-mode"]; mode != "" && mode != "0" && mode != "1" {
			return info, errors.Errorf("unsupported packetization-mode %s", mode)
		}
	}
	if kind == media.Audio {
		if mode := strings.ToLower(info.Format["mode"]); mode != "" && mode != "aac-hbr" {
			return info, errors.Errorf("unsupported mode %s", info.Format["mode"])
		}
	}
	if info.ParameterString() == "" {
		return info, errors.New("missing codec parameters")
	}
	return info, nil
}

// Resolve a control attribute against the base URL. Relative controls are
// appended to the base as a path segment.
func resolveControl(base, control string) string {
	if control == "" || control == "*" {
		return base
	}
	if u, err := url.Parse(control); err == nil && u.IsAbs() {
		return control
	}
	b, err := url.Parse(base)
	if err != nil {
		return control
	}
	if !strings.HasSuffix(b.Path, "/") {
		b.Path += "/"
	}
	ref, err := url.Parse(control)
	if err != nil {
		return control
	}
	return b.ResolveReference(ref).String()
}

func parseFrameRate(s string) media.Ratio {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 || f > 1000 {
		return media.Ratio{}
	}
	if f == math.Trunc(f) {
		return media.Ratio{Num: uint32(f), Den: 1}
	}
	return media.Ratio{Num: uint32(math.Round(f * 1000)), Den: 1000}
}
