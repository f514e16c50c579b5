// Package rtp turns received RTP packets into committed media samples: it
// tracks sequence numbers and timestamps per stream and reassembles H.264 and
// AAC access units from their RTP payload formats.
package rtp

import (
	"fmt"

	pionrtp "github.com/pion/rtp"
	errors "golang.org/x/xerrors"

	"github.com/lanikai/rtspsource/internal/logging"
)

var log = logging.DefaultLogger.WithTag("rtp")

// RFC 3550 defines RTP version 2.
const rtpVersion = 2

// Packet is a received RTP data packet, reduced to the fields the pipeline
// uses. The payload aliases the receive buffer it was parsed from.
//
// See https://tools.ietf.org/html/rfc3550#section-5.1
type Packet struct {
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	PayloadType    uint8
	Marker         bool
	Payload        []byte
}

func (p *Packet) String() string {
	return fmt.Sprintf("RTP{seq=%d ts=%d ssrc=%08x pt=%d m=%t len=%d}",
		p.SequenceNumber, p.Timestamp, p.SSRC, p.PayloadType, p.Marker, len(p.Payload))
}

type errBadVersion byte

func (e errBadVersion) Error() string {
	return fmt.Sprintf("invalid RTP version: %d", byte(e))
}

// ParsePacket decodes an RTP packet from buf. CSRC lists, header extensions
// and padding are handled and discarded.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) > 0 && buf[0]>>6 != rtpVersion {
		return nil, errBadVersion(buf[0] >> 6)
	}
	var p pionrtp.Packet
	if err := p.Unmarshal(buf); err != nil {
		return nil, errors.Errorf("malformed RTP packet (%d bytes): %w", len(buf), err)
	}
	return &Packet{
		SequenceNumber: p.SequenceNumber,
		Timestamp:      p.Timestamp,
		SSRC:           p.SSRC,
		PayloadType:    p.PayloadType,
		Marker:         p.Marker,
		Payload:        p.Payload,
	}, nil
}

// IsRTCP reports whether buf looks like an RTCP packet rather than RTP, by
// the payload type range reserved for RTCP.
// See https://tools.ietf.org/html/rfc5761#section-4.
func IsRTCP(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	packetType := buf[1]
	return 192 <= packetType && packetType <= 223
}
