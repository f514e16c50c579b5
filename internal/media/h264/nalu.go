// Package h264 decodes H.264 parameter sets and describes NAL unit framing.
package h264

import (
	"github.com/lanikai/rtspsource/internal/logging"
)

var log = logging.DefaultLogger.WithTag("h264")

// UnitType is the nal_unit_type field of a NAL unit header.
type UnitType byte

const (
	TypeSlice UnitType = 1
	TypeIDR   UnitType = 5
	TypeSEI   UnitType = 6
	TypeSPS   UnitType = 7
	TypePPS   UnitType = 8
	TypeAUD   UnitType = 9

	// RTP payload structures (RFC 6184).
	TypeSTAPA UnitType = 24
	TypeFUA   UnitType = 28
)

func (t UnitType) String() string {
	switch t {
	case TypeSlice:
		return "slice"
	case TypeIDR:
		return "IDR"
	case TypeSEI:
		return "SEI"
	case TypeSPS:
		return "SPS"
	case TypePPS:
		return "PPS"
	case TypeAUD:
		return "AUD"
	case TypeSTAPA:
		return "STAP-A"
	case TypeFUA:
		return "FU-A"
	}
	if t >= 1 && t <= 23 {
		return "NAL"
	}
	return "reserved"
}

// Single reports whether a payload of this type carries exactly one NAL unit.
func (t UnitType) Single() bool {
	return t >= 1 && t <= 23
}

// StartCode precedes every NAL unit in a committed video sample.
var StartCode = []byte{0, 0, 0, 1}

type NALU []byte

func (nalu NALU) ForbiddenBit() byte {
	return nalu[0] & 0x80 >> 7
}

func (nalu NALU) NRI() byte {
	return nalu[0] & 0x60 >> 5
}

func (nalu NALU) Type() UnitType {
	return UnitType(nalu[0] & 0x1f)
}
