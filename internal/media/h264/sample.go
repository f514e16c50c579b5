package h264

import (
	"github.com/pkg/errors"

	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/packet"
)

// Units splits a committed video sample into its NAL units, using the length
// table and dropping the start codes.
func Units(s *media.Sample) ([]NALU, error) {
	units := make([]NALU, 0, len(s.Lengths))
	offset := 0
	for _, n := range s.Lengths {
		if n < len(StartCode) || offset+n > len(s.Data) {
			return nil, errors.Errorf("invalid unit length %d at offset %d of %d", n, offset, len(s.Data))
		}
		units = append(units, NALU(s.Data[offset+len(StartCode):offset+n]))
		offset += n
	}
	if offset != len(s.Data) {
		return nil, errors.Errorf("unit lengths cover %d of %d bytes", offset, len(s.Data))
	}
	return units, nil
}

// AVCC rewrites a committed video sample with 4-byte length prefixes in place
// of start codes, the framing used by MP4 and joy4 muxers.
func AVCC(s *media.Sample) ([]byte, error) {
	units, err := Units(s)
	if err != nil {
		return nil, err
	}
	w := packet.NewWriterSize(len(s.Data))
	for _, nalu := range units {
		w.WriteUint32(uint32(len(nalu)))
		w.WriteSlice(nalu)
	}
	return w.Bytes(), nil
}
