package h264

import (
	"github.com/pkg/errors"

	"github.com/lanikai/rtspsource/internal/bits"
	"github.com/lanikai/rtspsource/internal/media"
)

// VideoParams is the stream metadata carried by a sequence parameter set.
type VideoParams struct {
	Profile int
	Level   int
	Width   int
	Height  int

	// Defaults to 1/1 when the VUI does not signal an aspect ratio.
	SampleAspectRatio media.Ratio

	// Invalid unless the VUI timing info sets fixed_frame_rate_flag.
	FrameRate media.Ratio
}

const extendedSAR = 255

// Upper bound on frame width in macroblocks and height in map units. 4096
// macroblocks is 65536 pixels, past any level limit in Table A-1.
const maxMbs = 4096

// Sample aspect ratios indexed by aspect_ratio_idc (ITU-T H.264 Table E-1).
// Index 0 is "unspecified" and reported as square pixels.
var sampleAspectRatios = [17]media.Ratio{
	{1, 1}, {1, 1}, {12, 11}, {10, 11}, {16, 11}, {40, 33}, {24, 11}, {20, 11},
	{32, 11}, {80, 33}, {18, 11}, {15, 11}, {64, 33}, {160, 99}, {4, 3}, {3, 2},
	{2, 1},
}

func sampleAspectRatio(idc byte) media.Ratio {
	if int(idc) < len(sampleAspectRatios) {
		return sampleAspectRatios[idc]
	}
	return media.Ratio{Num: 1, Den: 1}
}

// Profiles whose SPS carries chroma format, bit depth and scaling matrices.
func hasChromaInfo(profile byte) bool {
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128:
		return true
	}
	return false
}

func decodeError(field string, err error) error {
	return &media.ParameterDecodeError{Codec: "h264", Field: field, Err: err}
}

// ParseVideoParameters extracts dimensions, aspect ratio and frame rate from a
// sequence parameter set NAL unit (header byte included). The picture
// parameter set must be present but is not interpreted.
//
// See ITU-T H.264 section 7.3.2.1.1 and Annex E.1.1.
func ParseVideoParameters(sps, pps []byte) (VideoParams, error) {
	var p VideoParams
	if len(sps) < 4 {
		return p, decodeError("sps", errors.Errorf("%d bytes is too short", len(sps)))
	}
	if len(pps) == 0 {
		return p, decodeError("pps", errors.New("empty"))
	}
	if t := NALU(sps).Type(); t != TypeSPS {
		return p, decodeError("sps", errors.Errorf("unexpected NAL unit type %d", t))
	}

	r := bits.NewReader(unescapeRBSP(sps))
	r.Skip(8) // NAL header

	profile := r.ReadByte()
	r.Skip(8) // constraint_set flags, reserved_zero_2bits
	level := r.ReadByte()
	if id := r.ReadUE(); id > 31 {
		return p, decodeError("seq_parameter_set_id", errors.Errorf("%d out of range", id))
	}

	if hasChromaInfo(profile) {
		chromaFormat := r.ReadUE()
		if chromaFormat == 3 {
			r.Skip(1) // separate_colour_plane_flag
		}
		r.ReadUE() // bit_depth_luma_minus8
		r.ReadUE() // bit_depth_chroma_minus8
		r.Skip(1)  // qpprime_y_zero_transform_bypass_flag
		if r.ReadFlag() {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if !r.ReadFlag() {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				skipScalingList(r, size)
			}
		}
	}

	r.ReadUE() // log2_max_frame_num_minus4
	switch pocType := r.ReadUE(); pocType {
	case 0:
		r.ReadUE() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.Skip(1)  // delta_pic_order_always_zero_flag
		r.ReadSE() // offset_for_non_ref_pic
		r.ReadSE() // offset_for_top_to_bottom_field
		n := r.ReadUE()
		if n > 255 {
			return p, decodeError("num_ref_frames_in_pic_order_cnt_cycle", errors.Errorf("%d out of range", n))
		}
		for i := uint64(0); i < n; i++ {
			r.ReadSE()
		}
	case 2:
	default:
		return p, decodeError("pic_order_cnt_type", errors.Errorf("%d out of range", pocType))
	}

	r.ReadUE() // max_num_ref_frames
	r.Skip(1)  // gaps_in_frame_num_value_allowed_flag
	widthInMbs := r.ReadUE() + 1
	if widthInMbs > maxMbs {
		return p, decodeError("pic_width_in_mbs_minus1", errors.Errorf("%d out of range", widthInMbs-1))
	}
	heightInMapUnits := r.ReadUE() + 1
	if heightInMapUnits > maxMbs {
		return p, decodeError("pic_height_in_map_units_minus1", errors.Errorf("%d out of range", heightInMapUnits-1))
	}
	frameMbsOnly := r.ReadFlag()
	if !frameMbsOnly {
		r.Skip(1) // mb_adaptive_frame_field_flag
	}
	r.Skip(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint64
	if r.ReadFlag() {
		cropLeft = r.ReadUE()
		cropRight = r.ReadUE()
		cropTop = r.ReadUE()
		cropBottom = r.ReadUE()
	}

	p.SampleAspectRatio = media.Ratio{Num: 1, Den: 1}
	if r.ReadFlag() {
		parseVUI(r, &p)
	}

	if err := r.Err(); err != nil {
		return VideoParams{}, decodeError("sps", err)
	}

	fieldFactor := uint64(2)
	if frameMbsOnly {
		fieldFactor = 1
	}
	frameWidth := widthInMbs * 16
	frameHeight := fieldFactor * heightInMapUnits * 16
	if cropLeft >= frameWidth || cropRight >= frameWidth || 2*(cropLeft+cropRight) >= frameWidth ||
		cropTop >= frameHeight || cropBottom >= frameHeight || 2*(cropTop+cropBottom) >= frameHeight {
		return VideoParams{}, decodeError("frame_cropping", errors.Errorf("%d,%d,%d,%d exceeds %dx%d",
			cropLeft, cropRight, cropTop, cropBottom, frameWidth, frameHeight))
	}
	width := int64(frameWidth - 2*(cropLeft+cropRight))
	height := int64(frameHeight - 2*(cropTop+cropBottom))
	if width <= 0 || height <= 0 || width > 1<<16 || height > 1<<16 {
		return VideoParams{}, decodeError("frame size", errors.Errorf("%dx%d", width, height))
	}

	p.Profile = int(profile)
	p.Level = int(level)
	p.Width = int(width)
	p.Height = int(height)
	return p, nil
}

// See ITU-T H.264 section 7.3.2.1.1.1.
func skipScalingList(r *bits.Reader, size int) {
	last, next := int64(8), int64(8)
	for j := 0; j < size; j++ {
		if next != 0 {
			delta := r.ReadSE()
			next = (last + delta + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// Reads the VUI fields up to and including timing info. HRD parameters and
// bitstream restrictions that follow are not needed.
func parseVUI(r *bits.Reader, p *VideoParams) {
	if r.ReadFlag() { // aspect_ratio_info_present_flag
		idc := r.ReadByte()
		if idc == extendedSAR {
			num := uint32(r.ReadBytes(2))
			den := uint32(r.ReadBytes(2))
			p.SampleAspectRatio = media.Ratio{Num: num, Den: den}
			if !p.SampleAspectRatio.Valid() {
				log.Debug("Ignoring invalid extended SAR %d:%d", num, den)
				p.SampleAspectRatio = media.Ratio{Num: 1, Den: 1}
			}
		} else {
			p.SampleAspectRatio = sampleAspectRatio(idc)
		}
	}
	if r.ReadFlag() { // overscan_info_present_flag
		r.Skip(1)
	}
	if r.ReadFlag() { // video_signal_type_present_flag
		r.Skip(3 + 1) // video_format, video_full_range_flag
		if r.ReadFlag() {
			r.Skip(24) // colour_primaries, transfer_characteristics, matrix_coefficients
		}
	}
	if r.ReadFlag() { // chroma_loc_info_present_flag
		r.ReadUE()
		r.ReadUE()
	}
	if r.ReadFlag() { // timing_info_present_flag
		unitsInTick := uint32(r.ReadBytes(4))
		timeScale := uint32(r.ReadBytes(4))
		if r.ReadFlag() { // fixed_frame_rate_flag
			p.FrameRate = media.Ratio{Num: timeScale, Den: unitsInTick}
		}
	}
}
