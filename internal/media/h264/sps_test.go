package h264

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/rtspsource/internal/media"
)

var testPPS = []byte{0x68, 0xee, 0x3c, 0xb0}

func TestParseVideoParameters(t *testing.T) {
	tests := []struct {
		name string
		sps  []byte
		want VideoParams
	}{
		{
			// profile_idc 66, 40x30 macroblocks, cropping present with zero offsets.
			name: "baseline",
			sps:  []byte{0x67, 0x42, 0x00, 0x1e, 0xf4, 0x05, 0x01, 0xef, 0xe8},
			want: VideoParams{
				Profile: 66, Level: 30, Width: 640, Height: 480,
				SampleAspectRatio: media.Ratio{Num: 1, Den: 1},
			},
		},
		{
			// Main profile 1920x1088 cropped to 1080, extended SAR 4:3,
			// fixed frame rate 60000/1001.
			name: "vui",
			sps: []byte{
				0x67, 0x4d, 0x00, 0x28, 0xf4, 0x03, 0xc0, 0x11, 0x3f, 0x2f, 0xfe, 0x00,
				0x08, 0x00, 0x06, 0x20, 0x00, 0x00, 0x7d, 0x20, 0x00, 0x1d, 0x4c, 0x18,
			},
			want: VideoParams{
				Profile: 77, Level: 40, Width: 1920, Height: 1080,
				SampleAspectRatio: media.Ratio{Num: 4, Den: 3},
				FrameRate:         media.Ratio{Num: 60000, Den: 1001},
			},
		},
		{
			// Field coding doubles the height. aspect_ratio_idc 14 and timing
			// info without fixed_frame_rate_flag. Contains emulation
			// prevention bytes.
			name: "fields",
			sps: []byte{
				0x67, 0x42, 0x00, 0x1e, 0xf4, 0x05, 0xa0, 0x90, 0xb0, 0xe1, 0x00,
				0x00, 0x03, 0x00, 0x01, 0x00, 0x00, 0x03, 0x00, 0x19, 0x40,
			},
			want: VideoParams{
				Profile: 66, Level: 30, Width: 720, Height: 1152,
				SampleAspectRatio: media.Ratio{Num: 4, Den: 3},
			},
		},
		{
			name: "emulation prevention",
			sps: []byte{
				0x67, 0x42, 0x00, 0x1e, 0xf4, 0x05, 0x01, 0xed, 0x08, 0x00,
				0x00, 0x03, 0x00, 0x08, 0x00, 0x00, 0x03, 0x00, 0xf6,
			},
			want: VideoParams{
				Profile: 66, Level: 30, Width: 640, Height: 480,
				SampleAspectRatio: media.Ratio{Num: 1, Den: 1},
				FrameRate:         media.Ratio{Num: 30, Den: 1},
			},
		},
		{
			// High profile with scaling matrices, from a hardware encoder.
			name: "high",
			sps:  mustDecode(t, testSPS),
			want: VideoParams{
				Profile: 100, Level: 31, Width: 1280, Height: 720,
				SampleAspectRatio: media.Ratio{Num: 1, Den: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVideoParameters(tt.sps, testPPS)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseVideoParametersErrors(t *testing.T) {
	baseline := []byte{0x67, 0x42, 0x00, 0x1e, 0xf4, 0x05, 0x01, 0xef, 0xe8}

	tests := []struct {
		name  string
		sps   []byte
		pps   []byte
		field string
	}{
		{"short", []byte{0x67, 0x42}, testPPS, "sps"},
		{"no pps", baseline, nil, "pps"},
		{"not an sps", append([]byte{0x68}, baseline[1:]...), testPPS, "sps"},
		{"truncated", baseline[:6], testPPS, "sps"},
		{"huge width", buildSPS(1<<60, 29, nil), testPPS, "pic_width_in_mbs_minus1"},
		{"huge height", buildSPS(39, 5000, nil), testPPS, "pic_height_in_map_units_minus1"},
		{"crop whole width", buildSPS(39, 29, []uint64{160, 160, 0, 0}), testPPS, "frame_cropping"},
		{"huge crop", buildSPS(39, 29, []uint64{0, 0, 1 << 62, 0}), testPPS, "frame_cropping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseVideoParameters(tt.sps, tt.pps)
			require.Error(t, err)
			var pde *media.ParameterDecodeError
			require.True(t, errors.As(err, &pde))
			assert.Equal(t, "h264", pde.Codec)
			assert.Equal(t, tt.field, pde.Field)
		})
	}
}

// spsWriter assembles RBSP bits for hand-built parameter sets.
type spsWriter struct {
	bits []byte
}

func (w *spsWriter) bit(b bool) {
	if b {
		w.bits = append(w.bits, 1)
	} else {
		w.bits = append(w.bits, 0)
	}
}

func (w *spsWriter) ue(v uint64) {
	v++
	n := 0
	for x := v; x > 0; x >>= 1 {
		n++
	}
	for i := 0; i < n-1; i++ {
		w.bit(false)
	}
	for i := n - 1; i >= 0; i-- {
		w.bit(v>>uint(i)&1 == 1)
	}
}

// bytes appends the stop bit and pads to a byte boundary.
func (w *spsWriter) bytes() []byte {
	w.bit(true)
	for len(w.bits)%8 != 0 {
		w.bit(false)
	}
	out := make([]byte, len(w.bits)/8)
	for i, b := range w.bits {
		out[i/8] |= b << uint(7-i%8)
	}
	return out
}

// buildSPS returns a baseline profile SPS with pic_order_cnt_type 0 and no
// VUI. A nil crop omits the frame cropping offsets.
func buildSPS(widthMinus1, heightMinus1 uint64, crop []uint64) []byte {
	var w spsWriter
	w.ue(0) // seq_parameter_set_id
	w.ue(0) // log2_max_frame_num_minus4
	w.ue(0) // pic_order_cnt_type
	w.ue(0) // log2_max_pic_order_cnt_lsb_minus4
	w.ue(1) // max_num_ref_frames
	w.bit(false)
	w.ue(widthMinus1)
	w.ue(heightMinus1)
	w.bit(true) // frame_mbs_only_flag
	w.bit(true) // direct_8x8_inference_flag
	w.bit(crop != nil)
	for _, c := range crop {
		w.ue(c)
	}
	w.bit(false) // vui_parameters_present_flag
	return append([]byte{0x67, 0x42, 0x00, 0x1e}, w.bytes()...)
}

func TestBuildSPSMatchesBaseline(t *testing.T) {
	want := []byte{0x67, 0x42, 0x00, 0x1e, 0xf4, 0x05, 0x01, 0xef, 0xe8}
	assert.Equal(t, want, buildSPS(39, 29, []uint64{0, 0, 0, 0}))

	p, err := ParseVideoParameters(buildSPS(39, 29, []uint64{8, 8, 0, 0}), testPPS)
	require.NoError(t, err)
	assert.Equal(t, 608, p.Width)
	assert.Equal(t, 480, p.Height)
}

func TestUnescapeRBSP(t *testing.T) {
	in := []byte{0x01, 0x00, 0x00, 0x03, 0x01, 0x00, 0x00, 0x03, 0x00, 0x03}
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x03}, unescapeRBSP(in))

	plain := []byte{0x00, 0x03, 0x00, 0x00, 0x01}
	assert.Equal(t, plain, unescapeRBSP(plain))
}

func TestSampleAspectRatioTable(t *testing.T) {
	assert.Equal(t, media.Ratio{Num: 1, Den: 1}, sampleAspectRatio(0))
	assert.Equal(t, media.Ratio{Num: 12, Den: 11}, sampleAspectRatio(2))
	assert.Equal(t, media.Ratio{Num: 160, Den: 99}, sampleAspectRatio(13))
	assert.Equal(t, media.Ratio{Num: 2, Den: 1}, sampleAspectRatio(16))
	assert.Equal(t, media.Ratio{Num: 1, Den: 1}, sampleAspectRatio(17))
}
