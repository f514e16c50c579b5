package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aacPayload(headersLength uint16, size int, au []byte) []byte {
	p := []byte{byte(headersLength >> 8), byte(headersLength), byte(size >> 5), byte(size << 3)}
	return append(p, au...)
}

func TestAACDepacketizer(t *testing.T) {
	d := NewAACDepacketizer()
	au := []byte{0x21, 0x10, 0x05, 0x00, 0xa0, 0x1b}

	payload := aacPayload(16, len(au), au)
	s := d.Depacketize(Position{Discontinuity: true}, payload)
	require.NotNil(t, s)
	assert.Equal(t, au, s.Data)
	assert.Equal(t, []int{len(au)}, s.Lengths)
	assert.False(t, s.KeyFrame)
	assert.True(t, s.Discontinuity)

	// The sample owns its bytes.
	payload[4] = 0
	assert.Equal(t, byte(0x21), s.Data[0])

	s = d.Depacketize(Position{Ticks: 1024, Time: 213333}, aacPayload(16, len(au), au))
	require.NotNil(t, s)
	assert.False(t, s.Discontinuity)
	assert.EqualValues(t, 213333, s.Time)

	// Trailing bytes beyond the AU size are ignored.
	s = d.Depacketize(Position{Ticks: 2048}, aacPayload(16, 2, au))
	require.NotNil(t, s)
	assert.Equal(t, au[:2], s.Data)

	// 13-bit sizes.
	big := make([]byte, 8191)
	s = d.Depacketize(Position{Ticks: 3072}, aacPayload(16, len(big), big))
	require.NotNil(t, s)
	assert.Len(t, s.Data, 8191)
}

func TestAACDepacketizerDrops(t *testing.T) {
	d := NewAACDepacketizer()
	au := []byte{1, 2, 3, 4}

	assert.Nil(t, d.Depacketize(Position{Discontinuity: true}, aacPayload(32, len(au), au)))
	assert.Nil(t, d.Depacketize(Position{}, aacPayload(16, len(au)+1, au)))
	assert.Nil(t, d.Depacketize(Position{}, []byte{0x00, 0x10, 0x00}))
	assert.Nil(t, d.Depacketize(Position{}, nil))
	assert.EqualValues(t, 4, d.Dropped())

	// The discontinuity carries over to the next good sample.
	s := d.Depacketize(Position{}, aacPayload(16, len(au), au))
	require.NotNil(t, s)
	assert.True(t, s.Discontinuity)

	d.Depacketize(Position{Discontinuity: true}, nil)
	d.Reset()
	s = d.Depacketize(Position{}, aacPayload(16, len(au), au))
	require.NotNil(t, s)
	assert.False(t, s.Discontinuity)
}
