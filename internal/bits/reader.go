// Package bits reads big-endian, MSB-first bit fields from a byte slice, as
// used by codec parameter set syntax.
package bits

import (
	"github.com/pkg/errors"
)

// ErrOverflow is returned by Err after a read ran past the end of the buffer.
var ErrOverflow = errors.New("bits: read past end of buffer")

// Maximum number of leading zero bits in an Exp-Golomb code. A uint64 cannot
// hold codeNum for longer prefixes.
const maxLeadingZeros = 63

// Reader is a bit reader over a byte slice. Reads past the end of the buffer
// return zero bits and make Err return ErrOverflow; callers check Err once
// after a sequence of reads instead of after each one.
type Reader struct {
	data []byte

	// Position of the next bit to read, counted from the MSB of data[0].
	pos int

	err error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}

// BitsLeft returns the number of unread bits.
func (r *Reader) BitsLeft() int {
	if n := len(r.data)*8 - r.pos; n > 0 {
		return n
	}
	return 0
}

// Aligned reports whether the next read starts on a byte boundary.
func (r *Reader) Aligned() bool {
	return r.pos%8 == 0
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) ReadBit() bool {
	if r.pos >= len(r.data)*8 {
		r.fail(ErrOverflow)
		return false
	}
	b := r.data[r.pos/8] >> uint(7-r.pos%8) & 1
	r.pos++
	return b == 1
}

// ReadFlag is ReadBit for syntax elements named *_flag.
func (r *Reader) ReadFlag() bool {
	return r.ReadBit()
}

// ReadBits reads an n-bit unsigned field, 0 <= n <= 64.
func (r *Reader) ReadBits(n int) uint64 {
	if n < 0 || n > 64 {
		r.fail(errors.Errorf("bits: invalid field width %d", n))
		return 0
	}
	var v uint64
	for i := 0; i < n; i++ {
		v <<= 1
		if r.ReadBit() {
			v |= 1
		}
	}
	return v
}

// ReadByte reads 8 bits. When the reader is byte-aligned this is a direct
// slice access.
func (r *Reader) ReadByte() byte {
	if !r.Aligned() {
		return byte(r.ReadBits(8))
	}
	i := r.pos / 8
	if i >= len(r.data) {
		r.fail(ErrOverflow)
		r.pos = len(r.data) * 8
		return 0
	}
	r.pos += 8
	return r.data[i]
}

// ReadBytes reads n bytes, 0 <= n <= 8, as a big-endian integer.
func (r *Reader) ReadBytes(n int) uint64 {
	if n < 0 || n > 8 {
		r.fail(errors.Errorf("bits: invalid byte count %d", n))
		return 0
	}
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<8 | uint64(r.ReadByte())
	}
	return v
}

// Skip discards n bits.
func (r *Reader) Skip(n int) {
	r.pos += n
	if r.pos > len(r.data)*8 {
		r.fail(ErrOverflow)
		r.pos = len(r.data) * 8
	}
}

// ReadUE reads an unsigned Exp-Golomb code, ue(v):
//
//	codeNum = 2^leadingZeroBits - 1 + read_bits(leadingZeroBits)
//
// See ITU-T H.264 section 9.1.
func (r *Reader) ReadUE() uint64 {
	leadingZeros := 0
	for !r.ReadBit() {
		if r.err != nil {
			return 0
		}
		leadingZeros++
		if leadingZeros > maxLeadingZeros {
			r.fail(errors.New("bits: Exp-Golomb prefix too long"))
			return 0
		}
	}
	return (1<<uint(leadingZeros) - 1) + r.ReadBits(leadingZeros)
}

// ReadSE reads a signed Exp-Golomb code, se(v). Odd codeNum values map to
// positive numbers and even ones to negative: 0, 1, -1, 2, -2, ...
// See ITU-T H.264 section 9.1.1.
func (r *Reader) ReadSE() int64 {
	k := r.ReadUE()
	v := int64((k + 1) >> 1)
	if k&1 == 0 {
		return -v
	}
	return v
}
