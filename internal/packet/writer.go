package packet

import (
	"encoding/binary"
)

var networkOrder = binary.BigEndian

// Writer accumulates big-endian fields into a growable byte slice.
type Writer struct {
	buffer []byte
}

// NewWriterSize returns a Writer with room for n bytes before it needs to grow.
func NewWriterSize(n int) *Writer {
	return &Writer{make([]byte, 0, n)}
}

func (w *Writer) WriteByte(v byte) {
	w.buffer = append(w.buffer, v)
}

func (w *Writer) WriteUint16(v uint16) {
	w.buffer = networkOrder.AppendUint16(w.buffer, v)
}

func (w *Writer) WriteUint32(v uint32) {
	w.buffer = networkOrder.AppendUint32(w.buffer, v)
}

func (w *Writer) WriteSlice(p []byte) {
	w.buffer = append(w.buffer, p...)
}

// Return the number of bytes written so far.
func (w *Writer) Length() int {
	return len(w.buffer)
}

// Return a slice of the bytes written so far. The slice aliases the writer's
// storage until the next Reset.
func (w *Writer) Bytes() []byte {
	return w.buffer
}

// Detach returns the bytes written so far and leaves the writer empty, with no
// reference to the returned slice.
func (w *Writer) Detach() []byte {
	b := w.buffer
	w.buffer = nil
	return b
}

func (w *Writer) Reset() {
	w.buffer = w.buffer[:0]
}
