package compress

import (
	"io"

	"github.com/icza/bitio"
	"github.com/pkg/errors"

	"github.com/eeptools/cnt/internal/bits"
)

// The byte stream is consumed most significant bit first: bit 7 of byte N
// precedes bit 0 of byte N, which precedes bit 7 of byte N+1. A bit group
// may span adjacent bytes. bitio supplies the accumulator; the wrappers add
// the bounded-range accounting so that a write or read past the range fails
// at the offending call rather than at the end of the stream.

// sliceSink is the byte destination behind bitWriter. The range is
// allocated up front and zero filled; running past it reports
// ErrBufferOverflow.
type sliceSink struct {
	dst []byte
	pos int
}

func (s *sliceSink) WriteByte(c byte) error {
	if s.pos >= len(s.dst) {
		return errors.WithStack(ErrBufferOverflow)
	}
	s.dst[s.pos] = c
	s.pos++
	return nil
}

func (s *sliceSink) Write(p []byte) (int, error) {
	for i, c := range p {
		if err := s.WriteByte(c); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// bitWriter packs variable width words into a byte range [first, last).
type bitWriter struct {
	sink      sliceSink
	w         *bitio.Writer
	remaining int64 // writable bits left in the range
}

func newBitWriter(dst []byte) *bitWriter {
	bw := &bitWriter{
		sink:      sliceSink{dst: dst},
		remaining: int64(len(dst)) * 8,
	}
	bw.w = bitio.NewWriter(&bw.sink)
	return bw
}

// WriteBits appends the n least significant bits of v to the stream.
// Writing 0 bits is a valid no-op.
func (bw *bitWriter) WriteBits(v uint64, n uint) error {
	if n == 0 {
		return nil
	}
	if bw.remaining < int64(n) {
		return errors.Wrapf(ErrBufferOverflow, "write of %d bits with %d left", n, bw.remaining)
	}
	bw.remaining -= int64(n)
	return bw.w.WriteBits(v&bits.Mask(n), uint8(n))
}

// Flush pads the pending partial byte with zero bits and returns the
// position one past the last byte written. The accumulator is empty
// afterwards; the writer may continue on the next byte boundary.
func (bw *bitWriter) Flush() (int, error) {
	skipped, err := bw.w.Align()
	if err != nil {
		return bw.sink.pos, err
	}
	bw.remaining -= int64(skipped)
	return bw.sink.pos, nil
}

// Offset returns the number of bytes emitted so far. Meaningful on byte
// boundaries, that is, directly after Flush.
func (bw *bitWriter) Offset() int {
	return bw.sink.pos
}

// sliceSource is the byte source behind bitReader.
type sliceSource struct {
	src []byte
	pos int
}

func (s *sliceSource) ReadByte() (byte, error) {
	if s.pos >= len(s.src) {
		return 0, io.EOF
	}
	c := s.src[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceSource) Read(p []byte) (int, error) {
	n := copy(p, s.src[s.pos:])
	s.pos += n
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// bitReader unpacks variable width words from a byte range [first, last).
type bitReader struct {
	src       sliceSource
	r         *bitio.Reader
	remaining int64 // readable bits left in the range
}

func newBitReader(src []byte) (*bitReader, error) {
	if len(src) == 0 {
		return nil, errors.WithStack(ErrEmptyInput)
	}
	br := &bitReader{
		src:       sliceSource{src: src},
		remaining: int64(len(src)) * 8,
	}
	br.r = bitio.NewReader(&br.src)
	return br, nil
}

// ReadBits returns the next n bits of the stream, zero extended. Reading
// past the range fails with ErrTruncated.
func (br *bitReader) ReadBits(n uint) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	if br.remaining < int64(n) {
		return 0, errors.Wrapf(ErrTruncated, "read of %d bits with %d left", n, br.remaining)
	}
	br.remaining -= int64(n)
	v, err := br.r.ReadBits(uint8(n))
	if err != nil {
		return 0, errors.Wrapf(ErrTruncated, "bit read: %v", err)
	}
	return v, nil
}

// Flush discards the bits still pending from the current byte and returns
// the position of the next unread byte.
func (br *bitReader) Flush() int {
	skipped := br.r.Align()
	br.remaining -= int64(skipped)
	return br.src.pos
}
