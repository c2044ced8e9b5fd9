package compress

import (
	"github.com/pkg/errors"

	"github.com/eeptools/cnt/internal/bits"
)

// Format selects the header discipline of the wire format.
type Format int

const (
	// Reflib is the reference-library format: 4 byte words only, with a
	// two entry data size table.
	Reflib Format = iota
	// Extended supports 1, 2, 4 and 8 byte words.
	Extended
)

func (f Format) String() string {
	if f == Reflib {
		return "reflib"
	}
	return "extended"
}

// Reduction methods, in wire order.
type method uint8

const (
	methodCopy method = iota
	methodTime
	methodTime2
	methodChan
	methodCount
)

func (m method) String() string {
	switch m {
	case methodCopy:
		return "copy"
	case methodTime:
		return "time"
	case methodTime2:
		return "time2"
	case methodChan:
		return "chan"
	}
	return "invalid"
}

// sizeTable returns the word widths, in bytes, selectable by the two bit
// data size code of the format. Unlisted reflib codes are reserved.
func (f Format) sizeTable() []uint8 {
	if f == Reflib {
		return []uint8{2, 4}
	}
	return []uint8{1, 2, 4, 8}
}

// sizeCode returns the data size code for a word of the given size.
func (f Format) sizeCode(size uint8) (uint64, error) {
	for code, s := range f.sizeTable() {
		if s == size {
			return uint64(code), nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidHeader, "no %s data size code for %d byte words", f, size)
}

// decodeSize returns the word size, in bytes, selected by a data size code.
func (f Format) decodeSize(code uint64) (uint8, error) {
	table := f.sizeTable()
	if code >= uint64(len(table)) {
		return 0, errors.Wrapf(ErrInvalidHeader, "reserved %s data size code %d", f, code)
	}
	return table[code], nil
}

// nFieldWidth returns the width of the n and nexc header fields for words of
// the given size: enough bits for any value in [0, 8*size].
func nFieldWidth(size uint8) uint {
	switch size {
	case 1:
		return 4
	case 2:
		return 5
	case 4:
		return 6
	default:
		return 7
	}
}

// headerWidth returns the size in bits of a block header carrying a master
// word of the given data size: the two 2-bit data size and method fields,
// n and nexc, and the master at full word width.
func headerWidth(size uint8) int64 {
	return 2 + 2 + 2*int64(nFieldWidth(size)) + 8*int64(size)
}

// minDataSize returns the smallest word size in the format table that holds
// both the widest residual (nexc) and the master.
func minDataSize(nexc, master uint, f Format) uint8 {
	for _, size := range f.sizeTable() {
		if nexc <= 8*uint(size) && master <= 8*uint(size) {
			return size
		}
	}
	// nexc and master are bounded by the word width of the codec, which is
	// always the last table entry.
	table := f.sizeTable()
	return table[len(table)-1]
}

// exceptionMarker returns the reserved n-bit escape pattern: only the high
// bit set, the most negative n-bit integer.
func exceptionMarker(n uint) uint64 {
	return uint64(1) << (n - 1)
}

// isExceptionMarker reports whether the low n bits of v equal the escape
// pattern.
func isExceptionMarker(v uint64, n uint) bool {
	return v&bits.Mask(n) == exceptionMarker(n)
}

// blockParams is the decoded per-row preamble.
type blockParams struct {
	dataSize uint8 // master word size in bytes
	method   method
	n        uint // bits per non-exception residual
	nexc     uint // bits per exception
}

// validBlockParams reports whether the parameters satisfy the header
// invariants for a codec of the given word width (in bits).
func validBlockParams(p blockParams, width uint, f Format) bool {
	if _, err := f.sizeCode(p.dataSize); err != nil {
		return false
	}
	if 8*uint(p.dataSize) > width {
		return false
	}
	if p.method >= methodCount {
		return false
	}
	return 2 <= p.n && p.n <= p.nexc && p.nexc <= 8*uint(p.dataSize)
}

// encodeHeader emits the block preamble in wire order: data size, method,
// n, nexc, master.
//
// Header layout (pseudo code):
//
//	data_size uint2        // index into the format's word size table
//	method    uint2        // copy=0, time=1, time2=2, chan=3
//	n         uintF        // F = 4, 5, 6, 7 for 1, 2, 4, 8 byte words
//	nexc      uintF
//	master    uint8*size   // first residual, full data size width
func encodeHeader(bw *bitWriter, p blockParams, master uint64, f Format) error {
	code, err := f.sizeCode(p.dataSize)
	if err != nil {
		return err
	}
	fw := nFieldWidth(p.dataSize)
	if err := bw.WriteBits(code, 2); err != nil {
		return err
	}
	if err := bw.WriteBits(uint64(p.method), 2); err != nil {
		return err
	}
	if err := bw.WriteBits(uint64(p.n), fw); err != nil {
		return err
	}
	if err := bw.WriteBits(uint64(p.nexc), fw); err != nil {
		return err
	}
	return bw.WriteBits(master, 8*uint(p.dataSize))
}

// decodeHeader reads and validates the block preamble. The returned master
// is sign extended to the word width of the codec (in bits).
func decodeHeader(br *bitReader, width uint, f Format) (blockParams, uint64, error) {
	var p blockParams

	code, err := br.ReadBits(2)
	if err != nil {
		return p, 0, err
	}
	p.dataSize, err = f.decodeSize(code)
	if err != nil {
		return p, 0, err
	}
	if 8*uint(p.dataSize) > width {
		return p, 0, errors.Wrapf(ErrInvalidHeader, "%d byte data size exceeds %d bit words", p.dataSize, width)
	}

	m, err := br.ReadBits(2)
	if err != nil {
		return p, 0, err
	}
	p.method = method(m)

	fw := nFieldWidth(p.dataSize)
	n, err := br.ReadBits(fw)
	if err != nil {
		return p, 0, err
	}
	nexc, err := br.ReadBits(fw)
	if err != nil {
		return p, 0, err
	}
	p.n, p.nexc = uint(n), uint(nexc)
	if p.n < 2 || p.n > p.nexc || p.nexc > 8*uint(p.dataSize) {
		return p, 0, errors.Wrapf(ErrInvalidHeader, "widths n=%d nexc=%d for %d byte words", p.n, p.nexc, p.dataSize)
	}

	raw, err := br.ReadBits(8 * uint(p.dataSize))
	if err != nil {
		return p, 0, err
	}
	return p, bits.Extend(raw, 8*uint(p.dataSize), width), nil
}

// encodeBlock emits one row: header, then the residual stream, then zero
// padding to the next byte boundary. residuals[0] is the master, carried by
// the header. emap marks the residuals to quote behind the exception
// marker; it is ignored for fixed width encoding (n == nexc). Returns the
// number of bytes consumed by header and payload.
func encodeBlock(bw *bitWriter, residuals []uint64, emap []bool, p blockParams, f Format) (int, error) {
	start := bw.Offset()
	if err := encodeHeader(bw, p, residuals[0]&bits.Mask(8*uint(p.dataSize)), f); err != nil {
		return 0, err
	}

	if p.n == p.nexc {
		for _, v := range residuals[1:] {
			if err := bw.WriteBits(v, p.n); err != nil {
				return 0, err
			}
		}
	} else {
		marker := exceptionMarker(p.n)
		for i, v := range residuals[1:] {
			if !emap[i+1] {
				if err := bw.WriteBits(v, p.n); err != nil {
					return 0, err
				}
				continue
			}
			if err := bw.WriteBits(marker, p.n); err != nil {
				return 0, err
			}
			if err := bw.WriteBits(v, p.nexc); err != nil {
				return 0, err
			}
		}
	}

	end, err := bw.Flush()
	if err != nil {
		return 0, err
	}
	return end - start, nil
}

// decodeBlock reads one row of len(out) residuals into out, sign extended
// to the word width of the codec, and leaves the reader at the next byte
// boundary. Returns the reduction method so the caller can invert it.
func decodeBlock(br *bitReader, out []uint64, width uint, f Format) (method, error) {
	p, master, err := decodeHeader(br, width, f)
	if err != nil {
		return 0, err
	}
	out[0] = master

	if p.n == p.nexc {
		for i := 1; i < len(out); i++ {
			v, err := br.ReadBits(p.n)
			if err != nil {
				return 0, err
			}
			out[i] = bits.Extend(v, p.n, width)
		}
	} else {
		marker := exceptionMarker(p.n)
		for i := 1; i < len(out); i++ {
			v, err := br.ReadBits(p.n)
			if err != nil {
				return 0, err
			}
			if v == marker {
				v, err = br.ReadBits(p.nexc)
				if err != nil {
					return 0, err
				}
				out[i] = bits.Extend(v, p.nexc, width)
				continue
			}
			out[i] = bits.Extend(v, p.n, width)
		}
	}

	br.Flush()
	return p.method, nil
}
