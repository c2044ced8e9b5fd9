package compress

import (
	"github.com/pkg/errors"

	"github.com/eeptools/cnt/internal/arith"
	"github.com/eeptools/cnt/internal/bits"
)

// bucket is one histogram bin for residual width w: how many residuals of
// the row need exactly w bits, and how many of those collide with the
// exception marker for w bits.
type bucket struct {
	count      int64
	exceptions int64
}

// reduction holds the residuals of one magnitude reduction together with
// the encoding parameters estimated for them.
type reduction struct {
	method    method
	dataSize  uint8
	n, nexc   uint
	size      int64 // predicted output size in bytes, header included
	residuals []uint64
	widths    []uint
	emap      []bool
}

// maxRowSize returns the worst case size in bytes of one encoded row:
// every residual at the exception boundary, n+nexc-1 bits each. This bound,
// not the chosen parameters, sizes the output allocation.
func maxRowSize(length int, width uint) (int64, error) {
	data, err := arith.Mul(int64(length), 2*int64(width)-1)
	if err != nil {
		return 0, err
	}
	total, err := arith.Add(headerWidth(uint8(width/8)), data)
	if err != nil {
		return 0, err
	}
	return arith.BytesFromBits(total)
}

// maxEncodedSize returns the output allocation bound for a whole matrix.
// Rows are byte aligned, so the per-row bound is rounded up before scaling.
func maxEncodedSize(height, length int, width uint) (int64, error) {
	row, err := maxRowSize(length, width)
	if err != nil {
		return 0, err
	}
	return arith.Mul(int64(height), row)
}

// rowEncoder compresses one row at a time, reusing its reduction and
// histogram scratch across rows and epochs.
type rowEncoder struct {
	width      uint // word width in bits
	format     Format
	reductions [methodCount]reduction
	histogram  []bucket // indexed by residual width, [0, 8W]
	sizes      []int64  // predicted bits per candidate n, [0, 8W]
	length     int      // scratch sized for this epoch length
}

func newRowEncoder(width uint, f Format) rowEncoder {
	e := rowEncoder{
		width:     width,
		format:    f,
		histogram: make([]bucket, width+1),
		sizes:     make([]int64, width+1),
	}
	for m := methodCopy; m < methodCount; m++ {
		e.reductions[m].method = m
	}
	return e
}

func (e *rowEncoder) resize(length int) error {
	if e.length == length {
		return nil
	}
	if _, err := maxRowSize(length, e.width); err != nil {
		return err
	}
	// The copy reduction reads the input row directly and needs no buffers.
	for m := methodTime; m < methodCount; m++ {
		r := &e.reductions[m]
		r.residuals = make([]uint64, length)
		r.widths = make([]uint, length)
		r.emap = make([]bool, length)
	}
	e.length = length
	return nil
}

// estimate computes the signed magnitude widths of the residuals and picks
// (data_size, n, nexc) minimizing the predicted block size for this
// reduction. The master (index 0) participates in the data size selection
// but not in the histogram, since it is carried by the header.
func (e *rowEncoder) estimate(r *reduction) {
	length := len(r.residuals)
	for i, v := range r.residuals {
		r.widths[i] = bits.SignedWidth(v, e.width)
	}

	// Single sample: master only, encoded as part of the header.
	if length == 1 {
		r.dataSize = uint8(e.width / 8)
		r.n, r.nexc = 2, 2
		r.size = (headerWidth(r.dataSize) + 7) / 8
		return
	}

	nexc := uint(2)
	for _, w := range r.widths[1:] {
		if w > nexc {
			nexc = w
		}
	}
	r.dataSize = minDataSize(nexc, r.widths[0], e.format)

	for i := range e.histogram {
		e.histogram[i] = bucket{}
	}
	for i := 1; i < length; i++ {
		w := r.widths[i]
		e.histogram[w].count++
		if isExceptionMarker(r.residuals[i], w) {
			e.histogram[w].exceptions++
		}
	}

	// All terms below are bounded by the worst case row size, which the
	// resize guard has already proven to fit.
	header := headerWidth(r.dataSize)
	rest := int64(length - 1)
	wider := rest
	for n := uint(2); n < nexc; n++ {
		wider -= e.histogram[n].count
		e.sizes[n] = header + int64(n)*rest + int64(nexc)*(wider+e.histogram[n].exceptions)
	}
	e.sizes[nexc] = header + int64(nexc)*rest

	bestN, bestBits := uint(2), e.sizes[2]
	for n := uint(3); n <= nexc; n++ {
		if e.sizes[n] < bestBits {
			bestN, bestBits = n, e.sizes[n]
		}
	}
	r.n, r.nexc = bestN, nexc
	r.size = (bestBits + 7) / 8
}

// compress reduces one row in every applicable way, picks the reduction
// with the smallest predicted output and emits its block. prev is the
// already encoded previous row, all zeroes above the first. Returns the
// number of bytes written.
func (e *rowEncoder) compress(bw *bitWriter, prev, row []uint64) (int, error) {
	length := len(row)
	mask := bits.Mask(e.width)

	cp := &e.reductions[methodCopy]
	cp.residuals = row
	cp.dataSize = uint8(e.width / 8)
	cp.n, cp.nexc = e.width, e.width
	cp.size = (headerWidth(cp.dataSize) + int64(length-1)*int64(e.width) + 7) / 8

	tm := &e.reductions[methodTime]
	tm2 := &e.reductions[methodTime2]
	ch := &e.reductions[methodChan]
	reduceTime(tm.residuals, row, mask)
	reduceTime2FromTime(tm2.residuals, tm.residuals, mask)
	reduceChanFromTime(ch.residuals, prev, row, tm.residuals, mask)
	e.estimate(tm)
	e.estimate(tm2)
	e.estimate(ch)

	// Smallest output wins; ties go to the first in enumeration order.
	best := cp
	for m := methodTime; m < methodCount; m++ {
		if e.reductions[m].size < best.size {
			best = &e.reductions[m]
		}
	}

	if best.n < best.nexc {
		best.emap[0] = false
		for i := 1; i < length; i++ {
			switch w := best.widths[i]; {
			case w < best.n:
				best.emap[i] = false
			case w == best.n:
				best.emap[i] = isExceptionMarker(best.residuals[i], best.n)
			default:
				best.emap[i] = true
			}
		}
	}

	params := blockParams{dataSize: best.dataSize, method: best.method, n: best.n, nexc: best.nexc}
	if !validBlockParams(params, e.width, e.format) {
		return 0, errors.Errorf("row encoding (%v): invalid parameters n=%d nexc=%d size=%d", best.method, best.n, best.nexc, best.dataSize)
	}
	written, err := encodeBlock(bw, best.residuals, best.emap, params, e.format)
	if err != nil {
		return 0, errors.Wrapf(err, "row encoding (%v)", best.method)
	}
	if int64(written) != best.size {
		return 0, errors.Errorf("row encoding (%v): predicted %d bytes, wrote %d", best.method, best.size, written)
	}
	return written, nil
}

// encodeMatrix compresses the canonical row major unsigned matrix into dst
// and returns the number of bytes used. prev is a zero filled row serving
// as the predictor of row 0; afterwards each row predicts its successor by
// pointer rotation.
func encodeMatrix(enc *rowEncoder, matrix, prev []uint64, height, length int, dst []byte) (int, error) {
	bw := newBitWriter(dst)
	for i := 0; i < height; i++ {
		row := matrix[i*length : (i+1)*length]
		if _, err := enc.compress(bw, prev, row); err != nil {
			return 0, errors.Wrapf(err, "row %d", i)
		}
		prev = row
	}
	return bw.Offset(), nil
}

// decodeMatrix decompresses data into the canonical row major unsigned
// matrix. The stream must be consumed exactly; leftover bytes fail with
// ErrTrailingBytes.
func decodeMatrix(data []byte, matrix, prev []uint64, height, length int, width uint, f Format) error {
	br, err := newBitReader(data)
	if err != nil {
		return err
	}
	mask := bits.Mask(width)
	for i := 0; i < height; i++ {
		row := matrix[i*length : (i+1)*length]
		m, err := decodeBlock(br, row, width, f)
		if err != nil {
			return errors.Wrapf(err, "row %d", i)
		}
		restoreMagnitude(prev, row, m, mask)
		prev = row
	}
	if pos := br.Flush(); pos != len(data) {
		return errors.Wrapf(ErrTrailingBytes, "%d of %d bytes consumed", pos, len(data))
	}
	return nil
}
