package compress

import (
	"math"

	"github.com/pkg/errors"

	"github.com/eeptools/cnt/internal/arith"
	"github.com/eeptools/cnt/internal/bits"
)

// Sample is the set of signed element types the codec carries.
type Sample interface {
	int8 | int16 | int32 | int64
}

// sampleWidth returns the width of T in bits.
func sampleWidth[T Sample]() uint {
	switch any(T(0)).(type) {
	case int8:
		return 8
	case int16:
		return 16
	case int32:
		return 32
	default:
		return 64
	}
}

// codec carries the configuration and scratch shared by encoder and
// decoder instances. An instance is a single owner state machine: callers
// wanting parallelism run disjoint instances on disjoint matrices.
type codec struct {
	format Format
	width  uint // word width in bits
	order  []int16
	matrix []uint64 // canonical row major unsigned matrix, height*length
	prev   []uint64 // zero filled predictor of row 0
	area   int
	length int // scratch sized for this epoch length, 0 if unsized
}

// setRows configures the natural row order 0..height-1.
func (c *codec) setRows(height int) error {
	if height < 1 || height > math.MaxInt16 {
		return errors.Wrapf(ErrInvalidDimensions, "row count %d", height)
	}
	order := make([]int16, height)
	for i := range order {
		order[i] = int16(i)
	}
	c.order = order
	c.length = 0
	return nil
}

// setRowOrder configures an explicit storage order. The input must contain
// every row index exactly once.
func (c *codec) setRowOrder(order []int16) error {
	if len(order) < 1 {
		return errors.Wrap(ErrInvalidDimensions, "empty row order")
	}
	seen := make([]bool, len(order))
	for _, r := range order {
		if r < 0 || int(r) >= len(order) || seen[r] {
			return errors.Wrapf(ErrInvalidDimensions, "row order is not a permutation of 0..%d", len(order)-1)
		}
		seen[r] = true
	}
	c.order = append([]int16(nil), order...)
	c.length = 0
	return nil
}

// resize prepares the scratch buffers for one epoch length. The guarded
// area computation precedes every allocation sized by it.
func (c *codec) resize(length int) error {
	if len(c.order) == 0 {
		return errors.Wrap(ErrInvalidDimensions, "no rows configured")
	}
	if length < 1 {
		return errors.Wrapf(ErrInvalidDimensions, "epoch length %d", length)
	}
	if c.length == length {
		return nil
	}
	area, err := arith.Mul(int64(len(c.order)), int64(length))
	if err != nil {
		return err
	}
	if area > math.MaxInt32 {
		return errors.Wrapf(ErrArithmeticOverflow, "matrix area %d", area)
	}
	c.matrix = make([]uint64, area)
	c.prev = make([]uint64, length)
	c.area = int(area)
	c.length = length
	return nil
}

// An Encoder compresses epochs of a fixed row count and element width.
type Encoder[T Sample] struct {
	codec
	rows rowEncoder
}

// NewEncoder returns an encoder for the extended format at the width of T.
// Configure the row count or row order before the first call.
func NewEncoder[T Sample]() *Encoder[T] {
	w := sampleWidth[T]()
	return &Encoder[T]{
		codec: codec{format: Extended, width: w},
		rows:  newRowEncoder(w, Extended),
	}
}

// NewReflibEncoder returns an encoder for the reflib format, which is
// pinned to 32 bit samples.
func NewReflibEncoder() *Encoder[int32] {
	return &Encoder[int32]{
		codec: codec{format: Reflib, width: 32},
		rows:  newRowEncoder(32, Reflib),
	}
}

// SetRows configures height rows in natural order.
func (e *Encoder[T]) SetRows(height int) error { return e.setRows(height) }

// SetRowOrder configures an explicit storage order for the rows.
func (e *Encoder[T]) SetRowOrder(order []int16) error { return e.setRowOrder(order) }

// RowCount returns the configured number of rows.
func (e *Encoder[T]) RowCount() int { return len(e.order) }

// RowOrder returns a copy of the configured storage order.
func (e *Encoder[T]) RowOrder() []int16 { return append([]int16(nil), e.order...) }

// EncodeRowMajor compresses a matrix stored row by row.
func (e *Encoder[T]) EncodeRowMajor(matrix []T, length int) ([]byte, error) {
	return e.encode(matrix, length, false)
}

// EncodeColumnMajor compresses a matrix stored sample by sample.
func (e *Encoder[T]) EncodeColumnMajor(matrix []T, length int) ([]byte, error) {
	return e.encode(matrix, length, true)
}

func (e *Encoder[T]) encode(src []T, length int, columnMajor bool) ([]byte, error) {
	if err := e.resize(length); err != nil {
		return nil, err
	}
	if err := e.rows.resize(length); err != nil {
		return nil, err
	}
	if len(src) != e.area {
		return nil, errors.Wrapf(ErrInvalidDimensions, "matrix size %d, want %dx%d", len(src), len(e.order), length)
	}

	mask := bits.Mask(e.width)
	if columnMajor {
		fromClientColumnMajor(e.matrix, src, e.order, length, mask)
	} else {
		fromClientRowMajor(e.matrix, src, e.order, length, mask)
	}

	bound, err := maxEncodedSize(len(e.order), length, e.width)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, bound)
	n, err := encodeMatrix(&e.rows, e.matrix, e.prev, len(e.order), length, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// A Decoder decompresses epochs of a fixed row count and element width.
// It must be configured with the same row count or order as the encoder
// that produced the stream.
type Decoder[T Sample] struct {
	codec
}

// NewDecoder returns a decoder for the extended format at the width of T.
func NewDecoder[T Sample]() *Decoder[T] {
	return &Decoder[T]{codec: codec{format: Extended, width: sampleWidth[T]()}}
}

// NewReflibDecoder returns a decoder for the reflib format.
func NewReflibDecoder() *Decoder[int32] {
	return &Decoder[int32]{codec: codec{format: Reflib, width: 32}}
}

// SetRows configures height rows in natural order.
func (d *Decoder[T]) SetRows(height int) error { return d.setRows(height) }

// SetRowOrder configures an explicit storage order for the rows.
func (d *Decoder[T]) SetRowOrder(order []int16) error { return d.setRowOrder(order) }

// RowCount returns the configured number of rows.
func (d *Decoder[T]) RowCount() int { return len(d.order) }

// DecodeRowMajor decompresses a stream into a matrix stored row by row.
func (d *Decoder[T]) DecodeRowMajor(data []byte, length int) ([]T, error) {
	return d.decode(data, length, false)
}

// DecodeColumnMajor decompresses a stream into a matrix stored sample by
// sample.
func (d *Decoder[T]) DecodeColumnMajor(data []byte, length int) ([]T, error) {
	return d.decode(data, length, true)
}

func (d *Decoder[T]) decode(data []byte, length int, columnMajor bool) ([]T, error) {
	if err := d.resize(length); err != nil {
		return nil, err
	}
	if err := decodeMatrix(data, d.matrix, d.prev, len(d.order), length, d.width, d.format); err != nil {
		return nil, err
	}
	out := make([]T, d.area)
	if columnMajor {
		toClientColumnMajor(out, d.matrix, d.order, length, d.width)
	} else {
		toClientRowMajor(out, d.matrix, d.order, length, d.width)
	}
	return out, nil
}
