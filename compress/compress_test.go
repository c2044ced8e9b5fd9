package compress

import (
	"bytes"
	"math"
	"testing"

	"github.com/pkg/errors"
)

// xorshift keeps the property tests deterministic across runs.
type xorshift uint64

func (x *xorshift) next() uint64 {
	v := uint64(*x)
	v ^= v << 13
	v ^= v >> 7
	v ^= v << 17
	*x = xorshift(v)
	return v
}

func randomMatrix[T Sample](rnd *xorshift, size int) []T {
	m := make([]T, size)
	for i := range m {
		m[i] = T(rnd.next())
	}
	return m
}

func roundTrip[T Sample](t *testing.T, enc *Encoder[T], dec *Decoder[T], matrix []T, length int, columnMajor bool) []byte {
	t.Helper()
	var (
		data []byte
		got  []T
		err  error
	)
	if columnMajor {
		data, err = enc.EncodeColumnMajor(matrix, length)
	} else {
		data, err = enc.EncodeRowMajor(matrix, length)
	}
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if columnMajor {
		got, err = dec.DecodeColumnMajor(data, length)
	} else {
		got, err = dec.DecodeRowMajor(data, length)
	}
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(matrix) {
		t.Fatalf("decoded size mismatch; expected %d, got %d", len(matrix), len(got))
	}
	for i := range matrix {
		if got[i] != matrix[i] {
			t.Fatalf("sample %d mismatch; expected %d, got %d", i, matrix[i], got[i])
		}
	}
	return data
}

func sweep[T Sample](t *testing.T, newEnc func() *Encoder[T], newDec func() *Decoder[T]) {
	rnd := xorshift(0x6a09e667f3bcc909)
	heights := []int{1, 2, 3, 5, 16}
	lengths := []int{1, 2, 3, 4, 63, 64}
	for _, h := range heights {
		for _, l := range lengths {
			enc, dec := newEnc(), newDec()
			if err := enc.SetRows(h); err != nil {
				t.Fatalf("h=%d: %v", h, err)
			}
			if err := dec.SetRows(h); err != nil {
				t.Fatalf("h=%d: %v", h, err)
			}
			matrix := randomMatrix[T](&rnd, h*l)
			roundTrip(t, enc, dec, matrix, l, false)
			roundTrip(t, enc, dec, matrix, l, true)
		}
	}
}

func TestRoundTripExtended(t *testing.T) {
	t.Run("int8", func(t *testing.T) { sweep(t, NewEncoder[int8], NewDecoder[int8]) })
	t.Run("int16", func(t *testing.T) { sweep(t, NewEncoder[int16], NewDecoder[int16]) })
	t.Run("int32", func(t *testing.T) { sweep(t, NewEncoder[int32], NewDecoder[int32]) })
	t.Run("int64", func(t *testing.T) { sweep(t, NewEncoder[int64], NewDecoder[int64]) })
}

func TestRoundTripReflib(t *testing.T) {
	sweep(t, NewReflibEncoder, NewReflibDecoder)
}

func TestScenarioReflibColumnMajor(t *testing.T) {
	// 3 channels, 4 samples, column major client layout.
	enc, dec := NewReflibEncoder(), NewReflibDecoder()
	if err := enc.SetRows(3); err != nil {
		t.Fatal(err)
	}
	if err := dec.SetRows(3); err != nil {
		t.Fatal(err)
	}
	matrix := []int32{11, 21, 31, 12, 22, 32, 13, 23, 33, 14, 24, 34}
	roundTrip(t, enc, dec, matrix, 4, true)
}

func TestScenarioExtendedRowMajor(t *testing.T) {
	enc, dec := NewEncoder[int16](), NewDecoder[int16]()
	if err := enc.SetRows(3); err != nil {
		t.Fatal(err)
	}
	if err := dec.SetRows(3); err != nil {
		t.Fatal(err)
	}
	matrix := []int16{11, 12, 13, 14, 21, 22, 23, 24, 31, 32, 33, 34}
	roundTrip(t, enc, dec, matrix, 4, false)
}

func TestScenarioExtendedWide(t *testing.T) {
	enc, dec := NewEncoder[int64](), NewDecoder[int64]()
	if err := enc.SetRows(3); err != nil {
		t.Fatal(err)
	}
	if err := dec.SetRows(3); err != nil {
		t.Fatal(err)
	}
	matrix := []int64{11, 12, 13, 14, 21, 22, 23, 24, 31, 32, 33, 34}
	roundTrip(t, enc, dec, matrix, 4, false)
}

func TestScenarioBoundary(t *testing.T) {
	// A single sample at the most negative value of every width: the block
	// is header and master only.
	t.Run("int8", func(t *testing.T) {
		enc, dec := NewEncoder[int8](), NewDecoder[int8]()
		enc.SetRows(1)
		dec.SetRows(1)
		roundTrip(t, enc, dec, []int8{math.MinInt8}, 1, false)
	})
	t.Run("int16", func(t *testing.T) {
		enc, dec := NewEncoder[int16](), NewDecoder[int16]()
		enc.SetRows(1)
		dec.SetRows(1)
		roundTrip(t, enc, dec, []int16{math.MinInt16}, 1, false)
	})
	t.Run("int32", func(t *testing.T) {
		enc, dec := NewEncoder[int32](), NewDecoder[int32]()
		enc.SetRows(1)
		dec.SetRows(1)
		roundTrip(t, enc, dec, []int32{math.MinInt32}, 1, false)
	})
	t.Run("int64", func(t *testing.T) {
		enc, dec := NewEncoder[int64](), NewDecoder[int64]()
		enc.SetRows(1)
		dec.SetRows(1)
		roundTrip(t, enc, dec, []int64{math.MinInt64}, 1, false)
	})
	t.Run("reflib", func(t *testing.T) {
		enc, dec := NewReflibEncoder(), NewReflibDecoder()
		enc.SetRows(1)
		dec.SetRows(1)
		data := roundTrip(t, enc, dec, []int32{math.MinInt32}, 1, false)
		if want := int((headerWidth(4) + 7) / 8); len(data) != want {
			t.Fatalf("stream size mismatch; expected %d, got %d", want, len(data))
		}
	})
}

func TestScenarioCopyFallback(t *testing.T) {
	// A sawtooth whose first and second differences all need the full 8
	// bits: no reduction beats the raw copy, and ties go to copy.
	const length = 32
	matrix := make([]int8, length)
	v := int8(0)
	for i := 1; i < length; i++ {
		if i%2 == 1 {
			v += 64
		} else {
			v -= 65
		}
		matrix[i] = v
	}

	enc, dec := NewEncoder[int8](), NewDecoder[int8]()
	enc.SetRows(1)
	dec.SetRows(1)
	data := roundTrip(t, enc, dec, matrix, length, false)

	br, err := newBitReader(data)
	if err != nil {
		t.Fatal(err)
	}
	p, _, err := decodeHeader(br, 8, Extended)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if p.method != methodCopy {
		t.Fatalf("method mismatch; expected %v, got %v", methodCopy, p.method)
	}
	if p.n != 8 || p.nexc != 8 {
		t.Fatalf("copy widths mismatch; expected 8/8, got %d/%d", p.n, p.nexc)
	}
}

func TestScenarioTrailingBytes(t *testing.T) {
	enc, dec := NewReflibEncoder(), NewReflibDecoder()
	enc.SetRows(3)
	dec.SetRows(3)
	matrix := []int32{11, 12, 13, 14, 21, 22, 23, 24, 31, 32, 33, 34}
	data, err := enc.EncodeRowMajor(matrix, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dec.DecodeRowMajor(append(data, 0), 4); !errors.Is(err, ErrTrailingBytes) {
		t.Fatalf("expected ErrTrailingBytes, got %v", err)
	}
}

func TestPermutationStability(t *testing.T) {
	order := []int16{2, 0, 1}
	enc, dec := NewEncoder[int16](), NewDecoder[int16]()
	if err := enc.SetRowOrder(order); err != nil {
		t.Fatal(err)
	}
	if err := dec.SetRowOrder(order); err != nil {
		t.Fatal(err)
	}
	rnd := xorshift(7)
	matrix := randomMatrix[int16](&rnd, 3*16)
	roundTrip(t, enc, dec, matrix, 16, false)
	roundTrip(t, enc, dec, matrix, 16, true)
}

func TestEncodeDeterminism(t *testing.T) {
	enc := NewEncoder[int32]()
	enc.SetRows(4)
	rnd := xorshift(11)
	matrix := randomMatrix[int32](&rnd, 4*40)
	a, err := enc.EncodeRowMajor(matrix, 40)
	if err != nil {
		t.Fatal(err)
	}
	b, err := enc.EncodeRowMajor(matrix, 40)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("repeated encode produced different bytes")
	}
}

func TestReencodeStability(t *testing.T) {
	// Decoded values re-encode to a stream that decodes to the same
	// values; byte identity of the streams is not required.
	enc, dec := NewEncoder[int16](), NewDecoder[int16]()
	enc.SetRows(5)
	dec.SetRows(5)
	rnd := xorshift(13)
	matrix := randomMatrix[int16](&rnd, 5*33)
	data, err := enc.EncodeRowMajor(matrix, 33)
	if err != nil {
		t.Fatal(err)
	}
	first, err := dec.DecodeRowMajor(data, 33)
	if err != nil {
		t.Fatal(err)
	}
	data2, err := enc.EncodeRowMajor(first, 33)
	if err != nil {
		t.Fatal(err)
	}
	second, err := dec.DecodeRowMajor(data2, 33)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sample %d mismatch; expected %d, got %d", i, first[i], second[i])
		}
	}
}

func TestHeaderInvariantsAfterDecode(t *testing.T) {
	// Every row header of an encoded stream satisfies 2 <= n <= nexc <=
	// 8*data_size, with the data size large enough for nexc.
	enc := NewEncoder[int32]()
	enc.SetRows(8)
	rnd := xorshift(17)
	matrix := randomMatrix[int32](&rnd, 8*21)
	data, err := enc.EncodeRowMajor(matrix, 21)
	if err != nil {
		t.Fatal(err)
	}
	br, err := newBitReader(data)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]uint64, 21)
	for row := 0; row < 8; row++ {
		p, _, err := decodeHeader(br, 32, Extended)
		if err != nil {
			t.Fatalf("row %d: header: %v", row, err)
		}
		if p.n < 2 || p.n > p.nexc || p.nexc > 8*uint(p.dataSize) {
			t.Fatalf("row %d: invalid widths n=%d nexc=%d size=%d", row, p.n, p.nexc, p.dataSize)
		}
		if !validBlockParams(p, 32, Extended) {
			t.Fatalf("row %d: parameters rejected: %+v", row, p)
		}
		// Skip the payload: residuals and escapes up to the row boundary.
		marker := exceptionMarker(p.n)
		for i := 1; i < len(out); i++ {
			v, err := br.ReadBits(p.n)
			if err != nil {
				t.Fatalf("row %d: payload: %v", row, err)
			}
			if p.n < p.nexc && v == marker {
				if _, err := br.ReadBits(p.nexc); err != nil {
					t.Fatalf("row %d: exception: %v", row, err)
				}
			}
		}
		br.Flush()
	}
}

func TestInvalidDimensions(t *testing.T) {
	enc := NewEncoder[int16]()
	if err := enc.SetRows(0); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("expected ErrInvalidDimensions, got %v", err)
	}
	if err := enc.SetRowOrder([]int16{0, 0, 1}); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("duplicated order: expected ErrInvalidDimensions, got %v", err)
	}
	if err := enc.SetRowOrder([]int16{0, 2}); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("incomplete order: expected ErrInvalidDimensions, got %v", err)
	}
	if _, err := enc.EncodeRowMajor([]int16{1, 2, 3}, 3); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("no rows: expected ErrInvalidDimensions, got %v", err)
	}
	enc.SetRows(2)
	if _, err := enc.EncodeRowMajor([]int16{1, 2, 3}, 2); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("size mismatch: expected ErrInvalidDimensions, got %v", err)
	}
	if _, err := enc.EncodeRowMajor(nil, 0); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("zero length: expected ErrInvalidDimensions, got %v", err)
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	dec := NewDecoder[int16]()
	dec.SetRows(1)
	if _, err := dec.DecodeRowMajor(nil, 4); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}
