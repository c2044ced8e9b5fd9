package compress

import (
	"github.com/pkg/errors"

	"github.com/eeptools/cnt/internal/arith"
)

// Error kinds surfaced at the encode/decode boundary; match with errors.Is.
// Every failure caused by the input or the output space wraps one of these;
// the row encoder's internal self checks (invalid chosen parameters, size
// prediction mismatch) report plain errors.
var (
	// ErrInvalidDimensions reports a height, length or row order that does
	// not satisfy its invariants or does not match the configured instance.
	ErrInvalidDimensions = errors.New("invalid dimensions")

	// ErrInvalidHeader reports a decoded method, width or data size outside
	// its allowed range.
	ErrInvalidHeader = errors.New("invalid block header")

	// ErrTruncated reports a byte stream that ends mid-word or mid-header.
	ErrTruncated = errors.New("truncated input")

	// ErrTrailingBytes reports input bytes left over after the last row.
	ErrTrailingBytes = errors.New("trailing bytes after last row")

	// ErrBufferOverflow reports a bit writer running out of output space.
	ErrBufferOverflow = errors.New("bit writer buffer overflow")

	// ErrEmptyInput reports a bit reader constructed over an empty range.
	ErrEmptyInput = errors.New("empty input")

	// ErrArithmeticOverflow reports a size computation that would not fit
	// in its target type, caught before any allocation.
	ErrArithmeticOverflow = arith.ErrOverflow
)
