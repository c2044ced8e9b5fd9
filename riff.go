package cnt

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// RiffType selects the envelope variant of a CNT file: the classic 32 bit
// chunked layout, or the 64 bit layout for recordings past 4 GB.
type RiffType int

const (
	// Riff32 stores 32 bit chunk sizes, epoch offsets and trigger samples.
	Riff32 RiffType = iota
	// Riff64 stores the same fields at 64 bit.
	Riff64
)

func (t RiffType) String() string {
	if t == Riff64 {
		return "rf64"
	}
	return "riff"
}

// rootID is the four byte signature at the start of the file.
func (t RiffType) rootID() string {
	if t == Riff64 {
		return "RF64"
	}
	return "RIFF"
}

// sizeBytes is the width of chunk size fields.
func (t RiffType) sizeBytes() int {
	if t == Riff64 {
		return 8
	}
	return 4
}

// wordBytes is the width of epoch offsets and trigger sample numbers.
func (t RiffType) wordBytes() int {
	if t == Riff64 {
		return 8
	}
	return 4
}

// Chunk labels recognized by the reader. raw3 is a list holding the row
// order, the epoch table and the compressed sample data.
const (
	formLabel = "CNT "
	listID    = "LIST"
	labelRaw3 = "raw3"
	labelChan = "chan"
	labelEp   = "ep  "
	labelData = "data"
	labelEeph = "eeph"
	labelEvt  = "evt "
	labelInfo = "info"
)

// A chunk locates one payload region in the file.
type chunk struct {
	id   string
	pos  int64 // payload offset; for lists, the offset of the list label
	size int64 // payload size; for lists, the label and the children
}

// readLabel reads a four byte chunk or list label.
func readLabel(r io.Reader) (string, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", err
	}
	return string(buf[:]), nil
}

// readSize reads a chunk size field at the width of the variant.
func readSize(r io.Reader, t RiffType) (int64, error) {
	if t == Riff64 {
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		if v > 1<<62 {
			return 0, errors.Wrapf(ErrMalformed, "chunk size %d", v)
		}
		return int64(v), nil
	}
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return int64(v), nil
}

// writeSize writes a chunk size field at the width of the variant.
func writeSize(w io.Writer, t RiffType, size int64) error {
	if t == Riff64 {
		return binary.Write(w, binary.LittleEndian, uint64(size))
	}
	if size > 0xffffffff {
		return errors.Wrapf(ErrMalformed, "chunk size %d exceeds the 32 bit envelope", size)
	}
	return binary.Write(w, binary.LittleEndian, uint32(size))
}

// padded returns size rounded up to the even byte RIFF chunks align on.
func padded(size int64) int64 {
	return size + size&1
}

// walkChunks calls visit for every chunk in [pos, end), descending
// recursively into lists. visit receives the list label as parent for the
// children of a list, and an empty string at the top level.
func walkChunks(r io.ReadSeeker, t RiffType, pos, end int64, parent string, visit func(parent string, c chunk) error) error {
	header := int64(4 + t.sizeBytes())
	for pos+header <= end {
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return errors.WithStack(err)
		}
		id, err := readLabel(r)
		if err != nil {
			return errors.Wrapf(ErrMalformed, "chunk id at %d: %v", pos, err)
		}
		size, err := readSize(r, t)
		if err != nil {
			return errors.Wrapf(ErrMalformed, "chunk size at %d: %v", pos, err)
		}
		body := chunk{id: id, pos: pos + header, size: size}
		if body.pos+body.size > end {
			return errors.Wrapf(ErrMalformed, "chunk %q at %d overruns its parent", id, pos)
		}
		if id == listID {
			if size < 4 {
				return errors.Wrapf(ErrMalformed, "list chunk at %d too small for a label", pos)
			}
			label, err := readLabel(r)
			if err != nil {
				return errors.Wrapf(ErrMalformed, "list label at %d: %v", pos, err)
			}
			if err := walkChunks(r, t, body.pos+4, body.pos+size, label, visit); err != nil {
				return err
			}
		} else if err := visit(parent, body); err != nil {
			return err
		}
		pos = body.pos + padded(size)
	}
	return nil
}

// readPayload reads the payload of a chunk into memory.
func readPayload(r io.ReadSeeker, c chunk) ([]byte, error) {
	if _, err := r.Seek(c.pos, io.SeekStart); err != nil {
		return nil, errors.WithStack(err)
	}
	buf := make([]byte, c.size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "chunk %q payload: %v", c.id, err)
	}
	return buf, nil
}
