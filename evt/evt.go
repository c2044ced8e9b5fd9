// Package evt reads and writes the sidecar event archive that accompanies
// CNT recordings: a little endian record stream of annotated markers that
// live outside the trigger table of the container itself.
//
// The archive structure is:
//   - The four byte signature "EVT\x00" and a uint16 version.
//   - A uint32 record count.
//   - Records of (class uint16, size uint32, payload). Unknown classes are
//     skipped by their declared size, so archives written by newer tools
//     stay readable.
package evt

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Signature is present at the beginning of each event archive.
const Signature = "EVT\x00"

// Version of the archive layout this package writes.
const Version = 1

// Record classes.
const (
	// ClassMarker is a point or span annotation on the sample axis.
	ClassMarker = 1
)

// Error kinds of the archive layer.
var (
	// ErrMalformed reports an archive that violates the record grammar.
	ErrMalformed = errors.New("malformed event archive")
)

// A Marker annotates a sample range of the recording.
type Marker struct {
	// Stamp is the wall clock time of the event.
	Stamp time.Time
	// Offset is the sample number the event starts at.
	Offset int64
	// Duration of the event in seconds; zero for point events.
	Duration float64
	// Code is the short trigger-style label.
	Code string
	// Description is free-form annotation text.
	Description string
}

// An Archive is the decoded event file.
type Archive struct {
	// Markers in file order.
	Markers []Marker
}

// Open reads the event archive at path.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	return NewArchive(f)
}

// NewArchive decodes an event archive from r.
func NewArchive(r io.Reader) (*Archive, error) {
	sig := make([]byte, 4)
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "signature: %v", err)
	}
	if string(sig) != Signature {
		return nil, errors.Wrapf(ErrMalformed, "signature % x", sig)
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "version: %v", err)
	}
	if version < 1 || version > Version {
		return nil, errors.Wrapf(ErrMalformed, "version %d", version)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "record count: %v", err)
	}

	a := new(Archive)
	for i := uint32(0); i < count; i++ {
		var class uint16
		if err := binary.Read(r, binary.LittleEndian, &class); err != nil {
			return nil, errors.Wrapf(ErrMalformed, "record %d class: %v", i, err)
		}
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, errors.Wrapf(ErrMalformed, "record %d size: %v", i, err)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, errors.Wrapf(ErrMalformed, "record %d payload: %v", i, err)
		}
		switch class {
		case ClassMarker:
			m, err := decodeMarker(payload)
			if err != nil {
				return nil, errors.Wrapf(err, "record %d", i)
			}
			a.Markers = append(a.Markers, m)
		default:
			// skipped by declared size
		}
	}
	return a, nil
}

// Save writes the archive to the file at path.
func (a *Archive) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := a.Write(f); err != nil {
		f.Close()
		return err
	}
	return errors.WithStack(f.Close())
}

// Write encodes the archive to w.
func (a *Archive) Write(w io.Writer) error {
	if _, err := io.WriteString(w, Signature); err != nil {
		return errors.WithStack(err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(Version)); err != nil {
		return errors.WithStack(err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(a.Markers))); err != nil {
		return errors.WithStack(err)
	}
	for i, m := range a.Markers {
		payload := encodeMarker(m)
		if err := binary.Write(w, binary.LittleEndian, uint16(ClassMarker)); err != nil {
			return errors.WithStack(err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(payload))); err != nil {
			return errors.WithStack(err)
		}
		if _, err := w.Write(payload); err != nil {
			return errors.Wrapf(err, "record %d", i)
		}
	}
	return nil
}

// Marker payload layout: stamp as unix nanoseconds (int64), sample offset
// (int64), duration (float64), then the code and description as length
// prefixed strings (uint16 and uint32).
func encodeMarker(m Marker) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, m.Stamp.UnixNano())
	binary.Write(&buf, binary.LittleEndian, m.Offset)
	binary.Write(&buf, binary.LittleEndian, math.Float64bits(m.Duration))
	binary.Write(&buf, binary.LittleEndian, uint16(len(m.Code)))
	buf.WriteString(m.Code)
	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Description)))
	buf.WriteString(m.Description)
	return buf.Bytes()
}

func decodeMarker(payload []byte) (Marker, error) {
	var m Marker
	r := bytes.NewReader(payload)
	var stamp, offset int64
	var duration uint64
	if err := binary.Read(r, binary.LittleEndian, &stamp); err != nil {
		return m, errors.Wrapf(ErrMalformed, "marker stamp: %v", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
		return m, errors.Wrapf(ErrMalformed, "marker offset: %v", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &duration); err != nil {
		return m, errors.Wrapf(ErrMalformed, "marker duration: %v", err)
	}
	var codeLen uint16
	if err := binary.Read(r, binary.LittleEndian, &codeLen); err != nil {
		return m, errors.Wrapf(ErrMalformed, "marker code length: %v", err)
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(r, code); err != nil {
		return m, errors.Wrapf(ErrMalformed, "marker code: %v", err)
	}
	var descLen uint32
	if err := binary.Read(r, binary.LittleEndian, &descLen); err != nil {
		return m, errors.Wrapf(ErrMalformed, "marker description length: %v", err)
	}
	if int64(descLen) > int64(r.Len()) {
		return m, errors.Wrapf(ErrMalformed, "marker description length %d", descLen)
	}
	desc := make([]byte, descLen)
	if _, err := io.ReadFull(r, desc); err != nil {
		return m, errors.Wrapf(ErrMalformed, "marker description: %v", err)
	}
	m.Stamp = time.Unix(0, stamp).UTC()
	m.Offset = offset
	m.Duration = math.Float64frombits(duration)
	m.Code = string(code)
	m.Description = string(desc)
	return m, nil
}
