// Package cnt provides access to CNT continuous recording files: chunked
// containers holding compressed epochs of multichannel time series data,
// trigger annotations and session metadata.
//
// The basic structure of a CNT file is:
//   - The four byte signature "RIFF" (32 bit variant) or "RF64" (64 bit
//     variant), a size field, and the form label "CNT ".
//   - A "raw3" list with the row order ("chan"), the epoch table ("ep  ")
//     and the compressed sample data ("data").
//   - An ASCII recording header ("eeph"), a trigger table ("evt "), and
//     free-form session text ("info").
//
// Sample matrices are compressed one epoch at a time by package compress.
// Unknown top level chunks are kept by the Reader and returned by
// UserChunks; the Writer does not write user chunks.
package cnt

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/eeptools/cnt/compress"
	"github.com/eeptools/cnt/internal/bufseekio"
)

// Error kinds reported by the container layer.
var (
	// ErrMalformed reports an envelope that violates the chunk grammar.
	ErrMalformed = errors.New("malformed container")
	// ErrMissingChunk reports a file without one of the mandatory chunks.
	ErrMissingChunk = errors.New("missing mandatory chunk")
	// ErrRange reports an epoch index or sample range outside the
	// recording.
	ErrRange = errors.New("out of range")
)

// A Trigger marks one sample of the recording with an eight character code.
type Trigger struct {
	// Sample number the trigger fires at.
	Sample int64
	// Code is the trigger label; at most eight bytes survive the file.
	Code string
}

// triggerCodeSize is the fixed code width of an evt record.
const triggerCodeSize = 8

// A UserChunk is an unrecognized top level chunk, kept by the Reader.
type UserChunk struct {
	// ID is the four byte chunk label.
	ID string
	// Data is the raw payload.
	Data []byte
}

// A Reader reads epochs, triggers and metadata from a CNT file.
type Reader struct {
	r   io.ReadSeeker
	c   io.Closer
	typ RiffType

	hdr         Header
	info        string
	order       []int16
	epochLength int
	offsets     []int64 // epoch byte offsets into the data payload
	data        chunk
	triggers    []Trigger
	user        []UserChunk

	dec *compress.Decoder[int32]
}

// Open opens the CNT file at path. Call Close when done.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	r, err := NewReader(bufseekio.NewReadSeeker(f))
	if err != nil {
		f.Close()
		return nil, err
	}
	r.c = f
	return r, nil
}

// NewReader parses the chunk layout of the provided io.ReadSeeker and
// returns a reader for it.
func NewReader(rs io.ReadSeeker) (*Reader, error) {
	sig := make([]byte, 4)
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := io.ReadFull(rs, sig); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "signature: %v", err)
	}
	var typ RiffType
	switch string(sig) {
	case Riff32.rootID():
		typ = Riff32
	case Riff64.rootID():
		typ = Riff64
	default:
		return nil, errors.Wrapf(ErrMalformed, "signature %q", sig)
	}

	r := &Reader{r: rs, typ: typ}
	size, err := readSize(rs, typ)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "root size: %v", err)
	}
	label, err := readLabel(rs)
	if err != nil || label != formLabel {
		return nil, errors.Wrapf(ErrMalformed, "form label %q", label)
	}

	start := int64(4+typ.sizeBytes()) + 4
	end := int64(4+typ.sizeBytes()) + size
	var haveChan, haveEp, haveEeph bool
	err = walkChunks(rs, typ, start, end, "", func(parent string, c chunk) error {
		switch {
		case parent == labelRaw3 && c.id == labelChan:
			order, err := readRowOrder(rs, c)
			if err != nil {
				return err
			}
			r.order = order
			haveChan = true
		case parent == labelRaw3 && c.id == labelEp:
			length, offsets, err := readEpochTable(rs, c, typ)
			if err != nil {
				return err
			}
			r.epochLength, r.offsets = length, offsets
			haveEp = true
		case parent == labelRaw3 && c.id == labelData:
			r.data = c
		case parent == "" && c.id == labelEeph:
			text, err := readPayload(rs, c)
			if err != nil {
				return err
			}
			hdr, err := parseHeader(string(text))
			if err != nil {
				return err
			}
			r.hdr = hdr
			haveEeph = true
		case parent == "" && c.id == labelEvt:
			triggers, err := readTriggers(rs, c, typ)
			if err != nil {
				return err
			}
			r.triggers = triggers
		case parent == "" && c.id == labelInfo:
			text, err := readPayload(rs, c)
			if err != nil {
				return err
			}
			r.info = string(bytes.TrimRight(text, "\x00"))
		case parent == "":
			data, err := readPayload(rs, c)
			if err != nil {
				return err
			}
			r.user = append(r.user, UserChunk{ID: c.id, Data: data})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case !haveChan:
		return nil, errors.Wrap(ErrMissingChunk, labelChan)
	case !haveEp:
		return nil, errors.Wrap(ErrMissingChunk, "ep")
	case r.data.id == "":
		return nil, errors.Wrap(ErrMissingChunk, labelData)
	case !haveEeph:
		return nil, errors.Wrap(ErrMissingChunk, labelEeph)
	}
	if len(r.order) != len(r.hdr.Electrodes) {
		return nil, errors.Wrapf(ErrMalformed, "row order holds %d rows, electrode table %d", len(r.order), len(r.hdr.Electrodes))
	}
	if err := validateOffsets(r.offsets, r.data.size); err != nil {
		return nil, err
	}

	r.dec = compress.NewReflibDecoder()
	if err := r.dec.SetRowOrder(r.order); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "row order: %v", err)
	}
	return r, nil
}

// readRowOrder reads the chan chunk: one int16 per storage row.
func readRowOrder(rs io.ReadSeeker, c chunk) ([]int16, error) {
	buf, err := readPayload(rs, c)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 || len(buf)%2 != 0 {
		return nil, errors.Wrapf(ErrMalformed, "chan chunk size %d", len(buf))
	}
	order := make([]int16, len(buf)/2)
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, order); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	return order, nil
}

// readEpochTable reads the ep chunk: the epoch length in samples followed
// by the byte offset of every epoch within the data payload.
func readEpochTable(rs io.ReadSeeker, c chunk, typ RiffType) (int, []int64, error) {
	buf, err := readPayload(rs, c)
	if err != nil {
		return 0, nil, err
	}
	word := typ.wordBytes()
	if len(buf) < 2*word || len(buf)%word != 0 {
		return 0, nil, errors.Wrapf(ErrMalformed, "ep chunk size %d", len(buf))
	}
	br := bytes.NewReader(buf)
	readWord := func() int64 {
		if typ == Riff64 {
			var v uint64
			binary.Read(br, binary.LittleEndian, &v)
			return int64(v)
		}
		var v uint32
		binary.Read(br, binary.LittleEndian, &v)
		return int64(v)
	}
	length := readWord()
	if length < 1 || length > 1<<30 {
		return 0, nil, errors.Wrapf(ErrMalformed, "epoch length %d", length)
	}
	offsets := make([]int64, len(buf)/word-1)
	for i := range offsets {
		offsets[i] = readWord()
	}
	return int(length), offsets, nil
}

// validateOffsets checks that the epoch offsets start at zero, increase
// strictly and stay inside the data payload.
func validateOffsets(offsets []int64, size int64) error {
	if len(offsets) == 0 {
		return errors.Wrap(ErrMalformed, "empty epoch table")
	}
	if offsets[0] != 0 {
		return errors.Wrapf(ErrMalformed, "first epoch offset %d", offsets[0])
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			return errors.Wrapf(ErrMalformed, "epoch %d offset %d not past %d", i, offsets[i], offsets[i-1])
		}
	}
	if offsets[len(offsets)-1] >= size {
		return errors.Wrapf(ErrMalformed, "last epoch offset %d outside data payload %d", offsets[len(offsets)-1], size)
	}
	return nil
}

// readTriggers reads the evt chunk: fixed records of a sample number and
// an eight byte code.
func readTriggers(rs io.ReadSeeker, c chunk, typ RiffType) ([]Trigger, error) {
	buf, err := readPayload(rs, c)
	if err != nil {
		return nil, err
	}
	record := typ.wordBytes() + triggerCodeSize
	if len(buf)%record != 0 {
		return nil, errors.Wrapf(ErrMalformed, "evt chunk size %d", len(buf))
	}
	triggers := make([]Trigger, 0, len(buf)/record)
	for i := 0; i+record <= len(buf); i += record {
		var sample int64
		if typ == Riff64 {
			sample = int64(binary.LittleEndian.Uint64(buf[i:]))
		} else {
			sample = int64(binary.LittleEndian.Uint32(buf[i:]))
		}
		code := bytes.TrimRight(buf[i+typ.wordBytes():i+record], "\x00")
		triggers = append(triggers, Trigger{Sample: sample, Code: string(code)})
	}
	return triggers, nil
}

// Type returns the envelope variant of the file.
func (r *Reader) Type() RiffType { return r.typ }

// Header returns the parsed recording metadata.
func (r *Reader) Header() Header { return r.hdr }

// Info returns the free-form session text of the info chunk.
func (r *Reader) Info() string { return r.info }

// ChannelCount returns the number of recorded channels.
func (r *Reader) ChannelCount() int { return len(r.order) }

// EpochCount returns the number of compressed epochs.
func (r *Reader) EpochCount() int { return len(r.offsets) }

// EpochLength returns the nominal epoch length in samples. The final epoch
// of a recording may be shorter.
func (r *Reader) EpochLength() int { return r.epochLength }

// SampleCount returns the total number of samples per channel.
func (r *Reader) SampleCount() int64 {
	if r.hdr.SampleCount > 0 {
		return r.hdr.SampleCount
	}
	return int64(len(r.offsets)) * int64(r.epochLength)
}

// Triggers returns the trigger table of the recording.
func (r *Reader) Triggers() []Trigger {
	return append([]Trigger(nil), r.triggers...)
}

// UserChunks returns the unrecognized top level chunks of the file.
func (r *Reader) UserChunks() []UserChunk { return r.user }

// epochLen returns the length in samples of epoch i.
func (r *Reader) epochLen(i int) int {
	if i < len(r.offsets)-1 {
		return r.epochLength
	}
	last := int(r.SampleCount() - int64(len(r.offsets)-1)*int64(r.epochLength))
	if last < 1 || last > r.epochLength {
		return r.epochLength
	}
	return last
}

// epochRange returns the byte range of epoch i within the data payload.
func (r *Reader) epochRange(i int) (int64, int64) {
	start := r.offsets[i]
	end := r.data.size
	if i < len(r.offsets)-1 {
		end = r.offsets[i+1]
	}
	return start, end - start
}

// ReadEpoch decompresses epoch i and returns its samples in column major
// order: all channels of the first sample, then all channels of the next.
func (r *Reader) ReadEpoch(i int) ([]int32, error) {
	if i < 0 || i >= len(r.offsets) {
		return nil, errors.Wrapf(ErrRange, "epoch %d of %d", i, len(r.offsets))
	}
	start, size := r.epochRange(i)
	if _, err := r.r.Seek(r.data.pos+start, io.SeekStart); err != nil {
		return nil, errors.WithStack(err)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "epoch %d: %v", i, err)
	}
	samples, err := r.dec.DecodeColumnMajor(buf, r.epochLen(i))
	if err != nil {
		return nil, errors.Wrapf(err, "epoch %d", i)
	}
	return samples, nil
}

// Range decompresses the sample range [first, first+count) across epoch
// boundaries and returns it in column major order.
func (r *Reader) Range(first int64, count int) ([]int32, error) {
	if first < 0 || count < 1 || first+int64(count) > r.SampleCount() {
		return nil, errors.Wrapf(ErrRange, "samples [%d, %d) of %d", first, first+int64(count), r.SampleCount())
	}
	height := len(r.order)
	out := make([]int32, count*height)
	copied := 0
	for copied < count {
		pos := first + int64(copied)
		i := int(pos / int64(r.epochLength))
		start := int(pos % int64(r.epochLength))
		epoch, err := r.ReadEpoch(i)
		if err != nil {
			return nil, err
		}
		n := r.epochLen(i) - start
		if n > count-copied {
			n = count - copied
		}
		copy(out[copied*height:(copied+n)*height], epoch[start*height:(start+n)*height])
		copied += n
	}
	return out, nil
}

// Close closes the underlying file, if the reader owns one.
func (r *Reader) Close() error {
	if r.c != nil {
		return r.c.Close()
	}
	return nil
}
