package cnt

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/eeptools/cnt/compress"
)

// WriterConfig describes the recording a Writer produces.
type WriterConfig struct {
	// Type selects the envelope variant. The zero value is Riff32.
	Type RiffType
	// SampleRate in Hz.
	SampleRate float64
	// Electrodes, one per channel, in client row order.
	Electrodes []Electrode
	// EpochLength is the nominal epoch length in samples.
	EpochLength int
	// RowOrder is the storage order of the channels; natural if nil.
	RowOrder []int16
	// Info is free-form session text for the info chunk.
	Info string
	// History seeds the processing log of the eeph chunk.
	History string
}

// A Writer appends compressed epochs and triggers to a CNT file. Chunk
// sizes and the epoch table are fixed up on Close, so the destination must
// support seeking.
type Writer struct {
	w   io.WriteSeeker
	typ RiffType
	cfg WriterConfig

	enc      *compress.Encoder[int32]
	order    []int16
	offsets  []int64
	triggers []Trigger
	samples  int64
	short    bool // a short final epoch has been written
	closed   bool

	rootSizePos int64
	listSizePos int64
	dataSizePos int64
	dataStart   int64
	dataPos     int64 // bytes written into the data payload
}

// NewWriter writes the container preamble and returns a writer accepting
// epochs. The caller owns ws; Close finishes the chunk layout but does not
// close the underlying file.
func NewWriter(ws io.WriteSeeker, cfg WriterConfig) (*Writer, error) {
	if len(cfg.Electrodes) < 1 {
		return nil, errors.Wrap(ErrMalformed, "no electrodes configured")
	}
	if cfg.EpochLength < 1 {
		return nil, errors.Wrapf(ErrMalformed, "epoch length %d", cfg.EpochLength)
	}

	w := &Writer{w: ws, typ: cfg.Type, cfg: cfg, enc: compress.NewReflibEncoder()}
	w.order = cfg.RowOrder
	if w.order == nil {
		w.order = make([]int16, len(cfg.Electrodes))
		for i := range w.order {
			w.order[i] = int16(i)
		}
	}
	if err := w.enc.SetRowOrder(w.order); err != nil {
		return nil, err
	}
	if len(w.order) != len(cfg.Electrodes) {
		return nil, errors.Wrapf(ErrMalformed, "row order holds %d rows, electrode table %d", len(w.order), len(cfg.Electrodes))
	}

	if err := w.writePreamble(); err != nil {
		return nil, err
	}
	return w, nil
}

// writePreamble lays out the root header, the raw3 list, the chan chunk
// and the open-ended data chunk. Size fields are written as zero and
// patched on Close.
func (w *Writer) writePreamble() error {
	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.WriteString(w.w, w.typ.rootID()); err != nil {
		return errors.WithStack(err)
	}
	var err error
	if w.rootSizePos, err = w.tell(); err != nil {
		return err
	}
	if err := writeSize(w.w, w.typ, 0); err != nil {
		return err
	}
	if _, err := io.WriteString(w.w, formLabel); err != nil {
		return errors.WithStack(err)
	}

	// LIST raw3
	if _, err := io.WriteString(w.w, listID); err != nil {
		return errors.WithStack(err)
	}
	if w.listSizePos, err = w.tell(); err != nil {
		return err
	}
	if err := writeSize(w.w, w.typ, 0); err != nil {
		return err
	}
	if _, err := io.WriteString(w.w, labelRaw3); err != nil {
		return errors.WithStack(err)
	}

	// chan: the storage order of the rows.
	if err := w.writeChunk(labelChan, func() error {
		return binary.Write(w.w, binary.LittleEndian, w.order)
	}); err != nil {
		return err
	}

	// data: stays open until Close.
	if _, err := io.WriteString(w.w, labelData); err != nil {
		return errors.WithStack(err)
	}
	if w.dataSizePos, err = w.tell(); err != nil {
		return err
	}
	if err := writeSize(w.w, w.typ, 0); err != nil {
		return err
	}
	if w.dataStart, err = w.tell(); err != nil {
		return err
	}
	return nil
}

func (w *Writer) tell() (int64, error) {
	pos, err := w.w.Seek(0, io.SeekCurrent)
	return pos, errors.WithStack(err)
}

// writeChunk emits one complete chunk: label, size and the payload written
// by body, padded to an even byte.
func (w *Writer) writeChunk(id string, body func() error) error {
	if _, err := io.WriteString(w.w, id); err != nil {
		return errors.WithStack(err)
	}
	sizePos, err := w.tell()
	if err != nil {
		return err
	}
	if err := writeSize(w.w, w.typ, 0); err != nil {
		return err
	}
	start, err := w.tell()
	if err != nil {
		return err
	}
	if err := body(); err != nil {
		return errors.WithStack(err)
	}
	end, err := w.tell()
	if err != nil {
		return err
	}
	if (end-start)&1 == 1 {
		if _, err := w.w.Write([]byte{0}); err != nil {
			return errors.WithStack(err)
		}
	}
	return w.patchSize(sizePos, end-start)
}

// patchSize seeks back to a size field, writes the final value and returns
// to the end of the file.
func (w *Writer) patchSize(pos, size int64) error {
	end, err := w.tell()
	if err != nil {
		return err
	}
	if _, err := w.w.Seek(pos, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	if err := writeSize(w.w, w.typ, size); err != nil {
		return err
	}
	if _, err := w.w.Seek(end, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// WriteEpoch compresses and appends one epoch of samples in column major
// order. Every epoch carries EpochLength samples per channel; only the
// final epoch of a recording may be shorter.
func (w *Writer) WriteEpoch(samples []int32) error {
	if w.closed {
		return errors.New("cnt: writer is closed")
	}
	if w.short {
		return errors.Wrap(ErrRange, "short epoch already written")
	}
	height := len(w.order)
	if len(samples) == 0 || len(samples)%height != 0 {
		return errors.Wrapf(ErrMalformed, "epoch size %d for %d channels", len(samples), height)
	}
	length := len(samples) / height
	if length > w.cfg.EpochLength {
		return errors.Wrapf(ErrRange, "epoch length %d exceeds %d", length, w.cfg.EpochLength)
	}
	if length < w.cfg.EpochLength {
		w.short = true
	}

	data, err := w.enc.EncodeColumnMajor(samples, length)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return errors.WithStack(err)
	}
	w.offsets = append(w.offsets, w.dataPos)
	w.dataPos += int64(len(data))
	w.samples += int64(length)
	return nil
}

// AddTrigger records a trigger for the evt chunk written on Close.
func (w *Writer) AddTrigger(t Trigger) {
	w.triggers = append(w.triggers, t)
}

// Close finishes the chunk layout: the epoch table, the recording header,
// the trigger table and the session text, then patches the deferred size
// fields.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.offsets) == 0 {
		return errors.Wrap(ErrRange, "no epochs written")
	}

	// Close the data chunk.
	if w.dataPos&1 == 1 {
		if _, err := w.w.Write([]byte{0}); err != nil {
			return errors.WithStack(err)
		}
	}
	if err := w.patchSize(w.dataSizePos, w.dataPos); err != nil {
		return err
	}

	// ep: epoch length, then the byte offset of every epoch.
	if err := w.writeChunk(labelEp, func() error {
		words := make([]int64, 0, len(w.offsets)+1)
		words = append(words, int64(w.cfg.EpochLength))
		words = append(words, w.offsets...)
		for _, v := range words {
			if w.typ == Riff64 {
				if err := binary.Write(w.w, binary.LittleEndian, uint64(v)); err != nil {
					return err
				}
				continue
			}
			if v > 0xffffffff {
				return errors.Wrapf(ErrMalformed, "epoch offset %d exceeds the 32 bit envelope", v)
			}
			if err := binary.Write(w.w, binary.LittleEndian, uint32(v)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// The raw3 list ends here.
	listEnd, err := w.tell()
	if err != nil {
		return err
	}
	if err := w.patchSize(w.listSizePos, listEnd-w.listSizePos-int64(w.typ.sizeBytes())); err != nil {
		return err
	}

	// eeph
	hdr := Header{
		SampleRate:  w.cfg.SampleRate,
		SampleCount: w.samples,
		Electrodes:  w.cfg.Electrodes,
		History:     w.cfg.History,
	}
	if err := w.writeChunk(labelEeph, func() error {
		_, err := io.WriteString(w.w, formatHeader(hdr))
		return err
	}); err != nil {
		return err
	}

	// evt
	if err := w.writeChunk(labelEvt, func() error {
		code := make([]byte, triggerCodeSize)
		for _, t := range w.triggers {
			if w.typ == Riff64 {
				if err := binary.Write(w.w, binary.LittleEndian, uint64(t.Sample)); err != nil {
					return err
				}
			} else {
				if err := binary.Write(w.w, binary.LittleEndian, uint32(t.Sample)); err != nil {
					return err
				}
			}
			for i := range code {
				code[i] = 0
			}
			copy(code, t.Code)
			if _, err := w.w.Write(code); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// info
	if w.cfg.Info != "" {
		if err := w.writeChunk(labelInfo, func() error {
			_, err := io.WriteString(w.w, w.cfg.Info)
			return err
		}); err != nil {
			return err
		}
	}

	end, err := w.tell()
	if err != nil {
		return err
	}
	return w.patchSize(w.rootSizePos, end-w.rootSizePos-int64(w.typ.sizeBytes()))
}
