// cnt2wav is a tool which exports the channels of CNT recordings to WAV
// files, one frame per sample with the channels interleaved.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/pkg/osutil"
	"github.com/mewkiz/pkg/pathutil"
	"github.com/pkg/errors"

	"github.com/eeptools/cnt"
)

func main() {
	// Parse command line arguments.
	var (
		// force overwrite WAV file if already present.
		force bool
	)
	flag.BoolVar(&force, "f", false, "force overwrite")
	flag.Parse()
	for _, cntPath := range flag.Args() {
		if err := cnt2wav(cntPath, force); err != nil {
			log.Fatalf("%+v", err)
		}
	}
}

func cnt2wav(cntPath string, force bool) error {
	// Open CNT file.
	r, err := cnt.Open(cntPath)
	if err != nil {
		return err
	}
	defer r.Close()

	// Create WAV file.
	wavPath := pathutil.TrimExt(cntPath) + ".wav"
	if !force && osutil.Exists(wavPath) {
		return errors.Errorf("WAV file %q already present; use -f flag to force overwrite", wavPath)
	}
	w, err := os.Create(wavPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer w.Close()

	// Create WAV encoder.
	const bitDepth = 32
	enc := wav.NewEncoder(w, int(r.Header().SampleRate), bitDepth, r.ChannelCount(), 1)
	defer enc.Close()

	// Encode samples one epoch at a time; the column major epoch layout is
	// already frame interleaved.
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: r.ChannelCount(),
			SampleRate:  int(r.Header().SampleRate),
		},
		SourceBitDepth: bitDepth,
	}
	for i := 0; i < r.EpochCount(); i++ {
		samples, err := r.ReadEpoch(i)
		if err != nil {
			return err
		}
		buf.Data = buf.Data[:0]
		for _, v := range samples {
			buf.Data = append(buf.Data, int(v))
		}
		if err := enc.Write(buf); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
