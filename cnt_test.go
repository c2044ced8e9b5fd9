package cnt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/pkg/errors"
)

func testElectrodes() []Electrode {
	return []Electrode{
		{Label: "Fp1", Reference: "AVG", Unit: "uV"},
		{Label: "Fp2", Reference: "AVG", Unit: "uV", Status: "bad"},
		{Label: "Cz", Reference: "AVG", Unit: "uV"},
	}
}

// writeTestFile produces a small three channel recording with two full
// epochs, one short final epoch and two triggers.
func writeTestFile(t *testing.T, path string, typ RiffType) (epochs [][]int32) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w, err := NewWriter(f, WriterConfig{
		Type:        typ,
		SampleRate:  512,
		Electrodes:  testElectrodes(),
		EpochLength: 4,
		Info:        "subject: test recording",
		History:     "synthesized",
	})
	if err != nil {
		t.Fatal(err)
	}

	epochs = [][]int32{
		{11, 21, 31, 12, 22, 32, 13, 23, 33, 14, 24, 34},
		{-11, -21, -31, -12, -22, -32, -13, -23, -33, -14, -24, -34},
		{100, 200, 300, 101, 201, 301}, // short final epoch, 2 samples
	}
	for i, e := range epochs {
		if err := w.WriteEpoch(e); err != nil {
			t.Fatalf("epoch %d: %v", i, err)
		}
	}
	w.AddTrigger(Trigger{Sample: 0, Code: "start"})
	w.AddTrigger(Trigger{Sample: 7, Code: "stim1"})
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return epochs
}

func TestReadWriteRoundTrip(t *testing.T) {
	for _, typ := range []RiffType{Riff32, Riff64} {
		t.Run(typ.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rec.cnt")
			epochs := writeTestFile(t, path, typ)

			r, err := Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			if r.Type() != typ {
				t.Errorf("type mismatch; expected %v, got %v", typ, r.Type())
			}
			if got := r.ChannelCount(); got != 3 {
				t.Errorf("channel count mismatch; expected 3, got %d", got)
			}
			if got := r.EpochCount(); got != 3 {
				t.Errorf("epoch count mismatch; expected 3, got %d", got)
			}
			if got := r.EpochLength(); got != 4 {
				t.Errorf("epoch length mismatch; expected 4, got %d", got)
			}
			if got := r.SampleCount(); got != 10 {
				t.Errorf("sample count mismatch; expected 10, got %d", got)
			}
			if got := r.Header().SampleRate; got != 512 {
				t.Errorf("sample rate mismatch; expected 512, got %v", got)
			}
			if got := r.Info(); got != "subject: test recording" {
				t.Errorf("info mismatch; got %q", got)
			}
			if diff := pretty.Compare(testElectrodes(), r.Header().Electrodes); diff != "" {
				t.Errorf("electrode table mismatch (-want +got):\n%s", diff)
			}

			for i, want := range epochs {
				got, err := r.ReadEpoch(i)
				if err != nil {
					t.Fatalf("epoch %d: %v", i, err)
				}
				if diff := pretty.Compare(want, got); diff != "" {
					t.Errorf("epoch %d mismatch (-want +got):\n%s", i, diff)
				}
			}

			wantTriggers := []Trigger{
				{Sample: 0, Code: "start"},
				{Sample: 7, Code: "stim1"},
			}
			if diff := pretty.Compare(wantTriggers, r.Triggers()); diff != "" {
				t.Errorf("trigger table mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRangeSpansEpochs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.cnt")
	epochs := writeTestFile(t, path, Riff32)

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	// Samples 2..8: the tail of epoch 0, all of epoch 1, the head of 2.
	got, err := r.Range(2, 7)
	if err != nil {
		t.Fatal(err)
	}
	var want []int32
	want = append(want, epochs[0][2*3:]...)
	want = append(want, epochs[1]...)
	want = append(want, epochs[2][:1*3]...)
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("range mismatch (-want +got):\n%s", diff)
	}

	if _, err := r.Range(8, 4); !errors.Is(err, ErrRange) {
		t.Errorf("expected ErrRange, got %v", err)
	}
	if _, err := r.ReadEpoch(3); !errors.Is(err, ErrRange) {
		t.Errorf("expected ErrRange, got %v", err)
	}
}

func TestShortEpochRejectsFurtherWrites(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "rec.cnt"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w, err := NewWriter(f, WriterConfig{
		SampleRate:  256,
		Electrodes:  testElectrodes(),
		EpochLength: 4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEpoch(make([]int32, 3*2)); err != nil { // short
		t.Fatal(err)
	}
	if err := w.WriteEpoch(make([]int32, 3*4)); !errors.Is(err, ErrRange) {
		t.Fatalf("expected ErrRange, got %v", err)
	}
}

func TestNewReaderRejectsBadSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.cnt")
	if err := os.WriteFile(path, []byte("NOPE0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestHeaderFormatParseRoundTrip(t *testing.T) {
	want := Header{
		SampleRate:  512.5,
		SampleCount: 1024,
		Electrodes:  testElectrodes(),
		History:     "imported\nfiltered 0.1-70Hz",
	}
	got, err := parseHeader(formatHeader(want))
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestParseHeaderSkipsUnknownSections(t *testing.T) {
	text := "[File Version]\n4.4\n[Coordinates]\n1 2 3\n[Sampling Rate]\n128\n[Samples]\n64\n[Basic Channel Data]\nO1 AVG uV\n"
	got, err := parseHeader(text)
	if err != nil {
		t.Fatal(err)
	}
	if got.SampleRate != 128 || got.SampleCount != 64 || len(got.Electrodes) != 1 {
		t.Fatalf("unexpected header: %+v", got)
	}
}
