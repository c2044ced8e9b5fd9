package cnt

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// An Electrode describes one recorded channel of the electrode table.
type Electrode struct {
	// Label of the active electrode, e.g. "Fp1".
	Label string
	// Reference electrode label.
	Reference string
	// Unit of the calibrated samples, e.g. "uV".
	Unit string
	// Status is optional free-form state, e.g. "bad".
	Status string
}

// A Header carries the recording metadata stored in the eeph chunk as
// ASCII text.
type Header struct {
	// SampleRate in Hz.
	SampleRate float64
	// SampleCount is the total number of samples per channel.
	SampleCount int64
	// Electrodes, one per channel, in client row order.
	Electrodes []Electrode
	// History is the processing log of the recording.
	History string
}

const headerVersion = "4.4"

// formatHeader serializes the header the way the reference library lays it
// out: bracketed sections, one value or table per section, the history
// last, terminated by EOH.
func formatHeader(h Header) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[File Version]\n%s\n", headerVersion)
	fmt.Fprintf(&sb, "[Sampling Rate]\n%s\n", strconv.FormatFloat(h.SampleRate, 'f', -1, 64))
	fmt.Fprintf(&sb, "[Samples]\n%d\n", h.SampleCount)
	fmt.Fprintf(&sb, "[Channels]\n%d\n", len(h.Electrodes))
	sb.WriteString("[Basic Channel Data]\n")
	for _, e := range h.Electrodes {
		fmt.Fprintf(&sb, "%s %s %s", e.Label, e.Reference, e.Unit)
		if e.Status != "" {
			fmt.Fprintf(&sb, " STAT:%s", e.Status)
		}
		sb.WriteByte('\n')
	}
	if h.History != "" {
		sb.WriteString("[History]\n")
		sb.WriteString(h.History)
		if !strings.HasSuffix(h.History, "\n") {
			sb.WriteByte('\n')
		}
		sb.WriteString("EOH\n")
	}
	return sb.String()
}

// parseHeader reads the eeph text back. Unknown sections are skipped, so
// files written by newer tools stay readable.
func parseHeader(text string) (Header, error) {
	var (
		h        Header
		channels int
		section  string
	)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.Trim(line, "[]"))
			if section == "history" {
				var history []string
				for sc.Scan() {
					l := strings.TrimRight(sc.Text(), "\r")
					if l == "EOH" {
						break
					}
					history = append(history, l)
				}
				h.History = strings.Join(history, "\n")
				section = ""
			}
			continue
		}
		if line == "" {
			continue
		}
		switch section {
		case "sampling rate":
			v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
			if err != nil {
				return h, errors.Wrapf(ErrMalformed, "sampling rate %q", line)
			}
			h.SampleRate = v
		case "samples":
			v, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
			if err != nil {
				return h, errors.Wrapf(ErrMalformed, "sample count %q", line)
			}
			h.SampleCount = v
		case "channels":
			v, err := strconv.Atoi(strings.TrimSpace(line))
			if err != nil {
				return h, errors.Wrapf(ErrMalformed, "channel count %q", line)
			}
			channels = v
		case "basic channel data":
			fields := strings.Fields(line)
			if len(fields) < 1 || fields[0] == "" {
				return h, errors.Wrapf(ErrMalformed, "empty electrode label in %q", line)
			}
			var e Electrode
			e.Label = fields[0]
			if len(fields) > 1 {
				e.Reference = fields[1]
			}
			if len(fields) > 2 {
				e.Unit = fields[2]
			}
			for _, f := range fields[3:] {
				if strings.HasPrefix(f, "STAT:") {
					e.Status = strings.TrimPrefix(f, "STAT:")
				}
			}
			h.Electrodes = append(h.Electrodes, e)
		}
	}
	if err := sc.Err(); err != nil {
		return h, errors.Wrap(ErrMalformed, err.Error())
	}
	if channels != 0 && channels != len(h.Electrodes) {
		return h, errors.Wrapf(ErrMalformed, "channel count %d, electrode table holds %d", channels, len(h.Electrodes))
	}
	return h, nil
}
