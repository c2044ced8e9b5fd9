// cnttool inspects CNT recordings and their sidecar event archives.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eeptools/cnt"
	"github.com/eeptools/cnt/evt"
)

func main() {
	root := &cobra.Command{
		Use:           "cnttool",
		Short:         "inspect CNT recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newInfoCmd(), newTriggersCmd(), newEventsCmd(), newExportCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cnttool: %+v\n", err)
		os.Exit(1)
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE",
		Short: "print the recording header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := cnt.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			hdr := r.Header()
			fmt.Printf("envelope:      %v\n", r.Type())
			fmt.Printf("sample rate:   %v Hz\n", hdr.SampleRate)
			fmt.Printf("samples:       %d\n", r.SampleCount())
			fmt.Printf("channels:      %d\n", r.ChannelCount())
			fmt.Printf("epochs:        %d x %d samples\n", r.EpochCount(), r.EpochLength())
			fmt.Printf("triggers:      %d\n", len(r.Triggers()))
			if info := r.Info(); info != "" {
				fmt.Printf("info:          %s\n", strings.ReplaceAll(info, "\n", "; "))
			}
			for i, e := range hdr.Electrodes {
				fmt.Printf("channel %-3d    %s %s %s", i, e.Label, e.Reference, e.Unit)
				if e.Status != "" {
					fmt.Printf(" (%s)", e.Status)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func newTriggersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "triggers FILE",
		Short: "dump the trigger table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := cnt.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			for _, t := range r.Triggers() {
				fmt.Printf("%d\t%s\n", t.Sample, t.Code)
			}
			return nil
		},
	}
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events FILE",
		Short: "dump a sidecar event archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := evt.Open(args[0])
			if err != nil {
				return err
			}
			for _, m := range a.Markers {
				fmt.Printf("%s\t%d\t%g\t%s\t%s\n", m.Stamp.Format("2006-01-02 15:04:05.000"), m.Offset, m.Duration, m.Code, m.Description)
			}
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var epoch int
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "print one epoch as tab separated samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := cnt.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			samples, err := r.ReadEpoch(epoch)
			if err != nil {
				return err
			}
			height := r.ChannelCount()
			for i := 0; i < len(samples)/height; i++ {
				row := samples[i*height : (i+1)*height]
				parts := make([]string, len(row))
				for c, v := range row {
					parts[c] = fmt.Sprint(v)
				}
				fmt.Println(strings.Join(parts, "\t"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&epoch, "epoch", 0, "epoch index to export")
	return cmd
}
