package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thesyncim/encoder"
)

func newParamsCommand(ctx *commandContext) *cobra.Command {
	var cpus int

	cmd := &cobra.Command{
		Use:   "params",
		Short: "Show the codec parameters resolved from the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var p encoder.CodecParameters
			if cpus > 0 {
				p = encoder.ResolveWithCPUCount(cfg.EncodingContext(), cpus)
			} else {
				p = encoder.Resolve(cfg.EncodingContext())
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderParams(p))
			return nil
		},
	}

	cmd.Flags().IntVar(&cpus, "cpus", 0, "CPU count used for the thread heuristic (default: this host)")
	return cmd
}

func renderParams(p encoder.CodecParameters) string {
	rows := [][]string{
		{"Codec", p.Codec.String()},
		{"Size", fmt.Sprintf("%dx%d", p.Width, p.Height)},
		{"Pixel format", p.PixelFormat.String()},
		{"Frame rate", p.Framerate.String()},
		{"Time base", p.TimeBase.String()},
		{"Ticks per frame", strconv.Itoa(p.TicksPerFrame)},
		{"Bitrate", humanize.SI(float64(p.Bitrate), "bit/s")},
		{"Min/max rate", humanize.SI(float64(p.MinRate), "bit/s") + " / " + humanize.SI(float64(p.MaxRate), "bit/s")},
		{"RC buffer", humanize.SI(float64(p.RCBufferSize), "bit")},
		{"GOP", strconv.Itoa(p.GOPSize)},
		{"Min keyint", strconv.Itoa(p.MinKeyframeInterval)},
		{"B-frames", strconv.Itoa(p.MaxBFrames)},
		{"Profile", p.Profile.String()},
		{"Preset", p.Preset.String()},
		{"Tune", p.Tune.String()},
		{"Threads", strconv.Itoa(p.ThreadCount)},
		{p.CodecOptionsKey(), p.CodecOptions()},
	}
	return renderTable([]string{"Parameter", "Value"}, rows, nil)
}
