package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thesyncim/encoder"
)

func newProvidersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List codec session providers available on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), renderProviders())
			return nil
		},
	}
}

func renderProviders() string {
	all := []encoder.Provider{encoder.ProviderNative, encoder.ProviderLibav, encoder.ProviderFFmpeg}
	codecs := []encoder.VideoCodec{encoder.VideoCodecH264, encoder.VideoCodecH265}

	rows := make([][]string, 0, len(all))
	for _, p := range all {
		var supported []string
		for _, c := range codecs {
			for _, sp := range encoder.SessionProviders(c) {
				if sp == p {
					supported = append(supported, c.String())
				}
			}
		}
		available := "no"
		if p.Available() {
			available = "yes"
		}
		where := "process"
		if p.InProcess() {
			where = "in-process"
		}
		rows = append(rows, []string{p.String(), available, where, strings.Join(supported, ", ")})
	}
	return renderTable([]string{"Provider", "Available", "Runs", "Codecs"}, rows, nil)
}
