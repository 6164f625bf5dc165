package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zsiec/reel/codec"
	"github.com/zsiec/reel/container"
)

func newCodecsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "codecs",
		Short: "List supported container formats and decoders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FORMATS")
			for _, d := range container.AvailableDemuxers() {
				fmt.Fprintf(w, "  %s\t%s\t%s\n", d.Name, d.Description, strings.Join(d.Extensions, " "))
			}
			fmt.Fprintln(w, "DECODERS")
			for _, d := range codec.AvailableDecoders() {
				fmt.Fprintf(w, "  %s\t%s\t%s\n", d.Name, d.Kind, d.Description)
			}
			return w.Flush()
		},
	}
}
