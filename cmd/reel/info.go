package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/reel/container"
	"github.com/zsiec/reel/player"
	"github.com/zsiec/reel/timer"
)

type streamReport struct {
	Index       int    `json:"index"`
	Kind        string `json:"kind"`
	Codec       string `json:"codec"`
	Language    string `json:"language,omitempty"`
	Description string `json:"description"`
}

type ignoredReport struct {
	Index int    `json:"index"`
	Codec string `json:"codec"`
}

type infoReport struct {
	File     string           `json:"file"`
	Format   string           `json:"format"`
	Duration time.Duration    `json:"durationNs"`
	Streams  []streamReport   `json:"streams"`
	Ignored  []ignoredReport  `json:"ignored,omitempty"`
	Stats    *container.Stats `json:"stats,omitempty"`
}

func newInfoCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Describe the streams of a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := inspect(args[0], slog.Default())
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printInfo(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the report as JSON")
	return cmd
}

// inspect opens path without playing it. The audio device is built but
// never started.
func inspect(path string, log *slog.Logger) (*infoReport, error) {
	d, err := player.NewDemuxer(path, timer.New(log), nil, player.WithLogger(log))
	if err != nil {
		return nil, err
	}
	defer d.Close()

	rep := &infoReport{
		File:     path,
		Format:   d.Reader().Format(),
		Duration: d.Duration(),
	}
	for _, s := range d.Streams() {
		rep.Streams = append(rep.Streams, streamReport{
			Index:       s.Index(),
			Kind:        s.Kind().String(),
			Codec:       s.CodecName(),
			Language:    s.Language(),
			Description: s.Description(),
		})
	}
	for i, c := range d.IgnoredStreams() {
		rep.Ignored = append(rep.Ignored, ignoredReport{Index: i, Codec: c})
	}
	slices.SortFunc(rep.Ignored, func(a, b ignoredReport) int { return a.Index - b.Index })
	if sr, ok := d.Reader().(container.StatsReporter); ok {
		st := sr.Stats()
		rep.Stats = &st
	}
	return rep, nil
}

func printInfo(w io.Writer, rep *infoReport) {
	fmt.Fprintf(w, "file:     %s\n", rep.File)
	fmt.Fprintf(w, "format:   %s\n", rep.Format)
	if rep.Duration > 0 {
		fmt.Fprintf(w, "duration: %s\n", rep.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintln(w, "duration: unknown")
	}
	fmt.Fprintln(w, "streams:")
	for _, s := range rep.Streams {
		fmt.Fprintf(w, "  %s\n", s.Description)
	}
	if len(rep.Ignored) > 0 {
		fmt.Fprintln(w, "ignored (no decoder):")
		for _, s := range rep.Ignored {
			fmt.Fprintf(w, "  #%d %s\n", s.Index, s.Codec)
		}
	}
}
