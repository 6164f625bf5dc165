package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/ccx"

	"github.com/zsiec/reel/media"
	"github.com/zsiec/reel/player"
	"github.com/zsiec/reel/sink"
)

type playConfig struct {
	seek     time.Duration
	limit    time.Duration
	interval time.Duration
	progress time.Duration
	volume   float64
	audio    int
	video    int
	pcmOut   string
}

func newPlayCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <file>",
		Short: "Play a media file against the real-time clock",
		Long: "Play decodes the selected streams in real time. Audio is written as\n" +
			"interleaved signed 16-bit PCM to --pcm-out (discarded by default) and\n" +
			"closed captions are printed as they are presented.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := playConfig{
				seek:     v.GetDuration("seek"),
				limit:    v.GetDuration("for"),
				interval: v.GetDuration("interval"),
				progress: v.GetDuration("progress"),
				volume:   v.GetFloat64("volume"),
				audio:    v.GetInt("audio"),
				video:    v.GetInt("video"),
				pcmOut:   v.GetString("pcm-out"),
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return play(ctx, args[0], cfg, cmd.OutOrStdout(), slog.Default())
		},
	}
	f := cmd.Flags()
	f.Duration("seek", 0, "start position")
	f.Duration("for", 0, "stop after this much playback (0 plays to the end)")
	f.Duration("interval", 10*time.Millisecond, "update interval of the control loop")
	f.Duration("progress", time.Second, "progress log interval (0 disables)")
	f.Float64("volume", 1, "audio gain, 1 being unity")
	f.Int("audio", -1, "index of the audio stream to play (-1 picks the first)")
	f.Int("video", -1, "index of the video stream to play (-1 picks the first)")
	f.String("pcm-out", "", "file receiving the decoded audio")
	return cmd
}

// captionPrinter prints the captions of presented frames and counts them.
type captionPrinter struct {
	out    io.Writer
	log    *slog.Logger
	frames atomic.Int64
}

func (p *captionPrinter) DidUpdateVideo(s *player.VideoStream, f *media.VideoFrame) {
	p.frames.Add(1)
	if f.IsKeyframe {
		p.log.Debug("keyframe", "stream", s.Index(), "pts", f.PTS)
	}
}

func (p *captionPrinter) DidUpdateCaptions(_ *player.VideoStream, captions []*ccx.CaptionFrame) {
	for _, c := range captions {
		fmt.Fprintf(p.out, "[CC%d] %s\n", c.Channel, c.Text)
	}
}

func play(ctx context.Context, path string, cfg playConfig, out io.Writer, log *slog.Logger) error {
	printer := &captionPrinter{out: out, log: log}
	opts := []player.Option{player.WithLogger(log), player.WithFrameDelegate(printer)}
	if cfg.pcmOut != "" {
		f, err := os.Create(cfg.pcmOut)
		if err != nil {
			return err
		}
		defer f.Close()
		opts = append(opts, player.WithSinkOptions(sink.WithOutput(f)))
	}

	m, err := player.Open(path, opts...)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := selectStreams(m, cfg); err != nil {
		return err
	}
	m.SetVolume(cfg.volume)
	if cfg.seek > 0 {
		if err := m.Seek(cfg.seek); err != nil {
			return err
		}
	}

	log.Info("playing",
		"file", path,
		"duration", m.Duration(),
		"sample_rate", m.SampleRate(),
		"frame_rate", m.FrameRate(),
	)
	m.Play()

	g, ctx := errgroup.WithContext(ctx)
	finished := make(chan struct{})

	// The movie is only driven from this goroutine until it returns.
	g.Go(func() error {
		defer close(finished)
		ticker := time.NewTicker(cfg.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info("interrupted", "offset", m.PlayingOffset())
				return nil
			case <-ticker.C:
			}
			m.Update()
			if m.Status() == media.Stopped {
				log.Info("end of playback")
				return nil
			}
			if cfg.limit > 0 && m.PlayingOffset() >= cfg.seek+cfg.limit {
				log.Info("playback limit reached", "offset", m.PlayingOffset())
				return nil
			}
		}
	})

	if cfg.progress > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.progress)
			defer ticker.Stop()
			for {
				select {
				case <-finished:
					return nil
				case <-ticker.C:
					log.Info("progress",
						"offset", m.PlayingOffset().Round(time.Millisecond),
						"duration", m.Duration(),
						"frames", printer.frames.Load(),
					)
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped", "frames", printer.frames.Load())
	return nil
}

// selectStreams applies the --audio and --video choices. The movie must be
// stopped.
func selectStreams(m *player.Movie, cfg playConfig) error {
	if cfg.audio >= 0 {
		a, err := findStream(m.Demuxer().AudioStreams(), cfg.audio, "audio")
		if err != nil {
			return err
		}
		if err := m.SelectAudioStream(a); err != nil {
			return err
		}
	}
	if cfg.video >= 0 {
		v, err := findStream(m.Demuxer().VideoStreams(), cfg.video, "video")
		if err != nil {
			return err
		}
		if err := m.SelectVideoStream(v); err != nil {
			return err
		}
	}
	return nil
}

type indexed interface{ Index() int }

func findStream[S indexed](streams []S, index int, kind string) (S, error) {
	for _, s := range streams {
		if s.Index() == index {
			return s, nil
		}
	}
	var zero S
	return zero, fmt.Errorf("no %s stream with index %d", kind, index)
}
