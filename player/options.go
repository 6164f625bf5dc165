package player

import (
	"log/slog"

	"github.com/zsiec/reel/sink"
	"github.com/zsiec/reel/timer"
)

// Option configures a Demuxer or a Movie.
type Option func(*options)

type options struct {
	log         *slog.Logger
	delegate    FrameDelegate
	timer       *timer.Timer
	sinkFactory func(*sink.Streamer) sink.Sink
	sinkOptions []sink.DeviceOption
}

func newOptions(opts []Option) *options {
	o := &options{log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithFrameDelegate sets the receiver of the video frames of a Movie.
func WithFrameDelegate(d FrameDelegate) Option {
	return func(o *options) { o.delegate = d }
}

// WithTimer makes a Movie use an existing clock instead of its own.
func WithTimer(t *timer.Timer) Option {
	return func(o *options) { o.timer = t }
}

// WithSinkFactory replaces the audio device built for each audio stream.
func WithSinkFactory(f func(*sink.Streamer) sink.Sink) Option {
	return func(o *options) { o.sinkFactory = f }
}

// WithSinkOptions configures the default audio device.
func WithSinkOptions(opts ...sink.DeviceOption) Option {
	return func(o *options) { o.sinkOptions = append(o.sinkOptions, opts...) }
}
