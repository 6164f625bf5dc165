// Package sink plays decoded audio. A Sink pulls samples at its own
// real-time cadence on a separate goroutine and reports state changes
// through one-shot channels.
package sink

import (
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/zsiec/reel/media"
)

// Sink is an audio output device.
type Sink interface {
	// Play starts or resumes playback. The returned channel is closed once
	// the device is playing. On a start from a zero playing offset it is
	// closed only after audio flowed, so PlayingOffset is non-zero unless
	// the source was already drained and the device stopped again.
	Play() <-chan struct{}
	// Pause suspends playback, keeping the playing offset.
	Pause() <-chan struct{}
	// Stop ends playback and rewinds the playing offset to zero.
	Stop() <-chan struct{}
	Status() media.Status
	// PlayingOffset is the amount of audio played since the last stop.
	PlayingOffset() time.Duration
	// SetVolume sets the linear gain, 0 mutes and 1 is unity.
	SetVolume(v float64)
	Volume() float64
}

// Chunk is a block of interleaved signed 16-bit samples.
type Chunk struct {
	Samples []int16
}

// Source supplies audio chunks to a Streamer.
type Source interface {
	// OnGetData fills c with the next chunk. It returns false at the end of
	// the stream; samples set on that last call are still played.
	OnGetData(c *Chunk) bool
	SampleRate() int
	ChannelCount() int
}

// Streamer adapts a Source to a beep.Streamer. It is not safe for
// concurrent use.
type Streamer struct {
	src      Source
	channels int
	chunk    Chunk
	pos      int
	done     bool
}

var _ beep.Streamer = (*Streamer)(nil)

// NewStreamer returns a Streamer reading from src.
func NewStreamer(src Source) *Streamer {
	return &Streamer{src: src, channels: max(src.ChannelCount(), 1)}
}

// Format returns the beep format of the samples the source produces.
func (s *Streamer) Format() beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(s.src.SampleRate()),
		NumChannels: min(s.channels, 2),
		Precision:   2,
	}
}

// Stream implements beep.Streamer. Mono sources play on both channels and
// channels past the second are ignored.
func (s *Streamer) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) {
		if s.pos+s.channels > len(s.chunk.Samples) {
			if s.done {
				break
			}
			s.chunk.Samples = s.chunk.Samples[:0]
			s.pos = 0
			// The last chunk may carry samples along with the end signal.
			s.done = !s.src.OnGetData(&s.chunk)
			continue
		}
		l := s.chunk.Samples[s.pos]
		r := l
		if s.channels > 1 {
			r = s.chunk.Samples[s.pos+1]
		}
		samples[n] = [2]float64{float64(l) / 32768, float64(r) / 32768}
		s.pos += s.channels
		n++
	}
	return n, n > 0
}

// Err implements beep.Streamer.
func (s *Streamer) Err() error { return nil }

// Reset drops the current chunk and clears the end-of-stream flag, so that
// the next Stream call asks the source for fresh data.
func (s *Streamer) Reset() {
	s.chunk.Samples = s.chunk.Samples[:0]
	s.pos = 0
	s.done = false
}
