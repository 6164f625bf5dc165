package player

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/ccx"

	"github.com/zsiec/reel/container"
	"github.com/zsiec/reel/media"
	"github.com/zsiec/reel/timer"
)

var (
	// ErrNoPlayableStream is returned by Open when no stream can be decoded.
	ErrNoPlayableStream = errors.New("player: no playable stream")

	// ErrInvalidSeek is returned by Seek for targets outside the movie.
	ErrInvalidSeek = errors.New("player: seek target out of range")

	// ErrNotStopped is returned when changing streams of a movie that is
	// not stopped.
	ErrNotStopped = errors.New("player: movie is not stopped")
)

// Movie plays a media file: it owns the clock, the demuxer and the selected
// streams. Its methods are meant to be called from one control goroutine,
// with Update called regularly.
type Movie struct {
	log      *slog.Logger
	timer    *timer.Timer
	demuxer  *Demuxer
	delegate FrameDelegate

	mu    sync.Mutex
	frame *media.VideoFrame
}

var _ CaptionDelegate = (*Movie)(nil)

// Open opens the file at path and selects its first audio and video
// streams.
func Open(path string, opts ...Option) (*Movie, error) {
	o := newOptions(opts)
	r, err := container.Open(path, container.WithLogger(o.log))
	if err != nil {
		return nil, err
	}
	m, err := OpenReader(r, opts...)
	if err != nil {
		return nil, fmt.Errorf("player: open %s: %w", path, err)
	}
	return m, nil
}

// OpenReader is like Open for an already opened container, which the Movie
// closes.
func OpenReader(r container.Reader, opts ...Option) (*Movie, error) {
	o := newOptions(opts)
	m := &Movie{
		log:      o.log.With("component", "movie"),
		timer:    o.timer,
		delegate: o.delegate,
	}
	if m.timer == nil {
		m.timer = timer.New(o.log)
	}
	m.demuxer = NewDemuxerWithReader(r, m.timer, m, opts...)

	if len(m.demuxer.AudioStreams()) == 0 && len(m.demuxer.VideoStreams()) == 0 {
		if err := m.demuxer.Close(); err != nil {
			m.log.Warn("failed to close demuxer", "error", err)
		}
		return nil, ErrNoPlayableStream
	}
	m.demuxer.SelectFirstAudioStream()
	m.demuxer.SelectFirstVideoStream()
	if v := m.demuxer.SelectedVideoStream(); v != nil {
		v.Preload()
	}
	return m, nil
}

// Demuxer returns the demuxer of the movie.
func (m *Movie) Demuxer() *Demuxer { return m.demuxer }

// Timer returns the clock of the movie.
func (m *Movie) Timer() *timer.Timer { return m.timer }

// DidUpdateVideo implements FrameDelegate.
func (m *Movie) DidUpdateVideo(s *VideoStream, f *media.VideoFrame) {
	m.mu.Lock()
	m.frame = f
	m.mu.Unlock()
	if m.delegate != nil {
		m.delegate.DidUpdateVideo(s, f)
	}
}

// DidUpdateCaptions implements CaptionDelegate.
func (m *Movie) DidUpdateCaptions(s *VideoStream, captions []*ccx.CaptionFrame) {
	if cd, ok := m.delegate.(CaptionDelegate); ok {
		cd.DidUpdateCaptions(s, captions)
	}
}

// CurrentFrame returns the video frame displayed last, or nil.
func (m *Movie) CurrentFrame() *media.VideoFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// Status combines the status of the selected streams: playing if any is
// playing, else paused if any is paused.
func (m *Movie) Status() media.Status {
	st := media.Stopped
	for _, s := range m.demuxer.SelectedStreams() {
		switch s.Status() {
		case media.Playing:
			return media.Playing
		case media.Paused:
			st = media.Paused
		}
	}
	return st
}

func (m *Movie) Play() {
	if m.Status() == media.Playing {
		m.log.Warn("movie is already playing")
	} else {
		m.timer.Play()
	}
	m.Update()
}

func (m *Movie) Pause() {
	if m.Status() == media.Paused {
		m.log.Warn("movie is already paused")
	} else {
		m.timer.Pause()
	}
	m.Update()
}

// Stop stops playback and rewinds to the beginning, showing the first
// frame again.
func (m *Movie) Stop() {
	if m.Status() == media.Stopped && m.timer.Status() == media.Stopped {
		m.log.Warn("movie is already stopped")
		return
	}
	if m.timer.Status() != media.Stopped {
		m.timer.Stop()
	}
	m.timer.Seek(0)
	if v := m.demuxer.SelectedVideoStream(); v != nil {
		v.Preload()
	}
	m.Update()
}

// Seek moves playback to target, which must lie in [0, Duration). A
// stopped movie is paused at target.
func (m *Movie) Seek(target time.Duration) error {
	if d := m.Duration(); target < 0 || target >= d {
		return fmt.Errorf("%w: %v not in [0, %v)", ErrInvalidSeek, target, d)
	}
	stopped := m.timer.Status() == media.Stopped
	if !m.timer.Seek(target) {
		m.log.Warn("seek did not reach its target", "target", target)
	}
	if stopped {
		m.timer.Pause()
	}
	m.Update()
	return nil
}

// Update must be called regularly from the control goroutine. It presents
// due video frames and stops the clock once every stream ended.
func (m *Movie) Update() {
	m.demuxer.Update()
	if m.Status() == media.Stopped && m.timer.Status() != media.Stopped {
		m.log.Info("end of movie", "offset", m.timer.Offset())
		m.timer.Stop()
	}
}

// SelectAudioStream switches to another audio stream, or disables audio
// when a is nil. The movie must be stopped.
func (m *Movie) SelectAudioStream(a *AudioStream) error {
	if m.Status() != media.Stopped {
		return ErrNotStopped
	}
	m.demuxer.SelectAudioStream(a)
	return nil
}

// SelectVideoStream switches to another video stream, or disables video
// when v is nil. The movie must be stopped.
func (m *Movie) SelectVideoStream(v *VideoStream) error {
	if m.Status() != media.Stopped {
		return ErrNotStopped
	}
	m.demuxer.SelectVideoStream(v)
	if v != nil {
		v.Preload()
	}
	return nil
}

func (m *Movie) Duration() time.Duration      { return m.demuxer.Duration() }
func (m *Movie) PlayingOffset() time.Duration { return m.timer.Offset() }

// SetVolume sets the gain of the audio, 1 being unity.
func (m *Movie) SetVolume(v float64) {
	if a := m.demuxer.SelectedAudioStream(); a != nil {
		a.SetVolume(v)
	}
}

func (m *Movie) Volume() float64 {
	if a := m.demuxer.SelectedAudioStream(); a != nil {
		return a.Volume()
	}
	return 0
}

func (m *Movie) FrameSize() (width, height int) {
	if v := m.demuxer.SelectedVideoStream(); v != nil {
		return v.FrameSize()
	}
	return 0, 0
}

func (m *Movie) FrameRate() float64 {
	if v := m.demuxer.SelectedVideoStream(); v != nil {
		return v.FrameRate()
	}
	return 0
}

func (m *Movie) SampleRate() int {
	if a := m.demuxer.SelectedAudioStream(); a != nil {
		return a.SampleRate()
	}
	return 0
}

func (m *Movie) ChannelCount() int {
	if a := m.demuxer.SelectedAudioStream(); a != nil {
		return a.ChannelCount()
	}
	return 0
}

// DidReachEndOfFile reports whether every packet of the selected streams
// was consumed.
func (m *Movie) DidReachEndOfFile() bool { return m.demuxer.DidReachEndOfFile() }

// Close stops playback and releases the file.
func (m *Movie) Close() error {
	if m.timer.Status() != media.Stopped {
		m.timer.Stop()
	}
	return m.demuxer.Close()
}
