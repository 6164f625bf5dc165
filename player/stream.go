// Package player keeps the decoding of a media file in step with a shared
// presentation clock.
//
// A Demuxer reads packets from a container and routes them to one Stream
// per elementary stream. At most one audio and one video stream are
// selected at a time; selected streams observe the clock and pull packets
// on demand. The audio stream feeds an audio sink that drains it at its own
// real-time cadence, and the video stream hands frames to a FrameDelegate
// when the clock reaches them. Movie ties the pieces together.
package player

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/zsiec/reel/codec"
	"github.com/zsiec/reel/media"
	"github.com/zsiec/reel/timer"
)

// DataSource supplies packets to streams whose queue ran dry.
type DataSource interface {
	// RequestMoreData feeds s from the container. It returns at once when
	// the end of the file was reached.
	RequestMoreData(s *Stream)
	ResetEndOfFileStatus()
}

// refillThreshold is the queue length under which a stream asks for more.
const refillThreshold = 10

// streamKind is implemented by the concrete stream types. Stream calls these
// hooks from the clock callbacks.
type streamKind interface {
	// fastForward skips data up to target, measured from the start of the
	// presentation. It reports false when target could not be reached.
	fastForward(target time.Duration) bool
	// flush drops decoded data after the packet queue was flushed.
	flush()
	willPlay()
	didPause()
	didStop()
	update()
	tier() timer.Priority
}

// Stream is the part shared by audio and video streams: the decoder bound to
// one elementary stream, a queue of undecoded packets and the playback
// state machine driven by the clock.
type Stream struct {
	log     *slog.Logger
	info    media.StreamInfo
	timer   *timer.Timer
	source  DataSource
	decoder codec.Decoder
	impl    streamKind

	// origin is the container time at which the presentation starts.
	origin time.Duration

	mu        sync.Mutex
	queue     []*media.Packet
	status    media.Status
	connected bool
}

var _ timer.Observer = (*Stream)(nil)

func newStream(info media.StreamInfo, tm *timer.Timer, src DataSource, dec codec.Decoder, origin time.Duration, log *slog.Logger) *Stream {
	if dec == nil {
		panic(fmt.Sprintf("player: stream %d has no decoder", info.Index))
	}
	return &Stream{
		log:     log.With("component", "stream", "stream", info.Index, "kind", info.Kind),
		info:    info,
		timer:   tm,
		source:  src,
		decoder: dec,
		origin:  origin,
	}
}

// Index returns the container index of the stream.
func (s *Stream) Index() int { return s.info.Index }

func (s *Stream) Kind() media.Kind       { return s.info.Kind }
func (s *Stream) CodecName() string      { return s.info.Codec }
func (s *Stream) Language() string       { return s.info.Language }
func (s *Stream) Info() media.StreamInfo { return s.info }

// Description returns a short human readable summary of the stream.
func (s *Stream) Description() string {
	d := fmt.Sprintf("%s #%d %s", s.info.Kind, s.info.Index, s.info.Codec)
	switch s.info.Kind {
	case media.Audio:
		d += fmt.Sprintf(" %d Hz %d ch", s.info.SampleRate, s.info.Channels)
	case media.Video:
		if s.info.Width > 0 {
			d += fmt.Sprintf(" %dx%d", s.info.Width, s.info.Height)
		}
	}
	if s.info.Language != "" {
		d += " (" + s.info.Language + ")"
	}
	return d
}

func (s *Stream) Status() media.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Stream) setStatus(st media.Status) {
	s.mu.Lock()
	prev := s.status
	s.status = st
	s.mu.Unlock()
	if prev != st {
		s.log.Debug("status changed", "from", prev, "to", st)
	}
}

// Connected reports whether the stream observes the clock.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect registers the stream with the clock. Audio streams join the
// active tier, video streams the passive one.
func (s *Stream) Connect() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.timer.AddObserver(s, s.impl.tier())
	s.log.Debug("connected", "tier", s.impl.tier())
}

// Disconnect unregisters the stream from the clock, stopping it if needed.
func (s *Stream) Disconnect() {
	s.timer.RemoveObserver(s)
	s.mu.Lock()
	s.connected = false
	st := s.status
	s.mu.Unlock()
	if st != media.Stopped {
		s.impl.didStop()
		s.setStatus(media.Stopped)
		s.FlushBuffers()
	}
	s.log.Debug("disconnected")
}

// CanUsePacket reports whether p belongs to this stream.
func (s *Stream) CanUsePacket(p *media.Packet) bool {
	return p != nil && p.StreamIndex == s.info.Index
}

func (s *Stream) mustOwn(p *media.Packet) {
	if !s.CanUsePacket(p) {
		panic(fmt.Sprintf("player: packet of stream %d given to stream %d", p.StreamIndex, s.info.Index))
	}
}

// PushEncodedData appends p to the queue. The stream takes ownership.
func (s *Stream) PushEncodedData(p *media.Packet) {
	s.mustOwn(p)
	s.mu.Lock()
	s.queue = append(s.queue, p)
	s.mu.Unlock()
}

// PrependEncodedData puts p back at the head of the queue.
func (s *Stream) PrependEncodedData(p *media.Packet) {
	s.mustOwn(p)
	s.mu.Lock()
	s.queue = slices.Insert(s.queue, 0, p)
	s.mu.Unlock()
}

// PopEncodedData removes the head of the queue and hands it to the caller.
// A selected stream whose queue is empty first asks its DataSource for more.
// It returns nil when no packet is available.
func (s *Stream) PopEncodedData() *media.Packet {
	s.mu.Lock()
	if len(s.queue) == 0 && s.connected {
		s.mu.Unlock()
		s.source.RequestMoreData(s)
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	p := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return p
}

// HasPackets reports whether the queue is non-empty.
func (s *Stream) HasPackets() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0
}

// QueueLen returns the number of queued packets.
func (s *Stream) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// NeedsMoreData reports whether the queue is short enough to be refilled.
// It is a hint: a feed may leave more packets queued.
func (s *Stream) NeedsMoreData() bool {
	return s.QueueLen() < refillThreshold
}

// ComputeEncodedPosition returns the presentation time of the head of the
// queue, fetching a packet if needed. ok is false when none is obtainable.
func (s *Stream) ComputeEncodedPosition() (pos time.Duration, ok bool) {
	if !s.HasPackets() {
		p := s.PopEncodedData()
		if p == nil {
			return 0, false
		}
		s.PrependEncodedData(p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, false
	}
	return s.position(s.queue[0])
}

// position converts the decode timestamp of p, or its presentation
// timestamp, to presentation time.
func (s *Stream) position(p *media.Packet) (time.Duration, bool) {
	ts := p.Timestamp()
	if ts == media.NoTimestamp {
		return 0, false
	}
	return s.timeOf(ts, p.TimeBase), true
}

// timeOf maps DTS and PTS alike onto the clock relative to the presentation
// origin, not to this stream's own start time.
func (s *Stream) timeOf(ts int64, tb media.Rational) time.Duration {
	if !tb.Valid() {
		tb = s.info.TimeBase
	}
	return tb.Duration(ts) - s.origin
}

// PacketDuration returns how long p lasts. Without an explicit duration it
// is estimated from the frame rate of the stream.
func (s *Stream) PacketDuration(p *media.Packet) time.Duration {
	s.mustOwn(p)
	if d := p.DurationTime(); d > 0 {
		return d
	}
	if p.Duration > 0 && s.info.TimeBase.Valid() {
		return s.info.TimeBase.Duration(p.Duration)
	}
	if fr := s.info.FrameRate; fr.Valid() {
		return media.Rational{Num: fr.Den, Den: fr.Num}.Duration(1)
	}
	return 0
}

// FlushBuffers releases every queued packet and resets the decoder. The
// stream must not be playing.
func (s *Stream) FlushBuffers() {
	s.mu.Lock()
	if s.status == media.Playing {
		s.mu.Unlock()
		panic(fmt.Sprintf("player: flushing stream %d while playing", s.info.Index))
	}
	q := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, p := range q {
		p.Release()
	}
	s.decoder.Flush()
	s.impl.flush()
	if len(q) > 0 {
		s.log.Debug("flushed", "packets", len(q))
	}
}

// Update lets the stream catch up with the clock. It is called from the
// control loop.
func (s *Stream) Update() { s.impl.update() }

// decode feeds p to the decoder and returns the frames it produced. p is
// released in every case. A packet that fails to decode is skipped.
func (s *Stream) decode(p *media.Packet) []media.Frame {
	defer p.Release()
	if err := s.decoder.SendPacket(p); err != nil {
		s.log.Warn("failed to decode packet", "pts", p.PTS, "error", err)
		return nil
	}
	var frames []media.Frame
	for {
		f, err := s.decoder.ReceiveFrame()
		if err != nil {
			if !errors.Is(err, codec.ErrAgain) && !errors.Is(err, io.EOF) {
				s.log.Warn("failed to receive frame", "pts", p.PTS, "error", err)
			}
			return frames
		}
		frames = append(frames, f)
	}
}

func (s *Stream) close() {
	if err := s.decoder.Close(); err != nil {
		s.log.Warn("failed to close decoder", "error", err)
	}
}

func (s *Stream) WillPlay(*timer.Timer) { s.impl.willPlay() }

func (s *Stream) DidPlay(*timer.Timer, media.Status) { s.setStatus(media.Playing) }

func (s *Stream) DidPause(*timer.Timer, media.Status) {
	s.impl.didPause()
	s.setStatus(media.Paused)
}

func (s *Stream) DidStop(*timer.Timer, media.Status) {
	s.impl.didStop()
	s.setStatus(media.Stopped)
	s.FlushBuffers()
}

// DidSeek skips to the new clock offset. Offset zero needs no skipping.
func (s *Stream) DidSeek(t *timer.Timer, _ time.Duration) bool {
	if off := t.Offset(); off != 0 {
		return s.impl.fastForward(off)
	}
	return true
}
