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
	"github.com/zsiec/reel/container"
	"github.com/zsiec/reel/media"
	"github.com/zsiec/reel/timer"
)

// maxPending bounds the packets kept for a stream that is not selected.
const maxPending = 256

// Demuxer owns a container reader and the streams built from it. It routes
// every packet it reads to the stream it belongs to.
//
// Lock order is Demuxer, then Stream. The Demuxer never waits on a sink
// while holding its lock.
type Demuxer struct {
	log    *slog.Logger
	timer  *timer.Timer
	reader container.Reader

	mu       sync.Mutex
	streams  []*Stream
	byIndex  map[int]*Stream
	audio    []*AudioStream
	video    []*VideoStream
	ignored  map[int]string
	pending  map[*Stream][]*media.Packet
	eof      bool
	rewind   bool
	duration time.Duration
	selAudio *AudioStream
	selVideo *VideoStream
}

var (
	_ DataSource         = (*Demuxer)(nil)
	_ timer.Observer     = (*Demuxer)(nil)
	_ timer.SeekPreparer = (*Demuxer)(nil)
)

// NewDemuxer opens the file at path and builds a stream for every
// elementary stream a decoder exists for. Frames of the video streams go to
// delegate. The Demuxer observes tm from now on.
func NewDemuxer(path string, tm *timer.Timer, delegate FrameDelegate, opts ...Option) (*Demuxer, error) {
	o := newOptions(opts)
	r, err := container.Open(path, container.WithLogger(o.log))
	if err != nil {
		return nil, err
	}
	return NewDemuxerWithReader(r, tm, delegate, opts...), nil
}

// NewDemuxerWithReader is like NewDemuxer for an already opened reader,
// which the Demuxer closes.
func NewDemuxerWithReader(r container.Reader, tm *timer.Timer, delegate FrameDelegate, opts ...Option) *Demuxer {
	o := newOptions(opts)
	d := &Demuxer{
		log:     o.log.With("component", "demuxer", "format", r.Format()),
		timer:   tm,
		reader:  r,
		byIndex: make(map[int]*Stream),
		ignored: make(map[int]string),
		pending: make(map[*Stream][]*media.Packet),
	}

	infos := r.Streams()
	origin := presentationStart(infos)
	for _, info := range infos {
		dec, err := codec.NewDecoder(info, codec.WithLogger(o.log))
		if err != nil {
			d.ignored[info.Index] = info.Codec
			if errors.Is(err, codec.ErrDecoderNotFound) {
				d.log.Info("ignoring stream without decoder", "stream", info.Index, "codec", info.Codec)
			} else {
				d.log.Warn("ignoring stream", "stream", info.Index, "codec", info.Codec, "error", err)
			}
			continue
		}

		var s *Stream
		switch info.Kind {
		case media.Audio:
			a := newAudioStream(info, tm, d, dec, origin, o)
			d.audio = append(d.audio, a)
			s = a.Stream
		case media.Video:
			v := newVideoStream(info, tm, d, dec, origin, delegate, o)
			d.video = append(d.video, v)
			s = v.Stream
		default:
			dec.Close()
			d.ignored[info.Index] = info.Codec
			continue
		}
		d.streams = append(d.streams, s)
		d.byIndex[info.Index] = s
	}

	d.duration = d.extractDurationFromStream()
	d.log.Info("opened", "streams", len(d.streams), "ignored", len(d.ignored), "duration", d.duration)
	tm.AddObserver(d, timer.PriorityDemuxer)
	return d
}

// presentationStart returns the earliest start time among streams, which
// becomes position zero of the presentation.
func presentationStart(infos []media.StreamInfo) time.Duration {
	var start time.Duration
	found := false
	for _, info := range infos {
		if info.StartTime == media.NoTimestamp || !info.TimeBase.Valid() {
			continue
		}
		t := info.TimeBase.Duration(info.StartTime)
		if !found || t < start {
			start, found = t, true
		}
	}
	return start
}

// extractDurationFromStream returns the duration of the first stream that
// has one.
func (d *Demuxer) extractDurationFromStream() time.Duration {
	for _, s := range d.streams {
		if s.info.HasDuration() {
			return s.info.TimeBase.Duration(s.info.Duration)
		}
		d.log.Debug("stream has no duration", "stream", s.Index())
	}
	return 0
}

// Duration returns the duration of the presentation, or 0 when unknown.
func (d *Demuxer) Duration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration
}

// Reader returns the container reader.
func (d *Demuxer) Reader() container.Reader { return d.reader }

// Streams returns every stream in container order.
func (d *Demuxer) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.streams)
}

// StreamsOfType returns the streams of one kind.
func (d *Demuxer) StreamsOfType(kind media.Kind) []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Stream
	for _, s := range d.streams {
		if s.Kind() == kind {
			out = append(out, s)
		}
	}
	return out
}

func (d *Demuxer) AudioStreams() []*AudioStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.audio)
}

func (d *Demuxer) VideoStreams() []*VideoStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.video)
}

// IgnoredStreams maps the index of every stream without a usable decoder to
// its codec name.
func (d *Demuxer) IgnoredStreams() map[int]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int]string, len(d.ignored))
	for i, c := range d.ignored {
		out[i] = c
	}
	return out
}

// ComputeStreamDescriptors describes the streams of one kind.
func (d *Demuxer) ComputeStreamDescriptors(kind media.Kind) []media.StreamDescriptor {
	var out []media.StreamDescriptor
	for _, s := range d.StreamsOfType(kind) {
		out = append(out, media.StreamDescriptor{
			Identifier: s.Index(),
			Kind:       s.Kind(),
			Language:   s.Language(),
			CodecName:  s.CodecName(),
		})
	}
	return out
}

// SelectAudioStream makes a the active audio stream, or disables audio when
// a is nil. The previous audio stream is disconnected from the clock first.
func (d *Demuxer) SelectAudioStream(a *AudioStream) {
	d.mu.Lock()
	if a != nil && !slices.Contains(d.audio, a) {
		d.mu.Unlock()
		panic(fmt.Sprintf("player: audio stream %d does not belong to this demuxer", a.Index()))
	}
	prev := d.selAudio
	d.selAudio = a
	d.mu.Unlock()

	if prev == a {
		return
	}
	if prev != nil {
		prev.Disconnect()
	}
	if a != nil {
		a.Connect()
		d.log.Info("selected audio stream", "stream", a.Index(), "codec", a.CodecName())
	} else {
		d.log.Info("audio disabled")
	}
}

// SelectVideoStream makes v the active video stream, or disables video when
// v is nil.
func (d *Demuxer) SelectVideoStream(v *VideoStream) {
	d.mu.Lock()
	if v != nil && !slices.Contains(d.video, v) {
		d.mu.Unlock()
		panic(fmt.Sprintf("player: video stream %d does not belong to this demuxer", v.Index()))
	}
	prev := d.selVideo
	d.selVideo = v
	d.mu.Unlock()

	if prev == v {
		return
	}
	if prev != nil {
		prev.Disconnect()
	}
	if v != nil {
		v.Connect()
		d.log.Info("selected video stream", "stream", v.Index(), "codec", v.CodecName())
	} else {
		d.log.Info("video disabled")
	}
}

func (d *Demuxer) SelectFirstAudioStream() {
	if as := d.AudioStreams(); len(as) > 0 {
		d.SelectAudioStream(as[0])
	}
}

func (d *Demuxer) SelectFirstVideoStream() {
	if vs := d.VideoStreams(); len(vs) > 0 {
		d.SelectVideoStream(vs[0])
	}
}

func (d *Demuxer) SelectedAudioStream() *AudioStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selAudio
}

func (d *Demuxer) SelectedVideoStream() *VideoStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selVideo
}

// SelectedStreams returns the active streams, audio first.
func (d *Demuxer) SelectedStreams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selectedLocked()
}

func (d *Demuxer) selectedLocked() []*Stream {
	var out []*Stream
	if d.selAudio != nil {
		out = append(out, d.selAudio.Stream)
	}
	if d.selVideo != nil {
		out = append(out, d.selVideo.Stream)
	}
	return out
}

func (d *Demuxer) isSelectedLocked(s *Stream) bool {
	return (d.selAudio != nil && d.selAudio.Stream == s) ||
		(d.selVideo != nil && d.selVideo.Stream == s)
}

// FeedStream refills the queue of s. Packets already read for s are handed
// over first; the container is read only when none are left, until s has
// enough packets or the end of the file is reached.
func (d *Demuxer) FeedStream(s *Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for s.NeedsMoreData() {
		if q := d.pending[s]; len(q) > 0 {
			p := q[0]
			q[0] = nil
			if len(q) == 1 {
				delete(d.pending, s)
			} else {
				d.pending[s] = q[1:]
			}
			s.PushEncodedData(p)
			continue
		}
		if d.eof {
			return
		}
		p, err := d.reader.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.log.Error("failed to read packet", "error", err)
			}
			d.log.Debug("end of file")
			d.eof = true
			return
		}
		d.distributePacket(p, s)
	}
}

// RequestMoreData implements DataSource.
func (d *Demuxer) RequestMoreData(s *Stream) { d.FeedStream(s) }

// ResetEndOfFileStatus implements DataSource.
func (d *Demuxer) ResetEndOfFileStatus() {
	d.mu.Lock()
	d.eof = false
	d.mu.Unlock()
}

// distributePacket hands p to its stream, keeps it for a stream that is not
// selected, or releases it. Called with d.mu held.
func (d *Demuxer) distributePacket(p *media.Packet, requester *Stream) {
	s, ok := d.byIndex[p.StreamIndex]
	switch {
	case !ok:
		p.Release()
	case s == requester || d.isSelectedLocked(s):
		s.PushEncodedData(p)
	default:
		q := append(d.pending[s], p)
		if len(q) > maxPending {
			d.log.Warn("dropping pending packet", "stream", s.Index(), "pts", q[0].PTS, "limit", maxPending)
			q[0].Release()
			q[0] = nil
			q = q[1:]
		}
		d.pending[s] = q
	}
}

func (d *Demuxer) releasePendingLocked() {
	for s, q := range d.pending {
		for _, p := range q {
			p.Release()
		}
		delete(d.pending, s)
	}
}

// PendingLen returns the number of packets read but not yet given to s.
func (d *Demuxer) PendingLen(s *Stream) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending[s])
}

// DidReachEndOfFile reports whether the container is exhausted and the
// selected streams have consumed every packet read for them.
func (d *Demuxer) DidReachEndOfFile() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.eof {
		return false
	}
	for _, s := range d.selectedLocked() {
		if len(d.pending[s]) > 0 || s.HasPackets() {
			return false
		}
	}
	return true
}

// Update lets the selected streams catch up with the clock. It does not
// read the container: packets only move when a stream asks for them.
func (d *Demuxer) Update() {
	for _, s := range d.SelectedStreams() {
		s.Update()
	}
}

func (d *Demuxer) WillPlay(*timer.Timer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.rewind {
		return
	}
	d.rewind = false
	d.releasePendingLocked()
	if err := d.reader.Seek(0); err != nil {
		d.log.Error("failed to rewind", "error", err)
	}
	d.eof = false
}

func (d *Demuxer) DidPlay(*timer.Timer, media.Status)  {}
func (d *Demuxer) DidPause(*timer.Timer, media.Status) {}

// DidStop drops the pending packets; the container is rewound on the next
// play.
func (d *Demuxer) DidStop(*timer.Timer, media.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releasePendingLocked()
	d.rewind = true
}

// WillSeek positions the container at a packet boundary before target.
func (d *Demuxer) WillSeek(_ *timer.Timer, target time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releasePendingLocked()
	if err := d.reader.Seek(target); err != nil {
		d.log.Error("failed to seek container", "target", target, "error", err)
	}
	d.eof = false
	d.rewind = false
}

// DidSeek flushes every stream and the pending queues. The selected streams
// fast-forward to the new offset on their own.
func (d *Demuxer) DidSeek(*timer.Timer, time.Duration) bool {
	for _, s := range d.Streams() {
		s.FlushBuffers()
	}
	d.mu.Lock()
	d.releasePendingLocked()
	d.mu.Unlock()
	d.ResetEndOfFileStatus()
	return true
}

// Close stops and releases every stream, then closes the container.
func (d *Demuxer) Close() error {
	d.timer.RemoveObserver(d)
	d.SelectAudioStream(nil)
	d.SelectVideoStream(nil)

	for _, s := range d.Streams() {
		s.FlushBuffers()
	}
	for _, a := range d.AudioStreams() {
		a.close()
	}
	for _, v := range d.VideoStreams() {
		v.close()
	}

	d.mu.Lock()
	d.releasePendingLocked()
	d.mu.Unlock()

	if err := d.reader.Close(); err != nil {
		return fmt.Errorf("player: close container: %w", err)
	}
	return nil
}
