package player

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/ccx"

	"github.com/zsiec/reel/internal/mpegts/tstest"
	"github.com/zsiec/reel/media"
	"github.com/zsiec/reel/sink"
)

var (
	tb48k = media.Rational{Num: 1, Den: 48000}
	tb90k = media.Rational{Num: 1, Den: 90000}
)

const (
	pcmFrames   = 960 // 20 ms at 48 kHz
	pcmFirstPTS = 480
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureLogger logs at Info and above into the returned buffer.
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewTextHandler(buf, nil)), buf
}

// pcmValue is the sample both channels carry at timestamp ts.
func pcmValue(ts int64) int16 {
	return int16(ts % 30000)
}

func pcmInfo(index int, lang string, duration int64) media.StreamInfo {
	return media.StreamInfo{
		Index:        index,
		Kind:         media.Audio,
		Codec:        "pcm_s16le",
		TimeBase:     tb48k,
		StartTime:    0,
		Duration:     duration,
		Language:     lang,
		SampleRate:   48000,
		Channels:     2,
		SampleFormat: media.SampleFormatS16,
	}
}

// pcmPacket returns the k-th 20 ms packet of a stereo 48 kHz stream.
func pcmPacket(stream, k int) *media.Packet {
	pts := int64(pcmFirstPTS + k*pcmFrames)
	data := make([]byte, pcmFrames*2*2)
	for i := range pcmFrames {
		v := uint16(pcmValue(pts + int64(i)))
		binary.LittleEndian.PutUint16(data[4*i:], v)
		binary.LittleEndian.PutUint16(data[4*i+2:], v)
	}
	p := media.NewPacket(stream, data, tb48k)
	p.PTS, p.DTS = pts, pts
	p.Duration = pcmFrames
	p.Keyframe = true
	return p
}

func videoPacket(stream, k int) *media.Packet {
	p := media.NewPacket(stream, tstest.AccessUnit(true), tb90k)
	p.PTS, p.DTS = int64(k*3000), int64(k*3000)
	p.Duration = 3000
	p.Keyframe = true
	return p
}

type fakeEvent struct {
	stream int
	k      int
	start  time.Duration
}

// fakeReader is a container of 10 s: H.264 video at 30 fps (stream 0), two
// PCM audio tracks (1 and 2) and an AAC track nothing can decode (3).
type fakeReader struct {
	infos  []media.StreamInfo
	events []fakeEvent

	mu    sync.Mutex
	pos   int
	seeks []time.Duration

	read     atomic.Int64
	released atomic.Int64

	closeErr error
}

func newFakeReader() *fakeReader {
	r := &fakeReader{
		infos: []media.StreamInfo{
			{
				Index: 0, Kind: media.Video, Codec: "h264", TimeBase: tb90k,
				StartTime: 0, Duration: media.NoTimestamp,
				FrameRate: media.Rational{Num: 30, Den: 1}, Width: 1280, Height: 720,
			},
			pcmInfo(1, "eng", 480000),
			pcmInfo(2, "fra", 432000),
			{
				Index: 3, Kind: media.Audio, Codec: "aac", TimeBase: tb48k,
				StartTime: 0, Duration: 480000, SampleRate: 48000, Channels: 2,
			},
		},
	}
	for k := range 300 {
		r.events = append(r.events, fakeEvent{0, k, tb90k.Duration(int64(k * 3000))})
	}
	for k := range 500 {
		start := tb48k.Duration(int64(pcmFirstPTS + k*pcmFrames))
		r.events = append(r.events, fakeEvent{1, k, start}, fakeEvent{2, k, start})
	}
	for k := range 100 {
		r.events = append(r.events, fakeEvent{3, k, time.Duration(k) * 100 * time.Millisecond})
	}
	slices.SortStableFunc(r.events, func(a, b fakeEvent) int {
		if a.start != b.start {
			return int(a.start - b.start)
		}
		return a.stream - b.stream
	})
	return r
}

// newAudioOnlyReader keeps the first audio track only.
func newAudioOnlyReader() *fakeReader {
	r := newFakeReader()
	r.infos = []media.StreamInfo{r.infos[1]}
	r.events = slices.DeleteFunc(r.events, func(e fakeEvent) bool { return e.stream != 1 })
	return r
}

func (r *fakeReader) Format() string              { return "fake" }
func (r *fakeReader) Streams() []media.StreamInfo { return slices.Clone(r.infos) }

func (r *fakeReader) ReadPacket() (*media.Packet, error) {
	r.mu.Lock()
	if r.pos >= len(r.events) {
		r.mu.Unlock()
		return nil, io.EOF
	}
	e := r.events[r.pos]
	r.pos++
	r.mu.Unlock()

	var p *media.Packet
	switch e.stream {
	case 0:
		p = videoPacket(0, e.k)
	case 1, 2:
		p = pcmPacket(e.stream, e.k)
	default:
		p = media.NewPacket(e.stream, []byte{0xff, 0xf1}, tb48k)
		p.PTS = int64(e.k * 4800)
		p.Duration = 1024
	}
	r.read.Add(1)
	p.OnRelease(func(*media.Packet) { r.released.Add(1) })
	return p, nil
}

// Seek goes to the first packet starting at most 40 ms before target.
func (r *fakeReader) Seek(target time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seeks = append(r.seeks, target)
	r.pos = slices.IndexFunc(r.events, func(e fakeEvent) bool { return e.start >= target-40*time.Millisecond })
	if r.pos < 0 {
		r.pos = len(r.events)
	}
	return nil
}

func (r *fakeReader) Close() error { return r.closeErr }

func (r *fakeReader) live() int64 { return r.read.Load() - r.released.Load() }

// fakeSink acknowledges every state change at once. With hang set it never
// does. A silent sink plays without its offset ever moving; an empty one
// stops right after starting, as a device with a drained source does.
type fakeSink struct {
	mu      sync.Mutex
	status  media.Status
	offset  time.Duration
	volume  float64
	hang    bool
	silent  bool
	empty   bool
	history []media.Status
}

func newFakeSink() *fakeSink { return &fakeSink{volume: 1} }

func fakeSinkFactory(*sink.Streamer) sink.Sink { return newFakeSink() }

func (s *fakeSink) set(st media.Status) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	if s.hang {
		return ch
	}
	s.status = st
	s.history = append(s.history, st)
	switch {
	case st == media.Stopped:
		s.offset = 0
	case st == media.Playing && s.empty:
		s.status = media.Stopped
	case st == media.Playing && s.offset == 0 && !s.silent:
		s.offset = time.Millisecond
	}
	close(ch)
	return ch
}

func (s *fakeSink) Play() <-chan struct{}  { return s.set(media.Playing) }
func (s *fakeSink) Pause() <-chan struct{} { return s.set(media.Paused) }
func (s *fakeSink) Stop() <-chan struct{}  { return s.set(media.Stopped) }

func (s *fakeSink) Status() media.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSink) PlayingOffset() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *fakeSink) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *fakeSink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// drain simulates a device that ran out of audio.
func (s *fakeSink) drain() {
	s.mu.Lock()
	s.status = media.Stopped
	s.offset = 0
	s.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// frameRecorder is a FrameDelegate remembering what it was shown.
type frameRecorder struct {
	mu       sync.Mutex
	frames   []*media.VideoFrame
	captions int
}

func (r *frameRecorder) DidUpdateVideo(_ *VideoStream, f *media.VideoFrame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *frameRecorder) DidUpdateCaptions(_ *VideoStream, c []*ccx.CaptionFrame) {
	r.mu.Lock()
	r.captions += len(c)
	r.mu.Unlock()
}

func (r *frameRecorder) last() *media.VideoFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// stubSource counts requests and optionally serves them.
type stubSource struct {
	mu       sync.Mutex
	requests int
	resets   int
	feed     func(s *Stream)
}

func (f *stubSource) RequestMoreData(s *Stream) {
	f.mu.Lock()
	f.requests++
	feed := f.feed
	f.mu.Unlock()
	if feed != nil {
		feed(s)
	}
}

func (f *stubSource) ResetEndOfFileStatus() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *stubSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}
