package player

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/media"
	"github.com/zsiec/reel/sink"
	"github.com/zsiec/reel/timer"
)

type demuxerEnv struct {
	d     *Demuxer
	r     *fakeReader
	timer *timer.Timer
	clock *fakeClock
	rec   *frameRecorder
}

func newTestDemuxer(t *testing.T, r *fakeReader, opts ...Option) *demuxerEnv {
	t.Helper()
	clock := newFakeClock()
	tm := timer.New(discardLogger(), timer.WithClock(clock.Now))
	rec := &frameRecorder{}
	opts = append([]Option{WithLogger(discardLogger()), WithSinkFactory(fakeSinkFactory)}, opts...)
	d := NewDemuxerWithReader(r, tm, rec, opts...)
	return &demuxerEnv{d: d, r: r, timer: tm, clock: clock, rec: rec}
}

func TestDemuxerStreams(t *testing.T) {
	t.Parallel()
	env := newTestDemuxer(t, newFakeReader())
	d := env.d
	defer d.Close()

	assert.Len(t, d.Streams(), 3)
	assert.Len(t, d.AudioStreams(), 2)
	assert.Len(t, d.VideoStreams(), 1)
	assert.Len(t, d.StreamsOfType(media.Audio), 2)
	assert.Equal(t, map[int]string{3: "aac"}, d.IgnoredStreams())

	assert.Equal(t, []media.StreamDescriptor{
		{Identifier: 1, Kind: media.Audio, Language: "eng", CodecName: "pcm_s16le"},
		{Identifier: 2, Kind: media.Audio, Language: "fra", CodecName: "pcm_s16le"},
	}, d.ComputeStreamDescriptors(media.Audio))
	assert.Equal(t, []media.StreamDescriptor{
		{Identifier: 0, Kind: media.Video, CodecName: "h264"},
	}, d.ComputeStreamDescriptors(media.Video))

	_, ok := env.timer.IsObserver(d)
	assert.True(t, ok)
	assert.Empty(t, d.SelectedStreams(), "nothing is selected by default")
}

func TestDemuxerDurationFirstValidStreamWins(t *testing.T) {
	t.Parallel()

	// The video stream has no duration; the first audio track (10 s) wins
	// over the second (9 s).
	env := newTestDemuxer(t, newFakeReader())
	assert.Equal(t, 10*time.Second, env.d.Duration())
	env.d.Close()

	r := newFakeReader()
	r.infos[0].Duration = 12 * 90000
	env = newTestDemuxer(t, r)
	assert.Equal(t, 12*time.Second, env.d.Duration())
	env.d.Close()

	r = newFakeReader()
	r.infos[0].Duration = -1
	r.infos[1].Duration = media.NoTimestamp
	env = newTestDemuxer(t, r)
	assert.Equal(t, 9*time.Second, env.d.Duration(), "negative and missing durations are skipped")
	env.d.Close()
}

func TestPresentationStart(t *testing.T) {
	t.Parallel()
	infos := []media.StreamInfo{
		{TimeBase: tb90k, StartTime: 126000},
		{TimeBase: tb48k, StartTime: media.NoTimestamp},
		{TimeBase: tb48k, StartTime: 48000},
	}
	assert.Equal(t, time.Second, presentationStart(infos))
	assert.Zero(t, presentationStart(nil))
}

func TestSelectAudioStreamSwitchesObserver(t *testing.T) {
	t.Parallel()
	env := newTestDemuxer(t, newFakeReader())
	d := env.d
	defer d.Close()
	as := d.AudioStreams()

	d.SelectAudioStream(as[0])
	tier, ok := env.timer.IsObserver(as[0].Stream)
	require.True(t, ok)
	assert.Equal(t, timer.PriorityActive, tier)
	assert.Same(t, as[0], d.SelectedAudioStream())

	d.SelectAudioStream(as[1])
	_, ok = env.timer.IsObserver(as[0].Stream)
	assert.False(t, ok, "the previous stream is disconnected")
	assert.False(t, as[0].Connected())
	_, ok = env.timer.IsObserver(as[1].Stream)
	assert.True(t, ok)
	assert.True(t, as[1].Connected())

	d.SelectAudioStream(nil)
	for _, a := range as {
		_, ok := env.timer.IsObserver(a.Stream)
		assert.False(t, ok)
	}
	assert.Nil(t, d.SelectedAudioStream())

	d.SelectFirstVideoStream()
	tier, ok = env.timer.IsObserver(d.SelectedVideoStream().Stream)
	require.True(t, ok)
	assert.Equal(t, timer.PriorityPassive, tier)
}

func TestSelectForeignStreamPanics(t *testing.T) {
	t.Parallel()
	a := newTestDemuxer(t, newFakeReader())
	b := newTestDemuxer(t, newFakeReader())
	defer a.d.Close()
	defer b.d.Close()

	assert.Panics(t, func() { a.d.SelectAudioStream(b.d.AudioStreams()[0]) })
	assert.Panics(t, func() { a.d.SelectVideoStream(b.d.VideoStreams()[0]) })
}

func TestDistributePacket(t *testing.T) {
	t.Parallel()
	env := newTestDemuxer(t, newFakeReader())
	d := env.d
	defer d.Close()
	d.SelectFirstAudioStream()
	a1, a2 := d.AudioStreams()[0], d.AudioStreams()[1]
	v := d.VideoStreams()[0]

	ignored := media.NewPacket(3, []byte{1}, tb48k)
	unknown := media.NewPacket(9, []byte{1}, tb48k)
	selected := pcmPacket(1, 0)
	other := pcmPacket(2, 0)
	video := videoPacket(0, 0)

	d.mu.Lock()
	for _, p := range []*media.Packet{ignored, unknown, selected, other, video} {
		d.distributePacket(p, a1.Stream)
	}
	d.mu.Unlock()

	assert.True(t, ignored.Released())
	assert.True(t, unknown.Released())
	assert.False(t, selected.Released())
	assert.Equal(t, 1, a1.QueueLen())
	assert.Equal(t, 0, a2.QueueLen())
	assert.Equal(t, 1, d.PendingLen(a2.Stream))
	assert.Equal(t, 1, d.PendingLen(v.Stream))

	// The pending packet moves to its stream once requested.
	d.FeedStream(a2.Stream)
	p := a2.PopEncodedData()
	assert.Same(t, other, p)
	assert.Zero(t, d.PendingLen(a2.Stream))
	p.Release()
}

func TestFeedStreamDrainsPendingFirst(t *testing.T) {
	t.Parallel()
	env := newTestDemuxer(t, newFakeReader())
	d := env.d
	defer d.Close()
	d.SelectFirstAudioStream()
	a1, a2 := d.AudioStreams()[0], d.AudioStreams()[1]

	d.FeedStream(a1.Stream)
	assert.Equal(t, 10, a1.QueueLen())
	pending := d.PendingLen(a2.Stream)
	require.Equal(t, 9, pending, "the tenth packet of the second track is not read yet")

	d.FeedStream(a2.Stream)
	assert.Equal(t, 10, a2.QueueLen())
	assert.Zero(t, d.PendingLen(a2.Stream))
	for k := range 10 {
		p := a2.PopEncodedData()
		assert.Equal(t, int64(pcmFirstPTS+k*pcmFrames), p.PTS, "packets keep file order")
		p.Release()
	}
}

func TestPendingIsBounded(t *testing.T) {
	t.Parallel()
	log, logs := captureLogger()
	env := newTestDemuxer(t, newFakeReader(), WithLogger(log))
	d := env.d
	d.SelectFirstAudioStream()
	a := d.SelectedAudioStream()
	other := d.AudioStreams()[1]

	for p := a.PopEncodedData(); p != nil; p = a.PopEncodedData() {
		p.Release()
	}
	assert.Equal(t, maxPending, d.PendingLen(other.Stream))
	assert.Equal(t, maxPending, d.PendingLen(d.VideoStreams()[0].Stream))
	assert.Equal(t, int64(2*maxPending), env.r.live(), "only pending packets are alive")
	assert.Contains(t, logs.String(), `level=WARN msg="dropping pending packet"`)

	d.Close()
	assert.Zero(t, env.r.live())
}

func TestRequestMoreDataAtEndOfFile(t *testing.T) {
	t.Parallel()
	env := newTestDemuxer(t, newAudioOnlyReader())
	d := env.d
	defer d.Close()
	d.SelectFirstAudioStream()
	a := d.SelectedAudioStream()

	for p := a.PopEncodedData(); p != nil; p = a.PopEncodedData() {
		p.Release()
	}
	read := env.r.read.Load()
	assert.Equal(t, int64(500), read)
	assert.True(t, d.DidReachEndOfFile())

	d.RequestMoreData(a.Stream)
	assert.Equal(t, read, env.r.read.Load(), "no read after the end of file")
	assert.Nil(t, a.PopEncodedData())

	d.ResetEndOfFileStatus()
	assert.False(t, d.DidReachEndOfFile())
}

// Both streams of a 10 s file are played to the end. The end of file is
// only reported once neither stream holds packets.
func TestEndOfFileScenario(t *testing.T) {
	t.Parallel()
	env := newTestDemuxer(t, newFakeReader())
	d := env.d
	d.SelectFirstAudioStream()
	d.SelectFirstVideoStream()
	a, v := d.SelectedAudioStream(), d.SelectedVideoStream()
	assert.Equal(t, 10*time.Second, d.Duration())

	env.timer.Play()
	require.Equal(t, media.Playing, a.Status())
	require.Equal(t, media.Playing, v.Status())

	var chunk sink.Chunk
	samples := 0
	more := true
	for i := 0; i < 20 && (more || v.Status() == media.Playing); i++ {
		if more {
			more = a.OnGetData(&chunk)
			samples += len(chunk.Samples)
		}
		if i == 0 {
			assert.False(t, d.DidReachEndOfFile())
		}
		env.clock.Advance(time.Second)
		d.Update()
		if d.DidReachEndOfFile() {
			assert.False(t, a.HasPackets(), "iteration %d", i)
			assert.False(t, v.HasPackets(), "iteration %d", i)
		}
	}

	assert.False(t, more)
	assert.Equal(t, media.Stopped, v.Status())
	assert.True(t, d.DidReachEndOfFile())
	assert.Equal(t, 500*pcmFrames*2, samples)
	require.NotNil(t, env.rec.last())
	assert.Equal(t, int64(299*3000), env.rec.last().PTS)

	require.NoError(t, d.Close())
	assert.Equal(t, env.r.read.Load(), env.r.released.Load(), "every packet read was released once")
}

func TestDemuxerSeekFlushesAndRepositions(t *testing.T) {
	t.Parallel()
	env := newTestDemuxer(t, newFakeReader())
	d := env.d
	defer d.Close()
	d.SelectFirstAudioStream()
	a := d.SelectedAudioStream()
	d.FeedStream(a.Stream)
	require.NotZero(t, d.PendingLen(d.AudioStreams()[1].Stream))

	require.True(t, env.timer.Seek(5*time.Second))
	assert.Equal(t, []time.Duration{5 * time.Second}, env.r.seeks)

	// Packets read before the seek are gone; whatever is pending now was
	// read from the new position.
	other := d.AudioStreams()[1].Stream
	d.mu.Lock()
	q := slices.Clone(d.pending[other])
	d.mu.Unlock()
	require.NotEmpty(t, q)
	assert.Equal(t, int64(pcmFirstPTS+248*pcmFrames), q[0].PTS)

	pos, ok := a.ComputeEncodedPosition()
	require.True(t, ok)
	assert.Equal(t, 4990*time.Millisecond, pos, "the packet containing the target is at the head")
	assert.Equal(t, 10*time.Millisecond, a.ExtraTime())
}

func TestDemuxerRewindsOnPlayAfterStop(t *testing.T) {
	t.Parallel()
	env := newTestDemuxer(t, newAudioOnlyReader())
	d := env.d
	defer d.Close()
	d.SelectFirstAudioStream()
	a := d.SelectedAudioStream()

	env.timer.Play()
	var c sink.Chunk
	a.OnGetData(&c)
	env.timer.Stop()
	assert.False(t, a.HasPackets())

	env.timer.Play()
	assert.Equal(t, []time.Duration{0}, env.r.seeks)
	p := a.PopEncodedData()
	require.NotNil(t, p)
	assert.Equal(t, int64(pcmFirstPTS), p.PTS)
	p.Release()
}
