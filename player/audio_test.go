package player

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/media"
	"github.com/zsiec/reel/sink"
)

func TestSampleConversionRoundTrip(t *testing.T) {
	t.Parallel()
	a, _ := newTestAudio(t, &stubSource{}, 0)
	// One sample period, rounded up to the nanosecond.
	period := time.Second/48000 + time.Nanosecond

	for d := time.Duration(0); d < 3*time.Second; d += 7919 * time.Nanosecond {
		n := a.TimeToSamples(d)
		require.Zero(t, n%2, "samples come in stereo pairs")
		back := a.SamplesToTime(n)
		diff := d - back
		require.True(t, diff >= 0 && diff <= period, "%v -> %d -> %v", d, n, back)
	}
	assert.Equal(t, 1008, a.TimeToSamples(10500*time.Microsecond))
	assert.Equal(t, 10500*time.Microsecond, a.SamplesToTime(1008))
}

// packet 149 of the fake track spans [2.990 s, 3.010 s).
const seekTarget = 3000500 * time.Microsecond

func TestFastForwardInsidePacket(t *testing.T) {
	t.Parallel()
	a, _ := newTestAudio(t, &stubSource{}, 0)
	var skipped []*media.Packet
	for k := 147; k < 153; k++ {
		p := pcmPacket(1, k)
		if k < 149 {
			skipped = append(skipped, p)
		}
		a.PushEncodedData(p)
	}

	require.True(t, a.fastForward(seekTarget))

	for _, p := range skipped {
		assert.True(t, p.Released(), "packet %d", p.PTS)
	}
	head, ok := a.ComputeEncodedPosition()
	require.True(t, ok)
	assert.Equal(t, 2990*time.Millisecond, head)
	assert.Equal(t, 4, a.QueueLen())

	extra := a.ExtraTime()
	assert.GreaterOrEqual(t, extra, time.Duration(0))
	assert.LessOrEqual(t, extra, 20*time.Millisecond)
	assert.Equal(t, 10500*time.Microsecond, extra)
}

func TestFastForwardPacketBoundary(t *testing.T) {
	t.Parallel()
	a, _ := newTestAudio(t, &stubSource{}, 0)
	for k := 148; k < 151; k++ {
		a.PushEncodedData(pcmPacket(1, k))
	}
	require.True(t, a.fastForward(2990*time.Millisecond))
	head, _ := a.ComputeEncodedPosition()
	assert.Equal(t, 2990*time.Millisecond, head)
	assert.Zero(t, a.ExtraTime())
}

func TestFastForwardOvershoot(t *testing.T) {
	t.Parallel()
	a, _ := newTestAudio(t, &stubSource{}, 0)
	a.setExtra(time.Millisecond)
	a.PushEncodedData(pcmPacket(1, 160))

	require.True(t, a.fastForward(seekTarget), "overshooting is logged, not fatal")
	assert.Equal(t, 1, a.QueueLen())
	assert.Zero(t, a.ExtraTime())
}

func TestFastForwardWithoutData(t *testing.T) {
	t.Parallel()
	a, _ := newTestAudio(t, &stubSource{}, 0)
	a.PushEncodedData(pcmPacket(1, 0))
	assert.False(t, a.fastForward(seekTarget))
	assert.False(t, a.HasPackets())
}

func TestOnGetDataTrimsExtra(t *testing.T) {
	t.Parallel()
	a, _ := newTestAudio(t, &stubSource{}, 0)
	a.PushEncodedData(pcmPacket(1, 149))
	a.PushEncodedData(pcmPacket(1, 150))
	a.setExtra(10500 * time.Microsecond)

	var c sink.Chunk
	assert.False(t, a.OnGetData(&c), "the queue ran dry")
	require.Len(t, c.Samples, (2*pcmFrames-504)*2)
	assert.Equal(t, pcmValue(143520+504), c.Samples[0])
	assert.Equal(t, int16(24024), c.Samples[1])
	assert.Zero(t, a.ExtraTime())
}

func TestOnGetDataFillsOneSecond(t *testing.T) {
	t.Parallel()
	a, _ := newTestAudio(t, &stubSource{}, 0)
	for k := range 60 {
		a.PushEncodedData(pcmPacket(1, k))
	}

	var c sink.Chunk
	require.True(t, a.OnGetData(&c))
	assert.Len(t, c.Samples, 48000*2)
	assert.Equal(t, 10, a.QueueLen())
	assert.Equal(t, pcmValue(pcmFirstPTS), c.Samples[0])

	assert.False(t, a.OnGetData(&c))
	assert.Len(t, c.Samples, 10*pcmFrames*2)
	assert.Equal(t, pcmValue(pcmFirstPTS+50*pcmFrames), c.Samples[0])
}

func TestOnGetDataSkipsUndecodablePacket(t *testing.T) {
	t.Parallel()
	a, _ := newTestAudio(t, &stubSource{}, 0)
	bad := media.NewPacket(1, []byte{1}, tb48k)
	a.PushEncodedData(bad)
	a.PushEncodedData(pcmPacket(1, 0))

	var c sink.Chunk
	a.OnGetData(&c)
	assert.True(t, bad.Released())
	assert.Len(t, c.Samples, pcmFrames*2)
}

func TestResample(t *testing.T) {
	t.Parallel()
	a, _ := newTestAudio(t, &stubSource{}, 0)

	u8 := a.resample(&media.AudioFrame{Format: media.SampleFormatU8, Channels: 1, NumSamples: 2, Data: []byte{0xff, 0x80}})
	assert.Equal(t, []int16{32512, 32512, 0, 0}, u8, "mono is duplicated")

	s32 := make([]byte, 12)
	binary.LittleEndian.PutUint32(s32[0:], 0x40000000)
	binary.LittleEndian.PutUint32(s32[4:], 0xc0000000)
	binary.LittleEndian.PutUint32(s32[8:], 7)
	out := a.resample(&media.AudioFrame{Format: media.SampleFormatS32, Channels: 3, NumSamples: 1, Data: s32})
	assert.Equal(t, []int16{16384, -16384}, out, "channels past the second are dropped")

	f32 := make([]byte, 8)
	binary.LittleEndian.PutUint32(f32[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(f32[4:], math.Float32bits(-2))
	out = a.resample(&media.AudioFrame{Format: media.SampleFormatF32, Channels: 2, NumSamples: 1, Data: f32})
	assert.Equal(t, []int16{16384, -32767}, out, "out of range floats are clipped")
}

func TestResampleScratchOnlyGrows(t *testing.T) {
	t.Parallel()
	a, _ := newTestAudio(t, &stubSource{}, 0)
	frame := func(n int) *media.AudioFrame {
		return &media.AudioFrame{Format: media.SampleFormatS16, Channels: 2, NumSamples: n, Data: make([]byte, n*4)}
	}
	a.resample(frame(100))
	small := cap(a.scratch)
	assert.GreaterOrEqual(t, small, 200)

	a.resample(frame(1000))
	large := cap(a.scratch)
	assert.GreaterOrEqual(t, large, 2000)

	out := a.resample(frame(10))
	assert.Len(t, out, 20)
	assert.Equal(t, large, cap(a.scratch))
}

func TestAudioFollowsSink(t *testing.T) {
	t.Parallel()
	a, fs := newTestAudio(t, &stubSource{}, 0)
	a.Connect()
	defer a.Disconnect()

	a.timer.Play()
	require.Equal(t, media.Playing, a.Status())
	a.Update()
	assert.Equal(t, media.Playing, a.Status())

	fs.drain()
	a.Update()
	assert.Equal(t, media.Stopped, a.Status())

	a.SetVolume(0.25)
	assert.Equal(t, 0.25, a.Volume())
}

func TestAudioPauseWaitsForSink(t *testing.T) {
	t.Parallel()
	a, fs := newTestAudio(t, &stubSource{}, 0)
	a.Connect()
	defer a.Disconnect()

	a.timer.Play()
	a.timer.Pause()
	assert.Equal(t, media.Paused, a.Status())
	assert.Equal(t, []media.Status{media.Playing, media.Paused}, fs.history)
}

// Not parallel: it shortens the package-wide sink timeout.
func TestSinkTimeoutPanics(t *testing.T) {
	old := sinkTimeout
	sinkTimeout = 20 * time.Millisecond
	t.Cleanup(func() { sinkTimeout = old })

	a, fs := newTestAudio(t, &stubSource{}, 0)
	fs.hang = true
	assert.Panics(t, a.willPlay)
	assert.Panics(t, a.didPause)
}

// Not parallel: it shortens the package-wide sink timeout.
func TestFreshStartRequiresAudio(t *testing.T) {
	old := sinkTimeout
	sinkTimeout = 50 * time.Millisecond
	t.Cleanup(func() { sinkTimeout = old })

	a, fs := newTestAudio(t, &stubSource{}, 0)
	fs.silent = true
	assert.Panics(t, a.willPlay, "a sink playing nothing is fatal")
	assert.Zero(t, fs.PlayingOffset())

	// Resuming from a non-zero offset does not wait for new audio.
	a, fs = newTestAudio(t, &stubSource{}, 0)
	fs.offset = time.Second
	fs.silent = true
	assert.NotPanics(t, a.willPlay)

	// A drained source stops the sink again; there is nothing to wait for.
	a, fs = newTestAudio(t, &stubSource{}, 0)
	fs.empty = true
	assert.NotPanics(t, a.willPlay)
	assert.Equal(t, media.Stopped, fs.Status())
}
