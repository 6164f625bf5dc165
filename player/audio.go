package player

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/zsiec/reel/codec"
	"github.com/zsiec/reel/media"
	"github.com/zsiec/reel/sink"
	"github.com/zsiec/reel/timer"
)

// outChannels is the channel count of the samples given to the sink.
const outChannels = 2

// seekEpsilon is the fast-forward overshoot tolerated without a warning.
const seekEpsilon = time.Microsecond

// sinkTimeout bounds the wait for the sink to confirm a state change.
var sinkTimeout = 5 * time.Second

// AudioStream decodes an audio stream to interleaved stereo signed 16-bit
// samples at the source sample rate and plays them through a sink.
type AudioStream struct {
	*Stream

	sink     sink.Sink
	streamer *sink.Streamer
	rate     beep.SampleRate

	// Owned by the sink goroutine while playing.
	work    []int16
	scratch []int16

	// extra is decoded audio still to be discarded after a seek. Guarded by
	// Stream.mu.
	extra time.Duration
}

var _ sink.Source = (*AudioStream)(nil)

func newAudioStream(info media.StreamInfo, tm *timer.Timer, src DataSource, dec codec.Decoder, origin time.Duration, o *options) *AudioStream {
	a := &AudioStream{
		Stream: newStream(info, tm, src, dec, origin, o.log),
		rate:   beep.SampleRate(info.SampleRate),
	}
	a.impl = a
	a.work = make([]int16, 2*info.SampleRate*outChannels)
	a.streamer = sink.NewStreamer(a)
	if o.sinkFactory != nil {
		a.sink = o.sinkFactory(a.streamer)
	} else {
		devOpts := append([]sink.DeviceOption{sink.WithLogger(o.log)}, o.sinkOptions...)
		a.sink = sink.NewDevice(a.streamer, a.streamer.Format(), devOpts...)
	}
	return a
}

// SampleRate returns the per-channel sample rate of the output.
func (a *AudioStream) SampleRate() int { return int(a.rate) }

// ChannelCount returns the channel count of the output, always stereo.
func (a *AudioStream) ChannelCount() int { return outChannels }

// Streamer returns the stream as a beep.Streamer.
func (a *AudioStream) Streamer() *sink.Streamer { return a.streamer }

func (a *AudioStream) SetVolume(v float64) { a.sink.SetVolume(v) }
func (a *AudioStream) Volume() float64     { return a.sink.Volume() }

// TimeToSamples converts d to a count of interleaved output samples.
func (a *AudioStream) TimeToSamples(d time.Duration) int {
	return a.rate.N(d) * outChannels
}

// SamplesToTime converts a count of interleaved output samples to time.
func (a *AudioStream) SamplesToTime(n int) time.Duration {
	return a.rate.D(n / outChannels)
}

// ExtraTime returns the decoded audio that will be discarded before the
// next sample reaches the sink.
func (a *AudioStream) ExtraTime() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.extra
}

func (a *AudioStream) setExtra(d time.Duration) {
	a.mu.Lock()
	a.extra = d
	a.mu.Unlock()
}

// OnGetData fills c with about one second of audio. It is called by the
// sink goroutine. It returns false once the stream has no packets left; c
// may still hold the last samples.
func (a *AudioStream) OnGetData(c *sink.Chunk) bool {
	want := int(a.rate) * outChannels
	n := 0
	var p *media.Packet
	for n < want {
		if p = a.PopEncodedData(); p == nil {
			break
		}
		for _, f := range a.decode(p) {
			af, ok := f.(*media.AudioFrame)
			if !ok {
				continue
			}
			samples := a.trimExtra(a.resample(af))
			if n+len(samples) > len(a.work) {
				panic(fmt.Sprintf("player: audio buffer overflow: %d + %d > %d", n, len(samples), len(a.work)))
			}
			n += copy(a.work[n:], samples)
		}
	}
	c.Samples = a.work[:n]
	return p != nil
}

// resample converts f to interleaved stereo signed 16-bit samples. Mono is
// duplicated and channels past the second are dropped. The result aliases
// the scratch buffer, which only grows.
func (a *AudioStream) resample(f *media.AudioFrame) []int16 {
	width := f.Format.BytesPerSample()
	ch := max(f.Channels, 1)
	if width == 0 {
		a.log.Warn("unsupported sample format", "format", f.Format)
		return nil
	}
	frames := min(f.NumSamples, len(f.Data)/(width*ch))
	need := frames * outChannels
	if cap(a.scratch) < need {
		a.scratch = make([]int16, need)
	}
	out := a.scratch[:need]
	for i := range frames {
		base := i * ch * width
		l := sampleS16(f.Format, f.Data[base:])
		r := l
		if ch > 1 {
			r = sampleS16(f.Format, f.Data[base+width:])
		}
		out[2*i], out[2*i+1] = l, r
	}
	return out
}

func sampleS16(format media.SampleFormat, b []byte) int16 {
	switch format {
	case media.SampleFormatU8:
		return int16(int(b[0])-128) << 8
	case media.SampleFormatS16:
		return int16(binary.LittleEndian.Uint16(b))
	case media.SampleFormatS32:
		return int16(int32(binary.LittleEndian.Uint32(b)) >> 16)
	case media.SampleFormatF32:
		v := math.Float32frombits(binary.LittleEndian.Uint32(b))
		return int16(math.Round(float64(max(-1, min(v, 1))) * math.MaxInt16))
	}
	return 0
}

// trimExtra drops the front of samples still owed to a seek.
func (a *AudioStream) trimExtra(samples []int16) []int16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.extra <= 0 {
		return samples
	}
	drop := min(a.TimeToSamples(a.extra), len(samples))
	drop -= drop % outChannels
	if drop < outChannels {
		a.extra = 0
		return samples
	}
	a.extra -= a.SamplesToTime(drop)
	if a.extra < 0 {
		a.extra = 0
	}
	return samples[drop:]
}

// fastForward discards whole packets ending before target and records the
// offset of target inside the packet containing it.
func (a *AudioStream) fastForward(target time.Duration) bool {
	for {
		pos, ok := a.ComputeEncodedPosition()
		if !ok {
			a.log.Debug("no data to fast-forward", "target", target)
			return false
		}
		p := a.PopEncodedData()
		if p == nil {
			return false
		}
		dur := a.PacketDuration(p)
		switch {
		case pos > target:
			a.PrependEncodedData(p)
			a.setExtra(0)
			if pos-target > seekEpsilon {
				a.log.Warn("fast-forward overshot", "target", target, "position", pos)
			}
			return true
		case pos+dur > target:
			a.PrependEncodedData(p)
			a.setExtra(target - pos)
			a.log.Debug("fast-forwarded", "target", target, "position", pos, "extra", target-pos)
			return true
		default:
			p.Release()
		}
	}
}

func (a *AudioStream) await(action string, done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(sinkTimeout):
		panic(fmt.Sprintf("player: audio sink did not %s within %v", action, sinkTimeout))
	}
}

func (a *AudioStream) flush() {
	if a.sink.Status() != media.Stopped {
		a.await("stop", a.sink.Stop())
	}
	a.setExtra(0)
}

func (a *AudioStream) willPlay() {
	fresh := a.sink.PlayingOffset() == 0
	a.await("start", a.sink.Play())
	if fresh {
		a.awaitAudio()
	}
}

// awaitAudio waits for a freshly started sink to play its first samples. A
// sink that stopped again had nothing to play.
func (a *AudioStream) awaitAudio() {
	deadline := time.Now().Add(sinkTimeout)
	for a.sink.PlayingOffset() == 0 {
		if a.sink.Status() == media.Stopped {
			a.log.Debug("sink stopped without audio")
			return
		}
		if time.Now().After(deadline) {
			panic(fmt.Sprintf("player: audio sink played nothing within %v", sinkTimeout))
		}
		time.Sleep(time.Millisecond)
	}
}

func (a *AudioStream) didPause() { a.await("pause", a.sink.Pause()) }
func (a *AudioStream) didStop()  { a.await("stop", a.sink.Stop()) }

// update notices a sink that stopped by itself at the end of the stream.
func (a *AudioStream) update() {
	if a.Status() == media.Playing && a.sink.Status() == media.Stopped {
		a.log.Debug("audio drained")
		a.setStatus(media.Stopped)
	}
}

func (a *AudioStream) tier() timer.Priority { return timer.PriorityActive }

func (a *AudioStream) close() {
	if c, ok := a.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("failed to close sink", "error", err)
		}
	}
	a.Stream.close()
}
