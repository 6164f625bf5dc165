package media

import "github.com/zsiec/ccx"

// VideoFrame is one decoded video access unit (one picture) ready for
// presentation. It carries the raw NAL units in Annex B format along with the
// parameter sets a renderer needs to initialize or reconfigure its decoder.
type VideoFrame struct {
	PTS        int64
	DTS        int64
	TimeBase   Rational
	IsKeyframe bool
	NALUs      [][]byte
	SPS        []byte
	PPS        []byte
	VPS        []byte
	Codec      string // "h264" or "hevc"
	Width      int
	Height     int

	// Captions decoded from the SEI messages of this access unit.
	Captions []*ccx.CaptionFrame
}

// PresentationTime implements Frame.
func (f *VideoFrame) PresentationTime() int64 {
	return f.PTS
}

// AudioFrame is a block of decoded PCM samples, interleaved, in the source
// sample format and channel layout.
type AudioFrame struct {
	PTS        int64
	SampleRate int
	Channels   int
	Format     SampleFormat
	NumSamples int // per channel
	Data       []byte
}

// PresentationTime implements Frame.
func (f *AudioFrame) PresentationTime() int64 {
	return f.PTS
}

// Frame is the output of a decoder: an *AudioFrame or a *VideoFrame.
type Frame interface {
	PresentationTime() int64
}

// SampleFormat identifies the encoding of one PCM sample.
type SampleFormat int

// Supported PCM sample formats.
const (
	SampleFormatNone SampleFormat = iota
	SampleFormatU8
	SampleFormatS16
	SampleFormatS32
	SampleFormatF32
)

// BytesPerSample returns the width of a single sample in bytes.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS32, SampleFormatF32:
		return 4
	}
	return 0
}

func (f SampleFormat) String() string {
	switch f {
	case SampleFormatU8:
		return "u8"
	case SampleFormatS16:
		return "s16"
	case SampleFormatS32:
		return "s32"
	case SampleFormatF32:
		return "f32"
	}
	return "none"
}
