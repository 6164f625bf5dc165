// Package codec turns container packets into frames. Decoders follow a
// send/receive model: SendPacket feeds one packet, ReceiveFrame returns
// decoded frames until it reports ErrAgain.
//
// Audio is provided by PCM decoders. Video decoding stops at the access
// unit level: frames carry Annex B NAL units and parameter sets for a
// renderer, plus any closed captions found in SEI messages.
package codec

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/zsiec/reel/media"
)

var (
	// ErrAgain is returned by ReceiveFrame when the decoder needs another
	// packet, and by SendPacket when a frame must be received first.
	ErrAgain = errors.New("codec: resource temporarily unavailable")

	// ErrDecoderNotFound is returned by NewDecoder for unsupported codecs.
	ErrDecoderNotFound = errors.New("codec: decoder not found")

	// ErrDraining is returned by SendPacket after the decoder was drained.
	ErrDraining = errors.New("codec: decoder is draining")
)

// Decoder decodes the packets of one stream.
type Decoder interface {
	// SendPacket feeds a packet. The decoder copies what it keeps, so the
	// caller may release p afterwards. A nil packet starts draining.
	SendPacket(p *media.Packet) error
	// ReceiveFrame returns the next decoded frame, ErrAgain when more input
	// is needed, or io.EOF once a drained decoder has no frames left.
	ReceiveFrame() (media.Frame, error)
	// Flush drops buffered data and leaves draining mode, for seeking.
	Flush()
	Close() error
}

// Info describes one available decoder.
type Info struct {
	Name        string
	Kind        media.Kind
	Description string

	new func(media.StreamInfo, *slog.Logger) (Decoder, error)
}

var decoders = []Info{
	{Name: "pcm_s16le", Kind: media.Audio, Description: "PCM signed 16-bit little-endian", new: newPCM},
	{Name: "pcm_s32le", Kind: media.Audio, Description: "PCM signed 32-bit little-endian", new: newPCM},
	{Name: "pcm_u8", Kind: media.Audio, Description: "PCM unsigned 8-bit", new: newPCM},
	{Name: "pcm_f32le", Kind: media.Audio, Description: "PCM 32-bit floating point little-endian", new: newPCM},
	{Name: "h264", Kind: media.Video, Description: "H.264 / AVC access units", new: newAccessUnit},
	{Name: "hevc", Kind: media.Video, Description: "H.265 / HEVC access units", new: newAccessUnit},
}

// AvailableDecoders returns the supported decoders. The result is a copy.
func AvailableDecoders() []Info {
	return slices.Clone(decoders)
}

// Lookup returns the decoder registered for a codec name.
func Lookup(name string) (Info, bool) {
	i := slices.IndexFunc(decoders, func(d Info) bool { return d.Name == name })
	if i < 0 {
		return Info{}, false
	}
	return decoders[i], true
}

// Option configures NewDecoder.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the decoder logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// NewDecoder returns a decoder for the stream described by info.
func NewDecoder(info media.StreamInfo, opts ...Option) (Decoder, error) {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	d, ok := Lookup(info.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDecoderNotFound, info.Codec)
	}
	log := o.log.With("component", "codec", "codec", info.Codec, "stream", info.Index)
	return d.new(info, log)
}
