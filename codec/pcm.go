package codec

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/reel/media"
)

var pcmFormats = map[string]media.SampleFormat{
	"pcm_u8":    media.SampleFormatU8,
	"pcm_s16le": media.SampleFormatS16,
	"pcm_s32le": media.SampleFormatS32,
	"pcm_f32le": media.SampleFormatF32,
}

// pcmDecoder emits one frame per packet.
type pcmDecoder struct {
	log        *slog.Logger
	format     media.SampleFormat
	sampleRate int
	channels   int

	pending  *media.AudioFrame
	draining bool
}

func newPCM(info media.StreamInfo, log *slog.Logger) (Decoder, error) {
	format, ok := pcmFormats[info.Codec]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDecoderNotFound, info.Codec)
	}
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return nil, fmt.Errorf("codec: %s: invalid layout %d Hz, %d channels", info.Codec, info.SampleRate, info.Channels)
	}
	return &pcmDecoder{
		log:        log,
		format:     format,
		sampleRate: info.SampleRate,
		channels:   info.Channels,
	}, nil
}

func (d *pcmDecoder) SendPacket(p *media.Packet) error {
	if d.draining {
		return ErrDraining
	}
	if p == nil {
		d.draining = true
		return nil
	}
	if d.pending != nil {
		return ErrAgain
	}

	frameSize := d.format.BytesPerSample() * d.channels
	n := len(p.Data) / frameSize
	if n == 0 {
		return fmt.Errorf("codec: pcm packet of %d bytes is shorter than one frame", len(p.Data))
	}
	if rem := len(p.Data) % frameSize; rem != 0 {
		d.log.Debug("dropping partial sample frame", "bytes", rem)
	}

	data := make([]byte, n*frameSize)
	copy(data, p.Data)
	d.pending = &media.AudioFrame{
		PTS:        p.PTS,
		SampleRate: d.sampleRate,
		Channels:   d.channels,
		Format:     d.format,
		NumSamples: n,
		Data:       data,
	}
	return nil
}

func (d *pcmDecoder) ReceiveFrame() (media.Frame, error) {
	if d.pending == nil {
		if d.draining {
			return nil, io.EOF
		}
		return nil, ErrAgain
	}
	f := d.pending
	d.pending = nil
	return f, nil
}

func (d *pcmDecoder) Flush() {
	d.pending = nil
	d.draining = false
}

func (d *pcmDecoder) Close() error {
	d.pending = nil
	return nil
}
