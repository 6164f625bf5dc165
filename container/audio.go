package container

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"github.com/zsiec/reel/media"
)

// audioPacketFrames is the number of sample frames per packet of a decoded
// audio file.
const audioPacketFrames = 1024

// decodeFunc opens a single-stream audio file with a beep decoder.
type decodeFunc func(src *source) (beep.StreamSeekCloser, beep.Format, error)

func decodeWAV(src *source) (beep.StreamSeekCloser, beep.Format, error) {
	return wav.Decode(src)
}

func decodeFLAC(src *source) (beep.StreamSeekCloser, beep.Format, error) {
	return flac.Decode(src)
}

func decodeMP3(src *source) (beep.StreamSeekCloser, beep.Format, error) {
	return mp3.Decode(src)
}

func decodeVorbis(src *source) (beep.StreamSeekCloser, beep.Format, error) {
	return vorbis.Decode(src)
}

// openAudio returns the open function of a demuxer for a compressed or PCM
// audio file. The file is decoded on the fly and exposed as one stream of
// signed 16-bit PCM packets.
func openAudio(name string, decode decodeFunc) func(*source, *slog.Logger) (Reader, error) {
	return func(src *source, log *slog.Logger) (Reader, error) {
		s, format, err := decode(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		channels := min(format.NumChannels, 2)
		rate := int(format.SampleRate)
		r := &audioReader{
			name:   name,
			log:    log,
			src:    src,
			stream: s,
			format: format,
			out:    beep.Format{SampleRate: format.SampleRate, NumChannels: channels, Precision: 2},
			info: media.StreamInfo{
				Kind:         media.Audio,
				Codec:        "pcm_s16le",
				TimeBase:     media.Rational{Num: 1, Den: int64(rate)},
				StartTime:    0,
				Duration:     int64(s.Len()),
				SampleRate:   rate,
				Channels:     channels,
				SampleFormat: media.SampleFormatS16,
			},
			samples: make([][2]float64, audioPacketFrames),
		}
		log.Debug("opened",
			"sample_rate", rate,
			"channels", format.NumChannels,
			"precision", format.Precision,
			"frames", s.Len(),
		)
		return r, nil
	}
}

type audioReader struct {
	name     string
	log      *slog.Logger
	src      *source
	stream   beep.StreamSeekCloser
	format   beep.Format
	out      beep.Format
	info     media.StreamInfo
	samples  [][2]float64
	finished bool
}

func (r *audioReader) Format() string { return r.name }

func (r *audioReader) Streams() []media.StreamInfo {
	return []media.StreamInfo{r.info}
}

func (r *audioReader) Stats() Stats { return r.src.Stats() }

// ReadPacket returns the next block of up to 1024 sample frames encoded as
// interleaved signed 16-bit PCM.
func (r *audioReader) ReadPacket() (*media.Packet, error) {
	if r.finished {
		return nil, io.EOF
	}
	pos := r.stream.Position()
	n, ok := r.stream.Stream(r.samples)
	if n == 0 || !ok {
		if err := r.stream.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", r.name, err)
		}
		if n == 0 {
			r.finished = true
			return nil, io.EOF
		}
	}

	data := make([]byte, n*r.out.Width())
	off := 0
	for _, s := range r.samples[:n] {
		off += r.out.EncodeSigned(data[off:], s)
	}

	p := media.NewPacket(0, data[:off], r.info.TimeBase)
	p.PTS = int64(pos)
	p.DTS = p.PTS
	p.Duration = int64(n)
	p.Keyframe = true
	r.src.packets.Add(1)
	return p, nil
}

// Seek is sample exact.
func (r *audioReader) Seek(target time.Duration) error {
	pos := r.format.SampleRate.N(target)
	pos = max(0, min(pos, r.stream.Len()))
	if err := r.stream.Seek(pos); err != nil {
		return fmt.Errorf("%s: seek: %w", r.name, err)
	}
	r.finished = false
	r.log.Debug("seek", "target", target, "frame", pos)
	return nil
}

func (r *audioReader) Close() error {
	err := r.stream.Close()
	if cerr := r.src.Close(); err == nil {
		err = cerr
	}
	return err
}

func probeWAV(head []byte) bool {
	return len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE"))
}

func probeFLAC(head []byte) bool {
	return bytes.HasPrefix(head, []byte("fLaC"))
}

func probeOgg(head []byte) bool {
	return bytes.HasPrefix(head, []byte("OggS"))
}

// probeMP3 accepts an ID3v2 tag or an MPEG audio frame header. ADTS, which
// shares the sync word, has a layer of zero and is rejected.
func probeMP3(head []byte) bool {
	if bytes.HasPrefix(head, []byte("ID3")) {
		return true
	}
	if len(head) < 4 || head[0] != 0xFF || head[1]&0xE0 != 0xE0 {
		return false
	}
	version := head[1] >> 3 & 0x03
	layer := head[1] >> 1 & 0x03
	bitrate := head[2] >> 4
	rate := head[2] >> 2 & 0x03
	return version != 1 && layer != 0 && bitrate != 0x0F && rate != 0x03
}
