package codec

import (
	"io"
	"log/slog"

	"github.com/zsiec/reel/internal/nal"
	"github.com/zsiec/reel/media"
)

// accessUnitDecoder turns H.264 and H.265 packets into video frames. It
// tracks the parameter sets in effect and drops pictures that precede the
// first keyframe, as a real decoder cannot reconstruct them.
type accessUnitDecoder struct {
	log   *slog.Logger
	hevc  bool
	codec string

	sps, pps, vps []byte
	width, height int
	captions      *captionDecoder

	waitKey  bool
	pending  *media.VideoFrame
	draining bool
}

func newAccessUnit(info media.StreamInfo, log *slog.Logger) (Decoder, error) {
	return &accessUnitDecoder{
		log:      log,
		hevc:     info.Codec == "hevc",
		codec:    info.Codec,
		width:    info.Width,
		height:   info.Height,
		captions: newCaptionDecoder(),
		waitKey:  true,
	}, nil
}

func (d *accessUnitDecoder) SendPacket(p *media.Packet) error {
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

	var units []nal.Unit
	if d.hevc {
		units = nal.SplitHEVC(p.Data)
	} else {
		units = nal.Split(p.Data)
	}
	if len(units) == 0 {
		d.log.Debug("packet without NAL units", "pts", p.PTS, "bytes", len(p.Data))
		return nil
	}

	f := &media.VideoFrame{
		PTS:      p.PTS,
		DTS:      p.DTS,
		TimeBase: p.TimeBase,
		Codec:    d.codec,
	}
	if f.PTS == media.NoTimestamp {
		f.PTS = p.DTS
	}
	d.captions.nextFrame()

	for _, u := range units {
		if d.hevc {
			d.unitHEVC(f, u)
		} else {
			d.unitH264(f, u)
		}
	}
	if f.IsKeyframe {
		d.waitKey = false
	}
	if d.waitKey {
		d.log.Debug("dropping picture before first keyframe", "pts", p.PTS)
		return nil
	}

	f.SPS = clone(d.sps)
	f.PPS = clone(d.pps)
	f.VPS = clone(d.vps)
	f.Width, f.Height = d.width, d.height
	d.pending = f
	return nil
}

func (d *accessUnitDecoder) unitH264(f *media.VideoFrame, u nal.Unit) {
	switch u.Type {
	case nal.TypeAUD, nal.TypeFillerData:
		return
	case nal.TypeSPS:
		d.sps = clone(u.Data)
		f.IsKeyframe = true
		if sps, err := nal.ParseSPS(u.Data); err == nil {
			d.width, d.height = sps.Width, sps.Height
		} else {
			d.log.Warn("bad SPS", "error", err)
		}
	case nal.TypePPS:
		d.pps = clone(u.Data)
	case nal.TypeSEI:
		f.Captions = append(f.Captions, d.captions.decode(u.Data, f.PTS)...)
	default:
		if nal.IsKeyframe(u.Type) {
			f.IsKeyframe = true
		}
	}
	f.NALUs = append(f.NALUs, nal.Join([][]byte{u.Data}))
}

func (d *accessUnitDecoder) unitHEVC(f *media.VideoFrame, u nal.Unit) {
	switch u.Type {
	case nal.HEVCTypeAUD, nal.HEVCTypeFillerData:
		return
	case nal.HEVCTypeVPS:
		d.vps = clone(u.Data)
	case nal.HEVCTypeSPS:
		d.sps = clone(u.Data)
		if sps, err := nal.ParseHEVCSPS(u.Data); err == nil {
			d.width, d.height = sps.Width, sps.Height
		} else {
			d.log.Warn("bad HEVC SPS", "error", err)
		}
	case nal.HEVCTypePPS:
		d.pps = clone(u.Data)
	case nal.HEVCTypeSEIPrefix:
		if len(u.Data) > 2 {
			f.Captions = append(f.Captions, d.captions.decode(u.Data, f.PTS)...)
		}
	default:
		if nal.IsHEVCKeyframe(u.Type) {
			f.IsKeyframe = true
		}
	}
	f.NALUs = append(f.NALUs, nal.Join([][]byte{u.Data}))
}

func (d *accessUnitDecoder) ReceiveFrame() (media.Frame, error) {
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

// Flush keeps the parameter sets but waits for a new keyframe.
func (d *accessUnitDecoder) Flush() {
	d.pending = nil
	d.draining = false
	d.waitKey = true
	d.captions.reset()
}

func (d *accessUnitDecoder) Close() error {
	d.pending = nil
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
