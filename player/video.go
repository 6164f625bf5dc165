package player

import (
	"time"

	"github.com/zsiec/ccx"

	"github.com/zsiec/reel/codec"
	"github.com/zsiec/reel/media"
	"github.com/zsiec/reel/timer"
)

// FrameDelegate receives the video frames to display.
type FrameDelegate interface {
	DidUpdateVideo(s *VideoStream, f *media.VideoFrame)
}

// CaptionDelegate is implemented by frame delegates that also display
// closed captions.
type CaptionDelegate interface {
	DidUpdateCaptions(s *VideoStream, captions []*ccx.CaptionFrame)
}

type nopDelegate struct{}

func (nopDelegate) DidUpdateVideo(*VideoStream, *media.VideoFrame) {}

// VideoStream decodes a video stream and presents each frame when the
// clock reaches its presentation time. All its methods run on the control
// goroutine.
type VideoStream struct {
	*Stream

	delegate FrameDelegate
	frames   []*media.VideoFrame
	last     *media.VideoFrame
}

func newVideoStream(info media.StreamInfo, tm *timer.Timer, src DataSource, dec codec.Decoder, origin time.Duration, delegate FrameDelegate, o *options) *VideoStream {
	if delegate == nil {
		delegate = nopDelegate{}
	}
	v := &VideoStream{
		Stream:   newStream(info, tm, src, dec, origin, o.log),
		delegate: delegate,
	}
	v.impl = v
	return v
}

// FrameRate returns the frame rate in frames per second, or 0 when unknown.
func (v *VideoStream) FrameRate() float64 { return v.info.FrameRate.Float() }

// FrameSize returns the picture size of the last decoded frame, or the
// size announced by the container before that.
func (v *VideoStream) FrameSize() (width, height int) {
	if v.last != nil && v.last.Width > 0 {
		return v.last.Width, v.last.Height
	}
	return v.info.Width, v.info.Height
}

// CurrentFrame returns the frame presented last.
func (v *VideoStream) CurrentFrame() *media.VideoFrame { return v.last }

// Preload presents the next frame of a stopped stream without consuming
// it, so that a picture is shown before playback starts.
func (v *VideoStream) Preload() {
	if v.Status() != media.Stopped {
		return
	}
	if f := v.peek(); f != nil {
		v.present(f)
	}
}

// peek returns the next decoded frame, decoding packets as needed.
func (v *VideoStream) peek() *media.VideoFrame {
	for len(v.frames) == 0 {
		p := v.PopEncodedData()
		if p == nil {
			return nil
		}
		for _, f := range v.decode(p) {
			if vf, ok := f.(*media.VideoFrame); ok {
				v.frames = append(v.frames, vf)
			}
		}
	}
	return v.frames[0]
}

func (v *VideoStream) next() {
	v.frames[0] = nil
	v.frames = v.frames[1:]
}

func (v *VideoStream) framePosition(f *media.VideoFrame) time.Duration {
	return v.timeOf(f.PTS, f.TimeBase)
}

func (v *VideoStream) present(f *media.VideoFrame) {
	v.last = f
	v.delegate.DidUpdateVideo(v, f)
}

func (v *VideoStream) showCaptions(f *media.VideoFrame) {
	if len(f.Captions) == 0 {
		return
	}
	if cd, ok := v.delegate.(CaptionDelegate); ok {
		cd.DidUpdateCaptions(v, f.Captions)
	}
}

// update presents the latest frame that is due. Captions of skipped frames
// are still delivered. The stream stops itself after its last frame.
func (v *VideoStream) update() {
	if v.Status() != media.Playing {
		return
	}
	now := v.timer.Offset()
	var due *media.VideoFrame
	for {
		f := v.peek()
		if f == nil {
			if due != nil {
				v.present(due)
			}
			v.log.Debug("end of video", "offset", now)
			v.setStatus(media.Stopped)
			return
		}
		if v.framePosition(f) > now {
			break
		}
		v.next()
		v.showCaptions(f)
		due = f
	}
	if due != nil {
		v.present(due)
	}
}

// fastForward decodes up to target and presents the last frame before it.
func (v *VideoStream) fastForward(target time.Duration) bool {
	var last *media.VideoFrame
	for {
		f := v.peek()
		if f == nil {
			break
		}
		if v.framePosition(f) > target {
			break
		}
		v.next()
		last = f
	}
	if last == nil {
		if f := v.peek(); f != nil {
			last = f
		} else {
			v.log.Debug("no frame to fast-forward to", "target", target)
			return false
		}
	}
	v.present(last)
	return true
}

func (v *VideoStream) flush() {
	for i := range v.frames {
		v.frames[i] = nil
	}
	v.frames = nil
}

func (v *VideoStream) willPlay() {}
func (v *VideoStream) didPause() {}
func (v *VideoStream) didStop()  {}

func (v *VideoStream) tier() timer.Priority { return timer.PriorityPassive }
