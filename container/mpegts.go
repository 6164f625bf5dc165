package container

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/zsiec/reel/internal/aac"
	"github.com/zsiec/reel/internal/mpegts"
	"github.com/zsiec/reel/internal/nal"
	"github.com/zsiec/reel/media"
)

const (
	tsClock       = 90000
	wrapPeriod    = 1 << 33
	indexInterval = tsClock / 2
)

var tsTimeBase = media.Rational{Num: 1, Den: tsClock}

// tsStream is one elementary stream of the first program.
type tsStream struct {
	info *media.StreamInfo
	pid  uint16
	typ  uint8

	anchor   int64 // first timestamp seen, reference for wrap handling
	minPTS   int64
	maxEnd   int64
	lastTS   int64
	minDelta int64
	frameDur int64
	nextPTS  int64
}

// unwrap maps a 33-bit timestamp onto a continuous axis around the
// stream's first timestamp. Files shorter than half the wrap period keep
// their ordering across a wrap.
func (s *tsStream) unwrap(raw int64) int64 {
	if raw == mpegts.NoPTS {
		return media.NoTimestamp
	}
	if s.anchor == media.NoTimestamp {
		s.anchor = raw
	}
	d := (raw - s.anchor) & (wrapPeriod - 1)
	if d >= wrapPeriod/2 {
		d -= wrapPeriod
	}
	return s.anchor + d
}

func (s *tsStream) video() bool {
	return s.typ == mpegts.StreamTypeH264 || s.typ == mpegts.StreamTypeH265
}

// seekPoint is a byte offset from which every stream starts at or after ts.
type seekPoint struct {
	ts     int64
	offset int64
}

type tsReader struct {
	log     *slog.Logger
	src     *source
	scan    *mpegts.Scanner
	streams []*tsStream
	infos   []media.StreamInfo
	byPID   map[uint16]*tsStream
	start   int64
	index   []seekPoint
	queue   []*media.Packet
}

func openMPEGTS(src *source, log *slog.Logger) (Reader, error) {
	r := &tsReader{
		log:   log,
		src:   src,
		scan:  mpegts.NewScanner(src),
		byPID: make(map[uint16]*tsStream),
	}
	if err := r.prescan(); err != nil {
		return nil, err
	}
	if len(r.streams) == 0 {
		return nil, errors.New("mpegts: no supported elementary streams")
	}
	if err := r.rewind(0); err != nil {
		return nil, err
	}
	return r, nil
}

// prescan reads the whole file once to describe the streams and build the
// seek index.
func (r *tsReader) prescan() error {
	var (
		primary *tsStream
		open    *seekPoint
		seen    map[*tsStream]bool
		lastIdx = media.NoTimestamp
	)
	for {
		u, err := r.scan.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("mpegts: %w", err)
		}

		if u.PMT != nil {
			if len(r.streams) == 0 {
				r.addStreams(u.PMT)
				primary = r.primary()
			}
			continue
		}
		if u.PES == nil {
			continue
		}
		st, ok := r.byPID[u.PID]
		if !ok {
			continue
		}

		ts := r.observe(st, u.PES)
		if ts == media.NoTimestamp {
			continue
		}

		if st == primary && (!st.video() || keyframe(st.typ, u.PES.Data)) {
			if lastIdx == media.NoTimestamp || ts-lastIdx >= indexInterval {
				r.index = append(r.index, seekPoint{ts: ts, offset: u.Offset})
				open = &r.index[len(r.index)-1]
				seen = make(map[*tsStream]bool, len(r.streams))
				lastIdx = ts
			}
			continue
		}
		if open != nil && !seen[st] {
			seen[st] = true
			open.ts = min(open.ts, ts)
		}
	}

	r.start = media.NoTimestamp
	for _, st := range r.streams {
		if st.minPTS == media.NoTimestamp {
			r.log.Debug("stream without timestamps", "pid", st.pid)
			continue
		}
		if r.start == media.NoTimestamp || st.minPTS < r.start {
			r.start = st.minPTS
		}
	}
	r.infos = make([]media.StreamInfo, len(r.streams))
	for i, st := range r.streams {
		r.finish(st)
		st.info.Index = i
		r.infos[i] = *st.info
		st.info = &r.infos[i]
	}
	r.log.Debug("prescan done",
		"streams", len(r.streams),
		"index", len(r.index),
		"bytes", r.scan.Offset(),
	)
	return nil
}

func (r *tsReader) addStreams(pmt *mpegts.PMT) {
	for _, es := range pmt.Streams {
		info := &media.StreamInfo{
			TimeBase:  tsTimeBase,
			StartTime: media.NoTimestamp,
			Duration:  media.NoTimestamp,
			Language:  es.Language,
		}
		switch es.Type {
		case mpegts.StreamTypeH264:
			info.Kind, info.Codec = media.Video, "h264"
		case mpegts.StreamTypeH265:
			info.Kind, info.Codec = media.Video, "hevc"
		case mpegts.StreamTypeAAC:
			info.Kind, info.Codec = media.Audio, "aac"
		case mpegts.StreamTypeMPEG1Audio, mpegts.StreamTypeMPEG2Audio:
			info.Kind, info.Codec = media.Audio, "mp2"
		default:
			r.log.Debug("skipping unsupported stream", "pid", es.PID, "type", fmt.Sprintf("0x%02X", es.Type))
			continue
		}
		st := &tsStream{
			info:     info,
			pid:      es.PID,
			typ:      es.Type,
			anchor:   media.NoTimestamp,
			minPTS:   media.NoTimestamp,
			maxEnd:   media.NoTimestamp,
			lastTS:   media.NoTimestamp,
			nextPTS:  media.NoTimestamp,
			minDelta: math.MaxInt64,
		}
		r.streams = append(r.streams, st)
		r.byPID[es.PID] = st
	}
}

// primary returns the stream the seek index follows: the first video
// stream, else the first stream.
func (r *tsReader) primary() *tsStream {
	for _, st := range r.streams {
		if st.video() {
			return st
		}
	}
	if len(r.streams) > 0 {
		return r.streams[0]
	}
	return nil
}

// observe updates the prescan statistics of st with one PES packet and
// returns its decode timestamp.
func (r *tsReader) observe(st *tsStream, pes *mpegts.PES) int64 {
	info := st.info
	switch st.typ {
	case mpegts.StreamTypeH264:
		if info.Width == 0 {
			r.describeH264(info, pes.Data)
		}
	case mpegts.StreamTypeH265:
		if info.Width == 0 {
			r.describeHEVC(info, pes.Data)
		}
	case mpegts.StreamTypeAAC:
		frames, _ := aac.Split(pes.Data)
		if len(frames) == 0 {
			break
		}
		if info.SampleRate == 0 {
			info.SampleRate = frames[0].SampleRate
			info.Channels = frames[0].Channels
		}
		st.frameDur = aacFrameDuration(frames[0].SampleRate)
		if pts := st.unwrap(pes.PTS); pts != media.NoTimestamp {
			end := pts + int64(len(frames))*st.frameDur
			if st.maxEnd == media.NoTimestamp || end > st.maxEnd {
				st.maxEnd = end
			}
		}
	default:
		if info.SampleRate == 0 {
			if codec, rate, ch, ok := mpegAudioHeader(pes.Data); ok {
				info.Codec, info.SampleRate, info.Channels = codec, rate, ch
			}
		}
	}

	pts := st.unwrap(pes.PTS)
	dts := st.unwrap(pes.DTS)
	if pts == media.NoTimestamp {
		return media.NoTimestamp
	}
	if st.minPTS == media.NoTimestamp || pts < st.minPTS {
		st.minPTS = pts
	}
	if st.maxEnd == media.NoTimestamp || pts > st.maxEnd {
		st.maxEnd = pts
	}

	ts := pts
	if dts != media.NoTimestamp {
		ts = dts
	}
	if st.lastTS != media.NoTimestamp {
		if d := ts - st.lastTS; d > 0 && d < st.minDelta {
			st.minDelta = d
		}
	}
	st.lastTS = ts
	return ts
}

func (r *tsReader) describeH264(info *media.StreamInfo, data []byte) {
	for _, u := range nal.Split(data) {
		if u.Type != nal.TypeSPS {
			continue
		}
		sps, err := nal.ParseSPS(u.Data)
		if err != nil {
			r.log.Debug("bad SPS", "error", err)
			return
		}
		info.Width, info.Height = sps.Width, sps.Height
		if num, den, ok := sps.FrameRate(); ok {
			info.FrameRate = reduce(num, den)
		}
		return
	}
}

func (r *tsReader) describeHEVC(info *media.StreamInfo, data []byte) {
	for _, u := range nal.SplitHEVC(data) {
		if u.Type != nal.HEVCTypeSPS {
			continue
		}
		sps, err := nal.ParseHEVCSPS(u.Data)
		if err != nil {
			r.log.Debug("bad HEVC SPS", "error", err)
			return
		}
		info.Width, info.Height = sps.Width, sps.Height
		return
	}
}

// finish fills in the timing fields of a stream once the prescan is done.
func (r *tsReader) finish(st *tsStream) {
	info := st.info
	if info.Kind == media.Video && !info.FrameRate.Valid() && st.minDelta != math.MaxInt64 {
		info.FrameRate = reduce(tsClock, st.minDelta)
	}
	if st.frameDur == 0 {
		switch {
		case info.FrameRate.Valid():
			st.frameDur = tsClock * info.FrameRate.Den / info.FrameRate.Num
		case st.minDelta != math.MaxInt64:
			st.frameDur = st.minDelta
		}
	}
	if st.minPTS == media.NoTimestamp {
		return
	}
	info.StartTime = st.minPTS
	end := st.maxEnd
	if st.typ != mpegts.StreamTypeAAC {
		end += st.frameDur
	}
	info.Duration = end - st.minPTS
}

func (r *tsReader) Format() string { return "mpegts" }

func (r *tsReader) Streams() []media.StreamInfo {
	out := make([]media.StreamInfo, len(r.infos))
	copy(out, r.infos)
	return out
}

func (r *tsReader) Stats() Stats { return r.src.Stats() }

func (r *tsReader) ReadPacket() (*media.Packet, error) {
	for len(r.queue) == 0 {
		u, err := r.scan.Next()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("mpegts: %w", err)
		}
		if u.PES == nil {
			continue
		}
		st, ok := r.byPID[u.PID]
		if !ok {
			continue
		}
		r.queue = append(r.queue, st.packets(u.PES)...)
	}
	p := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	r.src.packets.Add(1)
	return p, nil
}

// packets turns one PES packet into container packets. AAC payloads are
// split per ADTS frame with interpolated timestamps.
func (st *tsStream) packets(pes *mpegts.PES) []*media.Packet {
	idx := st.info.Index
	pts := st.unwrap(pes.PTS)
	dts := st.unwrap(pes.DTS)

	if st.typ == mpegts.StreamTypeAAC {
		frames, _ := aac.Split(pes.Data)
		if pts == media.NoTimestamp {
			pts = st.nextPTS
		}
		out := make([]*media.Packet, 0, len(frames))
		for i, f := range frames {
			dur := aacFrameDuration(f.SampleRate)
			p := media.NewPacket(idx, f.Data, tsTimeBase)
			if pts != media.NoTimestamp {
				p.PTS = pts + int64(i)*dur
				p.DTS = p.PTS
				st.nextPTS = p.PTS + dur
			}
			p.Duration = dur
			p.Keyframe = true
			out = append(out, p)
		}
		return out
	}

	p := media.NewPacket(idx, pes.Data, tsTimeBase)
	p.PTS = pts
	p.DTS = dts
	p.Duration = st.frameDur
	p.Keyframe = !st.video() || keyframe(st.typ, pes.Data)
	return []*media.Packet{p}
}

// Seek moves to the last index point at or before target. Packets up to
// the target are still delivered; consumers skip them.
func (r *tsReader) Seek(target time.Duration) error {
	offset := int64(0)
	if r.start != media.NoTimestamp {
		want := r.start + tsTimeBase.Timestamp(target)
		for _, pt := range r.index {
			if pt.ts > want {
				break
			}
			offset = pt.offset
		}
	}
	r.log.Debug("seek", "target", target, "offset", offset)
	return r.rewind(offset)
}

func (r *tsReader) rewind(offset int64) error {
	if _, err := r.src.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("mpegts: seek: %w", err)
	}
	r.scan.Reset(offset)
	for _, p := range r.queue {
		p.Release()
	}
	r.queue = nil
	return nil
}

func (r *tsReader) Close() error {
	for _, p := range r.queue {
		p.Release()
	}
	r.queue = nil
	return r.src.Close()
}

func keyframe(typ uint8, data []byte) bool {
	if typ == mpegts.StreamTypeH265 {
		for _, u := range nal.SplitHEVC(data) {
			if nal.IsHEVCKeyframe(u.Type) {
				return true
			}
		}
		return false
	}
	for _, u := range nal.Split(data) {
		if nal.IsKeyframe(u.Type) {
			return true
		}
	}
	return false
}

func aacFrameDuration(sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return aac.SamplesPerFrame * tsClock / int64(sampleRate)
}

var mpegAudioRates = [3]int{44100, 48000, 32000}

// mpegAudioHeader describes the first MPEG audio frame header found in
// data.
func mpegAudioHeader(data []byte) (codec string, rate, channels int, ok bool) {
	for i := 0; i+4 <= len(data); i++ {
		if data[i] != 0xFF || data[i+1]&0xE0 != 0xE0 {
			continue
		}
		version := (data[i+1] >> 3) & 0x03
		layer := (data[i+1] >> 1) & 0x03
		rateIdx := (data[i+2] >> 2) & 0x03
		if version == 1 || layer == 0 || rateIdx == 3 {
			continue
		}
		rate = mpegAudioRates[rateIdx]
		switch version {
		case 2: // MPEG-2
			rate /= 2
		case 0: // MPEG-2.5
			rate /= 4
		}
		switch layer {
		case 3:
			codec = "mp1"
		case 2:
			codec = "mp2"
		default:
			codec = "mp3"
		}
		channels = 2
		if data[i+3]>>6 == 3 {
			channels = 1
		}
		return codec, rate, channels, true
	}
	return "", 0, 0, false
}

func reduce(num, den int64) media.Rational {
	a, b := num, den
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return media.Rational{}
	}
	return media.Rational{Num: num / a, Den: den / a}
}
