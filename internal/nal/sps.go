package nal

import "fmt"

// bitReader reads an RBSP most significant bit first. The first read past
// the end latches ErrShortSPS; later reads return zero.
type bitReader struct {
	data []byte
	pos  int // in bits
	err  error
}

func (r *bitReader) bits(n int) uint {
	var v uint
	for range n {
		if r.err != nil {
			return 0
		}
		if r.pos>>3 >= len(r.data) {
			r.err = ErrShortSPS
			return 0
		}
		v = v<<1 | uint(r.data[r.pos>>3]>>(7-r.pos&7))&1
		r.pos++
	}
	return v
}

func (r *bitReader) flag() bool { return r.bits(1) == 1 }

func (r *bitReader) ue() uint {
	zeros := 0
	for !r.flag() {
		if r.err != nil {
			return 0
		}
		zeros++
		if zeros > 31 {
			r.err = ErrShortSPS
			return 0
		}
	}
	if zeros == 0 {
		return 0
	}
	return 1<<zeros - 1 + r.bits(zeros)
}

func (r *bitReader) se() int {
	v := r.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (r *bitReader) skipScalingList(size int) {
	last, next := 8, 8
	for range size {
		if next != 0 {
			next = (last + r.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// SPS is the part of an H.264 sequence parameter set that describes the
// picture.
type SPS struct {
	Width       int
	Height      int
	Profile     byte
	Constraints byte
	Level       byte

	// TimeScale and UnitsInTick come from the VUI timing info; both are
	// zero when the encoder did not signal timing.
	TimeScale   uint32
	UnitsInTick uint32
	FixedRate   bool
}

// CodecString returns the RFC 6381 codec string, e.g. "avc1.64001F".
func (s SPS) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.Profile, s.Constraints, s.Level)
}

// FrameRate returns the signalled frame rate as a fraction. An H.264 tick
// is one field, so a frame lasts two ticks. ok is false without timing info.
func (s SPS) FrameRate() (num, den int64, ok bool) {
	if s.TimeScale == 0 || s.UnitsInTick == 0 {
		return 0, 0, false
	}
	return int64(s.TimeScale), 2 * int64(s.UnitsInTick), true
}

var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS parses an H.264 SPS NAL unit, header byte included.
func ParseSPS(unit []byte) (SPS, error) {
	if len(unit) < 4 {
		return SPS{}, ErrShortSPS
	}
	r := &bitReader{data: RemoveEmulationPrevention(unit[1:])}

	var s SPS
	profile := r.bits(8)
	s.Profile = byte(profile)
	s.Constraints = byte(r.bits(8))
	s.Level = byte(r.bits(8))
	r.ue() // seq_parameter_set_id

	chroma := uint(1)
	separatePlanes := false
	if highProfiles[profile] {
		chroma = r.ue()
		if chroma == 3 {
			separatePlanes = r.flag()
		}
		r.ue()    // bit_depth_luma_minus8
		r.ue()    // bit_depth_chroma_minus8
		r.bits(1) // qpprime_y_zero_transform_bypass_flag
		if r.flag() {
			lists := 8
			if chroma == 3 {
				lists = 12
			}
			for i := range lists {
				if r.flag() {
					size := 16
					if i >= 6 {
						size = 64
					}
					r.skipScalingList(size)
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() {
	case 0:
		r.ue()
	case 1:
		r.bits(1)
		r.se()
		r.se()
		for range r.ue() {
			r.se()
		}
	}
	r.ue()    // max_num_ref_frames
	r.bits(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := r.ue() + 1
	heightUnits := r.ue() + 1
	frameMbsOnly := r.bits(1)
	if frameMbsOnly == 0 {
		r.bits(1) // mb_adaptive_frame_field_flag
	}
	r.bits(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint
	if r.flag() {
		cropL, cropR, cropT, cropB = r.ue(), r.ue(), r.ue(), r.ue()
	}
	if r.err != nil {
		return SPS{}, r.err
	}

	subW, subH := uint(2), uint(2)
	switch {
	case separatePlanes || chroma == 0 || chroma == 3:
		subW, subH = 1, 1
	case chroma == 2:
		subW, subH = 2, 1
	}
	s.Width = int(widthMbs*16 - subW*(cropL+cropR))
	s.Height = int(heightUnits*16*(2-frameMbsOnly) - subH*(2-frameMbsOnly)*(cropT+cropB))

	if !r.flag() {
		return s, nil
	}
	parseVUITiming(r, &s)
	return s, nil
}

// parseVUITiming walks the VUI up to timing_info. Errors past the picture
// size are not fatal; the size is still valid.
func parseVUITiming(r *bitReader, s *SPS) {
	if r.flag() { // aspect_ratio_info_present_flag
		if r.bits(8) == 255 {
			r.bits(32)
		}
	}
	if r.flag() { // overscan_info_present_flag
		r.bits(1)
	}
	if r.flag() { // video_signal_type_present_flag
		r.bits(4)
		if r.flag() {
			r.bits(24)
		}
	}
	if r.flag() { // chroma_loc_info_present_flag
		r.ue()
		r.ue()
	}
	if !r.flag() { // timing_info_present_flag
		return
	}
	units := r.bits(32)
	scale := r.bits(32)
	fixed := r.flag()
	if r.err != nil {
		return
	}
	s.UnitsInTick = uint32(units)
	s.TimeScale = uint32(scale)
	s.FixedRate = fixed
}

// HEVCSPS is the part of an H.265 sequence parameter set that describes the
// picture.
type HEVCSPS struct {
	Width   int
	Height  int
	Profile byte
	Tier    byte
	Level   byte
	Chroma  byte
}

// CodecString returns a short RFC 6381 codec string, e.g. "hev1.1.L93".
func (s HEVCSPS) CodecString() string {
	tier := "L"
	if s.Tier == 1 {
		tier = "H"
	}
	return fmt.Sprintf("hev1.%d.%s%d", s.Profile, tier, s.Level)
}

// ParseHEVCSPS parses an H.265 SPS NAL unit, 2-byte header included.
func ParseHEVCSPS(unit []byte) (HEVCSPS, error) {
	if len(unit) < 4 {
		return HEVCSPS{}, ErrShortSPS
	}
	r := &bitReader{data: RemoveEmulationPrevention(unit[2:])}

	var s HEVCSPS
	r.bits(4) // sps_video_parameter_set_id
	subLayers := r.bits(3)
	r.bits(1) // sps_temporal_id_nesting_flag

	// profile_tier_level
	r.bits(2)
	s.Tier = byte(r.bits(1))
	s.Profile = byte(r.bits(5))
	r.bits(32) // general_profile_compatibility_flags
	r.bits(48) // general constraint flags
	s.Level = byte(r.bits(8))
	if subLayers > 0 {
		profilePresent := make([]bool, subLayers)
		levelPresent := make([]bool, subLayers)
		for i := range subLayers {
			profilePresent[i] = r.flag()
			levelPresent[i] = r.flag()
		}
		for range 8 - subLayers {
			r.bits(2)
		}
		for i := range subLayers {
			if profilePresent[i] {
				r.bits(88)
			}
			if levelPresent[i] {
				r.bits(8)
			}
		}
	}

	r.ue() // sps_seq_parameter_set_id
	chroma := r.ue()
	s.Chroma = byte(chroma)
	if chroma == 3 {
		r.bits(1)
	}
	s.Width = int(r.ue())
	s.Height = int(r.ue())
	if r.err != nil {
		return HEVCSPS{}, r.err
	}

	if r.flag() { // conformance_window_flag
		left, right, top, bottom := r.ue(), r.ue(), r.ue(), r.ue()
		if r.err == nil {
			subW, subH := uint(1), uint(1)
			switch chroma {
			case 1:
				subW, subH = 2, 2
			case 2:
				subW, subH = 2, 1
			}
			s.Width -= int((left + right) * subW)
			s.Height -= int((top + bottom) * subH)
		}
	}
	return s, nil
}
