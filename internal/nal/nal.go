// Package nal parses H.264 and H.265 Annex B byte streams: NAL unit
// splitting, parameter-set classification and the subset of the sequence
// parameter set needed to describe a video stream (picture size, profile and
// frame timing).
package nal

import "errors"

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	TypeSlice      = 1
	TypeIDR        = 5
	TypeSEI        = 6
	TypeSPS        = 7
	TypePPS        = 8
	TypeAUD        = 9
	TypeFillerData = 12
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCTypeBLAWLP     = 16
	HEVCTypeIDRWRADL   = 19
	HEVCTypeIDRNLP     = 20
	HEVCTypeCRA        = 21
	HEVCTypeVPS        = 32
	HEVCTypeSPS        = 33
	HEVCTypePPS        = 34
	HEVCTypeAUD        = 35
	HEVCTypeFillerData = 38
	HEVCTypeSEIPrefix  = 39
)

// ErrShortSPS is returned when a parameter set ends before the fields the
// parser needs.
var ErrShortSPS = errors.New("nal: SPS data too short")

// Unit is one NAL unit of an Annex B stream.
type Unit struct {
	Type byte   // 5-bit for H.264, 6-bit for H.265
	Data []byte // NAL header and payload, without start code
}

// Split returns the NAL units of an H.264 Annex B access unit. Both 3- and
// 4-byte start codes are recognized. The returned units alias data.
func Split(data []byte) []Unit {
	return split(data, 1, func(d []byte) byte { return d[0] & 0x1F })
}

// SplitHEVC is Split for H.265, whose NAL header is two bytes long.
func SplitHEVC(data []byte) []Unit {
	return split(data, 2, func(d []byte) byte { return HEVCType(d[0]) })
}

// HEVCType extracts the unit type from the first byte of an H.265 NAL header.
func HEVCType(first byte) byte {
	return (first >> 1) & 0x3F
}

func split(data []byte, minLen int, typeOf func([]byte) byte) []Unit {
	n := len(data)
	if n < 4 {
		return nil
	}

	// Each entry is the index of the first start code byte and the index of
	// the first NAL byte that follows it.
	var marks [][2]int
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				marks = append(marks, [2]int{i, i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				marks = append(marks, [2]int{i, i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []Unit
	for k, m := range marks {
		end := n
		if k+1 < len(marks) {
			end = marks[k+1][0]
		}
		if m[1] >= end || end-m[1] < minLen {
			continue
		}
		body := data[m[1]:end]
		units = append(units, Unit{Type: typeOf(body), Data: body})
	}
	return units
}

// Join serializes units back into an Annex B stream with 4-byte start codes.
func Join(units [][]byte) []byte {
	size := 0
	for _, u := range units {
		size += 4 + len(u)
	}
	out := make([]byte, 0, size)
	for _, u := range units {
		out = append(out, 0, 0, 0, 1)
		out = append(out, u...)
	}
	return out
}

// IsKeyframe reports whether an H.264 unit type is an IDR slice.
func IsKeyframe(t byte) bool { return t == TypeIDR }

// IsHEVCKeyframe reports whether an H.265 unit type is a random access point
// (BLA, IDR or CRA).
func IsHEVCKeyframe(t byte) bool { return t >= HEVCTypeBLAWLP && t <= HEVCTypeCRA }

// RemoveEmulationPrevention strips the 0x03 bytes inserted after two zero
// bytes, turning a NAL payload into its raw byte sequence.
func RemoveEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}

// AddEmulationPrevention is the inverse of RemoveEmulationPrevention.
func AddEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/64)
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
