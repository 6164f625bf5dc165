// Package aac splits AAC elementary streams carried in ADTS framing, as
// found in MPEG-TS stream type 0x0F.
package aac

import "errors"

// SamplesPerFrame is the number of PCM samples per channel one AAC frame
// decodes to.
const SamplesPerFrame = 1024

// ErrInvalidHeader is returned when an ADTS header carries a reserved
// sampling frequency index.
var ErrInvalidHeader = errors.New("aac: invalid ADTS header")

var sampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// Frame is one ADTS frame.
type Frame struct {
	Data       []byte // header and raw data block; aliases the input
	Profile    int    // audio object type minus one
	SampleRate int
	Channels   int
}

// Split cuts an ADTS byte stream into frames. Bytes before the first sync
// word are skipped and a truncated trailing frame is dropped. On a reserved
// sampling index the frames found so far are returned with
// ErrInvalidHeader.
func Split(data []byte) ([]Frame, error) {
	var frames []Frame
	for off := 0; len(data)-off >= 7; {
		h := data[off:]
		if h[0] != 0xFF || h[1]&0xF0 != 0xF0 {
			off++
			continue
		}

		headerLen := 7
		if h[1]&0x01 == 0 {
			headerLen = 9 // CRC present
		}
		rateIdx := int(h[2]>>2) & 0x0F
		if rateIdx >= len(sampleRates) {
			return frames, ErrInvalidHeader
		}
		size := int(h[3]&0x03)<<11 | int(h[4])<<3 | int(h[5]>>5)
		if size < headerLen || size > len(h) {
			break
		}

		frames = append(frames, Frame{
			Data:       h[:size],
			Profile:    int(h[2] >> 6),
			SampleRate: sampleRates[rateIdx],
			Channels:   int(h[2]&0x01)<<2 | int(h[3]>>6),
		})
		off += size
	}
	return frames, nil
}
