package mpegts

import "errors"

var (
	errShortPES     = errors.New("mpegts: PES packet too short")
	errPESStartCode = errors.New("mpegts: invalid PES start code")
)

// isPES checks for the PES start code prefix 0x000001.
func isPES(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasOptionalHeader reports whether packets of this stream id carry the
// optional PES header. Padding, private_stream_2, ECM, EMM, DSMCC, H.222.1
// type E and the program stream directory do not.
func hasOptionalHeader(streamID uint8) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(payload []byte) (*PES, error) {
	if len(payload) < 6 {
		return nil, errShortPES
	}
	if !isPES(payload) {
		return nil, errPESStartCode
	}

	pes := &PES{StreamID: payload[3], PTS: NoPTS, DTS: NoPTS}
	length := int(payload[4])<<8 | int(payload[5])

	// A zero length is allowed for video and means the packet runs to the
	// start of the next one.
	end := len(payload)
	if length > 0 && 6+length <= len(payload) {
		end = 6 + length
	}

	if !hasOptionalHeader(pes.StreamID) {
		pes.Data = payload[6:end]
		return pes, nil
	}
	if len(payload) < 9 {
		return nil, errShortPES
	}

	flags := payload[7] >> 6
	start := min(9+int(payload[8]), end)
	switch flags {
	case 2:
		if len(payload) >= 14 {
			pes.PTS = parseTimestamp(payload[9:14])
		}
	case 3:
		if len(payload) >= 19 {
			pes.PTS = parseTimestamp(payload[9:14])
			pes.DTS = parseTimestamp(payload[14:19])
		}
	}
	pes.Data = payload[start:end]
	return pes, nil
}

// parseTimestamp decodes a 33-bit PTS or DTS from its 5-byte encoding.
func parseTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1&0x7F)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1&0x7F)
}

// EncodeTimestamp is the inverse of the PES timestamp decoding: it writes a
// 33-bit value with the given 4-bit prefix ('0010' PTS only, '0011' PTS
// with DTS, '0001' DTS) and marker bits.
func EncodeTimestamp(prefix byte, v int64) []byte {
	return []byte{
		prefix<<4 | byte(v>>29&0x0E) | 0x01,
		byte(v >> 22),
		byte(v>>14&0xFE) | 0x01,
		byte(v >> 7),
		byte(v<<1&0xFE) | 0x01,
	}
}
