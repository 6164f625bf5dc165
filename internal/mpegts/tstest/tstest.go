// Package tstest builds small MPEG transport streams for tests: program
// tables, PES packets split into transport packets with adaptation field
// stuffing, and H.264 SEI payloads.
package tstest

import (
	"bytes"
	"encoding/binary"
	"math/bits"

	"github.com/zsiec/reel/internal/mpegts"
	"github.com/zsiec/reel/internal/nal"
)

// PMTPID is the PID the Muxer writes its PMT on.
const PMTPID = 0x1000

// Stream describes one elementary stream of the generated program.
type Stream struct {
	PID      uint16
	Type     uint8
	Language string
}

// Muxer writes a single-program transport stream into a buffer.
type Muxer struct {
	buf     bytes.Buffer
	streams []Stream
	cc      map[uint16]byte
}

// NewMuxer returns a Muxer for a program made of streams.
func NewMuxer(streams ...Stream) *Muxer {
	return &Muxer{streams: streams, cc: make(map[uint16]byte)}
}

// Bytes returns everything written so far.
func (m *Muxer) Bytes() []byte {
	return m.buf.Bytes()
}

// WriteTables writes one PAT and one PMT.
func (m *Muxer) WriteTables() {
	m.writeSection(0x0000, PAT(1, PMTPID))
	pcr := uint16(0x1FFF)
	if len(m.streams) > 0 {
		pcr = m.streams[0].PID
	}
	m.writeSection(PMTPID, PMT(1, pcr, m.streams...))
}

func (m *Muxer) writeSection(pid uint16, section []byte) {
	payload := append([]byte{0x00}, section...) // pointer field
	m.buf.Write(m.packetize(pid, payload))
}

// WritePES writes one PES packet. A negative pts or dts omits the field.
// Video stream ids (0xE0-0xEF) get an unbounded PES length.
func (m *Muxer) WritePES(pid uint16, streamID byte, pts, dts int64, data []byte) {
	m.buf.Write(m.packetize(pid, PES(streamID, pts, dts, data)))
}

// WriteRaw appends arbitrary bytes, for corrupt-input tests.
func (m *Muxer) WriteRaw(b []byte) {
	m.buf.Write(b)
}

func (m *Muxer) packetize(pid uint16, data []byte) []byte {
	cc := m.cc[pid]
	out := Packetize(data, pid, &cc)
	m.cc[pid] = cc
	return out
}

// PAT returns a PAT section announcing one program.
func PAT(program, pmtPID uint16) []byte {
	s := []byte{
		0x00, 0xB0, 0x00, // table_id, section_length patched below
		0x00, 0x01, // transport_stream_id
		0xC1, 0x00, 0x00,
		byte(program >> 8), byte(program),
		0xE0 | byte(pmtPID>>8)&0x1F, byte(pmtPID),
	}
	return sealSection(s)
}

// PMT returns a PMT section for program listing streams.
func PMT(program, pcrPID uint16, streams ...Stream) []byte {
	s := []byte{
		0x02, 0xB0, 0x00,
		byte(program >> 8), byte(program),
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID),
		0xF0, 0x00, // program_info_length
	}
	for _, st := range streams {
		var desc []byte
		if st.Language != "" {
			desc = append([]byte{0x0A, 4}, st.Language[:3]...)
			desc = append(desc, 0x00) // audio_type
		}
		s = append(s,
			st.Type,
			0xE0|byte(st.PID>>8)&0x1F, byte(st.PID),
			0xF0|byte(len(desc)>>8)&0x0F, byte(len(desc)),
		)
		s = append(s, desc...)
	}
	return sealSection(s)
}

// sealSection fills in section_length and appends the CRC.
func sealSection(s []byte) []byte {
	n := len(s) - 3 + 4
	s[1] = s[1]&0xF0 | byte(n>>8)&0x0F
	s[2] = byte(n)
	return binary.BigEndian.AppendUint32(s, mpegts.CRC32(s))
}

// PES builds a PES packet. A negative pts or dts omits the field; a DTS
// is only written together with a PTS.
func PES(streamID byte, pts, dts int64, data []byte) []byte {
	var opt []byte
	var flags byte
	switch {
	case pts >= 0 && dts >= 0:
		flags = 3
		opt = append(mpegts.EncodeTimestamp(0x3, pts), mpegts.EncodeTimestamp(0x1, dts)...)
	case pts >= 0:
		flags = 2
		opt = mpegts.EncodeTimestamp(0x2, pts)
	}

	length := 3 + len(opt) + len(data)
	if streamID&0xF0 == 0xE0 || length > 0xFFFF {
		length = 0
	}
	out := make([]byte, 0, 9+len(opt)+len(data))
	out = append(out, 0x00, 0x00, 0x01, streamID, byte(length>>8), byte(length))
	out = append(out, 0x80, flags<<6, byte(len(opt)))
	out = append(out, opt...)
	return append(out, data...)
}

// Packetize splits data into transport packets on pid, stuffing the last
// packet through its adaptation field. cc is advanced for every packet.
func Packetize(data []byte, pid uint16, cc *byte) []byte {
	var out []byte
	for first := true; first || len(data) > 0; first = false {
		var pkt [mpegts.PacketSize]byte
		pkt[0] = 0x47
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		if first {
			pkt[1] |= 0x40
		}
		pkt[3] = 0x10 | *cc&0x0F
		*cc = (*cc + 1) & 0x0F

		room := mpegts.PacketSize - 4
		if len(data) >= room {
			copy(pkt[4:], data[:room])
			data = data[room:]
			out = append(out, pkt[:]...)
			continue
		}

		stuff := room - len(data)
		pkt[3] |= 0x20
		pkt[4] = byte(stuff - 1)
		if stuff > 1 {
			pkt[5] = 0x00
			for i := 6; i < 4+stuff; i++ {
				pkt[i] = 0xFF
			}
		}
		copy(pkt[4+stuff:], data)
		data = nil
		out = append(out, pkt[:]...)
	}
	return out
}

// SEI wraps one SEI message in an H.264 SEI NAL unit, with emulation
// prevention applied and a trailing stop bit.
func SEI(payloadType int, payload []byte) []byte {
	msg := []byte{}
	for pt := payloadType; ; pt -= 255 {
		if pt < 255 {
			msg = append(msg, byte(pt))
			break
		}
		msg = append(msg, 0xFF)
	}
	for n := len(payload); ; n -= 255 {
		if n < 255 {
			msg = append(msg, byte(n))
			break
		}
		msg = append(msg, 0xFF)
	}
	msg = append(msg, payload...)
	msg = append(msg, 0x80)
	return append([]byte{nal.TypeSEI}, nal.AddEmulationPrevention(msg)...)
}

// CEA608 returns an ATSC A/53 user_data_registered_itu_t_t35 payload
// carrying CEA-608 byte pairs on field 1.
func CEA608(pairs ...[2]byte) []byte {
	p := []byte{
		0xB5,       // itu_t_t35_country_code: United States
		0x00, 0x31, // provider code: ATSC
		'G', 'A', '9', '4',
		0x03,                    // user_data_type_code: cc_data
		0x40 | byte(len(pairs)), // process_cc_data_flag, cc_count
		0xFF,                    // em_data
	}
	for _, cc := range pairs {
		p = append(p, 0xFC, oddParity(cc[0]), oddParity(cc[1])) // cc_valid, type 0 (field 1)
	}
	return append(p, 0xFF) // marker_bits
}

// oddParity sets the high bit of a 7-bit CEA-608 byte so that the byte has
// an odd number of ones.
func oddParity(b byte) byte {
	b &= 0x7F
	if bits.OnesCount8(b)%2 == 0 {
		return b | 0x80
	}
	return b
}

// SPS is an H.264 sequence parameter set for 1280x720 at 30 frames per
// second, NAL header included.
var SPS = []byte{
	0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
	0x05, 0xbb, 0x01, 0x6a, 0x04, 0x04, 0x0a, 0x80,
	0x00, 0x00, 0x03, 0x00, 0x80, 0x00, 0x00, 0x1e,
	0x30, 0x20, 0x00, 0x16, 0xe3, 0x60, 0x00, 0x2d,
	0xc6, 0xd2, 0x49, 0x80, 0x7c, 0x60, 0xc6, 0x58,
}

// PPS is a picture parameter set matching SPS.
var PPS = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}

// AccessUnit returns an Annex B H.264 access unit. A keyframe carries SPS,
// PPS and an IDR slice; other frames a single non-IDR slice. extra units,
// such as SEI, are placed before the slice.
func AccessUnit(keyframe bool, extra ...[]byte) []byte {
	units := [][]byte{{nal.TypeAUD, 0xF0}}
	slice := []byte{nal.TypeSlice | 0x40, 0x9a, 0x00, 0x10}
	if keyframe {
		units = append(units, SPS, PPS)
		slice = []byte{nal.TypeIDR | 0x60, 0x88, 0x84, 0x00, 0x33}
	}
	units = append(units, extra...)
	units = append(units, slice)
	return nal.Join(units)
}

// ADTS builds one AAC-LC ADTS frame without CRC. rateIdx indexes the ADTS
// sampling frequency table (3 is 48 kHz, 4 is 44.1 kHz).
func ADTS(rateIdx, channels int, payload []byte) []byte {
	size := 7 + len(payload)
	h := []byte{
		0xFF,
		0xF1,
		byte(1<<6 | rateIdx<<2 | channels>>2),
		byte(channels&0x03<<6 | size>>11&0x03),
		byte(size >> 3),
		byte(size&0x07<<5 | 0x1F),
		0xFC,
	}
	return append(h, payload...)
}
