// Package mpegts parses MPEG transport streams into program tables and
// reassembled PES packets. It discovers programs through the PAT and PMT,
// reassembles PES payloads per PID and extracts their PTS and DTS.
//
// Every unit records the byte offset of the transport packet it started
// in, so that callers can build a seek index and later reposition the
// underlying reader and call [Scanner.Reset].
package mpegts

// NoPTS marks a PES packet without a PTS or DTS.
const NoPTS int64 = -1

// Elementary stream types (ISO/IEC 13818-1 Table 2-34).
const (
	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypeAAC        = 0x0F
	StreamTypeH264       = 0x1B
	StreamTypeH265       = 0x24
)

// PacketSize is the size of a transport packet.
const PacketSize = 188

// packet is one parsed transport packet.
type packet struct {
	pid           uint16
	cc            uint8
	pusi          bool
	tei           bool
	discontinuity bool
	hasPayload    bool
	payload       []byte
	offset        int64
}

// Unit is one logical unit produced by a Scanner. Exactly one of PAT, PMT
// and PES is set.
type Unit struct {
	PID    uint16
	Offset int64 // byte offset of the first transport packet of the unit
	PAT    *PAT
	PMT    *PMT
	PES    *PES
}

// PAT is a Program Association Table.
type PAT struct {
	Programs []Program
}

// Program maps a program number to the PID of its PMT.
type Program struct {
	Number uint16
	PMTPID uint16
}

// PMT is a Program Map Table.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	PID      uint16
	Type     uint8
	Language string // ISO 639-2 code from the language descriptor, if any
}

// PES is a reassembled Packetized Elementary Stream packet.
type PES struct {
	StreamID uint8
	PTS      int64 // 90 kHz, NoPTS when absent
	DTS      int64 // 90 kHz, NoPTS when absent
	Data     []byte
}
