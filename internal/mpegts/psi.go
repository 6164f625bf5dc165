package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02

	descriptorLanguage = 0x0A
)

var (
	errShortSection = errors.New("mpegts: PSI section too short")
	errCRC          = errors.New("mpegts: CRC32 mismatch")
)

// parsePSI splits a PSI payload into its PAT and PMT sections. Sections of
// other tables are skipped.
func parsePSI(payload []byte) ([]any, error) {
	if len(payload) < 1 {
		return nil, errShortSection
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field %d out of range", payload[0])
	}

	var tables []any
	for off+3 <= len(payload) {
		tableID := payload[off]
		if tableID == 0xFF || payload[off+1]&0x80 == 0 {
			break
		}
		end := off + 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if end > len(payload) {
			break
		}
		section := payload[off:end]
		off = end

		switch tableID {
		case tableIDPAT:
			pat, err := parsePAT(section)
			if err != nil {
				return tables, err
			}
			tables = append(tables, pat)
		case tableIDPMT:
			pmt, err := parsePMT(section)
			if err != nil {
				return tables, err
			}
			tables = append(tables, pmt)
		}
	}
	return tables, nil
}

// parsePAT decodes a PAT section:
//
//	[0]      table_id
//	[1:3]    flags, section_length
//	[3:8]    transport_stream_id, version, section numbers
//	[8:N-4]  4-byte program entries
//	[N-4:N]  CRC32
func parsePAT(s []byte) (*PAT, error) {
	if len(s) < 12 {
		return nil, errShortSection
	}
	if CRC32(s) != 0 {
		return nil, fmt.Errorf("PAT: %w", errCRC)
	}

	pat := &PAT{}
	for i := 8; i+4 <= len(s)-4; i += 4 {
		num := uint16(s[i])<<8 | uint16(s[i+1])
		if num == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, Program{
			Number: num,
			PMTPID: uint16(s[i+2]&0x1F)<<8 | uint16(s[i+3]),
		})
	}
	return pat, nil
}

// parsePMT decodes a PMT section:
//
//	[0]      table_id
//	[1:3]    flags, section_length
//	[3:5]    program_number
//	[5:8]    version, section numbers
//	[8:10]   PCR_PID
//	[10:12]  program_info_length, followed by program descriptors
//	...      5-byte stream entries, each followed by its descriptors
//	[N-4:N]  CRC32
func parsePMT(s []byte) (*PMT, error) {
	if len(s) < 16 {
		return nil, errShortSection
	}
	if CRC32(s) != 0 {
		return nil, fmt.Errorf("PMT: %w", errCRC)
	}

	pmt := &PMT{
		ProgramNumber: uint16(s[3])<<8 | uint16(s[4]),
		PCRPID:        uint16(s[8]&0x1F)<<8 | uint16(s[9]),
	}
	end := len(s) - 4
	off := 12 + (int(s[10]&0x0F)<<8 | int(s[11]))
	for off+5 <= end {
		infoLen := int(s[off+3]&0x0F)<<8 | int(s[off+4])
		es := ElementaryStream{
			Type: s[off],
			PID:  uint16(s[off+1]&0x1F)<<8 | uint16(s[off+2]),
		}
		if descEnd := off + 5 + infoLen; descEnd <= end {
			es.Language = findLanguage(s[off+5 : descEnd])
		}
		pmt.Streams = append(pmt.Streams, es)
		off += 5 + infoLen
	}
	return pmt, nil
}

// findLanguage returns the first ISO 639 code of a descriptor loop.
func findLanguage(desc []byte) string {
	for len(desc) >= 2 {
		tag, n := desc[0], int(desc[1])
		if 2+n > len(desc) {
			return ""
		}
		if tag == descriptorLanguage && n >= 3 {
			return string(desc[2:5])
		}
		desc = desc[2+n:]
	}
	return ""
}

// MPEG-2 CRC32, polynomial 0x04C11DB7, no reflection.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// CRC32 computes the MPEG-2 CRC of data. Over a whole section including its
// trailing CRC field the result is zero.
func CRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}
