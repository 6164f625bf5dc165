package mpegts

import "fmt"

const syncByte = 0x47

func parsePacket(buf []byte, offset int64) (*packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X at offset %d", buf[0], offset)
	}

	p := &packet{
		pid:        uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		cc:         buf[3] & 0x0F,
		pusi:       buf[1]&0x40 != 0,
		tei:        buf[1]&0x80 != 0,
		hasPayload: buf[3]&0x10 != 0,
		offset:     offset,
	}

	start := 4
	if buf[3]&0x20 != 0 {
		afLen := int(buf[4])
		if afLen > 0 {
			p.discontinuity = buf[5]&0x80 != 0
		}
		start = min(5+afLen, PacketSize)
	}

	if p.hasPayload && start < PacketSize {
		p.payload = make([]byte, PacketSize-start)
		copy(p.payload, buf[start:])
	}
	return p, nil
}
