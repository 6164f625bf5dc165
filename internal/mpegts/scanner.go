package mpegts

import (
	"errors"
	"io"
)

// Scanner reads transport packets from a reader and yields program tables
// and reassembled PES packets.
type Scanner struct {
	r      io.Reader
	buf    []byte
	offset int64
	psi    psiPIDs
	pool   *pool
	queue  []*Unit
	eof    bool
}

// NewScanner returns a Scanner reading from r, which must be positioned on a
// packet boundary.
func NewScanner(r io.Reader) *Scanner {
	psi := make(psiPIDs)
	return &Scanner{
		r:    r,
		buf:  make([]byte, PacketSize),
		psi:  psi,
		pool: newPool(psi),
	}
}

// Offset returns the byte offset of the next packet to be read.
func (s *Scanner) Offset() int64 {
	return s.offset
}

// Reset discards every partially reassembled unit and queued result. The
// caller must already have moved the underlying reader to offset, which
// must be a packet boundary. Known PMT PIDs are kept.
func (s *Scanner) Reset(offset int64) {
	s.offset = offset
	s.pool.reset()
	s.queue = nil
	s.eof = false
}

// Next returns the next unit. It returns io.EOF once the stream is
// exhausted and every buffered unit was returned. Corrupt packets and
// sections are skipped.
func (s *Scanner) Next() (*Unit, error) {
	for {
		if len(s.queue) > 0 {
			u := s.queue[0]
			s.queue = s.queue[1:]
			return u, nil
		}
		if s.eof {
			return nil, io.EOF
		}

		off := s.offset
		if _, err := io.ReadFull(s.r, s.buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.eof = true
				for _, ps := range s.pool.drain() {
					s.queue = append(s.queue, s.units(ps)...)
				}
				continue
			}
			return nil, err
		}
		s.offset += PacketSize

		p, err := parsePacket(s.buf, off)
		if err != nil {
			continue
		}
		if done := s.pool.add(p); done != nil {
			s.queue = s.units(done)
		}
	}
}

// units turns the packets of one completed unit into results, registering
// PMT PIDs announced by a PAT on the way.
func (s *Scanner) units(packets []*packet) []*Unit {
	first := packets[0]
	payload := payloadOf(packets)
	if len(payload) == 0 {
		return nil
	}

	if s.psi.has(first.pid) {
		tables, _ := parsePSI(payload)
		out := make([]*Unit, 0, len(tables))
		for _, t := range tables {
			u := &Unit{PID: first.pid, Offset: first.offset}
			switch t := t.(type) {
			case *PAT:
				for _, p := range t.Programs {
					s.psi[p.PMTPID] = true
				}
				u.PAT = t
			case *PMT:
				u.PMT = t
			}
			out = append(out, u)
		}
		return out
	}

	if !isPES(payload) {
		return nil
	}
	pes, err := parsePES(payload)
	if err != nil {
		return nil
	}
	return []*Unit{{PID: first.pid, Offset: first.offset, PES: pes}}
}
