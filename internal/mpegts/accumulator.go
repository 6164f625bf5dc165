package mpegts

import "slices"

const pidPAT = 0x0000

// psiPIDs records which PIDs carry PSI sections: the PAT and every PMT
// announced by it.
type psiPIDs map[uint16]bool

func (m psiPIDs) has(pid uint16) bool {
	return pid == pidPAT || m[pid]
}

// accumulator buffers the transport packets of one PID until the unit they
// carry is complete.
type accumulator struct {
	pid     uint16
	psi     psiPIDs
	packets []*packet
}

// add appends p and returns the packets of a completed unit, if any. A PES
// unit completes when the next one starts; a PSI unit completes as soon as
// its sections are fully buffered.
func (a *accumulator) add(p *packet) []*packet {
	if p.tei {
		a.packets = nil
		return nil
	}
	if !p.hasPayload {
		return nil
	}

	if n := len(a.packets); n > 0 && !p.discontinuity {
		prev := a.packets[n-1].cc
		if p.cc != (prev+1)&0x0F {
			if p.cc == prev {
				return nil // duplicate
			}
			a.packets = nil
		}
	}

	var done []*packet
	if p.pusi && len(a.packets) > 0 {
		done = a.packets
		a.packets = nil
	}
	if !p.pusi && len(a.packets) == 0 {
		// Continuation of a unit whose start was lost or skipped by a seek.
		return done
	}
	a.packets = append(a.packets, p)

	if done == nil && a.complete() {
		done = a.packets
		a.packets = nil
	}
	return done
}

// complete reports whether the buffered packets already hold a whole unit:
// every announced PSI section, or a PES packet of declared length.
func (a *accumulator) complete() bool {
	if a.psi.has(a.pid) {
		return sectionsComplete(payloadOf(a.packets))
	}
	head := a.packets[0].payload
	if !isPES(head) || len(head) < 6 {
		return false
	}
	length := int(head[4])<<8 | int(head[5])
	if length == 0 {
		return false
	}
	n := 0
	for _, p := range a.packets {
		n += len(p.payload)
	}
	return n >= 6+length
}

func (a *accumulator) flush() []*packet {
	done := a.packets
	a.packets = nil
	return done
}

func payloadOf(packets []*packet) []byte {
	n := 0
	for _, p := range packets {
		n += len(p.payload)
	}
	out := make([]byte, 0, n)
	for _, p := range packets {
		out = append(out, p.payload...)
	}
	return out
}

// sectionsComplete reports whether a PSI payload (pointer field included)
// holds every section it announces.
func sectionsComplete(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return false
	}
	for off < len(payload) {
		if payload[off] == 0xFF {
			return true
		}
		if off+3 > len(payload) {
			return false
		}
		if payload[off+1]&0x80 == 0 {
			return true // no section syntax: padding
		}
		off += 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if off > len(payload) {
			return false
		}
	}
	return true
}

// pool dispatches packets to per-PID accumulators.
type pool struct {
	psi  psiPIDs
	accs map[uint16]*accumulator
}

func newPool(psi psiPIDs) *pool {
	return &pool{psi: psi, accs: make(map[uint16]*accumulator)}
}

func (pl *pool) add(p *packet) []*packet {
	a, ok := pl.accs[p.pid]
	if !ok {
		a = &accumulator{pid: p.pid, psi: pl.psi}
		pl.accs[p.pid] = a
	}
	return a.add(p)
}

// drain returns every partially buffered unit, PAT first and then by
// ascending PID so that PMT PIDs are known before their sections parse.
func (pl *pool) drain() [][]*packet {
	pids := make([]uint16, 0, len(pl.accs))
	for pid := range pl.accs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var out [][]*packet
	for _, pid := range pids {
		if ps := pl.accs[pid].flush(); len(ps) > 0 {
			out = append(out, ps)
		}
	}
	return out
}

// reset drops every partially buffered unit.
func (pl *pool) reset() {
	clear(pl.accs)
}
