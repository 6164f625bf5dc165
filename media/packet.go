package media

import (
	"sync/atomic"
	"time"
)

// Packet is one compressed data unit read from a container, tagged with the
// index of the elementary stream it belongs to.
//
// A Packet has exactly one owner at a time. Handing it to a queue moves
// ownership; whoever consumes or discards it must call Release exactly once.
type Packet struct {
	StreamIndex int
	DTS         int64
	PTS         int64
	Duration    int64 // 0 when unknown
	TimeBase    Rational
	Keyframe    bool
	Data        []byte

	onRelease func(*Packet)
	released  atomic.Bool
}

// NewPacket returns a packet for streamIndex carrying data, with unset
// timestamps.
func NewPacket(streamIndex int, data []byte, tb Rational) *Packet {
	return &Packet{
		StreamIndex: streamIndex,
		DTS:         NoTimestamp,
		PTS:         NoTimestamp,
		TimeBase:    tb,
		Data:        data,
	}
}

// OnRelease registers fn to run when the packet is released. Producers use
// it to recycle buffers or to account for live packets.
func (p *Packet) OnRelease(fn func(*Packet)) {
	p.onRelease = fn
}

// Release gives the packet back to its producer. Releasing a packet twice
// is a programming error and panics.
func (p *Packet) Release() {
	if p.released.Swap(true) {
		panic("media: packet released twice")
	}
	if p.onRelease != nil {
		p.onRelease(p)
	}
	p.Data = nil
}

// Released reports whether Release has been called.
func (p *Packet) Released() bool {
	return p.released.Load()
}

// Timestamp returns the DTS when set, otherwise the PTS.
func (p *Packet) Timestamp() int64 {
	if p.DTS != NoTimestamp {
		return p.DTS
	}
	return p.PTS
}

// DurationTime returns the packet duration as wall-clock time, or zero when
// the container did not set one.
func (p *Packet) DurationTime() time.Duration {
	if p.Duration <= 0 {
		return 0
	}
	return p.TimeBase.Duration(p.Duration)
}
