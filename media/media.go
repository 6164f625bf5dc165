// Package media defines the core types shared by the container readers, the
// decoders and the playback engine: media kinds, playback status, time bases,
// stream metadata, packets and decoded frames.
package media

import (
	"fmt"
	"math"
	"time"
)

// Kind is the type of an elementary stream.
type Kind int

// Media kinds.
const (
	Unknown Kind = iota
	Audio
	Video
)

func (k Kind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Video:
		return "video"
	}
	return "unknown"
}

// Status is the playback state shared by the clock, the streams and the
// audio sink.
type Status int

// Playback states. There is no terminal state: a stopped stream can be
// played again.
const (
	Stopped Status = iota
	Paused
	Playing
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// NoTimestamp marks an unset DTS, PTS, start time or duration.
const NoTimestamp int64 = math.MinInt64

// Rational is a fraction used as a time base: one timestamp unit lasts
// Num/Den seconds.
type Rational struct {
	Num int64
	Den int64
}

// Valid reports whether r can be used for conversions.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Float returns r as a floating point number.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Duration converts ts, expressed in units of r, to a wall-clock duration.
// The conversion is exact to the nanosecond for any ts whose product with
// Num fits in an int64.
func (r Rational) Duration(ts int64) time.Duration {
	if !r.Valid() || ts == NoTimestamp {
		return 0
	}
	q := ts * r.Num
	whole := q / r.Den
	rem := q % r.Den
	return time.Duration(whole)*time.Second + time.Duration(rem*int64(time.Second)/r.Den)
}

// Timestamp converts d to units of r, rounding toward zero.
func (r Rational) Timestamp(d time.Duration) int64 {
	if !r.Valid() {
		return 0
	}
	sec := int64(d / time.Second)
	ns := int64(d % time.Second)
	return (sec*r.Den + ns*r.Den/int64(time.Second)) / r.Num
}

// StreamInfo is the metadata a container reader exposes for one elementary
// stream.
type StreamInfo struct {
	Index     int
	Kind      Kind
	Codec     string
	TimeBase  Rational
	StartTime int64 // NoTimestamp when unknown
	Duration  int64 // NoTimestamp when unknown
	Language  string

	// Audio
	SampleRate   int
	Channels     int
	SampleFormat SampleFormat

	// Video
	FrameRate Rational // frames per second; zero when unknown
	Width     int
	Height    int
}

// HasDuration reports whether the stream carries a usable duration.
func (s StreamInfo) HasDuration() bool {
	return s.Duration != NoTimestamp && s.Duration >= 0 && s.TimeBase.Valid()
}

// StreamDescriptor is an immutable snapshot of the user-facing metadata of
// a stream, used to list and select tracks.
type StreamDescriptor struct {
	Identifier int
	Kind       Kind
	Language   string
	CodecName  string
}
