// Package timer implements the shared presentation clock. Streams and the
// demuxer register as observers and are told about every play, pause, stop
// and seek transition, in priority order.
package timer

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/zsiec/reel/media"
)

// Priority orders observer notification. Lower values are notified first and
// every observer of a tier returns before the next tier is notified.
type Priority int

// Notification tiers.
const (
	// PriorityDemuxer is reserved for the packet router, which must reset
	// its queues before any stream reacts to a seek.
	PriorityDemuxer Priority = iota
	// PriorityActive is used by streams that drive the clock (audio): they
	// must have actually started before presentation streams advance.
	PriorityActive
	// PriorityPassive is used by presentation streams (video).
	PriorityPassive
)

func (p Priority) String() string {
	switch p {
	case PriorityDemuxer:
		return "demuxer"
	case PriorityActive:
		return "active"
	case PriorityPassive:
		return "passive"
	}
	return "unknown"
}

// Observer receives clock transitions. Callbacks run on the goroutine that
// issued the transition and must not call back into Play, Pause, Stop or
// Seek.
type Observer interface {
	WillPlay(t *Timer)
	DidPlay(t *Timer, previous media.Status)
	DidPause(t *Timer, previous media.Status)
	DidStop(t *Timer, previous media.Status)
	// DidSeek is called after the offset moved. Returning false reports that
	// the observer could not reach the new position.
	DidSeek(t *Timer, oldPosition time.Duration) bool
}

// SeekPreparer is implemented by observers that need to act before the
// offset moves, such as the demuxer repositioning its container.
type SeekPreparer interface {
	WillSeek(t *Timer, target time.Duration)
}

type subscriber struct {
	obs      Observer
	priority Priority
}

// Timer is the shared presentation clock.
type Timer struct {
	log *slog.Logger
	now func() time.Time

	// transition serializes Play, Pause, Stop and Seek so that a broadcast
	// never interleaves with another.
	transition sync.Mutex

	mu          sync.Mutex
	subscribers []subscriber
	status      media.Status
	offset      time.Duration
	startedAt   time.Time
}

// Option configures a Timer.
type Option func(*Timer)

// WithClock replaces the wall clock the Timer measures playback with.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) { t.now = now }
}

// New creates a stopped Timer at offset zero. If log is nil, slog.Default()
// is used.
func New(log *slog.Logger, opts ...Option) *Timer {
	if log == nil {
		log = slog.Default()
	}
	t := &Timer{
		log: log.With("component", "timer"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddObserver registers o in the given tier. Observers of the same tier are
// notified in registration order. Adding an already registered observer
// moves it to the new tier.
func (t *Timer) AddObserver(o Observer, p Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.subscribers = slices.DeleteFunc(t.subscribers, func(s subscriber) bool { return s.obs == o })
	i := len(t.subscribers)
	for j, s := range t.subscribers {
		if s.priority > p {
			i = j
			break
		}
	}
	t.subscribers = slices.Insert(t.subscribers, i, subscriber{obs: o, priority: p})
}

// RemoveObserver unregisters o. Removing an unknown observer is a no-op.
func (t *Timer) RemoveObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = slices.DeleteFunc(t.subscribers, func(s subscriber) bool { return s.obs == o })
}

// IsObserver reports whether o is registered, and in which tier.
func (t *Timer) IsObserver(o Observer) (Priority, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subscribers {
		if s.obs == o {
			return s.priority, true
		}
	}
	return 0, false
}

// Status returns the current clock status.
func (t *Timer) Status() media.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Offset returns the current playing position.
func (t *Timer) Offset() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offsetLocked()
}

func (t *Timer) offsetLocked() time.Duration {
	if t.status == media.Playing {
		return t.offset + t.now().Sub(t.startedAt)
	}
	return t.offset
}

func (t *Timer) snapshot() []subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.subscribers)
}

// Play starts or resumes the clock. Every observer gets WillPlay before the
// clock starts and DidPlay after.
func (t *Timer) Play() {
	t.transition.Lock()
	defer t.transition.Unlock()
	t.play()
}

func (t *Timer) play() {
	prev := t.Status()
	if prev == media.Playing {
		t.log.Warn("play requested while already playing")
		return
	}

	subs := t.snapshot()
	for _, s := range subs {
		s.obs.WillPlay(t)
	}

	t.mu.Lock()
	t.status = media.Playing
	t.startedAt = t.now()
	t.mu.Unlock()

	for _, s := range subs {
		s.obs.DidPlay(t, prev)
	}
	t.log.Debug("playing", "offset", t.Offset())
}

// Pause freezes the clock at its current offset.
func (t *Timer) Pause() {
	t.transition.Lock()
	defer t.transition.Unlock()
	t.pause()
}

func (t *Timer) pause() {
	t.mu.Lock()
	prev := t.status
	if prev == media.Paused {
		t.mu.Unlock()
		t.log.Warn("pause requested while already paused")
		return
	}
	t.offset = t.offsetLocked()
	t.status = media.Paused
	t.mu.Unlock()

	for _, s := range t.snapshot() {
		s.obs.DidPause(t, prev)
	}
	t.log.Debug("paused", "offset", t.Offset())
}

// Stop halts the clock and rewinds it to zero.
func (t *Timer) Stop() {
	t.transition.Lock()
	defer t.transition.Unlock()

	t.mu.Lock()
	prev := t.status
	if prev == media.Stopped {
		t.mu.Unlock()
		t.log.Warn("stop requested while already stopped")
		return
	}
	t.status = media.Stopped
	t.offset = 0
	t.mu.Unlock()

	for _, s := range t.snapshot() {
		s.obs.DidStop(t, prev)
	}
	t.log.Debug("stopped")
}

// Seek moves the clock to target. A playing clock is paused for the
// duration of the seek and resumed afterwards. Seek returns false when any
// observer failed to reach the new position.
func (t *Timer) Seek(target time.Duration) bool {
	t.transition.Lock()
	defer t.transition.Unlock()

	wasPlaying := t.Status() == media.Playing
	if wasPlaying {
		t.pause()
	}

	subs := t.snapshot()
	for _, s := range subs {
		if sp, ok := s.obs.(SeekPreparer); ok {
			sp.WillSeek(t, target)
		}
	}

	t.mu.Lock()
	old := t.offsetLocked()
	t.offset = target
	t.mu.Unlock()

	ok := true
	for _, s := range subs {
		if !s.obs.DidSeek(t, old) {
			ok = false
		}
	}
	t.log.Debug("seeked", "from", old, "to", target, "ok", ok)

	if wasPlaying {
		t.play()
	}
	return ok
}
