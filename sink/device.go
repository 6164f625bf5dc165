package sink

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"

	"github.com/zsiec/reel/media"
)

// DefaultPeriod is the interval at which a Device pulls audio.
const DefaultPeriod = 10 * time.Millisecond

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithOutput sets where the device writes interleaved signed 16-bit
// little-endian samples. The default discards them.
func WithOutput(w io.Writer) DeviceOption {
	return func(d *Device) { d.out = w }
}

// WithPeriod sets the pull interval.
func WithPeriod(p time.Duration) DeviceOption {
	return func(d *Device) { d.period = p }
}

// WithLogger sets the device logger. The default is slog.Default().
func WithLogger(log *slog.Logger) DeviceOption {
	return func(d *Device) { d.log = log }
}

type command struct {
	status media.Status
	ack    chan struct{}
}

// Device is a Sink that pulls from a beep.Streamer in real time and writes
// the samples to an io.Writer. It stops itself when the streamer is
// drained. Close must be called to release its goroutine.
type Device struct {
	log    *slog.Logger
	out    io.Writer
	period time.Duration
	format beep.Format
	src    beep.Streamer

	// chainMu guards the effect chain, which the pull loop streams from.
	chainMu sync.Mutex
	ctrl    *beep.Ctrl
	vol     *effects.Volume

	mu     sync.Mutex
	status media.Status
	played int
	volume float64

	cmds      chan command
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ Sink = (*Device)(nil)

// NewDevice returns a stopped device playing src, whose samples are in the
// given format.
func NewDevice(src beep.Streamer, format beep.Format, opts ...DeviceOption) *Device {
	d := &Device{
		log:    slog.Default(),
		out:    io.Discard,
		period: DefaultPeriod,
		format: beep.Format{SampleRate: format.SampleRate, NumChannels: 2, Precision: 2},
		src:    src,
		volume: 1,
		cmds:   make(chan command),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "sink")
	d.ctrl = &beep.Ctrl{Streamer: src, Paused: true}
	d.vol = &effects.Volume{Streamer: d.ctrl, Base: 2}
	go d.run()
	return d
}

// Play starts the device. When nothing was played yet, the returned channel
// is closed after the first period of audio was pulled.
func (d *Device) Play() <-chan struct{} { return d.send(media.Playing) }

func (d *Device) Pause() <-chan struct{} { return d.send(media.Paused) }
func (d *Device) Stop() <-chan struct{}  { return d.send(media.Stopped) }

// send hands a state change to the pull loop. The returned channel is
// closed once the change is applied, or at once if the device is closed.
func (d *Device) send(s media.Status) <-chan struct{} {
	ack := make(chan struct{})
	select {
	case d.cmds <- command{status: s, ack: ack}:
	case <-d.done:
		close(ack)
	}
	return ack
}

func (d *Device) Status() media.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Device) PlayingOffset() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format.SampleRate.D(d.played)
}

func (d *Device) SetVolume(v float64) {
	v = max(v, 0)
	d.mu.Lock()
	d.volume = v
	d.mu.Unlock()

	d.chainMu.Lock()
	defer d.chainMu.Unlock()
	d.vol.Silent = v == 0
	if v > 0 {
		d.vol.Volume = math.Log2(v)
	}
}

func (d *Device) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// Close stops the pull loop. The device cannot be used afterwards.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.quit)
		<-d.done
	})
	return nil
}

func (d *Device) run() {
	defer close(d.done)

	frames := max(d.format.SampleRate.N(d.period), 1)
	buf := make([][2]float64, frames)
	out := make([]byte, frames*d.format.Width())

	var ticker *time.Ticker
	var tick <-chan time.Time
	setTicking := func(on bool) {
		switch {
		case on && ticker == nil:
			ticker = time.NewTicker(d.period)
			tick = ticker.C
		case !on && ticker != nil:
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer setTicking(false)

	for {
		select {
		case <-d.quit:
			d.apply(media.Stopped)
			return
		case c := <-d.cmds:
			fresh := d.Status() != media.Playing && d.PlayingOffset() == 0
			d.apply(c.status)
			setTicking(c.status == media.Playing)
			// A fresh start is acknowledged once audio flows.
			if c.status == media.Playing && fresh && !d.pump(buf, out) {
				d.apply(media.Stopped)
				setTicking(false)
			}
			close(c.ack)
		case <-tick:
			if !d.pump(buf, out) {
				d.log.Debug("source drained")
				d.apply(media.Stopped)
				setTicking(false)
			}
		}
	}
}

func (d *Device) apply(s media.Status) {
	d.chainMu.Lock()
	d.ctrl.Paused = s != media.Playing
	if s == media.Stopped {
		if r, ok := d.src.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
	d.chainMu.Unlock()

	d.mu.Lock()
	prev := d.status
	d.status = s
	if s == media.Stopped {
		d.played = 0
	}
	d.mu.Unlock()

	if prev != s {
		d.log.Debug("status changed", "from", prev, "to", s)
	}
}

// pump pulls one period of audio and writes it out. It reports false once
// the source is drained.
func (d *Device) pump(buf [][2]float64, out []byte) bool {
	d.chainMu.Lock()
	n, ok := d.vol.Stream(buf)
	d.chainMu.Unlock()

	off := 0
	for _, s := range buf[:n] {
		off += d.format.EncodeSigned(out[off:], s)
	}
	if off > 0 {
		if _, err := d.out.Write(out[:off]); err != nil {
			d.log.Warn("write failed", "error", err)
		}
	}

	d.mu.Lock()
	d.played += n
	d.mu.Unlock()
	return ok && n == len(buf)
}
