// Package container reads media files and splits them into timestamped
// packets of their elementary streams. Formats are detected from the first
// bytes of the file; see [AvailableDemuxers] for the supported list.
package container

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/internal/mpegts"
	"github.com/zsiec/reel/media"
)

// ErrUnsupportedFormat is returned by Open when no demuxer recognizes the
// input.
var ErrUnsupportedFormat = errors.New("container: unsupported format")

// Reader is an opened media file. ReadPacket, Seek and Close must not be
// called concurrently.
type Reader interface {
	// Format returns the short name of the demuxer that opened the file.
	Format() string
	// Streams lists the elementary streams. Index i describes stream i.
	Streams() []media.StreamInfo
	// ReadPacket returns the next packet in file order, or io.EOF.
	ReadPacket() (*media.Packet, error)
	// Seek repositions the reader at a packet boundary at or before target,
	// measured from the start of the presentation.
	Seek(target time.Duration) error
	Close() error
}

// Stats counts the I/O performed by a Reader.
type Stats struct {
	BytesRead int64 `json:"bytesRead"`
	Reads     int64 `json:"reads"`
	Packets   int64 `json:"packets"`
	Seeks     int64 `json:"seeks"`
}

// StatsReporter is implemented by readers that track I/O counters.
type StatsReporter interface {
	Stats() Stats
}

// Demuxer describes one supported container format.
type Demuxer struct {
	Name        string
	Description string
	Extensions  []string

	probe func(head []byte) bool
	open  func(src *source, log *slog.Logger) (Reader, error)
}

// probeSize is how many leading bytes are inspected to detect the format.
const probeSize = 3 * mpegts.PacketSize

var demuxers = []Demuxer{
	{
		Name:        "mpegts",
		Description: "MPEG transport stream",
		Extensions:  []string{".ts", ".m2ts", ".mts"},
		probe:       probeMPEGTS,
		open:        openMPEGTS,
	},
	{
		Name:        "wav",
		Description: "WAVE audio",
		Extensions:  []string{".wav"},
		probe:       probeWAV,
		open:        openAudio("wav", decodeWAV),
	},
	{
		Name:        "flac",
		Description: "Free Lossless Audio Codec",
		Extensions:  []string{".flac"},
		probe:       probeFLAC,
		open:        openAudio("flac", decodeFLAC),
	},
	{
		Name:        "ogg",
		Description: "Ogg Vorbis audio",
		Extensions:  []string{".ogg", ".oga"},
		probe:       probeOgg,
		open:        openAudio("ogg", decodeVorbis),
	},
	{
		Name:        "mp3",
		Description: "MPEG audio layer III",
		Extensions:  []string{".mp3"},
		probe:       probeMP3,
		open:        openAudio("mp3", decodeMP3),
	},
}

// AvailableDemuxers returns the supported container formats. The result is
// a copy and may be modified by the caller.
func AvailableDemuxers() []Demuxer {
	return slices.Clone(demuxers)
}

// Option configures Open.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the logger used by the reader. The default is
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Open opens the file at path and detects its format.
func Open(path string, opts ...Option) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: %w", err)
	}
	r, err := NewReader(f, opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("container: open %s: %w", path, err)
	}
	return r, nil
}

// NewReader detects the format of rs and returns a Reader for it. Closing
// the Reader closes rs.
func NewReader(rs io.ReadSeekCloser, opts ...Option) (Reader, error) {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	head := make([]byte, probeSize)
	n, err := io.ReadFull(rs, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	head = head[:n]
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	for _, d := range demuxers {
		if !d.probe(head) {
			continue
		}
		log := o.log.With("component", "container", "format", d.Name)
		return d.open(&source{rs: rs}, log)
	}
	return nil, ErrUnsupportedFormat
}

func probeMPEGTS(head []byte) bool {
	if len(head) < mpegts.PacketSize {
		return false
	}
	for off := 0; off < len(head); off += mpegts.PacketSize {
		if head[off] != 0x47 {
			return false
		}
	}
	return true
}

// source wraps the input file and counts the I/O performed on it.
type source struct {
	rs io.ReadSeekCloser

	bytesRead atomic.Int64
	reads     atomic.Int64
	packets   atomic.Int64
	seeks     atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

func (s *source) Read(p []byte) (int, error) {
	n, err := s.rs.Read(p)
	s.bytesRead.Add(int64(n))
	s.reads.Add(1)
	return n, err
}

func (s *source) Seek(offset int64, whence int) (int64, error) {
	s.seeks.Add(1)
	return s.rs.Seek(offset, whence)
}

// Close closes the input once; later calls return the first result.
func (s *source) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.rs.Close()
	})
	return s.closeErr
}

func (s *source) Stats() Stats {
	return Stats{
		BytesRead: s.bytesRead.Load(),
		Reads:     s.reads.Load(),
		Packets:   s.packets.Load(),
		Seeks:     s.seeks.Load(),
	}
}
