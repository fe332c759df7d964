package media

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// Kind tags the variant of a Source.
type Kind int

const (
	FileAudio Kind = iota + 1
	FileVideo
	LiveMicrophone
)

func (k Kind) String() string {
	switch k {
	case FileAudio:
		return "file-audio"
	case FileVideo:
		return "file-video"
	case LiveMicrophone:
		return "microphone"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Acquisition errors. They are wrapped with context, so match with errors.Is.
var (
	ErrUnsupportedMedia  = errors.New("unsupported media")
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("no audio input device available")
	ErrClosed            = errors.New("source closed")
)

// Source is a decoded file or a live capture device.
type Source interface {
	Kind() Kind
	Name() string
	// Duration is known for file sources once decoding finishes.
	Duration() (time.Duration, bool)
	Position() time.Duration
	// Loaded is closed when decoding has finished, successfully or not.
	Loaded() <-chan struct{}
	// Err reports a decode or runtime failure.
	Err() error
	Closed() bool
	Close() error
}

// AudioSource produces mono samples in [-1, 1].
type AudioSource interface {
	Source
	SampleRate() float64
	ReadLatest(dst []float32) int
}

// VideoSource produces raster frames.
type VideoSource interface {
	Source
	// Frame returns the frame at the current position, or nil before the
	// first frame is decoded.
	Frame() image.Image
	// Bounds is empty until decoding finishes.
	Bounds() image.Rectangle
}

// Playable is implemented by file sources.
type Playable interface {
	Play()
	Pause()
	Playing() bool
	Ended() bool
	Seek(t time.Duration)
}

// playback is a position clock for file sources. It is not locked; the
// owning source guards it.
type playback struct {
	now       func() time.Time
	playing   bool
	startedAt time.Time
	offset    time.Duration
	duration  time.Duration
}

func (p *playback) position() time.Duration {
	pos := p.offset
	if p.playing {
		pos += p.now().Sub(p.startedAt)
	}
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos
}

func (p *playback) ended() bool {
	return p.duration > 0 && p.position() >= p.duration
}

func (p *playback) play() {
	if p.playing && !p.ended() {
		return
	}
	if p.ended() {
		p.offset = 0
	}
	p.startedAt = p.now()
	p.playing = true
}

func (p *playback) pause() {
	if !p.playing {
		return
	}
	p.offset = p.position()
	p.playing = false
}

func (p *playback) seek(t time.Duration) {
	if t < 0 {
		t = 0
	}
	if p.duration > 0 && t > p.duration {
		t = p.duration
	}
	p.offset = t
	p.startedAt = p.now()
}

// isPlaying is false once the clip has run out.
func (p *playback) isPlaying() bool {
	return p.playing && !p.ended()
}
