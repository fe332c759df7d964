package media

import (
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var videoTypes = []string{"image/gif", "image/png", "image/jpeg"}

// sniff classifies data by content. The second return is the content type.
func sniff(data []byte) (Kind, string, error) {
	mtype := mimetype.Detect(data)
	if mtype.Is("audio/wav") {
		return FileAudio, "audio/wav", nil
	}
	for _, v := range videoTypes {
		if mtype.Is(v) {
			return FileVideo, v, nil
		}
	}
	return 0, mtype.String(), fmt.Errorf("%w: %s", ErrUnsupportedMedia, mtype.String())
}

// fileSource holds state shared by decoded file sources. The decode
// goroutine and the owner synchronize through mu; loaded is closed once the
// decode result is visible.
type fileSource struct {
	name string
	kind Kind

	mu       sync.Mutex
	err      error
	closed   bool
	decoded  bool
	clock    playback
	loaded   chan struct{}
	loadOnce sync.Once
}

func newFileSource(name string, kind Kind, now func() time.Time) *fileSource {
	return &fileSource{
		name:   name,
		kind:   kind,
		clock:  playback{now: now},
		loaded: make(chan struct{}),
	}
}

func (s *fileSource) Kind() Kind   { return s.kind }
func (s *fileSource) Name() string { return s.name }

func (s *fileSource) Duration() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.duration, s.decoded && s.clock.duration > 0
}

func (s *fileSource) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.position()
}

func (s *fileSource) Loaded() <-chan struct{} { return s.loaded }

func (s *fileSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fileSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fileSource) Play() {
	s.mu.Lock()
	s.clock.play()
	s.mu.Unlock()
}

func (s *fileSource) Pause() {
	s.mu.Lock()
	s.clock.pause()
	s.mu.Unlock()
}

func (s *fileSource) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.isPlaying()
}

func (s *fileSource) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.ended()
}

func (s *fileSource) Seek(t time.Duration) {
	s.mu.Lock()
	s.clock.seek(t)
	s.mu.Unlock()
}

// finish publishes a decode result. Results arriving after Close are dropped.
func (s *fileSource) finish(apply func(), duration time.Duration, err error) {
	s.mu.Lock()
	if !s.closed {
		if err != nil {
			s.err = err
		} else {
			apply()
			s.clock.duration = duration
			s.decoded = true
		}
	}
	s.mu.Unlock()
	s.loadOnce.Do(func() { close(s.loaded) })
}

// audioFile is a decoded WAV clip played against a position clock.
type audioFile struct {
	*fileSource
	pcm        []float32
	sampleRate float64
}

func openAudioFile(name string, data []byte, now func() time.Time) *audioFile {
	src := &audioFile{fileSource: newFileSource(name, FileAudio, now)}
	go func() {
		pcm, rate, err := decodeWAV(data)
		var duration time.Duration
		if err == nil {
			duration = time.Duration(float64(len(pcm)) / rate * float64(time.Second))
		}
		src.finish(func() {
			src.pcm = pcm
			src.sampleRate = rate
		}, duration, err)
	}()
	return src
}

func (s *audioFile) SampleRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

// ReadLatest copies the samples leading up to the playback position. A
// paused, ended or undecoded clip reads as silence.
func (s *audioFile) ReadLatest(dst []float32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pcm == nil || !s.clock.isPlaying() {
		clear(dst)
		return 0
	}
	end := int(s.clock.position().Seconds() * s.sampleRate)
	if end > len(s.pcm) {
		end = len(s.pcm)
	}
	return copyTail(dst, s.pcm, end)
}

func (s *audioFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.clock.pause()
	s.pcm = nil
	return nil
}

// copyTail fills dst with src[end-len(dst):end], zero padding the front.
func copyTail(dst, src []float32, end int) int {
	start := end - len(dst)
	pad := 0
	if start < 0 {
		pad = -start
		start = 0
	}
	clear(dst[:pad])
	return copy(dst[pad:], src[start:end])
}

type videoFrame struct {
	img   *image.NRGBA
	start time.Duration
}

// videoFile is a decoded frame sequence. Still images are a single frame
// with no duration.
type videoFile struct {
	*fileSource
	frames []videoFrame
}

func openVideoFile(name, ctype string, data []byte, now func() time.Time) *videoFile {
	src := &videoFile{fileSource: newFileSource(name, FileVideo, now)}
	go func() {
		frames, duration, err := decodeVideo(ctype, data)
		src.finish(func() { src.frames = frames }, duration, err)
	}()
	return src
}

func (s *videoFile) Frame() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameAt(s.clock.position())
}

// FrameAt returns the frame shown at t.
func (s *videoFile) FrameAt(t time.Duration) image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameAt(t)
}

func (s *videoFile) frameAt(t time.Duration) image.Image {
	if s.closed || len(s.frames) == 0 {
		return nil
	}
	i := sort.Search(len(s.frames), func(i int) bool { return s.frames[i].start > t })
	if i > 0 {
		i--
	}
	return s.frames[i].img
}

// Bounds of the decoded frames, empty before decoding finishes.
func (s *videoFile) Bounds() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return image.Rectangle{}
	}
	return s.frames[0].img.Rect
}

func (s *videoFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.clock.pause()
	s.frames = nil
	return nil
}
