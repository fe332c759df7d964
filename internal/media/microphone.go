package media

import (
	"context"
	"sync"
	"time"
)

// Microphone opens live capture streams.
type Microphone interface {
	Open(ctx context.Context) (Capture, error)
}

// Capture is an open device stream. Close must release the hardware.
type Capture interface {
	SampleRate() float64
	DeviceName() string
	ReadLatest(dst []float32) int
	Close() error
}

// liveSource adapts a Capture to the Source interface.
type liveSource struct {
	capture Capture
	opened  time.Time
	now     func() time.Time

	mu       sync.Mutex
	closed   bool
	closeErr error
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func newLiveSource(c Capture, now func() time.Time) *liveSource {
	return &liveSource{capture: c, opened: now(), now: now}
}

func (s *liveSource) Kind() Kind   { return LiveMicrophone }
func (s *liveSource) Name() string { return s.capture.DeviceName() }

func (s *liveSource) Duration() (time.Duration, bool) { return 0, false }

func (s *liveSource) Position() time.Duration { return s.now().Sub(s.opened) }

func (s *liveSource) Loaded() <-chan struct{} { return closedChan }

func (s *liveSource) Err() error { return nil }

func (s *liveSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *liveSource) SampleRate() float64 { return s.capture.SampleRate() }

func (s *liveSource) ReadLatest(dst []float32) int {
	if s.Closed() {
		clear(dst)
		return 0
	}
	return s.capture.ReadLatest(dst)
}

// Close stops the device stream once; later calls return the first result.
func (s *liveSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.closeErr = s.capture.Close()
	return s.closeErr
}
