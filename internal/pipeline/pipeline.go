// Package pipeline coordinates a media source, its analysis or keying stage
// and the render loop that consumes them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/guidoenr/scopekit/internal/analyzer"
	"github.com/guidoenr/scopekit/internal/chroma"
	"github.com/guidoenr/scopekit/internal/loop"
	"github.com/guidoenr/scopekit/internal/media"
	"github.com/guidoenr/scopekit/internal/params"
	"github.com/guidoenr/scopekit/internal/render"
	"github.com/rs/zerolog"
)

var (
	ErrClosed   = errors.New("pipeline closed")
	ErrNoSource = errors.New("no media source loaded")
)

// Frame is the output of one render-loop tick. Canvas is reused by the next
// tick, so sinks must finish with it before returning.
type Frame struct {
	Index uint64
	At    time.Time
	Kind  media.Kind
	// Spectrum holds the analyzer bytes for audio sources; nil for video.
	Spectrum []byte
	Canvas   *image.NRGBA
	// Keyed counts the transparent pixels of a keyed video frame.
	Keyed int
}

// FrameSink consumes frames on the pipeline goroutine.
type FrameSink interface {
	Present(f Frame) error
}

// SinkFunc adapts a function to FrameSink.
type SinkFunc func(f Frame) error

func (fn SinkFunc) Present(f Frame) error { return fn(f) }

// Reporter receives acquisition and decode errors meant for the user.
type Reporter func(err error)

// Config wires a Coordinator.
type Config struct {
	Acquirer  *media.Acquirer
	Analyzer  *analyzer.Node
	Scheduler loop.Scheduler
	// Width and Height size the spectrum canvas.
	Width    int
	Height   int
	Settings params.Settings
	Sinks    []FrameSink
	Report   Reporter
	Log      zerolog.Logger
}

// Coordinator owns the active source and the render loop. It enforces a
// single producer and releases every handle through one idempotent path.
// All methods must be called from the goroutine that flushes the scheduler.
type Coordinator struct {
	acq     *media.Acquirer
	node    *analyzer.Node
	painter *render.Painter
	keyer   chroma.Keyer
	driver  *loop.Driver
	sinks   []FrameSink
	report  Reporter
	log     zerolog.Logger

	settings params.Settings
	source   media.Source
	frames   uint64
	closed   bool
}

// New builds an idle coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Acquirer == nil {
		return nil, errors.New("pipeline: acquirer is required")
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("pipeline: scheduler is required")
	}
	node := cfg.Analyzer
	if node == nil {
		var err error
		node, err = analyzer.New(analyzer.DefaultConfig())
		if err != nil {
			return nil, err
		}
	}
	painter, err := render.NewPainter(cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	settings := cfg.Settings
	if settings.Render.Mode == "" {
		settings = params.Defaults()
	}
	if err := node.SetSmoothing(settings.Smoothing); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	c := &Coordinator{
		acq:      cfg.Acquirer,
		node:     node,
		painter:  painter,
		sinks:    cfg.Sinks,
		report:   cfg.Report,
		log:      cfg.Log,
		settings: settings,
	}
	c.driver, err = loop.NewDriver(loop.Config{
		Scheduler: cfg.Scheduler,
		Tick:      c.tick,
		Release:   c.release,
		Log:       cfg.Log,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// State returns the render loop state.
func (c *Coordinator) State() loop.State { return c.driver.State() }

// Source returns the attached source, or nil.
func (c *Coordinator) Source() media.Source { return c.source }

// Settings returns a copy of the live settings.
func (c *Coordinator) Settings() params.Settings { return c.settings }

// Frames returns the number of frames handed to sinks.
func (c *Coordinator) Frames() uint64 { return c.frames }

// AddSink registers another frame consumer.
func (c *Coordinator) AddSink(s FrameSink) { c.sinks = append(c.sinks, s) }

// Resize changes the spectrum canvas.
func (c *Coordinator) Resize(width, height int) error {
	return c.painter.Resize(width, height)
}

// Tick runs one frame synchronously. Hosts normally flush the scheduler
// instead; this is the direct entry point.
func (c *Coordinator) Tick(now time.Time) error {
	if c.closed {
		return ErrClosed
	}
	return c.driver.Tick(now)
}

// OpenFile loads a media file and attaches it, replacing the current source.
// Content that cannot be recognised is reported and leaves the pipeline as it
// was. The loop does not start until Play.
func (c *Coordinator) OpenFile(name string, r io.Reader) error {
	if c.closed {
		return ErrClosed
	}
	src, err := c.acq.OpenFile(name, r)
	if err != nil {
		c.fail(err)
		return err
	}
	c.endSession()
	c.attach(src)
	return nil
}

// CheckSource reports a decode failure of the attached source and releases
// it. Hosts call it when the source's Loaded channel closes; a running loop
// also notices the failure on its next tick.
func (c *Coordinator) CheckSource() error {
	if c.closed {
		return ErrClosed
	}
	if c.source == nil {
		return nil
	}
	err := c.source.Err()
	if err == nil {
		return nil
	}
	err = fmt.Errorf("%s: %w", c.source.Name(), err)
	c.fail(err)
	c.endSession()
	return err
}

// Play starts or resumes file playback and the render loop.
func (c *Coordinator) Play() error {
	if c.closed {
		return ErrClosed
	}
	if c.source == nil {
		return ErrNoSource
	}
	if p, ok := c.source.(media.Playable); ok {
		p.Play()
	}
	c.driver.Start()
	return nil
}

// Pause halts playback and the loop without releasing anything.
func (c *Coordinator) Pause() error {
	if c.closed {
		return ErrClosed
	}
	if p, ok := c.source.(media.Playable); ok {
		p.Pause()
	}
	c.driver.Pause()
	return nil
}

// TogglePlay flips between Play and Pause.
func (c *Coordinator) TogglePlay() error {
	if c.driver.State() == loop.Running {
		return c.Pause()
	}
	return c.Play()
}

// StartMicrophone swaps the current source for live capture and starts the
// loop. On failure the error is reported and no device handle stays open.
func (c *Coordinator) StartMicrophone(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	src, err := c.acq.OpenMicrophone(ctx)
	// the acquirer has already closed the previous source either way
	c.endSession()
	if err != nil {
		c.fail(err)
		return err
	}
	c.attach(src)
	c.driver.Start()
	return nil
}

// StopMicrophone stops the pipeline when live capture is attached.
func (c *Coordinator) StopMicrophone() error {
	if c.closed {
		return ErrClosed
	}
	if c.source == nil || c.source.Kind() != media.LiveMicrophone {
		return nil
	}
	c.Stop()
	return nil
}

// Stop cancels the loop and releases the source. Safe to call repeatedly.
func (c *Coordinator) Stop() {
	c.endSession()
}

// Close stops everything. Every later call fails with ErrClosed and no
// scheduled callback fires afterwards.
func (c *Coordinator) Close() error {
	if c.closed {
		return nil
	}
	c.Stop()
	c.closed = true
	return c.acq.Close(c.acq.Active())
}

// SetSmoothing takes effect from the next tick.
func (c *Coordinator) SetSmoothing(v float64) error {
	if c.closed {
		return ErrClosed
	}
	if err := analyzer.ValidateSmoothing(v); err != nil {
		return err
	}
	c.settings.Smoothing = v
	return nil
}

func (c *Coordinator) SetMode(m params.Mode) error {
	if c.closed {
		return ErrClosed
	}
	if m != params.ModeBars && m != params.ModeWaveform {
		return fmt.Errorf("unknown visualization mode %q", m)
	}
	c.settings.Render.Mode = m
	return nil
}

func (c *Coordinator) SetTheme(name string) error {
	if c.closed {
		return ErrClosed
	}
	t, err := render.LookupTheme(name)
	if err != nil {
		return err
	}
	c.settings.Render.Theme = t.Name
	return nil
}

func (c *Coordinator) SetZoom(z float64) error {
	if c.closed {
		return ErrClosed
	}
	c.settings.Render.Zoom = params.ClampZoom(z)
	return nil
}

func (c *Coordinator) SetChroma(s chroma.Settings) error {
	if c.closed {
		return ErrClosed
	}
	if err := s.Validate(); err != nil {
		return err
	}
	c.settings.Chroma = s
	return nil
}

// Update applies fn to the live settings and validates the result. An
// invalid result is discarded.
func (c *Coordinator) Update(fn func(s *params.Settings)) error {
	if c.closed {
		return ErrClosed
	}
	next := c.settings
	fn(&next)
	if err := analyzer.ValidateSmoothing(next.Smoothing); err != nil {
		return err
	}
	if err := next.Chroma.Validate(); err != nil {
		return err
	}
	if _, err := render.LookupTheme(next.Render.Theme); err != nil {
		return err
	}
	next.Render.Zoom = params.ClampZoom(next.Render.Zoom)
	c.settings = next
	return nil
}

func (c *Coordinator) attach(src media.Source) {
	c.source = src
	if a, ok := src.(media.AudioSource); ok {
		c.node.Attach(a)
	}
	c.log.Info().Str("source", src.Name()).Str("kind", src.Kind().String()).Msg("source attached")
}

// endSession stops the loop, which runs release when the loop was active,
// and then releases directly for sources that never started.
func (c *Coordinator) endSession() {
	c.driver.Stop()
	c.release()
}

// release is the single exit path for source resources.
func (c *Coordinator) release() {
	c.keyer.Release()
	c.node.Detach()
	if c.source == nil {
		return
	}
	src := c.source
	c.source = nil
	if err := c.acq.Close(src); err != nil {
		c.log.Warn().Err(err).Str("source", src.Name()).Msg("release source")
	}
	c.log.Debug().Str("source", src.Name()).Msg("source released")
}

func (c *Coordinator) fail(err error) {
	c.log.Error().Err(err).Msg("pipeline error")
	if c.report != nil {
		c.report(err)
	}
}

func (c *Coordinator) tick(now time.Time) error {
	src := c.source
	if src == nil {
		return ErrNoSource
	}
	if err := src.Err(); err != nil {
		c.fail(fmt.Errorf("%s: %w", src.Name(), err))
		c.driver.Stop()
		return nil
	}

	s := &c.settings
	switch v := src.(type) {
	case media.VideoSource:
		return c.tickVideo(now, v, s)
	case media.AudioSource:
		return c.tickAudio(now, v, s)
	default:
		return fmt.Errorf("source %s has no frames", src.Name())
	}
}

func (c *Coordinator) tickAudio(now time.Time, src media.AudioSource, s *params.Settings) error {
	if c.node.Smoothing() != s.Smoothing {
		if err := c.node.SetSmoothing(s.Smoothing); err != nil {
			return err
		}
	}

	var data []byte
	if s.Render.Mode == params.ModeWaveform {
		data = c.node.TimeDomainFrame(nil)
	} else {
		data = c.node.FrequencyFrame(nil)
	}
	canvas, err := c.painter.Paint(data, s.Render)
	if err != nil {
		return err
	}
	err = c.emit(Frame{At: now, Kind: src.Kind(), Spectrum: data, Canvas: canvas})

	if p, ok := src.(media.Playable); ok && p.Ended() {
		c.log.Debug().Str("source", src.Name()).Msg("playback ended")
		c.driver.Pause()
	}
	return err
}

func (c *Coordinator) tickVideo(now time.Time, src media.VideoSource, s *params.Settings) error {
	if p, ok := src.(media.Playable); ok && !p.Playing() {
		// no per-frame work while the clip is paused or finished
		c.keyer.Release()
		c.driver.Pause()
		return nil
	}
	frame := src.Frame()
	if frame == nil {
		return nil
	}
	keyed, n := c.keyer.ProcessFrame(frame, s.Chroma)
	return c.emit(Frame{At: now, Kind: src.Kind(), Canvas: keyed, Keyed: n})
}

func (c *Coordinator) emit(f Frame) error {
	c.frames++
	f.Index = c.frames
	var errs []error
	for _, sink := range c.sinks {
		if err := sink.Present(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
