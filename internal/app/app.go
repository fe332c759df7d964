// Package app runs a pipeline on a single goroutine: it flushes the frame
// clock, handles keys and serializes commands from other goroutines.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/guidoenr/scopekit/internal/analyzer"
	"github.com/guidoenr/scopekit/internal/chroma"
	"github.com/guidoenr/scopekit/internal/config"
	"github.com/guidoenr/scopekit/internal/logging"
	"github.com/guidoenr/scopekit/internal/loop"
	"github.com/guidoenr/scopekit/internal/media"
	"github.com/guidoenr/scopekit/internal/params"
	"github.com/guidoenr/scopekit/internal/pipeline"
	"github.com/guidoenr/scopekit/internal/render"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// band levels below this read as silence in the status bar
const levelFloor = 0.02

// ErrStopped is returned by Do once Run has returned.
var ErrStopped = errors.New("app stopped")

// Config configures the application runtime.
type Config struct {
	Runtime config.Config
	// Microphone is nil when live capture is unavailable.
	Microphone media.Microphone
	// Out receives terminal frames; os.Stdout when nil.
	Out io.Writer
	// Keyboard enables the raw-mode key listener.
	Keyboard bool
	// Sinks receive every frame after the built-in display.
	Sinks []pipeline.FrameSink
	Log   zerolog.Logger
}

type command struct {
	fn   func(p *pipeline.Coordinator) error
	resp chan error
}

type keyEvent struct {
	char rune
	key  keyboard.Key
}

// App ties together acquisition, analysis, the render loop and the display.
type App struct {
	cfg      Config
	log      zerolog.Logger
	out      io.Writer
	clock    *loop.FrameClock
	node     *analyzer.Node
	pipe     *pipeline.Coordinator
	terminal *render.Terminal
	window   *render.Window
	prof     *profiler

	commands chan command
	stopped  chan struct{}
	stopOnce sync.Once
	keys     chan keyEvent

	watched media.Source
	loaded  <-chan struct{}

	levels    analyzer.Levels
	lastErr   error
	lastFrame time.Time
	fps       float64
	idle      *image.NRGBA
	dirty     bool
	quit      bool
}

// New constructs the application. The display backend comes from
// Runtime.Display.Backend.
func New(cfg Config) (*App, error) {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	rt := &cfg.Runtime

	node, err := analyzer.New(rt.AnalyzerConfig())
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}

	a := &App{
		cfg:      cfg,
		log:      cfg.Log,
		out:      cfg.Out,
		clock:    loop.NewFrameClock(),
		node:     node,
		commands: make(chan command),
		stopped:  make(chan struct{}),
		prof:     newProfiler(rt.Profile, cfg.Log),
	}

	width, height := rt.Display.Width, rt.Display.Height
	switch rt.Display.Backend {
	case "terminal":
		a.terminal = render.NewTerminal(render.TerminalConfig{
			Out:        cfg.Out,
			UseANSI:    rt.Display.ANSI,
			Palette:    rt.Display.Palette,
			ShowStatus: rt.Display.ShowStatus,
		})
		if cols, rows, ok := a.terminalSize(); ok {
			a.terminal.Resize(cols, rows)
		}
		width, height = a.terminal.PixelSize()
	case "sdl":
		a.window, err = render.NewWindow("scopekit", width, height)
		if err != nil {
			return nil, fmt.Errorf("sdl window: %w", err)
		}
	}

	acq := media.NewAcquirer(media.AcquirerConfig{
		Microphone: cfg.Microphone,
		Log:        logging.Component(cfg.Log, "media"),
	})
	sinks := append([]pipeline.FrameSink{a}, cfg.Sinks...)
	a.pipe, err = pipeline.New(pipeline.Config{
		Acquirer:  acq,
		Analyzer:  node,
		Scheduler: a.clock,
		Width:     width,
		Height:    height,
		Settings:  rt.Settings(),
		Sinks:     sinks,
		Report:    a.report,
		Log:       logging.Component(cfg.Log, "pipeline"),
	})
	if err != nil {
		if a.window != nil {
			_ = a.window.Close()
		}
		return nil, err
	}
	return a, nil
}

// OpenPath loads a media file and starts playing it. Call before Run or
// through Do.
func (a *App) OpenPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := a.pipe.OpenFile(filepath.Base(path), f); err != nil {
		return err
	}
	return a.pipe.Play()
}

// StartMicrophone switches to live capture. Call before Run or through Do.
func (a *App) StartMicrophone(ctx context.Context) error {
	return a.pipe.StartMicrophone(ctx)
}

// Do runs fn on the loop goroutine and returns its error. It blocks until
// Run picks the command up.
func (a *App) Do(ctx context.Context, fn func(p *pipeline.Coordinator) error) error {
	cmd := command{fn: fn, resp: make(chan error, 1)}
	select {
	case a.commands <- cmd:
	case <-a.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the loop until ctx is cancelled, the quit key is pressed or the
// window is closed.
func (a *App) Run(ctx context.Context) error {
	defer a.stopOnce.Do(func() { close(a.stopped) })

	ticker := time.NewTicker(a.cfg.Runtime.FrameInterval())
	defer ticker.Stop()

	if a.terminal != nil {
		if err := a.terminal.Enter(); err != nil {
			return err
		}
		defer a.terminal.Leave()
	}

	inputCtx, cancelInput := context.WithCancel(ctx)
	defer cancelInput()
	if a.cfg.Keyboard {
		a.startInputListener(inputCtx)
	}

	for {
		a.watchSource()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-a.commands:
			cmd.resp <- cmd.fn(a.pipe)
			a.dirty = true
		case ev, ok := <-a.keys:
			if !ok {
				a.keys = nil
				continue
			}
			if a.handleKey(ctx, ev) {
				return nil
			}
		case <-a.loaded:
			a.loaded = nil
			if err := a.pipe.CheckSource(); err == nil && a.watched != nil {
				d, _ := a.watched.Duration()
				a.log.Info().Str("source", a.watched.Name()).Dur("duration", d).Msg("media loaded")
			}
		case now := <-ticker.C:
			a.step(now)
			if a.quit {
				return nil
			}
		}
	}
}

// Close tears down the pipeline and the display.
func (a *App) Close() error {
	errs := []error{a.pipe.Close(), a.prof.Close()}
	if a.window != nil {
		errs = append(errs, a.window.Close())
	}
	return errors.Join(errs...)
}

// Present implements pipeline.FrameSink for the built-in display.
func (a *App) Present(f pipeline.Frame) error {
	if !a.lastFrame.IsZero() {
		if dt := f.At.Sub(a.lastFrame).Seconds(); dt > 0 {
			a.fps = 1 / dt
		}
	}
	a.lastFrame = f.At
	if f.Spectrum != nil && a.pipe.Settings().Render.Mode == params.ModeBars {
		a.levels = analyzer.Gate(a.node.Levels(f.Spectrum), levelFloor)
	}
	a.prof.markSection("tick")

	status := a.status(&f)
	var err error
	if a.terminal != nil {
		err = a.terminal.Present(f.Canvas, status)
	}
	if a.window != nil {
		werr := a.window.Present(f.Canvas, status)
		if errors.Is(werr, render.ErrRendererQuit) {
			a.quit = true
		} else if werr != nil {
			err = errors.Join(err, werr)
		}
	}
	a.prof.markSection("present")
	a.dirty = false
	return err
}

func (a *App) step(now time.Time) {
	a.ensureDimensions()
	a.prof.beginFrame()
	ran := a.clock.Flush(now)
	if ran == 0 && a.dirty {
		a.presentIdle()
	}
	a.prof.endFrame()
}

// presentIdle redraws a blank canvas so status changes show while the loop
// is not running.
func (a *App) presentIdle() {
	a.dirty = false
	if a.terminal == nil {
		return
	}
	w, h := a.terminal.PixelSize()
	if a.idle == nil || a.idle.Rect.Dx() != w || a.idle.Rect.Dy() != h {
		a.idle = image.NewNRGBA(image.Rect(0, 0, w, h))
	}
	if err := a.terminal.Present(a.idle, a.status(nil)); err != nil {
		a.log.Warn().Err(err).Msg("terminal present")
	}
}

func (a *App) watchSource() {
	src := a.pipe.Source()
	if src == a.watched {
		return
	}
	a.watched = src
	a.loaded = nil
	if src != nil {
		a.loaded = src.Loaded()
	}
}

func (a *App) report(err error) {
	a.lastErr = err
	a.dirty = true
}

func (a *App) status(f *pipeline.Frame) string {
	s := a.pipe.Settings()
	parts := make([]string, 0, 8)

	if src := a.pipe.Source(); src != nil {
		parts = append(parts, fmt.Sprintf("%s [%s]", src.Name(), src.Kind()))
	} else {
		parts = append(parts, "no source")
	}
	parts = append(parts, a.pipe.State().String())

	if f != nil && f.Kind == media.FileVideo {
		parts = append(parts,
			fmt.Sprintf("key=%s tol=%.0f", chroma.FormatHexColor(s.Chroma.Key), s.Chroma.Tolerance),
			fmt.Sprintf("keyed=%d", f.Keyed))
	} else {
		parts = append(parts,
			fmt.Sprintf("%s/%s", s.Render.Mode, s.Render.Theme),
			fmt.Sprintf("zoom=%.2f smooth=%.2f", s.Render.Zoom, s.Smoothing))
		if s.Render.Mode == params.ModeBars {
			parts = append(parts, fmt.Sprintf("B%.2f M%.2f T%.2f", a.levels.Bass, a.levels.Mid, a.levels.Treble))
		}
	}
	if f != nil {
		parts = append(parts, fmt.Sprintf("%.0f fps", a.fps))
	}
	if a.lastErr != nil {
		parts = append(parts, "error: "+a.lastErr.Error())
	}
	return strings.Join(parts, " | ")
}

func (a *App) terminalSize() (int, int, bool) {
	f, ok := a.out.(*os.File)
	if !ok {
		return 0, 0, false
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return 0, 0, false
	}
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func (a *App) ensureDimensions() {
	if a.terminal == nil {
		return
	}
	cols, rows, ok := a.terminalSize()
	if !ok {
		return
	}
	if c, r := a.terminal.Size(); c == cols && r == rows {
		return
	}
	a.terminal.Resize(cols, rows)
	if err := a.pipe.Resize(a.terminal.PixelSize()); err != nil {
		a.log.Warn().Err(err).Msg("resize canvas")
	}
	a.dirty = true
}

func (a *App) startInputListener(ctx context.Context) {
	if err := keyboard.Open(); err != nil {
		a.log.Warn().Err(err).Msg("keyboard input disabled")
		a.keys = nil
		return
	}

	events := make(chan keyEvent, 16)
	a.keys = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case events <- keyEvent{char: char, key: key}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// handleKey applies one key press and reports whether the app should quit.
func (a *App) handleKey(ctx context.Context, ev keyEvent) bool {
	var err error
	switch {
	case ev.key == keyboard.KeyEsc || ev.key == keyboard.KeyCtrlC, ev.char == 'q', ev.char == 'Q':
		return true
	case ev.key == keyboard.KeySpace, ev.char == ' ':
		err = a.pipe.TogglePlay()
	case ev.char == 'm', ev.char == 'M':
		err = a.pipe.Update(func(s *params.Settings) { s.Render.Mode = s.Render.Mode.Next() })
	case ev.char == 't', ev.char == 'T':
		err = a.pipe.Update(func(s *params.Settings) { s.Render.Theme = render.NextTheme(s.Render.Theme) })
	case ev.char == '+', ev.char == '=':
		err = a.pipe.Update(func(s *params.Settings) { s.NudgeSmoothing(params.SmoothingStep) })
	case ev.char == '-', ev.char == '_':
		err = a.pipe.Update(func(s *params.Settings) { s.NudgeSmoothing(-params.SmoothingStep) })
	case ev.char == ']':
		err = a.pipe.Update(func(s *params.Settings) { s.NudgeTolerance(params.ToleranceStep) })
	case ev.char == '[':
		err = a.pipe.Update(func(s *params.Settings) { s.NudgeTolerance(-params.ToleranceStep) })
	case ev.char == 'z':
		err = a.pipe.Update(func(s *params.Settings) { s.NudgeZoom(params.ZoomStep) })
	case ev.char == 'Z':
		err = a.pipe.Update(func(s *params.Settings) { s.NudgeZoom(-params.ZoomStep) })
	case ev.char == 'i', ev.char == 'I':
		if src := a.pipe.Source(); src != nil && src.Kind() == media.LiveMicrophone {
			err = a.pipe.StopMicrophone()
		} else {
			err = a.pipe.StartMicrophone(ctx)
		}
	default:
		return false
	}
	if err != nil {
		a.lastErr = err
		a.log.Warn().Err(err).Str("key", string(ev.char)).Msg("key action failed")
	}
	a.dirty = true
	return false
}

