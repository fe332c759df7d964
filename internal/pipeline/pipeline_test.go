package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guidoenr/scopekit/internal/analyzer"
	"github.com/guidoenr/scopekit/internal/chroma"
	"github.com/guidoenr/scopekit/internal/loop"
	"github.com/guidoenr/scopekit/internal/media"
	"github.com/guidoenr/scopekit/internal/params"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeCapture struct {
	mic    *fakeMicrophone
	closed bool
}

func (c *fakeCapture) SampleRate() float64 { return 48_000 }
func (c *fakeCapture) DeviceName() string  { return "fake mic" }
func (c *fakeCapture) ReadLatest(dst []float32) int {
	for i := range dst {
		dst[i] = float32(i%64)/32 - 1
	}
	return len(dst)
}
func (c *fakeCapture) Close() error {
	if !c.closed {
		c.closed = true
		c.mic.open--
	}
	return nil
}

type fakeMicrophone struct {
	err  error
	open int
}

func (m *fakeMicrophone) Open(context.Context) (media.Capture, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.open++
	return &fakeCapture{mic: m}, nil
}

type harness struct {
	t        *testing.T
	c        *Coordinator
	sched    *loop.FrameClock
	clock    *fakeClock
	frames   []Frame
	reported []error
}

func newHarness(t *testing.T, mic media.Microphone) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		sched: loop.NewFrameClock(),
		clock: &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	acq := media.NewAcquirer(media.AcquirerConfig{Microphone: mic, Clock: h.clock.Now, Log: zerolog.Nop()})
	c, err := New(Config{
		Acquirer:  acq,
		Scheduler: h.sched,
		Width:     64,
		Height:    32,
		Settings:  params.Defaults(),
		Sinks: []FrameSink{SinkFunc(func(f Frame) error {
			h.frames = append(h.frames, f)
			return nil
		})},
		Report: func(err error) { h.reported = append(h.reported, err) },
		Log:    zerolog.Nop(),
	})
	require.NoError(t, err)
	h.c = c
	return h
}

// run flushes n display refreshes, 16ms apart.
func (h *harness) run(n int) {
	for i := 0; i < n; i++ {
		h.clock.Advance(16 * time.Millisecond)
		h.sched.Flush(h.clock.Now())
	}
}

func (h *harness) waitLoaded() {
	h.t.Helper()
	select {
	case <-h.c.Source().Loaded():
	case <-time.After(5 * time.Second):
		h.t.Fatal("source did not finish decoding")
	}
}

func synthWAV(t *testing.T, d time.Duration) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, media.WriteSyntheticWAV(f, media.SynthConfig{Duration: d, SampleRate: 8_000, Seed: 7}))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func greenGIF(t *testing.T) []byte {
	t.Helper()
	pal := color.Palette{color.NRGBA{G: 255, A: 255}, color.NRGBA{R: 255, A: 255}}
	img := image.NewPaletted(image.Rect(0, 0, 16, 8), pal)
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, &gif.GIF{Image: []*image.Paletted{img}, Delay: []int{50}}))
	return buf.Bytes()
}

func TestAudioClipProducesFrames(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.OpenFile("clip.wav", bytes.NewReader(synthWAV(t, 2*time.Second))))
	h.waitLoaded()
	require.NoError(t, h.c.Play())
	assert.Equal(t, loop.Running, h.c.State())

	h.run(10)

	require.Len(t, h.frames, 10)
	for i, f := range h.frames {
		assert.Equal(t, uint64(i+1), f.Index, "frames arrive in tick order")
		assert.Len(t, f.Spectrum, 1024)
		assert.Equal(t, media.FileAudio, f.Kind)
		require.NotNil(t, f.Canvas)
		assert.Equal(t, image.Rect(0, 0, 64, 32), f.Canvas.Rect)
	}
	var peak byte
	for _, v := range h.frames[9].Spectrum {
		peak = max(peak, v)
	}
	assert.Greater(t, peak, byte(0), "a playing tone is not silent")
	assert.Empty(t, h.reported)
}

func TestFrameSequenceIsStrictlyMonotonic(t *testing.T) {
	h := newHarness(t, &fakeMicrophone{})
	require.NoError(t, h.c.StartMicrophone(context.Background()))

	h.run(25)
	require.NoError(t, h.c.Pause())
	h.run(5)
	require.NoError(t, h.c.Play())
	h.run(5)

	require.Len(t, h.frames, 30)
	for i := 1; i < len(h.frames); i++ {
		assert.Equal(t, h.frames[i-1].Index+1, h.frames[i].Index)
		assert.True(t, h.frames[i].At.After(h.frames[i-1].At))
	}
}

func TestWaveformModeReadsTimeDomain(t *testing.T) {
	h := newHarness(t, &fakeMicrophone{})
	require.NoError(t, h.c.SetMode(params.ModeWaveform))
	require.NoError(t, h.c.StartMicrophone(context.Background()))
	h.run(1)

	require.Len(t, h.frames, 1)
	spectrum := h.frames[0].Spectrum
	require.Len(t, spectrum, 1024)
	assert.Equal(t, byte(0), spectrum[0], "-1.0 maps to the bottom")
	assert.Equal(t, byte(128), spectrum[32])
}

func TestMicrophoneDenialLeavesPipelineIdle(t *testing.T) {
	mic := &fakeMicrophone{err: media.ErrPermissionDenied}
	h := newHarness(t, mic)

	err := h.c.StartMicrophone(context.Background())
	assert.ErrorIs(t, err, media.ErrPermissionDenied)
	assert.Equal(t, loop.Idle, h.c.State())
	require.Len(t, h.reported, 1)
	assert.ErrorIs(t, h.reported[0], media.ErrPermissionDenied)
	assert.Zero(t, mic.open)
	assert.Nil(t, h.c.Source())
	assert.Zero(t, h.sched.Pending())
}

func TestStopIsIdempotent(t *testing.T) {
	mic := &fakeMicrophone{}
	h := newHarness(t, mic)
	require.NoError(t, h.c.StartMicrophone(context.Background()))
	h.run(2)

	h.c.Stop()
	assert.Equal(t, loop.Stopped, h.c.State())
	assert.Zero(t, mic.open)

	h.c.Stop()
	assert.Equal(t, loop.Stopped, h.c.State())
	assert.Zero(t, mic.open)
	assert.Nil(t, h.c.Source())

	h.run(3)
	assert.Len(t, h.frames, 2, "no ticks after stop")
}

func TestOneProducerAtATime(t *testing.T) {
	mic := &fakeMicrophone{}
	h := newHarness(t, mic)

	require.NoError(t, h.c.OpenFile("clip.wav", bytes.NewReader(synthWAV(t, time.Second))))
	file := h.c.Source()
	require.NoError(t, h.c.Play())
	h.run(2)

	require.NoError(t, h.c.StartMicrophone(context.Background()))
	assert.True(t, file.Closed(), "file handle released")
	assert.Equal(t, media.LiveMicrophone, h.c.Source().Kind())
	assert.Equal(t, 1, mic.open)
	assert.Equal(t, loop.Running, h.c.State())

	require.NoError(t, h.c.OpenFile("clip.wav", bytes.NewReader(synthWAV(t, time.Second))))
	assert.Zero(t, mic.open, "device lock released on swap")
	assert.Equal(t, media.FileAudio, h.c.Source().Kind())
	assert.NotEqual(t, loop.Running, h.c.State(), "a new file waits for Play")
}

func TestUnsupportedFileKeepsCurrentSource(t *testing.T) {
	mic := &fakeMicrophone{}
	h := newHarness(t, mic)
	require.NoError(t, h.c.StartMicrophone(context.Background()))

	err := h.c.OpenFile("notes.txt", bytes.NewReader([]byte("just text")))
	assert.ErrorIs(t, err, media.ErrUnsupportedMedia)
	require.Len(t, h.reported, 1)
	assert.Equal(t, loop.Running, h.c.State())
	assert.Equal(t, 1, mic.open)
}

func corruptWAV() []byte {
	return append([]byte("RIFF\x24\x00\x00\x00WAVE"), bytes.Repeat([]byte{0xff}, 32)...)
}

func TestDecodeErrorStopsAndReleases(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.OpenFile("broken.wav", bytes.NewReader(corruptWAV())))
	src := h.c.Source()
	h.waitLoaded()
	require.NoError(t, h.c.Play())

	h.run(3)
	assert.Equal(t, loop.Stopped, h.c.State())
	assert.True(t, src.Closed())
	assert.Nil(t, h.c.Source())
	assert.Empty(t, h.frames)
	require.Len(t, h.reported, 1)
	assert.ErrorIs(t, h.reported[0], media.ErrUnsupportedMedia)
	assert.Zero(t, h.sched.Pending())
}

func TestCheckSourceReleasesFailedDecode(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.OpenFile("broken.wav", bytes.NewReader(corruptWAV())))
	src := h.c.Source()
	h.waitLoaded()

	err := h.c.CheckSource()
	assert.ErrorIs(t, err, media.ErrUnsupportedMedia)
	assert.Equal(t, loop.Idle, h.c.State())
	assert.True(t, src.Closed())
	assert.Nil(t, h.c.Source())
	require.Len(t, h.reported, 1)

	assert.NoError(t, h.c.CheckSource(), "nothing left to check")
	assert.ErrorIs(t, h.c.Play(), ErrNoSource)
}

func TestAudioEndPausesLoop(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.OpenFile("short.wav", bytes.NewReader(synthWAV(t, 100*time.Millisecond))))
	h.waitLoaded()
	require.NoError(t, h.c.Play())

	h.run(10)
	assert.Equal(t, loop.Paused, h.c.State())
	assert.NotNil(t, h.c.Source(), "ended clips stay loaded")
	n := len(h.frames)

	require.NoError(t, h.c.TogglePlay())
	assert.Equal(t, loop.Running, h.c.State())
	h.run(1)
	assert.Len(t, h.frames, n+1)
}

func TestVideoFramesAreKeyed(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.OpenFile("green.gif", bytes.NewReader(greenGIF(t))))
	h.waitLoaded()
	require.NoError(t, h.c.Play())

	h.run(1)
	require.Len(t, h.frames, 1)
	f := h.frames[0]
	assert.Equal(t, media.FileVideo, f.Kind)
	assert.Equal(t, 16*8, f.Keyed)
	assert.Nil(t, f.Spectrum)
	assert.True(t, h.c.keyer.Active())

	// tolerance 0 keys nothing
	require.NoError(t, h.c.SetChroma(chroma.Settings{Key: color.NRGBA{G: 255, A: 255}, Tolerance: 0}))
	h.run(1)
	require.Len(t, h.frames, 2)
	assert.Zero(t, h.frames[1].Keyed)

	// the clip lasts 500ms
	h.clock.Advance(time.Second)
	h.run(1)
	assert.Equal(t, loop.Paused, h.c.State())
	assert.False(t, h.c.keyer.Active(), "canvas released when the clip ends")
	assert.Len(t, h.frames, 2)
}

func TestSmoothingAppliesToLaterFrames(t *testing.T) {
	h := newHarness(t, &fakeMicrophone{})
	require.NoError(t, h.c.StartMicrophone(context.Background()))
	h.run(1)
	before := append([]byte(nil), h.frames[0].Spectrum...)

	require.NoError(t, h.c.SetSmoothing(0.2))
	assert.Equal(t, before, h.frames[0].Spectrum, "emitted frames are never rewritten")
	h.run(1)
	assert.Equal(t, 0.2, h.c.node.Smoothing())

	assert.ErrorIs(t, h.c.SetSmoothing(1.5), analyzer.ErrSmoothingRange)
	assert.Equal(t, 0.2, h.c.Settings().Smoothing)
}

func TestSettingsValidation(t *testing.T) {
	h := newHarness(t, nil)
	assert.Error(t, h.c.SetTheme("vaporwave"))
	require.NoError(t, h.c.SetTheme("Retro"))
	assert.Equal(t, "retro", h.c.Settings().Render.Theme)

	require.NoError(t, h.c.SetZoom(100))
	assert.Equal(t, params.MaxZoom, h.c.Settings().Render.Zoom)

	assert.ErrorIs(t, h.c.SetChroma(chroma.Settings{Tolerance: 500}), chroma.ErrToleranceRange)

	err := h.c.Update(func(s *params.Settings) {
		s.Render.Theme = "midnight"
		s.Smoothing = 2
	})
	assert.ErrorIs(t, err, analyzer.ErrSmoothingRange)
	assert.Equal(t, "retro", h.c.Settings().Render.Theme, "rejected updates change nothing")

	assert.ErrorIs(t, h.c.SetSmoothing(math.NaN()), analyzer.ErrSmoothingRange)
	err = h.c.Update(func(s *params.Settings) { s.Smoothing = math.NaN() })
	assert.ErrorIs(t, err, analyzer.ErrSmoothingRange)
	assert.False(t, math.IsNaN(h.c.Settings().Smoothing))

	require.NoError(t, h.c.SetZoom(math.NaN()))
	assert.Equal(t, params.DefaultZoom, h.c.Settings().Render.Zoom)
}

func TestSinkErrorsDoNotStopTheLoop(t *testing.T) {
	h := newHarness(t, &fakeMicrophone{})
	calls := 0
	h.c.AddSink(SinkFunc(func(Frame) error {
		calls++
		if calls == 1 {
			return errors.New("display hiccup")
		}
		panic("display exploded")
	}))
	require.NoError(t, h.c.StartMicrophone(context.Background()))
	h.run(4)

	assert.Equal(t, loop.Running, h.c.State())
	assert.Len(t, h.frames, 4)
	assert.Equal(t, 4, calls)
}

func TestCloseTearsDown(t *testing.T) {
	mic := &fakeMicrophone{}
	h := newHarness(t, mic)
	require.NoError(t, h.c.StartMicrophone(context.Background()))
	h.run(1)

	require.NoError(t, h.c.Close())
	require.NoError(t, h.c.Close())
	assert.Zero(t, mic.open)
	assert.Zero(t, h.sched.Pending())

	h.run(3)
	assert.Len(t, h.frames, 1, "no callbacks after teardown")
	assert.ErrorIs(t, h.c.Play(), ErrClosed)
	assert.ErrorIs(t, h.c.StartMicrophone(context.Background()), ErrClosed)
	assert.ErrorIs(t, h.c.SetSmoothing(0.5), ErrClosed)
	assert.ErrorIs(t, h.c.Tick(time.Now()), ErrClosed)
}
