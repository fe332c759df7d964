package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeCapture struct {
	mic    *fakeMicrophone
	closed bool
}

func (c *fakeCapture) SampleRate() float64 { return 48_000 }
func (c *fakeCapture) DeviceName() string  { return "fake mic" }
func (c *fakeCapture) ReadLatest(dst []float32) int {
	for i := range dst {
		dst[i] = 0.25
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
	err   error
	open  int
	opens int
}

func (m *fakeMicrophone) Open(context.Context) (Capture, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.open++
	m.opens++
	return &fakeCapture{mic: m}, nil
}

func synthWAV(t *testing.T, d time.Duration) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteSyntheticWAV(f, SynthConfig{Duration: d, SampleRate: 8_000, Seed: 1}))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func twoFrameGIF(t *testing.T) []byte {
	t.Helper()
	pal := color.Palette{color.NRGBA{G: 255, A: 255}, color.NRGBA{R: 255, A: 255}}
	frame := func(idx uint8) *image.Paletted {
		img := image.NewPaletted(image.Rect(0, 0, 16, 8), pal)
		for i := range img.Pix {
			img.Pix[i] = idx
		}
		return img
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, &gif.GIF{
		Image: []*image.Paletted{frame(0), frame(1)},
		Delay: []int{50, 50},
	}))
	return buf.Bytes()
}

func waitLoaded(t *testing.T, src Source) {
	t.Helper()
	select {
	case <-src.Loaded():
	case <-time.After(5 * time.Second):
		t.Fatal("source did not finish decoding")
	}
}

func newTestAcquirer(mic Microphone, clock *fakeClock) *Acquirer {
	return NewAcquirer(AcquirerConfig{Microphone: mic, Clock: clock.Now, Log: zerolog.Nop()})
}

func TestOpenWAVDecodesAndPlays(t *testing.T) {
	clock := newFakeClock()
	acq := newTestAcquirer(nil, clock)

	src, err := acq.OpenFile("clip.wav", bytes.NewReader(synthWAV(t, 2*time.Second)))
	require.NoError(t, err)
	waitLoaded(t, src)
	require.NoError(t, src.Err())
	assert.Equal(t, FileAudio, src.Kind())

	d, ok := src.Duration()
	require.True(t, ok)
	assert.InDelta(t, 2*time.Second, d, float64(time.Millisecond))

	audioSrc := src.(AudioSource)
	assert.Equal(t, 8_000.0, audioSrc.SampleRate())

	buf := make([]float32, 512)
	assert.Zero(t, audioSrc.ReadLatest(buf), "paused clip reads silence")

	player := src.(Playable)
	player.Play()
	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 512, audioSrc.ReadLatest(buf))
	nonZero := 0
	for _, v := range buf {
		if v != 0 {
			nonZero++
		}
	}
	assert.Greater(t, nonZero, 400)

	clock.Advance(3 * time.Second)
	assert.True(t, player.Ended())
	assert.False(t, player.Playing())
	assert.Equal(t, d, src.Position())

	player.Play()
	assert.Zero(t, src.Position(), "play after end restarts")
}

func TestOpenFileRejectsUnknownContent(t *testing.T) {
	acq := newTestAcquirer(nil, newFakeClock())
	_, err := acq.OpenFile("notes.txt", bytes.NewReader([]byte("hello, world")))
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
	assert.Nil(t, acq.Active())

	_, err = acq.OpenFile("empty.wav", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestSniffClassifiesContent(t *testing.T) {
	still := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	var pngBuf, jpegBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, still))
	require.NoError(t, jpeg.Encode(&jpegBuf, still, nil))

	tests := []struct {
		name  string
		data  []byte
		kind  Kind
		ctype string
	}{
		{"wav", synthWAV(t, 100*time.Millisecond), FileAudio, "audio/wav"},
		{"gif", twoFrameGIF(t), FileVideo, "image/gif"},
		{"png", pngBuf.Bytes(), FileVideo, "image/png"},
		{"jpeg", jpegBuf.Bytes(), FileVideo, "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ctype, err := sniff(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.ctype, ctype)
		})
	}

	for _, data := range [][]byte{nil, []byte("hello, world"), {0x00, 0x01, 0x02, 0x03}} {
		_, _, err := sniff(data)
		assert.ErrorIs(t, err, ErrUnsupportedMedia)
	}
}

func TestCorruptWAVFailsAsynchronously(t *testing.T) {
	acq := newTestAcquirer(nil, newFakeClock())
	data := append([]byte("RIFF\x24\x00\x00\x00WAVE"), bytes.Repeat([]byte{0xff}, 32)...)

	src, err := acq.OpenFile("broken.wav", bytes.NewReader(data))
	require.NoError(t, err, "the container is recognised, decoding fails later")
	waitLoaded(t, src)
	assert.ErrorIs(t, src.Err(), ErrUnsupportedMedia)
	_, ok := src.Duration()
	assert.False(t, ok)
}

func TestGIFFramesFollowPlayback(t *testing.T) {
	clock := newFakeClock()
	acq := newTestAcquirer(nil, clock)

	src, err := acq.OpenFile("clip.gif", bytes.NewReader(twoFrameGIF(t)))
	require.NoError(t, err)
	waitLoaded(t, src)
	require.NoError(t, src.Err())

	video := src.(VideoSource)
	d, ok := src.Duration()
	require.True(t, ok)
	assert.Equal(t, time.Second, d)

	first := video.Frame().(*image.NRGBA)
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, first.NRGBAAt(0, 0))

	src.(Playable).Play()
	clock.Advance(600 * time.Millisecond)
	second := video.Frame().(*image.NRGBA)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, second.NRGBAAt(3, 3))
}

func TestStillImageHasNoDuration(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	acq := newTestAcquirer(nil, newFakeClock())
	src, err := acq.OpenFile("still.png", &buf)
	require.NoError(t, err)
	waitLoaded(t, src)
	_, ok := src.Duration()
	assert.False(t, ok)
	assert.NotNil(t, src.(VideoSource).Frame())
	assert.False(t, src.(Playable).Ended())
}

func TestOpeningMicrophoneReleasesFileSource(t *testing.T) {
	mic := &fakeMicrophone{}
	acq := newTestAcquirer(mic, newFakeClock())

	file, err := acq.OpenFile("clip.wav", bytes.NewReader(synthWAV(t, time.Second)))
	require.NoError(t, err)
	waitLoaded(t, file)

	live, err := acq.OpenMicrophone(context.Background())
	require.NoError(t, err)

	assert.True(t, file.Closed())
	assert.Same(t, live, acq.Active())
	assert.Equal(t, LiveMicrophone, live.Kind())
	assert.Equal(t, 1, mic.open)

	_, err = acq.OpenFile("clip.wav", bytes.NewReader(synthWAV(t, time.Second)))
	require.NoError(t, err)
	assert.True(t, live.Closed())
	assert.Zero(t, mic.open, "device handle released on swap")
}

func TestMicrophoneErrorsAreClassified(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want error
	}{
		{"denied", ErrPermissionDenied, ErrPermissionDenied},
		{"missing", ErrDeviceUnavailable, ErrDeviceUnavailable},
		{"other", errors.New("alsa exploded"), ErrDeviceUnavailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mic := &fakeMicrophone{err: tc.err}
			acq := newTestAcquirer(mic, newFakeClock())
			src, err := acq.OpenMicrophone(context.Background())
			assert.Nil(t, src)
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, acq.Active())
			assert.Zero(t, mic.open)
		})
	}

	acq := newTestAcquirer(nil, newFakeClock())
	_, err := acq.OpenMicrophone(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestCloseIsIdempotent(t *testing.T) {
	mic := &fakeMicrophone{}
	acq := newTestAcquirer(mic, newFakeClock())
	live, err := acq.OpenMicrophone(context.Background())
	require.NoError(t, err)

	require.NoError(t, acq.Close(live))
	require.NoError(t, acq.Close(live))
	require.NoError(t, acq.Close(nil))
	assert.Zero(t, mic.open)
	assert.Nil(t, acq.Active())

	buf := make([]float32, 8)
	assert.Zero(t, live.(AudioSource).ReadLatest(buf))
}

func TestSampleRingReadLatest(t *testing.T) {
	r := newSampleRing(8)
	dst := make([]float32, 4)

	assert.Zero(t, r.ReadLatest(dst))

	r.Write([]float32{1, 2, 3}, 1)
	assert.Equal(t, 3, r.ReadLatest(dst))
	assert.Equal(t, []float32{0, 1, 2, 3}, dst)

	r.Write([]float32{4, 5, 6, 7, 8, 9, 10}, 1)
	assert.Equal(t, 4, r.ReadLatest(dst))
	assert.Equal(t, []float32{7, 8, 9, 10}, dst)

	r.Write([]float32{1, 3, 5, 7}, 2)
	r.ReadLatest(dst)
	assert.Equal(t, []float32{9, 10, 2, 6}, dst)
}

func TestExtractKeyframes(t *testing.T) {
	acq := newTestAcquirer(nil, newFakeClock())
	src, err := acq.OpenFile("clip.gif", bytes.NewReader(twoFrameGIF(t)))
	require.NoError(t, err)
	waitLoaded(t, src)

	frames, err := ExtractKeyframes(src.(FrameSampler), 4)
	require.NoError(t, err)
	require.Len(t, frames, 4)
	for _, kf := range frames {
		assert.Equal(t, image.Rect(0, 0, 4, 2), kf.Image.Rect)
		assert.Equal(t, []byte{0xff, 0xd8}, kf.JPEG[:2])
		assert.Less(t, kf.At, time.Second)
	}
}

func TestRankDevicesPrefersMicrophones(t *testing.T) {
	best, ok := rankDevices([]scoredDevice{
		{name: "Monitor of Built-in Audio", index: 1, inputs: 2},
		{name: "USB Mic", index: 2, inputs: 1},
		{name: "pulse", index: 3, inputs: 32, isDefault: true},
	})
	require.True(t, ok)
	assert.Equal(t, 3, best.index)

	best, ok = rankDevices([]scoredDevice{
		{name: "Monitor of Built-in Audio", index: 1, inputs: 2},
		{name: "USB Mic", index: 2, inputs: 1},
	})
	require.True(t, ok)
	assert.Equal(t, 2, best.index)

	_, ok = rankDevices(nil)
	assert.False(t, ok)
}
