package analyzer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toneSource struct {
	rate   float64
	freq   float64
	amp    float64
	offset int
}

func (s *toneSource) SampleRate() float64 { return s.rate }

func (s *toneSource) ReadLatest(dst []float32) int {
	for i := range dst {
		t := float64(s.offset+i) / s.rate
		dst[i] = float32(s.amp * math.Sin(2*math.Pi*s.freq*t))
	}
	s.offset += len(dst) / 4
	return len(dst)
}

func newNode(t *testing.T) *Node {
	t.Helper()
	n, err := New(DefaultConfig())
	require.NoError(t, err)
	return n
}

func TestNewValidatesFFTSize(t *testing.T) {
	for _, size := range []int{3, 100, 1000, 16, 65536} {
		_, err := New(Config{FFTSize: size})
		assert.ErrorIs(t, err, ErrFFTSize, "size %d", size)
	}
	n, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, 2048, n.FFTSize())
	assert.Equal(t, 1024, n.BinCount())

	for _, v := range []float64{-0.5, 1.5, math.NaN()} {
		_, err := New(Config{Smoothing: v})
		assert.ErrorIs(t, err, ErrSmoothingRange, "smoothing %v", v)
	}
}

func TestDetachedReadsAreSilent(t *testing.T) {
	n := newNode(t)
	freq := n.FrequencyFrame(nil)
	wave := n.TimeDomainFrame(nil)
	require.Len(t, freq, 1024)
	require.Len(t, wave, 1024)
	for i := range freq {
		require.Zero(t, freq[i])
		require.Zero(t, wave[i])
	}
}

func TestToneProducesPeakNearItsBin(t *testing.T) {
	n := newNode(t)
	require.NoError(t, n.SetSmoothing(0))
	n.Attach(&toneSource{rate: 44_100, freq: 1_000, amp: 0.8})

	frame := n.FrequencyFrame(nil)

	peak := 0
	for i, v := range frame {
		if v > frame[peak] {
			peak = i
		}
	}
	want := int(math.Round(1_000 / (44_100.0 / 2048)))
	assert.InDelta(t, want, peak, 1)
	assert.Greater(t, frame[peak], byte(200))
}

func TestTimeDomainCenteredAt128(t *testing.T) {
	n := newNode(t)
	n.Attach(&toneSource{rate: 44_100, freq: 440, amp: 0.5})
	wave := n.TimeDomainFrame(nil)
	lo, hi := byte(255), byte(0)
	for _, v := range wave {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	assert.InDelta(t, 64, int(lo), 2)
	assert.InDelta(t, 192, int(hi), 2)
}

func TestSmoothingChangeIsNotRetroactive(t *testing.T) {
	for _, next := range []float64{0, 0.1, 0.5, 0.85, 1} {
		n := newNode(t)
		n.Attach(&toneSource{rate: 44_100, freq: 2_000, amp: 0.6})

		before := n.FrequencyFrame(make([]byte, n.BinCount()))
		snapshot := append([]byte(nil), before...)

		require.NoError(t, n.SetSmoothing(next))
		after := n.FrequencyFrame(make([]byte, n.BinCount()))

		assert.Equal(t, snapshot, before, "smoothing %.2f rewrote an emitted frame", next)
		assert.Len(t, after, n.BinCount())
	}
}

func TestFullSmoothingFreezesSpectrum(t *testing.T) {
	n := newNode(t)
	require.NoError(t, n.SetSmoothing(0))
	src := &toneSource{rate: 44_100, freq: 3_000, amp: 0.6}
	n.Attach(src)
	first := n.FrequencyFrame(nil)

	require.NoError(t, n.SetSmoothing(1))
	src.freq = 500
	second := n.FrequencyFrame(nil)
	assert.Equal(t, first, second)
}

func TestSetSmoothingRange(t *testing.T) {
	n := newNode(t)
	assert.ErrorIs(t, n.SetSmoothing(-0.1), ErrSmoothingRange)
	assert.ErrorIs(t, n.SetSmoothing(1.1), ErrSmoothingRange)
	assert.ErrorIs(t, n.SetSmoothing(math.NaN()), ErrSmoothingRange)
	assert.Equal(t, DefaultSmoothing, n.Smoothing())
}

func TestBandLevelsAndGate(t *testing.T) {
	frame := make([]byte, 1024)
	for i := 1; i < 12; i++ {
		frame[i] = 255
	}
	l := BandLevels(frame, 44_100, 2048)
	assert.Greater(t, l.Bass, 0.9)
	assert.Zero(t, l.Treble)

	gated := Gate(Levels{Bass: 0.05, Mid: 0.5}, 0.1)
	assert.Zero(t, gated.Bass)
	assert.InDelta(t, 0.444, gated.Mid, 0.001)
}

func TestAverage(t *testing.T) {
	vals := []float64{0.2, 0.4, 0.6, 0.8}
	want := 0.5
	if got := average(vals); math.Abs(got-want) > 1e-6 {
		t.Fatalf("average=%f want=%f", got, want)
	}
}

func TestNextPow2(t *testing.T) {
	cases := map[int]int{
		0:   1,
		1:   1,
		3:   4,
		31:  32,
		257: 512,
	}
	for input, want := range cases {
		if got := nextPow2(input); got != want {
			t.Fatalf("nextPow2(%d)=%d want=%d", input, got, want)
		}
	}
}

func TestClamp(t *testing.T) {
	if clamp(2, 0, 1) != 1 {
		t.Fatalf("expected clamp high to be 1")
	}
	if clamp(-1, 0, 1) != 0 {
		t.Fatalf("expected clamp low to be 0")
	}
}
