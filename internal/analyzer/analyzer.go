package analyzer

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	DefaultFFTSize     = 2048
	DefaultSmoothing   = 0.85
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0

	minFFTSize = 32
	maxFFTSize = 32768
)

var (
	ErrFFTSize        = errors.New("fft size must be a power of two between 32 and 32768")
	ErrSmoothingRange = errors.New("smoothing must be within [0, 1]")
	ErrDecibelRange   = errors.New("min decibels must be below max decibels")
)

// Source feeds mono samples to a Node.
type Source interface {
	// ReadLatest fills dst with the most recent samples, oldest first, and
	// returns how many were available. Missing samples are zero.
	ReadLatest(dst []float32) int
	SampleRate() float64
}

// Config controls Node behavior. A zero FFTSize or decibel range selects the
// default; Smoothing is always taken as given.
type Config struct {
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

// DefaultConfig returns a 2048-point window with 0.85 smoothing.
func DefaultConfig() Config {
	return Config{
		FFTSize:     DefaultFFTSize,
		Smoothing:   DefaultSmoothing,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
	}
}

// Node is a spectral analysis stage. It is created once and survives source
// swaps; only its input changes. A Node is not safe for concurrent use.
type Node struct {
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64

	source Source

	samples  []float32
	buffer   []complex128
	window   []float64
	smoothed []float64
}

// New creates a Node.
func New(cfg Config) (*Node, error) {
	if cfg.FFTSize == 0 {
		cfg.FFTSize = DefaultFFTSize
	}
	if !isPow2(cfg.FFTSize) || cfg.FFTSize < minFFTSize || cfg.FFTSize > maxFFTSize {
		return nil, fmt.Errorf("%w: got %d (nearest %d)", ErrFFTSize, cfg.FFTSize, nextPow2(cfg.FFTSize))
	}
	if err := ValidateSmoothing(cfg.Smoothing); err != nil {
		return nil, err
	}
	if cfg.MinDecibels == 0 && cfg.MaxDecibels == 0 {
		cfg.MinDecibels = DefaultMinDecibels
		cfg.MaxDecibels = DefaultMaxDecibels
	}
	if cfg.MinDecibels >= cfg.MaxDecibels {
		return nil, ErrDecibelRange
	}

	n := &Node{
		fftSize:   cfg.FFTSize,
		smoothing: cfg.Smoothing,
		minDB:     cfg.MinDecibels,
		maxDB:     cfg.MaxDecibels,
	}
	n.ensureWorkspace()
	return n, nil
}

// ValidateSmoothing reports whether v is a usable smoothing constant.
func ValidateSmoothing(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %v", ErrSmoothingRange, v)
	}
	return nil
}

// FFTSize returns the transform window size.
func (n *Node) FFTSize() int { return n.fftSize }

// BinCount returns FFTSize/2.
func (n *Node) BinCount() int { return n.fftSize / 2 }

// Smoothing returns the current smoothing time constant.
func (n *Node) Smoothing() float64 { return n.smoothing }

// SetSmoothing changes the smoothing time constant for subsequent frames.
func (n *Node) SetSmoothing(v float64) error {
	if err := ValidateSmoothing(v); err != nil {
		return err
	}
	n.smoothing = v
	return nil
}

// Attach connects src, replacing any previous input.
func (n *Node) Attach(src Source) {
	if n.source != src {
		n.resetSmoothing()
	}
	n.source = src
}

// Detach severs the input. Reads return silence until the next Attach.
func (n *Node) Detach() {
	n.source = nil
	n.resetSmoothing()
}

// Attached reports whether a source is connected.
func (n *Node) Attached() bool { return n.source != nil }

// SampleRate of the attached source, or 44.1 kHz when detached.
func (n *Node) SampleRate() float64 {
	if n.source == nil {
		return 44_100
	}
	if sr := n.source.SampleRate(); sr > 0 {
		return sr
	}
	return 44_100
}

// FrequencyFrame writes BinCount magnitude bytes into dst, growing it if
// needed, and returns it. Magnitudes are blended with the previous frame by
// the smoothing constant, converted to decibels and scaled so that
// [MinDecibels, MaxDecibels] covers 0..255.
func (n *Node) FrequencyFrame(dst []byte) []byte {
	bins := n.BinCount()
	dst = sized(dst, bins)
	if n.source == nil {
		clear(dst)
		return dst
	}

	n.source.ReadLatest(n.samples)
	for i, s := range n.samples {
		n.buffer[i] = complex(float64(s)*n.window[i], 0)
	}
	spectrum := fft.FFT(n.buffer)

	tau := n.smoothing
	scale := 255.0 / (n.maxDB - n.minDB)
	norm := 1.0 / float64(n.fftSize)
	for k := 0; k < bins; k++ {
		mag := cmag(spectrum[k]) * norm
		n.smoothed[k] = tau*n.smoothed[k] + (1-tau)*mag
		if n.smoothed[k] <= 0 {
			dst[k] = 0
			continue
		}
		db := 20 * math.Log10(n.smoothed[k])
		dst[k] = byte(clamp(scale*(db-n.minDB), 0, 255))
	}
	return dst
}

// TimeDomainFrame writes BinCount waveform bytes into dst, centred at 128.
// The bytes cover the oldest BinCount samples of the current window.
func (n *Node) TimeDomainFrame(dst []byte) []byte {
	bins := n.BinCount()
	dst = sized(dst, bins)
	if n.source == nil {
		clear(dst)
		return dst
	}
	n.source.ReadLatest(n.samples)
	for i := 0; i < bins; i++ {
		dst[i] = byte(clamp(128*(1+float64(n.samples[i])), 0, 255))
	}
	return dst
}

func (n *Node) ensureWorkspace() {
	size := n.fftSize
	if len(n.buffer) != size {
		n.buffer = make([]complex128, size)
		n.samples = make([]float32, size)
		n.window = window.Blackman(size)
		n.smoothed = make([]float64, size/2)
	}
}

func (n *Node) resetSmoothing() {
	clear(n.smoothed)
}

func sized(dst []byte, n int) []byte {
	if cap(dst) < n {
		return make([]byte, n)
	}
	return dst[:n]
}

func cmag(c complex128) float64 {
	return math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
