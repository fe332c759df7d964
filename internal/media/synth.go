package media

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SynthConfig describes a generated test clip: three drifting tones in the
// bass, mid and treble bands plus a little noise.
type SynthConfig struct {
	Duration   time.Duration
	SampleRate int
	Seed       int64
}

// Synthesize renders a mono clip in [-1, 1].
func Synthesize(cfg SynthConfig) []float32 {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44_100
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 2 * time.Second
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	n := int(cfg.Duration.Seconds() * float64(cfg.SampleRate))
	out := make([]float32, n)
	rate := float64(cfg.SampleRate)
	var phaseBass, phaseMid, phaseHigh float64
	for i := range out {
		t := float64(i) / rate
		// slow sweeps keep the spectrum moving
		bassHz := 60 + 30*math.Sin(t*0.7)
		midHz := 660 + 220*math.Sin(t*1.2+0.5)
		highHz := 4200 + 1200*math.Sin(t*2.1+1.0)
		phaseBass += 2 * math.Pi * bassHz / rate
		phaseMid += 2 * math.Pi * midHz / rate
		phaseHigh += 2 * math.Pi * highHz / rate

		v := 0.45*math.Sin(phaseBass) + 0.25*math.Sin(phaseMid) + 0.12*math.Sin(phaseHigh)
		v += (rng.Float64()*2 - 1) * 0.03
		out[i] = float32(clamp01(v*0.5+0.5)*2 - 1)
	}
	return out
}

// WriteWAV encodes mono samples as 16-bit PCM.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	const bitDepth = 16
	enc := wav.NewEncoder(w, sampleRate, bitDepth, 1, 1)
	full := float64(audio.IntMaxSignedValue(bitDepth))
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(float64(s) * full))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}

// WriteSyntheticWAV renders and encodes a synthetic clip.
func WriteSyntheticWAV(w io.WriteSeeker, cfg SynthConfig) error {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44_100
	}
	return WriteWAV(w, Synthesize(cfg), cfg.SampleRate)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
