package params

import (
	"fmt"
	"math"
	"strings"

	"github.com/guidoenr/scopekit/internal/analyzer"
	"github.com/guidoenr/scopekit/internal/chroma"
)

// Mode selects the spectrum visualization.
type Mode string

const (
	ModeBars     Mode = "bars"
	ModeWaveform Mode = "waveform"
)

// ParseMode accepts the mode names case-insensitively.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bars", "bar", "":
		return ModeBars, nil
	case "waveform", "wave", "scope":
		return ModeWaveform, nil
	default:
		return "", fmt.Errorf("unknown visualization mode %q", name)
	}
}

// Next cycles bars -> waveform -> bars.
func (m Mode) Next() Mode {
	if m == ModeWaveform {
		return ModeBars
	}
	return ModeWaveform
}

const (
	MinZoom     = 0.25
	MaxZoom     = 4.0
	DefaultZoom = 1.0

	// UI bounds for the smoothing control. The analyzer itself accepts [0, 1].
	MinUISmoothing = 0.1
	MaxUISmoothing = 0.95
	SmoothingStep  = 0.05

	ToleranceStep = 5.0
	ZoomStep      = 0.25
)

// RenderState is the visualization configuration read on every tick.
type RenderState struct {
	Mode  Mode
	Theme string
	Zoom  float64
}

// Settings is every live-tunable value of a pipeline. It is owned by the
// pipeline goroutine and passed by pointer into each tick, so a tick always
// sees the latest write.
type Settings struct {
	Render    RenderState
	Chroma    chroma.Settings
	Smoothing float64
}

// Defaults mirror the reference visualizer: bars, cyberpunk theme, 0.85
// smoothing and a green key at tolerance 100.
func Defaults() Settings {
	return Settings{
		Render: RenderState{
			Mode:  ModeBars,
			Theme: "cyberpunk",
			Zoom:  DefaultZoom,
		},
		Chroma:    chroma.DefaultSettings(),
		Smoothing: analyzer.DefaultSmoothing,
	}
}

// NudgeSmoothing moves smoothing by delta within the UI bounds.
func (s *Settings) NudgeSmoothing(delta float64) float64 {
	s.Smoothing = clampFloat(s.Smoothing+delta, MinUISmoothing, MaxUISmoothing)
	return s.Smoothing
}

// NudgeTolerance moves the chroma tolerance by delta within the UI bounds.
func (s *Settings) NudgeTolerance(delta float64) float64 {
	s.Chroma.Tolerance = clampFloat(s.Chroma.Tolerance+delta, chroma.MinUITolerance, chroma.MaxUITolerance)
	return s.Chroma.Tolerance
}

// NudgeZoom moves zoom by delta within [MinZoom, MaxZoom].
func (s *Settings) NudgeZoom(delta float64) float64 {
	s.Render.Zoom = clampFloat(s.Render.Zoom+delta, MinZoom, MaxZoom)
	return s.Render.Zoom
}

// ClampZoom bounds z to the supported zoom range. NaN resets to DefaultZoom.
func ClampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return DefaultZoom
	}
	return clampFloat(z, MinZoom, MaxZoom)
}

func clampFloat(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
