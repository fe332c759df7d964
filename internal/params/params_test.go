package params

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	p := Defaults()
	assert.Equal(t, ModeBars, p.Render.Mode)
	assert.Equal(t, "cyberpunk", p.Render.Theme)
	assert.Equal(t, 0.85, p.Smoothing)
	assert.Equal(t, 100.0, p.Chroma.Tolerance)
}

func TestNudgesStayInBounds(t *testing.T) {
	p := Defaults()
	for i := 0; i < 10; i++ {
		p.NudgeSmoothing(SmoothingStep)
	}
	assert.Equal(t, MaxUISmoothing, p.Smoothing)

	for i := 0; i < 100; i++ {
		p.NudgeTolerance(-ToleranceStep)
	}
	assert.Equal(t, 1.0, p.Chroma.Tolerance)

	assert.Equal(t, MaxZoom, p.NudgeZoom(100))
}

func TestClampZoom(t *testing.T) {
	assert.Equal(t, MinZoom, ClampZoom(0))
	assert.Equal(t, MaxZoom, ClampZoom(math.Inf(1)))
	assert.Equal(t, 1.5, ClampZoom(1.5))
	assert.Equal(t, DefaultZoom, ClampZoom(math.NaN()))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Wave")
	require.NoError(t, err)
	assert.Equal(t, ModeWaveform, m)
	assert.Equal(t, ModeBars, m.Next())

	_, err = ParseMode("spiral")
	assert.Error(t, err)
}
