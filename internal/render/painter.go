package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/guidoenr/scopekit/internal/params"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	ErrEmptyCanvas  = errors.New("canvas has no drawable area")
	ErrRendererQuit = errors.New("renderer quit requested")
)

const (
	barWidthFactor = 2.5
	barGap         = 1.0
	strokeWidth    = 2
	gridColumns    = 10
	gridRows       = 5
	// Labels are skipped on canvases too short to fit a glyph above the axis.
	minLabelHeight = 32
)

// Painter draws analyzer frames onto a reusable RGBA canvas.
type Painter struct {
	canvas *image.NRGBA

	// per-row bar colors, rebuilt when the theme or height changes
	rowColors []color.NRGBA
	rowTheme  string
}

// NewPainter allocates a width x height canvas.
func NewPainter(width, height int) (*Painter, error) {
	p := &Painter{}
	if err := p.Resize(width, height); err != nil {
		return nil, err
	}
	return p, nil
}

// Resize reallocates the canvas when the dimensions change.
func (p *Painter) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrEmptyCanvas, width, height)
	}
	if p.canvas != nil && p.canvas.Rect.Dx() == width && p.canvas.Rect.Dy() == height {
		return nil
	}
	p.canvas = image.NewNRGBA(image.Rect(0, 0, width, height))
	p.rowColors = nil
	return nil
}

// Canvas returns the last painted image. It is overwritten by the next Paint.
func (p *Painter) Canvas() *image.NRGBA { return p.canvas }

// Paint clears the canvas with the theme background, draws the grid and then
// renders data as bars or as a waveform.
func (p *Painter) Paint(data []byte, st params.RenderState) (*image.NRGBA, error) {
	if p.canvas == nil || p.canvas.Rect.Empty() {
		return nil, ErrEmptyCanvas
	}
	theme := themeOrFallback(st.Theme)
	zoom := st.Zoom
	if zoom <= 0 {
		zoom = 1
	}

	p.fill(theme.Background)
	p.drawGrid()
	if len(data) == 0 {
		return p.canvas, nil
	}
	switch st.Mode {
	case params.ModeWaveform:
		p.drawWaveform(data, theme.Stroke, zoom)
	default:
		p.drawBars(data, theme, zoom)
	}
	return p.canvas, nil
}

func (p *Painter) fill(c color.NRGBA) {
	pix := p.canvas.Pix
	row := p.canvas.Rect.Dx() * 4
	for i := 0; i < row; i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = c.R, c.G, c.B, c.A
	}
	for off := p.canvas.Stride; off < len(pix); off += p.canvas.Stride {
		copy(pix[off:off+row], pix[:row])
	}
}

func (p *Painter) drawGrid() {
	w := p.canvas.Rect.Dx()
	h := p.canvas.Rect.Dy()

	for i := 1; i < gridColumns; i++ {
		x := i * w / gridColumns
		for y := 0; y < h; y++ {
			p.canvas.SetNRGBA(x, y, gridColor)
		}
	}
	for i := 1; i < gridRows; i++ {
		y := i * h / gridRows
		for x := 0; x < w; x++ {
			p.canvas.SetNRGBA(x, y, gridColor)
		}
	}

	if h < minLabelHeight {
		return
	}
	d := font.Drawer{
		Dst:  p.canvas,
		Src:  image.NewUniform(labelColor),
		Face: basicfont.Face7x13,
	}
	for i := 1; i < gridColumns; i++ {
		x := i * w / gridColumns
		d.Dot = fixed.P(x+2, h-5)
		d.DrawString(strconv.Itoa(i) + "k")
	}
}

// drawBars fills one column per bin, (w/bins)*2.5 wide with a 1px gap,
// scaled so 255 reaches the top edge at zoom 1. Bars past the right edge
// are clipped.
func (p *Painter) drawBars(data []byte, theme Theme, zoom float64) {
	w := p.canvas.Rect.Dx()
	h := p.canvas.Rect.Dy()
	colors := p.gradientRows(theme, h)

	barWidth := float64(w) / float64(len(data)) * barWidthFactor
	x := 0.0
	for _, v := range data {
		if x >= float64(w) {
			break
		}
		barHeight := float64(v) * float64(h) / 255 * zoom
		x0 := int(math.Round(x))
		x1 := int(math.Round(x + barWidth))
		if x1 <= x0 {
			x1 = x0 + 1
		}
		x1 = min(x1, w)
		top := h - int(math.Round(barHeight))
		if top < 0 {
			top = 0
		}
		for y := top; y < h; y++ {
			c := colors[y]
			off := y*p.canvas.Stride + x0*4
			for px := x0; px < x1; px++ {
				p.canvas.Pix[off], p.canvas.Pix[off+1], p.canvas.Pix[off+2], p.canvas.Pix[off+3] = c.R, c.G, c.B, c.A
				off += 4
			}
		}
		x += barWidth + barGap
	}
}

// gradientRows caches the bottom-to-top gradient color of every row.
func (p *Painter) gradientRows(theme Theme, h int) []color.NRGBA {
	if len(p.rowColors) == h && p.rowTheme == theme.Name {
		return p.rowColors
	}
	rows := make([]color.NRGBA, h)
	for y := range rows {
		rows[y] = theme.At(float64(h-y) / float64(h))
	}
	p.rowColors = rows
	p.rowTheme = theme.Name
	return rows
}

// drawWaveform strokes the time-domain frame. A byte of 128 lies on the
// horizontal center line; zoom scales the distance from it.
func (p *Painter) drawWaveform(data []byte, stroke color.NRGBA, zoom float64) {
	w := float64(p.canvas.Rect.Dx())
	h := float64(p.canvas.Rect.Dy())
	mid := h / 2
	slice := w / float64(len(data))

	x := 0.0
	var px, py float64
	for i, v := range data {
		y := mid + (float64(v)/128.0-1)*mid*zoom
		if i > 0 {
			p.line(px, py, x, y, stroke)
		}
		px, py = x, y
		x += slice
	}
	p.line(px, py, w, mid, stroke)
}

// line draws a strokeWidth-pixel segment with a simple DDA walk.
func (p *Painter) line(x0, y0, x1, y1 float64, c color.NRGBA) {
	dx := x1 - x0
	dy := y1 - y0
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
	if steps == 0 {
		p.dot(x0, y0, c)
		return
	}
	sx := dx / float64(steps)
	sy := dy / float64(steps)
	for i := 0; i <= steps; i++ {
		p.dot(x0+sx*float64(i), y0+sy*float64(i), c)
	}
}

func (p *Painter) dot(x, y float64, c color.NRGBA) {
	cx := int(math.Round(x))
	cy := int(math.Round(y))
	b := p.canvas.Rect
	for oy := -strokeWidth / 2; oy < strokeWidth-strokeWidth/2; oy++ {
		for ox := -strokeWidth / 2; ox < strokeWidth-strokeWidth/2; ox++ {
			pt := image.Pt(cx+ox, cy+oy)
			if pt.In(b) {
				p.canvas.SetNRGBA(pt.X, pt.Y, c)
			}
		}
	}
}

func clamp01(v float64) float64 {
	return clampFloat(v, 0, 1)
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func lerp(a, b, t float64) float64 {
	return a*(1-t) + b*t
}
