package render

import (
	"bufio"
	"image"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

const halfBlock = '▀'

const resetANSI = "\x1b[0m"

var (
	precomputed   [256]string
	precomputedBG [256]string
)

func init() {
	for i := range precomputed {
		precomputed[i] = "\x1b[38;5;" + strconv.Itoa(i) + "m"
		precomputedBG[i] = "\x1b[48;5;" + strconv.Itoa(i) + "m"
	}
}

// TerminalConfig configures a Terminal sink.
type TerminalConfig struct {
	Out        io.Writer
	Cols       int
	Rows       int
	UseANSI    bool
	Palette    string
	ShowStatus bool
}

// Terminal presents canvases as text. With ANSI enabled each cell is an upper
// half block whose foreground and background carry two pixel rows; without it
// each cell is a glyph picked by brightness.
type Terminal struct {
	out        *bufio.Writer
	cols       int
	rows       int
	useANSI    bool
	palette    []rune
	showStatus bool
	scratch    *image.NRGBA
	lines      []string
}

// NewTerminal creates a sink; Cols and Rows default to 80x24.
func NewTerminal(cfg TerminalConfig) *Terminal {
	t := &Terminal{
		out:        bufio.NewWriter(cfg.Out),
		useANSI:    cfg.UseANSI,
		palette:    Palette(cfg.Palette),
		showStatus: cfg.ShowStatus,
	}
	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	t.Resize(cols, rows)
	return t
}

// Resize updates the character grid. Non-positive values are ignored.
func (t *Terminal) Resize(cols, rows int) {
	if cols > 0 {
		t.cols = cols
	}
	if rows > 0 {
		t.rows = rows
	}
}

// Size returns the character grid.
func (t *Terminal) Size() (int, int) { return t.cols, t.rows }

// PixelSize is the canvas size that maps one-to-one onto the grid.
func (t *Terminal) PixelSize() (int, int) {
	h := t.renderRows()
	if t.useANSI {
		h *= 2
	}
	return t.cols, h
}

func (t *Terminal) renderRows() int {
	rows := t.rows
	if t.showStatus && rows > 1 {
		rows--
	}
	return rows
}

// Lines converts img to one string per terminal row.
func (t *Terminal) Lines(img image.Image) []string {
	cols := t.cols
	rows := t.renderRows()
	pw, ph := t.PixelSize()
	if t.scratch == nil || t.scratch.Rect.Dx() != pw || t.scratch.Rect.Dy() != ph {
		t.scratch = image.NewNRGBA(image.Rect(0, 0, pw, ph))
	}
	draw.NearestNeighbor.Scale(t.scratch, t.scratch.Rect, img, img.Bounds(), draw.Src, nil)

	if cap(t.lines) < rows {
		t.lines = make([]string, rows)
	}
	lines := t.lines[:rows]

	var b strings.Builder
	for row := 0; row < rows; row++ {
		b.Reset()
		b.Grow(cols * 16)
		lastFG, lastBG := -1, -1
		for x := 0; x < cols; x++ {
			if !t.useANSI {
				b.WriteRune(t.glyph(t.scratch.NRGBAAt(x, row)))
				continue
			}
			fg := ansiIndex(t.scratch.NRGBAAt(x, row*2))
			bg := ansiIndex(t.scratch.NRGBAAt(x, row*2+1))
			if fg != lastFG {
				b.WriteString(colorCode(fg))
				lastFG = fg
			}
			if bg != lastBG {
				b.WriteString(backgroundCode(bg))
				lastBG = bg
			}
			b.WriteRune(halfBlock)
		}
		if t.useANSI {
			b.WriteString(resetANSI)
		}
		lines[row] = b.String()
	}
	return lines
}

// Present redraws the screen from the home position.
func (t *Terminal) Present(img image.Image, status string) error {
	t.out.WriteString("\x1b[H")
	for _, line := range t.Lines(img) {
		t.out.WriteString(line)
		t.out.WriteString("\r\n")
	}
	if t.showStatus {
		t.out.WriteString(statusBar(status, t.cols))
	}
	return t.out.Flush()
}

// Enter switches to the alternate screen and hides the cursor.
func (t *Terminal) Enter() error {
	t.out.WriteString("\x1b[?1049h\x1b[2J\x1b[H\x1b[?25l")
	return t.out.Flush()
}

// Leave restores the cursor and the primary screen.
func (t *Terminal) Leave() error {
	t.out.WriteString("\x1b[?25h\x1b[?1049l\x1b[0m")
	return t.out.Flush()
}

func (t *Terminal) glyph(c color.NRGBA) rune {
	r, g, b := flatten(c)
	lum := 0.2126*r + 0.7152*g + 0.0722*b
	idx := int(lum*float64(len(t.palette)-1) + 0.5)
	return t.palette[clampInt(idx, 0, len(t.palette)-1)]
}

// flatten composites c over black and returns components in [0, 1].
func flatten(c color.NRGBA) (float64, float64, float64) {
	a := float64(c.A) / 255
	return float64(c.R) / 255 * a, float64(c.G) / 255 * a, float64(c.B) / 255 * a
}

func ansiIndex(c color.NRGBA) int {
	return rgbToANSI(flatten(c))
}

func colorCode(index int) string {
	return precomputed[clampInt(index, 0, len(precomputed)-1)]
}

func backgroundCode(index int) string {
	return precomputedBG[clampInt(index, 0, len(precomputedBG)-1)]
}

func rgbToANSI(r, g, b float64) int {
	r = clamp01(r)
	g = clamp01(g)
	b = clamp01(b)

	// Grayscale ramp for near-neutral colors
	if math.Abs(r-g) < 0.02 && math.Abs(g-b) < 0.02 {
		gray := int(clampFloat(math.Round(r*23), 0, 23))
		return 232 + gray
	}

	ri := int(clampFloat(r*5+0.5, 0, 5))
	gi := int(clampFloat(g*5+0.5, 0, 5))
	bi := int(clampFloat(b*5+0.5, 0, 5))

	return 16 + 36*ri + 6*gi + bi
}

func statusBar(text string, width int) string {
	if width <= 0 {
		return text
	}
	if len(text) >= width {
		return text[:width]
	}
	return text + strings.Repeat(" ", width-len(text))
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
