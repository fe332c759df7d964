package chroma

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"
)

const (
	// MaxDistance is the length of the RGB cube diagonal.
	MaxDistance = 441.6729559300637

	DefaultTolerance = 100.0
	MinUITolerance   = 1.0
	MaxUITolerance   = 250.0
)

var (
	ErrInvalidColor   = errors.New("invalid hex color")
	ErrToleranceRange = errors.New("tolerance out of range")
)

// Settings is the live chroma key configuration. Changes apply to the next
// processed frame.
type Settings struct {
	Key       color.NRGBA
	Tolerance float64
}

// DefaultSettings keys pure green with a tolerance of 100.
func DefaultSettings() Settings {
	return Settings{
		Key:       color.NRGBA{R: 0, G: 255, B: 0, A: 255},
		Tolerance: DefaultTolerance,
	}
}

// Validate checks the tolerance lies within the distance range of the RGB cube.
func (s Settings) Validate() error {
	if s.Tolerance < 0 || s.Tolerance > MaxDistance || math.IsNaN(s.Tolerance) {
		return fmt.Errorf("%w: %.1f not in [0, %.1f]", ErrToleranceRange, s.Tolerance, MaxDistance)
	}
	return nil
}

// ParseHexColor parses "#rrggbb" or "rrggbb", case-insensitive.
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// FormatHexColor renders c as "#rrggbb".
func FormatHexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Distance is the Euclidean distance between (r,g,b) and the key color.
func Distance(r, g, b uint8, key color.NRGBA) float64 {
	dr := float64(r) - float64(key.R)
	dg := float64(g) - float64(key.G)
	db := float64(b) - float64(key.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// Keyed reports whether a pixel falls inside the key. The comparison is
// against the unsquared distance.
func Keyed(r, g, b uint8, s Settings) bool {
	return Distance(r, g, b, s.Key) < s.Tolerance
}

// Apply clears the alpha of every pixel of img within tolerance of the key
// and returns how many pixels were cleared. Pixels outside the key are left
// as they are.
func Apply(img *image.NRGBA, s Settings) int {
	if img == nil {
		return 0
	}
	bounds := img.Rect
	height := bounds.Dy()
	width := bounds.Dx()
	if width <= 0 || height <= 0 {
		return 0
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > height {
		numWorkers = height
	}
	if width*height < 64*64 {
		numWorkers = 1
	}

	var (
		wg    sync.WaitGroup
		keyed atomic.Int64
	)
	rowJobs := make(chan int, numWorkers)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count := 0
			for y := range rowJobs {
				row := img.Pix[img.PixOffset(bounds.Min.X, y):]
				for x := 0; x < width; x++ {
					px := row[x*4 : x*4+4 : x*4+4]
					if Keyed(px[0], px[1], px[2], s) {
						px[3] = 0
						count++
					}
				}
			}
			keyed.Add(int64(count))
		}()
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		rowJobs <- y
	}
	close(rowJobs)
	wg.Wait()

	return int(keyed.Load())
}

// Keyer draws source frames into a canvas sized to the source and keys them.
// The canvas is reused between frames, so callers that keep a frame past the
// next ProcessFrame must copy it.
type Keyer struct {
	canvas *image.NRGBA
}

// ProcessFrame draws src and applies s. It returns nil for an empty frame.
func (k *Keyer) ProcessFrame(src image.Image, s Settings) (*image.NRGBA, int) {
	if src == nil {
		return nil, 0
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, 0
	}
	if k.canvas == nil || k.canvas.Rect.Dx() != b.Dx() || k.canvas.Rect.Dy() != b.Dy() {
		k.canvas = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	}
	draw.Draw(k.canvas, k.canvas.Rect, src, b.Min, draw.Src)
	return k.canvas, Apply(k.canvas, s)
}

// Active reports whether the keyer holds a canvas.
func (k *Keyer) Active() bool { return k.canvas != nil }

// Release drops the canvas.
func (k *Keyer) Release() { k.canvas = nil }
