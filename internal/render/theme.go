package render

import (
	"fmt"
	"image/color"
	"sort"
	"strings"

	"github.com/guidoenr/scopekit/internal/chroma"
)

// Theme is a bar gradient, a waveform stroke and a background.
// Stops run from the bottom of the canvas to the top.
type Theme struct {
	Name       string
	Stops      []color.NRGBA
	Stroke     color.NRGBA
	Background color.NRGBA
}

const fallbackTheme = "midnight"

var (
	defaultBackground = mustHex("#09090b")
	gridColor         = mustHex("#333333")
	labelColor        = mustHex("#555555")
)

var themeRegistry = map[string]Theme{
	"cyberpunk": {
		Name:       "cyberpunk",
		Stops:      []color.NRGBA{mustHex("#a855f7"), mustHex("#ec4899"), mustHex("#22d3ee")},
		Stroke:     mustHex("#22d3ee"),
		Background: defaultBackground,
	},
	"retro": {
		Name:       "retro",
		Stops:      []color.NRGBA{mustHex("#f59e0b"), mustHex("#ef4444")},
		Stroke:     mustHex("#f59e0b"),
		Background: defaultBackground,
	},
	"midnight": {
		Name:       "midnight",
		Stops:      []color.NRGBA{mustHex("#1e40af"), mustHex("#60a5fa")},
		Stroke:     mustHex("#60a5fa"),
		Background: mustHex("#0f172a"),
	},
}

// ThemeNames returns the available theme identifiers.
func ThemeNames() []string {
	names := make([]string, 0, len(themeRegistry))
	for name := range themeRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupTheme finds a theme by name, ignoring case.
func LookupTheme(name string) (Theme, error) {
	t, ok := themeRegistry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Theme{}, fmt.Errorf("unknown theme %q (have %s)", name, strings.Join(ThemeNames(), ", "))
	}
	return t, nil
}

// NextTheme returns the theme after current in name order.
func NextTheme(current string) string {
	names := ThemeNames()
	for i, name := range names {
		if strings.EqualFold(name, current) {
			return names[(i+1)%len(names)]
		}
	}
	return names[0]
}

func themeOrFallback(name string) Theme {
	if t, err := LookupTheme(name); err == nil {
		return t
	}
	return themeRegistry[fallbackTheme]
}

// At samples the gradient at f, where 0 is the bottom stop and 1 the top.
func (t Theme) At(f float64) color.NRGBA {
	switch len(t.Stops) {
	case 0:
		return t.Stroke
	case 1:
		return t.Stops[0]
	}
	f = clamp01(f)
	span := f * float64(len(t.Stops)-1)
	i := int(span)
	if i >= len(t.Stops)-1 {
		return t.Stops[len(t.Stops)-1]
	}
	return lerpColor(t.Stops[i], t.Stops[i+1], span-float64(i))
}

func lerpColor(a, b color.NRGBA, f float64) color.NRGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(clampFloat(lerp(float64(x), float64(y), f)+0.5, 0, 255))
	}
	return color.NRGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}

func mustHex(s string) color.NRGBA {
	c, err := chroma.ParseHexColor(s)
	if err != nil {
		panic(err)
	}
	return c
}
