package render

var (
	defaultPalette = []rune(" .:-=+*#%@")
	boxPalette     = []rune(" ░▒▓█")
	sparkPalette   = []rune(" ·•oO@█")
)

// Palette returns the glyph ramp used when the terminal has no color.
func Palette(name string) []rune {
	switch name {
	case "box":
		return boxPalette
	case "spark":
		return sparkPalette
	default:
		return defaultPalette
	}
}

// PaletteNames returns all palette identifiers.
func PaletteNames() []string {
	return []string{"default", "box", "spark"}
}
