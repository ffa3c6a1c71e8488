package ui

import (
	"image/color"
	"strconv"
)

// Theme colors - these are variables so they can be modified for dark mode
var (
	colWhite     = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	colBlack     = color.NRGBA{R: 0, G: 0, B: 0, A: 255}
	colGray      = color.NRGBA{R: 100, G: 100, B: 100, A: 255}
	colLightGray = color.NRGBA{R: 200, G: 200, B: 200, A: 255}
	colDirBlue   = color.NRGBA{R: 0, G: 0, B: 128, A: 255}
	colStrip     = color.NRGBA{R: 245, G: 245, B: 245, A: 255}
	colDisabled  = color.NRGBA{R: 150, G: 150, B: 150, A: 255}
	colAccent    = color.NRGBA{R: 66, G: 133, B: 244, A: 255}
	colDanger    = color.NRGBA{R: 220, G: 53, B: 69, A: 255}
)

// DarkTheme switches the palette to the built-in dark scheme.
func DarkTheme() {
	colWhite = color.NRGBA{R: 40, G: 40, B: 46, A: 255}
	colBlack = color.NRGBA{R: 230, G: 230, B: 230, A: 255}
	colGray = color.NRGBA{R: 160, G: 160, B: 160, A: 255}
	colLightGray = color.NRGBA{R: 70, G: 70, B: 78, A: 255}
	colDirBlue = color.NRGBA{R: 120, G: 170, B: 255, A: 255}
	colStrip = color.NRGBA{R: 28, G: 28, B: 32, A: 255}
	colDisabled = color.NRGBA{R: 90, G: 90, B: 96, A: 255}
}

// ApplyTheme overrides palette slots from a stored theme's color map. Keys
// match the slot names persisted by the theme store; unknown keys and
// unparseable values are ignored.
func ApplyTheme(colors map[string]string) {
	slots := map[string]*color.NRGBA{
		"background": &colWhite,
		"foreground": &colBlack,
		"muted":      &colGray,
		"border":     &colLightGray,
		"directory":  &colDirBlue,
		"strip":      &colStrip,
		"disabled":   &colDisabled,
		"accent":     &colAccent,
		"danger":     &colDanger,
	}
	for key, val := range colors {
		slot, ok := slots[key]
		if !ok {
			continue
		}
		if c, ok := parseHexColor(val); ok {
			*slot = c
		}
	}
}

// parseHexColor parses "#rrggbb" or "#rrggbbaa".
func parseHexColor(s string) (color.NRGBA, bool) {
	if len(s) == 0 || s[0] != '#' {
		return color.NRGBA{}, false
	}
	hex := s[1:]
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return color.NRGBA{}, false
	}
	c := color.NRGBA{A: 255}
	if len(hex) == 8 {
		c.A = uint8(v)
		v >>= 8
	}
	c.B = uint8(v)
	c.G = uint8(v >> 8)
	c.R = uint8(v >> 16)
	return c, true
}
