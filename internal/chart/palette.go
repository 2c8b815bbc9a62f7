package chart

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	paletteSaturation = 0.85
	paletteValue      = 0.95
	goldenAngle       = 137.507764
)

// Palette returns n distinct channel colours. The first three are the red,
// green and blue of the instrument legends.
func Palette(n int) []colorful.Color {
	colors := make([]colorful.Color, n)
	for i := range n {
		hue := float64(i) * 120
		if i >= 3 {
			hue = math.Mod(60+float64(i-3)*goldenAngle, 360)
		}
		colors[i] = colorful.Hsv(hue, paletteSaturation, paletteValue)
	}
	return colors
}

// Style holds the colours of a plot area
type Style struct {
	Background color.Color
	Grid       color.Color
	Frame      color.Color
	LineWidth  float64 // Trace width in pixels
}

// DarkStyle suits terminals
var DarkStyle = Style{
	Background: color.RGBA{R: 0x12, G: 0x12, B: 0x12, A: 0xff},
	Grid:       color.RGBA{R: 0x3a, G: 0x3a, B: 0x3a, A: 0xff},
	Frame:      color.RGBA{R: 0x60, G: 0x60, B: 0x60, A: 0xff},
	LineWidth:  1,
}

// LightStyle suits exported pictures
var LightStyle = Style{
	Background: color.White,
	Grid:       color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff},
	Frame:      color.Black,
	LineWidth:  1.5,
}
