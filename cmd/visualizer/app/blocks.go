package app

import (
	"image"
	"image/color"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

const upperHalfBlock = "▀"

// renderBlocks draws img as terminal text, two pixel rows per line. Each
// cell is an upper half block coloured with the top pixel and backed by the
// bottom one. Runs of identical cells share one style.
func renderBlocks(img *image.RGBA) string {
	b := img.Bounds()

	var sb strings.Builder
	for y := b.Min.Y; y < b.Max.Y; y += 2 {
		if y > b.Min.Y {
			sb.WriteByte('\n')
		}

		var (
			run    int
			fg, bg string
		)
		flush := func() {
			if run == 0 {
				return
			}
			style := lipgloss.NewStyle().
				Foreground(lipgloss.Color(fg)).
				Background(lipgloss.Color(bg))
			sb.WriteString(style.Render(strings.Repeat(upperHalfBlock, run)))
			run = 0
		}

		for x := b.Min.X; x < b.Max.X; x++ {
			top := hexOf(img.At(x, y))
			bottom := top
			if y+1 < b.Max.Y {
				bottom = hexOf(img.At(x, y+1))
			}

			if run > 0 && (top != fg || bottom != bg) {
				flush()
			}
			fg, bg = top, bottom
			run++
		}
		flush()
	}
	return sb.String()
}

func hexOf(c color.Color) string {
	cf, _ := colorful.MakeColor(c)
	return cf.Hex()
}
