package chart

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/golang/freetype/raster"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/math/fixed"

	"github.com/roman-kulish/quadcopter-visualizer/internal/window"
)

// Plot draws the traces of a visible slice into area of dst. The x axis is
// the window bounds, the y axis the display range of the instrument; values
// outside the range are clamped to the edge. colors are used in channel
// legend order.
func Plot(dst *image.RGBA, area image.Rectangle, s window.Slice, colors []colorful.Color, style Style) {
	area = area.Intersect(dst.Bounds())
	if area.Dx() < 2 || area.Dy() < 2 {
		return
	}

	draw.Draw(dst, area, image.NewUniform(style.Background), image.Point{}, draw.Src)
	drawGrid(dst, area, s, style)

	if s.Len() == 0 {
		return
	}

	// spans are painted in absolute coordinates, clipped to area
	r := raster.NewRasterizer(dst.Bounds().Max.X, dst.Bounds().Max.Y)
	r.UseNonZeroWinding = true

	clipped := dst.SubImage(area).(*image.RGBA)
	painter := raster.NewRGBAPainter(clipped)

	width := style.LineWidth
	if width <= 0 {
		width = 1
	}

	for i, name := range s.Instrument.ChannelNames() {
		values := s.Channels[name]
		if len(values) == 0 {
			continue
		}

		var path raster.Path
		for j, v := range values {
			pt := toFixed(point(area, s, s.Timestamps[j], v))
			if j == 0 {
				path.Start(pt)
				if len(values) == 1 {
					path.Add1(pt.Add(fixed.Point26_6{X: fixed.I(1)}))
				}
				continue
			}
			path.Add1(pt)
		}

		r.Clear()
		raster.Stroke(r, path, fixed.Int26_6(width*64), raster.RoundCapper, raster.RoundJoiner)

		painter.SetColor(colors[i%len(colors)])
		r.Rasterize(painter)
	}
}

// point maps a sample to pixel coordinates of area.
func point(area image.Rectangle, s window.Slice, ts, v int64) (x, y float64) {
	lo, hi := s.Bounds.Lo, s.Bounds.Hi
	vmin, vmax := s.Instrument.Min, s.Instrument.Max

	v = min(max(v, vmin), vmax)

	x = float64(area.Min.X) + float64(ts-lo)/float64(hi-lo)*float64(area.Dx()-1)
	y = float64(area.Max.Y-1) - float64(v-vmin)/float64(vmax-vmin)*float64(area.Dy()-1)
	return x, y
}

func toFixed(x, y float64) fixed.Point26_6 {
	return fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)}
}

// drawGrid draws the zero line, the quarter lines and the frame of area.
func drawGrid(dst *image.RGBA, area image.Rectangle, s window.Slice, style Style) {
	vmin, vmax := s.Instrument.Min, s.Instrument.Max
	if vmax <= vmin {
		return
	}

	for q := int64(1); q < 4; q++ {
		v := vmin + (vmax-vmin)*q/4
		_, y := point(area, s, s.Bounds.Lo, v)
		hline(dst, area.Min.X, area.Max.X, int(y), style.Grid)
	}
	if vmin < 0 && vmax > 0 {
		_, y := point(area, s, s.Bounds.Lo, 0)
		hline(dst, area.Min.X, area.Max.X, int(y), style.Frame)
	}

	hline(dst, area.Min.X, area.Max.X, area.Min.Y, style.Frame)
	hline(dst, area.Min.X, area.Max.X, area.Max.Y-1, style.Frame)
	vline(dst, area.Min.X, area.Min.Y, area.Max.Y, style.Frame)
	vline(dst, area.Max.X-1, area.Min.Y, area.Max.Y, style.Frame)
}

func hline(dst *image.RGBA, x0, x1, y int, c color.Color) {
	for x := x0; x < x1; x++ {
		dst.Set(x, y, c)
	}
}

func vline(dst *image.RGBA, x, y0, y1 int, c color.Color) {
	for y := y0; y < y1; y++ {
		dst.Set(x, y, c)
	}
}
