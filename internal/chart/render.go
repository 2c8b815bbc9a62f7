package chart

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/roman-kulish/quadcopter-visualizer/internal/window"
)

const (
	dpi            = 72.0
	fontSize       = 13.0
	tickMarkLength = 5
	pixelsPerLabel = 120

	defaultWidth       = 1200
	defaultPanelHeight = 280

	// Default border sizes in pixels
	defaultTopBorder    = 30
	defaultLeftBorder   = 70
	defaultBottomBorder = 30
	defaultRightBorder  = 20
	infoBarHeight       = 30
)

// BorderConfig defines the white space around every plot area
type BorderConfig struct {
	Top    int // Title and legend
	Left   int // Value scale
	Bottom int // Time scale
	Right  int
}

// RenderConfig holds the options of the picture renderer
type RenderConfig struct {
	Width        int     // Picture width in pixels
	PanelHeight  int     // Height of one instrument panel in pixels
	FontSize     float64 // Font size in points
	Style        Style
	BorderConfig BorderConfig
}

// Renderer draws the visible windows of every instrument into a picture
// with titles, legends and scales.
type Renderer struct {
	config RenderConfig
	font   *truetype.Font
}

// NewRenderer creates a new renderer with the given configuration
func NewRenderer(config RenderConfig) (*Renderer, error) {
	if config.Width == 0 {
		config.Width = defaultWidth
	}
	if config.PanelHeight == 0 {
		config.PanelHeight = defaultPanelHeight
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.Style == (Style{}) {
		config.Style = LightStyle
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	b := config.BorderConfig
	if config.Width <= b.Left+b.Right+2 || config.PanelHeight <= b.Top+b.Bottom+2 {
		return nil, fmt.Errorf("picture %dx%d is too small for its borders", config.Width, config.PanelHeight)
	}

	parsedFont, err := freetype.ParseFont(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	return &Renderer{config: config, font: parsedFont}, nil
}

// Render draws one panel per slice, stacked in order, and an info bar.
func (r *Renderer) Render(slices []window.Slice) (*image.RGBA, error) {
	if len(slices) == 0 {
		return nil, fmt.Errorf("nothing to render")
	}

	height := len(slices)*r.config.PanelHeight + infoBarHeight
	img := image.NewRGBA(image.Rect(0, 0, r.config.Width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(r.config.Style.Background), image.Point{}, draw.Src)

	ann := r.newAnnotator(img)
	defer ann.Close()

	b := r.config.BorderConfig
	for i, s := range slices {
		top := i * r.config.PanelHeight
		area := image.Rect(b.Left, top+b.Top, r.config.Width-b.Right, top+r.config.PanelHeight-b.Bottom)
		colors := Palette(len(s.Instrument.Channels))

		Plot(img, area, s, colors, r.config.Style)

		if err := ann.annotate(img, area, s, colors); err != nil {
			return nil, fmt.Errorf("annotating %s: %w", s.Instrument.Name, err)
		}
	}

	if err := ann.drawInfoBar(img, slices); err != nil {
		return nil, fmt.Errorf("drawing info bar: %w", err)
	}

	return img, nil
}

type annotator struct {
	context  *freetype.Context
	fontFace font.Face
	config   RenderConfig
}

func (r *Renderer) newAnnotator(img *image.RGBA) *annotator {
	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(r.font)
	ctx.SetFontSize(r.config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)
	ctx.SetSrc(image.NewUniform(r.config.Style.Frame))

	return &annotator{
		context: ctx,
		config:  r.config,
		fontFace: truetype.NewFace(r.font, &truetype.Options{
			Size:    r.config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, area image.Rectangle, s window.Slice, colors []colorful.Color) error {
	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing title", func() error { return a.drawTitle(area, s, colors) }},
		{"drawing value scale", func() error { return a.drawValueScale(img, area, s) }},
		{"drawing time scale", func() error { return a.drawTimeScale(img, area, s) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}
	return nil
}

func (a *annotator) drawString(text string, x, y int, c color.Color) error {
	a.context.SetSrc(image.NewUniform(c))
	_, err := a.context.DrawString(text, freetype.Pt(x, y))
	return err
}

func (a *annotator) textWidth(text string) int {
	return font.MeasureString(a.fontFace, text).Round()
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

// drawTitle writes "Name, units" above the plot and the coloured channel
// legend right aligned on the same line.
func (a *annotator) drawTitle(area image.Rectangle, s window.Slice, colors []colorful.Color) error {
	y := area.Min.Y - (a.config.BorderConfig.Top-a.fontHeight())/2 - a.fontFace.Metrics().Descent.Round()

	title := s.Instrument.Name
	if s.Instrument.Units != "" {
		title += ", " + s.Instrument.Units
	}
	if err := a.drawString(title, area.Min.X, y, a.config.Style.Frame); err != nil {
		return err
	}

	x := area.Max.X
	names := s.Instrument.ChannelNames()
	for i := len(names) - 1; i >= 0; i-- {
		label := "■ " + names[i]
		x -= a.textWidth(label) + 12
		if err := a.drawString(label, x, y, colors[i%len(colors)]); err != nil {
			return err
		}
	}
	return nil
}

func (a *annotator) drawValueScale(img *image.RGBA, area image.Rectangle, s window.Slice) error {
	vmin, vmax := s.Instrument.Min, s.Instrument.Max
	half := a.fontHeight() / 2

	for q := int64(0); q <= 4; q++ {
		v := vmin + (vmax-vmin)*q/4
		_, fy := point(area, s, s.Bounds.Lo, v)
		y := int(fy)

		hline(img, area.Min.X-tickMarkLength, area.Min.X, y, a.config.Style.Frame)

		label := humanize.Comma(v)
		x := area.Min.X - tickMarkLength - 4 - a.textWidth(label)
		if err := a.drawString(label, x, y+half-a.fontFace.Metrics().Descent.Round(), a.config.Style.Frame); err != nil {
			return err
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, area image.Rectangle, s window.Slice) error {
	lo, hi := s.Bounds.Lo, s.Bounds.Hi
	step := niceTimeStep(hi-lo, area.Dx())
	y := area.Max.Y + tickMarkLength + a.fontHeight()

	first, ok := firstTick(lo, hi, step)
	if !ok {
		return nil
	}

	// counted loop, ts += step would wrap at the end of the time axis
	for i := range (hi-first)/step + 1 {
		ts := first + i*step
		fx, _ := point(area, s, ts, s.Instrument.Min)
		x := int(fx)

		vline(img, x, area.Max.Y, area.Max.Y+tickMarkLength, a.config.Style.Frame)

		label := FormatMillis(ts)
		if err := a.drawString(label, x-a.textWidth(label)/2, y, a.config.Style.Frame); err != nil {
			return err
		}
	}
	return nil
}

// firstTick returns the first multiple of step in [lo, hi].
func firstTick(lo, hi, step int64) (int64, bool) {
	first := lo - lo%step
	if first < lo {
		if first > math.MaxInt64-step {
			return 0, false
		}
		first += step
	}
	return first, first <= hi
}

func (a *annotator) drawInfoBar(img *image.RGBA, slices []window.Slice) error {
	var sb strings.Builder

	samples := 0
	for _, s := range slices {
		samples += s.Len()
	}
	first := slices[0].Bounds

	sb.WriteString(fmt.Sprintf("Window: %s - %s", FormatMillis(first.Lo), FormatMillis(first.Hi)))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Samples: %s", humanize.Comma(int64(samples))))
	sb.WriteString("; ")
	sb.WriteString("Rendered: " + time.Now().Format(time.DateTime))

	metrics := a.fontFace.Metrics()
	y := img.Bounds().Max.Y - (infoBarHeight-a.fontHeight())/2 - metrics.Descent.Round()

	return a.drawString(sb.String(), a.config.BorderConfig.Left, y, a.config.Style.Frame)
}

// niceTimeStep picks the label step in milliseconds for a time range drawn
// over width pixels.
func niceTimeStep(rangeMs int64, width int) int64 {
	steps := []int64{
		100, 250, 500,
		1_000, 2_000, 5_000, 10_000, 15_000, 30_000,
		60_000, 120_000, 300_000, 600_000, 1_800_000, 3_600_000,
	}

	desired := max(int64(width/pixelsPerLabel), 1)
	target := rangeMs / desired

	for _, step := range steps {
		if step >= target {
			return step
		}
	}
	return steps[len(steps)-1]
}

// FormatMillis formats a stream timestamp for axis labels.
func FormatMillis(ms int64) string {
	if ms > math.MaxInt64/int64(time.Millisecond) || ms < math.MinInt64/int64(time.Millisecond) {
		return humanize.Comma(ms/1000) + "s"
	}
	d := time.Duration(ms) * time.Millisecond
	if d%time.Second != 0 {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.String()
}

// Export encodes img to w. The format follows the file name extension:
// png, or jpeg for .jpg and .jpeg.
func Export(w io.Writer, name string, img image.Image) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case ".png", "":
		return png.Encode(w, img)
	default:
		return fmt.Errorf("unsupported picture format %q", filepath.Ext(name))
	}
}
