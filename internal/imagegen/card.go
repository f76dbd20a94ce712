package imagegen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/models"
)

// CardWidth and CardHeight are the standard Open Graph image dimensions.
const (
	CardWidth  = 1200
	CardHeight = 630
)

const (
	margin = 60

	scaleHeading   = 3
	scaleValue     = 9
	scaleStatement = 4
	scaleFooter    = 2
)

var (
	white     = color.RGBA{255, 255, 255, 255}
	lightGray = color.RGBA{215, 215, 220, 255}
)

// palette is the top and bottom colour of a card's background.
type palette struct {
	top, bottom color.RGBA
}

var neutralPalette = palette{color.RGBA{52, 58, 72, 255}, color.RGBA{20, 22, 30, 255}}

// hues are the fully saturated colours per direction; milder severities are
// blended toward the neutral palette.
var hues = map[climate.Direction]palette{
	climate.DirectionWarm: {color.RGBA{214, 64, 32, 255}, color.RGBA{96, 16, 8, 255}},
	climate.DirectionCold: {color.RGBA{40, 110, 214, 255}, color.RGBA{8, 28, 92, 255}},
	climate.DirectionWet:  {color.RGBA{24, 150, 150, 255}, color.RGBA{4, 58, 64, 255}},
	climate.DirectionDry:  {color.RGBA{186, 132, 52, 255}, color.RGBA{80, 48, 12, 255}},
}

func intensity(s climate.Severity) float64 {
	switch s {
	case climate.SeverityExtreme:
		return 1
	case climate.SeverityUnusual:
		return 0.7
	case climate.SeverityABit:
		return 0.4
	}
	return 0
}

func blend(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 { return uint8(float64(x)*(1-t) + float64(y)*t) }
	return color.RGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 255}
}

func paletteFor(in models.Insight) palette {
	sev, err := climate.ParseSeverity(in.Severity)
	if err != nil {
		return neutralPalette
	}
	dir, err := climate.ParseDirection(in.Direction)
	if err != nil {
		return neutralPalette
	}
	hue, ok := hues[dir]
	if !ok {
		return neutralPalette
	}
	t := intensity(sev)
	return palette{
		top:    blend(neutralPalette.top, hue.top, t),
		bottom: blend(neutralPalette.bottom, hue.bottom, t),
	}
}

// RenderInsightCard draws a shareable PNG summarising an insight.
func RenderInsightCard(in models.Insight) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, CardWidth, CardHeight))
	drawGradient(img, paletteFor(in))

	heading := fmt.Sprintf("%s  |  %d-day %s to %s", in.StationID, in.WindowDays, metricLabel(in.Metric), in.EndDate.Format(models.DateLayout))
	drawText(img, heading, margin, margin, scaleHeading, lightGray)

	drawText(img, formatValue(in), margin, 130, scaleValue, white)
	if in.Percentile != nil {
		pct := fmt.Sprintf("%.0fth percentile", *in.Percentile)
		drawText(img, pct, margin+textWidth(formatValue(in), scaleValue)+40, 130+(scaleValue-scaleHeading)*13, scaleHeading, lightGray)
	}

	y := 280
	for _, line := range wrap(in.PrimaryStatement, maxChars(scaleStatement)) {
		if y > CardHeight-140 {
			break
		}
		drawText(img, line, margin, y, scaleStatement, white)
		y += 13*scaleStatement + 12
	}
	for _, line := range wrap(in.SupportingLine, maxChars(scaleFooter)) {
		if y > CardHeight-80 {
			break
		}
		drawText(img, line, margin, y+8, scaleFooter, lightGray)
		y += 13*scaleFooter + 8
	}

	footer := fmt.Sprintf("%d years of records since %d", in.DataQuality.CoverageYears, in.DataQuality.FirstYear)
	drawText(img, footer, margin, CardHeight-margin-13*scaleFooter, scaleFooter, lightGray)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode insight card: %w", err)
	}
	return buf.Bytes(), nil
}

func metricLabel(metric string) string {
	switch climate.Metric(metric) {
	case climate.MetricTmax:
		return "max temp"
	case climate.MetricTmin:
		return "min temp"
	case climate.MetricPrcp:
		return "rainfall"
	}
	return "mean temp"
}

func formatValue(in models.Insight) string {
	if climate.Metric(in.Metric).IsPrecipitation() {
		return fmt.Sprintf("%.1f mm", in.Value)
	}
	return fmt.Sprintf("%.1f°C", in.Value)
}

// drawGradient fills img with a vertical gradient, eased toward the bottom.
func drawGradient(img *image.RGBA, p palette) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		progress := float64(y-b.Min.Y) / float64(b.Dy())
		c := blend(p.top, p.bottom, progress*progress)
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func textWidth(text string, scale int) int {
	return font.MeasureString(basicfont.Face7x13, text).Round() * scale
}

func maxChars(scale int) int {
	return (CardWidth - 2*margin) / (basicfont.Face7x13.Advance * scale)
}

// drawText renders text at 1x then scales it up so the bitmap font stays crisp.
// (x, y) is the top-left corner of the scaled text.
func drawText(dst *image.RGBA, text string, x, y, scale int, col color.Color) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Round()
	if w == 0 {
		return
	}
	src := image.NewRGBA(image.Rect(0, 0, w, face.Height))
	d := &font.Drawer{
		Dst:  src,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(text)

	r := image.Rect(x, y, x+w*scale, y+face.Height*scale)
	draw.NearestNeighbor.Scale(dst, r, src, src.Bounds(), draw.Over, nil)
}

// wrap splits s into lines of at most width characters on word boundaries.
func wrap(s string, width int) []string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(s) {
		if line.Len() > 0 && line.Len()+1+len(word) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}
